package checks

import (
	_ "embed"

	"odatacheck/internal/rules"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Catalog returns the built-in composite and skipped rules.
func Catalog() ([]rules.Rule, error) {
	return rules.ParseCatalog(catalogYAML)
}

func init() {
	built, err := Catalog()
	if err != nil {
		panic(err)
	}
	for _, r := range built {
		rules.Register(r)
	}
}
