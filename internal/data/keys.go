package data

// DependencyKey names a shared service document that rules read instead of
// fetching it themselves.
type DependencyKey string

// DependencyRequest is a planned fetch of one document. Params select a
// variant of the document and are part of the cache key.
type DependencyRequest struct {
	Key    DependencyKey
	Params map[string]string
}

const (
	// DepServiceRoot is the parsed service document (models.ServiceDocument)
	// fetched from the service root.
	DepServiceRoot DependencyKey = "service.root"

	// DepServiceMetadata is the parsed CSDL document (models.Metadata)
	// fetched from $metadata, including capability annotations.
	DepServiceMetadata DependencyKey = "service.metadata"

	// DepServiceVersion is the OData version (string) the service reports in
	// the OData-Version header of its service document.
	DepServiceVersion DependencyKey = "service.version"
)

// Priority returns the fetch priority for a dependency key (lower is higher priority).
func Priority(key DependencyKey) int {
	switch key {
	case DepServiceRoot, DepServiceVersion:
		return 0
	case DepServiceMetadata:
		return 1
	default:
		return 2
	}
}

// Implicit reports whether every rule may read key without declaring it.
// The negotiated version is resolved during discovery for every service.
func Implicit(key DependencyKey) bool {
	return key == DepServiceVersion
}
