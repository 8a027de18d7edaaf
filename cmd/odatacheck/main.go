package main

import (
	"odatacheck/internal/cli"
	_ "odatacheck/internal/fetcher/providers"
	_ "odatacheck/internal/rules/checks"
)

// These variables are populated by the build via -ldflags.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cli.SetBuildInfo(version, commit, date)
	cli.Execute()
}
