package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"odatacheck/internal/odata"
)

var versionJSON bool

type versionInfo struct {
	Version       string   `json:"version"`
	Commit        string   `json:"commit"`
	Built         string   `json:"built"`
	Go            string   `json:"go"`
	ODataVersions []string `json:"odata_versions"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printVersion(cmd.OutOrStdout(), versionJSON)
	},
}

func printVersion(w io.Writer, asJSON bool) error {
	v, commit, built := BuildInfo()
	info := versionInfo{
		Version:       v,
		Commit:        commit,
		Built:         built,
		Go:            runtime.Version(),
		ODataVersions: []string{odata.Version40, odata.Version401},
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	_, err := fmt.Fprintf(w, "odatacheck %s (commit %s, built %s, %s)\nOData versions: %s, %s\n",
		info.Version, info.Commit, info.Built, info.Go, info.ODataVersions[0], info.ODataVersions[1])
	return err
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "Print version information as JSON")
	rootCmd.AddCommand(versionCmd)
}
