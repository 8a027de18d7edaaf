package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"odatacheck/internal/config"
	"odatacheck/internal/flags"
	"odatacheck/internal/logging"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

var (
	cfg        = config.New()
	configPath string
	logger     = zerolog.Nop()
)

var rootCmd = &cobra.Command{
	Use:   "odatacheck",
	Short: "Validate OData v4 services against the protocol's conformance rules",
	Long: `odatacheck probes OData v4 services over HTTP and reports which conformance
rules they satisfy.

It is read-mostly: probes are the GET, POST and $batch requests the rules
need, and nothing is written back to the service beyond what a rule's probe
sends.

Examples:
	# Show available commands and global flags
	odatacheck --help

	# Validate a service
	odatacheck validate --service https://services.odata.org/TripPinRESTierService/

	# List rules
	odatacheck rules list

	# Run the job API
	odatacheck serve --listen 127.0.0.1:8080

	# Print build info
	odatacheck version

Output:
	By default, commands write human-readable output to stdout and diagnostics to stderr.
	Some commands support structured output via emitter flags (see each command's --help).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			if err := applyConfigFile(cmd.Flags(), cfg, configPath); err != nil {
				return err
			}
		}
		l, err := logging.Setup(logging.Options{
			Level:   cfg.Runtime.LogLevel,
			JSON:    cfg.Runtime.LogFormat == "json",
			Verbose: cfg.Runtime.Verbose,
			Out:     cmd.ErrOrStderr(),
		})
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, flags.FlagConfig, "", "YAML config file; flags given on the command line override its values")
	rootCmd.PersistentFlags().BoolVar(&cfg.Runtime.Verbose, flags.FlagVerbose, false, "Enable verbose logging (prints every probe and full error details)")
	rootCmd.PersistentFlags().StringVar(&cfg.Runtime.LogLevel, flags.FlagLogLevel, cfg.Runtime.LogLevel, "Log level: trace|debug|info|warn|error (default: info, or $"+logging.LevelEnv+")")
	rootCmd.PersistentFlags().StringVar(&cfg.Runtime.LogFormat, flags.FlagLogFormat, cfg.Runtime.LogFormat, "Log format on stderr: console|json")
}

// applyConfigFile loads path onto c, then restores every flag that was set
// explicitly so the command line wins over the file.
func applyConfigFile(fs *pflag.FlagSet, c *config.Config, path string) error {
	type setFlag struct {
		flag  *pflag.Flag
		value string
		slice []string
	}
	var explicit []setFlag
	fs.Visit(func(f *pflag.Flag) {
		if f.Name == flags.FlagConfig {
			return
		}
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			explicit = append(explicit, setFlag{flag: f, slice: sv.GetSlice()})
			return
		}
		explicit = append(explicit, setFlag{flag: f, value: f.Value.String()})
	})

	if err := config.LoadFile(path, c); err != nil {
		return err
	}

	for _, s := range explicit {
		if sv, ok := s.flag.Value.(pflag.SliceValue); ok {
			if err := sv.Replace(s.slice); err != nil {
				return fmt.Errorf("restore --%s: %w", s.flag.Name, err)
			}
			continue
		}
		if err := s.flag.Value.Set(s.value); err != nil {
			return fmt.Errorf("restore --%s: %w", s.flag.Name, err)
		}
	}
	return nil
}

func SetBuildInfo(version, commit, date string) {
	if version != "" {
		buildVersion = version
	}
	if commit != "" {
		buildCommit = commit
	}
	if date != "" {
		buildDate = date
	}

	rootCmd.Version = fmt.Sprintf("%s (%s) %s", buildVersion, buildCommit, buildDate)
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

func BuildInfo() (version, commit, date string) {
	return buildVersion, buildCommit, buildDate
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(3)
	}
}
