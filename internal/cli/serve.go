package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"odatacheck/internal/flags"
	"odatacheck/internal/server"
	"odatacheck/internal/store"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the validation job API",
	Long: `Run an HTTP API that validates services as background jobs.

Endpoints:
	POST /v1/jobs               submit a job: {"services": [...], "rules": "...", ...}
	GET  /v1/jobs/{id}          job status and exit code
	GET  /v1/jobs/{id}/results  rule results recorded for the job
	GET  /v1/rules              registered rules
	GET  /healthz               liveness (and store reachability)
	GET  /metrics               Prometheus metrics

Jobs are kept in memory unless --store-dsn points at PostgreSQL. Runtime and
auth flags set the defaults every job runs with.

Examples:
  odatacheck serve --listen 127.0.0.1:8080
  odatacheck serve --store-dsn "postgres://odatacheck@localhost/odatacheck?sslmode=disable"
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		opts := server.Options{
			Addr:   serveListen,
			Base:   cfg,
			Logger: logger,
		}
		if cfg.Store.DSN != "" {
			st, err := store.Open(ctx, cfg.Store.DSN)
			if err != nil {
				return fmt.Errorf("open job store: %w", err)
			}
			defer func() { _ = st.Close() }()
			opts.Store = st
		}
		return server.New(opts).ListenAndServe(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	fs := serveCmd.Flags()
	fs.StringVar(&serveListen, flags.FlagListen, "127.0.0.1:8080", "Address to listen on")
	fs.StringVar(&cfg.Store.DSN, flags.FlagStoreDSN, "", "PostgreSQL DSN for jobs and results (default: in memory)")
	fs.StringSliceVar(&cfg.Rules.Catalogs, flags.FlagCatalog, nil, "YAML file declaring extra composite rules for every job (repeatable)")
	fs.StringVar(&cfg.Rules.Evidence, flags.FlagEvidence, cfg.Rules.Evidence, "Evidence kept per probe: minimal|standard|full")
	addRuntimeFlags(fs, cfg)
	addAuthFlags(fs, cfg)
}
