package main

import (
	"github.com/spf13/cobra"

	"github.com/cwygoda/batchpress/internal/config"
)

// flagValues holds command line overrides of the configuration.
type flagValues struct {
	configPath string
	port       int
	workers    int
	tempDir    string
	dbDriver   string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	var flags flagValues

	root := &cobra.Command{
		Use:           "batchpress",
		Short:         "Compress uploaded media batches and publish them as posts",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, &flags)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "path to config file (TOML or YAML)")
	pf.IntVarP(&flags.port, "port", "p", 0, "HTTP listen port")
	pf.IntVarP(&flags.workers, "workers", "w", 0, "number of compression workers (default GOMAXPROCS-1)")
	pf.StringVar(&flags.tempDir, "temp-dir", "", "directory for uploads in progress")
	pf.StringVar(&flags.dbDriver, "db-driver", "", "database driver: sqlite or postgres")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&flags.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(newServeCmd(&flags))
	root.AddCommand(newMigrateCmd(&flags))
	return root
}

func newServeCmd(flags *flagValues) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the worker pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func newMigrateCmd(flags *flagValues) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			return runMigrate(cmd.Context(), cfg)
		},
	}
}

// loadConfig loads the configuration and applies the flags that were set
// explicitly.
func loadConfig(cmd *cobra.Command, flags *flagValues) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}

	fs := cmd.Flags()
	if fs.Changed("port") {
		cfg.Server.Port = flags.port
	}
	if fs.Changed("workers") {
		cfg.Workers = flags.workers
	}
	if fs.Changed("temp-dir") {
		cfg.TempDir = config.ExpandPath(flags.tempDir)
	}
	if fs.Changed("db-driver") {
		cfg.Database.Driver = flags.dbDriver
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = flags.logLevel
	}
	if fs.Changed("log-format") {
		cfg.Log.Format = flags.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
