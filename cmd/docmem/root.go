package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scrypster/docmem/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfg    *config.Config
	logger *slog.Logger

	dataPath      string
	policyPath    string
	storageEngine string
	logLevel      string
	logFormat     string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "docmem",
	Short: "Policy-governed document memory for conversational assistants",
	Long: `docmem stores per-user JSON documents behind policy bindings,
applies patches with optimistic concurrency, assembles budgeted context
and keeps an event digest log with retention and erasure.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadConfig()
		if err != nil {
			return err
		}
		applyFlags(cmd, loaded)
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid configuration:\n%w", err)
		}
		cfg = loaded
		logger = newLogger(cfg.Log)
		slog.SetDefault(logger)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&dataPath, "data", "", "data directory (overrides DOCMEM_DATA_PATH)")
	flags.StringVar(&policyPath, "policies", "", "policy registry file (overrides DOCMEM_POLICY_PATH)")
	flags.StringVar(&storageEngine, "storage", "", "storage engine: filesystem or sqlite (overrides DOCMEM_STORAGE_ENGINE)")
	flags.StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides DOCMEM_LOG_LEVEL)")
	flags.StringVar(&logFormat, "log-format", "", "text or json (overrides DOCMEM_LOG_FORMAT)")
}

// applyFlags lets explicitly set flags win over the environment.
func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("data") {
		c.Storage.DataPath = dataPath
	}
	if flags.Changed("policies") {
		c.Storage.PolicyPath = policyPath
	}
	if flags.Changed("storage") {
		c.Storage.StorageEngine = storageEngine
	}
	if flags.Changed("log-level") {
		c.Log.Level = strings.ToLower(logLevel)
	}
	if flags.Changed("log-format") {
		c.Log.Format = strings.ToLower(logFormat)
	}
	if flags.Changed("host") {
		c.Server.Host = serveHost
	}
	if flags.Changed("port") {
		c.Server.Port = servePort
	}
}

// newLogger builds the process logger. Logs go to stderr so command
// output on stdout stays machine readable.
func newLogger(lc config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
