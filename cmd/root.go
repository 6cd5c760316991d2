package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/qmt/internal/agent"
	"github.com/joescharf/qmt/internal/config"
	"github.com/joescharf/qmt/internal/output"
	"github.com/joescharf/qmt/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	logger    *slog.Logger
	dataStore store.Store
	runner    *config.Runner

	verbose bool
	logJSON bool
)

var rootCmd = &cobra.Command{
	Use:   "qmt",
	Short: "qmt - agent execution core with durable sessions",
	Long: `qmt runs LLM agent sessions with durable history, an event journal,
tool dispatch, and workspace snapshots. Sessions persist in SQLite and
can be inspected, replayed, and delegated to child agents.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit logs as JSON")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.qmt/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".qmt")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("QMT")
	viper.AutomaticEnv()

	viper.SetDefault("provider", "anthropic")
	viper.SetDefault("db_path", agent.DefaultDBPath())
	viper.SetDefault("snapshot_dir", agent.DefaultSnapshotDir())
	viper.SetDefault("snapshot_policy", "off")
	viper.SetDefault("max_tokens", 4096)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()

	if viper.GetString("api_key") == "" {
		viper.Set("api_key", os.Getenv("ANTHROPIC_API_KEY"))
	}
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if logJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// getStore returns the shared store, initializing it on first call.
// Read-only commands use it directly and skip agent construction.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}
	if runner != nil {
		dataStore = runner.Agent.Store()
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getRunner builds the agent from the effective viper settings on first
// call. Commands that prompt or serve need it; listings do not.
func getRunner() (*config.Runner, error) {
	if runner != nil {
		return runner, nil
	}

	var doc config.Document
	if err := viper.Unmarshal(&doc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := config.Validate(&doc); err != nil {
		return nil, err
	}
	r, err := config.Build(&doc, logger)
	if err != nil {
		return nil, err
	}
	runner = r
	return runner, nil
}
