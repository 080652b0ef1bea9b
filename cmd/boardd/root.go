package main

import (
	"context"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/config"
	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/logging"
	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/store"
)

var (
	configFile string

	// Populated by PersistentPreRunE for every subcommand.
	cfg       *config.Config
	settings  *viper.Viper
	logger    *log.Logger
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "boardd",
	Short: "Kanban board persistence service",
	Long: `boardd stores kanban boards in SQLite and serves them over HTTP.

Configuration is read from boardd.yaml (working directory or
$HOME/.config/boardd), BOARDD_* environment variables and flags, with
flags taking precedence. For example BOARDD_DB_PATH overrides db.path.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		settings = config.New(configFile)
		if err := settings.BindPFlag("db.path", cmd.Root().PersistentFlags().Lookup("db")); err != nil {
			return err
		}
		if err := settings.BindPFlag("log.level", cmd.Root().PersistentFlags().Lookup("log-level")); err != nil {
			return err
		}
		if err := config.Read(settings); err != nil {
			return err
		}
		c, err := config.Decode(settings)
		if err != nil {
			return err
		}
		cfg = c

		l, closer, err := logging.New(cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to set up logging: %w", err)
		}
		logger, logCloser = l, closer
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "service", Title: "Service:"},
		&cobra.Group{ID: "board", Title: "Boards:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: ./boardd.yaml)")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
}

// storeConfig maps the store section onto the store options.
func storeConfig() *store.Config {
	sc := store.DefaultConfig()
	sc.MaxAttempts = cfg.Store.MaxAttempts
	sc.RetryBase = cfg.Store.RetryBase
	return sc
}

// openStore opens the configured database and ensures the schema exists.
func openStore(ctx context.Context) (*store.Store, error) {
	st, err := store.OpenWithConfig(cfg.DB.Path, storeConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := st.InitSchemaContext(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return st, nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
