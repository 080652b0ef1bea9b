package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/api"
	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/config"
	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/events"
	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/logging"
	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/store"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "service",
	Short:   "Run the persistence service",
	Long: `Run the HTTP persistence service.

Routes:
  GET    /api/boards/:id            full board tree
  PATCH  /api/boards/:id            update board
  POST   /api/cards                 create card (Idempotency-Key honored)
  PATCH  /api/cards/:id             update card
  DELETE /api/cards/:id             delete card
  POST   /api/cards/:id/move        move card
  POST   /api/columns               create column (Idempotency-Key honored)
  PATCH  /api/columns/reorder       reorder columns
  PATCH  /api/columns/:id           update column
  DELETE /api/columns/:id           delete column
  POST   /api/columns/:id/move      move column
  GET    /ws                        board change notifications
  GET    /healthz                   health check

Create requests are deduplicated through Redis when redis.addr is set.
Edits to the config file's log.level take effect without a restart.`,
	Run: func(cmd *cobra.Command, args []string) {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = cfg.Server.Addr
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		st, err := openStore(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		defer st.Close()
		st.SetAudit(store.NewSQLAuditLog(st))

		hub := events.NewHub()
		hub.Start()
		defer hub.Stop()

		apiCfg := api.Config{
			Publisher: hub,
			Events:    hub,
			Logger:    logger,
		}
		if cfg.Redis.Addr != "" {
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer rdb.Close()
			if err := rdb.Ping(ctx).Err(); err != nil {
				fatalf("failed to reach redis at %s: %v", cfg.Redis.Addr, err)
			}
			apiCfg.Idempotency = api.NewRedisIdempotency(rdb, cfg.Idempotency.TTL)
		} else {
			logger.Warn("redis.addr not set, create requests are not deduplicated")
		}

		if settings.ConfigFileUsed() != "" {
			watcher, err := config.NewWatcher(settings, func(next *config.Config) {
				if err := logging.SetLevel(logger, next.Log.Level); err != nil {
					logger.WithError(err).Warn("ignoring log level change")
					return
				}
				logger.WithField("level", next.Log.Level).Info("log level reloaded")
			})
			if err != nil {
				fatalf("%v", err)
			}
			if err := watcher.Start(); err != nil {
				fatalf("%v", err)
			}
			defer watcher.Stop()
			go func() {
				for err := range watcher.Errors() {
					logger.WithError(err).Warn("config reload failed")
				}
			}()
		}

		server := api.New(st, apiCfg)
		errCh := make(chan error, 1)
		go func() { errCh <- server.Start(addr) }()

		fmt.Printf("Persistence service on %s\n", renderAccent("http://"+displayAddr(addr)))
		fmt.Printf("Database: %s\n", renderMuted(st.Path()))
		fmt.Println("\nPress Ctrl+C to stop...")

		select {
		case <-ctx.Done():
		case err := <-errCh:
			if err != nil {
				fatalf("server failed: %v", err)
			}
			return
		}

		fmt.Println("\nShutting down...")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancelShutdown()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
		}
		fmt.Println("Stopped")
	},
}

// displayAddr fills in localhost for listen addresses without a host.
func displayAddr(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (default: server.addr)")
	rootCmd.AddCommand(serveCmd)
}
