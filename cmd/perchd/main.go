package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/perch/internal/config"
	"github.com/ehrlich-b/perch/internal/relay"
)

func main() {
	root := &cobra.Command{
		Use:   "perchd",
		Short: "perch rendezvous relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			addr, _ := cmd.Flags().GetString("addr")
			dbPath, _ := cmd.Flags().GetString("db")

			cfg := config.Default()
			if cfgPath != "" {
				loaded, err := config.Load(cfgPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if addr != "" {
				cfg.Listen = addr
			}
			if dbPath != "" {
				cfg.Database.Path = dbPath
			}

			store, err := relay.OpenStore(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			srv := relay.NewServer(store)
			srv.Signals = relay.NewSignalMeter(cfg.Limits.SignalBytesPerSec, cfg.Limits.SignalBurst)

			var handler http.Handler = srv
			if cfg.Limits.HTTPRequestsPerSec > 0 {
				rl := relay.NewRateLimiter(cfg.Limits.HTTPRequestsPerSec, cfg.Limits.HTTPBurst)
				handler = rl.Middleware(srv)
			}

			httpSrv := &http.Server{
				Addr:    cfg.Listen,
				Handler: handler,
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				fmt.Printf("perchd listening on %s\n", cfg.Listen)
				errCh <- httpSrv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				fmt.Println("shutting down...")
				srv.Shutdown()
				return httpSrv.Close()
			case err := <-errCh:
				return err
			}
		},
	}

	root.Flags().String("config", "", "config file path")
	root.Flags().String("addr", "", "listen address (overrides config)")
	root.Flags().String("db", "", "database path (overrides config)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
