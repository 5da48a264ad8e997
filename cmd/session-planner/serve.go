package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/username/session-planner/internal/planner"
	"github.com/username/session-planner/internal/server"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API used by the session form",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			client, stop, err := initializeBackend(cfg.Backend)
			if err != nil {
				return err
			}
			defer stop()

			cal, err := initializeCalendar(cfg.Calendar)
			if err != nil {
				return err
			}

			drafts, closeDrafts, err := initializeDrafts(cfg.Drafts)
			if err != nil {
				return err
			}
			defer closeDrafts()

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			srv := server.NewServer(server.Config{
				Addr:          cfg.Server.Addr,
				EnableCORS:    cfg.Server.EnableCORS,
				Origins:       cfg.Server.Origins,
				Debug:         cfg.Server.Debug,
				PurgeInterval: cfg.Drafts.GetPurgeInterval(),
				Planning:      planner.OptionsFromConfig(cfg.Planning),
			}, planner.NewPlanner(client, cal, logger), drafts, reg, logger)

			fmt.Printf("%s listening on %s\n", green("🚀 session-planner"), cfg.Server.Addr)
			logger.Info("Starting HTTP API",
				zap.String("addr", cfg.Server.Addr),
				zap.String("calendar", cfg.Calendar.Type),
				zap.Duration("draft_ttl", drafts.TTL()))

			if err := srv.Run(context.Background()); err != nil {
				return fmt.Errorf("server failed: %w", err)
			}

			fmt.Println("👋 Stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}
