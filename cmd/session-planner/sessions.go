package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// sessionDeleter is the part of the backend client used by sessions delete
type sessionDeleter interface {
	DeleteSession(ctx context.Context, id string) error
}

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage sessions in the backend",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <session-id>...",
		Short: "Delete sessions, e.g. the ones a partially failed duplication created",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			client, stop, err := initializeBackend(cfg.Backend)
			if err != nil {
				return err
			}
			defer stop()

			logger.Info("Deleting sessions", zap.Strings("ids", args))
			return deleteSessions(context.Background(), client, args, os.Stdout)
		},
	})

	return cmd
}

// deleteSessions deletes every id, going on past failures
func deleteSessions(ctx context.Context, d sessionDeleter, ids []string, w io.Writer) error {
	failed := 0
	for _, id := range ids {
		if err := d.DeleteSession(ctx, id); err != nil {
			failed++
			fmt.Fprintf(w, "  %s %s %s\n", red("❌"), id, red(err.Error()))
			continue
		}
		fmt.Fprintf(w, "  %s %s\n", green("🗑"), id)
	}

	fmt.Fprintf(w, "\n  %s deleted %d, failed %d\n", cyan("Summary:"), len(ids)-failed, failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d session(s) could not be deleted", failed, len(ids))
	}
	return nil
}
