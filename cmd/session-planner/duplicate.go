package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/username/session-planner/internal/planner"
	"github.com/username/session-planner/pkg/dateutil"
	"go.uber.org/zap"
)

func duplicateCmd() *cobra.Command {
	var flags recurrenceFlags
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "duplicate <session-id>",
		Short: "Duplicate a session on every date of a recurrence",
		Long:  "Duplicate a template session on every planned date. Without --start the recurrence starts on the template's own date, which is never duplicated.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			templateID := args[0]

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			req, err := flags.request(cmd, false)
			if err != nil {
				return err
			}
			opts, err := flags.options(cmd, cfg)
			if err != nil {
				return err
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

			p := planner.NewPlanner(client, cal, logger)

			logger.Info("Duplicating session",
				zap.String("template_id", templateID),
				zap.Bool("dry_run", dryRun))

			summary, err := p.Duplicate(context.Background(), templateID, req, opts, dryRun)
			if summary != nil {
				printDuplication(summary)
			}
			if err != nil {
				var vErr *planner.ValidationError
				if errors.As(err, &vErr) {
					fmt.Println(red("❌ Invalid request:"))
					for _, msg := range vErr.Errors {
						fmt.Printf("   • %s\n", msg)
					}
				}
				return err
			}

			if dryRun {
				fmt.Println(yellow("\n[DRY RUN] No session was created"))
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&flags.skipExisting, "skip-existing", false, "Skip dates that already have a session for the patient")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Preview actions without creating sessions")
	return cmd
}

func printDuplication(s *planner.DuplicationSummary) {
	if s.Plan != nil {
		fmt.Printf("\n%s\n", bold("📅 "+s.Plan.Description))
	}
	fmt.Println("═══════════════════════════════════════════════════════")

	icon := getIcon(s.DryRun)
	for _, d := range s.Planned {
		fmt.Printf("  %s %s\n", icon, dateutil.FormatShortFR(d))
	}
	for _, sk := range s.Skipped {
		fmt.Printf("  %s %s %s\n", gray("⏭"), dateutil.FormatShortFR(sk.Date), gray("("+sk.Reason+")"))
	}
	for _, f := range s.Failed {
		fmt.Printf("  %s %s %s\n", red("❌"), dateutil.FormatShortFR(f.Date), red(f.Err.Error()))
	}

	fmt.Printf("\n  %s planned %d, created %d, skipped %d, failed %d in %s\n",
		cyan("Summary:"),
		len(s.Planned),
		len(s.Created),
		len(s.Skipped),
		len(s.Failed),
		s.Duration.Round(time.Millisecond))
}
