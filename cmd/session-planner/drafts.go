package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/username/session-planner/internal/config"
	"github.com/username/session-planner/internal/draft"
)

func draftsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drafts",
		Short: "Inspect and purge saved form drafts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List drafts that have not expired",
		RunE: withDrafts(func(ctx context.Context, m *draft.Manager, args []string) error {
			drafts, err := m.List(ctx)
			if err != nil {
				return err
			}
			if len(drafts) == 0 {
				fmt.Println(gray("No draft saved"))
				return nil
			}

			fmt.Println("  Key                  | Kind         | Expires in")
			fmt.Println("-----------------------+--------------+-----------")
			for _, d := range drafts {
				fmt.Printf("  %-20s | %-12s | %s\n", d.Key, d.Kind, time.Until(d.ExpiresAt).Round(time.Minute))
			}
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <key>",
		Short: "Print a draft payload",
		Args:  cobra.ExactArgs(1),
		RunE: withDrafts(func(ctx context.Context, m *draft.Manager, args []string) error {
			err := showDraft(ctx, m, args[0], os.Stdout)
			if draft.IsGone(err) {
				fmt.Println(yellow("Draft not found or expired"))
			}
			return err
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete expired drafts",
		RunE: withDrafts(func(ctx context.Context, m *draft.Manager, args []string) error {
			n, err := m.PurgeExpired(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%s %d expired draft(s) removed\n", green("✅"), n)
			return nil
		}),
	})

	return cmd
}

// showDraft prints the draft metadata followed by its indented payload
func showDraft(ctx context.Context, m *draft.Manager, key string, w io.Writer) error {
	var payload any
	d, err := m.LoadInto(ctx, key, &payload)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode draft: %w", err)
	}

	fmt.Fprintf(w, "%s %s (%s)\n", bold("📝"), d.Key, d.Kind)
	fmt.Fprintf(w, "  Saved:   %s\n", d.SavedAt.Local().Format("02/01/2006 15:04"))
	fmt.Fprintf(w, "  Expires: %s\n", d.ExpiresAt.Local().Format("02/01/2006 15:04"))
	fmt.Fprintln(w, string(out))
	return nil
}

// withDrafts opens the draft database for the duration of one command. Only the
// drafts section of the config is needed, so backend settings are not validated.
func withDrafts(run func(ctx context.Context, m *draft.Manager, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		draftsCfg := config.DraftsConfig{DBPath: "drafts.db"}
		if cfg := loadOptionalConfig(); cfg != nil {
			draftsCfg = cfg.Drafts
		}

		m, closeDB, err := initializeDrafts(draftsCfg)
		if err != nil {
			return err
		}
		defer closeDB()

		return run(cmd.Context(), m, args)
	}
}
