package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/username/session-planner/internal/calendar"
	"github.com/username/session-planner/internal/config"
	"github.com/username/session-planner/internal/icsexport"
	"github.com/username/session-planner/internal/planner"
	"github.com/username/session-planner/internal/recurrence"
	"github.com/username/session-planner/pkg/dateutil"
	"go.uber.org/zap"
)

// recurrenceFlags are the duplication form fields as command line flags
type recurrenceFlags struct {
	start           string
	cadence         string
	end             string
	count           int
	excludeWeekends bool
	excludeHolidays bool
	exclude         []string
	maxSessions     int
	skipExisting    bool
}

func (f *recurrenceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.start, "start", "", "First session date (YYYY-MM-DD or DD/MM/YYYY)")
	cmd.Flags().StringVar(&f.cadence, "cadence", string(recurrence.Weekly), "Cadence: daily, every-other-day or weekly")
	cmd.Flags().StringVar(&f.end, "end", "", "Last possible session date (exclusive with --count)")
	cmd.Flags().IntVar(&f.count, "count", recurrence.DefaultCount, "Number of sessions (1-365)")
	cmd.Flags().BoolVar(&f.excludeWeekends, "exclude-weekends", false, "Drop Saturdays and Sundays")
	cmd.Flags().BoolVar(&f.excludeHolidays, "exclude-holidays", false, "Drop public holidays and practice closures")
	cmd.Flags().StringSliceVar(&f.exclude, "exclude", nil, "Extra dates to drop (repeatable)")
	cmd.Flags().IntVar(&f.maxSessions, "max", 0, "Keep at most this many sessions (0 = no cap)")
}

// request builds the recurrence request; a zero start is kept when the flag is empty
// and useToday is false, so the caller can substitute its own start.
func (f *recurrenceFlags) request(cmd *cobra.Command, useToday bool) (recurrence.Request, error) {
	req := recurrence.Request{Cadence: recurrence.Cadence(f.cadence)}

	switch {
	case f.start != "":
		start, err := dateutil.ParseDate(f.start)
		if err != nil {
			return recurrence.Request{}, fmt.Errorf("invalid --start: %w", err)
		}
		req.StartDate = start
	case useToday:
		req.StartDate = dateutil.Today()
	}

	if f.end != "" {
		end, err := dateutil.ParseDate(f.end)
		if err != nil {
			return recurrence.Request{}, fmt.Errorf("invalid --end: %w", err)
		}
		req = req.WithEndDate(end)
	}
	// --count keeps its default unless given explicitly, so --end alone stays valid
	if cmd.Flags().Changed("count") {
		req = req.WithCount(f.count)
	}

	return req, nil
}

// options overlays the flags that were given on the configured planning defaults
func (f *recurrenceFlags) options(cmd *cobra.Command, cfg *config.Config) (planner.Options, error) {
	var opts planner.Options
	if cfg != nil {
		opts = planner.OptionsFromConfig(cfg.Planning)
	}

	flags := cmd.Flags()
	if flags.Changed("exclude-weekends") {
		opts.ExcludeWeekends = f.excludeWeekends
	}
	if flags.Changed("exclude-holidays") {
		opts.ExcludeHolidays = f.excludeHolidays
	}
	if flags.Changed("max") {
		opts.MaxSessions = f.maxSessions
	}
	if flags.Lookup("skip-existing") != nil && flags.Changed("skip-existing") {
		opts.SkipExisting = f.skipExisting
	}

	for _, s := range f.exclude {
		d, err := dateutil.ParseDate(s)
		if err != nil {
			return planner.Options{}, fmt.Errorf("invalid --exclude date %q: %w", s, err)
		}
		opts.ExcludeDates = append(opts.ExcludeDates, d)
	}

	return opts, nil
}

// offlinePlanner builds a planner without backend access. Closed days come from the
// configured calendar when a config is available.
func offlinePlanner(cfg *config.Config, opts planner.Options) (*planner.Planner, error) {
	var cal calendar.Calendar = calendar.NoClosures{}
	if cfg != nil && opts.ExcludeHolidays {
		c, err := initializeCalendar(cfg.Calendar)
		if err != nil {
			return nil, err
		}
		cal = c
	} else if opts.ExcludeHolidays {
		logger.Warn("No calendar configured, holidays are not excluded")
	}
	return planner.NewPlanner(nil, cal, logger), nil
}

func planCmd() *cobra.Command {
	var flags recurrenceFlags

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Preview the session dates of a recurrence",
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := previewFromFlags(cmd, &flags)
			if err != nil {
				return err
			}
			printPlan(os.Stdout, plan)
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func validateCmd() *cobra.Command {
	var flags recurrenceFlags

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a recurrence request and list every problem",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(cmd, false)
			if err != nil {
				return err
			}

			v := recurrence.Validate(req)
			if v.IsValid {
				fmt.Printf("%s %s\n", green("✅ Valid:"), recurrence.Describe(req))
				return nil
			}

			fmt.Println(red("❌ Invalid request:"))
			for _, msg := range v.Errors {
				fmt.Printf("   • %s\n", msg)
			}
			return fmt.Errorf("%d validation error(s)", len(v.Errors))
		},
	}

	flags.register(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	var flags recurrenceFlags
	var output string
	var summary string
	var seed string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the planned sessions as an iCalendar file",
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := previewFromFlags(cmd, &flags)
			if err != nil {
				return err
			}

			var w io.Writer = os.Stdout
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				w = f
			}

			err = icsexport.Encode(w, plan.Result.Dates, icsexport.Options{
				Summary:     summary,
				Description: plan.Description,
				UIDSeed:     seed,
			})
			if err != nil {
				return fmt.Errorf("failed to export calendar: %w", err)
			}

			if output != "" && output != "-" {
				fmt.Printf("%s %d session(s) written to %s\n", green("✅"), plan.Result.TotalCount, output)
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "-", "Output file (- for stdout)")
	cmd.Flags().StringVar(&summary, "summary", "", "Event title (default \"Séance i/n\")")
	cmd.Flags().StringVar(&seed, "seed", "", "Stable seed for event UIDs, e.g. the template session id")
	return cmd
}

func previewFromFlags(cmd *cobra.Command, flags *recurrenceFlags) (*planner.Plan, error) {
	cfg := loadOptionalConfig()

	req, err := flags.request(cmd, true)
	if err != nil {
		return nil, err
	}
	opts, err := flags.options(cmd, cfg)
	if err != nil {
		return nil, err
	}

	p, err := offlinePlanner(cfg, opts)
	if err != nil {
		return nil, err
	}

	plan, err := p.Preview(context.Background(), req, opts)
	if err != nil {
		var vErr *planner.ValidationError
		if errors.As(err, &vErr) {
			fmt.Println(red("❌ Invalid request:"))
			for _, msg := range vErr.Errors {
				fmt.Printf("   • %s\n", msg)
			}
		}
		return nil, err
	}

	logger.Debug("Plan computed", zap.Int("dates", plan.Result.TotalCount))
	return plan, nil
}

func printPlan(w io.Writer, plan *planner.Plan) {
	fmt.Fprintf(w, "\n%s\n", bold("📅 "+plan.Description))
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════")

	for i, d := range plan.Result.Dates {
		fmt.Fprintf(w, "  %3d. %s  %s\n", i+1, dateutil.FormatShortFR(d), gray(strings.ToLower(d.Weekday().String()[:3])))
	}

	if len(plan.ClosedDays) > 0 {
		fmt.Fprintln(w, yellow("\n  Closed days dropped:"))
		for _, day := range plan.ClosedDays {
			fmt.Fprintf(w, "   • %s %s %s\n", dateutil.FormatShortFR(day.Date), day.Type, gray(day.Note))
		}
	}

	fmt.Fprintf(w, "\n  %s %d of %d generated date(s)\n", cyan("Total:"), plan.Result.TotalCount, plan.BaseCount)
	if plan.RRule != "" {
		fmt.Fprintf(w, "  %s %s\n", cyan("RRULE:"), plan.RRule)
	}
}
