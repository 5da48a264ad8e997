package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/username/session-planner/internal/calendar"
	"github.com/username/session-planner/internal/config"
	"github.com/username/session-planner/internal/planner"
	"github.com/username/session-planner/pkg/dateutil"
)

func dayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "day <date>",
		Short: "Show whether sessions can be planned on a day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := dateutil.ParseDate(args[0])
			if err != nil {
				return err
			}

			calCfg := config.CalendarConfig{Type: config.CalendarNone}
			if cfg := loadOptionalConfig(); cfg != nil {
				calCfg = cfg.Calendar
			}
			cal, err := initializeCalendar(calCfg)
			if err != nil {
				return err
			}

			info, err := planner.NewPlanner(nil, cal, logger).DayInfo(context.Background(), date)
			if err != nil {
				return err
			}
			printDayInfo(os.Stdout, info)
			return nil
		},
	}
}

func printDayInfo(w io.Writer, info *calendar.DayInfo) {
	status := green("open")
	if info.IsClosed() {
		status = red("closed")
	}

	fmt.Fprintf(w, "%s %s: %s (%s)", bold("📅"), dateutil.FormatShortFR(info.Date), status, info.Type)
	if info.Note != "" {
		fmt.Fprintf(w, " %s", gray(info.Note))
	}
	fmt.Fprintln(w)
}
