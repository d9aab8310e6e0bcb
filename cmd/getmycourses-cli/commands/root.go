package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/shatgupt/getmycourses/internal/app"
	"github.com/shatgupt/getmycourses/internal/catalog"
	"github.com/shatgupt/getmycourses/internal/telemetry"
	"github.com/shatgupt/getmycourses/lib/configutil"
	"github.com/shatgupt/getmycourses/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
	dumpDir    string
)

var rootCmd = &cobra.Command{
	Use:   "getmycourses-cli",
	Short: "getmycourses-cli scrapes the class catalog and manages department baselines by hand.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json5", "The config file to read.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging.")
	rootCmd.PersistentFlags().StringVar(&dumpDir, "dump", "", "Write every request made to the portal into this directory.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openApp(ctx context.Context) *app.App {
	cfg, err := configutil.ReadConfig[app.Config](configPath)
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	if dumpDir != "" {
		cfg.DumpDir = dumpDir
	}
	a, err := app.New(ctx, cfg, app.Options{}, telemetry.NewSlogAPI(nil))
	if err != nil {
		serviceutil.Fatal("failed to initialize", err)
	}
	return a
}

func optionalSeats(n *int) string {
	if n == nil {
		return "-"
	}
	return strconv.Itoa(*n)
}

func renderSnapshot(snapshot catalog.Snapshot) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Class #", "Course", "Title", "Instructor", "Days", "Time", "Open", "Total", "Non Reserved"})
	for _, r := range snapshot.Records() {
		t.AppendRow(table.Row{
			r.ClassID, r.Course, r.Title, r.Instructor, r.Days, r.Time,
			r.OpenSeats, r.TotalSeats, optionalSeats(r.NonReservedOpenSeats),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "Classes", snapshot.Len()})
	t.SetStyle(table.StyleRounded)
	t.Render()
}
