package commands

import (
	"os"

	"github.com/shatgupt/getmycourses/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var runCourse string

func init() {
	runCmd.Flags().StringVar(&runCourse, "course", "", "Only scrape this course number, ex. 110.")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run <department> [--course <number>]",
	Short: "Scrapes a department, notifies every changed class and stores the new baseline.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd.Context())
		defer a.Close()

		result, err := a.Runner.Run(cmd.Context(), args[0], runCourse)
		if err != nil {
			serviceutil.Fatal("run failed", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Class #", "Course", "Title", "Open", "Non Reserved"})
		for _, change := range result.Changes {
			r := change.Record
			t.AppendRow(table.Row{r.ClassID, r.Course, r.Title, r.OpenSeats, optionalSeats(r.NonReservedOpenSeats)})
		}
		t.AppendFooter(table.Row{"", "", "Notified", result.Delivered})
		t.SetTitle("run %s: %d classes, baseline %s", result.RunId, result.Fresh.Len(), result.Baseline.Phase)
		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}
