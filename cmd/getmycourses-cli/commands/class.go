package commands

import (
	"os"

	"github.com/shatgupt/getmycourses/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(classCmd)
}

var classCmd = &cobra.Command{
	Use:   "class <class number>",
	Short: "Prints the seats of a single class.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd.Context())
		defer a.Close()

		info, err := a.Scraper.ClassSeats(cmd.Context(), args[0])
		if err != nil {
			serviceutil.Fatal("failed to fetch class", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Class #", "Open", "Total", "Non Reserved", "Link"})
		t.AppendRow(table.Row{
			args[0],
			info.OpenSeats,
			info.TotalSeats,
			optionalSeats(info.NonReservedOpenSeats),
			a.Scraper.ClassUrl(args[0]),
		})
		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}
