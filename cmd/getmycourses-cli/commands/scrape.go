package commands

import (
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/shatgupt/getmycourses/lib/serviceutil"

	"github.com/spf13/cobra"
)

var (
	scrapeCourse string
	scrapeJson   bool
)

func init() {
	scrapeCmd.Flags().StringVar(&scrapeCourse, "course", "", "Only scrape this course number, ex. 110.")
	scrapeCmd.Flags().BoolVar(&scrapeJson, "json", false, "Print the snapshot as json instead of a table.")
	rootCmd.AddCommand(scrapeCmd)
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape <department> [--course <number>] [--json]",
	Short: "Scrapes a department and prints it without touching any stored state.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd.Context())
		defer a.Close()

		t1 := time.Now()
		snapshot, err := a.Scraper.Department(cmd.Context(), args[0], scrapeCourse)
		if err != nil {
			serviceutil.Fatal("failed to scrape", err)
		}
		slog.Info("scraping time", "seconds", time.Since(t1).Seconds())

		if scrapeJson {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			err = encoder.Encode(snapshot)
			if err != nil {
				serviceutil.Fatal("failed to encode snapshot", err)
			}
			return
		}
		renderSnapshot(snapshot)
	},
}
