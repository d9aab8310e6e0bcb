package commands

import (
	"fmt"
	"log/slog"

	"github.com/shatgupt/getmycourses/internal/pipeline"
	"github.com/shatgupt/getmycourses/internal/store"
	"github.com/shatgupt/getmycourses/lib/serviceutil"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(baselineCmd)
}

var baselineCmd = &cobra.Command{
	Use:   "baseline <department>",
	Short: "Prints the stored state a run of the department would diff against.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd.Context())
		defer a.Close()

		department, err := pipeline.NormalizeDepartment(args[0])
		if err != nil {
			serviceutil.Fatal("invalid department", err)
		}
		key := store.Key{Term: a.Config.Term, Department: department}

		artifacts, err := a.Store.Artifacts(cmd.Context(), key)
		if err != nil {
			slog.Warn("failed to list stored files", "err", err.Error())
		}
		for _, artifact := range artifacts {
			fmt.Printf("%s: %s (%s)\n", artifact.Tier, artifact.Path, artifact.Phase)
		}

		baseline, err := a.Store.Load(cmd.Context(), key)
		if err != nil {
			serviceutil.Fatal("failed to load baseline", err)
		}

		fmt.Printf("%s: %s", key, baseline.Phase)
		if baseline.Revision != "" {
			fmt.Printf(" (revision %s)", baseline.Revision)
		}
		fmt.Println()
		if baseline.Phase == store.Absent {
			return
		}
		renderSnapshot(baseline.Snapshot)
	},
}
