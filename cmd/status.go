package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stackrun/stackrun/internal/lock"
	"github.com/stackrun/stackrun/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the recorded run",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := state.Load("")
		if errors.Is(err, state.ErrNoRun) {
			fmt.Println("No run recorded.")
			return nil
		}
		if err != nil {
			return fmt.Errorf("loading state: %w", err)
		}

		fmt.Printf("Run:     %s\n", st.RunID)
		fmt.Printf("Phase:   %s\n", st.Phase)
		fmt.Printf("Started: %s\n", st.StartedAt.Format(time.RFC3339))
		if h, err := lock.Current(""); err == nil && h != nil {
			fmt.Printf("Active:  pid %d on stack %s since %s\n", h.PID, h.Stack, h.Since.Format(time.RFC3339))
		}
		fmt.Println()

		fields := []struct{ label, value string }{
			{"Region", st.Region},
			{"Profile", st.Profile},
			{"Stack", st.StackName},
			{"Job", st.JobName},
			{"Cluster", st.ClusterID},
			{"Bucket", st.Bucket},
			{"Artifact", st.ArtifactKey},
			{"Output", st.OutputPrefix},
			{"Step", st.StepID},
			{"Step state", st.StepState},
			{"Error", st.Error},
		}
		for _, f := range fields {
			if f.value != "" {
				fmt.Printf("  %-11s %s\n", f.label+":", f.value)
			}
		}

		if len(st.History) > 0 {
			fmt.Println()
			fmt.Println("History:")
			for _, t := range st.History {
				fmt.Printf("  %s  %s\n", t.At.Format("15:04:05"), t.Phase)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
