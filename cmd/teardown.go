package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stackrun/stackrun/internal/lock"
	"github.com/stackrun/stackrun/internal/rollback"
	"github.com/stackrun/stackrun/internal/state"
)

var (
	teardownAWS         awsFlags
	teardownDeleteStack bool
	teardownSkipCleanup bool
	teardownYes         bool
)

var teardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "Finish cleaning up an interrupted or failed run",
	Long: `Remove the recorded run's artifact and output objects, terminate its cluster
and, with --delete-stack, delete its stack. Every step is attempted even if
an earlier one fails. The run record is cleared once nothing is left.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := state.Load("")
		if errors.Is(err, state.ErrNoRun) {
			fmt.Println("No run recorded; nothing to tear down.")
			return nil
		}
		if err != nil {
			return fmt.Errorf("loading state: %w", err)
		}

		// The recorded region wins over config so the same account is hit.
		if teardownAWS.region == "" {
			teardownAWS.region = st.Region
		}
		if teardownAWS.profile == "" {
			teardownAWS.profile = st.Profile
		}
		s, err := loadSession(&teardownAWS)
		if err != nil {
			return err
		}
		defer s.close()

		if err := lock.Acquire("", st.StackName); err != nil {
			return err
		}
		defer func() { _ = lock.Release("") }()

		ctx, stop := signalContext()
		defer stop()

		clients, err := s.clients(ctx)
		if err != nil {
			return err
		}
		d := decider(teardownYes, false)
		c := s.components(clients, d)

		deleteStack := teardownDeleteStack
		if deleteStack && !teardownYes {
			ok, err := d.Confirm(ctx, fmt.Sprintf("Delete stack '%s'?", st.StackName))
			if err != nil || !ok {
				fmt.Println("Keeping the stack.")
				deleteStack = false
			}
		}

		fmt.Printf("Tearing down run %s (stack %s)...\n", st.RunID, st.StackName)
		result := rollback.New(c.cleanup, c.teardown, st, s.logger).Execute(ctx, rollback.Options{
			SkipCleanup: teardownSkipCleanup,
			DeleteStack: deleteStack,
		})

		if result.Cleanup != nil {
			fmt.Printf("Removed artifact: %v, output objects: %d\n",
				result.Cleanup.ArtifactDeleted, result.Cleanup.ObjectsDeleted)
		}
		if result.ClusterTerminated {
			fmt.Println("Cluster terminated.")
		}
		if result.StackDeleted {
			fmt.Println("Stack deleted.")
		}
		if len(result.Errors) > 0 {
			fmt.Println("Errors during teardown:")
			for _, e := range result.Errors {
				fmt.Printf("  - %s\n", e)
			}
		}

		if result.Complete() {
			if err := state.Clear(""); err != nil {
				s.logger.Warn("Could not clear run state", zap.Error(err))
			}
			return nil
		}
		if err := st.Save(""); err != nil {
			s.logger.Warn("Could not save run state", zap.Error(err))
		}
		if len(result.Errors) > 0 {
			return errReported
		}
		return nil
	},
}

func init() {
	teardownCmd.Flags().BoolVar(&teardownDeleteStack, "delete-stack", false, "also delete the CloudFormation stack")
	teardownCmd.Flags().BoolVar(&teardownSkipCleanup, "skip-cleanup", false, "leave the artifact and output objects in S3")
	teardownCmd.Flags().BoolVarP(&teardownYes, "yes", "y", false, "do not ask before deleting the stack")
	teardownAWS.register(teardownCmd)
	rootCmd.AddCommand(teardownCmd)
}
