package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	awspkg "github.com/stackrun/stackrun/internal/aws"
)

var checkAWS awsFlags

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify AWS credentials and the permissions a launch needs",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSession(&checkAWS)
		if err != nil {
			return err
		}
		defer s.close()

		ctx, stop := signalContext()
		defer stop()

		printCredentialEnv()
		clients, err := s.clients(ctx)
		if err != nil {
			return err
		}

		fmt.Println("Checking AWS credentials and permissions...")
		report, err := awspkg.NewAccessChecker(clients.STS, clients.IAM).Check(ctx, awspkg.RequiredActions)
		if err != nil {
			return err
		}
		fmt.Printf("  Account: %s\n  ARN: %s\n  Region: %s\n", report.Identity.Account, report.Identity.ARN, s.region)

		if !report.Simulated {
			fmt.Println("  Permissions could not be simulated for this principal; skipping.")
			return nil
		}
		denied := report.Denied()
		for _, c := range report.Checks {
			mark := "OK"
			if !c.Allowed {
				mark = "DENIED"
			}
			fmt.Printf("  [%-6s] %s\n", mark, c.Action)
		}
		if len(denied) > 0 {
			return fmt.Errorf("%d required actions denied: %v", len(denied), denied)
		}
		fmt.Println("All required actions allowed.")
		return nil
	},
}

func init() {
	checkAWS.register(checkCmd)
	rootCmd.AddCommand(checkCmd)
}
