package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackrun/stackrun/internal/config"
)

var envFile string

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Show the AWS environment a launch would use (secrets masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadEnvFile(envFile)
		if err != nil {
			return err
		}
		if loaded != "" {
			fmt.Printf("Loaded %s\n", loaded)
		}
		printCredentialEnv()
		return nil
	},
}

func init() {
	envCmd.Flags().StringVar(&envFile, "env-file", "", "env file to load (default: ./.env if present)")
	rootCmd.AddCommand(envCmd)
}
