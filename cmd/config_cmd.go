package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/stackrun/stackrun/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and validate the stackrun configuration file.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective config and AWS environment (secrets masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		fmt.Println("Current configuration:")
		fmt.Println()
		fmt.Printf("  AWS:\n")
		fmt.Printf("    Region:            %s\n", cfg.AWS.Region)
		fmt.Printf("    Profile:           %s\n", cfg.AWS.Profile)
		fmt.Println()
		fmt.Printf("  Stack:\n")
		fmt.Printf("    Create timeout:    %s\n", cfg.Stack.CreateTimeout)
		fmt.Printf("    Delete timeout:    %s\n", cfg.Stack.DeleteTimeout)
		if len(cfg.Stack.Tags) > 0 {
			keys := make([]string, 0, len(cfg.Stack.Tags))
			for k := range cfg.Stack.Tags {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Printf("    Tags:\n")
			for _, k := range keys {
				fmt.Printf("      %s: %s\n", k, cfg.Stack.Tags[k])
			}
		}
		fmt.Println()
		fmt.Printf("  Polling:\n")
		fmt.Printf("    Interval:          %s\n", cfg.Polling.Interval)
		fmt.Printf("    Ready timeout:     %s\n", orForever(cfg.Polling.ReadyTimeout.String(), cfg.Polling.ReadyTimeout == 0))
		fmt.Printf("    Step timeout:      %s\n", orForever(cfg.Polling.StepTimeout.String(), cfg.Polling.StepTimeout == 0))
		fmt.Printf("    Terminate timeout: %s\n", cfg.Polling.TerminateTimeout)
		fmt.Println()
		fmt.Printf("  Logging:\n")
		fmt.Printf("    Level:             %s\n", cfg.Logging.Level)
		fmt.Printf("    Directory:         %s\n", cfg.Logging.Directory)
		fmt.Println()
		fmt.Printf("  Environment:\n")
		for _, v := range config.CredentialEnv(os.Getenv) {
			fmt.Printf("    %-22s %s\n", v.Name, v.Value)
		}
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Load(cfgFile); err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		fmt.Println("Configuration is valid.")
		return nil
	},
}

func orForever(s string, forever bool) string {
	if forever {
		return "none"
	}
	return s
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
