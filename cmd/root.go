package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
	version  = "dev"
	commit   = "none"
	date     = "unknown"
)

// errReported means the failure was already shown to the user.
var errReported = errors.New("run failed")

var rootCmd = &cobra.Command{
	Use:   "stackrun",
	Short: "stackrun runs one Spark job on an ephemeral EMR cluster",
	Long: `stackrun creates a CloudFormation stack containing an EMR cluster, runs a
single Spark step on it, and then removes the job's objects and terminates
the cluster whether or not the step succeeded.

When anything goes wrong it prints the stack status and recent events and
asks before deleting the stack.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.stackrun/stackrun.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error; default from config)")
}
