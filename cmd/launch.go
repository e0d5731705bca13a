package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	awspkg "github.com/stackrun/stackrun/internal/aws"
	"github.com/stackrun/stackrun/internal/config"
	"github.com/stackrun/stackrun/internal/launch"
	"github.com/stackrun/stackrun/internal/lock"
	"github.com/stackrun/stackrun/internal/state"
)

var (
	launchAWS          awsFlags
	launchTemplate     string
	launchParams       string
	launchStackName    string
	launchJobName      string
	launchAppPath      string
	launchPollInterval time.Duration
	launchReadyTimeout time.Duration
	launchStepTimeout  time.Duration
	launchYes          bool
	launchNo           bool
)

var launchCmd = &cobra.Command{
	Use:   "launch --template T --params P --job-name J --app-path A [-- job args...]",
	Short: "Provision a cluster, run one step, and tear everything down",
	Long: `Create the stack, wait for its EMR cluster, upload the application and run
it as a single spark-submit step. The application, the job output and the
cluster are removed afterwards regardless of the step's outcome.

Arguments after -- are passed to the application. Unless one of them is
--output-s3, "--output-s3 s3://<bucket>/outputs/<stack>/<job>/" is appended.`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if n := cmd.ArgsLenAtDash(); n > 0 {
			return fmt.Errorf("unexpected arguments before --: %v", args[:n])
		}
		if launchYes && launchNo {
			return fmt.Errorf("--yes and --no are mutually exclusive")
		}

		s, err := loadSession(&launchAWS)
		if err != nil {
			return err
		}
		defer s.close()
		if cmd.Flags().Changed("poll-interval") {
			s.cfg.Polling.Interval = launchPollInterval
		}
		if cmd.Flags().Changed("ready-timeout") {
			s.cfg.Polling.ReadyTimeout = launchReadyTimeout
		}
		if cmd.Flags().Changed("step-timeout") {
			s.cfg.Polling.StepTimeout = launchStepTimeout
		}
		if err := s.cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		// Local inputs are checked before anything remote happens.
		templateBody, params, err := loadInputs()
		if err != nil {
			if launch.IsInputError(err) {
				return fmt.Errorf("%w (see 'stackrun launch --help')", err)
			}
			return err
		}
		stackName := launchStackName
		if stackName == "" {
			stackName = launch.DefaultStackName(time.Now())
		}

		params, err = launch.ResolveParams(ctx, &config.Resolver{Region: s.region, Profile: s.profile}, params)
		if err != nil {
			return err
		}

		if err := lock.Acquire("", stackName); err != nil {
			return err
		}
		defer func() { _ = lock.Release("") }()

		printCredentialEnv()

		clients, err := s.clients(ctx)
		if err != nil {
			return err
		}
		c := s.components(clients, decider(launchYes, launchNo))

		runner := launch.NewRunner(launch.Deps{
			Stacks:   c.stacks,
			Resolver: awspkg.NewResolver(clients.CloudFormation, s.logger),
			Clusters: c.clusters,
			Uploader: awspkg.NewArtifactUploader(clients.S3, s.logger),
			Cleanup:  c.cleanup,
			Teardown: c.teardown,
			Logger:   s.logger,
			OnPhase: func(st *state.State) {
				if err := st.Save(""); err != nil {
					s.logger.Warn("Could not save run state", zap.Error(err))
				}
			},
		})

		s.logger.Info("Launching",
			zap.String("stack", stackName), zap.String("job", launchJobName), zap.String("region", s.region))
		res := runner.Run(ctx, launch.Plan{
			StackName:    stackName,
			TemplateBody: templateBody,
			Parameters:   params,
			Tags:         s.cfg.Stack.Tags,
			JobName:      launchJobName,
			AppPath:      launchAppPath,
			JobArgs:      args,
			Region:       s.region,
			Profile:      s.profile,
		})

		reportLaunch(res)
		if settled(res) {
			if err := state.Clear(""); err != nil {
				s.logger.Warn("Could not clear run state", zap.Error(err))
			}
		} else {
			fmt.Fprintln(os.Stderr, "Run state kept; use 'stackrun status' and 'stackrun teardown' to finish cleanup.")
		}

		if !res.Succeeded() {
			return errReported
		}
		return nil
	},
}

func loadInputs() (string, []awspkg.Parameter, error) {
	templateBody, err := launch.LoadTemplate(launchTemplate)
	if err != nil {
		return "", nil, err
	}
	params, err := launch.LoadParams(launchParams)
	if err != nil {
		return "", nil, err
	}
	if err := launch.CheckAppPath(launchAppPath); err != nil {
		return "", nil, err
	}
	return templateBody, params, nil
}

// settled reports whether nothing of the run needs further teardown.
func settled(res *launch.Result) bool {
	st := res.State
	terminated := st.ClusterID == "" || st.Reached(state.PhaseClusterTerminated)
	if !terminated {
		return false
	}
	if res.Succeeded() {
		return true
	}
	d := res.Diagnosis
	return d != nil && (d.Deleted || d.Foreign || !d.StackExists && len(d.Warnings) == 0)
}

func reportLaunch(res *launch.Result) {
	st := res.State
	fmt.Println()
	switch {
	case res.Succeeded():
		fmt.Println("Step completed successfully.")
	case res.Err != nil:
		fmt.Printf("Error: %v\n", res.Err)
	default:
		fmt.Printf("Step failed with state: %s\n", res.StepState)
	}
	if st.ClusterID != "" {
		fmt.Printf("  Cluster:  %s\n", st.ClusterID)
	}
	if st.StepID != "" {
		fmt.Printf("  Step:     %s\n", st.StepID)
	}
	if res.Cleanup != nil {
		fmt.Printf("  Cleanup:  artifact removed=%v, %d output objects removed\n",
			res.Cleanup.ArtifactDeleted, res.Cleanup.ObjectsDeleted)
		for _, w := range res.Cleanup.Warnings {
			fmt.Printf("  Cleanup warning: %s\n", w)
		}
	}
	if res.TerminateErr != nil {
		fmt.Printf("  Terminate warning: %v\n", res.TerminateErr)
	}
	if res.DiagnoseErr != nil {
		fmt.Printf("  Stack warning: %v\n", res.DiagnoseErr)
	}
}

func init() {
	f := launchCmd.Flags()
	f.StringVar(&launchTemplate, "template", "", "path to the CloudFormation template")
	f.StringVar(&launchParams, "params", "", "path to the parameters JSON (list or object)")
	f.StringVar(&launchStackName, "stack-name", "", "stack name (default: emr-test-stack-<UTC timestamp>)")
	f.StringVar(&launchJobName, "job-name", "", "step name, also used in the output prefix")
	f.StringVar(&launchAppPath, "app-path", "", "path to the local Spark application")
	f.DurationVar(&launchPollInterval, "poll-interval", 0, "cluster and step poll interval (default from config, 30s)")
	f.DurationVar(&launchReadyTimeout, "ready-timeout", 0, "give up waiting for the cluster after this long (0 waits forever)")
	f.DurationVar(&launchStepTimeout, "step-timeout", 0, "give up waiting for the step after this long (0 waits forever)")
	f.BoolVar(&launchYes, "yes", false, "delete the stack on failure without asking")
	f.BoolVar(&launchNo, "no", false, "keep the stack on failure without asking")
	launchAWS.register(launchCmd)

	for _, name := range []string{"template", "params", "job-name", "app-path"} {
		_ = launchCmd.MarkFlagRequired(name)
	}
	rootCmd.AddCommand(launchCmd)
}
