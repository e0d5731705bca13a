package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	awspkg "github.com/stackrun/stackrun/internal/aws"
	"github.com/stackrun/stackrun/internal/cleanup"
	"github.com/stackrun/stackrun/internal/config"
	"github.com/stackrun/stackrun/internal/confirm"
	"github.com/stackrun/stackrun/internal/logging"
	"github.com/stackrun/stackrun/internal/teardown"
)

// awsFlags are shared by the commands that talk to AWS.
type awsFlags struct {
	region  string
	profile string
	envFile string
}

func (f *awsFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.region, "region", "", "AWS region (overrides config and AWS_REGION)")
	cmd.Flags().StringVar(&f.profile, "profile", "", "AWS shared config profile")
	cmd.Flags().StringVar(&f.envFile, "env-file", "", "env file to load without overriding set variables (default: ./.env if present)")
}

// session is what every AWS command starts from.
type session struct {
	cfg     *config.Config
	logger  *zap.Logger
	closeFn func()
	region  string
	profile string
}

func (s *session) close() {
	if s.closeFn != nil {
		s.closeFn()
	}
}

func loadSession(flags *awsFlags) (*session, error) {
	if flags != nil {
		if _, err := config.LoadEnvFile(flags.envFile); err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	logger, closeFn, err := logging.Setup(level, cfg.Logging.Directory)
	if err != nil {
		return nil, fmt.Errorf("setting up logging: %w", err)
	}

	s := &session{cfg: cfg, logger: logger, closeFn: closeFn, region: cfg.AWS.Region, profile: cfg.AWS.Profile}
	if flags != nil {
		if flags.region != "" {
			s.region = flags.region
		}
		if flags.profile != "" {
			s.profile = flags.profile
		}
	}
	return s, nil
}

func (s *session) clients(ctx context.Context) (*awspkg.Clients, error) {
	awsCfg, err := awspkg.LoadConfig(ctx, s.profile, s.region)
	if err != nil {
		return nil, err
	}
	s.region = awsCfg.Region
	return awspkg.NewClients(awsCfg), nil
}

func (s *session) stackOptions() awspkg.StackOptions {
	return awspkg.StackOptions{
		CreateTimeout: s.cfg.Stack.CreateTimeout,
		DeleteTimeout: s.cfg.Stack.DeleteTimeout,
	}
}

func (s *session) clusterOptions() awspkg.ClusterOptions {
	return awspkg.ClusterOptions{
		PollInterval:     s.cfg.Polling.Interval,
		ReadyTimeout:     s.cfg.Polling.ReadyTimeout,
		StepTimeout:      s.cfg.Polling.StepTimeout,
		TerminateTimeout: s.cfg.Polling.TerminateTimeout,
	}
}

// components wires the teardown side shared by launch and teardown.
type components struct {
	stacks   *awspkg.StackProvisioner
	clusters *awspkg.ClusterManager
	cleanup  *cleanup.Coordinator
	teardown *teardown.Controller
}

func (s *session) components(c *awspkg.Clients, decider confirm.Decider) *components {
	stacks := awspkg.NewStackProvisioner(c.CloudFormation, s.logger, s.stackOptions())
	clusters := awspkg.NewClusterManager(c.EMR, s.logger, s.clusterOptions())
	return &components{
		stacks:   stacks,
		clusters: clusters,
		cleanup:  cleanup.NewCoordinator(awspkg.NewObjectStore(c.S3), s.logger, awspkg.MaxDeleteBatch),
		teardown: teardown.New(clusters, stacks, decider, os.Stdout, s.logger),
	}
}

// decider picks the confirmation source from --yes/--no, falling back to
// asking on the terminal.
func decider(yes, no bool) confirm.Decider {
	switch {
	case yes:
		return confirm.Fixed(true)
	case no:
		return confirm.Fixed(false)
	}
	return confirm.Auto(os.Stdin, os.Stdout)
}

// signalContext is cancelled on SIGINT or SIGTERM. After the first signal
// the default handling is restored so a second one exits immediately.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()
	return ctx, stop
}

func printCredentialEnv() {
	fmt.Println("Using AWS credentials:")
	for _, v := range config.CredentialEnv(os.Getenv) {
		fmt.Printf("- %s=%s\n", v.Name, v.Value)
	}
}
