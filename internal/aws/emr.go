package aws

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/emr"
	"github.com/aws/aws-sdk-go-v2/service/emr/types"
	"go.uber.org/zap"

	"github.com/stackrun/stackrun/internal/poll"
)

const (
	// OutputFlag is the job argument carrying the output location.
	OutputFlag = "--output-s3"

	DefaultTerminateTimeout = 30 * time.Minute

	stepJar = "command-runner.jar"
)

// ClusterOptions configures polling. Zero timeouts wait indefinitely, except
// TerminateTimeout which falls back to DefaultTerminateTimeout.
type ClusterOptions struct {
	PollInterval     time.Duration
	ReadyTimeout     time.Duration
	StepTimeout      time.Duration
	TerminateTimeout time.Duration
}

// StepSpec describes the single step submitted to the cluster.
type StepSpec struct {
	Name        string
	ArtifactURI string
	OutputURI   string
	Args        []string
}

// ClusterManager drives an EMR cluster: readiness, one step, termination.
type ClusterManager struct {
	api    ClusterAPI
	logger *zap.Logger
	opts   ClusterOptions
}

// NewClusterManager creates a cluster manager.
func NewClusterManager(api ClusterAPI, logger *zap.Logger, opts ClusterOptions) *ClusterManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = poll.DefaultInterval
	}
	if opts.TerminateTimeout <= 0 {
		opts.TerminateTimeout = DefaultTerminateTimeout
	}
	return &ClusterManager{api: api, logger: logger, opts: opts}
}

// State returns the cluster state and its state change message.
func (m *ClusterManager) State(ctx context.Context, clusterID string) (types.ClusterState, string, error) {
	out, err := m.api.DescribeCluster(ctx, &emr.DescribeClusterInput{ClusterId: aws.String(clusterID)})
	if err != nil {
		return "", "", fmt.Errorf("describing cluster %s: %w", clusterID, err)
	}
	if out.Cluster == nil || out.Cluster.Status == nil {
		return "", "", fmt.Errorf("describing cluster %s: empty status", clusterID)
	}

	message := ""
	if r := out.Cluster.Status.StateChangeReason; r != nil {
		message = aws.ToString(r.Message)
	}
	return out.Cluster.Status.State, message, nil
}

// WaitReady polls until the cluster is WAITING. A terminated cluster fails
// immediately with ErrClusterFailed.
func (m *ClusterManager) WaitReady(ctx context.Context, clusterID string) error {
	p := poll.New(m.opts.PollInterval, m.opts.ReadyTimeout)
	err := p.Until(ctx, func(ctx context.Context) (bool, error) {
		state, message, err := m.State(ctx, clusterID)
		if err != nil {
			return false, err
		}
		m.logger.Info("Cluster status", zap.String("cluster", clusterID), zap.String("state", string(state)))

		switch state {
		case types.ClusterStateWaiting:
			return true, nil
		case types.ClusterStateTerminated, types.ClusterStateTerminatedWithErrors:
			return false, fmt.Errorf("cluster %s is %s: %s", clusterID, state, message)
		}
		return false, nil
	})
	if err != nil {
		return stageErr(StageReady, ErrClusterFailed, err)
	}
	return nil
}

// SubmitStep adds the job step to the cluster and returns its id.
func (m *ClusterManager) SubmitStep(ctx context.Context, clusterID string, spec StepSpec) (string, error) {
	args := StepArgs(spec)
	m.logger.Info("Submitting step",
		zap.String("cluster", clusterID), zap.String("step", spec.Name), zap.Strings("args", args))

	out, err := m.api.AddJobFlowSteps(ctx, &emr.AddJobFlowStepsInput{
		JobFlowId: aws.String(clusterID),
		Steps: []types.StepConfig{
			{
				Name:            aws.String(spec.Name),
				ActionOnFailure: types.ActionOnFailureContinue,
				HadoopJarStep: &types.HadoopJarStepConfig{
					Jar:  aws.String(stepJar),
					Args: args,
				},
			},
		},
	})
	if err != nil {
		return "", stageErr(StageSubmit, ErrSubmission, fmt.Errorf("adding step to cluster %s: %w", clusterID, err))
	}
	if len(out.StepIds) == 0 {
		return "", stageErr(StageSubmit, ErrSubmission, fmt.Errorf("cluster %s returned no step id", clusterID))
	}
	return out.StepIds[0], nil
}

// StepState returns the step state and, for failed steps, the failure reason.
func (m *ClusterManager) StepState(ctx context.Context, clusterID, stepID string) (types.StepState, string, error) {
	out, err := m.api.DescribeStep(ctx, &emr.DescribeStepInput{
		ClusterId: aws.String(clusterID),
		StepId:    aws.String(stepID),
	})
	if err != nil {
		return "", "", fmt.Errorf("describing step %s: %w", stepID, err)
	}
	if out.Step == nil || out.Step.Status == nil {
		return "", "", fmt.Errorf("describing step %s: empty status", stepID)
	}

	reason := ""
	if fd := out.Step.Status.FailureDetails; fd != nil {
		reason = strings.TrimSpace(aws.ToString(fd.Reason) + " " + aws.ToString(fd.Message))
	}
	return out.Step.Status.State, reason, nil
}

// WaitStep polls the step until it reaches a terminal state and returns it.
// A FAILED step is a result, not an error.
func (m *ClusterManager) WaitStep(ctx context.Context, clusterID, stepID string) (types.StepState, error) {
	var final types.StepState
	p := poll.New(m.opts.PollInterval, m.opts.StepTimeout)
	err := p.Until(ctx, func(ctx context.Context) (bool, error) {
		state, reason, err := m.StepState(ctx, clusterID, stepID)
		if err != nil {
			return false, err
		}
		fields := []zap.Field{zap.String("step", stepID), zap.String("state", string(state))}
		if reason != "" {
			fields = append(fields, zap.String("reason", reason))
		}
		m.logger.Info("Step status", fields...)

		if IsTerminalStep(state) {
			final = state
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return "", stageErr(StageWatch, ErrStepStatus, err)
	}
	return final, nil
}

// Terminate terminates the cluster and blocks until it is TERMINATED or
// TERMINATED_WITH_ERRORS. A cluster that already ended on its own counts as
// terminated even if the request is refused.
func (m *ClusterManager) Terminate(ctx context.Context, clusterID string) error {
	m.logger.Info("Terminating cluster", zap.String("cluster", clusterID))
	_, err := m.api.TerminateJobFlows(ctx, &emr.TerminateJobFlowsInput{
		JobFlowIds: []string{clusterID},
	})
	if err != nil {
		if state, _, serr := m.State(ctx, clusterID); serr == nil && IsTerminalCluster(state) {
			m.logger.Info("Cluster already terminated", zap.String("cluster", clusterID), zap.String("state", string(state)))
			return nil
		}
		return fmt.Errorf("terminating cluster %s: %w", clusterID, err)
	}

	waiter := emr.NewClusterTerminatedWaiter(m.api, func(o *emr.ClusterTerminatedWaiterOptions) {
		o.MinDelay, o.MaxDelay = m.opts.PollInterval, m.opts.PollInterval
		o.Retryable = clusterGone
	})
	if err := waiter.Wait(ctx, &emr.DescribeClusterInput{ClusterId: aws.String(clusterID)}, m.opts.TerminateTimeout); err != nil {
		return fmt.Errorf("waiting for cluster %s termination: %w", clusterID, waiterTimeout(err))
	}
	m.logger.Info("Cluster terminated", zap.String("cluster", clusterID))
	return nil
}

// clusterGone keeps the terminate waiter polling until the cluster reaches
// either terminal state. The SDK default treats TERMINATED_WITH_ERRORS as a
// failure, but after a terminate request it is just as final.
func clusterGone(_ context.Context, _ *emr.DescribeClusterInput, out *emr.DescribeClusterOutput, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	if out == nil || out.Cluster == nil || out.Cluster.Status == nil {
		return true, nil
	}
	return !IsTerminalCluster(out.Cluster.Status.State), nil
}

// IsTerminalCluster reports whether the cluster has ended.
func IsTerminalCluster(state types.ClusterState) bool {
	return state == types.ClusterStateTerminated || state == types.ClusterStateTerminatedWithErrors
}

// IsTerminalStep reports whether a step state is final.
func IsTerminalStep(state types.StepState) bool {
	switch state {
	case types.StepStateCompleted, types.StepStateFailed, types.StepStateCancelled, types.StepStateInterrupted:
		return true
	}
	return false
}

// StepArgs builds the command-runner arguments for spec.
func StepArgs(spec StepSpec) []string {
	args := make([]string, 0, len(spec.Args)+4)
	args = append(args, "spark-submit", spec.ArtifactURI)
	args = append(args, WithOutputLocation(spec.Args, spec.OutputURI)...)
	return args
}

// WithOutputLocation appends OutputFlag and uri unless args already carry an
// output flag. The input slice is never modified.
func WithOutputLocation(args []string, uri string) []string {
	out := append([]string(nil), args...)
	if uri == "" || HasOutputFlag(args) {
		return out
	}
	return append(out, OutputFlag, uri)
}

// HasOutputFlag reports whether args contain OutputFlag, either bare or in
// the --flag=value form.
func HasOutputFlag(args []string) bool {
	for _, a := range args {
		if a == OutputFlag || strings.HasPrefix(a, OutputFlag+"=") {
			return true
		}
	}
	return false
}
