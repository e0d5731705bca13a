package aws

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	emrtypes "github.com/aws/aws-sdk-go-v2/service/emr/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastCluster(api ClusterAPI) *ClusterManager {
	return NewClusterManager(api, nil, ClusterOptions{PollInterval: time.Millisecond})
}

func TestClusterManager_WaitReady(t *testing.T) {
	api := NewMockClusterAPI(nil)
	api.ClusterStates = []emrtypes.ClusterState{
		emrtypes.ClusterStateStarting,
		emrtypes.ClusterStateBootstrapping,
		emrtypes.ClusterStateRunning,
		emrtypes.ClusterStateWaiting,
	}

	require.NoError(t, fastCluster(api).WaitReady(context.Background(), "j-1"))
	assert.Equal(t, 4, api.DescribeClusterCalls)
}

func TestClusterManager_WaitReadyTerminatedWithErrors(t *testing.T) {
	api := NewMockClusterAPI(nil)
	api.ClusterStates = []emrtypes.ClusterState{
		emrtypes.ClusterStateStarting,
		emrtypes.ClusterStateTerminatedWithErrors,
		emrtypes.ClusterStateWaiting,
	}
	api.StateMessage = "bootstrap action 1 failed"

	err := fastCluster(api).WaitReady(context.Background(), "j-1")
	require.ErrorIs(t, err, ErrClusterFailed)
	assert.Contains(t, err.Error(), "bootstrap action 1 failed")
	assert.Equal(t, 1, strings.Count(err.Error(), ErrClusterFailed.Error()), err.Error())
	assert.Equal(t, 2, api.DescribeClusterCalls, "no checks after a terminal state")
}

func TestClusterManager_WaitReadyTimeout(t *testing.T) {
	api := NewMockClusterAPI(nil)
	api.ClusterStates = []emrtypes.ClusterState{emrtypes.ClusterStateStarting}
	m := NewClusterManager(api, nil, ClusterOptions{PollInterval: time.Millisecond, ReadyTimeout: 10 * time.Millisecond})

	err := m.WaitReady(context.Background(), "j-1")
	require.ErrorIs(t, err, ErrTimeout)
	require.ErrorIs(t, err, ErrClusterFailed)
}

func TestClusterManager_SubmitStepInjectsOutput(t *testing.T) {
	api := NewMockClusterAPI(nil)
	id, err := fastCluster(api).SubmitStep(context.Background(), "j-1", StepSpec{
		Name:        "wc1",
		ArtifactURI: "s3://bucket/apps/stack/job.py",
		OutputURI:   "s3://bucket/outputs/stack/wc1/",
		Args:        []string{"--input", "s3://data/in"},
	})
	require.NoError(t, err)
	assert.Equal(t, "s-TESTSTEP", id)

	require.Len(t, api.SubmittedSteps, 1)
	step := api.SubmittedSteps[0]
	assert.Equal(t, "wc1", aws.ToString(step.Name))
	assert.Equal(t, emrtypes.ActionOnFailureContinue, step.ActionOnFailure)
	assert.Equal(t, "command-runner.jar", aws.ToString(step.HadoopJarStep.Jar))
	assert.Equal(t, []string{
		"spark-submit", "s3://bucket/apps/stack/job.py",
		"--input", "s3://data/in",
		"--output-s3", "s3://bucket/outputs/stack/wc1/",
	}, step.HadoopJarStep.Args)
}

func TestClusterManager_SubmitStepFails(t *testing.T) {
	api := NewMockClusterAPI(nil)
	api.AddStepsErr = errors.New("cluster not accepting steps")

	_, err := fastCluster(api).SubmitStep(context.Background(), "j-1", StepSpec{Name: "wc1"})
	require.ErrorIs(t, err, ErrSubmission)
}

func TestWithOutputLocation(t *testing.T) {
	uri := "s3://b/outputs/s/j/"

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"absent", []string{"--x", "1"}, []string{"--x", "1", "--output-s3", uri}},
		{"empty", nil, []string{"--output-s3", uri}},
		{"present", []string{"--output-s3", "s3://mine/"}, []string{"--output-s3", "s3://mine/"}},
		{"present with equals", []string{"--output-s3=s3://mine/"}, []string{"--output-s3=s3://mine/"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WithOutputLocation(tt.args, uri)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, WithOutputLocation(got, uri), "applying twice adds nothing")
		})
	}
}

func TestWithOutputLocation_DoesNotMutateInput(t *testing.T) {
	args := make([]string, 1, 8)
	args[0] = "--x"
	_ = WithOutputLocation(args, "s3://b/o/")
	assert.Equal(t, []string{"--x"}, args)
	assert.Equal(t, "", args[:2][1])
}

func TestClusterManager_WaitStep(t *testing.T) {
	for _, final := range []emrtypes.StepState{
		emrtypes.StepStateCompleted,
		emrtypes.StepStateFailed,
		emrtypes.StepStateCancelled,
		emrtypes.StepStateInterrupted,
	} {
		t.Run(string(final), func(t *testing.T) {
			api := NewMockClusterAPI(nil)
			api.StepStates = []emrtypes.StepState{emrtypes.StepStatePending, emrtypes.StepStateRunning, final}

			got, err := fastCluster(api).WaitStep(context.Background(), "j-1", "s-1")
			require.NoError(t, err, "terminal states are results, not errors")
			assert.Equal(t, final, got)
			assert.Equal(t, 3, api.DescribeStepCalls)
		})
	}
}

func TestClusterManager_WaitStepTransportError(t *testing.T) {
	api := NewMockClusterAPI(nil)
	api.StepErr = errors.New("connection reset")

	_, err := fastCluster(api).WaitStep(context.Background(), "j-1", "s-1")
	require.ErrorIs(t, err, ErrStepStatus)
}

func TestClusterManager_Terminate(t *testing.T) {
	api := NewMockClusterAPI(nil)

	require.NoError(t, fastCluster(api).Terminate(context.Background(), "j-1"))
	assert.True(t, api.Terminated)
	assert.Equal(t, []string{"j-1"}, api.TerminatedIDs)
}

func TestClusterManager_TerminateRequestFails(t *testing.T) {
	api := NewMockClusterAPI(nil)
	api.TerminateErr = errors.New("denied")

	require.Error(t, fastCluster(api).Terminate(context.Background(), "j-1"))
	assert.Equal(t, 1, api.DescribeClusterCalls, "only the state check, no waiting")
}

func TestClusterManager_TerminateAfterFailedStart(t *testing.T) {
	api := NewMockClusterAPI(nil)
	api.ClusterStates = []emrtypes.ClusterState{emrtypes.ClusterStateTerminatedWithErrors}
	m := NewClusterManager(api, nil, ClusterOptions{PollInterval: time.Millisecond, TerminateTimeout: time.Second})

	require.NoError(t, m.Terminate(context.Background(), "j-1"))
	assert.Equal(t, []string{"j-1"}, api.TerminatedIDs)

	state, _, err := m.State(context.Background(), "j-1")
	require.NoError(t, err)
	assert.Equal(t, emrtypes.ClusterStateTerminatedWithErrors, state, "a terminal state sticks")
}

func TestClusterManager_TerminateRefusedForEndedCluster(t *testing.T) {
	api := NewMockClusterAPI(nil)
	api.ClusterStates = []emrtypes.ClusterState{emrtypes.ClusterStateTerminated}
	api.TerminateErr = errors.New("ValidationException: cluster is terminated")

	require.NoError(t, fastCluster(api).Terminate(context.Background(), "j-1"))
}

func TestClusterManager_TerminateWaitsThroughTerminating(t *testing.T) {
	api := NewMockClusterAPI(nil)
	api.ClusterStates = []emrtypes.ClusterState{
		emrtypes.ClusterStateTerminating,
		emrtypes.ClusterStateTerminating,
		emrtypes.ClusterStateTerminatedWithErrors,
	}
	m := NewClusterManager(api, nil, ClusterOptions{PollInterval: time.Millisecond, TerminateTimeout: time.Second})

	require.NoError(t, m.Terminate(context.Background(), "j-1"))
	assert.Equal(t, 3, api.DescribeClusterCalls)
}
