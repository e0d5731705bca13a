// Package rollback tears down a run recorded in the state file, typically
// one interrupted before its own teardown finished.
package rollback

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/stackrun/stackrun/internal/aws"
	"github.com/stackrun/stackrun/internal/cleanup"
	"github.com/stackrun/stackrun/internal/state"
	"github.com/stackrun/stackrun/internal/teardown"
)

// Rollback orchestrates teardown of a recorded run.
type Rollback struct {
	cleanup  *cleanup.Coordinator
	teardown *teardown.Controller
	state    *state.State
	logger   *zap.Logger
}

// Options controls what gets rolled back.
type Options struct {
	SkipCleanup bool
	// DeleteStack deletes the stack after the cluster is gone. The caller
	// is responsible for confirming this with the user.
	DeleteStack bool
}

// Result holds the outcome of a rollback.
type Result struct {
	Cleanup           *cleanup.Report `yaml:"cleanup,omitempty"`
	ClusterTerminated bool            `yaml:"cluster_terminated"`
	StackDeleted      bool            `yaml:"stack_deleted"`
	Errors            []string        `yaml:"errors,omitempty"`
}

// Complete reports whether nothing of the run is left behind.
func (r *Result) Complete() bool {
	return len(r.Errors) == 0 && r.StackDeleted
}

// New creates a new Rollback orchestrator.
func New(c *cleanup.Coordinator, t *teardown.Controller, st *state.State, logger *zap.Logger) *Rollback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rollback{cleanup: c, teardown: t, state: st, logger: logger}
}

// Execute performs the rollback. Each step continues even if a prior step
// fails; failures are collected in Result.Errors.
func (r *Rollback) Execute(ctx context.Context, opts Options) *Result {
	result := &Result{}
	st := r.state

	// Step 1: remove the artifact and job output
	if !opts.SkipCleanup {
		result.Cleanup = r.cleanup.Clean(ctx, cleanup.Target{
			Bucket:       st.Bucket,
			ArtifactKey:  st.ArtifactKey,
			OutputPrefix: st.OutputPrefix,
		})
		result.Errors = append(result.Errors, result.Cleanup.Warnings...)
		st.Enter(state.PhaseCleanedUp)
	}

	// Step 2: terminate the cluster
	switch {
	case st.ClusterID == "":
		result.ClusterTerminated = true
	case st.Reached(state.PhaseClusterTerminated):
		r.logger.Info("Cluster already terminated", zap.String("cluster", st.ClusterID))
		result.ClusterTerminated = true
	default:
		if err := r.teardown.TerminateCluster(ctx, st.ClusterID); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("terminating cluster: %v", err))
		} else {
			result.ClusterTerminated = true
			st.Enter(state.PhaseClusterTerminated)
		}
	}

	// Step 3: delete the stack, but only one this run created
	if opts.DeleteStack && st.StackName != "" {
		err := r.teardown.CheckOwner(ctx, st.StackName, st.RunID)
		switch {
		case errors.Is(err, aws.ErrStackNotFound):
			r.logger.Info("Stack already gone", zap.String("stack", st.StackName))
			result.StackDeleted = true
		case err != nil:
			result.Errors = append(result.Errors, fmt.Sprintf("not deleting stack: %v", err))
		default:
			if err := r.teardown.DeleteStack(ctx, st.StackName); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("deleting stack: %v", err))
			} else {
				result.StackDeleted = true
			}
		}
	}

	return result
}
