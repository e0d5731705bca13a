// Package launch runs one job on an ephemeral cluster: provision the stack,
// wait for the cluster, upload and run the step, then clean up and
// terminate on every exit path.
package launch

import (
	"context"
	"errors"

	emrtypes "github.com/aws/aws-sdk-go-v2/service/emr/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stackrun/stackrun/internal/aws"
	"github.com/stackrun/stackrun/internal/cleanup"
	"github.com/stackrun/stackrun/internal/state"
	"github.com/stackrun/stackrun/internal/teardown"
)

// RunIDTag is the stack tag carrying the run id.
const RunIDTag = aws.RunIDTag

// Plan is everything a run needs to know up front.
type Plan struct {
	StackName    string
	TemplateBody string
	Parameters   []aws.Parameter
	Tags         map[string]string

	JobName string
	AppPath string
	JobArgs []string

	// Region and Profile are recorded in the run state for later teardown.
	Region  string
	Profile string
}

// Deps are the components a Runner drives.
type Deps struct {
	Stacks   *aws.StackProvisioner
	Resolver *aws.Resolver
	Clusters *aws.ClusterManager
	Uploader *aws.ArtifactUploader
	Cleanup  *cleanup.Coordinator
	Teardown *teardown.Controller
	Logger   *zap.Logger

	// OnPhase receives the run record after every change. Optional.
	OnPhase func(*state.State)
	// NewRunID defaults to a random UUID.
	NewRunID func() string
}

// Result is the outcome of a run.
type Result struct {
	State     *state.State
	StepState emrtypes.StepState

	// Err is the stage failure that ended the run, if any. A step that
	// finishes in a state other than COMPLETED is not an error.
	Err error

	Cleanup      *cleanup.Report
	TerminateErr error

	Diagnosis   *teardown.Diagnosis
	DiagnoseErr error
}

// Succeeded reports whether the step completed.
func (r *Result) Succeeded() bool {
	return r.Err == nil && r.StepState == emrtypes.StepStateCompleted
}

// ExitCode is 0 for a completed step and 1 otherwise.
func (r *Result) ExitCode() int {
	if r.Succeeded() {
		return 0
	}
	return 1
}

// Runner executes plans.
type Runner struct {
	deps   Deps
	logger *zap.Logger
}

// NewRunner creates a runner.
func NewRunner(deps Deps) *Runner {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.NewRunID == nil {
		deps.NewRunID = func() string { return uuid.NewString() }
	}
	return &Runner{deps: deps, logger: deps.Logger}
}

// Run executes plan. Once the cluster id is known, cleanup and then
// termination run on every exit path, on a context that survives
// cancellation of ctx. Any failure, or a step that did not complete, ends
// in stack diagnostics.
func (r *Runner) Run(ctx context.Context, plan Plan) *Result {
	st := state.New(r.deps.NewRunID(), plan.StackName)
	st.JobName = plan.JobName
	st.Region = plan.Region
	st.Profile = plan.Profile
	res := &Result{State: st}

	res.Err = r.execute(ctx, plan, res)
	if res.Err != nil {
		st.Error = res.Err.Error()
		stage, _ := aws.StageOf(res.Err)
		r.logger.Error("Run failed", zap.String("stage", string(stage)), zap.Error(res.Err))
	}

	if !res.Succeeded() {
		r.enter(st, state.PhaseDiagnostic)
		res.Diagnosis, res.DiagnoseErr = r.deps.Teardown.Diagnose(context.WithoutCancel(ctx), plan.StackName, st.RunID)
		if res.DiagnoseErr != nil {
			r.logger.Warn("Unable to inspect or delete stack", zap.Error(res.DiagnoseErr))
		}
	}
	return res
}

func (r *Runner) execute(ctx context.Context, plan Plan, res *Result) error {
	st := res.State

	tags := make(map[string]string, len(plan.Tags)+1)
	for k, v := range plan.Tags {
		tags[k] = v
	}
	tags[RunIDTag] = st.RunID

	r.enter(st, state.PhaseProvisioning)
	err := r.deps.Stacks.Create(ctx, aws.StackSpec{
		Name:         plan.StackName,
		TemplateBody: plan.TemplateBody,
		Parameters:   plan.Parameters,
		Tags:         tags,
	})
	if err != nil {
		return err
	}

	clusterID, err := r.deps.Resolver.ClusterID(ctx, plan.StackName)
	if err != nil {
		return err
	}
	st.ClusterID = clusterID
	r.logger.Info("Cluster resolved", zap.String("cluster", clusterID))

	defer r.release(ctx, res)

	r.enter(st, state.PhaseAwaitingReady)
	if err := r.deps.Clusters.WaitReady(ctx, clusterID); err != nil {
		return err
	}

	bucket, err := r.deps.Resolver.ArtifactBucket(ctx, plan.StackName)
	if err != nil {
		return err
	}
	st.Bucket = bucket

	r.enter(st, state.PhaseUploading)
	key, err := r.deps.Uploader.Upload(ctx, bucket, plan.StackName, plan.AppPath)
	if err != nil {
		return err
	}
	st.ArtifactKey = key
	st.OutputPrefix = aws.OutputPrefix(plan.StackName, plan.JobName)
	r.save(st)

	stepID, err := r.deps.Clusters.SubmitStep(ctx, clusterID, aws.StepSpec{
		Name:        plan.JobName,
		ArtifactURI: aws.S3URI(bucket, key),
		OutputURI:   aws.S3URI(bucket, st.OutputPrefix),
		Args:        plan.JobArgs,
	})
	if err != nil {
		return err
	}
	st.StepID = stepID
	r.enter(st, state.PhaseSubmitted)
	r.logger.Info("Submitted step", zap.String("step", stepID))

	r.enter(st, state.PhaseAwaitingStep)
	stepState, err := r.deps.Clusters.WaitStep(ctx, clusterID, stepID)
	if err != nil {
		return err
	}
	res.StepState = stepState
	st.StepState = string(stepState)

	if stepState == emrtypes.StepStateCompleted {
		r.enter(st, state.PhaseSucceeded)
		r.logger.Info("Step completed successfully", zap.String("step", stepID))
	} else {
		r.enter(st, state.PhaseStepFailed)
		r.logger.Warn("Step did not complete", zap.String("step", stepID), zap.String("state", string(stepState)))
	}
	return nil
}

// release removes the run's objects and then terminates the cluster.
// Failures are recorded as warnings and never replace the run's error.
func (r *Runner) release(ctx context.Context, res *Result) {
	ctx = context.WithoutCancel(ctx)
	st := res.State

	res.Cleanup = r.deps.Cleanup.Clean(ctx, cleanup.Target{
		Bucket:       st.Bucket,
		ArtifactKey:  st.ArtifactKey,
		OutputPrefix: st.OutputPrefix,
	})
	for _, w := range res.Cleanup.Warnings {
		r.logger.Warn("Cleanup warning", zap.String("detail", w))
	}
	r.enter(st, state.PhaseCleanedUp)

	if err := r.deps.Teardown.TerminateCluster(ctx, st.ClusterID); err != nil {
		res.TerminateErr = err
		r.logger.Warn("Terminate warning", zap.String("cluster", st.ClusterID), zap.Error(err))
		return
	}
	r.enter(st, state.PhaseClusterTerminated)
}

func (r *Runner) enter(st *state.State, phase state.Phase) {
	st.Enter(phase)
	r.logger.Info("Run phase", zap.String("run", st.RunID), zap.String("phase", string(phase)))
	r.save(st)
}

func (r *Runner) save(st *state.State) {
	if r.deps.OnPhase != nil {
		r.deps.OnPhase(st)
	}
}

// IsInputError reports whether err came from validating local inputs.
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}
