package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"go.uber.org/zap"
)

// Target names a resource the resolver can locate in a stack.
type Target struct {
	Name         string
	OutputKey    string
	ResourceType string
}

var (
	// ClusterTarget locates the EMR cluster id.
	ClusterTarget = Target{Name: "cluster", OutputKey: "ClusterId", ResourceType: "AWS::EMR::Cluster"}

	// BucketTarget locates the artifact bucket name.
	BucketTarget = Target{Name: "artifact bucket", OutputKey: "ArtifactBucketName", ResourceType: "AWS::S3::Bucket"}
)

// Resolver finds physical identifiers produced by a stack. A named output
// always wins over the resource scan; among resources the first match wins.
type Resolver struct {
	api    StackAPI
	stacks *StackProvisioner
	logger *zap.Logger
}

// NewResolver creates a resolver backed by the given CloudFormation API.
func NewResolver(api StackAPI, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		api:    api,
		stacks: NewStackProvisioner(api, logger, StackOptions{}),
		logger: logger,
	}
}

// ClusterID resolves the stack's EMR cluster id.
func (r *Resolver) ClusterID(ctx context.Context, stackName string) (string, error) {
	return r.Resolve(ctx, stackName, ClusterTarget)
}

// ArtifactBucket resolves the stack's artifact bucket name.
func (r *Resolver) ArtifactBucket(ctx context.Context, stackName string) (string, error) {
	return r.Resolve(ctx, stackName, BucketTarget)
}

// Resolve returns the output value for t.OutputKey or, failing that, the
// physical id of the first resource of type t.ResourceType.
func (r *Resolver) Resolve(ctx context.Context, stackName string, t Target) (string, error) {
	outputs, err := r.stacks.Outputs(ctx, stackName)
	if err != nil {
		return "", stageErr(StageResolve, ErrResolution, err)
	}
	if v, ok := outputs[t.OutputKey]; ok && v != "" {
		r.logger.Debug("Resolved from stack output",
			zap.String("target", t.Name), zap.String("output", t.OutputKey), zap.String("value", v))
		return v, nil
	}

	paginator := cloudformation.NewListStackResourcesPaginator(r.api, &cloudformation.ListStackResourcesInput{
		StackName: aws.String(stackName),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return "", stageErr(StageResolve, ErrResolution, fmt.Errorf("listing resources of stack %s: %w", stackName, err))
		}
		for _, res := range page.StackResourceSummaries {
			if aws.ToString(res.ResourceType) != t.ResourceType {
				continue
			}
			id := aws.ToString(res.PhysicalResourceId)
			if id == "" {
				continue
			}
			r.logger.Debug("Resolved from stack resource",
				zap.String("target", t.Name), zap.String("logical_id", aws.ToString(res.LogicalResourceId)), zap.String("value", id))
			return id, nil
		}
	}

	return "", stageErr(StageResolve, ErrResolution,
		fmt.Errorf("%s not found in outputs (%s) or resources (%s) of stack %s", t.Name, t.OutputKey, t.ResourceType, stackName))
}
