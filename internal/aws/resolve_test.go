package aws

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resource(logicalID, typ, physicalID string) cfntypes.StackResourceSummary {
	return cfntypes.StackResourceSummary{
		LogicalResourceId:  aws.String(logicalID),
		ResourceType:       aws.String(typ),
		PhysicalResourceId: aws.String(physicalID),
	}
}

func TestResolver_OutputWinsOverResource(t *testing.T) {
	api := NewMockStackAPI(nil)
	api.Outputs = map[string]string{"ClusterId": "j-FROMOUTPUT"}
	api.Resources = []cfntypes.StackResourceSummary{resource("Cluster", "AWS::EMR::Cluster", "j-FROMRESOURCE")}

	id, err := NewResolver(api, nil).ClusterID(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, "j-FROMOUTPUT", id)
	assert.Zero(t, api.ResourceCalls, "resources are not listed when the output exists")
}

func TestResolver_FallsBackToFirstMatchingResource(t *testing.T) {
	api := NewMockStackAPI(nil)
	api.PageSize = 2
	api.Resources = []cfntypes.StackResourceSummary{
		resource("Role", "AWS::IAM::Role", "role"),
		resource("Profile", "AWS::IAM::InstanceProfile", "profile"),
		resource("Logs", "AWS::S3::Bucket", "logs-bucket"),
		resource("Artifacts", "AWS::S3::Bucket", "artifact-bucket"),
	}

	bucket, err := NewResolver(api, nil).ArtifactBucket(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, "logs-bucket", bucket)
	assert.Equal(t, 2, api.ResourceCalls)
}

func TestResolver_NothingFound(t *testing.T) {
	api := NewMockStackAPI(nil)
	api.Resources = []cfntypes.StackResourceSummary{resource("Role", "AWS::IAM::Role", "role")}

	_, err := NewResolver(api, nil).ClusterID(context.Background(), "s")
	require.ErrorIs(t, err, ErrResolution)
	stage, _ := StageOf(err)
	assert.Equal(t, StageResolve, stage)
	assert.Contains(t, err.Error(), "ClusterId")
}

func TestResolver_EmptyOutputIgnored(t *testing.T) {
	api := NewMockStackAPI(nil)
	api.Outputs = map[string]string{"ArtifactBucketName": ""}
	api.Resources = []cfntypes.StackResourceSummary{resource("Bucket", "AWS::S3::Bucket", "b")}

	bucket, err := NewResolver(api, nil).ArtifactBucket(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, "b", bucket)
}
