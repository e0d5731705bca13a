package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/emr"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// Clients bundles one SDK client per service. Components receive only the
// narrow interface they need.
type Clients struct {
	Region         string
	CloudFormation *cloudformation.Client
	EMR            *emr.Client
	S3             *s3.Client
	STS            *sts.Client
	IAM            *iam.Client
}

// LoadConfig loads the default AWS config with an optional shared profile and
// region override. Credentials come from the SDK default chain.
func LoadConfig(ctx context.Context, profile, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	if cfg.Region == "" {
		return aws.Config{}, fmt.Errorf("no AWS region configured (set --region, aws.region or AWS_REGION)")
	}
	return cfg, nil
}

// NewClients creates the service clients from a loaded config.
func NewClients(cfg aws.Config) *Clients {
	return &Clients{
		Region:         cfg.Region,
		CloudFormation: cloudformation.NewFromConfig(cfg),
		EMR:            emr.NewFromConfig(cfg),
		S3:             s3.NewFromConfig(cfg),
		STS:            sts.NewFromConfig(cfg),
		IAM:            iam.NewFromConfig(cfg),
	}
}
