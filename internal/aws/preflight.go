package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// RequiredActions are the IAM actions a launch needs.
var RequiredActions = []string{
	"cloudformation:CreateStack",
	"cloudformation:DescribeStacks",
	"cloudformation:DescribeStackEvents",
	"cloudformation:ListStackResources",
	"cloudformation:DeleteStack",
	"elasticmapreduce:DescribeCluster",
	"elasticmapreduce:AddJobFlowSteps",
	"elasticmapreduce:DescribeStep",
	"elasticmapreduce:TerminateJobFlows",
	"s3:PutObject",
	"s3:DeleteObject",
	"s3:ListBucket",
}

// CallerIdentity holds AWS STS caller identity information.
type CallerIdentity struct {
	Account string
	ARN     string
	UserID  string
}

// ActionCheck is the simulated decision for one IAM action.
type ActionCheck struct {
	Action   string
	Allowed  bool
	Decision string
}

// AccessReport summarises a permission check.
type AccessReport struct {
	Identity *CallerIdentity
	Checks   []ActionCheck
	// Simulated is false when the caller may not call SimulatePrincipalPolicy.
	Simulated bool
}

// Denied returns the actions that were not allowed.
func (r *AccessReport) Denied() []string {
	var out []string
	for _, c := range r.Checks {
		if !c.Allowed {
			out = append(out, c.Action)
		}
	}
	return out
}

// AccessChecker verifies credentials and simulates the required IAM actions.
type AccessChecker struct {
	identity IdentityAPI
	policy   PolicyAPI
}

// NewAccessChecker creates an access checker.
func NewAccessChecker(identity IdentityAPI, policy PolicyAPI) *AccessChecker {
	return &AccessChecker{identity: identity, policy: policy}
}

// VerifyCredentials checks the current AWS credentials using STS.
func (c *AccessChecker) VerifyCredentials(ctx context.Context) (*CallerIdentity, error) {
	out, err := c.identity.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("getting caller identity: %w", err)
	}

	return &CallerIdentity{
		Account: aws.ToString(out.Account),
		ARN:     aws.ToString(out.Arn),
		UserID:  aws.ToString(out.UserId),
	}, nil
}

// Check resolves the caller and simulates actions against all resources.
func (c *AccessChecker) Check(ctx context.Context, actions []string) (*AccessReport, error) {
	identity, err := c.VerifyCredentials(ctx)
	if err != nil {
		return nil, err
	}
	report := &AccessReport{Identity: identity}

	out, err := c.policy.SimulatePrincipalPolicy(ctx, &iam.SimulatePrincipalPolicyInput{
		PolicySourceArn: aws.String(identity.ARN),
		ActionNames:     actions,
		ResourceArns:    []string{"*"},
	})
	if err != nil {
		// Not being allowed to simulate says nothing about the actions.
		return report, nil
	}
	report.Simulated = true

	decisions := make(map[string]iamtypes.PolicyEvaluationDecisionType, len(out.EvaluationResults))
	for _, result := range out.EvaluationResults {
		decisions[aws.ToString(result.EvalActionName)] = result.EvalDecision
	}
	for _, action := range actions {
		d := decisions[action]
		report.Checks = append(report.Checks, ActionCheck{
			Action:   action,
			Allowed:  d == iamtypes.PolicyEvaluationDecisionTypeAllowed,
			Decision: string(d),
		})
	}
	return report, nil
}
