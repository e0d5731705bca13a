package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIdentity() *MockIdentityAPI {
	return &MockIdentityAPI{Identity: &CallerIdentity{
		Account: "123456789012",
		ARN:     "arn:aws:iam::123456789012:user/test",
		UserID:  "AIDA12345",
	}}
}

func TestAccessChecker_AllAllowed(t *testing.T) {
	policy := &MockPolicyAPI{}
	report, err := NewAccessChecker(testIdentity(), policy).Check(context.Background(), RequiredActions)
	require.NoError(t, err)

	assert.Equal(t, "123456789012", report.Identity.Account)
	assert.Equal(t, "arn:aws:iam::123456789012:user/test", policy.SimulatedArn)
	assert.True(t, report.Simulated)
	assert.Len(t, report.Checks, len(RequiredActions))
	assert.Empty(t, report.Denied())
}

func TestAccessChecker_SomeDenied(t *testing.T) {
	policy := &MockPolicyAPI{Denied: map[string]bool{"cloudformation:DeleteStack": true}}
	report, err := NewAccessChecker(testIdentity(), policy).Check(context.Background(), RequiredActions)
	require.NoError(t, err)
	assert.Equal(t, []string{"cloudformation:DeleteStack"}, report.Denied())
}

func TestAccessChecker_SimulationUnavailable(t *testing.T) {
	policy := &MockPolicyAPI{Err: errors.New("not authorized to perform iam:SimulatePrincipalPolicy")}
	report, err := NewAccessChecker(testIdentity(), policy).Check(context.Background(), RequiredActions)
	require.NoError(t, err)
	assert.False(t, report.Simulated)
	assert.Empty(t, report.Checks)
}

func TestAccessChecker_BadCredentials(t *testing.T) {
	identity := &MockIdentityAPI{Err: errors.New("InvalidClientTokenId")}
	_, err := NewAccessChecker(identity, &MockPolicyAPI{}).Check(context.Background(), RequiredActions)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "caller identity")
}
