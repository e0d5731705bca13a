package aws

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/aws-sdk-go-v2/service/emr"
	emrtypes "github.com/aws/aws-sdk-go-v2/service/emr/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// CallLog records API calls across test doubles in the order they happen.
type CallLog struct {
	calls []string
}

// Record appends a call name.
func (l *CallLog) Record(name string) {
	if l != nil {
		l.calls = append(l.calls, name)
	}
}

// Calls returns the recorded calls.
func (l *CallLog) Calls() []string {
	if l == nil {
		return nil
	}
	return append([]string(nil), l.calls...)
}

// Index returns the position of the first call with the given name, or -1.
func (l *CallLog) Index(name string) int {
	for i, c := range l.Calls() {
		if c == name {
			return i
		}
	}
	return -1
}

// MockStackAPI is a test double for StackAPI.
type MockStackAPI struct {
	Status       cfntypes.StackStatus
	StatusReason string
	Outputs      map[string]string
	Resources    []cfntypes.StackResourceSummary
	PageSize     int
	Events       []cfntypes.StackEvent

	// Tags overrides the tags the stack was created with.
	Tags map[string]string

	CreateErr    error
	DescribeErr  error
	ResourcesErr error
	EventsErr    error
	DeleteErr    error

	// Track calls
	Log           *CallLog
	Created       *cloudformation.CreateStackInput
	Deleted       bool
	DescribeCalls int
	ResourceCalls int
}

// NewMockStackAPI returns a stack double that reports CREATE_COMPLETE.
func NewMockStackAPI(log *CallLog) *MockStackAPI {
	return &MockStackAPI{Status: cfntypes.StackStatusCreateComplete, Log: log}
}

func (m *MockStackAPI) CreateStack(_ context.Context, in *cloudformation.CreateStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error) {
	m.Log.Record("cloudformation:CreateStack")
	m.Created = in
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	return &cloudformation.CreateStackOutput{StackId: aws.String("arn:aws:cloudformation:us-east-1:123456789012:stack/" + aws.ToString(in.StackName) + "/1")}, nil
}

func (m *MockStackAPI) DescribeStacks(_ context.Context, in *cloudformation.DescribeStacksInput, _ ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
	m.Log.Record("cloudformation:DescribeStacks")
	m.DescribeCalls++
	if m.DescribeErr != nil {
		return nil, m.DescribeErr
	}

	status := m.Status
	if m.Deleted {
		status = cfntypes.StackStatusDeleteComplete
	}
	stack := cfntypes.Stack{
		StackName:   in.StackName,
		StackStatus: status,
	}
	if m.StatusReason != "" {
		stack.StackStatusReason = aws.String(m.StatusReason)
	}
	switch {
	case m.Tags != nil:
		stack.Tags = stackTags(m.Tags)
	case m.Created != nil && m.CreateErr == nil:
		stack.Tags = m.Created.Tags
	}

	keys := make([]string, 0, len(m.Outputs))
	for k := range m.Outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		stack.Outputs = append(stack.Outputs, cfntypes.Output{OutputKey: aws.String(k), OutputValue: aws.String(m.Outputs[k])})
	}
	return &cloudformation.DescribeStacksOutput{Stacks: []cfntypes.Stack{stack}}, nil
}

func (m *MockStackAPI) ListStackResources(_ context.Context, in *cloudformation.ListStackResourcesInput, _ ...func(*cloudformation.Options)) (*cloudformation.ListStackResourcesOutput, error) {
	m.Log.Record("cloudformation:ListStackResources")
	m.ResourceCalls++
	if m.ResourcesErr != nil {
		return nil, m.ResourcesErr
	}

	start, end, next := pageBounds(aws.ToString(in.NextToken), m.PageSize, len(m.Resources))
	return &cloudformation.ListStackResourcesOutput{
		StackResourceSummaries: m.Resources[start:end],
		NextToken:              next,
	}, nil
}

func (m *MockStackAPI) DescribeStackEvents(_ context.Context, _ *cloudformation.DescribeStackEventsInput, _ ...func(*cloudformation.Options)) (*cloudformation.DescribeStackEventsOutput, error) {
	m.Log.Record("cloudformation:DescribeStackEvents")
	if m.EventsErr != nil {
		return nil, m.EventsErr
	}
	return &cloudformation.DescribeStackEventsOutput{StackEvents: m.Events}, nil
}

func (m *MockStackAPI) DeleteStack(_ context.Context, _ *cloudformation.DeleteStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error) {
	m.Log.Record("cloudformation:DeleteStack")
	if m.DeleteErr != nil {
		return nil, m.DeleteErr
	}
	m.Deleted = true
	return &cloudformation.DeleteStackOutput{}, nil
}

// MockClusterAPI is a test double for ClusterAPI. ClusterStates and
// StepStates are returned in order; the last entry repeats.
type MockClusterAPI struct {
	ClusterStates []emrtypes.ClusterState
	StateMessage  string
	StepID        string
	StepStates    []emrtypes.StepState
	StepFailure   string

	DescribeErr  error
	AddStepsErr  error
	StepErr      error
	TerminateErr error

	// Track calls
	Log                  *CallLog
	SubmittedSteps       []emrtypes.StepConfig
	Terminated           bool
	TerminatedIDs        []string
	DescribeClusterCalls int
	DescribeStepCalls    int

	// ended is the terminal state the cluster reached; it never changes.
	ended emrtypes.ClusterState
}

// NewMockClusterAPI returns a cluster double that is immediately WAITING and
// whose step completes on the first check.
func NewMockClusterAPI(log *CallLog) *MockClusterAPI {
	return &MockClusterAPI{
		ClusterStates: []emrtypes.ClusterState{emrtypes.ClusterStateWaiting},
		StepID:        "s-TESTSTEP",
		StepStates:    []emrtypes.StepState{emrtypes.StepStateCompleted},
		Log:           log,
	}
}

func (m *MockClusterAPI) DescribeCluster(_ context.Context, in *emr.DescribeClusterInput, _ ...func(*emr.Options)) (*emr.DescribeClusterOutput, error) {
	m.Log.Record("emr:DescribeCluster")
	m.DescribeClusterCalls++
	if m.DescribeErr != nil {
		return nil, m.DescribeErr
	}

	state := emrtypes.ClusterStateStarting
	if len(m.ClusterStates) > 0 {
		state = m.ClusterStates[min(m.DescribeClusterCalls, len(m.ClusterStates))-1]
	}
	switch {
	case m.ended != "":
		state = m.ended
	case state == emrtypes.ClusterStateTerminated || state == emrtypes.ClusterStateTerminatedWithErrors:
		m.ended = state
	case m.Terminated && state != emrtypes.ClusterStateTerminating:
		state = emrtypes.ClusterStateTerminated
		m.ended = state
	}

	status := &emrtypes.ClusterStatus{State: state}
	if m.StateMessage != "" {
		status.StateChangeReason = &emrtypes.ClusterStateChangeReason{Message: aws.String(m.StateMessage)}
	}
	return &emr.DescribeClusterOutput{Cluster: &emrtypes.Cluster{Id: in.ClusterId, Status: status}}, nil
}

func (m *MockClusterAPI) AddJobFlowSteps(_ context.Context, in *emr.AddJobFlowStepsInput, _ ...func(*emr.Options)) (*emr.AddJobFlowStepsOutput, error) {
	m.Log.Record("emr:AddJobFlowSteps")
	if m.AddStepsErr != nil {
		return nil, m.AddStepsErr
	}
	m.SubmittedSteps = append(m.SubmittedSteps, in.Steps...)
	return &emr.AddJobFlowStepsOutput{StepIds: []string{m.StepID}}, nil
}

func (m *MockClusterAPI) DescribeStep(_ context.Context, _ *emr.DescribeStepInput, _ ...func(*emr.Options)) (*emr.DescribeStepOutput, error) {
	m.Log.Record("emr:DescribeStep")
	m.DescribeStepCalls++
	if m.StepErr != nil {
		return nil, m.StepErr
	}

	state := emrtypes.StepStatePending
	if len(m.StepStates) > 0 {
		state = m.StepStates[min(m.DescribeStepCalls, len(m.StepStates))-1]
	}
	status := &emrtypes.StepStatus{State: state}
	if m.StepFailure != "" && state == emrtypes.StepStateFailed {
		status.FailureDetails = &emrtypes.FailureDetails{Reason: aws.String(m.StepFailure)}
	}
	return &emr.DescribeStepOutput{Step: &emrtypes.Step{Id: aws.String(m.StepID), Status: status}}, nil
}

func (m *MockClusterAPI) TerminateJobFlows(_ context.Context, in *emr.TerminateJobFlowsInput, _ ...func(*emr.Options)) (*emr.TerminateJobFlowsOutput, error) {
	m.Log.Record("emr:TerminateJobFlows")
	if m.TerminateErr != nil {
		return nil, m.TerminateErr
	}
	m.Terminated = true
	m.TerminatedIDs = append(m.TerminatedIDs, in.JobFlowIds...)
	return &emr.TerminateJobFlowsOutput{}, nil
}

// MockObjectAPI is an in-memory test double for ObjectAPI, keyed by
// "bucket/key".
type MockObjectAPI struct {
	Objects  map[string][]byte
	PageSize int

	PutErr           error
	DeleteErr        error
	DeleteObjectsErr error
	ListErr          error
	// KeyErrors makes DeleteObjects report these keys as not deleted.
	KeyErrors map[string]string

	// Track calls
	Log                *CallLog
	DeleteObjectsCalls [][]string
	DeletedKeys        []string
	ListCalls          int
}

// NewMockObjectAPI creates an empty object store double.
func NewMockObjectAPI(log *CallLog) *MockObjectAPI {
	return &MockObjectAPI{Objects: make(map[string][]byte), Log: log}
}

// Put seeds an object.
func (m *MockObjectAPI) Put(bucket, key string, data []byte) {
	m.Objects[bucket+"/"+key] = data
}

// Has reports whether an object exists.
func (m *MockObjectAPI) Has(bucket, key string) bool {
	_, ok := m.Objects[bucket+"/"+key]
	return ok
}

func (m *MockObjectAPI) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.Log.Record("s3:PutObject")
	if m.PutErr != nil {
		return nil, m.PutErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.Put(aws.ToString(in.Bucket), aws.ToString(in.Key), data)
	return &s3.PutObjectOutput{}, nil
}

func (m *MockObjectAPI) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.Log.Record("s3:DeleteObject")
	if m.DeleteErr != nil {
		return nil, m.DeleteErr
	}
	delete(m.Objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	m.DeletedKeys = append(m.DeletedKeys, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (m *MockObjectAPI) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	m.Log.Record("s3:DeleteObjects")
	if m.DeleteObjectsErr != nil {
		return nil, m.DeleteObjectsErr
	}
	if len(in.Delete.Objects) > MaxDeleteBatch {
		return nil, fmt.Errorf("MalformedXML: %d keys in one request", len(in.Delete.Objects))
	}

	bucket := aws.ToString(in.Bucket)
	batch := make([]string, 0, len(in.Delete.Objects))
	out := &s3.DeleteObjectsOutput{}
	for _, obj := range in.Delete.Objects {
		key := aws.ToString(obj.Key)
		batch = append(batch, key)
		if code, ok := m.KeyErrors[key]; ok {
			out.Errors = append(out.Errors, s3types.Error{Key: aws.String(key), Code: aws.String(code), Message: aws.String(code)})
			continue
		}
		delete(m.Objects, bucket+"/"+key)
		m.DeletedKeys = append(m.DeletedKeys, key)
	}
	m.DeleteObjectsCalls = append(m.DeleteObjectsCalls, batch)
	return out, nil
}

func (m *MockObjectAPI) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.Log.Record("s3:ListObjectsV2")
	m.ListCalls++
	if m.ListErr != nil {
		return nil, m.ListErr
	}

	bucket := aws.ToString(in.Bucket)
	prefix := bucket + "/" + aws.ToString(in.Prefix)
	var keys []string
	for k := range m.Objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, strings.TrimPrefix(k, bucket+"/"))
		}
	}
	sort.Strings(keys)

	size := m.PageSize
	if size <= 0 {
		size = MaxDeleteBatch
	}
	start, end, next := keyPage(aws.ToString(in.ContinuationToken), size, keys)

	out := &s3.ListObjectsV2Output{
		IsTruncated:           aws.Bool(next != nil),
		NextContinuationToken: next,
		KeyCount:              aws.Int32(int32(end - start)),
	}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k)})
	}
	return out, nil
}

// MockIdentityAPI is a test double for IdentityAPI.
type MockIdentityAPI struct {
	Identity *CallerIdentity
	Err      error
}

func (m *MockIdentityAPI) GetCallerIdentity(_ context.Context, _ *sts.GetCallerIdentityInput, _ ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return &sts.GetCallerIdentityOutput{
		Account: aws.String(m.Identity.Account),
		Arn:     aws.String(m.Identity.ARN),
		UserId:  aws.String(m.Identity.UserID),
	}, nil
}

// MockPolicyAPI is a test double for PolicyAPI. Actions in Denied evaluate to
// implicitDeny, everything else to allowed.
type MockPolicyAPI struct {
	Denied map[string]bool
	Err    error

	SimulatedArn string
}

func (m *MockPolicyAPI) SimulatePrincipalPolicy(_ context.Context, in *iam.SimulatePrincipalPolicyInput, _ ...func(*iam.Options)) (*iam.SimulatePrincipalPolicyOutput, error) {
	m.SimulatedArn = aws.ToString(in.PolicySourceArn)
	if m.Err != nil {
		return nil, m.Err
	}
	out := &iam.SimulatePrincipalPolicyOutput{}
	for _, action := range in.ActionNames {
		decision := iamtypes.PolicyEvaluationDecisionTypeAllowed
		if m.Denied[action] {
			decision = iamtypes.PolicyEvaluationDecisionTypeImplicitDeny
		}
		out.EvaluationResults = append(out.EvaluationResults, iamtypes.EvaluationResult{
			EvalActionName: aws.String(action),
			EvalDecision:   decision,
		})
	}
	return out, nil
}

// pageBounds slices n items into pages of size using a numeric token.
func pageBounds(token string, size, n int) (start, end int, next *string) {
	if token != "" {
		start, _ = strconv.Atoi(token)
	}
	if start > n {
		start = n
	}
	end = n
	if size > 0 && start+size < n {
		end = start + size
		next = aws.String(strconv.Itoa(end))
	}
	return start, end, next
}

// keyPage pages through sorted keys the way S3 does: the token is the last
// key returned and the next page resumes strictly after it, so deleting
// listed keys between pages never skips any.
func keyPage(token string, size int, keys []string) (start, end int, next *string) {
	if token != "" {
		start = sort.Search(len(keys), func(i int) bool { return keys[i] > token })
	}
	end = len(keys)
	if size > 0 && start+size < len(keys) {
		end = start + size
		next = aws.String(keys[end-1])
	}
	return start, end, next
}
