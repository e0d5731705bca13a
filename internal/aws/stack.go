package aws

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"go.uber.org/zap"
)

const (
	DefaultCreateTimeout = 60 * time.Minute
	DefaultDeleteTimeout = 30 * time.Minute
)

// Parameter is one template parameter in submission order.
type Parameter struct {
	Key   string `json:"ParameterKey" yaml:"key"`
	Value string `json:"ParameterValue" yaml:"value"`
}

// RunIDTag is the stack tag carrying the id of the run that created it.
const RunIDTag = "stackrun:run-id"

// StackSpec describes the stack to create.
type StackSpec struct {
	Name         string
	TemplateBody string
	Parameters   []Parameter
	Tags         map[string]string
}

// StackEvent is one entry of a stack's event history.
type StackEvent struct {
	Timestamp time.Time
	LogicalID string
	Status    string
	Reason    string
}

// StackOptions tunes the CloudFormation waiters. Zero values use the defaults.
type StackOptions struct {
	CreateTimeout time.Duration
	DeleteTimeout time.Duration
	// WaitInterval fixes the waiter delay between DescribeStacks calls.
	WaitInterval time.Duration
}

// StackProvisioner creates, inspects and deletes a CloudFormation stack.
type StackProvisioner struct {
	api    StackAPI
	logger *zap.Logger
	opts   StackOptions
}

// NewStackProvisioner creates a stack provisioner.
func NewStackProvisioner(api StackAPI, logger *zap.Logger, opts StackOptions) *StackProvisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CreateTimeout <= 0 {
		opts.CreateTimeout = DefaultCreateTimeout
	}
	if opts.DeleteTimeout <= 0 {
		opts.DeleteTimeout = DefaultDeleteTimeout
	}
	return &StackProvisioner{api: api, logger: logger, opts: opts}
}

// Create issues a single CreateStack request and blocks until the stack
// reaches CREATE_COMPLETE. There is no retry.
func (p *StackProvisioner) Create(ctx context.Context, spec StackSpec) error {
	params := make([]cfntypes.Parameter, len(spec.Parameters))
	for i, prm := range spec.Parameters {
		params[i] = cfntypes.Parameter{
			ParameterKey:   aws.String(prm.Key),
			ParameterValue: aws.String(prm.Value),
		}
	}

	p.logger.Info("Creating stack", zap.String("stack", spec.Name), zap.Int("parameters", len(params)))
	out, err := p.api.CreateStack(ctx, &cloudformation.CreateStackInput{
		StackName:    aws.String(spec.Name),
		TemplateBody: aws.String(spec.TemplateBody),
		Parameters:   params,
		Capabilities: []cfntypes.Capability{
			cfntypes.CapabilityCapabilityIam,
			cfntypes.CapabilityCapabilityNamedIam,
		},
		Tags: stackTags(spec.Tags),
	})
	if err != nil {
		return stageErr(StageProvision, ErrProvision, fmt.Errorf("creating stack %s: %w", spec.Name, err))
	}
	p.logger.Debug("Stack creation started", zap.String("stack_id", aws.ToString(out.StackId)))

	waiter := cloudformation.NewStackCreateCompleteWaiter(p.api, p.createWaiterDelay)
	if err := waiter.Wait(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(spec.Name)}, p.opts.CreateTimeout); err != nil {
		return stageErr(StageProvision, ErrProvision, fmt.Errorf("waiting for stack %s: %w", spec.Name, waiterTimeout(err)))
	}

	p.logger.Info("Stack creation complete", zap.String("stack", spec.Name))
	return nil
}

// Status returns the current stack status and its reason, if any.
func (p *StackProvisioner) Status(ctx context.Context, name string) (string, string, error) {
	info, err := p.Describe(ctx, name)
	if err != nil {
		return "", "", err
	}
	return info.Status, info.Reason, nil
}

// StackInfo is the part of a stack description diagnostics need.
type StackInfo struct {
	Status string
	Reason string
	Tags   map[string]string
}

// RunID returns the value of the RunIDTag tag, or "" if the stack has none.
func (i *StackInfo) RunID() string {
	return i.Tags[RunIDTag]
}

// Describe returns the stack status, status reason and tags.
func (p *StackProvisioner) Describe(ctx context.Context, name string) (*StackInfo, error) {
	stack, err := p.describe(ctx, name)
	if err != nil {
		return nil, err
	}
	info := &StackInfo{
		Status: string(stack.StackStatus),
		Reason: aws.ToString(stack.StackStatusReason),
		Tags:   make(map[string]string, len(stack.Tags)),
	}
	for _, t := range stack.Tags {
		info.Tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return info, nil
}

// Outputs returns the stack outputs keyed by output name.
func (p *StackProvisioner) Outputs(ctx context.Context, name string) (map[string]string, error) {
	stack, err := p.describe(ctx, name)
	if err != nil {
		return nil, err
	}
	outputs := make(map[string]string, len(stack.Outputs))
	for _, o := range stack.Outputs {
		outputs[aws.ToString(o.OutputKey)] = aws.ToString(o.OutputValue)
	}
	return outputs, nil
}

// Events returns up to limit of the most recent stack events, newest first.
func (p *StackProvisioner) Events(ctx context.Context, name string, limit int) ([]StackEvent, error) {
	out, err := p.api.DescribeStackEvents(ctx, &cloudformation.DescribeStackEventsInput{
		StackName: aws.String(name),
	})
	if err != nil {
		return nil, fmt.Errorf("describing events of stack %s: %w", name, err)
	}

	events := make([]StackEvent, 0, len(out.StackEvents))
	for _, e := range out.StackEvents {
		events = append(events, StackEvent{
			Timestamp: aws.ToTime(e.Timestamp),
			LogicalID: aws.ToString(e.LogicalResourceId),
			Status:    string(e.ResourceStatus),
			Reason:    aws.ToString(e.ResourceStatusReason),
		})
	}
	// DescribeStackEvents already returns newest first; keep that order stable
	// even if a page comes back unordered.
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// Delete deletes the stack and blocks until deletion completes.
func (p *StackProvisioner) Delete(ctx context.Context, name string) error {
	p.logger.Info("Deleting stack", zap.String("stack", name))
	if _, err := p.api.DeleteStack(ctx, &cloudformation.DeleteStackInput{StackName: aws.String(name)}); err != nil {
		return fmt.Errorf("deleting stack %s: %w", name, err)
	}

	waiter := cloudformation.NewStackDeleteCompleteWaiter(p.api, p.deleteWaiterDelay)
	if err := waiter.Wait(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(name)}, p.opts.DeleteTimeout); err != nil {
		return fmt.Errorf("waiting for stack %s deletion: %w", name, waiterTimeout(err))
	}
	p.logger.Info("Stack deleted", zap.String("stack", name))
	return nil
}

func (p *StackProvisioner) describe(ctx context.Context, name string) (*cfntypes.Stack, error) {
	out, err := p.api.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(name)})
	if err != nil {
		if IsStackNotFound(err) {
			return nil, fmt.Errorf("describing stack %s: %w: %w", name, ErrStackNotFound, err)
		}
		return nil, fmt.Errorf("describing stack %s: %w", name, err)
	}
	if len(out.Stacks) == 0 {
		return nil, fmt.Errorf("describing stack %s: %w", name, ErrStackNotFound)
	}
	return &out.Stacks[0], nil
}

func (p *StackProvisioner) createWaiterDelay(o *cloudformation.StackCreateCompleteWaiterOptions) {
	if d := p.opts.WaitInterval; d > 0 {
		o.MinDelay, o.MaxDelay = d, d
	}
}

func (p *StackProvisioner) deleteWaiterDelay(o *cloudformation.StackDeleteCompleteWaiterOptions) {
	if d := p.opts.WaitInterval; d > 0 {
		o.MinDelay, o.MaxDelay = d, d
	}
}

func stackTags(tags map[string]string) []cfntypes.Tag {
	if len(tags) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]cfntypes.Tag, 0, len(keys))
	for _, k := range keys {
		out = append(out, cfntypes.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return out
}
