// Package teardown terminates clusters and runs the stack diagnostics and
// confirmed deletion that follow a failed run.
package teardown

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/stackrun/stackrun/internal/aws"
	"github.com/stackrun/stackrun/internal/confirm"
)

// DefaultMaxEvents is how many recent stack events diagnostics print.
const DefaultMaxEvents = 10

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Diagnosis records what the diagnostic path found and did.
type Diagnosis struct {
	StackName    string
	StackExists  bool
	Status       string
	StatusReason string
	Events       []aws.StackEvent

	// Foreign is set when the stack carries another run's id, or none at
	// all. Such a stack is never offered for deletion.
	Foreign  bool
	Prompted bool
	Deleted  bool
	Warnings []string
}

// Controller owns cluster termination and the diagnostic path.
type Controller struct {
	clusters  *aws.ClusterManager
	stacks    *aws.StackProvisioner
	decider   confirm.Decider
	out       io.Writer
	logger    *zap.Logger
	maxEvents int
}

// New creates a teardown controller. Diagnostics are written to out.
func New(clusters *aws.ClusterManager, stacks *aws.StackProvisioner, decider confirm.Decider, out io.Writer, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if decider == nil {
		decider = confirm.Fixed(false)
	}
	if out == nil {
		out = io.Discard
	}
	return &Controller{
		clusters:  clusters,
		stacks:    stacks,
		decider:   decider,
		out:       out,
		logger:    logger,
		maxEvents: DefaultMaxEvents,
	}
}

// TerminateCluster terminates clusterID and waits until it is gone.
func (c *Controller) TerminateCluster(ctx context.Context, clusterID string) error {
	if clusterID == "" {
		return nil
	}
	return c.clusters.Terminate(ctx, clusterID)
}

// DeleteStack deletes the stack and waits for completion.
func (c *Controller) DeleteStack(ctx context.Context, stackName string) error {
	return c.stacks.Delete(ctx, stackName)
}

// ErrNotOwner is returned by CheckOwner for a stack another run created.
var ErrNotOwner = errors.New("stack was not created by this run")

// CheckOwner fails with ErrNotOwner unless the stack is tagged with runID.
// An empty runID accepts any stack.
func (c *Controller) CheckOwner(ctx context.Context, stackName, runID string) error {
	if runID == "" {
		return nil
	}
	info, err := c.stacks.Describe(ctx, stackName)
	if err != nil {
		return err
	}
	if info.RunID() != runID {
		return fmt.Errorf("%w: %s is tagged with run id %q, not %q", ErrNotOwner, stackName, info.RunID(), runID)
	}
	return nil
}

// Diagnose prints the stack status and recent events, then asks whether to
// delete the stack. The stack is only deleted on an explicit yes. A stack
// that was never created is reported and nothing is asked. When runID is
// set, a stack not tagged with it belongs to someone else and is only
// reported.
func (c *Controller) Diagnose(ctx context.Context, stackName, runID string) (*Diagnosis, error) {
	d := &Diagnosis{StackName: stackName}
	fmt.Fprintln(c.out, headerStyle.Render("Stack diagnostics: "+stackName))

	info, err := c.stacks.Describe(ctx, stackName)
	switch {
	case errors.Is(err, aws.ErrStackNotFound):
		fmt.Fprintf(c.out, "  Stack %s was never created; nothing to delete.\n", stackName)
		return d, nil
	case err != nil:
		c.warn(d, "reading stack status", err)
		fmt.Fprintf(c.out, "  Status: %s\n", errStyle.Render("unknown"))
	default:
		d.StackExists = true
		d.Status, d.StatusReason = info.Status, info.Reason
		d.Foreign = runID != "" && info.RunID() != runID
		fmt.Fprintf(c.out, "  Status: %s\n", statusStyle(info.Status).Render(info.Status))
		if info.Reason != "" {
			fmt.Fprintf(c.out, "  Reason: %s\n", info.Reason)
		}
	}

	events, err := c.stacks.Events(ctx, stackName, c.maxEvents)
	if err != nil {
		c.warn(d, "reading stack events", err)
	} else {
		d.Events = events
		c.printEvents(events)
	}

	if d.Foreign {
		owner := info.RunID()
		if owner == "" {
			owner = "none"
		}
		fmt.Fprintf(c.out, "  Stack %s was not created by this run (run id %s, stack tagged %s); leaving it alone.\n",
			stackName, runID, owner)
		return d, nil
	}

	d.Prompted = true
	yes, err := c.decider.Confirm(ctx, fmt.Sprintf("Delete stack '%s'?", stackName))
	if err != nil {
		c.warn(d, "reading confirmation", err)
		yes = false
	}
	if !yes {
		fmt.Fprintf(c.out, "  Stack kept. Delete it later with: aws cloudformation delete-stack --stack-name %s\n", stackName)
		return d, nil
	}

	if err := c.stacks.Delete(ctx, stackName); err != nil {
		return d, fmt.Errorf("deleting stack after confirmation: %w", err)
	}
	d.Deleted = true
	fmt.Fprintln(c.out, okStyle.Render("  Stack "+stackName+" deleted."))
	return d, nil
}

func (c *Controller) printEvents(events []aws.StackEvent) {
	if len(events) == 0 {
		fmt.Fprintln(c.out, dimStyle.Render("  No stack events."))
		return
	}
	fmt.Fprintf(c.out, "  Last %d stack events (newest first):\n", len(events))
	for _, e := range events {
		line := fmt.Sprintf("    %s  %-30s %s",
			e.Timestamp.UTC().Format(time.RFC3339), e.LogicalID, statusStyle(e.Status).Render(e.Status))
		if e.Reason != "" {
			line += "  " + dimStyle.Render(e.Reason)
		}
		fmt.Fprintln(c.out, line)
	}
}

func (c *Controller) warn(d *Diagnosis, msg string, err error) {
	c.logger.Warn(msg, zap.String("stack", d.StackName), zap.Error(err))
	d.Warnings = append(d.Warnings, fmt.Sprintf("%s: %v", msg, err))
}

func statusStyle(status string) lipgloss.Style {
	switch {
	case strings.HasSuffix(status, "_FAILED"), strings.Contains(status, "ROLLBACK"):
		return errStyle
	case strings.HasSuffix(status, "_COMPLETE"):
		return okStyle
	}
	return dimStyle
}
