package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stackrun/stackrun/internal/config"
)

const DefaultPath = "~/.stackrun/state.yaml"

// ErrNoRun is returned by Load when no run has been recorded.
var ErrNoRun = errors.New("no run recorded")

// Phase is a run-level state.
type Phase string

const (
	PhaseProvisioning      Phase = "PROVISIONING"
	PhaseAwaitingReady     Phase = "AWAITING_READY"
	PhaseUploading         Phase = "UPLOADING"
	PhaseSubmitted         Phase = "SUBMITTED"
	PhaseAwaitingStep      Phase = "AWAITING_STEP"
	PhaseSucceeded         Phase = "SUCCEEDED"
	PhaseStepFailed        Phase = "STEP_FAILED"
	PhaseCleanedUp         Phase = "CLEANED_UP"
	PhaseClusterTerminated Phase = "CLUSTER_TERMINATED"
	PhaseDiagnostic        Phase = "DIAGNOSTIC"
)

// State is the persisted record of the in-flight run. Fields are filled in
// as the run learns them so an interrupted run can be torn down later.
type State struct {
	RunID       string    `yaml:"run_id"`
	Phase       Phase     `yaml:"phase"`
	StartedAt   time.Time `yaml:"started_at"`
	LastUpdated time.Time `yaml:"last_updated"`

	Region       string `yaml:"region,omitempty"`
	Profile      string `yaml:"profile,omitempty"`
	StackName    string `yaml:"stack_name"`
	JobName      string `yaml:"job_name,omitempty"`
	ClusterID    string `yaml:"cluster_id,omitempty"`
	Bucket       string `yaml:"bucket,omitempty"`
	ArtifactKey  string `yaml:"artifact_key,omitempty"`
	OutputPrefix string `yaml:"output_prefix,omitempty"`
	StepID       string `yaml:"step_id,omitempty"`
	StepState    string `yaml:"step_state,omitempty"`
	Error        string `yaml:"error,omitempty"`

	// History records each phase transition.
	History []Transition `yaml:"history,omitempty"`
}

// Transition is one phase change.
type Transition struct {
	Phase Phase     `yaml:"phase"`
	At    time.Time `yaml:"at"`
}

// New creates a fresh run record.
func New(runID, stackName string) *State {
	now := time.Now().UTC()
	return &State{
		RunID:       runID,
		StackName:   stackName,
		StartedAt:   now,
		LastUpdated: now,
	}
}

// Enter moves the run to phase and records the transition.
func (s *State) Enter(phase Phase) {
	s.Phase = phase
	s.History = append(s.History, Transition{Phase: phase, At: time.Now().UTC()})
}

// Reached reports whether the run has ever entered phase.
func (s *State) Reached(phase Phase) bool {
	for _, t := range s.History {
		if t.Phase == phase {
			return true
		}
	}
	return false
}

// Load reads the run record from disk.
func Load(path string) (*State, error) {
	if path == "" {
		path = config.ExpandHome(DefaultPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoRun
		}
		return nil, fmt.Errorf("reading state: %w", err)
	}

	s := &State{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing state: %w", err)
	}
	if s.RunID == "" {
		return nil, ErrNoRun
	}
	return s, nil
}

// Save writes the run record to disk.
func (s *State) Save(path string) error {
	if path == "" {
		path = config.ExpandHome(DefaultPath)
	}

	s.LastUpdated = time.Now().UTC()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Clear removes the run record. A missing file is not an error.
func Clear(path string) error {
	if path == "" {
		path = config.ExpandHome(DefaultPath)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing state: %w", err)
	}
	return nil
}
