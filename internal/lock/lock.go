package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stackrun/stackrun/internal/config"
)

const DefaultPath = "~/.stackrun/stackrun.lock"

// ErrHeld is returned by Acquire while another live process owns the lock.
var ErrHeld = errors.New("lock held by another process")

// Holder describes who owns the lock.
type Holder struct {
	PID   int       `yaml:"pid"`
	Stack string    `yaml:"stack"`
	Since time.Time `yaml:"since"`
}

func resolve(path string) string {
	if path == "" {
		return config.ExpandHome(DefaultPath)
	}
	return path
}

// Acquire records the current process as working on stack. A lock left
// behind by a dead process, or one that cannot be parsed, is taken over.
func Acquire(path, stack string) error {
	path = resolve(path)

	h, err := Current(path)
	if err != nil {
		return fmt.Errorf("reading lock: %w", err)
	}
	if h != nil && h.PID != os.Getpid() {
		return fmt.Errorf("%w: stackrun (PID %d) is working on stack %s since %s; only one run can be in flight at a time",
			ErrHeld, h.PID, h.Stack, h.Since.Format(time.RFC3339))
	}

	data, err := yaml.Marshal(Holder{PID: os.Getpid(), Stack: stack, Since: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Release removes the lock file.
func Release(path string) error {
	err := os.Remove(resolve(path))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Current returns the live holder of the lock, or nil when the lock is free.
func Current(path string) (*Holder, error) {
	data, err := os.ReadFile(resolve(path))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var h Holder
	if yaml.Unmarshal(data, &h) != nil || !alive(h.PID) {
		return nil, nil
	}
	return &h, nil
}

func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
