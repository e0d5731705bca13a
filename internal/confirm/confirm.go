// Package confirm asks yes/no questions. Anything other than an explicit
// yes is a no.
package confirm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Decider answers a yes/no question.
type Decider interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// Fixed answers every question the same way. Used for --yes/--no and tests.
type Fixed bool

func (f Fixed) Confirm(context.Context, string) (bool, error) {
	return bool(f), nil
}

// IsYes reports whether answer is "y" or "yes", ignoring case and
// surrounding whitespace.
func IsYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

// Line reads one line from In after writing the question to Out.
type Line struct {
	In  io.Reader
	Out io.Writer
}

func (l Line) Confirm(ctx context.Context, question string) (bool, error) {
	fmt.Fprintf(l.Out, "%s [y/N]: ", question)

	type answer struct {
		text string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		text, err := bufio.NewReader(l.In).ReadString('\n')
		ch <- answer{text, err}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(l.Out)
		return false, ctx.Err()
	case a := <-ch:
		// A final line without a newline still counts.
		if a.err != nil && !errors.Is(a.err, io.EOF) {
			return false, fmt.Errorf("reading answer: %w", a.err)
		}
		return IsYes(a.text), nil
	}
}

// Auto returns the interactive prompt when both ends are terminals and a
// line reader otherwise.
func Auto(in, out *os.File) Decider {
	if isTerminal(in) && isTerminal(out) {
		return Prompt{In: in, Out: out}
	}
	return Line{In: in, Out: out}
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
