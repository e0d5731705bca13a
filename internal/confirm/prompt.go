package confirm

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	questionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// PromptModel is the bubbletea model for a typed yes/no answer.
type PromptModel struct {
	question string
	input    textinput.Model
	answered bool
	yes      bool
}

// NewPromptModel creates a prompt for question.
func NewPromptModel(question string) PromptModel {
	input := textinput.New()
	input.Placeholder = "y/N"
	input.CharLimit = 3
	input.Width = 5
	input.Focus()

	return PromptModel{question: question, input: input}
}

func (m PromptModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m PromptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "enter":
			m.answered = true
			m.yes = IsYes(m.input.Value())
			return m, tea.Quit
		case "esc", "ctrl+c":
			m.answered = true
			m.yes = false
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m PromptModel) View() string {
	if m.answered {
		answer := "no"
		if m.yes {
			answer = "yes"
		}
		return fmt.Sprintf("%s %s\n", questionStyle.Render(m.question), answer)
	}

	var b strings.Builder
	b.WriteString(questionStyle.Render(m.question))
	b.WriteString(" ")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("  y/yes to confirm, enter or esc for no"))
	b.WriteString("\n")
	return b.String()
}

// Answered returns true once the user has responded.
func (m PromptModel) Answered() bool {
	return m.answered
}

// Yes returns the decision. It is false until Answered.
func (m PromptModel) Yes() bool {
	return m.yes
}

// Prompt asks through an inline bubbletea program.
type Prompt struct {
	In  io.Reader
	Out io.Writer
}

func (p Prompt) Confirm(ctx context.Context, question string) (bool, error) {
	prog := tea.NewProgram(NewPromptModel(question),
		tea.WithInput(p.In),
		tea.WithOutput(p.Out),
		tea.WithContext(ctx),
	)

	final, err := prog.Run()
	if err != nil {
		return false, fmt.Errorf("running confirmation prompt: %w", err)
	}
	return final.(PromptModel).Yes(), nil
}
