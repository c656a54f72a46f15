package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"migrator/internal/core/ports"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// ErrAborted is returned when the user interrupts a prompt with ctrl+c.
var ErrAborted = stderrors.New("aborted by user")

var _ ports.Prompter = (*TeaPrompter)(nil)

// TeaPrompter asks each question in a short-lived bubbletea program.
type TeaPrompter struct {
	in  io.Reader
	out io.Writer
}

func NewTeaPrompter(in io.Reader, out io.Writer) *TeaPrompter {
	return &TeaPrompter{in: in, out: out}
}

func (p *TeaPrompter) run(ctx context.Context, m tea.Model) (tea.Model, error) {
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if p.in != nil {
		opts = append(opts, tea.WithInput(p.in))
	}
	if p.out != nil {
		opts = append(opts, tea.WithOutput(p.out))
	}
	return tea.NewProgram(m, opts...).Run()
}

func (p *TeaPrompter) Confirm(ctx context.Context, question string) (bool, error) {
	final, err := p.run(ctx, newConfirmModel(question))
	if err != nil {
		return false, err
	}
	m := final.(confirmModel)
	if m.aborted {
		return false, ErrAborted
	}
	return m.answer, nil
}

func (p *TeaPrompter) SelectOne(ctx context.Context, title string, options []ports.Option) (int, error) {
	final, err := p.run(ctx, newSelectModel(title, options))
	if err != nil {
		return -1, err
	}
	m := final.(selectModel)
	if m.aborted {
		return -1, ErrAborted
	}
	return m.chosen, nil
}

func (p *TeaPrompter) InputText(ctx context.Context, field ports.Field) (string, error) {
	final, err := p.run(ctx, newInputModel(field))
	if err != nil {
		return "", err
	}
	m := final.(inputModel)
	if m.aborted {
		return "", ErrAborted
	}
	return m.value, nil
}

type confirmModel struct {
	question string
	answer   bool
	done     bool
	aborted  bool
}

func newConfirmModel(question string) confirmModel {
	return confirmModel{question: question}
}

func (m confirmModel) Init() tea.Cmd { return nil }

func (m confirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "y", "Y", "enter":
		m.answer, m.done = true, true
		return m, tea.Quit
	case "n", "N", "esc":
		m.answer, m.done = false, true
		return m, tea.Quit
	case "ctrl+c":
		m.aborted = true
		return m, tea.Quit
	}
	return m, nil
}

func (m confirmModel) View() string {
	if m.done {
		answer := "no"
		if m.answer {
			answer = "yes"
		}
		return fmt.Sprintf("%s %s\n", m.question, statusStyle.Render(answer))
	}
	return fmt.Sprintf("%s %s ", warnStyle.Render(m.question), statusStyle.Render("(y/n)"))
}

type optionItem struct {
	title, desc string
}

func (i optionItem) Title() string       { return i.title }
func (i optionItem) Description() string { return i.desc }
func (i optionItem) FilterValue() string { return i.title }

type selectModel struct {
	list    list.Model
	chosen  int
	done    bool
	aborted bool
}

func newSelectModel(title string, options []ports.Option) selectModel {
	items := make([]list.Item, 0, len(options))
	for _, o := range options {
		items = append(items, optionItem{title: o.Label, desc: o.Hint})
	}

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = false
	delegate.SetSpacing(0)
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(cursorStyle.GetForeground()).
		BorderForeground(cursorStyle.GetForeground())

	height := len(options) + 6
	if height > 24 {
		height = 24
	}
	l := list.New(items, delegate, 60, height)
	l.Title = title
	l.Styles.Title = titleStyle
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	return selectModel{list: l, chosen: -1}
}

func (m selectModel) Init() tea.Cmd { return nil }

func (m selectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			if len(m.list.Items()) > 0 {
				m.chosen = m.list.Index()
			}
			m.done = true
			return m, tea.Quit
		case "esc", "q":
			m.chosen = -1
			m.done = true
			return m, tea.Quit
		case "ctrl+c":
			m.aborted = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		h, _ := docStyle.GetFrameSize()
		m.list.SetWidth(msg.Width - h)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m selectModel) View() string {
	if m.done {
		return ""
	}
	return m.list.View() + "\n"
}

type inputModel struct {
	field   ports.Field
	input   textinput.Model
	value   string
	done    bool
	aborted bool
}

func newInputModel(field ports.Field) inputModel {
	ti := textinput.New()
	ti.Placeholder = field.Default
	ti.Prompt = "> "
	ti.Focus()
	return inputModel{field: field, input: ti}
}

func (m inputModel) Init() tea.Cmd { return textinput.Blink }

func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "enter":
			m.value = strings.TrimSpace(m.input.Value())
			if m.value == "" {
				m.value = m.field.Default
			}
			m.done = true
			return m, tea.Quit
		case "esc":
			m.value = ""
			m.done = true
			return m, tea.Quit
		case "ctrl+c":
			m.aborted = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m inputModel) View() string {
	label := m.field.Label
	if m.field.Default != "" {
		label += statusStyle.Render(" (" + m.field.Default + ")")
	}
	if m.done {
		return fmt.Sprintf("%s: %s\n", label, m.value)
	}
	return fmt.Sprintf("%s\n%s\n", label, m.input.View())
}

var _ ports.Prompter = (*AutoPrompter)(nil)

// AutoPrompter answers every confirmation with yes and every input with its
// default. It cannot make selections.
type AutoPrompter struct {
	logger *slog.Logger
}

func NewAutoPrompter(logger *slog.Logger) *AutoPrompter {
	if logger == nil {
		logger = slog.Default()
	}
	return &AutoPrompter{logger: logger}
}

func (p *AutoPrompter) Confirm(_ context.Context, question string) (bool, error) {
	p.logger.Info("auto-confirmed", "question", question)
	return true, nil
}

func (p *AutoPrompter) SelectOne(_ context.Context, title string, _ []ports.Option) (int, error) {
	return -1, fmt.Errorf("%q needs an interactive selection; run without --yes", title)
}

func (p *AutoPrompter) InputText(_ context.Context, field ports.Field) (string, error) {
	return field.Default, nil
}
