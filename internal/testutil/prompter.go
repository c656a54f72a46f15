package testutil

import (
	"context"
	"fmt"
	"sync"

	"migrator/internal/core/ports"
)

var _ ports.Prompter = (*ScriptedPrompter)(nil)

// ScriptedPrompter answers prompts from queued responses and records every
// question it was asked. Running out of answers is a test failure surfaced as
// an error.
type ScriptedPrompter struct {
	mu         sync.Mutex
	confirms   []bool
	selections []int
	inputs     []string

	Questions []string
}

func NewScriptedPrompter() *ScriptedPrompter {
	return &ScriptedPrompter{}
}

func (p *ScriptedPrompter) WithConfirms(answers ...bool) *ScriptedPrompter {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirms = append(p.confirms, answers...)
	return p
}

func (p *ScriptedPrompter) WithSelections(indexes ...int) *ScriptedPrompter {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selections = append(p.selections, indexes...)
	return p
}

func (p *ScriptedPrompter) WithInputs(values ...string) *ScriptedPrompter {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inputs = append(p.inputs, values...)
	return p
}

func (p *ScriptedPrompter) Confirm(_ context.Context, question string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Questions = append(p.Questions, question)
	if len(p.confirms) == 0 {
		return false, fmt.Errorf("unexpected confirm: %q", question)
	}
	answer := p.confirms[0]
	p.confirms = p.confirms[1:]
	return answer, nil
}

func (p *ScriptedPrompter) SelectOne(_ context.Context, title string, options []ports.Option) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Questions = append(p.Questions, title)
	if len(p.selections) == 0 {
		return -1, fmt.Errorf("unexpected selection: %q", title)
	}
	idx := p.selections[0]
	p.selections = p.selections[1:]
	if idx >= len(options) {
		return -1, fmt.Errorf("selection %d out of range for %q (%d options)", idx, title, len(options))
	}
	return idx, nil
}

func (p *ScriptedPrompter) InputText(_ context.Context, field ports.Field) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Questions = append(p.Questions, field.Label)
	if len(p.inputs) == 0 {
		return "", fmt.Errorf("unexpected input: %q", field.Label)
	}
	value := p.inputs[0]
	p.inputs = p.inputs[1:]
	if value == "" {
		value = field.Default
	}
	return value, nil
}

// Remaining reports unused scripted answers.
func (p *ScriptedPrompter) Remaining() (confirms, selections, inputs int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.confirms), len(p.selections), len(p.inputs)
}
