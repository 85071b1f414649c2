package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StepType identifies which executor role a step is delegated to.
type StepType string

const (
	StepTypeResearch   StepType = "research"
	StepTypeProcessing StepType = "processing"
)

// Step is one delegated unit of research or coding work. ExecutionRes is nil
// until the step has been executed; it is written exactly once.
type Step struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	StepType     StepType `json:"step_type"`
	NeedSearch   bool     `json:"need_search,omitempty"`
	ExecutionRes *string  `json:"execution_res,omitempty"`
}

// Done reports whether the step has a recorded result.
func (s *Step) Done() bool {
	return s.ExecutionRes != nil
}

// Plan is an ordered sequence of steps produced by the planner role.
// Once steps begin executing the plan is immutable except for each step's
// ExecutionRes field.
type Plan struct {
	Title            string `json:"title"`
	Thought          string `json:"thought"`
	Locale           string `json:"locale"`
	HasEnoughContext bool   `json:"has_enough_context"`
	Steps            []Step `json:"steps"`
}

// CurrentStep returns the first step without a result, or -1 when every step
// is done. The step loop dispatches on this index only.
func (p *Plan) CurrentStep() int {
	for i := range p.Steps {
		if !p.Steps[i].Done() {
			return i
		}
	}
	return -1
}

// CompletedDigest formats the results of all finished steps for inclusion in
// the next executor's context.
func (p *Plan) CompletedDigest() string {
	var b strings.Builder
	for i := range p.Steps {
		st := &p.Steps[i]
		if !st.Done() {
			break
		}
		fmt.Fprintf(&b, "## Existing Research Findings: %s\n\n%s\n\n", st.Title, *st.ExecutionRes)
	}
	return b.String()
}

// ParsePlan decodes planner output into a Plan. Planner models occasionally
// wrap JSON in markdown fences; strip them before decoding.
func ParsePlan(raw string) (*Plan, error) {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		if idx := strings.LastIndex(cleaned, "```"); idx >= 0 {
			cleaned = cleaned[:idx]
		}
		cleaned = strings.TrimSpace(cleaned)
	}
	var p Plan
	if err := json.Unmarshal([]byte(cleaned), &p); err != nil {
		return nil, fmt.Errorf("plan parse: %w", err)
	}
	if len(p.Steps) == 0 && !p.HasEnoughContext {
		return nil, fmt.Errorf("plan parse: no steps and has_enough_context is false")
	}
	return &p, nil
}
