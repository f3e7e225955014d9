package domain

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/containerd/errdefs"
)

// ProgressKind selects which progress aggregate a write targets.
type ProgressKind string

// Progress kinds.
const (
	ProgressExecution ProgressKind = "execution"
	ProgressWeekly    ProgressKind = "weekly"
)

// Valid reports whether k is a known progress kind.
func (k ProgressKind) Valid() bool {
	return k == ProgressExecution || k == ProgressWeekly
}

// ExecutionState maps a module step index to its field answers.
type ExecutionState map[int]map[string]string

// StepComplete reports whether step i has at least one non-empty answer.
func (e ExecutionState) StepComplete(i int) bool {
	for _, v := range e[i] {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

// AllStepsComplete reports whether steps 0..n-1 are all complete.
func (e ExecutionState) AllStepsComplete(n int) bool {
	if n <= 0 {
		return false
	}
	for i := range n {
		if !e.StepComplete(i) {
			return false
		}
	}
	return true
}

// WithStep returns a new state where step i is replaced wholesale by fields.
func (e ExecutionState) WithStep(i int, fields map[string]string) ExecutionState {
	next := make(ExecutionState, len(e)+1)
	for k, v := range e {
		next[k] = v
	}
	next[i] = maps.Clone(fields)
	if next[i] == nil {
		next[i] = map[string]string{}
	}
	return next
}

// StepAnswer is the input a deliverable is synthesized from.
type StepAnswer struct {
	Step   string            `json:"step"`
	Fields map[string]string `json:"fields"`
}

// Answers collects the answers of steps in order, labelling fields by their label.
func (e ExecutionState) Answers(steps []ModuleStep) []StepAnswer {
	out := make([]StepAnswer, 0, len(steps))
	for i, step := range steps {
		fields := make(map[string]string, len(e[i]))
		for id, v := range e[i] {
			label := id
			for _, f := range step.Fields {
				if f.ID == id && f.Label != "" {
					label = f.Label
					break
				}
			}
			fields[label] = v
		}
		out = append(out, StepAnswer{Step: step.Title, Fields: fields})
	}
	return out
}

// DailyTask is one day of the weekly plan.
type DailyTask struct {
	Day         string `json:"day"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Channel     string `json:"channel,omitempty"`
	IsCompleted bool   `json:"is_completed"`
}

// WeeklyAgencyPlan is a one-week day-by-day execution plan.
type WeeklyAgencyPlan struct {
	WeekNumber     int         `json:"week_number"`
	StartDate      string      `json:"start_date"`
	WeeklyPriority string      `json:"weekly_priority"`
	DailyPlan      []DailyTask `json:"daily_plan"`
}

// WithToggledDay returns a copy of the plan with day i's completion flipped.
// The returned plan never shares its task list with p.
func (p *WeeklyAgencyPlan) WithToggledDay(i int) (*WeeklyAgencyPlan, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: no weekly plan", errdefs.ErrFailedPrecondition)
	}
	if i < 0 || i >= len(p.DailyPlan) {
		return nil, fmt.Errorf("%w: day index %d out of range", errdefs.ErrInvalidArgument, i)
	}
	next := *p
	next.DailyPlan = slices.Clone(p.DailyPlan)
	next.DailyPlan[i].IsCompleted = !next.DailyPlan[i].IsCompleted
	return &next, nil
}

// CompletedDays returns how many days are marked done.
func (p *WeeklyAgencyPlan) CompletedDays() int {
	if p == nil {
		return 0
	}
	n := 0
	for _, d := range p.DailyPlan {
		if d.IsCompleted {
			n++
		}
	}
	return n
}
