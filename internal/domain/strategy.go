package domain

// PhaseStatus is the lifecycle status of a roadmap phase.
type PhaseStatus string

// Roadmap phase statuses.
const (
	PhaseCompleted PhaseStatus = "completed"
	PhaseActive    PhaseStatus = "active"
	PhaseLocked    PhaseStatus = "locked"
)

// BusinessAudit is the generated diagnostic of a business.
type BusinessAudit struct {
	Summary         string   `json:"summary"`
	MainProblem     string   `json:"main_problem"`
	RootCause       string   `json:"root_cause"`
	Strengths       []string `json:"strengths"`
	LimitingFactors []string `json:"limiting_factors"`
	Opportunity     string   `json:"opportunity"`
	PriorityPlan    []string `json:"priority_plan"`
	AntiActions     []string `json:"anti_actions"`
	Closing         string   `json:"closing"`
}

// RoadmapPhase is one stage of the growth plan.
type RoadmapPhase struct {
	Title     string      `json:"title"`
	Objective string      `json:"objective"`
	Status    PhaseStatus `json:"status"`
	Actions   []string    `json:"actions,omitempty"`
}

// StepField is one input of a guided module step.
type StepField struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Placeholder string `json:"placeholder,omitempty"`
}

// ModuleStep is a single input-gathering unit of a guided action.
type ModuleStep struct {
	Title  string      `json:"title"`
	Prompt string      `json:"prompt"`
	Fields []StepField `json:"fields"`
}

// GuidedAction is the user's current priority broken into steps.
type GuidedAction struct {
	ID    string       `json:"id"`
	Title string       `json:"title"`
	Why   string       `json:"why"`
	Steps []ModuleStep `json:"steps"`
}

// CalendarEntry is one slot of the content calendar.
type CalendarEntry struct {
	Day     string `json:"day"`
	Channel string `json:"channel"`
	Format  string `json:"format"`
	Topic   string `json:"topic"`
}

// VideoScript is a short-form video sample.
type VideoScript struct {
	Hook         string `json:"hook"`
	Body         string `json:"body"`
	CallToAction string `json:"call_to_action"`
}

// CopySample is a static post sample.
type CopySample struct {
	Headline     string `json:"headline"`
	Body         string `json:"body"`
	CallToAction string `json:"call_to_action"`
}

// Trend is a market trend relevant to the business.
type Trend struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Relevance   string `json:"relevance,omitempty"`
}

// PartialStrategy is the action-plan stage output: everything except the audit.
type PartialStrategy struct {
	PriorityFocus string          `json:"priority_focus"`
	Roadmap       []RoadmapPhase  `json:"roadmap"`
	GuidedAction  GuidedAction    `json:"guided_action"`
	Calendar      []CalendarEntry `json:"calendar"`
	Video         VideoScript     `json:"video"`
	StaticCopy    CopySample      `json:"static_copy"`
	Trends        []Trend         `json:"trends"`
}

// ComprehensiveStrategy is the full generated plan paired with its audit.
type ComprehensiveStrategy struct {
	PartialStrategy
	Audit *BusinessAudit `json:"audit,omitempty"`
}

// CombineStrategy joins the two pipeline stage results.
func CombineStrategy(plan *PartialStrategy, audit *BusinessAudit) *ComprehensiveStrategy {
	if plan == nil || audit == nil {
		return nil
	}
	return &ComprehensiveStrategy{PartialStrategy: *plan, Audit: audit}
}

// IsPresent reports whether s is a usable strategy. A strategy without its
// audit is never considered present.
func (s *ComprehensiveStrategy) IsPresent() bool {
	return s != nil && s.Audit != nil
}

// ActivePhaseIndex returns the index of the first active phase, or 0.
func ActivePhaseIndex(roadmap []RoadmapPhase) int {
	for i, phase := range roadmap {
		if phase.Status == PhaseActive {
			return i
		}
	}
	return 0
}

// ActivePhase returns the current phase of the roadmap.
func (s *ComprehensiveStrategy) ActivePhase() (RoadmapPhase, bool) {
	if !s.IsPresent() || len(s.Roadmap) == 0 {
		return RoadmapPhase{}, false
	}
	return s.Roadmap[ActivePhaseIndex(s.Roadmap)], true
}
