package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ashureev/growthdesk/internal/auth"
	"github.com/ashureev/growthdesk/internal/domain"
)

type fakeAuth struct {
	mu         sync.Mutex
	session    *domain.Session
	listeners  []auth.Listener
	signOutErr error
	onSignOut  func()
}

func (a *fakeAuth) Subscribe(_ string, fn auth.Listener) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.listeners = nil
	}
}

func (a *fakeAuth) CurrentSession(context.Context, string) (*domain.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session, nil
}

func (a *fakeAuth) SignOut(context.Context, string) error {
	if a.onSignOut != nil {
		a.onSignOut()
	}
	a.mu.Lock()
	a.session = nil
	a.mu.Unlock()
	a.emit(auth.Event{Kind: auth.EventSignedOut})
	return a.signOutErr
}

func (a *fakeAuth) emit(ev auth.Event) {
	a.mu.Lock()
	listeners := append([]auth.Listener(nil), a.listeners...)
	a.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

type progressWrite struct {
	UserID     string
	BusinessID string
	Kind       domain.ProgressKind
	Payload    any
}

type fakeStore struct {
	mu         sync.Mutex
	data       *domain.UserData
	loadErr    error
	profileErr error
	weeklyErr  error
	loads      int
	profiles   []*domain.BusinessProfile
	snapshots  []*domain.StrategySnapshot
	progress   []progressWrite
}

func (s *fakeStore) UpsertBusinessProfile(_ context.Context, userID string, p *domain.BusinessProfile) (*domain.BusinessRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profileErr != nil {
		return nil, s.profileErr
	}
	s.profiles = append(s.profiles, p.Clone())
	return &domain.BusinessRecord{BusinessID: "biz-1", UserID: userID, Profile: *p.Clone()}, nil
}

func (s *fakeStore) UpsertStrategySnapshot(_ context.Context, _ string, snap *domain.StrategySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	return nil
}

func (s *fakeStore) LoadUserData(context.Context, string) (*domain.UserData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	return s.data, s.loadErr
}

func (s *fakeStore) UpsertProgress(_ context.Context, userID, businessID string, kind domain.ProgressKind, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kind == domain.ProgressWeekly && s.weeklyErr != nil {
		return s.weeklyErr
	}
	s.progress = append(s.progress, progressWrite{UserID: userID, BusinessID: businessID, Kind: kind, Payload: payload})
	return nil
}

func (s *fakeStore) writes() []progressWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]progressWrite(nil), s.progress...)
}

func (s *fakeStore) snapshotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

type fakeGenerator struct {
	mu         sync.Mutex
	auditCalls int
	planCalls  int
	auditErr   error
	planErr    error
	weeklyErr  error
	planGate   chan struct{}
	emptyPlan  bool
	lastAudit  *domain.BusinessAudit
	audits     []*domain.BusinessAudit
	weeklyPlan *domain.WeeklyAgencyPlan
}

func (g *fakeGenerator) GenerateProfileInsights(context.Context, *domain.BusinessProfile, string) (domain.ProfileInsights, error) {
	return domain.ProfileInsights{CoreMessage: "core", KeyStrength: "strength", SolvedProblem: "problem"}, nil
}

func (g *fakeGenerator) GenerateAudit(_ context.Context, p *domain.BusinessProfile, _ string, onProgress func(string)) (*domain.BusinessAudit, error) {
	g.mu.Lock()
	g.auditCalls++
	n := g.auditCalls
	err := g.auditErr
	g.mu.Unlock()

	if onProgress != nil {
		onProgress("{")
		onProgress(`{"summary"`)
	}
	if err != nil {
		return nil, err
	}
	audit := &domain.BusinessAudit{Summary: fmt.Sprintf("audit %d for %s", n, p.Name), MainProblem: "visibility"}
	g.mu.Lock()
	g.audits = append(g.audits, audit)
	g.mu.Unlock()
	return audit, nil
}

func (g *fakeGenerator) GenerateActionPlan(_ context.Context, _ *domain.BusinessProfile, audit *domain.BusinessAudit, _ string) (*domain.PartialStrategy, error) {
	g.mu.Lock()
	g.planCalls++
	g.lastAudit = audit
	gate := g.planGate
	err := g.planErr
	empty := g.emptyPlan
	g.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil || empty {
		return nil, err
	}
	return testPlan(), nil
}

func (g *fakeGenerator) GenerateWeeklyPlan(context.Context, *domain.BusinessProfile, string) (*domain.WeeklyAgencyPlan, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.weeklyErr != nil {
		return nil, g.weeklyErr
	}
	if g.weeklyPlan != nil {
		return g.weeklyPlan, nil
	}
	return testWeeklyPlan(), nil
}

func (g *fakeGenerator) GenerateModuleDeliverable(_ context.Context, title string, answers []domain.StepAnswer, _ string) (string, error) {
	if len(answers) == 0 {
		return "", errors.New("no answers")
	}
	return "# " + title, nil
}

func (g *fakeGenerator) counts() (audits, plans int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.auditCalls, g.planCalls
}

type fakeCache struct {
	mu      sync.Mutex
	cleared int
}

func (c *fakeCache) Clear() {
	c.mu.Lock()
	c.cleared++
	c.mu.Unlock()
}

func testSession() *domain.Session {
	return &domain.Session{UserID: "user-1", Email: "owner@example.com", AccessToken: "tok"}
}

func testProfile() *domain.BusinessProfile {
	return &domain.BusinessProfile{Name: "Panadería Sol", Description: "Artisan bakery", Language: domain.LanguageEnglish}
}

func testPlan() *domain.PartialStrategy {
	return &domain.PartialStrategy{
		PriorityFocus: "Instagram",
		Roadmap: []domain.RoadmapPhase{
			{Title: "Foundations", Status: domain.PhaseCompleted},
			{Title: "Visibility", Status: domain.PhaseActive},
		},
		GuidedAction: domain.GuidedAction{
			ID:    "priority-1",
			Title: "Brand message",
			Steps: []domain.ModuleStep{{Title: "Audience"}, {Title: "Promise"}, {Title: "Proof"}},
		},
	}
}

func testStrategy() *domain.ComprehensiveStrategy {
	return domain.CombineStrategy(testPlan(), &domain.BusinessAudit{Summary: "saved audit"})
}

func testWeeklyPlan() *domain.WeeklyAgencyPlan {
	days := []string{"Mon", "Tue", "Wed", "Thu", "Fri"}
	plan := &domain.WeeklyAgencyPlan{WeekNumber: 1, StartDate: "2026-03-02", WeeklyPriority: "Launch reels"}
	for _, d := range days {
		plan.DailyPlan = append(plan.DailyPlan, domain.DailyTask{Day: d, Title: "Task " + d})
	}
	return plan
}
