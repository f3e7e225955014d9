package app

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ashureev/growthdesk/internal/domain"
)

func TestReconcile(t *testing.T) {
	strategy := testStrategy()
	tests := []struct {
		name string
		data *domain.UserData
		err  error
		want Decision
	}{
		{name: "load error", err: errors.New("boom"), want: Decision{View: ViewError}},
		{name: "no record", want: Decision{View: ViewTransition}},
		{name: "no profile", data: &domain.UserData{}, want: Decision{View: ViewTransition}},
		{
			name: "profile without strategy",
			data: &domain.UserData{Profile: testProfile()},
			want: Decision{Recovery: true},
		},
		{
			name: "strategy without audit",
			data: &domain.UserData{Profile: testProfile(), Strategy: &domain.ComprehensiveStrategy{}},
			want: Decision{Recovery: true},
		},
		{
			name: "weekly plan wins",
			data: &domain.UserData{Profile: testProfile(), Strategy: strategy, WeeklyPlan: testWeeklyPlan()},
			want: Decision{View: ViewWeeklyAgency},
		},
		{
			name: "strategy only",
			data: &domain.UserData{Profile: testProfile(), Strategy: strategy},
			want: Decision{View: ViewDashboard},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Reconcile(tt.data, tt.err))
		})
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	data := &domain.UserData{BusinessID: "biz-1", Profile: testProfile(), Strategy: testStrategy()}
	s := Reduce(State{}, SessionEstablished{Session: testSession()})

	once := Reduce(s, DataLoaded{UserID: "user-1", Data: data})
	twice := Reduce(once, DataLoaded{UserID: "user-1", Data: data})
	assert.Equal(t, ViewDashboard, once.View)
	assert.Equal(t, once.View, twice.View)

	fresh := Reduce(s, DataLoaded{UserID: "user-1", Data: data})
	assert.Equal(t, once.View, fresh.View)
}

func TestDataLoadedForOtherUserIsIgnored(t *testing.T) {
	s := Reduce(State{}, SessionEstablished{Session: testSession()})
	next := Reduce(s, DataLoaded{UserID: "someone-else"})
	assert.Equal(t, ViewLoading, next.View)
	assert.Empty(t, next.DataLoadedFor)
}

func TestSessionForNewUserDropsPreviousData(t *testing.T) {
	s := State{
		View:       ViewDashboard,
		Session:    testSession(),
		BusinessID: "biz-1",
		Profile:    testProfile(),
	}
	other := &domain.Session{UserID: "user-2"}
	next := Reduce(s, SessionEstablished{Session: other})
	assert.Equal(t, ViewLoading, next.View)
	assert.Empty(t, next.BusinessID)
	assert.Nil(t, next.Profile)

	same := Reduce(s, SessionEstablished{Session: &domain.Session{UserID: "user-1", AccessToken: "new"}})
	assert.Equal(t, ViewDashboard, same.View)
	assert.Equal(t, "new", same.Session.AccessToken)
}

func TestActivePhaseIndex(t *testing.T) {
	locked := []domain.RoadmapPhase{{Status: domain.PhaseLocked}, {Status: domain.PhaseLocked}}
	s := State{Strategy: domain.CombineStrategy(&domain.PartialStrategy{Roadmap: locked}, &domain.BusinessAudit{})}
	assert.Equal(t, 0, s.ActivePhaseIndex())

	third := []domain.RoadmapPhase{
		{Status: domain.PhaseCompleted}, {Status: domain.PhaseCompleted}, {Status: domain.PhaseActive}, {Status: domain.PhaseLocked},
	}
	s.Strategy = domain.CombineStrategy(&domain.PartialStrategy{Roadmap: third}, &domain.BusinessAudit{})
	assert.Equal(t, 2, s.ActivePhaseIndex())
}

func TestGenerationFailureBeforeSaveReturnsToOnboarding(t *testing.T) {
	s := State{View: ViewReport, Generating: true, WaitingForStrategy: true}
	next := Reduce(s, GenerationFailed{Err: errors.New("bad json")})
	assert.Equal(t, ViewOnboarding, next.View)
	assert.False(t, next.Generating)
	assert.False(t, next.WaitingForStrategy)

	s.BusinessID = "biz-1"
	next = Reduce(s, GenerationFailed{Err: errors.New("bad json")})
	assert.Equal(t, ViewReport, next.View)
	assert.Equal(t, "bad json", next.GenerationError)
}

func TestFailedLoadIsNotMarkedLoaded(t *testing.T) {
	s := Reduce(State{}, SessionEstablished{Session: testSession()})
	failed := Reduce(s, DataLoaded{UserID: "user-1", Err: errors.New("boom")})
	assert.Equal(t, ViewError, failed.View)
	assert.Equal(t, "boom", failed.FatalError)
	assert.Empty(t, failed.DataLoadedFor)

	retrying := Reduce(failed, SessionEstablished{Session: testSession()})
	assert.Equal(t, ViewLoading, retrying.View)
	assert.Empty(t, retrying.FatalError)

	data := &domain.UserData{BusinessID: "biz-1", Profile: testProfile()}
	loaded := Reduce(retrying, DataLoaded{UserID: "user-1", Data: data})
	assert.Equal(t, ViewLoading, loaded.View)
	assert.True(t, loaded.RecoveryNeeded)
	assert.Equal(t, "user-1", loaded.DataLoadedFor)
}

func TestRecoveryFailureLeavesLoadingView(t *testing.T) {
	s := State{View: ViewLoading, BusinessID: "biz-1", Profile: testProfile(), Generating: true}
	next := Reduce(s, GenerationFailed{Err: errors.New("quota exhausted")})
	assert.Equal(t, ViewError, next.View)
	assert.Equal(t, "quota exhausted", next.GenerationError)
	assert.Empty(t, next.FatalError)
}

func TestStrategyWithoutAuditIsNeverApplied(t *testing.T) {
	s := State{Generating: true}
	next := Reduce(s, StrategyReady{Strategy: &domain.ComprehensiveStrategy{}})
	assert.Nil(t, next.Strategy)
	assert.True(t, next.Generating)
}

func TestDeliverablesAreCopiedOnWrite(t *testing.T) {
	s := Reduce(State{}, DeliverableReady{ModuleID: "a", Text: "one"})
	next := Reduce(s, DeliverableReady{ModuleID: "b", Text: "two"})
	assert.Len(t, s.Deliverables, 1)
	assert.Len(t, next.Deliverables, 2)
}
