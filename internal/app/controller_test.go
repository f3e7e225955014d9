package app

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ashureev/growthdesk/internal/auth"
	"github.com/ashureev/growthdesk/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	c     *Controller
	auth  *fakeAuth
	store *fakeStore
	gen   *fakeGenerator
	cache *fakeCache
}

func newHarness(t *testing.T, session *domain.Session, data *domain.UserData) *harness {
	t.Helper()
	h := &harness{
		auth:  &fakeAuth{session: session},
		store: &fakeStore{data: data},
		gen:   &fakeGenerator{},
		cache: &fakeCache{},
	}
	h.c = NewController("device-1", h.auth, h.store, h.gen, h.cache, Options{
		DefaultLanguage: domain.LanguageSpanish,
		TransitionDelay: 10 * time.Millisecond,
		SubActionClear:  10 * time.Millisecond,
	}, slog.New(slog.DiscardHandler))
	t.Cleanup(func() {
		h.c.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, h.c.Flush(ctx))
	})
	return h
}

func (h *harness) start() {
	h.c.Start(context.Background())
}

func (h *harness) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.c.Flush(ctx))
}

func waitForView(t *testing.T, c *Controller, want View) State {
	t.Helper()
	var last State
	require.Eventually(t, func() bool {
		last = c.Snapshot()
		return last.View == want
	}, 2*time.Second, 2*time.Millisecond, "view never became %s", want)
	return last
}

func completeData() *domain.UserData {
	return &domain.UserData{
		BusinessID: "biz-1",
		Profile:    testProfile(),
		Strategy:   testStrategy(),
	}
}

func TestNewUserGoesThroughTransitionToOnboarding(t *testing.T) {
	h := newHarness(t, testSession(), nil)

	var views []View
	unsubscribe := h.c.Subscribe(func(s State) { views = append(views, s.View) })
	defer unsubscribe()

	h.start()
	waitForView(t, h.c, ViewOnboarding)
	h.flush(t)
	assert.Contains(t, views, ViewTransition)
}

func TestReturningUserWithWeeklyPlanSkipsDashboard(t *testing.T) {
	data := completeData()
	data.WeeklyPlan = testWeeklyPlan()
	h := newHarness(t, testSession(), data)

	var views []View
	unsubscribe := h.c.Subscribe(func(s State) { views = append(views, s.View) })
	defer unsubscribe()

	h.start()
	s := waitForView(t, h.c, ViewWeeklyAgency)
	h.flush(t)
	assert.NotContains(t, views, ViewDashboard)
	assert.Equal(t, "biz-1", s.BusinessID)
	assert.Equal(t, 1, s.ActivePhaseIndex())
}

func TestReturningUserWithoutWeeklyPlanLandsOnDashboard(t *testing.T) {
	h := newHarness(t, testSession(), completeData())
	h.start()
	waitForView(t, h.c, ViewDashboard)
}

func TestLoadFailureIsFatal(t *testing.T) {
	h := newHarness(t, testSession(), nil)
	h.store.loadErr = errors.New("disk on fire")
	h.start()

	s := waitForView(t, h.c, ViewError)
	assert.Contains(t, s.FatalError, "disk on fire")
}

func TestLoadFailureRetriesOnNextSessionEvent(t *testing.T) {
	h := newHarness(t, testSession(), completeData())
	h.store.loadErr = errors.New("transient db hiccup")
	h.start()
	waitForView(t, h.c, ViewError)
	h.flush(t)

	h.store.mu.Lock()
	h.store.loadErr = nil
	h.store.mu.Unlock()

	h.auth.emit(auth.Event{Kind: auth.EventInitialSession, Session: testSession()})
	s := waitForView(t, h.c, ViewDashboard)
	h.flush(t)

	assert.Empty(t, s.FatalError)
	assert.Equal(t, "biz-1", s.BusinessID)
	h.store.mu.Lock()
	assert.Equal(t, 2, h.store.loads)
	h.store.mu.Unlock()
}

func TestReloadAfterLoadFailure(t *testing.T) {
	h := newHarness(t, testSession(), completeData())
	h.store.loadErr = errors.New("transient db hiccup")
	h.start()
	waitForView(t, h.c, ViewError)
	h.flush(t)

	h.store.mu.Lock()
	h.store.loadErr = nil
	h.store.mu.Unlock()

	require.NoError(t, h.c.Reload())
	waitForView(t, h.c, ViewDashboard)
	h.flush(t)

	// Outside the error view reload does nothing.
	require.NoError(t, h.c.Reload())
	h.flush(t)
	h.store.mu.Lock()
	assert.Equal(t, 2, h.store.loads)
	h.store.mu.Unlock()
}

func TestRecoveryFailureShowsRetryableError(t *testing.T) {
	data := &domain.UserData{BusinessID: "biz-1", Profile: testProfile()}
	h := newHarness(t, testSession(), data)
	h.gen.auditErr = errors.New("quota exhausted")
	h.start()
	s := waitForView(t, h.c, ViewError)
	h.flush(t)

	s = h.c.Snapshot()
	assert.Equal(t, ViewError, s.View)
	assert.Contains(t, s.GenerationError, "quota exhausted")
	assert.Empty(t, s.FatalError)
	assert.False(t, s.Generating)
	assert.NotNil(t, s.Profile)

	h.gen.mu.Lock()
	h.gen.auditErr = nil
	h.gen.mu.Unlock()

	require.NoError(t, h.c.Reload())
	waitForView(t, h.c, ViewReport)
	h.flush(t)
	assert.True(t, h.c.Snapshot().Strategy.IsPresent())
	h.store.mu.Lock()
	assert.Equal(t, 1, h.store.loads)
	h.store.mu.Unlock()
}

func TestEmptyActionPlanFailsGeneration(t *testing.T) {
	h := newHarness(t, testSession(), nil)
	h.gen.emptyPlan = true
	h.start()
	waitForView(t, h.c, ViewOnboarding)

	require.NoError(t, h.c.CompleteOnboarding(testProfile()))
	require.Eventually(t, func() bool {
		return h.c.Snapshot().GenerationError != ""
	}, 2*time.Second, 2*time.Millisecond)
	h.flush(t)

	s := h.c.Snapshot()
	assert.False(t, s.Generating)
	assert.Nil(t, s.Strategy)
	assert.Contains(t, s.GenerationError, "empty action plan")
	assert.Zero(t, h.store.snapshotCount())
}

func TestNoSessionShowsAuth(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.start()
	waitForView(t, h.c, ViewAuth)
	h.flush(t)
	assert.Equal(t, 0, h.store.loads)
}

func TestBothSessionPathsReconcileOnce(t *testing.T) {
	h := newHarness(t, testSession(), completeData())
	h.start()
	h.auth.emit(auth.Event{Kind: auth.EventInitialSession, Session: testSession()})
	h.auth.emit(auth.Event{Kind: auth.EventTokenRefreshed, Session: testSession()})
	h.flush(t)

	s := h.c.Snapshot()
	assert.Equal(t, ViewDashboard, s.View)
	assert.Equal(t, "biz-1", s.BusinessID)
	assert.Equal(t, "user-1", s.DataLoadedFor)
}

func TestInconsistentUserRecoversExactlyOnce(t *testing.T) {
	data := &domain.UserData{BusinessID: "biz-1", Profile: testProfile()}
	h := newHarness(t, testSession(), data)

	var views []View
	unsubscribe := h.c.Subscribe(func(s State) { views = append(views, s.View) })
	defer unsubscribe()

	h.start()
	waitForView(t, h.c, ViewReport)
	h.flush(t)

	// Another session event for the same user must not re-run recovery.
	h.auth.emit(auth.Event{Kind: auth.EventTokenRefreshed, Session: testSession()})
	h.flush(t)

	audits, plans := h.gen.counts()
	assert.Equal(t, 1, audits)
	assert.Equal(t, 1, plans)
	assert.NotContains(t, views, ViewOnboarding)

	s := h.c.Snapshot()
	assert.False(t, s.RecoveryNeeded)
	assert.True(t, s.Strategy.IsPresent())
	assert.Equal(t, 1, h.store.snapshotCount())

	require.NoError(t, h.c.ContinueFromReport())
	waitForView(t, h.c, ViewRoadmap)
}

func TestOnboardingPipeline(t *testing.T) {
	h := newHarness(t, testSession(), nil)
	h.start()
	waitForView(t, h.c, ViewOnboarding)

	require.NoError(t, h.c.CompleteOnboarding(testProfile()))
	waitForView(t, h.c, ViewReport)
	h.flush(t)

	s := h.c.Snapshot()
	assert.Equal(t, "biz-1", s.BusinessID)
	assert.Equal(t, "core", s.Profile.CoreMessage)
	assert.Equal(t, domain.LanguageEnglish, s.Profile.Language)
	require.True(t, s.Strategy.IsPresent())

	// The action plan was built from the audit the audit stage produced.
	h.gen.mu.Lock()
	assert.Same(t, h.gen.audits[0], h.gen.lastAudit)
	h.gen.mu.Unlock()
	assert.Same(t, s.Strategy.Audit, s.Audit)

	require.Equal(t, 1, h.store.snapshotCount())
	snap := h.store.snapshots[0]
	assert.Equal(t, "Panadería Sol", snap.Profile.Name)
	assert.Equal(t, "Instagram", snap.Strategy.PriorityFocus)
}

func TestOnboardingRejectsInvalidProfile(t *testing.T) {
	h := newHarness(t, testSession(), nil)
	h.start()
	waitForView(t, h.c, ViewOnboarding)

	err := h.c.CompleteOnboarding(&domain.BusinessProfile{Name: "No description"})
	assert.True(t, errdefs.IsInvalidArgument(err))
}

func TestProfileSaveFailureStaysOnOnboarding(t *testing.T) {
	h := newHarness(t, testSession(), nil)
	h.store.profileErr = errors.New("db down")
	h.start()
	waitForView(t, h.c, ViewOnboarding)

	require.NoError(t, h.c.CompleteOnboarding(testProfile()))
	h.flush(t)

	s := h.c.Snapshot()
	assert.Equal(t, ViewOnboarding, s.View)
	assert.False(t, s.SavingProfile)
	assert.Contains(t, s.GenerationError, "db down")
	audits, plans := h.gen.counts()
	assert.Zero(t, audits)
	assert.Zero(t, plans)
}

func TestAuditFailureKeepsSavedProfile(t *testing.T) {
	h := newHarness(t, testSession(), nil)
	h.gen.auditErr = errors.New("malformed")
	h.start()
	waitForView(t, h.c, ViewOnboarding)

	require.NoError(t, h.c.CompleteOnboarding(testProfile()))
	h.flush(t)

	s := h.c.Snapshot()
	assert.Equal(t, "biz-1", s.BusinessID)
	assert.NotNil(t, s.Profile)
	assert.False(t, s.Generating)
	assert.Contains(t, s.GenerationError, "malformed")
	_, plans := h.gen.counts()
	assert.Zero(t, plans, "action plan must not run without a parsed audit")

	h.gen.mu.Lock()
	h.gen.auditErr = nil
	h.gen.mu.Unlock()
	require.NoError(t, h.c.RetryGeneration())
	h.flush(t)
	assert.True(t, h.c.Snapshot().Strategy.IsPresent())
}

func TestContinueBeforeStrategyWaits(t *testing.T) {
	h := newHarness(t, testSession(), nil)
	h.gen.planGate = make(chan struct{})
	h.start()
	waitForView(t, h.c, ViewOnboarding)

	require.NoError(t, h.c.CompleteOnboarding(testProfile()))
	waitForView(t, h.c, ViewReport)

	require.NoError(t, h.c.ContinueFromReport())
	s := h.c.Snapshot()
	assert.True(t, s.WaitingForStrategy)
	assert.Equal(t, ViewReport, s.View)
	assert.True(t, s.Generating)

	close(h.gen.planGate)
	s = waitForView(t, h.c, ViewRoadmap)
	assert.False(t, s.WaitingForStrategy)
	h.flush(t)

	audits, _ := h.gen.counts()
	assert.Equal(t, 1, audits, "continue must not start a second pipeline")
}

func TestContinueWhenIdleStartsGeneration(t *testing.T) {
	data := &domain.UserData{BusinessID: "biz-1", Profile: testProfile()}
	h := newHarness(t, testSession(), data)
	h.gen.auditErr = errors.New("quota exhausted")
	h.start()
	h.flush(t)
	require.NotEmpty(t, h.c.Snapshot().GenerationError)

	h.gen.mu.Lock()
	h.gen.auditErr = nil
	h.gen.mu.Unlock()

	require.NoError(t, h.c.ContinueFromReport())
	waitForView(t, h.c, ViewRoadmap)
	h.flush(t)
	audits, _ := h.gen.counts()
	assert.Equal(t, 2, audits)
}

func TestNavigationFlow(t *testing.T) {
	h := newHarness(t, testSession(), completeData())
	h.start()
	waitForView(t, h.c, ViewDashboard)

	require.NoError(t, h.c.StartPriority())
	assert.Equal(t, ViewWow, h.c.Snapshot().View)
	require.NoError(t, h.c.AcknowledgeWow())
	assert.Equal(t, ViewDashboard, h.c.Snapshot().View)

	require.NoError(t, h.c.Navigate(ViewRoadmap))
	require.NoError(t, h.c.StartPriority())
	assert.Equal(t, ViewWow, h.c.Snapshot().View)

	require.NoError(t, h.c.Navigate(ViewPricing))
	assert.Equal(t, ViewPricing, h.c.Snapshot().View)

	err := h.c.Navigate(ViewWeeklyAgency)
	assert.True(t, errdefs.IsFailedPrecondition(err))
	err = h.c.Navigate(ViewAuth)
	assert.True(t, errdefs.IsInvalidArgument(err))
	err = h.c.AcknowledgeWow()
	assert.True(t, errdefs.IsFailedPrecondition(err))
}

func TestCompletionGeneratesAndPersistsWeeklyPlan(t *testing.T) {
	h := newHarness(t, testSession(), completeData())
	h.start()
	waitForView(t, h.c, ViewDashboard)

	require.NoError(t, h.c.CompletePriority())
	require.Equal(t, ViewCompletion, h.c.Snapshot().View)
	require.NoError(t, h.c.AcknowledgeCompletion())

	s := waitForView(t, h.c, ViewWeeklyAgency)
	require.NotNil(t, s.WeeklyPlan)
	writes := h.store.writes()
	require.Len(t, writes, 1)
	assert.Equal(t, domain.ProgressWeekly, writes[0].Kind)
}

func TestWeeklyPersistFailureFallsBackToDashboard(t *testing.T) {
	h := newHarness(t, testSession(), completeData())
	h.store.weeklyErr = errors.New("locked")
	h.start()
	waitForView(t, h.c, ViewDashboard)

	require.NoError(t, h.c.CompletePriority())
	require.NoError(t, h.c.AcknowledgeCompletion())
	h.flush(t)

	s := h.c.Snapshot()
	assert.Equal(t, ViewDashboard, s.View)
	assert.Nil(t, s.WeeklyPlan)
	assert.False(t, s.GeneratingWeekly)
}

func TestWeeklyGenerationFailureFallsBackToDashboard(t *testing.T) {
	h := newHarness(t, testSession(), completeData())
	h.gen.weeklyErr = errors.New("rate limited")
	h.start()
	waitForView(t, h.c, ViewDashboard)

	require.NoError(t, h.c.CompletePriority())
	require.NoError(t, h.c.AcknowledgeCompletion())
	h.flush(t)

	assert.Equal(t, ViewDashboard, h.c.Snapshot().View)
	assert.Empty(t, h.store.writes())
}

func TestTrackersAreNoOpsWithoutBusiness(t *testing.T) {
	h := newHarness(t, testSession(), nil)
	h.start()
	waitForView(t, h.c, ViewOnboarding)

	require.NoError(t, h.c.SaveStep(0, map[string]string{"who": "neighbors"}))
	require.NoError(t, h.c.ToggleWeeklyTask(0))
	h.flush(t)

	assert.Empty(t, h.store.writes())
	assert.Empty(t, h.c.Snapshot().Execution)
}

func TestSaveStepReplacesAndPersistsWholeMap(t *testing.T) {
	h := newHarness(t, testSession(), completeData())
	h.start()
	waitForView(t, h.c, ViewDashboard)

	require.NoError(t, h.c.SaveStep(0, map[string]string{"who": "neighbors", "age": "30s"}))
	require.NoError(t, h.c.SaveStep(1, map[string]string{"promise": "fresh"}))
	require.NoError(t, h.c.SaveStep(0, map[string]string{"who": "tourists"}))
	h.flush(t)

	want := domain.ExecutionState{
		0: {"who": "tourists"},
		1: {"promise": "fresh"},
	}
	if diff := cmp.Diff(want, h.c.Snapshot().Execution); diff != "" {
		t.Errorf("execution state mismatch (-want +got):\n%s", diff)
	}

	writes := h.store.writes()
	require.Len(t, writes, 3)
	var sawFull bool
	for _, w := range writes {
		assert.Equal(t, domain.ProgressExecution, w.Kind)
		assert.Equal(t, "biz-1", w.BusinessID)
		if cmp.Equal(want, w.Payload.(domain.ExecutionState)) {
			sawFull = true
		}
	}
	assert.True(t, sawFull, "the last write must carry the entire map")
}

func TestToggleWeeklyPersistsWholePlan(t *testing.T) {
	data := completeData()
	data.WeeklyPlan = testWeeklyPlan()
	h := newHarness(t, testSession(), data)
	h.start()
	waitForView(t, h.c, ViewWeeklyAgency)

	before := h.c.Snapshot().WeeklyPlan
	require.NoError(t, h.c.ToggleWeeklyTask(2))
	h.flush(t)

	writes := h.store.writes()
	require.Len(t, writes, 1)
	plan := writes[0].Payload.(*domain.WeeklyAgencyPlan)
	require.Len(t, plan.DailyPlan, 5)
	assert.Equal(t, "Launch reels", plan.WeeklyPriority)
	assert.True(t, plan.DailyPlan[2].IsCompleted)
	assert.Equal(t, 1, plan.CompletedDays())
	assert.False(t, before.DailyPlan[2].IsCompleted, "previous plan must not be mutated")

	err := h.c.ToggleWeeklyTask(9)
	assert.True(t, errdefs.IsInvalidArgument(err))
}

func TestDeliverableRequiresEveryStep(t *testing.T) {
	h := newHarness(t, testSession(), completeData())
	h.start()
	waitForView(t, h.c, ViewDashboard)
	ctx := context.Background()

	require.NoError(t, h.c.SaveStep(0, map[string]string{"who": "neighbors"}))
	require.NoError(t, h.c.SaveStep(1, map[string]string{"promise": "fresh"}))
	require.NoError(t, h.c.SaveStep(2, map[string]string{"proof": "  "}))

	_, err := h.c.GenerateDeliverable(ctx, "", "")
	assert.True(t, errdefs.IsFailedPrecondition(err))

	require.NoError(t, h.c.SaveStep(2, map[string]string{"proof": "reviews"}))
	text, err := h.c.GenerateDeliverable(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, "# Brand message", text)
	assert.Equal(t, text, h.c.Snapshot().Deliverables["priority-1"])

	_, err = h.c.GenerateDeliverable(ctx, "other", "")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestSubActionIsClearedAfterDelay(t *testing.T) {
	h := newHarness(t, testSession(), completeData())
	h.start()
	waitForView(t, h.c, ViewDashboard)
	require.NoError(t, h.c.Navigate(ViewRoadmap))

	require.NoError(t, h.c.RequestSubAction("open_chat"))
	s := h.c.Snapshot()
	assert.Equal(t, "open_chat", s.RequestedAction)
	assert.Equal(t, ViewDashboard, s.View)

	require.Eventually(t, func() bool {
		return h.c.Snapshot().RequestedAction == ""
	}, time.Second, 2*time.Millisecond)
}

func TestLogoutClearsStateBeforeRemoteSignOut(t *testing.T) {
	h := newHarness(t, testSession(), completeData())
	h.start()
	waitForView(t, h.c, ViewDashboard)

	var during State
	h.auth.onSignOut = func() { during = h.c.Snapshot() }
	h.auth.signOutErr = errors.New("network down")

	require.NoError(t, h.c.Logout(context.Background()))

	assert.Nil(t, during.Session)
	assert.Nil(t, during.Profile)
	assert.Nil(t, during.Strategy)
	assert.Empty(t, during.BusinessID)

	s := h.c.Snapshot()
	assert.Equal(t, ViewAuth, s.View)
	assert.Nil(t, s.Profile)
	assert.Equal(t, 1, h.cache.cleared)
}

func TestSignOutDropsInFlightGeneration(t *testing.T) {
	h := newHarness(t, testSession(), nil)
	h.gen.planGate = make(chan struct{})
	h.start()
	waitForView(t, h.c, ViewOnboarding)

	require.NoError(t, h.c.CompleteOnboarding(testProfile()))
	waitForView(t, h.c, ViewReport)

	h.auth.emit(auth.Event{Kind: auth.EventSignedOut})
	waitForView(t, h.c, ViewAuth)
	close(h.gen.planGate)
	h.flush(t)

	s := h.c.Snapshot()
	assert.Equal(t, ViewAuth, s.View)
	assert.Nil(t, s.Strategy)
	assert.Zero(t, h.store.snapshotCount())
}

func TestClosedControllerRejectsActions(t *testing.T) {
	h := newHarness(t, testSession(), completeData())
	h.start()
	waitForView(t, h.c, ViewDashboard)
	h.c.Close()

	assert.ErrorIs(t, h.c.StartPriority(), ErrClosed)
	assert.ErrorIs(t, h.c.SaveStep(0, nil), ErrClosed)
}

func TestChangeLanguagePersistsThroughSnapshot(t *testing.T) {
	h := newHarness(t, testSession(), completeData())
	h.start()
	waitForView(t, h.c, ViewDashboard)

	require.NoError(t, h.c.ChangeLanguage(domain.LanguageSpanish))
	h.flush(t)

	assert.Equal(t, domain.LanguageSpanish, h.c.Snapshot().Profile.Language)
	require.Equal(t, 1, h.store.snapshotCount())
	assert.Equal(t, domain.LanguageSpanish, h.store.snapshots[0].Profile.Language)

	err := h.c.ChangeLanguage("fr")
	assert.True(t, errdefs.IsInvalidArgument(err))
}

func TestRegenerateInsights(t *testing.T) {
	h := newHarness(t, testSession(), completeData())
	h.start()
	waitForView(t, h.c, ViewDashboard)

	in, err := h.c.RegenerateInsights(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "core", in.CoreMessage)
	h.flush(t)
	assert.Equal(t, "strength", h.c.Snapshot().Profile.KeyStrength)
}
