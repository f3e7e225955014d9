package generator

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/growthdesk/internal/domain"
	"github.com/ashureev/growthdesk/internal/llm"
)

const auditJSON = `{
	"summary": "Strong local bakery with weak online presence",
	"main_problem": "Nobody finds you online",
	"root_cause": "No consistent posting",
	"strengths": ["quality", "loyal clients"],
	"limiting_factors": ["time"],
	"opportunity": "Instagram reels",
	"priority_plan": ["post 3x per week"],
	"anti_actions": ["paid ads"],
	"closing": "Focus beats volume"
}`

const planJSON = `{
	"priority_focus": "Be visible on Instagram",
	"roadmap": [
		{"title": "Foundations", "objective": "Profile", "status": "completed"},
		{"title": "Visibility", "objective": "Reels", "status": "active", "actions": ["film"]},
		{"title": "Scale", "objective": "Ads", "status": "locked"}
	],
	"guided_action": {
		"title": "Define your message",
		"why": "Clarity first",
		"steps": [
			{"title": "Audience", "prompt": "Who buys?", "fields": [{"id": "who", "label": "Who"}]}
		]
	},
	"calendar": [{"day": "Monday", "channel": "instagram", "format": "reel", "topic": "bread"}],
	"video": {"hook": "h", "body": "b", "call_to_action": "c"},
	"static_copy": {"headline": "h", "body": "b", "call_to_action": "c"},
	"trends": [{"title": "t", "description": "d"}]
}`

// fakeClient answers Complete with canned responses in order and Stream
// with chunks.
type fakeClient struct {
	mu        sync.Mutex
	responses []string
	chunks    []string
	streamErr []error
	calls     int
	requests  []llm.Request
}

func (c *fakeClient) Name() string { return "fake" }

func (c *fakeClient) Complete(_ context.Context, req llm.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if len(c.responses) == 0 {
		return "", errors.New("no response scripted")
	}
	out := c.responses[0]
	c.responses = c.responses[1:]
	return out, nil
}

func (c *fakeClient) Stream(_ context.Context, req llm.Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		c.mu.Lock()
		c.requests = append(c.requests, req)
		i := c.calls
		c.calls++
		c.mu.Unlock()

		var acc strings.Builder
		for n, chunk := range c.chunks {
			if i < len(c.streamErr) && n == 1 {
				yield("", c.streamErr[i])
				return
			}
			acc.WriteString(chunk)
			if !yield(acc.String(), nil) {
				return
			}
		}
	}
}

func testProfile() *domain.BusinessProfile {
	return &domain.BusinessProfile{
		Name:        "Panadería Sol",
		Description: "Artisan bakery",
		Audience:    "Neighbors",
		Channels:    []string{"instagram", "whatsapp"},
	}
}

func newTestGenerator(t *testing.T, client llm.Client) *Generator {
	t.Helper()
	g, err := New(client, nil, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return g
}

func TestDefaultCatalogRendersEveryPrompt(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)

	data := promptData{
		Profile: testProfile(),
		Audit:   &domain.BusinessAudit{Summary: "s"},
		Script:  &domain.VideoScript{Hook: "h"},
		Title:   "Brand message",
		Answers: []domain.StepAnswer{{Step: "Audience", Fields: map[string]string{"Who": "neighbors"}}},
		History: []ChatMessage{{Role: RoleUser, Content: "hola"}},
	}
	for _, name := range requiredPrompts {
		req, err := c.render(name, domain.LanguageEnglish, data)
		require.NoError(t, err, name)
		assert.NotEmpty(t, req.System, name)
		assert.NotEmpty(t, req.Prompt, name)
	}
}

func TestRenderUsesLanguageInstruction(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)

	es, err := c.render(promptAudit, domain.LanguageSpanish, promptData{Profile: testProfile()})
	require.NoError(t, err)
	assert.Contains(t, es.System, "español")
	assert.True(t, es.JSON)
	assert.Contains(t, es.Prompt, "Panadería Sol")
	assert.Contains(t, es.Prompt, "Channels: instagram, whatsapp")

	fallback, err := c.render(promptAudit, "fr", promptData{Profile: testProfile()})
	require.NoError(t, err)
	assert.Equal(t, es.System, fallback.System)
}

func TestParseCatalogRejectsMissingPrompt(t *testing.T) {
	_, err := ParseCatalog([]byte("languages: {es: {name: Spanish}, en: {name: English}}\nprompts: {}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing prompt")
}

func TestGenerateAuditReportsCumulativeProgress(t *testing.T) {
	client := &fakeClient{chunks: []string{"```json\n", auditJSON, "\n```"}}
	g := newTestGenerator(t, client)

	var progress []string
	audit, err := g.GenerateAudit(context.Background(), testProfile(), domain.LanguageSpanish, func(s string) {
		progress = append(progress, s)
	})
	require.NoError(t, err)
	assert.Equal(t, "Nobody finds you online", audit.MainProblem)
	require.Len(t, progress, 3)
	for i := 1; i < len(progress); i++ {
		assert.True(t, strings.HasPrefix(progress[i], progress[i-1]))
	}
}

func TestGenerateAuditRetriesRateLimitedStream(t *testing.T) {
	limited := &llm.Error{Provider: "fake", HTTPStatus: http.StatusTooManyRequests, Err: errors.New("quota")}
	client := &fakeClient{
		chunks:    []string{auditJSON[:10], auditJSON[10:]},
		streamErr: []error{limited, limited},
	}
	policy := llm.Policy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
	g := newTestGenerator(t, llm.WithRetry(client, policy, slog.New(slog.DiscardHandler)))

	audit, err := g.GenerateAudit(context.Background(), testProfile(), domain.LanguageEnglish, nil)
	require.NoError(t, err)
	assert.Equal(t, "Focus beats volume", audit.Closing)
	assert.Equal(t, 3, client.calls)
}

func TestGenerateAuditMalformedIsDataLoss(t *testing.T) {
	client := &fakeClient{chunks: []string{`{"summary": "only this"}`}}
	g := newTestGenerator(t, client)

	_, err := g.GenerateAudit(context.Background(), testProfile(), domain.LanguageEnglish, nil)
	require.ErrorIs(t, err, ErrMalformedOutput)
	assert.True(t, errdefs.IsDataLoss(err))
}

func TestGenerateActionPlan(t *testing.T) {
	client := &fakeClient{responses: []string{"Here is your plan:\n" + planJSON + "\nGood luck!"}}
	g := newTestGenerator(t, client)

	audit, err := ParseAudit(auditJSON)
	require.NoError(t, err)

	plan, err := g.GenerateActionPlan(context.Background(), testProfile(), audit, domain.LanguageEnglish)
	require.NoError(t, err)
	assert.Equal(t, "Be visible on Instagram", plan.PriorityFocus)
	assert.Equal(t, 1, domain.ActivePhaseIndex(plan.Roadmap))
	assert.Equal(t, "priority-1", plan.GuidedAction.ID)
	require.Len(t, client.requests, 1)
	assert.Contains(t, client.requests[0].Prompt, "Nobody finds you online")
}

func TestGenerateActionPlanRequiresAudit(t *testing.T) {
	g := newTestGenerator(t, &fakeClient{})
	_, err := g.GenerateActionPlan(context.Background(), testProfile(), nil, domain.LanguageEnglish)
	assert.True(t, errdefs.IsFailedPrecondition(err))
}

func TestGenerateActionPlanRejectsBadStatus(t *testing.T) {
	bad := strings.Replace(planJSON, `"status": "locked"`, `"status": "paused"`, 1)
	g := newTestGenerator(t, &fakeClient{responses: []string{bad}})
	audit, err := ParseAudit(auditJSON)
	require.NoError(t, err)

	_, err = g.GenerateActionPlan(context.Background(), testProfile(), audit, domain.LanguageEnglish)
	require.ErrorIs(t, err, ErrMalformedOutput)
}

func TestGenerateWeeklyPlanResetsCompletion(t *testing.T) {
	client := &fakeClient{responses: []string{`{
		"week_number": 1,
		"weekly_priority": "Launch reels",
		"daily_plan": [
			{"day": "Mon", "title": "Film", "is_completed": true},
			{"day": "Tue", "title": "Edit"}
		]
	}`}}
	g := newTestGenerator(t, client)
	g.now = func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }

	plan, err := g.GenerateWeeklyPlan(context.Background(), testProfile(), domain.LanguageSpanish)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02", plan.StartDate)
	assert.Equal(t, 0, plan.CompletedDays())
	assert.Len(t, plan.DailyPlan, 2)
}

func TestGenerateModuleDeliverable(t *testing.T) {
	client := &fakeClient{responses: []string{"  # Brand message\n\nWe bake for neighbors.  "}}
	g := newTestGenerator(t, client)

	answers := []domain.StepAnswer{{Step: "Audience", Fields: map[string]string{"Who": "neighbors"}}}
	text, err := g.GenerateModuleDeliverable(context.Background(), "Brand message", answers, domain.LanguageEnglish)
	require.NoError(t, err)
	assert.Equal(t, "# Brand message\n\nWe bake for neighbors.", text)
	assert.Contains(t, client.requests[0].Prompt, "- Who: neighbors")
	assert.False(t, client.requests[0].JSON)

	_, err = g.GenerateModuleDeliverable(context.Background(), "Brand message", nil, domain.LanguageEnglish)
	assert.True(t, errdefs.IsFailedPrecondition(err))
}

func TestTacticalGenerators(t *testing.T) {
	client := &fakeClient{responses: []string{
		`{"ideas": [{"title": "Behind the oven", "format": "reel"}]}`,
		`{"headline": "Fresh at 7", "body": "Come early", "call_to_action": "Visit"}`,
		`{"trends": [{"title": "Sourdough", "description": "Rising"}]}`,
		`{"hook": "Smell this", "body": "Bread", "call_to_action": "Order"}`,
		"Post twice a week.",
	}}
	g := newTestGenerator(t, client)
	ctx := context.Background()
	p := testProfile()

	ideas, err := g.SuggestContent(ctx, p, "", domain.LanguageEnglish)
	require.NoError(t, err)
	assert.Equal(t, "Behind the oven", ideas[0].Title)

	sample, err := g.SuggestCopy(ctx, p, "opening hours", domain.LanguageEnglish)
	require.NoError(t, err)
	assert.Equal(t, "Fresh at 7", sample.Headline)

	trends, err := g.ListTrends(ctx, p, domain.LanguageEnglish)
	require.NoError(t, err)
	assert.Equal(t, "Sourdough", trends[0].Title)

	script, err := g.RefineScript(ctx, p, domain.VideoScript{Hook: "old"}, "shorter", domain.LanguageEnglish)
	require.NoError(t, err)
	assert.Equal(t, "Smell this", script.Hook)

	reply, err := g.ChatReply(ctx, p, []ChatMessage{{Role: RoleUser, Content: "How often?"}}, domain.LanguageEnglish)
	require.NoError(t, err)
	assert.Equal(t, "Post twice a week.", reply)
}

func TestChatReplyRequiresUserTurn(t *testing.T) {
	g := newTestGenerator(t, &fakeClient{})
	_, err := g.ChatReply(context.Background(), testProfile(), []ChatMessage{{Role: RoleAssistant, Content: "hi"}}, "en")
	assert.True(t, errdefs.IsInvalidArgument(err))
}

func TestRequireProfile(t *testing.T) {
	g := newTestGenerator(t, &fakeClient{})
	_, err := g.GenerateProfileInsights(context.Background(), &domain.BusinessProfile{Name: "x"}, "es")
	assert.True(t, errdefs.IsInvalidArgument(err))
}
