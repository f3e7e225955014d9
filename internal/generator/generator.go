// Package generator produces audits, plans and tactical content for a
// business profile by prompting an LLM and validating its structured output.
package generator

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/containerd/errdefs"

	"github.com/ashureev/growthdesk/internal/domain"
	"github.com/ashureev/growthdesk/internal/llm"
)

// ErrMalformedOutput is returned when a response cannot be parsed into the
// expected structure. It is never retried.
var ErrMalformedOutput = fmt.Errorf("%w: malformed generator output", errdefs.ErrDataLoss)

// ContentIdea is a suggested piece of content.
type ContentIdea struct {
	Title   string `json:"title"`
	Format  string `json:"format"`
	Channel string `json:"channel,omitempty"`
	Hook    string `json:"hook,omitempty"`
}

// ChatMessage is one turn of an assistant conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chat roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Generator is the remote content generator backed by an llm.Client.
// Rate-limit retries are the client's concern; see llm.WithRetry.
type Generator struct {
	client  llm.Client
	catalog *Catalog
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Generator. A nil catalog uses the embedded default.
func New(client llm.Client, catalog *Catalog, logger *slog.Logger) (*Generator, error) {
	if client == nil {
		return nil, fmt.Errorf("generator: nil llm client")
	}
	if catalog == nil {
		var err error
		if catalog, err = DefaultCatalog(); err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		client:  client,
		catalog: catalog,
		logger:  logger.With("component", "generator", "backend", client.Name()),
		now:     time.Now,
	}, nil
}

// complete renders the named prompt, calls the backend and decodes the
// structured result into out.
func (g *Generator) complete(ctx context.Context, name, lang string, data promptData, s *schema, out any) error {
	req, err := g.catalog.render(name, lang, data)
	if err != nil {
		return err
	}

	start := time.Now()
	text, err := g.client.Complete(ctx, req)
	if err != nil {
		g.logger.Warn("generation failed", "prompt", name, "error", err)
		return fmt.Errorf("%s: %w", name, err)
	}
	if err := s.decode(text, out); err != nil {
		g.logger.Warn("malformed generator output", "prompt", name, "error", err, "length", len(text))
		return err
	}

	g.logger.Debug("generation complete", "prompt", name, "duration", time.Since(start))
	return nil
}

func requireProfile(profile *domain.BusinessProfile) error {
	if profile == nil {
		return fmt.Errorf("%w: profile is required", errdefs.ErrInvalidArgument)
	}
	return profile.Validate()
}

// GenerateProfileInsights derives the core message, key strength and solved
// problem for a freshly entered profile.
func (g *Generator) GenerateProfileInsights(ctx context.Context, profile *domain.BusinessProfile, lang string) (domain.ProfileInsights, error) {
	var in domain.ProfileInsights
	if err := requireProfile(profile); err != nil {
		return in, err
	}
	err := g.complete(ctx, promptInsights, lang, promptData{Profile: profile}, schemaInsights, &in)
	return in, err
}

// StreamAudit streams the raw audit text. Each value is the entire text so
// far and replaces the previous one; after a rate-limit retry the text
// starts over.
func (g *Generator) StreamAudit(ctx context.Context, profile *domain.BusinessProfile, lang string) iter.Seq2[string, error] {
	if err := requireProfile(profile); err != nil {
		return func(yield func(string, error) bool) { yield("", err) }
	}
	req, err := g.catalog.render(promptAudit, lang, promptData{Profile: profile})
	if err != nil {
		return func(yield func(string, error) bool) { yield("", err) }
	}
	return g.client.Stream(ctx, req)
}

// ParseAudit decodes the final text of an audit stream.
func ParseAudit(text string) (*domain.BusinessAudit, error) {
	var audit domain.BusinessAudit
	if err := schemaAudit.decode(text, &audit); err != nil {
		return nil, err
	}
	return &audit, nil
}

// GenerateAudit streams the audit, reporting the accumulated text to
// onProgress, and parses the result once the stream ends.
func (g *Generator) GenerateAudit(ctx context.Context, profile *domain.BusinessProfile, lang string, onProgress func(string)) (*domain.BusinessAudit, error) {
	var final string
	for text, err := range g.StreamAudit(ctx, profile, lang) {
		if err != nil {
			g.logger.Warn("audit stream failed", "error", err)
			return nil, fmt.Errorf("%s: %w", promptAudit, err)
		}
		final = text
		if onProgress != nil {
			onProgress(text)
		}
	}

	audit, err := ParseAudit(final)
	if err != nil {
		g.logger.Warn("malformed audit", "error", err, "length", len(final))
		return nil, err
	}
	return audit, nil
}

// GenerateActionPlan produces every strategy field except the audit.
func (g *Generator) GenerateActionPlan(ctx context.Context, profile *domain.BusinessProfile, audit *domain.BusinessAudit, lang string) (*domain.PartialStrategy, error) {
	if err := requireProfile(profile); err != nil {
		return nil, err
	}
	if audit == nil {
		return nil, fmt.Errorf("%w: action plan requires an audit", errdefs.ErrFailedPrecondition)
	}

	var plan domain.PartialStrategy
	data := promptData{Profile: profile, Audit: audit}
	if err := g.complete(ctx, promptActionPlan, lang, data, schemaActionPlan, &plan); err != nil {
		return nil, err
	}
	if plan.GuidedAction.ID == "" {
		plan.GuidedAction.ID = "priority-1"
	}
	return &plan, nil
}

// GenerateWeeklyPlan produces a one-week plan starting today. All days start
// incomplete.
func (g *Generator) GenerateWeeklyPlan(ctx context.Context, profile *domain.BusinessProfile, lang string) (*domain.WeeklyAgencyPlan, error) {
	if err := requireProfile(profile); err != nil {
		return nil, err
	}

	start := g.now().Format(time.DateOnly)
	var plan domain.WeeklyAgencyPlan
	data := promptData{Profile: profile, StartDate: start}
	if err := g.complete(ctx, promptWeeklyPlan, lang, data, schemaWeeklyPlan, &plan); err != nil {
		return nil, err
	}

	if plan.StartDate == "" {
		plan.StartDate = start
	}
	for i := range plan.DailyPlan {
		plan.DailyPlan[i].IsCompleted = false
	}
	return &plan, nil
}

// GenerateModuleDeliverable writes a finished document from worksheet answers.
func (g *Generator) GenerateModuleDeliverable(ctx context.Context, title string, answers []domain.StepAnswer, lang string) (string, error) {
	if strings.TrimSpace(title) == "" {
		return "", fmt.Errorf("%w: deliverable title is required", errdefs.ErrInvalidArgument)
	}
	if len(answers) == 0 {
		return "", fmt.Errorf("%w: deliverable requires answers", errdefs.ErrFailedPrecondition)
	}
	return g.text(ctx, promptDeliverable, lang, promptData{Title: title, Answers: answers})
}

// SuggestContent proposes content ideas, optionally around a topic.
func (g *Generator) SuggestContent(ctx context.Context, profile *domain.BusinessProfile, topic, lang string) ([]ContentIdea, error) {
	if err := requireProfile(profile); err != nil {
		return nil, err
	}
	var out struct {
		Ideas []ContentIdea `json:"ideas"`
	}
	data := promptData{Profile: profile, Topic: topic}
	if err := g.complete(ctx, promptContentIdeas, lang, data, schemaContentIdeas, &out); err != nil {
		return nil, err
	}
	return out.Ideas, nil
}

// SuggestCopy writes a static post about topic.
func (g *Generator) SuggestCopy(ctx context.Context, profile *domain.BusinessProfile, topic, lang string) (*domain.CopySample, error) {
	if err := requireProfile(profile); err != nil {
		return nil, err
	}
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("%w: topic is required", errdefs.ErrInvalidArgument)
	}
	var sample domain.CopySample
	data := promptData{Profile: profile, Topic: topic}
	if err := g.complete(ctx, promptCopy, lang, data, schemaCopy, &sample); err != nil {
		return nil, err
	}
	return &sample, nil
}

// ListTrends returns market trends relevant to the business.
func (g *Generator) ListTrends(ctx context.Context, profile *domain.BusinessProfile, lang string) ([]domain.Trend, error) {
	if err := requireProfile(profile); err != nil {
		return nil, err
	}
	var out struct {
		Trends []domain.Trend `json:"trends"`
	}
	if err := g.complete(ctx, promptTrends, lang, promptData{Profile: profile}, schemaTrends, &out); err != nil {
		return nil, err
	}
	return out.Trends, nil
}

// RefineScript rewrites a video script, applying instruction if given.
func (g *Generator) RefineScript(ctx context.Context, profile *domain.BusinessProfile, script domain.VideoScript, instruction, lang string) (*domain.VideoScript, error) {
	if err := requireProfile(profile); err != nil {
		return nil, err
	}
	var refined domain.VideoScript
	data := promptData{Profile: profile, Script: &script, Topic: instruction}
	if err := g.complete(ctx, promptRefineScript, lang, data, schemaScript, &refined); err != nil {
		return nil, err
	}
	return &refined, nil
}

// ChatReply answers the last user message of history.
func (g *Generator) ChatReply(ctx context.Context, profile *domain.BusinessProfile, history []ChatMessage, lang string) (string, error) {
	if err := requireProfile(profile); err != nil {
		return "", err
	}
	if len(history) == 0 || history[len(history)-1].Role != RoleUser {
		return "", fmt.Errorf("%w: chat history must end with a user message", errdefs.ErrInvalidArgument)
	}
	return g.text(ctx, promptChat, lang, promptData{Profile: profile, History: history})
}

func (g *Generator) text(ctx context.Context, name, lang string, data promptData) (string, error) {
	req, err := g.catalog.render(name, lang, data)
	if err != nil {
		return "", err
	}
	text, err := g.client.Complete(ctx, req)
	if err != nil {
		g.logger.Warn("generation failed", "prompt", name, "error", err)
		return "", fmt.Errorf("%s: %w", name, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: %s: empty response", ErrMalformedOutput, name)
	}
	return text, nil
}
