package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/growthdesk/internal/domain"
	"github.com/ashureev/growthdesk/internal/generator"
	"github.com/ashureev/growthdesk/internal/identity"
)

// Tactical kinds.
const (
	TacticalContent = "content"
	TacticalCopy    = "copy"
	TacticalTrends  = "trends"
	TacticalScript  = "script"
	TacticalChat    = "chat"
)

// CachePrefix is the key prefix of a device's cached tactical results.
func CachePrefix(deviceID string) string {
	return deviceID + "/"
}

type tacticalRequest struct {
	Topic       string                  `json:"topic"`
	Instruction string                  `json:"instruction"`
	Script      *domain.VideoScript     `json:"script"`
	History     []generator.ChatMessage `json:"history"`
}

type tacticalResponse struct {
	Kind   string `json:"kind"`
	Cached bool   `json:"cached"`
	Result any    `json:"result"`
}

// Tactical runs one ad-hoc generator request for the signed-in business.
func (h *Handler) Tactical(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	switch kind {
	case TacticalContent, TacticalCopy, TacticalTrends, TacticalScript, TacticalChat:
	default:
		Error(w, http.StatusNotFound, "unknown tactical kind")
		return
	}

	var req tacticalRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	deviceID := identity.DeviceIDFromContext(r.Context())
	s := h.controllers.Get(deviceID).Snapshot()
	userID := s.UserID()
	if userID == "" {
		Error(w, http.StatusUnauthorized, "sign in first")
		return
	}
	if s.Profile == nil {
		Error(w, http.StatusUnprocessableEntity, "complete onboarding first")
		return
	}
	lang := s.Language(h.defaultLanguage)

	key := tacticalKey(deviceID, userID, kind, lang, req)
	if key != "" {
		if v, ok := h.cache.Get(key); ok {
			JSON(w, http.StatusOK, tacticalResponse{Kind: kind, Cached: true, Result: v})
			return
		}
	}

	// Only uncached calls reach the generator, so only they count.
	if !h.limiter.Allow(userID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	h.logger.Info("Tactical request",
		"kind", kind,
		"user_id", userID,
		"request_id", chiMiddleware.GetReqID(r.Context()),
	)

	result, err := h.runTactical(r.Context(), kind, s.Profile, lang, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if key != "" {
		h.cache.Set(key, result)
	}
	JSON(w, http.StatusOK, tacticalResponse{Kind: kind, Result: result})
}

func (h *Handler) runTactical(ctx context.Context, kind string, profile *domain.BusinessProfile, lang string, req tacticalRequest) (any, error) {
	switch kind {
	case TacticalContent:
		return h.tactical.SuggestContent(ctx, profile, req.Topic, lang)
	case TacticalCopy:
		return h.tactical.SuggestCopy(ctx, profile, req.Topic, lang)
	case TacticalTrends:
		return h.tactical.ListTrends(ctx, profile, lang)
	case TacticalScript:
		if req.Script == nil {
			return nil, fmt.Errorf("%w: script is required", errdefs.ErrInvalidArgument)
		}
		return h.tactical.RefineScript(ctx, profile, *req.Script, req.Instruction, lang)
	case TacticalChat:
		return h.tactical.ChatReply(ctx, profile, req.History, lang)
	default:
		return nil, fmt.Errorf("%w: tactical kind %q", errdefs.ErrNotFound, kind)
	}
}

// tacticalKey returns the cache key of a repeatable request, or "" for
// requests that are never cached.
func tacticalKey(deviceID, userID, kind, lang string, req tacticalRequest) string {
	var input string
	switch kind {
	case TacticalContent, TacticalCopy:
		input = strings.ToLower(strings.TrimSpace(req.Topic))
	case TacticalTrends:
	default:
		return ""
	}
	return CachePrefix(deviceID) + strings.Join([]string{"tactical", userID, kind, lang, input}, "\x00")
}
