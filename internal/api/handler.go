// Package api provides HTTP handlers for the GrowthDesk API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/containerd/errdefs"

	"github.com/ashureev/growthdesk/internal/app"
	"github.com/ashureev/growthdesk/internal/domain"
	"github.com/ashureev/growthdesk/internal/generator"
	"github.com/ashureev/growthdesk/internal/identity"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// SignInProvider issues and refreshes device sessions.
type SignInProvider interface {
	SignIn(ctx context.Context, deviceID, email string) (*domain.Session, error)
	Refresh(ctx context.Context, deviceID string) (*domain.Session, error)
}

// Tactician produces the ad-hoc dashboard content.
type Tactician interface {
	SuggestContent(ctx context.Context, profile *domain.BusinessProfile, topic, lang string) ([]generator.ContentIdea, error)
	SuggestCopy(ctx context.Context, profile *domain.BusinessProfile, topic, lang string) (*domain.CopySample, error)
	ListTrends(ctx context.Context, profile *domain.BusinessProfile, lang string) ([]domain.Trend, error)
	RefineScript(ctx context.Context, profile *domain.BusinessProfile, script domain.VideoScript, instruction, lang string) (*domain.VideoScript, error)
	ChatReply(ctx context.Context, profile *domain.BusinessProfile, history []generator.ChatMessage, lang string) (string, error)
}

// ResultCache holds tactical results between identical requests.
type ResultCache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// Handler serves the application API for every device.
type Handler struct {
	controllers     *Controllers
	auth            SignInProvider
	tactical        Tactician
	cache           ResultCache
	limiter         *RateLimiter
	defaultLanguage string
	maxBodySize     int64
	logger          *slog.Logger
}

// HandlerConfig groups Handler dependencies.
type HandlerConfig struct {
	Controllers     *Controllers
	Auth            SignInProvider
	Tactical        Tactician
	Cache           ResultCache
	Limiter         *RateLimiter
	DefaultLanguage string
	MaxBodySize     int64
	Logger          *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := cfg.MaxBodySize
	if maxBody <= 0 {
		maxBody = defaultMaxRequestBodySize
	}
	lang := cfg.DefaultLanguage
	if lang == "" {
		lang = domain.LanguageSpanish
	}
	return &Handler{
		controllers:     cfg.Controllers,
		auth:            cfg.Auth,
		tactical:        cfg.Tactical,
		cache:           cfg.Cache,
		limiter:         cfg.Limiter,
		defaultLanguage: lang,
		maxBodySize:     maxBody,
		logger:          logger.With("component", "api"),
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// StatusFor maps an error class to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errdefs.IsInvalidArgument(err):
		return http.StatusBadRequest
	case errdefs.IsUnauthorized(err):
		return http.StatusUnauthorized
	case errdefs.IsPermissionDenied(err):
		return http.StatusForbidden
	case errdefs.IsNotFound(err):
		return http.StatusNotFound
	case errdefs.IsConflict(err), errdefs.IsAborted(err), errdefs.IsAlreadyExists(err):
		return http.StatusConflict
	case errdefs.IsFailedPrecondition(err):
		return http.StatusUnprocessableEntity
	case errdefs.IsResourceExhausted(err):
		return http.StatusTooManyRequests
	case errdefs.IsDataLoss(err):
		return http.StatusBadGateway
	case errdefs.IsUnavailable(err):
		return http.StatusServiceUnavailable
	case errdefs.IsDeadlineExceeded(err):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err with the status of its class. Internal errors are
// logged and not echoed to the client.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path,
			"device_id", identity.DeviceIDFromContext(r.Context()),
		)
		Error(w, status, "internal error")
		return
	}
	Error(w, status, err.Error())
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v unchanged.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		case errors.Is(err, io.EOF):
			return true
		default:
			Error(w, http.StatusBadRequest, "invalid request body")
			return false
		}
	}
	return true
}

// controller returns the calling device's controller.
func (h *Handler) controller(r *http.Request) *app.Controller {
	return h.controllers.Get(identity.DeviceIDFromContext(r.Context()))
}

// stateResponse is the client view of a State.
type stateResponse struct {
	app.State
	ActivePhase int `json:"active_phase"`
}

func newStateResponse(s app.State) stateResponse {
	return stateResponse{State: s, ActivePhase: s.ActivePhaseIndex()}
}

// respondState writes the controller's current state, or err.
func (h *Handler) respondState(w http.ResponseWriter, r *http.Request, c *app.Controller, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, newStateResponse(c.Snapshot()))
}
