package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/containerd/errdefs"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/growthdesk/internal/app"
	"github.com/ashureev/growthdesk/internal/domain"
)

// GetState returns the calling device's current state. A page load that
// finds a failed data load starts it again.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	c := h.controller(r)
	if s := c.Snapshot(); s.View == app.ViewError && s.FatalError != "" {
		if err := c.Reload(); err != nil {
			h.logger.Warn("Reload failed", "device_id", c.DeviceID(), "error", err)
		}
	}
	JSON(w, http.StatusOK, newStateResponse(c.Snapshot()))
}

// Reload leaves the error view by loading again or retrying generation.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	c := h.controller(r)
	h.respondState(w, r, c, c.Reload())
}

type onboardingRequest struct {
	Profile *domain.BusinessProfile `json:"profile"`
}

// CompleteOnboarding submits the business profile and starts generation.
func (h *Handler) CompleteOnboarding(w http.ResponseWriter, r *http.Request) {
	var req onboardingRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.Profile == nil {
		Error(w, http.StatusBadRequest, "profile is required")
		return
	}
	c := h.controller(r)
	h.respondState(w, r, c, c.CompleteOnboarding(req.Profile))
}

// ContinueFromReport moves on from the audit report.
func (h *Handler) ContinueFromReport(w http.ResponseWriter, r *http.Request) {
	c := h.controller(r)
	h.respondState(w, r, c, c.ContinueFromReport())
}

// RetryGeneration restarts a failed strategy generation.
func (h *Handler) RetryGeneration(w http.ResponseWriter, r *http.Request) {
	c := h.controller(r)
	h.respondState(w, r, c, c.RetryGeneration())
}

// StartPriority opens the priority action.
func (h *Handler) StartPriority(w http.ResponseWriter, r *http.Request) {
	c := h.controller(r)
	h.respondState(w, r, c, c.StartPriority())
}

// CompletePriority marks the priority action done.
func (h *Handler) CompletePriority(w http.ResponseWriter, r *http.Request) {
	c := h.controller(r)
	h.respondState(w, r, c, c.CompletePriority())
}

// AcknowledgeWow returns to the dashboard.
func (h *Handler) AcknowledgeWow(w http.ResponseWriter, r *http.Request) {
	c := h.controller(r)
	h.respondState(w, r, c, c.AcknowledgeWow())
}

// AcknowledgeCompletion starts the weekly plan.
func (h *Handler) AcknowledgeCompletion(w http.ResponseWriter, r *http.Request) {
	c := h.controller(r)
	h.respondState(w, r, c, c.AcknowledgeCompletion())
}

type navigateRequest struct {
	View   app.View `json:"view"`
	Action string   `json:"action"`
}

// Navigate switches view or, given an action, publishes a dashboard sub-action.
func (h *Handler) Navigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	c := h.controller(r)

	var err error
	switch {
	case req.Action != "":
		err = c.RequestSubAction(req.Action)
	case req.View != "":
		err = c.Navigate(req.View)
	default:
		err = fmt.Errorf("%w: view or action is required", errdefs.ErrInvalidArgument)
	}
	h.respondState(w, r, c, err)
}

type saveStepRequest struct {
	Fields map[string]string `json:"fields"`
}

// SaveStep replaces one module step's answers.
func (h *Handler) SaveStep(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(w, r)
	if !ok {
		return
	}
	var req saveStepRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	c := h.controller(r)
	h.respondState(w, r, c, c.SaveStep(index, req.Fields))
}

// ToggleWeeklyTask flips one day of the weekly plan.
func (h *Handler) ToggleWeeklyTask(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(w, r)
	if !ok {
		return
	}
	c := h.controller(r)
	h.respondState(w, r, c, c.ToggleWeeklyTask(index))
}

type deliverableRequest struct {
	ModuleID string `json:"module_id"`
	Title    string `json:"title"`
}

type deliverableResponse struct {
	ModuleID string `json:"module_id"`
	Content  string `json:"content"`
}

// GenerateDeliverable synthesizes the guided action's document.
func (h *Handler) GenerateDeliverable(w http.ResponseWriter, r *http.Request) {
	var req deliverableRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	c := h.controller(r)
	content, err := c.GenerateDeliverable(r.Context(), req.ModuleID, req.Title)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	moduleID := req.ModuleID
	if moduleID == "" {
		if s := c.Snapshot(); s.Strategy.IsPresent() {
			moduleID = s.Strategy.GuidedAction.ID
		}
	}
	JSON(w, http.StatusOK, deliverableResponse{ModuleID: moduleID, Content: content})
}

type languageRequest struct {
	Language string `json:"language"`
}

// ChangeLanguage switches the content language.
func (h *Handler) ChangeLanguage(w http.ResponseWriter, r *http.Request) {
	var req languageRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	c := h.controller(r)
	h.respondState(w, r, c, c.ChangeLanguage(req.Language))
}

// RegenerateInsights derives the profile insights again.
func (h *Handler) RegenerateInsights(w http.ResponseWriter, r *http.Request) {
	c := h.controller(r)
	insights, err := c.RegenerateInsights(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, insights)
}

func pathIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		Error(w, http.StatusBadRequest, "invalid index")
		return 0, false
	}
	return index, true
}
