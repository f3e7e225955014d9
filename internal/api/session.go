package api

import (
	"net/http"
	"strings"

	"github.com/ashureev/growthdesk/internal/domain"
	"github.com/ashureev/growthdesk/internal/identity"
)

type signInRequest struct {
	Email string `json:"email"`
}

type sessionResponse struct {
	Session *domain.Session `json:"session"`
}

// SignIn starts a session for the calling device.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		Error(w, http.StatusBadRequest, "email is required")
		return
	}

	deviceID := identity.DeviceIDFromContext(r.Context())
	// The controller must be listening before the session exists.
	h.controllers.Get(deviceID)

	session, err := h.auth.SignIn(r.Context(), deviceID, req.Email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("Signed in", "device_id", deviceID, "user_id", session.UserID)
	JSON(w, http.StatusOK, sessionResponse{Session: session})
}

// Refresh extends the calling device's session.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	h.controllers.Get(deviceID)

	session, err := h.auth.Refresh(r.Context(), deviceID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, sessionResponse{Session: session})
}

// Logout signs the device out and returns the cleared state.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	c := h.controller(r)
	h.respondState(w, r, c, c.Logout(r.Context()))
}
