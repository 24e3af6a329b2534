package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"tableside/internal/pkg/apperr"
	"tableside/internal/pkg/logger"
	"tableside/internal/pkg/session"
)

// Issuer 签发角色会话
type Issuer interface {
	Issue(ctx context.Context, staffID, role, restaurantID string) (session.Session, error)
}

// SessionHandler 用员工 PIN 换取角色会话
type SessionHandler struct {
	directory *session.PinDirectory
	issuer    Issuer
}

func NewSessionHandler(directory *session.PinDirectory, issuer Issuer) *SessionHandler {
	return &SessionHandler{directory: directory, issuer: issuer}
}

func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", h.login)
}

type loginRequest struct {
	RestaurantID string `json:"restaurant_id"`
	Pin          string `json:"pin"`
}

type loginResponse struct {
	Token        string    `json:"token"`
	StaffID      string    `json:"staff_id"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	RestaurantID string    `json:"restaurant_id"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (h *SessionHandler) login(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.WriteError(w, apperr.NewValidation("", "malformed JSON body"))
		return
	}
	staff, err := h.directory.Authenticate(req.RestaurantID, req.Pin)
	if err != nil {
		logger.Ctx(ctx).Warn().Str("restaurant_id", req.RestaurantID).Msg("⚠️ PIN login rejected")
		apperr.WriteError(w, err)
		return
	}
	sess, err := h.issuer.Issue(ctx, staff.ID, staff.Role, staff.RestaurantID)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	logger.Ctx(ctx).Info().Str("staff_id", staff.ID).Str("role", staff.Role).Msg("✅ session issued")
	writeJSON(w, http.StatusCreated, loginResponse{
		Token:        sess.Token,
		StaffID:      staff.ID,
		Name:         staff.Name,
		Role:         sess.Role,
		RestaurantID: sess.RestaurantID,
		ExpiresAt:    sess.ExpiresAt,
	})
}
