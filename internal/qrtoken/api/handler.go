package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"ms-canteen/internal/auth"
	"ms-canteen/internal/logger"
	"ms-canteen/internal/qrtoken"
	"ms-canteen/internal/utils"
)

type Handler struct {
	Tokens *qrtoken.Service
	Logger *logger.Logger
}

// IssueToken mints a payment token for the authenticated user.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserName string `json:"user_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	token := h.Tokens.Issue(auth.UserID(r.Context()), req.UserName)
	writeJSON(w, http.StatusCreated, utils.SuccessResponse("token issued", map[string]string{
		"token": token,
	}))
}

// IssueQR renders a fresh token for the authenticated user as a QR PNG.
func (h *Handler) IssueQR(w http.ResponseWriter, r *http.Request) {
	userName := r.URL.Query().Get("name")

	png, err := h.Tokens.IssueQR(auth.UserID(r.Context()), userName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Could not render QR", err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// ValidateToken decodes a scanned token and checks its window. mode is
// "strict" (payment) or "identification"; strict is the default.
func (h *Handler) ValidateToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
		Mode  string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	mode := qrtoken.ModeStrict
	if req.Mode == "identification" {
		mode = qrtoken.ModeIdentification
	}

	claims, err := h.Tokens.Validate(req.Token, mode)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, qrtoken.ErrTokenExpired) {
			status = http.StatusGone
		}
		writeError(w, status, "Token rejected", err)
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("token valid", map[string]any{
		"user_id":    claims.UserID,
		"user_name":  claims.UserName,
		"session_id": claims.SessionID,
		"issued_at":  claims.IssuedAt,
		"legacy":     claims.Legacy(),
	}))
}

func writeJSON(w http.ResponseWriter, status int, body utils.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	writeJSON(w, status, utils.ErrorResponse(message, err.Error()))
}
