package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-canteen/internal/auth"
	"ms-canteen/internal/database"
	"ms-canteen/internal/logger"
	"ms-canteen/internal/qrtoken"
	"ms-canteen/internal/sse"
	"ms-canteen/internal/utils"
	"ms-canteen/internal/wallet"
)

type Handler struct {
	Wallet  *wallet.Service
	Tokens  *qrtoken.Service
	Emitter *sse.Emitter
	Logger  *logger.Logger
}

// Topup credits a user's wallet. Admin-only; the acting admin comes from
// the bearer token.
func (h *Handler) Topup(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req struct {
		Amount int64  `json:"amount"`
		Note   string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	entry, err := h.Wallet.Credit(r.Context(), userID, req.Amount, auth.UserID(r.Context()), req.Note)
	if err != nil {
		h.writeWalletError(w, "Could not credit wallet", err)
		return
	}

	writeJSON(w, http.StatusCreated, utils.SuccessResponse("wallet credited", entry))
}

// Balance returns the user's current balance in paise.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	balance, err := h.Wallet.Balance(r.Context(), userID)
	if err != nil {
		h.writeWalletError(w, "Could not read balance", err)
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("balance", map[string]any{
		"user_id": userID,
		"balance": balance,
	}))
}

// Transactions returns the user's ledger newest-first.
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	entries, err := h.Wallet.Ledger(r.Context(), userID, limit, offset)
	if err != nil {
		h.writeWalletError(w, "Could not read transactions", err)
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("transactions", entries))
}

// Charge settles a scanned payment token against the bearer's wallet. The
// scanning counter's staff account is the actor.
func (h *Handler) Charge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token   string `json:"token"`
		Amount  int64  `json:"amount"`
		OrderID string `json:"order_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	claims, err := h.Tokens.Validate(req.Token, qrtoken.ModeStrict)
	if err != nil {
		h.writeWalletError(w, "Token rejected", err)
		return
	}

	entry, err := h.Tokens.ConsumeForPayment(r.Context(), claims, auth.UserID(r.Context()), req.Amount, req.OrderID)
	if err != nil {
		h.writeWalletError(w, "Could not charge wallet", err)
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("payment settled", entry))
}

// StreamEvents streams the user's wallet events over SSE.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		http.Error(w, "User ID is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	setupSSEHeaders(w)

	ctx := r.Context()
	eventChan := h.Emitter.SubscribeToWallet(ctx, userID)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"userID\":\"%s\"}\n\n", userID)
	flusher.Flush()

	h.Logger.Info("SSE", fmt.Sprintf("Client connected to wallet events for user: %s", userID))

	for {
		select {
		case evt := <-eventChan:
			jsonData, err := json.Marshal(evt)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize wallet event: %v", err))
				continue
			}
			fmt.Fprintf(w, "event: wallet\ndata: %s\n\n", jsonData)
			flusher.Flush()
		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from wallet events for: %s", userID))
			return
		}
	}
}

func (h *Handler) writeWalletError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, wallet.ErrInvalidAmount):
		status = http.StatusBadRequest
	case errors.Is(err, qrtoken.ErrInvalidToken):
		status = http.StatusBadRequest
	case errors.Is(err, qrtoken.ErrTokenExpired):
		status = http.StatusGone
	case errors.Is(err, wallet.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	case errors.Is(err, wallet.ErrSessionAlreadyUsed):
		status = http.StatusConflict
	case errors.Is(err, database.ErrConcurrentConflict):
		status = http.StatusConflict
	case errors.Is(err, wallet.ErrUserNotFound), errors.Is(err, wallet.ErrOrderNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		h.Logger.Error("WALLET", fmt.Sprintf("%s: %v", message, err))
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, body utils.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	writeJSON(w, status, utils.ErrorResponse(message, err.Error()))
}

func queryInt(r *http.Request, key string, fallback int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback
	}
	var parsed int
	if _, err := fmt.Sscanf(value, "%d", &parsed); err != nil {
		return fallback
	}
	return parsed
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
