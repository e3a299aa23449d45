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
	"ms-canteen/internal/models"
	"ms-canteen/internal/order"
	"ms-canteen/internal/sse"
	"ms-canteen/internal/utils"
)

type Handler struct {
	Orders   *order.Service
	Watchdog *order.Watchdog
	Emitter  *sse.Emitter
	Logger   *logger.Logger
}

// CreateCounterOrder records a walk-up sale settled at the counter. The
// staff member operating the counter comes from the bearer token.
func (h *Handler) CreateCounterOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID  string            `json:"user_id"`
		Items   models.OrderItems `json:"items"`
		Channel string            `json:"channel"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "Invalid request body", errors.New("items cannot be empty"))
		return
	}
	if req.Channel != models.ChannelCash && req.Channel != models.ChannelWallet {
		writeError(w, http.StatusBadRequest, "Invalid request body",
			fmt.Errorf("channel must be %s or %s", models.ChannelCash, models.ChannelWallet))
		return
	}

	created, err := h.Orders.PlaceCounterOrder(r.Context(), req.UserID, req.Items, req.Channel, auth.UserID(r.Context()))
	if err != nil {
		h.writeOrderError(w, "Could not place counter order", err)
		return
	}

	writeJSON(w, http.StatusCreated, utils.SuccessResponse("counter order placed", created))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	found, err := h.Orders.Get(r.Context(), orderID)
	if err != nil {
		h.writeOrderError(w, "Order not found", err)
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("order", found))
}

// ListMyOrders returns the authenticated user's orders newest-first.
func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)

	orders, err := h.Orders.ListByUser(r.Context(), auth.UserID(r.Context()), limit)
	if err != nil {
		h.writeOrderError(w, "Could not list orders", err)
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("orders", orders))
}

// AdvanceStatus moves the order one step along the fulfillment pipeline.
func (h *Handler) AdvanceStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	updated, err := h.Orders.AdvanceStatus(r.Context(), orderID, req.Status, auth.UserID(r.Context()))
	if err != nil {
		h.writeOrderError(w, "Could not update status", err)
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("status updated", updated))
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	cancelled, err := h.Orders.Cancel(r.Context(), orderID, req.Reason)
	if err != nil {
		h.writeOrderError(w, "Could not cancel order", err)
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("order cancelled", cancelled))
}

// StartGatewayPayment creates (or reuses) the payment intent and arms the
// processing watchdog for the client.
func (h *Handler) StartGatewayPayment(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	intent, err := h.Orders.CreateGatewayIntent(r.Context(), orderID)
	if err != nil {
		h.writeOrderError(w, "Could not start gateway payment", err)
		return
	}

	h.Watchdog.Begin(orderID)

	writeJSON(w, http.StatusCreated, utils.SuccessResponse("payment intent ready", map[string]string{
		"payment_id":    intent.ID,
		"client_secret": intent.ClientSecret,
	}))
}

// RecordGatewayResult consumes the client's report of the gateway outcome.
func (h *Handler) RecordGatewayResult(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	var req struct {
		PaymentID string `json:"payment_id"`
		Succeeded bool   `json:"succeeded"`
		Reason    string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	updated, err := h.Orders.RecordGatewayResult(r.Context(), orderID, req.PaymentID, req.Succeeded, req.Reason)
	h.Watchdog.Resolve(orderID)
	if err != nil {
		h.writeOrderError(w, "Could not record gateway result", err)
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("gateway result recorded", updated))
}

// PaymentProcessing reports the client-advisory in-flight flag.
func (h *Handler) PaymentProcessing(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	writeJSON(w, http.StatusOK, utils.SuccessResponse("payment state", map[string]bool{
		"processing": h.Watchdog.Processing(orderID),
	}))
}

// AssertManualPayment records the payer's claim of a manual transfer.
func (h *Handler) AssertManualPayment(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	updated, err := h.Orders.AssertManualPayment(r.Context(), orderID)
	if err != nil {
		h.writeOrderError(w, "Could not assert manual payment", err)
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("awaiting verification", updated))
}

// ConfirmManualPayment is the staff verification step.
func (h *Handler) ConfirmManualPayment(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	updated, err := h.Orders.ConfirmManualPayment(r.Context(), orderID, auth.UserID(r.Context()))
	if err != nil {
		h.writeOrderError(w, "Could not confirm manual payment", err)
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("payment verified", updated))
}

// StreamStatus streams the order's status events over SSE.
func (h *Handler) StreamStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if orderID == "" {
		http.Error(w, "Order ID is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	ctx := r.Context()
	eventChan := h.Emitter.SubscribeToOrder(ctx, orderID)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"orderID\":\"%s\"}\n\n", orderID)
	flusher.Flush()

	h.Logger.Info("SSE", fmt.Sprintf("Client connected to status events for order: %s", orderID))

	for {
		select {
		case evt := <-eventChan:
			jsonData, err := json.Marshal(evt)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize order event: %v", err))
				continue
			}
			fmt.Fprintf(w, "event: status\ndata: %s\n\n", jsonData)
			flusher.Flush()
		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from status events for: %s", orderID))
			return
		}
	}
}

func (h *Handler) writeOrderError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, order.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, database.ErrConcurrentConflict):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.Logger.Error("ORDER", fmt.Sprintf("%s: %v", message, err))
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
