package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-canteen/internal/auth"
	"ms-canteen/internal/database"
	"ms-canteen/internal/logger"
	"ms-canteen/internal/models"
	"ms-canteen/internal/slot"
	"ms-canteen/internal/utils"
)

type Handler struct {
	Slots  *slot.Service
	Logger *logger.Logger
}

// ListOpen returns active slots for a date, defaulting to today.
func (h *Handler) ListOpen(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}

	slots, err := h.Slots.ListOpen(r.Context(), date)
	if err != nil {
		h.Logger.Error("SLOT", fmt.Sprintf("failed to list slots for %s: %v", date, err))
		writeError(w, http.StatusInternalServerError, "Could not list slots", err)
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("open slots", slots))
}

// Reserve books a seat for the authenticated user and creates the pending
// order in the same atomic step.
func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	slotID := chi.URLParam(r, "slotID")

	var req struct {
		Items models.OrderItems `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "Invalid request body", errors.New("items cannot be empty"))
		return
	}

	order, err := h.Slots.Reserve(r.Context(), slotID, slot.ReserveRequest{
		UserID: auth.UserID(r.Context()),
		Items:  req.Items,
	})
	if err != nil {
		h.writeSlotError(w, "Could not reserve slot", err)
		return
	}

	writeJSON(w, http.StatusCreated, utils.SuccessResponse("slot reserved", order))
}

// Reopen reactivates a closed slot that still has seats. Admin-only.
func (h *Handler) Reopen(w http.ResponseWriter, r *http.Request) {
	slotID := chi.URLParam(r, "slotID")

	if err := h.Slots.Reopen(r.Context(), slotID); err != nil {
		h.writeSlotError(w, "Could not reopen slot", err)
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("slot reopened", map[string]string{
		"slot_id": slotID,
	}))
}

func (h *Handler) writeSlotError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, slot.ErrSlotNotFound):
		status = http.StatusNotFound
	case errors.Is(err, slot.ErrSlotFull):
		status = http.StatusConflict
	case errors.Is(err, database.ErrConcurrentConflict):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.Logger.Error("SLOT", fmt.Sprintf("%s: %v", message, err))
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
