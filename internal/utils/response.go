// Package utils holds the JSON envelope shared by every HTTP handler.
package utils

import "time"

// APIResponse is the envelope for all API payloads. Expected domain
// outcomes (insufficient funds, slot full, replayed token) travel in
// Error with an actionable Message rather than a bare status code.
type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func SuccessResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// ErrorResponse builds a failure envelope. detail carries the sentinel
// error text so clients can branch on it without parsing Message.
func ErrorResponse(message, detail string) APIResponse {
	return APIResponse{
		Success:   false,
		Message:   message,
		Error:     detail,
		Timestamp: time.Now(),
	}
}
