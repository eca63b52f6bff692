package http

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// apiError is the error body: a human message, a stable code and the
// throttling hints that apply. Absent hints are omitted.
type apiError struct {
	Error           string `json:"error"`
	Code            string `json:"code"`
	RetryAfter      *int   `json:"retryAfter,omitempty"`
	UnblockTime     *int64 `json:"unblockTime,omitempty"`
	RequiresCaptcha bool   `json:"requiresCaptcha,omitempty"`
	WaitSeconds     *int   `json:"waitSeconds,omitempty"`
	ResetTime       *int64 `json:"resetTime,omitempty"`
	Details         string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, body apiError) {
	if body.RetryAfter != nil {
		w.Header().Set("Retry-After", strconv.Itoa(*body.RetryAfter))
	} else if body.WaitSeconds != nil {
		w.Header().Set("Retry-After", strconv.Itoa(*body.WaitSeconds))
	}
	writeJSON(w, statusCode, body)
}

func writeMessage(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]any{
		"success": true,
		"message": message,
	})
}
