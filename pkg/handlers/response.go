package handlers

import (
	"encoding/json"
	"net/http"
)

// Machine-readable error codes shared across the v3 API.
const (
	codeInvalidID      = "invalid_id"
	codeInvalidLimit   = "invalid_limit"
	codeInvalidRequest = "invalid_request"
	codeNotFound       = "not_found"
	codeRejected       = "transition_rejected"
	codeInternal       = "internal_error"
)

// errorBody is the wire shape of every PRS API error: a stable code plus
// human-readable text. Workflow rejections carry the rule text verbatim in
// Message.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, code, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(errorBody{Error: code, Message: message})
}

// WriteJSON writes v as a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(v)
}
