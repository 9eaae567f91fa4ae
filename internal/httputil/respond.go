// Package httputil provides shared request/response helpers for the HTTP
// layer.
package httputil

import (
	"encoding/json"
	"net/http"
)

// errorBody is the uniform error envelope returned by every endpoint.
type errorBody struct {
	Error string `json:"error"`
}

// WriteJSON serializes v with the given status. Encoding failures are
// silently dropped; headers are already on the wire at that point.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// DecodeJSON parses the request body into v, answering 400 on failure.
// The boolean reports whether decoding succeeded.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		BadRequest(w, "invalid JSON body")
		return false
	}
	return true
}

// BadRequest answers 400 with the given message.
func BadRequest(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

// NotFound answers 404 with the given message.
func NotFound(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusNotFound, errorBody{Error: msg})
}

// Conflict answers 409 with the given message.
func Conflict(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusConflict, errorBody{Error: msg})
}

// Unauthorized answers 401 with the given message.
func Unauthorized(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusUnauthorized, errorBody{Error: msg})
}

// InternalError answers 500 with the given message.
func InternalError(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusInternalServerError, errorBody{Error: msg})
}
