// responses.go -- Package-wide HTTP response helpers.
//
// Shared by handlers and middleware. Every body is JSON; message bodies
// always have the shape {"message":"..."}.
package api

import (
	"encoding/json"
	"net/http"
)

// writeJSON encodes v with the given status. An encoding failure becomes a 500.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// writeMessage writes {"message": message} with the given status.
func writeMessage(w http.ResponseWriter, status int, message string) {
	body, _ := json.Marshal(struct {
		Message string `json:"message"`
	}{message})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// InternalServerError logs the error and returns a generic 500 JSON response.
// Never exposes internal error details to prevent information leakage.
func InternalServerError(w http.ResponseWriter, r *http.Request, err error) {
	logError(r, "internal server error", "error", err)
	writeMessage(w, http.StatusInternalServerError, "internal server error")
}

// BadRequest returns a 400 JSON response with the given message.
// Use for client input validation failures.
func BadRequest(w http.ResponseWriter, message string) {
	writeMessage(w, http.StatusBadRequest, message)
}

// Unauthorized returns a 401 JSON response.
// Keep message generic to prevent user enumeration.
func Unauthorized(w http.ResponseWriter, message string) {
	writeMessage(w, http.StatusUnauthorized, message)
}

// Forbidden returns a 403 JSON response.
func Forbidden(w http.ResponseWriter, message string) {
	writeMessage(w, http.StatusForbidden, message)
}

// NotFound returns a 404 JSON response.
func NotFound(w http.ResponseWriter, message string) {
	writeMessage(w, http.StatusNotFound, message)
}

// ServiceUnavailable returns a 503 JSON response.
func ServiceUnavailable(w http.ResponseWriter, message string) {
	writeMessage(w, http.StatusServiceUnavailable, message)
}

// OK returns a 200 JSON response with the given message.
func OK(w http.ResponseWriter, message string) {
	writeMessage(w, http.StatusOK, message)
}
