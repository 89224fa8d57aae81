package httputil

import (
	"encoding/json"
	"net/http"
)

// MessageResponse is the body of every non-data response
type MessageResponse struct {
	Message string   `json:"message"`
	Missing []string `json:"missing,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteMessage writes a {"message": ...} body with the given status code
func WriteMessage(w http.ResponseWriter, status int, message string) {
	_ = WriteJSON(w, status, MessageResponse{Message: message})
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteMessage(w, http.StatusBadRequest, message)
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteMessage(w, http.StatusUnauthorized, message)
}

// WriteForbidden writes a forbidden error (403)
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteMessage(w, http.StatusForbidden, message)
}

// WriteForbiddenMissing writes a 403 listing the permissions the caller lacks
func WriteForbiddenMissing(w http.ResponseWriter, message string, missing []string) {
	_ = WriteJSON(w, http.StatusForbidden, MessageResponse{Message: message, Missing: missing})
}

// WriteNotFound writes a not found error (404)
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteMessage(w, http.StatusNotFound, message)
}

// WriteConflict writes a conflict error (409)
func WriteConflict(w http.ResponseWriter, message string) {
	WriteMessage(w, http.StatusConflict, message)
}

// WriteTooManyRequests writes a rate limit error (429)
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteMessage(w, http.StatusTooManyRequests, message)
}

// WriteInternalError writes a 500 with a fixed message. The cause is never echoed to clients.
func WriteInternalError(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Internal server error"
	}
	WriteMessage(w, http.StatusInternalServerError, message)
}

// WriteNotImplemented writes a 501 for reserved routes
func WriteNotImplemented(w http.ResponseWriter) {
	WriteMessage(w, http.StatusNotImplemented, "Not implemented")
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
