// Package response provides shared JSON response helpers for HTTP handlers.
package response

import (
	"encoding/json"
	"net/http"
)

// Machine-readable error codes carried in Envelope.Code.
const (
	CodeBadRequest         = "bad_request"
	CodeUnauthorized       = "unauthorized"
	CodeNotFound           = "not_found"
	CodeInternal           = "internal"
	CodeFileTooLarge       = "file_too_large"
	CodeTooManyFiles       = "too_many_files"
	CodeMissingFile        = "missing_file"
	CodeUploadIncomplete   = "upload_incomplete"
	CodeStorageUnavailable = "storage_unavailable"
	CodeProcessingFailed   = "processing_failed"
	CodeLinkFailed         = "link_failed"
	CodeStaleReference     = "stale_reference"
	CodeRateLimited        = "rate_limited"
)

// Envelope is the standard API response envelope.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// JSON writes a JSON-encoded payload with the given HTTP status code.
func JSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// OK writes a 200 response with data.
func OK(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, Envelope{Success: true, Data: data})
}

// Created writes a 201 response with data.
func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, Envelope{Success: true, Data: data})
}

// ErrorWithCode writes an error response with a status, code and message.
func ErrorWithCode(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, Envelope{Success: false, Error: message, Code: code})
}

// BadRequest writes a 400 response.
func BadRequest(w http.ResponseWriter, message string) {
	ErrorWithCode(w, http.StatusBadRequest, CodeBadRequest, message)
}

// Unauthorized writes a 401 response.
func Unauthorized(w http.ResponseWriter, message string) {
	ErrorWithCode(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// NotFound writes a 404 response.
func NotFound(w http.ResponseWriter, message string) {
	ErrorWithCode(w, http.StatusNotFound, CodeNotFound, message)
}

// InternalError writes a 500 response with a generic message.
func InternalError(w http.ResponseWriter) {
	ErrorWithCode(w, http.StatusInternalServerError, CodeInternal, "internal server error")
}
