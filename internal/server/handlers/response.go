package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/relay-onprem/control-plane/internal/requestctx"
)

// ErrorBody is the uniform error envelope returned by every failing
// endpoint: {"error": {"code", "message", "request_id", "details"?}}.
type ErrorBody struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
	Details   any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// JSON writes data as a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		}
	}
}

// Error writes the uniform error envelope for the given status and message.
func Error(w http.ResponseWriter, r *http.Request, status int, message string) {
	ErrorWithDetails(w, r, status, message, nil)
}

// ErrorWithDetails writes the uniform error envelope with an extra details payload.
func ErrorWithDetails(w http.ResponseWriter, r *http.Request, status int, message string, details any) {
	body := errorEnvelope{Error: ErrorBody{
		Code:    status,
		Message: message,
		Details: details,
	}}
	if r != nil {
		body.Error.RequestID = requestctx.RequestID(r.Context())
	}
	JSON(w, status, body)
}

func BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	Error(w, r, http.StatusBadRequest, message)
}

func Unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	Error(w, r, http.StatusUnauthorized, message)
}

// TwoFactorRequired writes a 403 carrying the distinguishing
// X-2FA-Required header the client uses to route to the 2FA-completion
// endpoint instead of treating this as an ordinary authorization failure.
func TwoFactorRequired(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("X-2FA-Required", "true")
	Error(w, r, http.StatusForbidden, message)
}

func Forbidden(w http.ResponseWriter, r *http.Request, message string) {
	Error(w, r, http.StatusForbidden, message)
}

func NotFound(w http.ResponseWriter, r *http.Request, message string) {
	Error(w, r, http.StatusNotFound, message)
}

func Conflict(w http.ResponseWriter, r *http.Request, message string) {
	Error(w, r, http.StatusConflict, message)
}

func Gone(w http.ResponseWriter, r *http.Request, message string) {
	Error(w, r, http.StatusGone, message)
}

func PayloadTooLarge(w http.ResponseWriter, r *http.Request, message string) {
	Error(w, r, http.StatusRequestEntityTooLarge, message)
}

func UnprocessableEntity(w http.ResponseWriter, r *http.Request, message string, details any) {
	ErrorWithDetails(w, r, http.StatusUnprocessableEntity, message, details)
}

func TooManyRequests(w http.ResponseWriter, r *http.Request, message string) {
	Error(w, r, http.StatusTooManyRequests, message)
}

// InternalError logs nothing itself (the caller already did) and never
// echoes the underlying error text to the client.
func InternalError(w http.ResponseWriter, r *http.Request) {
	Error(w, r, http.StatusInternalServerError, "internal server error")
}

func BadGateway(w http.ResponseWriter, r *http.Request, message string) {
	Error(w, r, http.StatusBadGateway, message)
}

func ServiceUnavailable(w http.ResponseWriter, r *http.Request, message string) {
	Error(w, r, http.StatusServiceUnavailable, message)
}
