package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"maps"
	"net/http"

	docerrors "github.com/Aman-CERP/docindex/internal/errors"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// WriteJSON writes data as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes an ErrorResponse with the given status.
func WriteError(w http.ResponseWriter, status int, code, message string, details map[string]string) error {
	return WriteJSON(w, status, ErrorResponse{
		Error:   code,
		Message: message,
		Details: details,
	})
}

// StatusFor maps an error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case docerrors.IsNotFound(err):
		return http.StatusNotFound
	case docerrors.IsAlreadyExists(err):
		return http.StatusConflict
	case docerrors.GetCode(err) == docerrors.ErrCodeUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case docerrors.GetCode(err) == docerrors.ErrCodeFileNotFound:
		return http.StatusNotFound
	case docerrors.GetCategory(err) == docerrors.CategoryValidation:
		return http.StatusBadRequest
	case docerrors.IsConnection(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleError writes err as a mapped error response. Server-side failures
// are logged; client errors are not.
func handleError(w http.ResponseWriter, r *http.Request, err error, logger *slog.Logger) {
	status := StatusFor(err)

	code := docerrors.GetCode(err)
	message := err.Error()
	var details map[string]string
	if de, ok := docerrors.As(err); ok {
		message = de.Message
		details = maps.Clone(de.Details)
		if de.Suggestion != "" {
			if details == nil {
				details = map[string]string{}
			}
			details["suggestion"] = de.Suggestion
		}
	}
	if code == "" {
		code = http.StatusText(status)
	}

	if status >= http.StatusInternalServerError {
		attrs := append([]slog.Attr{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
		}, docerrors.LogAttrs(err)...)
		logger.LogAttrs(r.Context(), slog.LevelError, "api_request_failed", attrs...)
	}

	if werr := WriteError(w, status, code, message, details); werr != nil {
		logger.Error("api_write_failed", slog.String("error", werr.Error()))
	}
}
