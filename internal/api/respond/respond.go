// Package respond writes JSON bodies and maps service errors to HTTP
// responses.
package respond

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hugh/go-backoffice/internal/api/dto"
	"github.com/hugh/go-backoffice/internal/apperr"
)

func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Error writes err as an ErrorResponse. Errors that are not *apperr.Error
// are logged and reported as internal with a generic message.
func Error(w http.ResponseWriter, logger *slog.Logger, err error) {
	ae := apperr.As(err)
	if ae == nil || ae.Kind == apperr.KindInternal {
		if logger != nil {
			logger.Error("request failed", "error", err)
		}
		ae = apperr.ErrInternal
	} else if ae.Err != nil && logger != nil {
		logger.Debug("request rejected", "kind", ae.Kind, "error", ae.Err)
	}

	JSON(w, apperr.Status(ae.Kind), dto.ErrorResponse{
		Error:   ae.Message,
		Code:    string(ae.Kind),
		Details: ae.Fields,
	})
}

// BadRequest reports a body that could not be decoded.
func BadRequest(w http.ResponseWriter, message string) {
	JSON(w, http.StatusBadRequest, dto.ErrorResponse{
		Error: message,
		Code:  string(apperr.KindInvalidInput),
	})
}

// Decode reads a JSON body into v, writing a 400 and returning false on
// failure.
func Decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		BadRequest(w, "Invalid request body")
		return false
	}
	return true
}

// Validated writes a validation error when fields is non-empty.
func Validated(w http.ResponseWriter, fields map[string]string) bool {
	if len(fields) == 0 {
		return true
	}
	Error(w, nil, apperr.InvalidInput(fields))
	return false
}
