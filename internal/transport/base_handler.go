package transport

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	errors "github.com/frahmantamala/fitcoach-payments/internal"
	"github.com/frahmantamala/fitcoach-payments/pkg/logger"
)

// maxBodyBytes caps request bodies; STK callbacks and initiate requests are well under 1 KiB.
const maxBodyBytes = 64 << 10

// BaseHandler provides common functionality for HTTP handlers
type BaseHandler struct {
	Logger *slog.Logger
}

// NewBaseHandler creates a base handler with logger
func NewBaseHandler(lg *slog.Logger) *BaseHandler {
	if lg == nil {
		lg = logger.LoggerWrapper()
		if lg == nil {
			lg = slog.Default()
		}
	}
	return &BaseHandler{Logger: lg}
}

// WriteJSON writes a JSON response
func (h *BaseHandler) WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.Logger.Error("failed to encode JSON response", "error", err)
	}
}

// DecodeJSON reads a single JSON document from the request body.
func (h *BaseHandler) DecodeJSON(r *http.Request, dst interface{}) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return errors.NewBadRequestError("invalid request body", errors.ErrCodeValidationFailed).WithCause(err)
	}
	return nil
}

// HandleError writes err using its AppError status; anything else is a 500.
func (h *BaseHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := errors.IsAppError(err)
	if !ok {
		appErr = errors.NewInternalError("internal server error", err)
	}

	lg := h.Logger
	if scoped, ok := logger.FromContext(r.Context()); ok {
		lg = scoped
	}
	if appErr.StatusCode >= http.StatusInternalServerError {
		lg.Error("request failed", "type", appErr.Type, "code", appErr.Code, "error", err)
	} else {
		lg.Debug("request rejected", "type", appErr.Type, "code", appErr.Code, "error", err)
	}

	status, body := appErr.ToHTTPResponse()
	if status == 0 {
		status = http.StatusInternalServerError
	}
	h.WriteJSON(w, status, body)
}
