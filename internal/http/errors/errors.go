package errors

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"gitea.jw6.us/james/reservo/internal/logging"
)

// Body is the JSON error envelope returned to clients.
type Body struct {
	Error string `json:"error"`
}

// JSON writes v as the response body with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Write sends a JSON error envelope.
func Write(w http.ResponseWriter, status int, message string) {
	JSON(w, status, Body{Error: message})
}

// InternalError logs err with the request id and hides it from the client.
func InternalError(w http.ResponseWriter, r *http.Request, err error, message string) {
	LogError(r, message, err)
	Write(w, http.StatusInternalServerError, "internal server error")
}

func BadRequestError(w http.ResponseWriter, r *http.Request, err error, clientMessage string) {
	requestLogger(r).Warn("bad request", zap.String("reason", clientMessage), zap.Error(err))
	Write(w, http.StatusBadRequest, clientMessage)
}

func LogError(r *http.Request, message string, err error) {
	requestLogger(r).Error(message, zap.Error(err))
}

func LogInfo(r *http.Request, message string, fields ...zap.Field) {
	requestLogger(r).Info(message, fields...)
}

func requestLogger(r *http.Request) *zap.Logger {
	logger := logging.FromContext(r.Context(), zap.L())
	if id := middleware.GetReqID(r.Context()); id != "" {
		// Request-scoped loggers already carry the id.
		if _, ok := logging.Lookup(r.Context()); !ok {
			logger = logger.With(zap.String("request_id", id))
		}
	}
	return logger
}
