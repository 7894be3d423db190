package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"storefront-api/internal/service"
	"storefront-api/internal/util"
)

// Response is the success envelope.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ErrorResponse is the failure envelope.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func respondWithJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		util.Error("failed to encode JSON response", util.ErrorField(err))
	}
}

func respondSuccess(w http.ResponseWriter, statusCode int, message string, data any) {
	respondWithJSON(w, statusCode, Response{Success: true, Message: message, Data: data})
}

func respondWithStatus(w http.ResponseWriter, statusCode int, title, message string) {
	respondWithJSON(w, statusCode, ErrorResponse{
		Success: false,
		Title:   title,
		Message: message,
		Status:  statusCode,
	})
}

// respondWithError maps err onto the envelope. Errors that carry no
// caller-facing message are logged and reported as a bare 500.
func respondWithError(w http.ResponseWriter, logger *zap.Logger, r *http.Request, err error) {
	status, title := getStatusCode(err)
	message := service.Message(err)

	if status == http.StatusInternalServerError || message == "" {
		logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		status, title = http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
		message = "Something went wrong"
	} else {
		logger.Debug("request rejected",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.String("message", message))
	}
	respondWithStatus(w, status, title, message)
}

// getStatusCode determines the status and title for an error.
func getStatusCode(err error) (int, string) {
	var status int
	switch {
	case errors.Is(err, service.ErrElevatedAccess):
		return http.StatusForbidden, "Elevated Access Required"
	case errors.Is(err, service.ErrUnauthorized), errors.Is(err, service.ErrInvalidOrExpiredCode):
		status = http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrNotificationFailed),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrRoleImmutable):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrTooManyRequests):
		status = http.StatusTooManyRequests
	case errors.Is(err, service.ErrAccountExists):
		status = http.StatusConflict
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	default:
		status = http.StatusInternalServerError
	}
	return status, http.StatusText(status)
}

// decodeJSON reads a JSON body into dst; an empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(r.Body)
	err := dec.Decode(dst)
	return err == nil || errors.Is(err, io.EOF)
}
