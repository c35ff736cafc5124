package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"pathway-backend/internal/logger"
	"pathway-backend/internal/middleware"
	"pathway-backend/internal/models"
	"pathway-backend/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, models.SuccessResponse{Success: true, Data: data})
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: r.Header.Get(middleware.RequestIDHeader),
		},
	}
}

func errorRespWithFields(code, message string, fields map[string]string, r *http.Request) models.ErrorResponse {
	resp := errorResp(code, message, r)
	resp.Error.Fields = fields
	return resp
}

func handleServiceError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	var (
		validation *services.ValidationError
		notFound   *services.NotFoundError
		opErr      *services.OperationError
	)
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", validation.Fields, r))
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", notFound.Message, r))
	case errors.As(err, &opErr):
		log.Error("engagement operation failed", "op", opErr.Op, "request_id", r.Header.Get(middleware.RequestIDHeader), "error", opErr.Err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", opErr.Error(), r))
	default:
		log.Error("unexpected handler error", "path", r.URL.Path, "request_id", r.Header.Get(middleware.RequestIDHeader), "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
	}
}
