package hrest

import (
	"encoding/json"
	"errors"
	"net/http"

	"ledger-service/internal/domain"

	"go.uber.org/zap"
)

type errorBody struct {
	Error *domain.Error `json:"error"`
}

func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// StatusFor maps a domain error kind to its HTTP status.
func StatusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindInvalidArgument:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindAccountClosed,
		domain.KindAccountFrozen,
		domain.KindConflict,
		domain.KindInvalidStateTransition,
		domain.KindAborted:
		return http.StatusConflict
	case domain.KindInsufficientFunds,
		domain.KindCardBlocked,
		domain.KindCardExpired,
		domain.KindLimitExceeded:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err as {"error":{...}}. Anything that is not a domain error is
// logged and hidden behind a generic Internal body.
func Error(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	var de *domain.Error
	if !errors.As(err, &de) || de.Kind == domain.KindInternal {
		logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID(r)),
			zap.Error(err),
		)
		JSON(w, http.StatusInternalServerError, errorBody{Error: &domain.Error{
			Kind:    domain.KindInternal,
			Message: "internal error",
		}})
		return
	}

	if de.Kind == domain.KindConflict {
		w.Header().Set("Retry-After", "1")
	}
	JSON(w, StatusFor(de.Kind), errorBody{Error: de})
}

func unauthorized(w http.ResponseWriter) {
	JSON(w, http.StatusUnauthorized, errorBody{Error: &domain.Error{
		Kind:    "Unauthorized",
		Message: "missing caller identity",
	}})
}
