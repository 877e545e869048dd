package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/Dan9191/bank-ledger/internal/models"
)

// RetryAfterSeconds is advertised on every StorageUnavailable response.
const RetryAfterSeconds = 1

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind   models.Kind `json:"kind"`
	Reason string      `json:"reason"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind models.Kind) int {
	switch kind {
	case models.KindInvalidAmount, models.KindInvalidRecipient, models.KindAmountTooLow, models.KindInvalidRequest:
		return http.StatusBadRequest
	case models.KindUnauthorized:
		return http.StatusUnauthorized
	case models.KindForbidden:
		return http.StatusForbidden
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindInsufficientFunds, models.KindProductInactive, models.KindNotMatured,
		models.KindAlreadyWithdrawn, models.KindConflict:
		return http.StatusConflict
	case models.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	case models.KindPartialAccrualFailure:
		return http.StatusMultiStatus
	}
	return http.StatusInternalServerError
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the error envelope. Only the kind and the user-facing
// reason leave the process.
func WriteError(w http.ResponseWriter, err error) {
	e := models.AsError(err)
	if e.Kind == models.KindStorageUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
	}
	WriteJSON(w, StatusFor(e.Kind), errorBody{Error: errorDetail{Kind: e.Kind, Reason: e.Reason}})
}
