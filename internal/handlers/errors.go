package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/mesorail/mesorail/internal/services"
)

// ErrorResponse представляет тело ответа с ошибкой операции леджера.
// Retryable выставляется только для конкурентных конфликтов, которые
// вызывающий может повторить без изменения запроса.
type ErrorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

// writeLedgerError транслирует ошибку закрытой таксономии леджера в HTTP-статус.
func writeLedgerError(w http.ResponseWriter, err error) {
	var status int
	retryable := false

	switch {
	case errors.Is(err, services.ErrInvalidAmount),
		errors.Is(err, services.ErrAmountTooSmall),
		errors.Is(err, services.ErrInvalidRole):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	case errors.Is(err, services.ErrUnauthorized),
		errors.Is(err, services.ErrOnlyClientCanSend),
		errors.Is(err, services.ErrOnlyMerchantCanReceive),
		errors.Is(err, services.ErrOnlyMerchantCanSettle):
		status = http.StatusForbidden
	case errors.Is(err, services.ErrVaultNotFound),
		errors.Is(err, services.ErrNotRegistered),
		errors.Is(err, services.ErrRecipientNotRegistered):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrAlreadyInitialized),
		errors.Is(err, services.ErrRoleConflict),
		errors.Is(err, services.ErrInsufficientLiquidity):
		status = http.StatusConflict
	case errors.Is(err, services.ErrConflict):
		status = http.StatusConflict
		retryable = true
	default:
		log.Printf("[Handlers] Внутренняя ошибка операции леджера: %v", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "внутренняя ошибка сервера"})
		return
	}

	writeJSON(w, status, ErrorResponse{Error: err.Error(), Retryable: retryable})
}
