package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mesorail/mesorail/internal/middleware"
	"github.com/mesorail/mesorail/internal/services"
)

// LedgerHandler обрабатывает HTTP-запросы операций леджера:
// депозит, перевод, погашение и чтение остатков.
type LedgerHandler struct {
	ledger services.LedgerService
}

// NewLedgerHandler создает новый экземпляр LedgerHandler.
func NewLedgerHandler(ledger services.LedgerService) *LedgerHandler {
	return &LedgerHandler{ledger: ledger}
}

// DepositRequest представляет тело запроса на депозит обеспечения.
type DepositRequest struct {
	Amount int64 `json:"amount"`
}

// DepositResponse представляет ответ на успешный депозит.
type DepositResponse struct {
	MintedAmount int64 `json:"minted_amount"`
}

// TransferRequest представляет тело запроса на перевод ваучеров.
type TransferRequest struct {
	Recipient string `json:"recipient"`
	Amount    int64  `json:"amount"`
}

// SettleRequest представляет тело запроса на погашение ваучеров.
type SettleRequest struct {
	Amount int64 `json:"amount"`
}

// SettleResponse представляет ответ на успешное погашение.
type SettleResponse struct {
	ReleasedAmount int64 `json:"released_amount"`
}

// BalanceResponse представляет ответ с остатком счета.
type BalanceResponse struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Amount  int64  `json:"amount"`
}

// Deposit обрабатывает POST запрос на депозит обеспечения.
// Депозит выполняется от имени аутентифицированного вызывающего.
func (h *LedgerHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetAddressFromContext(r.Context())
	if !ok {
		log.Printf("[LedgerHandler:Deposit] Не удалось получить адрес из контекста")
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}

	vaultID := chi.URLParam(r, "vaultID")

	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("[LedgerHandler:Deposit] Ошибка декодирования запроса: %v", err)
		http.Error(w, "Неверный формат запроса", http.StatusBadRequest)
		return
	}

	minted, err := h.ledger.Deposit(r.Context(), vaultID, user, req.Amount)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, DepositResponse{MintedAmount: minted})
}

// Transfer обрабатывает POST запрос на перевод ваучеров.
// Отправителем выступает аутентифицированный вызывающий.
func (h *LedgerHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	sender, ok := middleware.GetAddressFromContext(r.Context())
	if !ok {
		log.Printf("[LedgerHandler:Transfer] Не удалось получить адрес из контекста")
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}

	vaultID := chi.URLParam(r, "vaultID")

	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("[LedgerHandler:Transfer] Ошибка декодирования запроса: %v", err)
		http.Error(w, "Неверный формат запроса", http.StatusBadRequest)
		return
	}
	if req.Recipient == "" {
		http.Error(w, "Не указан получатель", http.StatusBadRequest)
		return
	}

	if err := h.ledger.Transfer(r.Context(), vaultID, sender, req.Recipient, req.Amount); err != nil {
		writeLedgerError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// Settle обрабатывает POST запрос на погашение ваучеров.
// Мерчантом выступает аутентифицированный вызывающий.
func (h *LedgerHandler) Settle(w http.ResponseWriter, r *http.Request) {
	merchant, ok := middleware.GetAddressFromContext(r.Context())
	if !ok {
		log.Printf("[LedgerHandler:Settle] Не удалось получить адрес из контекста")
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}

	vaultID := chi.URLParam(r, "vaultID")

	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("[LedgerHandler:Settle] Ошибка декодирования запроса: %v", err)
		http.Error(w, "Неверный формат запроса", http.StatusBadRequest)
		return
	}

	released, err := h.ledger.Settle(r.Context(), vaultID, merchant, req.Amount)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SettleResponse{ReleasedAmount: released})
}

// GetOwnBalance обрабатывает GET запрос на остаток счета вызывающего.
func (h *LedgerHandler) GetOwnBalance(w http.ResponseWriter, r *http.Request) {
	account, ok := middleware.GetAddressFromContext(r.Context())
	if !ok {
		log.Printf("[LedgerHandler:GetOwnBalance] Не удалось получить адрес из контекста")
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}

	asset := chi.URLParam(r, "asset")

	amount, err := h.ledger.GetBalance(r.Context(), account, asset)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceResponse{Account: account, Asset: asset, Amount: amount})
}

// GetBalance обрабатывает GET запрос на остаток произвольного счета.
// Актив передается параметром запроса asset; по умолчанию - ваучерный актив хранилища.
func (h *LedgerHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	vaultID := chi.URLParam(r, "vaultID")
	address := chi.URLParam(r, "address")

	asset := r.URL.Query().Get("asset")
	if asset == "" {
		vault, err := h.ledger.GetVault(r.Context(), vaultID)
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		asset = vault.VoucherAsset
	}

	amount, err := h.ledger.GetBalance(r.Context(), address, asset)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceResponse{Account: address, Asset: asset, Amount: amount})
}
