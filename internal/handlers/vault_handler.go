package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mesorail/mesorail/internal/middleware"
	"github.com/mesorail/mesorail/internal/services"
)

// VaultHandler обрабатывает HTTP-запросы, связанные с хранилищами.
type VaultHandler struct {
	ledger services.LedgerService
}

// NewVaultHandler создает новый экземпляр VaultHandler.
func NewVaultHandler(ledger services.LedgerService) *VaultHandler {
	return &VaultHandler{ledger: ledger}
}

// InitializeVaultRequest представляет тело запроса на инициализацию хранилища.
type InitializeVaultRequest struct {
	BackingAsset string `json:"backing_asset"`
}

// InitializeVault обрабатывает POST запрос на создание хранилища.
// Администратором хранилища становится аутентифицированный вызывающий.
func (h *VaultHandler) InitializeVault(w http.ResponseWriter, r *http.Request) {
	authority, ok := middleware.GetAddressFromContext(r.Context())
	if !ok {
		log.Printf("[VaultHandler:InitializeVault] Не удалось получить адрес из контекста")
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}

	var req InitializeVaultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("[VaultHandler:InitializeVault] Ошибка декодирования запроса: %v", err)
		http.Error(w, "Неверный формат запроса", http.StatusBadRequest)
		return
	}
	if req.BackingAsset == "" {
		http.Error(w, "Не указан актив обеспечения", http.StatusBadRequest)
		return
	}

	log.Printf("[VaultHandler:InitializeVault] Запрос на инициализацию хранилища от %s", authority)

	vault, err := h.ledger.InitializeVault(r.Context(), authority, req.BackingAsset)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, vault)
}

// GetVault обрабатывает GET запрос на получение записи хранилища.
func (h *VaultHandler) GetVault(w http.ResponseWriter, r *http.Request) {
	vaultID := chi.URLParam(r, "vaultID")

	vault, err := h.ledger.GetVault(r.Context(), vaultID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, vault)
}
