package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mesorail/mesorail/internal/middleware"
	"github.com/mesorail/mesorail/internal/models"
	"github.com/mesorail/mesorail/internal/services"
)

// RoleHandler обрабатывает HTTP-запросы, связанные с реестром ролей.
type RoleHandler struct {
	ledger services.LedgerService
}

// NewRoleHandler создает новый экземпляр RoleHandler.
func NewRoleHandler(ledger services.LedgerService) *RoleHandler {
	return &RoleHandler{ledger: ledger}
}

// AddRoleRequest представляет тело запроса на регистрацию роли.
type AddRoleRequest struct {
	Address string `json:"address"`
}

// AddClient обрабатывает POST запрос на регистрацию клиента.
func (h *RoleHandler) AddClient(w http.ResponseWriter, r *http.Request) {
	h.addRole(w, r, models.RoleClient)
}

// AddMerchant обрабатывает POST запрос на регистрацию мерчанта.
func (h *RoleHandler) AddMerchant(w http.ResponseWriter, r *http.Request) {
	h.addRole(w, r, models.RoleMerchant)
}

// addRole - общий путь регистрации роли. Вызывающий должен быть
// администратором хранилища; сервис проверяет это сам.
func (h *RoleHandler) addRole(w http.ResponseWriter, r *http.Request, role models.Role) {
	caller, ok := middleware.GetAddressFromContext(r.Context())
	if !ok {
		log.Printf("[RoleHandler:addRole] Не удалось получить адрес из контекста")
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}

	vaultID := chi.URLParam(r, "vaultID")

	var req AddRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("[RoleHandler:addRole] Ошибка декодирования запроса: %v", err)
		http.Error(w, "Неверный формат запроса", http.StatusBadRequest)
		return
	}
	if req.Address == "" {
		http.Error(w, "Не указан адрес участника", http.StatusBadRequest)
		return
	}

	entry, err := h.ledger.AddRole(r.Context(), vaultID, caller, req.Address, role)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// RemoveRole обрабатывает DELETE запрос на деактивацию роли.
func (h *RoleHandler) RemoveRole(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetAddressFromContext(r.Context())
	if !ok {
		log.Printf("[RoleHandler:RemoveRole] Не удалось получить адрес из контекста")
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}

	vaultID := chi.URLParam(r, "vaultID")
	address := chi.URLParam(r, "address")

	if err := h.ledger.RemoveRole(r.Context(), vaultID, caller, address); err != nil {
		writeLedgerError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetRole обрабатывает GET запрос на получение записи роли.
func (h *RoleHandler) GetRole(w http.ResponseWriter, r *http.Request) {
	vaultID := chi.URLParam(r, "vaultID")
	address := chi.URLParam(r, "address")

	entry, err := h.ledger.GetRole(r.Context(), vaultID, address)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}
