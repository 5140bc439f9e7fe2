package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/mock"

	"github.com/mesorail/mesorail/internal/handlers"
	"github.com/mesorail/mesorail/internal/middleware"
	"github.com/mesorail/mesorail/internal/models"
	"github.com/mesorail/mesorail/internal/services"
)

// --- Mocks ---

// MockAuthService is a mock for AuthService.
type MockAuthService struct {
	mock.Mock
}

func (m *MockAuthService) Register(ctx context.Context, username, password string) (*models.User, error) {
	args := m.Called(ctx, username, password)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return ret.(*models.User), args.Error(1)
}

func (m *MockAuthService) Login(ctx context.Context, username, password string) (string, error) {
	args := m.Called(ctx, username, password)
	return args.String(0), args.Error(1)
}

// MockLedgerService is a mock for LedgerService.
type MockLedgerService struct {
	mock.Mock
}

func (m *MockLedgerService) InitializeVault(
	ctx context.Context,
	authority, backingAsset string,
) (*models.Vault, error) {
	args := m.Called(ctx, authority, backingAsset)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return ret.(*models.Vault), args.Error(1)
}

func (m *MockLedgerService) AddRole(
	ctx context.Context,
	vaultID, caller, address string,
	role models.Role,
) (*models.RoleEntry, error) {
	args := m.Called(ctx, vaultID, caller, address, role)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return ret.(*models.RoleEntry), args.Error(1)
}

func (m *MockLedgerService) RemoveRole(ctx context.Context, vaultID, caller, address string) error {
	args := m.Called(ctx, vaultID, caller, address)
	return args.Error(0)
}

func (m *MockLedgerService) Deposit(ctx context.Context, vaultID, user string, amount int64) (int64, error) {
	args := m.Called(ctx, vaultID, user, amount)
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLedgerService) Transfer(ctx context.Context, vaultID, sender, recipient string, amount int64) error {
	args := m.Called(ctx, vaultID, sender, recipient, amount)
	return args.Error(0)
}

func (m *MockLedgerService) Settle(ctx context.Context, vaultID, merchant string, amount int64) (int64, error) {
	args := m.Called(ctx, vaultID, merchant, amount)
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLedgerService) GetVault(ctx context.Context, vaultID string) (*models.Vault, error) {
	args := m.Called(ctx, vaultID)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return ret.(*models.Vault), args.Error(1)
}

func (m *MockLedgerService) GetRole(ctx context.Context, vaultID, address string) (*models.RoleEntry, error) {
	args := m.Called(ctx, vaultID, address)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return ret.(*models.RoleEntry), args.Error(1)
}

func (m *MockLedgerService) GetBalance(ctx context.Context, account, asset string) (int64, error) {
	args := m.Called(ctx, account, asset)
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return args.Get(0).(int64), args.Error(1)
}

// --- Helpers ---

// newLedgerRouter собирает роутер с маршрутами леджера поверх мока сервиса,
// чтобы chi заполнял URL-параметры так же, как в боевом сервере.
func newLedgerRouter(ledger services.LedgerService) *chi.Mux {
	vaultHandler := handlers.NewVaultHandler(ledger)
	roleHandler := handlers.NewRoleHandler(ledger)
	ledgerHandler := handlers.NewLedgerHandler(ledger)

	r := chi.NewRouter()
	r.Post("/api/vaults", vaultHandler.InitializeVault)
	r.Get("/api/vaults/{vaultID}", vaultHandler.GetVault)
	r.Post("/api/vaults/{vaultID}/clients", roleHandler.AddClient)
	r.Post("/api/vaults/{vaultID}/merchants", roleHandler.AddMerchant)
	r.Get("/api/vaults/{vaultID}/roles/{address}", roleHandler.GetRole)
	r.Delete("/api/vaults/{vaultID}/roles/{address}", roleHandler.RemoveRole)
	r.Post("/api/vaults/{vaultID}/deposit", ledgerHandler.Deposit)
	r.Post("/api/vaults/{vaultID}/transfer", ledgerHandler.Transfer)
	r.Post("/api/vaults/{vaultID}/settle", ledgerHandler.Settle)
	r.Get("/api/vaults/{vaultID}/balances/{address}", ledgerHandler.GetBalance)
	r.Get("/api/balances/{asset}", ledgerHandler.GetOwnBalance)
	return r
}

// authedRequest создает запрос с адресом счета в контексте,
// как это делает middleware аутентификации.
func authedRequest(t *testing.T, method, target, body, address string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if address != "" {
		req = req.WithContext(context.WithValue(req.Context(), middleware.AddressKey, address))
	}
	return req
}
