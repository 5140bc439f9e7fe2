package services_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mesorail/mesorail/internal/addressing"
	"github.com/mesorail/mesorail/internal/models"
	"github.com/mesorail/mesorail/internal/repository"
	"github.com/mesorail/mesorail/internal/services"
)

// --- Mocks ---

// MockVaultRepository is a mock for VaultRepository.
type MockVaultRepository struct {
	mock.Mock
}

func (m *MockVaultRepository) CreateVault(ctx context.Context, vault *models.Vault) error {
	args := m.Called(ctx, vault)
	return args.Error(0)
}

func (m *MockVaultRepository) GetVault(ctx context.Context, vaultID string) (*models.Vault, error) {
	args := m.Called(ctx, vaultID)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return ret.(*models.Vault), args.Error(1)
}

func (m *MockVaultRepository) GetVaultForUpdate(
	ctx context.Context,
	tx *sqlx.Tx,
	vaultID string,
) (*models.Vault, error) {
	args := m.Called(ctx, tx, vaultID)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return ret.(*models.Vault), args.Error(1)
}

func (m *MockVaultRepository) UpdateVaultTotals(
	ctx context.Context,
	tx *sqlx.Tx,
	vaultID string,
	totalBacking, totalVoucher int64,
) error {
	args := m.Called(ctx, tx, vaultID, totalBacking, totalVoucher)
	return args.Error(0)
}

// MockRoleRepository is a mock for RoleRepository.
type MockRoleRepository struct {
	mock.Mock
}

func (m *MockRoleRepository) CreateRoleEntry(ctx context.Context, entry *models.RoleEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockRoleRepository) GetRoleEntry(ctx context.Context, vaultID, address string) (*models.RoleEntry, error) {
	args := m.Called(ctx, vaultID, address)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return ret.(*models.RoleEntry), args.Error(1)
}

func (m *MockRoleRepository) DeactivateRoleEntry(ctx context.Context, vaultID, address string) error {
	args := m.Called(ctx, vaultID, address)
	return args.Error(0)
}

// MockBalanceRepository is a mock for BalanceRepository.
type MockBalanceRepository struct {
	mock.Mock
}

func (m *MockBalanceRepository) GetBalance(ctx context.Context, account, asset string) (int64, error) {
	args := m.Called(ctx, account, asset)
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockBalanceRepository) LockBalance(
	ctx context.Context,
	tx *sqlx.Tx,
	account, asset string,
) (int64, error) {
	args := m.Called(ctx, tx, account, asset)
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockBalanceRepository) AdjustBalance(
	ctx context.Context,
	tx *sqlx.Tx,
	account, asset string,
	delta int64,
) error {
	args := m.Called(ctx, tx, account, asset, delta)
	return args.Error(0)
}

// MockAuditEmitter is a mock for audit.Emitter.
type MockAuditEmitter struct {
	mock.Mock
}

func (m *MockAuditEmitter) Emit(ctx context.Context, record *models.AuditRecord) {
	m.Called(ctx, record)
}

// --- Setup ---

type ledgerMocks struct {
	vaultRepo   *MockVaultRepository
	roleRepo    *MockRoleRepository
	balanceRepo *MockBalanceRepository
	auditor     *MockAuditEmitter
	sqlMock     sqlmock.Sqlmock
}

// Вспомогательная функция для создания сервиса леджера с моками всех зависимостей.
func setupLedgerService(t *testing.T) (services.LedgerService, *ledgerMocks) {
	db, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")

	m := &ledgerMocks{
		vaultRepo:   new(MockVaultRepository),
		roleRepo:    new(MockRoleRepository),
		balanceRepo: new(MockBalanceRepository),
		auditor:     new(MockAuditEmitter),
		sqlMock:     sqlMock,
	}
	service := services.NewLedgerService(sqlxDB, m.vaultRepo, m.roleRepo, m.balanceRepo, m.auditor)
	return service, m
}

// Тестовое хранилище с заданными счетчиками.
func testVault(totalBacking, totalVoucher int64) *models.Vault {
	return &models.Vault{
		ID:                    "vault-1",
		Authority:             "admin-addr",
		BackingAsset:          "usdc",
		VoucherAsset:          "voucher-1",
		TotalBackingDeposited: totalBacking,
		TotalVoucherMinted:    totalVoucher,
	}
}

func activeRole(address string, role models.Role) *models.RoleEntry {
	return &models.RoleEntry{
		ID:       addressing.RoleAddress("vault-1", address),
		VaultID:  "vault-1",
		Address:  address,
		Role:     role,
		IsActive: true,
	}
}

// --- InitializeVault ---

func TestInitializeVault(t *testing.T) {
	t.Run("Успешная инициализация", func(t *testing.T) {
		service, m := setupLedgerService(t)

		vaultID := addressing.VaultAddress("admin-addr")
		voucherAsset := addressing.VoucherAssetID(vaultID)
		created := &models.Vault{ID: vaultID, Authority: "admin-addr", BackingAsset: "usdc", VoucherAsset: voucherAsset}

		m.vaultRepo.On("CreateVault", mock.Anything, mock.MatchedBy(func(v *models.Vault) bool {
			return v.ID == vaultID && v.Authority == "admin-addr" &&
				v.BackingAsset == "usdc" && v.VoucherAsset == voucherAsset
		})).Return(nil)
		m.vaultRepo.On("GetVault", mock.Anything, vaultID).Return(created, nil)
		m.auditor.On("Emit", mock.Anything, mock.Anything).Once()

		vault, err := service.InitializeVault(context.Background(), "admin-addr", "usdc")

		require.NoError(t, err)
		assert.Equal(t, created, vault)
		m.vaultRepo.AssertExpectations(t)
		m.auditor.AssertExpectations(t)
	})

	t.Run("Повторная инициализация отклоняется", func(t *testing.T) {
		service, m := setupLedgerService(t)

		m.vaultRepo.On("CreateVault", mock.Anything, mock.Anything).Return(repository.ErrVaultExists)

		vault, err := service.InitializeVault(context.Background(), "admin-addr", "usdc")

		require.ErrorIs(t, err, services.ErrAlreadyInitialized)
		assert.Nil(t, vault)
		m.auditor.AssertNotCalled(t, "Emit", mock.Anything, mock.Anything)
	})
}

// --- AddRole / RemoveRole ---

func TestAddRole(t *testing.T) {
	t.Run("Успешная регистрация клиента", func(t *testing.T) {
		service, m := setupLedgerService(t)
		entry := activeRole("client-addr", models.RoleClient)

		m.vaultRepo.On("GetVault", mock.Anything, "vault-1").Return(testVault(0, 0), nil)
		m.roleRepo.On("GetRoleEntry", mock.Anything, "vault-1", "client-addr").
			Return(nil, repository.ErrRoleNotFound).Once()
		m.roleRepo.On("CreateRoleEntry", mock.Anything, mock.MatchedBy(func(e *models.RoleEntry) bool {
			return e.VaultID == "vault-1" && e.Address == "client-addr" &&
				e.Role == models.RoleClient && e.IsActive
		})).Return(nil)
		m.roleRepo.On("GetRoleEntry", mock.Anything, "vault-1", "client-addr").
			Return(entry, nil).Once()
		m.auditor.On("Emit", mock.Anything, mock.Anything).Once()

		got, err := service.AddRole(context.Background(), "vault-1", "admin-addr", "client-addr", models.RoleClient)

		require.NoError(t, err)
		assert.Equal(t, entry, got)
		m.roleRepo.AssertExpectations(t)
	})

	t.Run("Повторная регистрация с той же ролью идемпотентна", func(t *testing.T) {
		service, m := setupLedgerService(t)
		entry := activeRole("merchant-addr", models.RoleMerchant)

		m.vaultRepo.On("GetVault", mock.Anything, "vault-1").Return(testVault(0, 0), nil)
		m.roleRepo.On("GetRoleEntry", mock.Anything, "vault-1", "merchant-addr").Return(entry, nil)

		got, err := service.AddRole(context.Background(), "vault-1", "admin-addr", "merchant-addr", models.RoleMerchant)

		require.NoError(t, err)
		assert.Equal(t, entry, got)
		m.roleRepo.AssertNotCalled(t, "CreateRoleEntry", mock.Anything, mock.Anything)
	})

	t.Run("Регистрация с другой ролью - конфликт", func(t *testing.T) {
		service, m := setupLedgerService(t)
		entry := activeRole("client-addr", models.RoleClient)

		m.vaultRepo.On("GetVault", mock.Anything, "vault-1").Return(testVault(0, 0), nil)
		m.roleRepo.On("GetRoleEntry", mock.Anything, "vault-1", "client-addr").Return(entry, nil)

		got, err := service.AddRole(context.Background(), "vault-1", "admin-addr", "client-addr", models.RoleMerchant)

		require.ErrorIs(t, err, services.ErrRoleConflict)
		assert.Nil(t, got)
	})

	t.Run("Вызывающий не администратор", func(t *testing.T) {
		service, m := setupLedgerService(t)

		m.vaultRepo.On("GetVault", mock.Anything, "vault-1").Return(testVault(0, 0), nil)

		got, err := service.AddRole(context.Background(), "vault-1", "intruder-addr", "client-addr", models.RoleClient)

		require.ErrorIs(t, err, services.ErrUnauthorized)
		assert.Nil(t, got)
		m.roleRepo.AssertNotCalled(t, "GetRoleEntry", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Недопустимая роль", func(t *testing.T) {
		service, m := setupLedgerService(t)

		got, err := service.AddRole(context.Background(), "vault-1", "admin-addr", "client-addr", models.Role("banker"))

		require.ErrorIs(t, err, services.ErrInvalidRole)
		assert.Nil(t, got)
		m.vaultRepo.AssertNotCalled(t, "GetVault", mock.Anything, mock.Anything)
	})

	t.Run("Хранилище не найдено", func(t *testing.T) {
		service, m := setupLedgerService(t)

		m.vaultRepo.On("GetVault", mock.Anything, "missing").Return(nil, repository.ErrVaultNotFound)

		got, err := service.AddRole(context.Background(), "missing", "admin-addr", "client-addr", models.RoleClient)

		require.ErrorIs(t, err, services.ErrVaultNotFound)
		assert.Nil(t, got)
	})
}

func TestRemoveRole(t *testing.T) {
	t.Run("Успешная деактивация", func(t *testing.T) {
		service, m := setupLedgerService(t)

		m.vaultRepo.On("GetVault", mock.Anything, "vault-1").Return(testVault(0, 0), nil)
		m.roleRepo.On("DeactivateRoleEntry", mock.Anything, "vault-1", "client-addr").Return(nil)
		m.auditor.On("Emit", mock.Anything, mock.Anything).Once()

		err := service.RemoveRole(context.Background(), "vault-1", "admin-addr", "client-addr")

		require.NoError(t, err)
		m.roleRepo.AssertExpectations(t)
	})

	t.Run("Адрес не зарегистрирован", func(t *testing.T) {
		service, m := setupLedgerService(t)

		m.vaultRepo.On("GetVault", mock.Anything, "vault-1").Return(testVault(0, 0), nil)
		m.roleRepo.On("DeactivateRoleEntry", mock.Anything, "vault-1", "ghost-addr").
			Return(repository.ErrRoleNotFound)

		err := service.RemoveRole(context.Background(), "vault-1", "admin-addr", "ghost-addr")

		require.ErrorIs(t, err, services.ErrNotRegistered)
	})

	t.Run("Вызывающий не администратор", func(t *testing.T) {
		service, m := setupLedgerService(t)

		m.vaultRepo.On("GetVault", mock.Anything, "vault-1").Return(testVault(0, 0), nil)

		err := service.RemoveRole(context.Background(), "vault-1", "intruder-addr", "client-addr")

		require.ErrorIs(t, err, services.ErrUnauthorized)
		m.roleRepo.AssertNotCalled(t, "DeactivateRoleEntry", mock.Anything, mock.Anything, mock.Anything)
	})
}

// --- Deposit ---

func TestDeposit(t *testing.T) {
	t.Run("Успешный депозит с эмиссией по курсу", func(t *testing.T) {
		service, m := setupLedgerService(t)

		m.sqlMock.ExpectBegin()
		m.vaultRepo.On("GetVaultForUpdate", mock.Anything, mock.Anything, "vault-1").
			Return(testVault(0, 0), nil)
		m.balanceRepo.On("LockBalance", mock.Anything, mock.Anything, "user-1", "usdc").Return(int64(100), nil)
		m.balanceRepo.On("LockBalance", mock.Anything, mock.Anything, "user-1", "voucher-1").Return(int64(0), nil)
		m.balanceRepo.On("LockBalance", mock.Anything, mock.Anything, "vault-1", "usdc").Return(int64(0), nil)
		m.balanceRepo.On("AdjustBalance", mock.Anything, mock.Anything, "user-1", "usdc", int64(-25)).Return(nil)
		m.balanceRepo.On("AdjustBalance", mock.Anything, mock.Anything, "user-1", "voucher-1", int64(100)).Return(nil)
		m.balanceRepo.On("AdjustBalance", mock.Anything, mock.Anything, "vault-1", "usdc", int64(25)).Return(nil)
		m.vaultRepo.On("UpdateVaultTotals", mock.Anything, mock.Anything, "vault-1", int64(25), int64(100)).
			Return(nil)
		m.sqlMock.ExpectCommit()
		m.auditor.On("Emit", mock.Anything, mock.Anything).Once()

		minted, err := service.Deposit(context.Background(), "vault-1", "user-1", 25)

		require.NoError(t, err)
		assert.Equal(t, int64(100), minted, "Эмиссия должна быть ровно в 4 раза больше депозита")
		m.balanceRepo.AssertExpectations(t)
		m.vaultRepo.AssertExpectations(t)
		assert.NoError(t, m.sqlMock.ExpectationsWereMet())
	})

	t.Run("Недопустимая сумма", func(t *testing.T) {
		service, m := setupLedgerService(t)

		for _, amount := range []int64{0, -5} {
			minted, err := service.Deposit(context.Background(), "vault-1", "user-1", amount)
			require.ErrorIs(t, err, services.ErrInvalidAmount)
			assert.Zero(t, minted)
		}
		m.vaultRepo.AssertNotCalled(t, "GetVaultForUpdate", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Недостаточно средств - изменения не применяются", func(t *testing.T) {
		service, m := setupLedgerService(t)

		m.sqlMock.ExpectBegin()
		m.vaultRepo.On("GetVaultForUpdate", mock.Anything, mock.Anything, "vault-1").
			Return(testVault(0, 0), nil)
		m.balanceRepo.On("LockBalance", mock.Anything, mock.Anything, "user-1", "usdc").Return(int64(10), nil)
		m.balanceRepo.On("LockBalance", mock.Anything, mock.Anything, "user-1", "voucher-1").Return(int64(0), nil)
		m.balanceRepo.On("LockBalance", mock.Anything, mock.Anything, "vault-1", "usdc").Return(int64(0), nil)
		m.sqlMock.ExpectRollback()

		minted, err := service.Deposit(context.Background(), "vault-1", "user-1", 25)

		require.ErrorIs(t, err, services.ErrInsufficientFunds)
		assert.Zero(t, minted)
		m.balanceRepo.AssertNotCalled(t, "AdjustBalance",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		m.auditor.AssertNotCalled(t, "Emit", mock.Anything, mock.Anything)
		assert.NoError(t, m.sqlMock.ExpectationsWereMet())
	})

	t.Run("Конкурентный конфликт транслируется в ErrConflict", func(t *testing.T) {
		service, m := setupLedgerService(t)

		m.sqlMock.ExpectBegin()
		m.vaultRepo.On("GetVaultForUpdate", mock.Anything, mock.Anything, "vault-1").
			Return(nil, repository.ErrLockNotAvailable)
		m.sqlMock.ExpectRollback()

		minted, err := service.Deposit(context.Background(), "vault-1", "user-1", 25)

		require.ErrorIs(t, err, services.ErrConflict)
		assert.Zero(t, minted)
		assert.NoError(t, m.sqlMock.ExpectationsWereMet())
	})
}

// --- Transfer ---

func TestTransfer(t *testing.T) {
	t.Run("Успешный перевод клиент - мерчант", func(t *testing.T) {
		service, m := setupLedgerService(t)

		m.vaultRepo.On("GetVault", mock.Anything, "vault-1").Return(testVault(25, 100), nil)
		m.roleRepo.On("GetRoleEntry", mock.Anything, "vault-1", "client-addr").
			Return(activeRole("client-addr", models.RoleClient), nil)
		m.roleRepo.On("GetRoleEntry", mock.Anything, "vault-1", "merchant-addr").
			Return(activeRole("merchant-addr", models.RoleMerchant), nil)
		m.sqlMock.ExpectBegin()
		m.balanceRepo.On("LockBalance", mock.Anything, mock.Anything, "client-addr", "voucher-1").
			Return(int64(100), nil)
		m.balanceRepo.On("LockBalance", mock.Anything, mock.Anything, "merchant-addr", "voucher-1").
			Return(int64(0), nil)
		m.balanceRepo.On("AdjustBalance", mock.Anything, mock.Anything, "client-addr", "voucher-1", int64(-60)).
			Return(nil)
		m.balanceRepo.On("AdjustBalance", mock.Anything, mock.Anything, "merchant-addr", "voucher-1", int64(60)).
			Return(nil)
		m.sqlMock.ExpectCommit()
		m.auditor.On("Emit", mock.Anything, mock.Anything).Once()

		err := service.Transfer(context.Background(), "vault-1", "client-addr", "merchant-addr", 60)

		require.NoError(t, err)
		// Счетчики хранилища при переводе не изменяются
		m.vaultRepo.AssertNotCalled(t, "UpdateVaultTotals",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		assert.NoError(t, m.sqlMock.ExpectationsWereMet())
	})

	t.Run("Мерчант не может отправлять", func(t *testing.T) {
		service, m := setupLedgerService(t)

		m.vaultRepo.On("GetVault", mock.Anything, "vault-1").Return(testVault(25, 100), nil)
		m.roleRepo.On("GetRoleEntry", mock.Anything, "vault-1", "merchant-addr").
			Return(activeRole("merchant-addr", models.RoleMerchant), nil)
		m.roleRepo.On("GetRoleEntry", mock.Anything, "vault-1", "other-merchant").
			Return(activeRole("other-merchant", models.RoleMerchant), nil)

		err := service.Transfer(context.Background(), "vault-1", "merchant-addr", "other-merchant", 60)

		require.ErrorIs(t, err, services.ErrOnlyClientCanSend)
		m.balanceRepo.AssertNotCalled(t, "LockBalance",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Получатель не зарегистрирован", func(t *testing.T) {
		service, m := setupLedgerService(t)

		m.vaultRepo.On("GetVault", mock.Anything, "vault-1").Return(testVault(25, 100), nil)
		m.roleRepo.On("GetRoleEntry", mock.Anything, "vault-1", "client-addr").
			Return(activeRole("client-addr", models.RoleClient), nil)
		m.roleRepo.On("GetRoleEntry", mock.Anything, "vault-1", "ghost-addr").
			Return(nil, repository.ErrRoleNotFound)

		err := service.Transfer(context.Background(), "vault-1", "client-addr", "ghost-addr", 60)

		require.ErrorIs(t, err, services.ErrRecipientNotRegistered)
	})

	t.Run("Недостаточно ваучеров", func(t *testing.T) {
		service, m := setupLedgerService(t)

		m.vaultRepo.On("GetVault", mock.Anything, "vault-1").Return(testVault(25, 100), nil)
		m.roleRepo.On("GetRoleEntry", mock.Anything, "vault-1", "client-addr").
			Return(activeRole("client-addr", models.RoleClient), nil)
		m.roleRepo.On("GetRoleEntry", mock.Anything, "vault-1", "merchant-addr").
			Return(activeRole("merchant-addr", models.RoleMerchant), nil)
		m.sqlMock.ExpectBegin()
		m.balanceRepo.On("LockBalance", mock.Anything, mock.Anything, "client-addr", "voucher-1").
			Return(int64(10), nil)
		m.balanceRepo.On("LockBalance", mock.Anything, mock.Anything, "merchant-addr", "voucher-1").
			Return(int64(0), nil)
		m.sqlMock.ExpectRollback()

		err := service.Transfer(context.Background(), "vault-1", "client-addr", "merchant-addr", 60)

		require.ErrorIs(t, err, services.ErrInsufficientFunds)
		m.balanceRepo.AssertNotCalled(t, "AdjustBalance",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		assert.NoError(t, m.sqlMock.ExpectationsWereMet())
	})
}

// --- Settle ---

func TestSettle(t *testing.T) {
	t.Run("Успешное погашение", func(t *testing.T) {
		service, m := setupLedgerService(t)

		m.roleRepo.On("GetRoleEntry", mock.Anything, "vault-1", "merchant-addr").
			Return(activeRole("merchant-addr", models.RoleMerchant), nil)
		m.sqlMock.ExpectBegin()
		m.vaultRepo.On("GetVaultForUpdate", mock.Anything, mock.Anything, "vault-1").
			Return(testVault(100, 400), nil)
		m.balanceRepo.On("LockBalance", mock.Anything, mock.Anything, "merchant-addr", "voucher-1").
			Return(int64(400), nil)
		m.balanceRepo.On("LockBalance", mock.Anything, mock.Anything, "merchant-addr", "usdc").
			Return(int64(0), nil)
		m.balanceRepo.On("LockBalance", mock.Anything, mock.Anything, "vault-1", "usdc").
			Return(int64(100), nil)
		m.balanceRepo.On("AdjustBalance", mock.Anything, mock.Anything, "merchant-addr", "voucher-1", int64(-200)).
			Return(nil)
		m.balanceRepo.On("AdjustBalance", mock.Anything, mock.Anything, "vault-1", "usdc", int64(-50)).
			Return(nil)
		m.balanceRepo.On("AdjustBalance", mock.Anything, mock.Anything, "merchant-addr", "usdc", int64(50)).
			Return(nil)
		m.vaultRepo.On("UpdateVaultTotals", mock.Anything, mock.Anything, "vault-1", int64(50), int64(200)).
			Return(nil)
		m.sqlMock.ExpectCommit()
		m.auditor.On("Emit", mock.Anything, mock.Anything).Once()

		released, err := service.Settle(context.Background(), "vault-1", "merchant-addr", 200)

		require.NoError(t, err)
		assert.Equal(t, int64(50), released, "Высвобождение должно быть ровно в 4 раза меньше погашаемых ваучеров")
		m.balanceRepo.AssertExpectations(t)
		m.vaultRepo.AssertExpectations(t)
		assert.NoError(t, m.sqlMock.ExpectationsWereMet())
	})

	t.Run("Сумма меньше курса - нечего высвобождать", func(t *testing.T) {
		service, m := setupLedgerService(t)

		released, err := service.Settle(context.Background(), "vault-1", "merchant-addr", 3)

		require.ErrorIs(t, err, services.ErrAmountTooSmall)
		assert.Zero(t, released)
		m.roleRepo.AssertNotCalled(t, "GetRoleEntry", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Погашать может только мерчант", func(t *testing.T) {
		service, m := setupLedgerService(t)

		m.roleRepo.On("GetRoleEntry", mock.Anything, "vault-1", "client-addr").
			Return(activeRole("client-addr", models.RoleClient), nil)

		released, err := service.Settle(context.Background(), "vault-1", "client-addr", 200)

		require.ErrorIs(t, err, services.ErrOnlyMerchantCanSettle)
		assert.Zero(t, released)
	})

	t.Run("Деактивированный мерчант не может погашать", func(t *testing.T) {
		service, m := setupLedgerService(t)

		deactivated := activeRole("merchant-addr", models.RoleMerchant)
		deactivated.IsActive = false
		m.roleRepo.On("GetRoleEntry", mock.Anything, "vault-1", "merchant-addr").Return(deactivated, nil)

		released, err := service.Settle(context.Background(), "vault-1", "merchant-addr", 200)

		require.ErrorIs(t, err, services.ErrOnlyMerchantCanSettle)
		assert.Zero(t, released)
	})

	t.Run("Незарегистрированный адрес не может погашать", func(t *testing.T) {
		service, m := setupLedgerService(t)

		m.roleRepo.On("GetRoleEntry", mock.Anything, "vault-1", "ghost-addr").
			Return(nil, repository.ErrRoleNotFound)

		released, err := service.Settle(context.Background(), "vault-1", "ghost-addr", 200)

		require.ErrorIs(t, err, services.ErrOnlyMerchantCanSettle)
		assert.Zero(t, released)
	})

	t.Run("Недостаточно ваучеров у мерчанта", func(t *testing.T) {
		service, m := setupLedgerService(t)

		m.roleRepo.On("GetRoleEntry", mock.Anything, "vault-1", "merchant-addr").
			Return(activeRole("merchant-addr", models.RoleMerchant), nil)
		m.sqlMock.ExpectBegin()
		m.vaultRepo.On("GetVaultForUpdate", mock.Anything, mock.Anything, "vault-1").
			Return(testVault(100, 400), nil)
		m.balanceRepo.On("LockBalance", mock.Anything, mock.Anything, "merchant-addr", "voucher-1").
			Return(int64(100), nil)
		m.balanceRepo.On("LockBalance", mock.Anything, mock.Anything, "merchant-addr", "usdc").
			Return(int64(0), nil)
		m.balanceRepo.On("LockBalance", mock.Anything, mock.Anything, "vault-1", "usdc").
			Return(int64(100), nil)
		m.sqlMock.ExpectRollback()

		released, err := service.Settle(context.Background(), "vault-1", "merchant-addr", 200)

		require.ErrorIs(t, err, services.ErrInsufficientFunds)
		assert.Zero(t, released)
		m.balanceRepo.AssertNotCalled(t, "AdjustBalance",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		assert.NoError(t, m.sqlMock.ExpectationsWereMet())
	})

	t.Run("Недостаточно обеспечения в хранилище", func(t *testing.T) {
		service, m := setupLedgerService(t)

		m.roleRepo.On("GetRoleEntry", mock.Anything, "vault-1", "merchant-addr").
			Return(activeRole("merchant-addr", models.RoleMerchant), nil)
		m.sqlMock.ExpectBegin()
		m.vaultRepo.On("GetVaultForUpdate", mock.Anything, mock.Anything, "vault-1").
			Return(testVault(100, 400), nil)
		m.balanceRepo.On("LockBalance", mock.Anything, mock.Anything, "merchant-addr", "voucher-1").
			Return(int64(400), nil)
		m.balanceRepo.On("LockBalance", mock.Anything, mock.Anything, "merchant-addr", "usdc").
			Return(int64(0), nil)
		m.balanceRepo.On("LockBalance", mock.Anything, mock.Anything, "vault-1", "usdc").
			Return(int64(10), nil)
		m.sqlMock.ExpectRollback()

		released, err := service.Settle(context.Background(), "vault-1", "merchant-addr", 200)

		require.ErrorIs(t, err, services.ErrInsufficientLiquidity)
		assert.Zero(t, released)
		assert.NoError(t, m.sqlMock.ExpectationsWereMet())
	})
}

// Полный цикл курса на суммах в микроединицах: депозит 10 USDC эмитирует
// 40 ваучеров, погашение всех 40 ваучеров высвобождает ровно 10 USDC.
func TestExchangeRateSymmetry(t *testing.T) {
	const depositAmount = int64(10_000000)
	const mintedAmount = int64(40_000000)

	t.Run("Депозит", func(t *testing.T) {
		service, m := setupLedgerService(t)

		m.sqlMock.ExpectBegin()
		m.vaultRepo.On("GetVaultForUpdate", mock.Anything, mock.Anything, "vault-1").
			Return(testVault(0, 0), nil)
		m.balanceRepo.On("LockBalance", mock.Anything, mock.Anything, "user-1", "usdc").
			Return(depositAmount, nil)
		m.balanceRepo.On("LockBalance", mock.Anything, mock.Anything, "user-1", "voucher-1").
			Return(int64(0), nil)
		m.balanceRepo.On("LockBalance", mock.Anything, mock.Anything, "vault-1", "usdc").
			Return(int64(0), nil)
		m.balanceRepo.On("AdjustBalance",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
		m.vaultRepo.On("UpdateVaultTotals", mock.Anything, mock.Anything, "vault-1", depositAmount, mintedAmount).
			Return(nil)
		m.sqlMock.ExpectCommit()
		m.auditor.On("Emit", mock.Anything, mock.Anything)

		minted, err := service.Deposit(context.Background(), "vault-1", "user-1", depositAmount)

		require.NoError(t, err)
		assert.Equal(t, mintedAmount, minted)
	})

	t.Run("Погашение", func(t *testing.T) {
		service, m := setupLedgerService(t)

		m.roleRepo.On("GetRoleEntry", mock.Anything, "vault-1", "merchant-addr").
			Return(activeRole("merchant-addr", models.RoleMerchant), nil)
		m.sqlMock.ExpectBegin()
		m.vaultRepo.On("GetVaultForUpdate", mock.Anything, mock.Anything, "vault-1").
			Return(testVault(depositAmount, mintedAmount), nil)
		m.balanceRepo.On("LockBalance", mock.Anything, mock.Anything, "merchant-addr", "voucher-1").
			Return(mintedAmount, nil)
		m.balanceRepo.On("LockBalance", mock.Anything, mock.Anything, "merchant-addr", "usdc").
			Return(int64(0), nil)
		m.balanceRepo.On("LockBalance", mock.Anything, mock.Anything, "vault-1", "usdc").
			Return(depositAmount, nil)
		m.balanceRepo.On("AdjustBalance",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
		// После полного погашения оба счетчика возвращаются к нулю
		m.vaultRepo.On("UpdateVaultTotals", mock.Anything, mock.Anything, "vault-1", int64(0), int64(0)).
			Return(nil)
		m.sqlMock.ExpectCommit()
		m.auditor.On("Emit", mock.Anything, mock.Anything)

		released, err := service.Settle(context.Background(), "vault-1", "merchant-addr", mintedAmount)

		require.NoError(t, err)
		assert.Equal(t, depositAmount, released)
	})
}

// --- Чтение ---

func TestLedgerQueries(t *testing.T) {
	t.Run("GetVault транслирует отсутствие хранилища", func(t *testing.T) {
		service, m := setupLedgerService(t)

		m.vaultRepo.On("GetVault", mock.Anything, "missing").Return(nil, repository.ErrVaultNotFound)

		vault, err := service.GetVault(context.Background(), "missing")

		require.ErrorIs(t, err, services.ErrVaultNotFound)
		assert.Nil(t, vault)
	})

	t.Run("GetRole транслирует отсутствие записи", func(t *testing.T) {
		service, m := setupLedgerService(t)

		m.roleRepo.On("GetRoleEntry", mock.Anything, "vault-1", "ghost-addr").
			Return(nil, repository.ErrRoleNotFound)

		entry, err := service.GetRole(context.Background(), "vault-1", "ghost-addr")

		require.ErrorIs(t, err, services.ErrNotRegistered)
		assert.Nil(t, entry)
	})

	t.Run("GetBalance возвращает остаток счета", func(t *testing.T) {
		service, m := setupLedgerService(t)

		m.balanceRepo.On("GetBalance", mock.Anything, "account-1", "usdc").Return(int64(250), nil)

		amount, err := service.GetBalance(context.Background(), "account-1", "usdc")

		require.NoError(t, err)
		assert.Equal(t, int64(250), amount)
	})
}
