package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mesorail/mesorail/internal/addressing"
	"github.com/mesorail/mesorail/internal/audit"
	"github.com/mesorail/mesorail/internal/models"
	"github.com/mesorail/mesorail/internal/repository"
)

// LedgerService определяет интерфейс кастодиального леджера:
// четыре атомарные операции состояния, управление реестром ролей
// и запросы на чтение. Все изменяющие операции атомарны: либо
// фиксируются все изменения, либо ни одного.
type LedgerService interface {
	InitializeVault(ctx context.Context, authority, backingAsset string) (*models.Vault, error)
	AddRole(ctx context.Context, vaultID, caller, address string, role models.Role) (*models.RoleEntry, error)
	RemoveRole(ctx context.Context, vaultID, caller, address string) error
	Deposit(ctx context.Context, vaultID, user string, amount int64) (int64, error)
	Transfer(ctx context.Context, vaultID, sender, recipient string, amount int64) error
	Settle(ctx context.Context, vaultID, merchant string, amount int64) (int64, error)

	GetVault(ctx context.Context, vaultID string) (*models.Vault, error)
	GetRole(ctx context.Context, vaultID, address string) (*models.RoleEntry, error)
	GetBalance(ctx context.Context, account, asset string) (int64, error)
}

// Убедимся, что ledgerService удовлетворяет интерфейсу LedgerService.
var _ LedgerService = (*ledgerService)(nil)

type ledgerService struct {
	db          *sqlx.DB
	vaultRepo   repository.VaultRepository
	roleRepo    repository.RoleRepository
	balanceRepo repository.BalanceRepository
	auditor     audit.Emitter
}

// NewLedgerService создает новый экземпляр сервиса леджера.
// auditor может быть nil - тогда записи аудита не формируются.
func NewLedgerService(
	db *sqlx.DB,
	vaultRepo repository.VaultRepository,
	roleRepo repository.RoleRepository,
	balanceRepo repository.BalanceRepository,
	auditor audit.Emitter,
) LedgerService {
	return &ledgerService{
		db:          db,
		vaultRepo:   vaultRepo,
		roleRepo:    roleRepo,
		balanceRepo: balanceRepo,
		auditor:     auditor,
	}
}

// InitializeVault создает хранилище для указанного администратора.
// Адрес хранилища и идентификатор ваучерного актива выводятся детерминированно,
// поэтому повторная инициализация обнаруживается по конфликту адреса.
func (s *ledgerService) InitializeVault(ctx context.Context, authority, backingAsset string) (*models.Vault, error) {
	vaultID := addressing.VaultAddress(authority)
	voucherAsset := addressing.VoucherAssetID(vaultID)

	vault := &models.Vault{
		ID:           vaultID,
		Authority:    authority,
		BackingAsset: backingAsset,
		VoucherAsset: voucherAsset,
	}

	if err := s.vaultRepo.CreateVault(ctx, vault); err != nil {
		if errors.Is(err, repository.ErrVaultExists) {
			log.Printf("[LedgerService] Повторная инициализация хранилища %s отклонена", vaultID)
			return nil, ErrAlreadyInitialized
		}
		return nil, fmt.Errorf("ошибка создания хранилища: %w", err)
	}

	// Перечитываем запись, чтобы вернуть серверные временные метки
	created, err := s.vaultRepo.GetVault(ctx, vaultID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения созданного хранилища: %w", err)
	}

	log.Printf("[LedgerService] Хранилище %s инициализировано (ваучерный актив %s)", vaultID, voucherAsset)
	s.emitAudit(ctx, s.newAuditRecord("initialize_vault", authority, vaultID, nil, nil))
	return created, nil
}

// AddRole регистрирует адрес с указанной ролью в реестре хранилища.
// Повторная регистрация с той же ролью - идемпотентный no-op, с другой
// ролью - ErrRoleConflict. Доступно только администратору хранилища.
func (s *ledgerService) AddRole(
	ctx context.Context,
	vaultID, caller, address string,
	role models.Role,
) (*models.RoleEntry, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}

	vault, err := s.vaultRepo.GetVault(ctx, vaultID)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	if caller != vault.Authority {
		log.Printf("[LedgerService] Попытка регистрации роли в хранилище %s не администратором (%s)", vaultID, caller)
		return nil, ErrUnauthorized
	}

	existing, err := s.roleEntryOrNil(ctx, vaultID, address)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.resolveExistingRole(existing, role, address)
	}

	entry := &models.RoleEntry{
		ID:       addressing.RoleAddress(vaultID, address),
		VaultID:  vaultID,
		Address:  address,
		Role:     role,
		IsActive: true,
	}
	if err = s.roleRepo.CreateRoleEntry(ctx, entry); err != nil {
		if errors.Is(err, repository.ErrRoleExists) {
			// Гонка с конкурентной регистрацией: перечитываем и применяем ту же логику
			existing, err = s.roleEntryOrNil(ctx, vaultID, address)
			if err != nil {
				return nil, err
			}
			if existing == nil {
				return nil, ErrConflict
			}
			return s.resolveExistingRole(existing, role, address)
		}
		return nil, fmt.Errorf("ошибка создания записи роли: %w", err)
	}

	created, err := s.roleRepo.GetRoleEntry(ctx, vaultID, address)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения созданной записи роли: %w", err)
	}

	s.emitAudit(ctx, s.newAuditRecord("add_"+string(role), caller, vaultID, nil, nil))
	return created, nil
}

// resolveExistingRole применяет правило идемпотентной регистрации:
// совпадающая роль - успех без изменений, другая роль - конфликт.
func (s *ledgerService) resolveExistingRole(
	existing *models.RoleEntry,
	role models.Role,
	address string,
) (*models.RoleEntry, error) {
	if existing.Role == role {
		log.Printf("[LedgerService] Адрес %s уже зарегистрирован с ролью %s, повторная регистрация пропущена",
			address, role)
		return existing, nil
	}
	return nil, ErrRoleConflict
}

// RemoveRole деактивирует запись роли. Доступно только администратору хранилища.
func (s *ledgerService) RemoveRole(ctx context.Context, vaultID, caller, address string) error {
	vault, err := s.vaultRepo.GetVault(ctx, vaultID)
	if err != nil {
		return mapLedgerError(err)
	}
	if caller != vault.Authority {
		return ErrUnauthorized
	}

	if err = s.roleRepo.DeactivateRoleEntry(ctx, vaultID, address); err != nil {
		if errors.Is(err, repository.ErrRoleNotFound) {
			return ErrNotRegistered
		}
		return fmt.Errorf("ошибка деактивации роли: %w", err)
	}

	s.emitAudit(ctx, s.newAuditRecord("remove_role", caller, vaultID, nil, nil))
	return nil
}

// Deposit принимает депозит обеспечения и эмитирует ваучеры по фиксированному
// курсу. Роль для депозита не требуется: вносить обеспечение может любой счет.
// Возвращает количество эмитированных ваучеров.
func (s *ledgerService) Deposit(ctx context.Context, vaultID, user string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if amount > math.MaxInt64/models.ExchangeRate {
		return 0, ErrInvalidAmount // Переполнение при конвертации
	}
	minted := amount * models.ExchangeRate

	var record *models.AuditRecord
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		vault, err := s.vaultRepo.GetVaultForUpdate(ctx, tx, vaultID)
		if err != nil {
			return err
		}

		userBacking := balanceKey{account: user, asset: vault.BackingAsset}
		vaultBacking := balanceKey{account: vault.ID, asset: vault.BackingAsset}
		userVoucher := balanceKey{account: user, asset: vault.VoucherAsset}

		lb, err := s.lockBalances(ctx, tx, userBacking, vaultBacking, userVoucher)
		if err != nil {
			return err
		}

		if lb.amount(userBacking) < amount {
			return ErrInsufficientFunds
		}

		// Дебет обеспечения у пользователя, кредит хранилищу, эмиссия ваучеров
		lb.add(userBacking, -amount)
		lb.add(vaultBacking, amount)
		lb.add(userVoucher, minted)
		if err = lb.flush(ctx); err != nil {
			return err
		}

		newBacking := vault.TotalBackingDeposited + amount
		newVoucher := vault.TotalVoucherMinted + minted
		if newBacking < vault.TotalBackingDeposited || newVoucher < vault.TotalVoucherMinted {
			return ErrInvalidAmount // Переполнение счетчиков хранилища
		}
		if err = s.vaultRepo.UpdateVaultTotals(ctx, tx, vault.ID, newBacking, newVoucher); err != nil {
			return err
		}

		record = s.newAuditRecord("deposit", user, vaultID,
			map[string]int64{"backing_amount": amount, "minted_amount": minted},
			lb.resulting())
		return nil
	})
	if err != nil {
		return 0, mapLedgerError(err)
	}

	log.Printf("[LedgerService] Депозит %d в хранилище %s: эмитировано %d ваучеров для %s",
		amount, vaultID, minted, user)
	s.emitAudit(ctx, record)
	return minted, nil
}

// Transfer переводит ваучеры от активного клиента активному мерчанту.
// Счетчики хранилища не изменяются: эмиссии и сжигания при переводе нет.
func (s *ledgerService) Transfer(ctx context.Context, vaultID, sender, recipient string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	vault, err := s.vaultRepo.GetVault(ctx, vaultID)
	if err != nil {
		return mapLedgerError(err)
	}

	senderRole, err := s.roleEntryOrNil(ctx, vaultID, sender)
	if err != nil {
		return err
	}
	recipientRole, err := s.roleEntryOrNil(ctx, vaultID, recipient)
	if err != nil {
		return err
	}
	if err = AuthorizeTransfer(senderRole, recipientRole); err != nil {
		log.Printf("[LedgerService] Перевод %s -> %s в хранилище %s отклонен: %v", sender, recipient, vaultID, err)
		return err
	}

	var record *models.AuditRecord
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		senderVoucher := balanceKey{account: sender, asset: vault.VoucherAsset}
		recipientVoucher := balanceKey{account: recipient, asset: vault.VoucherAsset}

		lb, lockErr := s.lockBalances(ctx, tx, senderVoucher, recipientVoucher)
		if lockErr != nil {
			return lockErr
		}

		if lb.amount(senderVoucher) < amount {
			return ErrInsufficientFunds
		}

		lb.add(senderVoucher, -amount)
		lb.add(recipientVoucher, amount)
		if flushErr := lb.flush(ctx); flushErr != nil {
			return flushErr
		}

		record = s.newAuditRecord("transfer", sender, vaultID,
			map[string]int64{"amount": amount},
			lb.resulting())
		return nil
	})
	if err != nil {
		return mapLedgerError(err)
	}

	log.Printf("[LedgerService] Перевод %d ваучеров %s -> %s в хранилище %s", amount, sender, recipient, vaultID)
	s.emitAudit(ctx, record)
	return nil
}

// Settle погашает ваучеры мерчанта: сжигает их и высвобождает обеспечение
// по фиксированному курсу. Возвращает высвобожденную сумму обеспечения.
func (s *ledgerService) Settle(ctx context.Context, vaultID, merchant string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	release := amount / models.ExchangeRate
	if release == 0 {
		return 0, ErrAmountTooSmall
	}

	merchantRole, err := s.roleEntryOrNil(ctx, vaultID, merchant)
	if err != nil {
		return 0, err
	}
	if merchantRole == nil || merchantRole.Role != models.RoleMerchant || !merchantRole.IsActive {
		log.Printf("[LedgerService] Погашение в хранилище %s отклонено: %s не является активным мерчантом",
			vaultID, merchant)
		return 0, ErrOnlyMerchantCanSettle
	}

	var record *models.AuditRecord
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		vault, txErr := s.vaultRepo.GetVaultForUpdate(ctx, tx, vaultID)
		if txErr != nil {
			return txErr
		}

		merchantVoucher := balanceKey{account: merchant, asset: vault.VoucherAsset}
		vaultBacking := balanceKey{account: vault.ID, asset: vault.BackingAsset}
		merchantBacking := balanceKey{account: merchant, asset: vault.BackingAsset}

		lb, lockErr := s.lockBalances(ctx, tx, merchantVoucher, vaultBacking, merchantBacking)
		if lockErr != nil {
			return lockErr
		}

		if lb.amount(merchantVoucher) < amount {
			return ErrInsufficientFunds
		}
		// При соблюдении инварианта платежеспособности эта проверка не срабатывает,
		// но выполняется всегда
		if lb.amount(vaultBacking) < release {
			return ErrInsufficientLiquidity
		}

		// Сжигание ваучеров и высвобождение обеспечения
		lb.add(merchantVoucher, -amount)
		lb.add(vaultBacking, -release)
		lb.add(merchantBacking, release)
		if flushErr := lb.flush(ctx); flushErr != nil {
			return flushErr
		}

		newVoucher := vault.TotalVoucherMinted - amount
		newBacking := vault.TotalBackingDeposited - release
		if newVoucher < 0 || newBacking < 0 {
			return fmt.Errorf("нарушение инварианта счетчиков хранилища %s: ваучеры %d, обеспечение %d",
				vaultID, newVoucher, newBacking)
		}
		if txErr = s.vaultRepo.UpdateVaultTotals(ctx, tx, vault.ID, newBacking, newVoucher); txErr != nil {
			return txErr
		}

		record = s.newAuditRecord("settle", merchant, vaultID,
			map[string]int64{"voucher_amount": amount, "released_amount": release},
			lb.resulting())
		return nil
	})
	if err != nil {
		return 0, mapLedgerError(err)
	}

	log.Printf("[LedgerService] Погашено %d ваучеров мерчанта %s, высвобождено %d обеспечения", amount, merchant, release)
	s.emitAudit(ctx, record)
	return release, nil
}

// GetVault возвращает запись хранилища.
func (s *ledgerService) GetVault(ctx context.Context, vaultID string) (*models.Vault, error) {
	vault, err := s.vaultRepo.GetVault(ctx, vaultID)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	return vault, nil
}

// GetRole возвращает запись роли для пары (хранилище, адрес).
func (s *ledgerService) GetRole(ctx context.Context, vaultID, address string) (*models.RoleEntry, error) {
	entry, err := s.roleRepo.GetRoleEntry(ctx, vaultID, address)
	if err != nil {
		if errors.Is(err, repository.ErrRoleNotFound) {
			return nil, ErrNotRegistered
		}
		return nil, fmt.Errorf("ошибка чтения записи роли: %w", err)
	}
	return entry, nil
}

// GetBalance возвращает остаток счета по активу.
func (s *ledgerService) GetBalance(ctx context.Context, account, asset string) (int64, error) {
	return s.balanceRepo.GetBalance(ctx, account, asset)
}

// --- Вспомогательные методы ---

// withTx выполняет fn в рамках транзакции: коммит при успехе, откат при ошибке.
// Конфликты сериализации на коммите транслируются в ErrConflict.
func (s *ledgerService) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Printf("[LedgerService] Ошибка отката транзакции: %v", rbErr)
		}
		return err
	}

	if err = tx.Commit(); err != nil {
		if repository.IsConcurrencyError(err) {
			return repository.ErrLockNotAvailable
		}
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// roleEntryOrNil читает запись роли, транслируя "не найдено" в nil без ошибки.
func (s *ledgerService) roleEntryOrNil(ctx context.Context, vaultID, address string) (*models.RoleEntry, error) {
	entry, err := s.roleRepo.GetRoleEntry(ctx, vaultID, address)
	if err != nil {
		if errors.Is(err, repository.ErrRoleNotFound) {
			return nil, nil //nolint:nilnil // Отсутствие записи - валидное состояние, не ошибка
		}
		return nil, fmt.Errorf("ошибка чтения записи роли: %w", err)
	}
	return entry, nil
}

// newAuditRecord формирует запись аудита для успешной операции.
func (s *ledgerService) newAuditRecord(
	operation, actor, vaultID string,
	amounts, resultingBalances map[string]int64,
) *models.AuditRecord {
	return &models.AuditRecord{
		ID:                uuid.NewString(),
		Operation:         operation,
		Actor:             actor,
		VaultID:           vaultID,
		Amounts:           amounts,
		ResultingBalances: resultingBalances,
		Timestamp:         time.Now().UTC(),
	}
}

// emitAudit отправляет запись аудита после коммита. Доставка best-effort:
// аудит никогда не влияет на результат операции.
func (s *ledgerService) emitAudit(ctx context.Context, record *models.AuditRecord) {
	if s.auditor == nil || record == nil {
		return
	}
	s.auditor.Emit(ctx, record)
}

// mapLedgerError транслирует ошибки нижних слоев в закрытую таксономию сервиса.
func mapLedgerError(err error) error {
	switch {
	case errors.Is(err, repository.ErrLockNotAvailable):
		return ErrConflict
	case errors.Is(err, repository.ErrVaultNotFound):
		return ErrVaultNotFound
	default:
		return err
	}
}

// balanceKey идентифицирует строку остатка (счет, актив).
type balanceKey struct {
	account string
	asset   string
}

// lockedBalances - набор остатков, захваченных в текущей транзакции,
// с накоплением дельт до единовременного применения.
type lockedBalances struct {
	repo    repository.BalanceRepository
	tx      *sqlx.Tx
	amounts map[balanceKey]int64
	deltas  map[balanceKey]int64
	order   []balanceKey
}

// lockBalances захватывает строки остатков в фиксированном глобальном порядке
// (сортировка по счету, затем по активу), чтобы исключить инверсию порядка
// блокировок между конкурентными операциями. Дубликаты ключей схлопываются.
func (s *ledgerService) lockBalances(
	ctx context.Context,
	tx *sqlx.Tx,
	keys ...balanceKey,
) (*lockedBalances, error) {
	unique := make([]balanceKey, 0, len(keys))
	seen := make(map[balanceKey]struct{}, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, key)
	}
	sort.Slice(unique, func(i, j int) bool {
		if unique[i].account != unique[j].account {
			return unique[i].account < unique[j].account
		}
		return unique[i].asset < unique[j].asset
	})

	lb := &lockedBalances{
		repo:    s.balanceRepo,
		tx:      tx,
		amounts: make(map[balanceKey]int64, len(unique)),
		deltas:  make(map[balanceKey]int64, len(unique)),
		order:   unique,
	}
	for _, key := range unique {
		amount, err := s.balanceRepo.LockBalance(ctx, tx, key.account, key.asset)
		if err != nil {
			return nil, err
		}
		lb.amounts[key] = amount
	}
	return lb, nil
}

// amount возвращает остаток с учетом накопленных дельт.
func (lb *lockedBalances) amount(key balanceKey) int64 {
	return lb.amounts[key] + lb.deltas[key]
}

// add накапливает изменение остатка.
func (lb *lockedBalances) add(key balanceKey, delta int64) {
	lb.deltas[key] += delta
}

// flush применяет накопленные дельты в порядке захвата блокировок.
func (lb *lockedBalances) flush(ctx context.Context) error {
	for _, key := range lb.order {
		delta := lb.deltas[key]
		if delta == 0 {
			continue
		}
		if err := lb.repo.AdjustBalance(ctx, lb.tx, key.account, key.asset, delta); err != nil {
			return err
		}
	}
	return nil
}

// resulting возвращает итоговые остатки для записи аудита (ключ "счет/актив").
func (lb *lockedBalances) resulting() map[string]int64 {
	result := make(map[string]int64, len(lb.order))
	for _, key := range lb.order {
		result[key.account+"/"+key.asset] = lb.amount(key)
	}
	return result
}
