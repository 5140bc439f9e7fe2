package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/mesorail/mesorail/internal/models"
)

// VaultRepository определяет методы для работы с записями хранилищ.
type VaultRepository interface {
	CreateVault(ctx context.Context, vault *models.Vault) error
	GetVault(ctx context.Context, vaultID string) (*models.Vault, error)
	// GetVaultForUpdate читает хранилище с блокировкой строки (FOR UPDATE NOWAIT)
	// в рамках переданной транзакции. Если строка занята другой транзакцией,
	// возвращает ErrLockNotAvailable.
	GetVaultForUpdate(ctx context.Context, tx *sqlx.Tx, vaultID string) (*models.Vault, error)
	// UpdateVaultTotals записывает новые значения счетчиков хранилища
	// в рамках переданной транзакции.
	UpdateVaultTotals(ctx context.Context, tx *sqlx.Tx, vaultID string, totalBacking, totalVoucher int64) error
}

// postgresVaultRepository реализует VaultRepository для PostgreSQL.
type postgresVaultRepository struct {
	db *sqlx.DB
}

// NewPostgresVaultRepository создает новый экземпляр репозитория хранилищ.
func NewPostgresVaultRepository(db *sqlx.DB) VaultRepository {
	return &postgresVaultRepository{db: db}
}

const vaultColumns = `id, authority, backing_asset, voucher_asset,
	total_backing_deposited, total_voucher_minted, created_at, updated_at`

// CreateVault сохраняет новую запись хранилища.
// Возвращает ErrVaultExists, если хранилище с таким адресом уже создано.
func (r *postgresVaultRepository) CreateVault(ctx context.Context, vault *models.Vault) error {
	query := `INSERT INTO vaults (id, authority, backing_asset, voucher_asset)
	          VALUES ($1, $2, $3, $4)`

	_, err := r.db.ExecContext(ctx, query, vault.ID, vault.Authority, vault.BackingAsset, vault.VoucherAsset)
	if err != nil {
		// Проверяем на ошибку нарушения уникальности (duplicate key)
		var pgErr *pq.Error
		if errors.As(err, &pgErr) && string(pgErr.Code) == pgUniqueViolationCode {
			log.Printf("[VaultRepo] Хранилище %s уже существует", vault.ID)
			return ErrVaultExists
		}
		log.Printf("[VaultRepo] Ошибка при создании хранилища %s: %v", vault.ID, err)
		return fmt.Errorf("ошибка выполнения запроса на создание хранилища: %w", err)
	}

	log.Printf("[VaultRepo] Хранилище %s успешно создано (authority: %s)", vault.ID, vault.Authority)
	return nil
}

// GetVault находит хранилище по адресу.
// Возвращает запись или ошибку (включая ErrVaultNotFound).
func (r *postgresVaultRepository) GetVault(ctx context.Context, vaultID string) (*models.Vault, error) {
	query := `SELECT ` + vaultColumns + ` FROM vaults WHERE id=$1`
	var vault models.Vault

	err := r.db.GetContext(ctx, &vault, query, vaultID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Printf("[VaultRepo] Хранилище %s не найдено", vaultID)
			return nil, ErrVaultNotFound
		}
		log.Printf("[VaultRepo] Ошибка при поиске хранилища %s: %v", vaultID, err)
		return nil, fmt.Errorf("ошибка выполнения запроса на получение хранилища: %w", err)
	}

	return &vault, nil
}

// GetVaultForUpdate читает хранилище с эксклюзивной блокировкой строки.
// NOWAIT гарантирует, что конкурирующая транзакция не будет ждать:
// конфликт сразу возвращается как ErrLockNotAvailable.
func (r *postgresVaultRepository) GetVaultForUpdate(
	ctx context.Context,
	tx *sqlx.Tx,
	vaultID string,
) (*models.Vault, error) {
	query := `SELECT ` + vaultColumns + ` FROM vaults WHERE id=$1 FOR UPDATE NOWAIT`
	var vault models.Vault

	err := tx.GetContext(ctx, &vault, query, vaultID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Printf("[VaultRepo] Хранилище %s не найдено", vaultID)
			return nil, ErrVaultNotFound
		}
		if IsConcurrencyError(err) {
			log.Printf("[VaultRepo] Хранилище %s заблокировано конкурентной транзакцией", vaultID)
			return nil, ErrLockNotAvailable
		}
		log.Printf("[VaultRepo] Ошибка при блокировке хранилища %s: %v", vaultID, err)
		return nil, fmt.Errorf("ошибка выполнения запроса на блокировку хранилища: %w", err)
	}

	return &vault, nil
}

// UpdateVaultTotals записывает новые значения счетчиков хранилища.
// Вызывается только под блокировкой строки, поэтому lost update исключен.
func (r *postgresVaultRepository) UpdateVaultTotals(
	ctx context.Context,
	tx *sqlx.Tx,
	vaultID string,
	totalBacking, totalVoucher int64,
) error {
	query := `UPDATE vaults
	          SET total_backing_deposited=$1, total_voucher_minted=$2, updated_at=NOW()
	          WHERE id=$3`

	res, err := tx.ExecContext(ctx, query, totalBacking, totalVoucher, vaultID)
	if err != nil {
		log.Printf("[VaultRepo] Ошибка при обновлении счетчиков хранилища %s: %v", vaultID, err)
		return fmt.Errorf("ошибка выполнения запроса на обновление счетчиков: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения результата обновления счетчиков: %w", err)
	}
	if rowsAffected == 0 {
		return ErrVaultNotFound
	}

	return nil
}

// Кастомные ошибки репозитория.
var (
	ErrVaultNotFound = errors.New("хранилище не найдено")
	ErrVaultExists   = errors.New("хранилище уже существует")
)
