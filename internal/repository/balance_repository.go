package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
)

// BalanceRepository определяет примитивы встроенного леджера активов:
// чтение остатка, захват остатка под изменение и корректировку.
// Дебет, кредит, эмиссия и сжигание выражаются через AdjustBalance
// со знаком дельты; атомарность обеспечивает объемлющая транзакция.
type BalanceRepository interface {
	GetBalance(ctx context.Context, account, asset string) (int64, error)
	// LockBalance гарантирует существование строки остатка и захватывает ее
	// с блокировкой FOR UPDATE NOWAIT. Возвращает текущий остаток.
	// Занятая блокировка возвращается как ErrLockNotAvailable.
	LockBalance(ctx context.Context, tx *sqlx.Tx, account, asset string) (int64, error)
	// AdjustBalance изменяет остаток на delta (может быть отрицательной).
	// Вызывается только после LockBalance в той же транзакции.
	AdjustBalance(ctx context.Context, tx *sqlx.Tx, account, asset string, delta int64) error
}

// postgresBalanceRepository реализует BalanceRepository для PostgreSQL.
type postgresBalanceRepository struct {
	db *sqlx.DB
}

// NewPostgresBalanceRepository создает новый экземпляр репозитория остатков.
func NewPostgresBalanceRepository(db *sqlx.DB) BalanceRepository {
	return &postgresBalanceRepository{db: db}
}

// GetBalance возвращает остаток счета. Отсутствующая строка означает нулевой остаток.
func (r *postgresBalanceRepository) GetBalance(ctx context.Context, account, asset string) (int64, error) {
	query := `SELECT amount FROM balances WHERE account=$1 AND asset=$2`
	var amount int64

	err := r.db.GetContext(ctx, &amount, query, account, asset)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil // Счет еще не открывался - остаток нулевой
		}
		log.Printf("[BalanceRepo] Ошибка при чтении остатка %s/%s: %v", account, asset, err)
		return 0, fmt.Errorf("ошибка выполнения запроса на получение остатка: %w", err)
	}

	return amount, nil
}

// LockBalance создает строку остатка при необходимости и захватывает ее под изменение.
func (r *postgresBalanceRepository) LockBalance(
	ctx context.Context,
	tx *sqlx.Tx,
	account, asset string,
) (int64, error) {
	// Строка должна существовать до SELECT ... FOR UPDATE, иначе блокировать нечего.
	insertQuery := `INSERT INTO balances (account, asset, amount) VALUES ($1, $2, 0)
	                ON CONFLICT (account, asset) DO NOTHING`
	if _, err := tx.ExecContext(ctx, insertQuery, account, asset); err != nil {
		if IsConcurrencyError(err) {
			return 0, ErrLockNotAvailable
		}
		log.Printf("[BalanceRepo] Ошибка при создании строки остатка %s/%s: %v", account, asset, err)
		return 0, fmt.Errorf("ошибка выполнения запроса на создание строки остатка: %w", err)
	}

	lockQuery := `SELECT amount FROM balances WHERE account=$1 AND asset=$2 FOR UPDATE NOWAIT`
	var amount int64
	if err := tx.GetContext(ctx, &amount, lockQuery, account, asset); err != nil {
		if IsConcurrencyError(err) {
			log.Printf("[BalanceRepo] Остаток %s/%s заблокирован конкурентной транзакцией", account, asset)
			return 0, ErrLockNotAvailable
		}
		log.Printf("[BalanceRepo] Ошибка при блокировке остатка %s/%s: %v", account, asset, err)
		return 0, fmt.Errorf("ошибка выполнения запроса на блокировку остатка: %w", err)
	}

	return amount, nil
}

// AdjustBalance изменяет остаток счета на delta.
func (r *postgresBalanceRepository) AdjustBalance(
	ctx context.Context,
	tx *sqlx.Tx,
	account, asset string,
	delta int64,
) error {
	query := `UPDATE balances SET amount=amount+$1, updated_at=NOW() WHERE account=$2 AND asset=$3`

	res, err := tx.ExecContext(ctx, query, delta, account, asset)
	if err != nil {
		log.Printf("[BalanceRepo] Ошибка при изменении остатка %s/%s на %d: %v", account, asset, delta, err)
		return fmt.Errorf("ошибка выполнения запроса на изменение остатка: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения результата изменения остатка: %w", err)
	}
	if rowsAffected == 0 {
		// Строка создается в LockBalance, ее отсутствие - нарушение протокола вызова
		return ErrBalanceNotLocked
	}

	return nil
}

// Кастомные ошибки репозитория.
var (
	ErrBalanceNotLocked = errors.New("остаток не был захвачен перед изменением")
)
