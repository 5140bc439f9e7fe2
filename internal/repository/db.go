package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq" // Драйвер PostgreSQL и разбор кодов ошибок
)

const (
	maxOpenConns    = 25              // Максимальное количество открытых соединений
	maxIdleConns    = 25              // Максимальное количество простаивающих соединений
	connMaxLifetime = 5 * time.Minute // Максимальное время жизни соединения
	connMaxIdleTime = 5 * time.Minute // Максимальное время простоя соединения
)

// Коды ошибок PostgreSQL.
const (
	pgUniqueViolationCode  = "23505"
	pgLockNotAvailableCode = "55P03"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// ErrLockNotAvailable сигнализирует о конкурентном доступе к записи:
// блокировка строки занята другой транзакцией либо транзакция прервана
// из-за конфликта сериализации. Вызывающий может повторить операцию.
var ErrLockNotAvailable = errors.New("запись заблокирована конкурентной транзакцией")

// IsConcurrencyError проверяет, относится ли ошибка PostgreSQL к конфликтам
// конкурентного доступа (NOWAIT, сбой сериализации, дедлок).
func IsConcurrencyError(err error) bool {
	var pgErr *pq.Error
	if !errors.As(err, &pgErr) {
		return false
	}
	code := string(pgErr.Code)
	return code == pgLockNotAvailableCode ||
		code == pgSerializationFailure ||
		code == pgDeadlockDetected
}

// NewPostgresDB создает и возвращает новое подключение к PostgreSQL.
func NewPostgresDB(dsn string) (*sqlx.DB, error) {
	log.Printf("Подключение к PostgreSQL...")

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}

	// Проверка соединения
	if err = db.Ping(); err != nil {
		// Закрываем соединение в случае ошибки пинга
		closeErr := db.Close()
		if closeErr != nil {
			log.Printf("Ошибка закрытия соединения с БД после неудачного пинга: %v", closeErr)
		}
		return nil, fmt.Errorf("ошибка проверки соединения с БД (ping): %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	log.Println("Подключение к PostgreSQL успешно установлено.")
	return db, nil
}

// bootstrapStatements - DDL для создания схемы при старте сервера.
// Все выражения идемпотентны (IF NOT EXISTS), повторный запуск безопасен.
var bootstrapStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            BIGSERIAL PRIMARY KEY,
		username      TEXT        NOT NULL UNIQUE,
		password_hash TEXT        NOT NULL,
		address       TEXT        NOT NULL UNIQUE,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS vaults (
		id                      TEXT        PRIMARY KEY,
		authority               TEXT        NOT NULL,
		backing_asset           TEXT        NOT NULL,
		voucher_asset           TEXT        NOT NULL,
		total_backing_deposited BIGINT      NOT NULL DEFAULT 0,
		total_voucher_minted    BIGINT      NOT NULL DEFAULT 0,
		created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS role_entries (
		id        TEXT        PRIMARY KEY,
		vault_id  TEXT        NOT NULL REFERENCES vaults(id),
		address   TEXT        NOT NULL,
		role      TEXT        NOT NULL,
		is_active BOOLEAN     NOT NULL DEFAULT TRUE,
		added_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (vault_id, address)
	)`,
	`CREATE TABLE IF NOT EXISTS balances (
		account    TEXT        NOT NULL,
		asset      TEXT        NOT NULL,
		amount     BIGINT      NOT NULL DEFAULT 0 CHECK (amount >= 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (account, asset)
	)`,
}

// Bootstrap создает таблицы леджера, если они еще не существуют.
func Bootstrap(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range bootstrapStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ошибка создания схемы БД: %w", err)
		}
	}
	log.Println("Схема БД успешно проверена/создана.")
	return nil
}
