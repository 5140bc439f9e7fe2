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

// RoleRepository определяет методы для работы с реестром ролей.
type RoleRepository interface {
	CreateRoleEntry(ctx context.Context, entry *models.RoleEntry) error
	GetRoleEntry(ctx context.Context, vaultID, address string) (*models.RoleEntry, error)
	DeactivateRoleEntry(ctx context.Context, vaultID, address string) error
}

// postgresRoleRepository реализует RoleRepository для PostgreSQL.
type postgresRoleRepository struct {
	db *sqlx.DB
}

// NewPostgresRoleRepository создает новый экземпляр репозитория ролей.
func NewPostgresRoleRepository(db *sqlx.DB) RoleRepository {
	return &postgresRoleRepository{db: db}
}

// CreateRoleEntry сохраняет новую запись роли.
// Возвращает ErrRoleExists, если запись для пары (хранилище, адрес) уже есть:
// обработка идемпотентной повторной регистрации - ответственность сервисного слоя.
func (r *postgresRoleRepository) CreateRoleEntry(ctx context.Context, entry *models.RoleEntry) error {
	query := `INSERT INTO role_entries (id, vault_id, address, role, is_active)
	          VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.ExecContext(ctx, query, entry.ID, entry.VaultID, entry.Address, entry.Role, entry.IsActive)
	if err != nil {
		var pgErr *pq.Error
		if errors.As(err, &pgErr) && string(pgErr.Code) == pgUniqueViolationCode {
			log.Printf("[RoleRepo] Запись роли для %s в хранилище %s уже существует", entry.Address, entry.VaultID)
			return ErrRoleExists
		}
		log.Printf("[RoleRepo] Ошибка при создании записи роли для %s: %v", entry.Address, err)
		return fmt.Errorf("ошибка выполнения запроса на создание записи роли: %w", err)
	}

	log.Printf("[RoleRepo] Роль %s для %s в хранилище %s успешно создана", entry.Role, entry.Address, entry.VaultID)
	return nil
}

// GetRoleEntry находит запись роли по паре (хранилище, адрес).
// Возвращает запись или ошибку (включая ErrRoleNotFound).
func (r *postgresRoleRepository) GetRoleEntry(
	ctx context.Context,
	vaultID, address string,
) (*models.RoleEntry, error) {
	query := `SELECT id, vault_id, address, role, is_active, added_at
	          FROM role_entries WHERE vault_id=$1 AND address=$2`
	var entry models.RoleEntry

	err := r.db.GetContext(ctx, &entry, query, vaultID, address)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoleNotFound
		}
		log.Printf("[RoleRepo] Ошибка при поиске записи роли для %s: %v", address, err)
		return nil, fmt.Errorf("ошибка выполнения запроса на получение записи роли: %w", err)
	}

	return &entry, nil
}

// DeactivateRoleEntry снимает активность с записи роли.
// Сама запись сохраняется: история регистрации не удаляется.
func (r *postgresRoleRepository) DeactivateRoleEntry(ctx context.Context, vaultID, address string) error {
	query := `UPDATE role_entries SET is_active=FALSE WHERE vault_id=$1 AND address=$2`

	res, err := r.db.ExecContext(ctx, query, vaultID, address)
	if err != nil {
		log.Printf("[RoleRepo] Ошибка при деактивации роли для %s: %v", address, err)
		return fmt.Errorf("ошибка выполнения запроса на деактивацию роли: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения результата деактивации роли: %w", err)
	}
	if rowsAffected == 0 {
		log.Printf("[RoleRepo] Запись роли для %s в хранилище %s не найдена", address, vaultID)
		return ErrRoleNotFound
	}

	log.Printf("[RoleRepo] Роль для %s в хранилище %s деактивирована", address, vaultID)
	return nil
}

// Кастомные ошибки репозитория.
var (
	ErrRoleNotFound = errors.New("запись роли не найдена")
	ErrRoleExists   = errors.New("запись роли уже существует")
)
