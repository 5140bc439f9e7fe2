package models

import "time"

// Role - тип роли участника в рамках хранилища.
type Role string

// Допустимые роли. Client может только отправлять ваучеры,
// Merchant - только принимать и погашать их.
const (
	RoleClient   Role = "client"
	RoleMerchant Role = "merchant"
)

// Valid проверяет, что роль принадлежит закрытому перечислению.
func (r Role) Valid() bool {
	return r == RoleClient || r == RoleMerchant
}

// RoleEntry представляет запись реестра ролей: привязку адреса участника
// к роли в рамках конкретного хранилища. Создается только администратором хранилища.
type RoleEntry struct {
	ID       string    `db:"id"        json:"id"`
	VaultID  string    `db:"vault_id"  json:"vault_id"`
	Address  string    `db:"address"   json:"address"`
	Role     Role      `db:"role"      json:"role"`
	IsActive bool      `db:"is_active" json:"is_active"`
	AddedAt  time.Time `db:"added_at"  json:"added_at"`
}
