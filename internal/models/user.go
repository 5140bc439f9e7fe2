package models

import "time"

// User представляет учетную запись участника API.
// Address - детерминированный адрес счета, от имени которого участник
// выполняет операции леджера.
type User struct {
	ID           int64     `db:"id"            json:"id"`
	Username     string    `db:"username"      json:"username"`
	PasswordHash string    `db:"password_hash" json:"-"` // Не отдаем хеш в JSON
	Address      string    `db:"address"       json:"address"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"    json:"updated_at"`
}
