package models

import "time"

// Vault представляет кастодиальное хранилище обеспечения.
// Одно хранилище на одного администратора (authority), адрес детерминированный.
type Vault struct {
	ID                    string    `db:"id"                      json:"id"`
	Authority             string    `db:"authority"               json:"authority"`
	BackingAsset          string    `db:"backing_asset"           json:"backing_asset"`
	VoucherAsset          string    `db:"voucher_asset"           json:"voucher_asset"`
	TotalBackingDeposited int64     `db:"total_backing_deposited" json:"total_backing_deposited"`
	TotalVoucherMinted    int64     `db:"total_voucher_minted"    json:"total_voucher_minted"`
	CreatedAt             time.Time `db:"created_at"              json:"created_at"`
	UpdatedAt             time.Time `db:"updated_at"              json:"updated_at"`
}

// ExchangeRate - фиксированный курс обмена: 1 единица обеспечения = 4 ваучера.
// Одна и та же константа используется при депозите (умножение) и при погашении
// (деление), чтобы конвертация оставалась точно симметричной.
const ExchangeRate int64 = 4
