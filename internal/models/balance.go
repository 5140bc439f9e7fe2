package models

import "time"

// Balance представляет остаток счета (account, asset) во встроенном леджере активов.
// Суммы хранятся в целых микроединицах (6 знаков после запятой).
type Balance struct {
	Account   string    `db:"account"    json:"account"`
	Asset     string    `db:"asset"      json:"asset"`
	Amount    int64     `db:"amount"     json:"amount"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
