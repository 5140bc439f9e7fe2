package models

import "time"

// AuditRecord - запись аудита успешной операции леджера.
// Формируется после коммита транзакции и передается наблюдателю
// по принципу best-effort: сбой аудита не влияет на состояние леджера.
type AuditRecord struct {
	ID                string           `json:"id"`
	Operation         string           `json:"operation"`
	Actor             string           `json:"actor"`
	VaultID           string           `json:"vault_id"`
	Amounts           map[string]int64 `json:"amounts"`
	ResultingBalances map[string]int64 `json:"resulting_balances"`
	Timestamp         time.Time        `json:"timestamp"`
}
