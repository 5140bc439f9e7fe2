// Package audit реализует побочный канал аудита операций леджера.
// Записи формируются после коммита транзакции и передаются по принципу
// best-effort: сбой аудита логируется, но никогда не влияет на результат
// операции и не откатывает зафиксированное состояние.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/mesorail/mesorail/internal/models"
	"github.com/mesorail/mesorail/internal/storage"
)

// Emitter определяет интерфейс приемника записей аудита.
// Реализации не возвращают ошибку: доставка негарантированная.
type Emitter interface {
	Emit(ctx context.Context, record *models.AuditRecord)
}

// LogEmitter пишет записи аудита в журнал сервера.
type LogEmitter struct{}

// NewLogEmitter создает новый экземпляр LogEmitter.
func NewLogEmitter() *LogEmitter {
	return &LogEmitter{}
}

// Emit логирует запись аудита.
func (e *LogEmitter) Emit(_ context.Context, record *models.AuditRecord) {
	data, err := json.Marshal(record)
	if err != nil {
		log.Printf("[Audit] Ошибка сериализации записи аудита %s: %v", record.ID, err)
		return
	}
	log.Printf("[Audit] %s", data)
}

// ArchiveEmitter сохраняет записи аудита в объектное хранилище.
type ArchiveEmitter struct {
	archive storage.AuditArchive
}

// NewArchiveEmitter создает новый экземпляр ArchiveEmitter.
func NewArchiveEmitter(archive storage.AuditArchive) *ArchiveEmitter {
	return &ArchiveEmitter{archive: archive}
}

// Emit сериализует запись и отправляет ее в архив.
// Ключ объекта группирует записи по хранилищу и дате.
func (e *ArchiveEmitter) Emit(ctx context.Context, record *models.AuditRecord) {
	data, err := json.Marshal(record)
	if err != nil {
		log.Printf("[Audit] Ошибка сериализации записи аудита %s: %v", record.ID, err)
		return
	}

	objectKey := fmt.Sprintf("%s/%s/%s.json",
		record.VaultID, record.Timestamp.UTC().Format("2006-01-02"), record.ID)

	if err = e.archive.StoreAuditRecord(ctx, objectKey, data); err != nil {
		// Доставка best-effort: логируем и продолжаем
		log.Printf("[Audit] Ошибка архивирования записи аудита %s: %v", record.ID, err)
	}
}

// MultiEmitter рассылает запись всем вложенным приемникам.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter создает новый экземпляр MultiEmitter.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

// Emit передает запись каждому приемнику по очереди.
func (e *MultiEmitter) Emit(ctx context.Context, record *models.AuditRecord) {
	for _, emitter := range e.emitters {
		emitter.Emit(ctx, record)
	}
}
