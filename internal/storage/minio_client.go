package storage

import (
	"bytes"
	"context"
	"fmt"
	"log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// AuditArchive определяет интерфейс архива записей аудита в объектном хранилище.
type AuditArchive interface {
	StoreAuditRecord(ctx context.Context, objectKey string, data []byte) error
}

// MinioClient реализует AuditArchive для MinIO.
type MinioClient struct {
	client     *minio.Client
	bucketName string
}

// MinioConfig содержит параметры для подключения к MinIO.
type MinioConfig struct {
	Endpoint        string // Адрес MinIO (например, "localhost:9000")
	AccessKeyID     string // Логин
	SecretAccessKey string // Пароль
	UseSSL          bool   // Использовать SSL (обычно false для локальной разработки)
	BucketName      string // Имя бакета для архива аудита
	Region          string // Регион (не обязательно для MinIO, но может требоваться)
}

// NewMinioClient создает новый клиент MinIO.
func NewMinioClient(cfg MinioConfig) (*MinioClient, error) {
	log.Printf("Инициализация клиента MinIO для эндпоинта %s...", cfg.Endpoint)

	// Инициализация клиента MinIO
	minioClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации клиента MinIO: %w", err)
	}

	// Проверка существования бакета и создание при необходимости
	ctx := context.Background()
	exists, err := minioClient.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки существования бакета '%s': %w", cfg.BucketName, err)
	}
	if !exists {
		log.Printf("Бакет '%s' не найден, попытка создания...", cfg.BucketName)
		err = minioClient.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{Region: cfg.Region})
		if err != nil {
			return nil, fmt.Errorf("ошибка создания бакета '%s': %w", cfg.BucketName, err)
		}
		log.Printf("Бакет '%s' успешно создан.", cfg.BucketName)
	}

	log.Printf("Клиент MinIO успешно инициализирован для бакета '%s'.", cfg.BucketName)
	return &MinioClient{
		client:     minioClient,
		bucketName: cfg.BucketName,
	}, nil
}

// StoreAuditRecord загружает сериализованную запись аудита в MinIO.
func (c *MinioClient) StoreAuditRecord(ctx context.Context, objectKey string, data []byte) error {
	opts := minio.PutObjectOptions{
		ContentType: "application/json",
	}

	_, err := c.client.PutObject(ctx, c.bucketName, objectKey, bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		log.Printf("[Minio] Ошибка загрузки записи аудита '%s': %v", objectKey, err)
		return fmt.Errorf("ошибка загрузки записи аудита в MinIO: %w", err)
	}

	return nil
}
