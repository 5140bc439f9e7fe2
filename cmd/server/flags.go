package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
)

const (
	// Порт по умолчанию для HTTPS (непривилегированный).
	defaultServerPort = "8443"

	// Переменные окружения.
	envServerPort  = "SERVER_PORT"
	envTLSCertFile = "TLS_CERT_FILE"
	envTLSKeyFile  = "TLS_KEY_FILE"
	envDatabaseDSN = "DATABASE_DSN"
	envJWTSecret   = "JWT_SECRET" //nolint:gosec // Имя переменной окружения, не секрет

	// Переменные окружения для MinIO (архив аудита).
	envMinioEndpoint = "MINIO_ENDPOINT"
	envMinioUser     = "MINIO_USER"
	envMinioPassword = "MINIO_PASSWORD"
	envMinioBucket   = "MINIO_BUCKET"
	defaultBucket    = "mesorail-audit"
)

// config хранит конфигурацию сервера.
type config struct {
	Port        string
	CertFile    string
	KeyFile     string
	DatabaseDSN string
	JWTSecret   string

	MinioEndpoint string
	MinioUser     string
	MinioPassword string
	MinioBucket   string
}

// parseFlags разбирает флаги и переменные окружения, возвращает config или ошибку.
func parseFlags() (*config, error) {
	cfg := &config{}

	// Определяем флаги
	flag.StringVar(&cfg.Port, "port", "",
		fmt.Sprintf("Порт для запуска HTTPS-сервера (env: %s, default: %s)", envServerPort, defaultServerPort))
	flag.StringVar(&cfg.CertFile, "cert-file", "",
		fmt.Sprintf("Путь к файлу TLS-сертификата (env: %s)", envTLSCertFile))
	flag.StringVar(&cfg.KeyFile, "key-file", "",
		fmt.Sprintf("Путь к файлу TLS-ключа (env: %s)", envTLSKeyFile))
	flag.StringVar(&cfg.DatabaseDSN, "database-dsn", "",
		fmt.Sprintf("Строка подключения к базе данных (env: %s)", envDatabaseDSN))
	flag.StringVar(&cfg.JWTSecret, "jwt-secret", "",
		fmt.Sprintf("Секретный ключ подписи JWT (env: %s)", envJWTSecret))
	flag.StringVar(&cfg.MinioEndpoint, "minio-endpoint", "",
		fmt.Sprintf("Адрес MinIO для архива аудита, пусто - архив отключен (env: %s)", envMinioEndpoint))
	flag.StringVar(&cfg.MinioUser, "minio-user", "",
		fmt.Sprintf("Логин MinIO (env: %s)", envMinioUser))
	flag.StringVar(&cfg.MinioPassword, "minio-password", "",
		fmt.Sprintf("Пароль MinIO (env: %s)", envMinioPassword))
	flag.StringVar(&cfg.MinioBucket, "minio-bucket", "",
		fmt.Sprintf("Бакет MinIO для архива аудита (env: %s, default: %s)", envMinioBucket, defaultBucket))

	// Парсим флаги
	flag.Parse()

	// Применяем переменные окружения, если флаги не заданы
	applyEnv(&cfg.Port, envServerPort, defaultServerPort)
	applyEnv(&cfg.CertFile, envTLSCertFile, "")
	applyEnv(&cfg.KeyFile, envTLSKeyFile, "")
	applyEnv(&cfg.DatabaseDSN, envDatabaseDSN, "")
	applyEnv(&cfg.JWTSecret, envJWTSecret, "")
	applyEnv(&cfg.MinioEndpoint, envMinioEndpoint, "")
	applyEnv(&cfg.MinioUser, envMinioUser, "")
	applyEnv(&cfg.MinioPassword, envMinioPassword, "")
	applyEnv(&cfg.MinioBucket, envMinioBucket, defaultBucket)

	// Проверяем обязательные параметры
	if cfg.CertFile == "" {
		return nil, errors.New("не указан путь к файлу сертификата (--cert-file или " + envTLSCertFile + ")")
	}
	if cfg.KeyFile == "" {
		return nil, errors.New("не указан путь к файлу ключа (--key-file или " + envTLSKeyFile + ")")
	}
	if cfg.DatabaseDSN == "" {
		return nil, errors.New("не указана строка подключения к БД (--database-dsn или " + envDatabaseDSN + ")")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("не указан секретный ключ JWT (--jwt-secret или " + envJWTSecret + ")")
	}

	return cfg, nil
}

// applyEnv подставляет значение переменной окружения или значение по умолчанию,
// если флаг не был задан.
func applyEnv(target *string, envKey, fallback string) {
	if *target != "" {
		return
	}
	if value, ok := os.LookupEnv(envKey); ok {
		*target = value
		return
	}
	*target = fallback
}
