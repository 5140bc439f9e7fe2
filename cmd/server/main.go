package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"

	"github.com/mesorail/mesorail/internal/audit"
	"github.com/mesorail/mesorail/internal/handlers"
	"github.com/mesorail/mesorail/internal/middleware"
	"github.com/mesorail/mesorail/internal/repository"
	"github.com/mesorail/mesorail/internal/services"
	"github.com/mesorail/mesorail/internal/storage"
)

const (
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultIdleTimeout  = 30 * time.Second
)

// Структура для хранения инициализированных зависимостей.
type dependencies struct {
	db            *sqlx.DB
	authHandler   *handlers.AuthHandler
	vaultHandler  *handlers.VaultHandler
	roleHandler   *handlers.RoleHandler
	ledgerHandler *handlers.LedgerHandler
}

// main - точка входа. Вызывает run и обрабатывает ошибку.
func main() {
	if err := run(); err != nil {
		log.Printf("Ошибка выполнения сервера: %v", err)
		os.Exit(1)
	}
}

// run содержит основную логику запуска сервера и возвращает ошибку.
func run() error {
	log.Println("Запуск сервера Mesorail...")

	cfg, err := parseFlags()
	if err != nil {
		return fmt.Errorf("ошибка разбора конфигурации: %w", err)
	}

	// Инициализация зависимостей
	deps, err := setupDependencies(cfg)
	if err != nil {
		return fmt.Errorf("ошибка инициализации зависимостей: %w", err)
	}
	// Отложенное закрытие соединения с БД
	defer func() {
		if deps.db != nil {
			if closeErr := deps.db.Close(); closeErr != nil {
				log.Printf("Ошибка закрытия соединения с БД: %v", closeErr)
			}
		}
	}()

	// Настройка роутера
	r := setupRouter(cfg, deps)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	log.Printf("Запуск HTTPS-сервера на порту %s...", cfg.Port)

	// Запускаем сервер с TLS
	if err = server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ошибка запуска HTTPS-сервера: %w", err)
	}
	return nil
}

// setupDependencies инициализирует и возвращает все необходимые зависимости сервера.
func setupDependencies(cfg *config) (*dependencies, error) {
	deps := &dependencies{}
	var err error

	// 1. Подключение к БД и создание схемы
	deps.db, err = repository.NewPostgresDB(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации БД: %w", err)
	}
	if err = repository.Bootstrap(context.Background(), deps.db); err != nil {
		closeDB(deps.db)
		return nil, fmt.Errorf("ошибка создания схемы БД: %w", err)
	}

	// 2. Приемники аудита: журнал всегда, архив в MinIO - если настроен
	auditor, err := setupAuditor(cfg)
	if err != nil {
		closeDB(deps.db)
		return nil, err
	}

	// 3. Создание репозиториев
	userRepo := repository.NewPostgresUserRepository(deps.db)
	vaultRepo := repository.NewPostgresVaultRepository(deps.db)
	roleRepo := repository.NewPostgresRoleRepository(deps.db)
	balanceRepo := repository.NewPostgresBalanceRepository(deps.db)

	// 4. Создание сервисов
	authService := services.NewAuthService(userRepo, cfg.JWTSecret)
	ledgerService := services.NewLedgerService(deps.db, vaultRepo, roleRepo, balanceRepo, auditor)

	// 5. Создание обработчиков
	deps.authHandler = handlers.NewAuthHandler(authService)
	deps.vaultHandler = handlers.NewVaultHandler(ledgerService)
	deps.roleHandler = handlers.NewRoleHandler(ledgerService)
	deps.ledgerHandler = handlers.NewLedgerHandler(ledgerService)

	return deps, nil
}

// setupAuditor собирает цепочку приемников аудита.
func setupAuditor(cfg *config) (audit.Emitter, error) {
	if cfg.MinioEndpoint == "" {
		log.Println("Архив аудита в MinIO не настроен, записи идут только в журнал.")
		return audit.NewLogEmitter(), nil
	}

	minioClient, err := storage.NewMinioClient(storage.MinioConfig{
		Endpoint:        cfg.MinioEndpoint,
		AccessKeyID:     cfg.MinioUser,
		SecretAccessKey: cfg.MinioPassword,
		UseSSL:          false, // Для локальной разработки
		BucketName:      cfg.MinioBucket,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации клиента MinIO: %w", err)
	}

	return audit.NewMultiEmitter(audit.NewLogEmitter(), audit.NewArchiveEmitter(minioClient)), nil
}

// setupRouter настраивает и возвращает роутер chi.
func setupRouter(cfg *config, deps *dependencies) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// --- Маршруты --- //
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong\n"))
	})

	// Определяем базовый маршрут /api
	r.Route("/api", func(r chi.Router) {
		// Публичные маршруты (регистрация, вход)
		r.Post("/register", deps.authHandler.Register)
		r.Post("/login", deps.authHandler.Login)

		// Приватные маршруты (требуют аутентификации)
		r.Group(func(r chi.Router) {
			// Применяем middleware аутентификации ко всей группе
			r.Use(middleware.NewAuthenticator(cfg.JWTSecret))

			r.Route("/vaults", func(r chi.Router) {
				r.Post("/", deps.vaultHandler.InitializeVault)
				r.Route("/{vaultID}", func(r chi.Router) {
					r.Get("/", deps.vaultHandler.GetVault)
					r.Post("/clients", deps.roleHandler.AddClient)
					r.Post("/merchants", deps.roleHandler.AddMerchant)
					r.Get("/roles/{address}", deps.roleHandler.GetRole)
					r.Delete("/roles/{address}", deps.roleHandler.RemoveRole)
					r.Post("/deposit", deps.ledgerHandler.Deposit)
					r.Post("/transfer", deps.ledgerHandler.Transfer)
					r.Post("/settle", deps.ledgerHandler.Settle)
					r.Get("/balances/{address}", deps.ledgerHandler.GetBalance)
				})
			})
			r.Get("/balances/{asset}", deps.ledgerHandler.GetOwnBalance)
		})
	})
	return r
}

// closeDB закрывает соединение с БД, логируя возможную ошибку.
func closeDB(db *sqlx.DB) {
	if closeErr := db.Close(); closeErr != nil {
		log.Printf("Ошибка закрытия соединения с БД: %v", closeErr)
	}
}
