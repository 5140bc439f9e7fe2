package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/mesorail/mesorail/internal/addressing"
	"github.com/mesorail/mesorail/internal/models"
	"github.com/mesorail/mesorail/internal/repository"
)

// AuthService определяет интерфейс сервиса аутентификации участников.
type AuthService interface {
	Register(ctx context.Context, username, password string) (*models.User, error)
	Login(ctx context.Context, username, password string) (string, error) // Возвращает JWT токен или ошибку
}

// Время жизни токена.
const tokenTTL = time.Hour * 24

// Пространство имен для адресов счетов участников.
const userNamespace = "user"

// Claims содержит полезную нагрузку JWT: адрес счета участника.
type Claims struct {
	Address string `json:"address"`
	jwt.RegisteredClaims
}

// Убедимся, что authService удовлетворяет интерфейсу AuthService.
var _ AuthService = (*authService)(nil)

type authService struct {
	userRepo  repository.UserRepository
	jwtSecret []byte
}

// NewAuthService создает новый экземпляр сервиса аутентификации.
func NewAuthService(userRepo repository.UserRepository, jwtSecret string) AuthService {
	return &authService{userRepo: userRepo, jwtSecret: []byte(jwtSecret)}
}

// Register регистрирует нового участника. Адрес счета выводится
// детерминированно из имени пользователя.
func (s *authService) Register(ctx context.Context, username, password string) (*models.User, error) {
	// Хешируем пароль
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("[AuthService] Ошибка хеширования пароля для '%s': %v", username, err)
		return nil, errors.New("внутренняя ошибка сервера при хешировании пароля")
	}

	user := &models.User{
		Username:     username,
		PasswordHash: string(hashedPassword),
		Address:      addressing.Derive(userNamespace, username),
	}

	// Создаем пользователя через репозиторий
	user.ID, err = s.userRepo.CreateUser(ctx, user)
	if err != nil {
		if errors.Is(err, repository.ErrUsernameTaken) {
			log.Printf("[AuthService] Попытка регистрации с занятым именем: %s", username)
			return nil, ErrUsernameTaken
		}
		log.Printf("[AuthService] Непредвиденная ошибка репозитория при регистрации '%s': %v", username, err)
		return nil, errors.New("внутренняя ошибка сервера при создании пользователя")
	}

	log.Printf("[AuthService] Участник '%s' зарегистрирован, адрес счета %s", username, user.Address)
	return user, nil
}

// Login аутентифицирует участника и возвращает JWT токен с адресом его счета.
func (s *authService) Login(ctx context.Context, username, password string) (string, error) {
	// Получаем пользователя по имени пользователя
	user, err := s.userRepo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			log.Printf("[AuthService] Попытка входа несуществующего пользователя: %s", username)
			return "", ErrInvalidCredentials // Общая ошибка для несуществующего пользователя и неверного пароля
		}
		log.Printf("[AuthService] Ошибка репозитория при поиске '%s': %v", username, err)
		return "", errors.New("внутренняя ошибка сервера при поиске пользователя")
	}

	// Сравниваем предоставленный пароль с хешем из базы данных
	err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password))
	if err != nil {
		log.Printf("[AuthService] Неверный пароль для пользователя: %s", username)
		return "", ErrInvalidCredentials
	}

	// Генерируем JWT токен
	token, err := s.generateJWT(user.Address)
	if err != nil {
		log.Printf("[AuthService] Ошибка генерации JWT для '%s': %v", username, err)
		return "", errors.New("внутренняя ошибка сервера при генерации токена")
	}

	log.Printf("[AuthService] Участник '%s' успешно аутентифицирован", username)
	return token, nil
}

// generateJWT создает и подписывает JWT токен с адресом счета участника.
func (s *authService) generateJWT(address string) (string, error) {
	claims := Claims{
		Address: address,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)), // Время истечения
			IssuedAt:  jwt.NewNumericDate(time.Now()),               // Время выдачи
			NotBefore: jwt.NewNumericDate(time.Now()),               // Время, с которого токен валиден
			Issuer:    "mesorail-server",                            // Источник токена
		},
	}

	// Создаем токен с нашими claims и методом подписи HS256
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	// Подписываем токен секретным ключом
	signedToken, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("ошибка подписи JWT: %w", err)
	}

	return signedToken, nil
}

// Кастомные ошибки сервиса.
var (
	ErrInvalidCredentials = errors.New("неверное имя пользователя или пароль")
	ErrUsernameTaken      = errors.New("имя пользователя уже занято")
)
