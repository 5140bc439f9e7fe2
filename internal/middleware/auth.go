package middleware

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mesorail/mesorail/internal/services"
)

// Тип для ключа контекста.
type contextKey string

// Ключ для хранения адреса счета участника в контексте.
const AddressKey contextKey = "address"

// Количество частей заголовка "Bearer <token>".
const bearerHeaderParts = 2

// NewAuthenticator возвращает middleware, проверяющий JWT токен аутентификации
// и помещающий адрес счета участника в контекст запроса.
func NewAuthenticator(jwtSecret string) func(http.Handler) http.Handler {
	secret := []byte(jwtSecret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Получаем заголовок Authorization
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				log.Println("[AuthMiddleware] Заголовок Authorization отсутствует")
				http.Error(w, "Требуется аутентификация", http.StatusUnauthorized)
				return
			}

			// Проверяем формат "Bearer token"
			headerParts := strings.Split(authHeader, " ")
			if len(headerParts) != bearerHeaderParts || strings.ToLower(headerParts[0]) != "bearer" {
				log.Printf("[AuthMiddleware] Неверный формат заголовка Authorization")
				http.Error(w, "Неверный формат токена", http.StatusUnauthorized)
				return
			}

			tokenString := headerParts[1]

			// Парсим и валидируем токен
			claims := &services.Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				// Убеждаемся, что метод подписи - HS256
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("неожиданный метод подписи: %v", token.Header["alg"])
				}
				return secret, nil
			})

			if err != nil {
				log.Printf("[AuthMiddleware] Ошибка парсинга/валидации токена: %v", err)
				http.Error(w, "Невалидный токен", http.StatusUnauthorized)
				return
			}

			// Проверяем валидность токена (включая время жизни, issuer и т.д.)
			if !token.Valid || claims.Address == "" {
				log.Println("[AuthMiddleware] Предоставлен невалидный токен (возможно, истек)")
				http.Error(w, "Невалидный токен", http.StatusUnauthorized)
				return
			}

			// Добавляем адрес счета в контекст запроса
			ctx := context.WithValue(r.Context(), AddressKey, claims.Address)

			// Передаем управление следующему обработчику с обновленным контекстом
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAddressFromContext извлекает адрес счета участника из контекста запроса.
// Возвращает адрес и true, если адрес найден, иначе пустую строку и false.
func GetAddressFromContext(ctx context.Context) (string, bool) {
	address, ok := ctx.Value(AddressKey).(string)
	return address, ok && address != ""
}
