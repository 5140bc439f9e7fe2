package services

import "errors"

// Закрытая таксономия ошибок операций леджера.
// Каждая операция возвращает либо результат, либо одну из этих ошибок;
// при любой ошибке состояние леджера остается неизменным.
// ErrConflict - единственная ошибка, которую вызывающий может слепо повторить.
var (
	ErrAlreadyInitialized     = errors.New("хранилище уже инициализировано")
	ErrUnauthorized           = errors.New("операция доступна только администратору хранилища")
	ErrRoleConflict           = errors.New("адрес уже зарегистрирован с другой ролью")
	ErrNotRegistered          = errors.New("адрес не зарегистрирован")
	ErrOnlyClientCanSend      = errors.New("отправлять ваучеры может только активный клиент")
	ErrRecipientNotRegistered = errors.New("получатель не зарегистрирован")
	ErrOnlyMerchantCanReceive = errors.New("принимать ваучеры может только активный мерчант")
	ErrOnlyMerchantCanSettle  = errors.New("погашать ваучеры может только активный мерчант")
	ErrInsufficientFunds      = errors.New("недостаточно средств")
	ErrInsufficientLiquidity  = errors.New("недостаточно обеспечения в хранилище")
	ErrInvalidAmount          = errors.New("недопустимая сумма операции")
	ErrAmountTooSmall         = errors.New("сумма слишком мала для конвертации")
	ErrConflict               = errors.New("конкурентный конфликт, повторите операцию")
	ErrVaultNotFound          = errors.New("хранилище не найдено")
	ErrInvalidRole            = errors.New("недопустимая роль")
)
