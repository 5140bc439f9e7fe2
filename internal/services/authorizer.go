package services

import "github.com/mesorail/mesorail/internal/models"

// AuthorizeTransfer - чистая функция авторизации перевода ваучеров.
// Не изменяет состояние. nil вместо записи роли означает, что адрес
// не зарегистрирован в реестре хранилища.
//
// Правила проверяются строго по порядку, первая нарушенная дает ошибку:
//  1. Отправитель - активный клиент, иначе ErrOnlyClientCanSend.
//  2. Получатель зарегистрирован, иначе ErrRecipientNotRegistered.
//  3. Получатель - активный мерчант, иначе ErrOnlyMerchantCanReceive.
//
// Из правил следует: клиент не может принимать, мерчант не может отправлять,
// переводы клиент-клиент и мерчант-мерчант всегда отклоняются.
func AuthorizeTransfer(senderRole, recipientRole *models.RoleEntry) error {
	if senderRole == nil || senderRole.Role != models.RoleClient || !senderRole.IsActive {
		return ErrOnlyClientCanSend
	}
	if recipientRole == nil {
		return ErrRecipientNotRegistered
	}
	if recipientRole.Role != models.RoleMerchant || !recipientRole.IsActive {
		return ErrOnlyMerchantCanReceive
	}
	return nil
}
