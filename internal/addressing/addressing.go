// Package addressing реализует детерминированный вывод адресов счетов.
// Адрес однозначно определяется пространством имен и частями ключа,
// поэтому отдельный справочник адресов не нужен: любой компонент может
// вычислить адрес записи по известным входным данным.
package addressing

import (
	"encoding/binary"
	"encoding/hex"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// Пространства имен для выводимых адресов.
const (
	NamespaceVault       = "vault"
	NamespaceVoucherMint = "voucher_mint"
	NamespaceRole        = "role"
)

// Derive вычисляет стабильный адрес счета по пространству имен и частям ключа.
// Функция чистая: одинаковые входные данные всегда дают одинаковый адрес.
// Каждая часть кодируется с префиксом длины, чтобы кортежи входов
// не склеивались ("ab","c" и "a","bc" дают разные адреса).
func Derive(namespace string, keyParts ...string) string {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 без ключа не возвращает ошибку
		panic(err)
	}

	writePart(h, namespace)
	for _, part := range keyParts {
		writePart(h, part)
	}

	return hex.EncodeToString(h.Sum(nil))
}

// VaultAddress возвращает адрес хранилища для указанного администратора.
func VaultAddress(authority string) string {
	return Derive(NamespaceVault, authority)
}

// VoucherAssetID возвращает идентификатор ваучерного актива хранилища.
func VoucherAssetID(vaultID string) string {
	return Derive(NamespaceVoucherMint, vaultID)
}

// RoleAddress возвращает адрес записи роли для пары (хранилище, участник).
func RoleAddress(vaultID, address string) string {
	return Derive(NamespaceRole, vaultID, address)
}

// writePart записывает часть ключа с 4-байтовым префиксом длины (big-endian).
func writePart(h hash.Hash, part string) {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(part))) //nolint:gosec // Длина части ключа не превышает uint32
	_, _ = h.Write(prefix[:])
	_, _ = h.Write([]byte(part))
}
