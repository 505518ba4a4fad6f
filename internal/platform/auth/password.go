package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt 只取输入前 72 字节，超长部分显式截断后再哈希，
// 不去改库的行为。
const bcryptMaxInputBytes = 72

func truncateForBcrypt(password string) []byte {
	b := []byte(password)
	if len(b) > bcryptMaxInputBytes {
		b = b[:bcryptMaxInputBytes]
	}
	return b
}

// HashPassword 生成密码哈希
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(truncateForBcrypt(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword 校验密码
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), truncateForBcrypt(password)) == nil
}
