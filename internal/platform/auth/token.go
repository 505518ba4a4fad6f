package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenConfig JWT 签发配置
type TokenConfig struct {
	Secret    string        // HMAC 签名密钥
	Issuer    string        // 可选签发者
	ExpiresIn time.Duration // 有效期，默认 24h
}

// IssueToken 为用户签发 JWT（HS256，sub = user id）
func IssueToken(cfg TokenConfig, userID, email string) (string, error) {
	expiresIn := cfg.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 24 * time.Hour
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   userID,
		"email": email,
		"iat":   now.Unix(),
		"exp":   now.Add(expiresIn).Unix(),
	}
	if cfg.Issuer != "" {
		claims["iss"] = cfg.Issuer
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
