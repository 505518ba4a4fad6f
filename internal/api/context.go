package api

import (
	"context"
	"fmt"
)

// Identity 已鉴权用户身份（注入到 context）
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

type identityContextKey struct{}

// WithIdentity 注入 Identity 到 context
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFrom 从 context 提取 Identity
func IdentityFrom(ctx context.Context) (*Identity, error) {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, fmt.Errorf("identity not found in context")
	}
	return identity, nil
}

// MustIdentityFrom 从 context 提取 Identity，panic if missing（仅用于已鉴权路由）
func MustIdentityFrom(ctx context.Context) *Identity {
	identity, err := IdentityFrom(ctx)
	if err != nil {
		panic("identity missing from context: middleware not applied?")
	}
	return identity
}
