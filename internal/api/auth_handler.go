package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"readnest/internal/domain/reading"
	"readnest/internal/platform/auth"
	applog "readnest/internal/platform/log"
)

// AuthHandler 注册/登录 API 处理器
type AuthHandler struct {
	repo     reading.Repository
	tokenCfg auth.TokenConfig
}

// NewAuthHandler 创建处理器
func NewAuthHandler(repo reading.Repository, tokenCfg auth.TokenConfig) *AuthHandler {
	return &AuthHandler{repo: repo, tokenCfg: tokenCfg}
}

// RegisterPublicRoutes 注册无需鉴权的路由
func (h *AuthHandler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/api/v1/auth/register", h.Register)
	r.Post("/api/v1/auth/login", h.Login)
}

// RegisterProtectedRoutes 注册需要鉴权的路由
func (h *AuthHandler) RegisterProtectedRoutes(r chi.Router) {
	r.Get("/api/v1/auth/me", h.Me)
}

type registerRequest struct {
	Email    string `json:"email"`
	Nickname string `json:"nickname"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string        `json:"token"`
	User  *reading.User `json:"user"`
}

// Register 注册新用户
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "valid email is required")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		applog.Error("[Auth] Password hash failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to register")
		return
	}

	user, err := h.repo.CreateUser(r.Context(), req.Email, req.Nickname, hash)
	if errors.Is(err, reading.ErrEmailTaken) {
		writeError(w, http.StatusConflict, "email already registered")
		return
	}
	if err != nil {
		applog.Error("[Auth] Register failed", "email", req.Email, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to register")
		return
	}

	token, err := auth.IssueToken(h.tokenCfg, user.ID, user.Email)
	if err != nil {
		applog.Error("[Auth] Token issue failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusCreated, &tokenResponse{Token: token, User: user})
}

// Login 登录
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	user, err := h.repo.GetUserByEmail(r.Context(), req.Email)
	if errors.Is(err, reading.ErrNotFound) {
		// 账号不存在与密码错误统一提示
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	if err != nil {
		applog.Error("[Auth] Login lookup failed", "email", req.Email, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to login")
		return
	}

	if !auth.VerifyPassword(user.PasswordHash, req.Password) {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	token, err := auth.IssueToken(h.tokenCfg, user.ID, user.Email)
	if err != nil {
		applog.Error("[Auth] Token issue failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	applog.Info("[Auth] User logged in", "user_id", user.ID)
	writeJSON(w, http.StatusOK, &tokenResponse{Token: token, User: user})
}

// Me 返回当前用户信息
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity := MustIdentityFrom(r.Context())

	user, err := h.repo.GetUser(r.Context(), identity.UserID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}
