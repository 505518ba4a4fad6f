package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"readnest/internal/domain/reading"
)

// stubRepo 只实现用户相关方法的内存存储，其余返回 ErrNotFound
type stubRepo struct {
	mu      sync.Mutex
	users   map[string]*reading.User // keyed by email
	nextSeq int
}

func newStubRepo() *stubRepo {
	return &stubRepo{users: make(map[string]*reading.User)}
}

func (s *stubRepo) CreateUser(_ context.Context, email, nickname, passwordHash string) (*reading.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[email]; ok {
		return nil, reading.ErrEmailTaken
	}
	s.nextSeq++
	user := &reading.User{
		ID:           fmt.Sprintf("user-%d", s.nextSeq),
		Email:        email,
		Nickname:     nickname,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	s.users[email] = user
	return user, nil
}

func (s *stubRepo) GetUser(_ context.Context, userID string) (*reading.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.ID == userID {
			return user, nil
		}
	}
	return nil, reading.ErrNotFound
}

func (s *stubRepo) GetUserByEmail(_ context.Context, email string) (*reading.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.users[email]; ok {
		return user, nil
	}
	return nil, reading.ErrNotFound
}

func (s *stubRepo) CreateNote(context.Context, string, string, string) (*reading.Note, error) {
	return nil, reading.ErrNotFound
}
func (s *stubRepo) GetNote(context.Context, string, string) (*reading.Note, error) {
	return nil, reading.ErrNotFound
}
func (s *stubRepo) ListNotes(context.Context, string, reading.ListParams) ([]reading.Note, int, error) {
	return nil, 0, nil
}
func (s *stubRepo) UpdateNote(context.Context, string, string, string, string) (*reading.Note, error) {
	return nil, reading.ErrNotFound
}
func (s *stubRepo) DeleteNote(context.Context, string, string) error { return reading.ErrNotFound }
func (s *stubRepo) AddFavorite(context.Context, string, string, string) error {
	return nil
}
func (s *stubRepo) RemoveFavorite(context.Context, string, string, string) error { return nil }
func (s *stubRepo) ListFavorites(context.Context, string, string, reading.ListParams) ([]reading.Favorite, int, error) {
	return nil, 0, nil
}
func (s *stubRepo) CheckFavorites(context.Context, string, *reading.CheckFavoritesRequest) (*reading.CheckFavoritesResponse, error) {
	return &reading.CheckFavoritesResponse{Results: map[string]bool{}}, nil
}
func (s *stubRepo) CreateHub(context.Context, *reading.Hub) error { return nil }
func (s *stubRepo) GetHub(context.Context, string) (*reading.Hub, error) {
	return nil, reading.ErrNotFound
}
func (s *stubRepo) ListHubs(context.Context, reading.ListParams) ([]reading.Hub, int, error) {
	return nil, 0, nil
}

func newTestHandler(t *testing.T) (http.Handler, *stubRepo) {
	t.Helper()
	cfg := DefaultServerConfig()
	cfg.JWTSecret = "test-secret"
	repo := newStubRepo()
	server := NewServer(cfg, repo, nil)
	return server.Handler(), repo
}

func TestPublicRoutesBypassJWT(t *testing.T) {
	handler, _ := newTestHandler(t)

	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
	}{
		{
			name:     "register without token hits validation, not JWT",
			path:     "/api/v1/auth/register",
			body:     `{}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "login without token hits credential check, not JWT",
			path:     "/api/v1/auth/login",
			body:     `{"email":"nobody@example.com","password":"whatever"}`,
			wantCode: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantCode {
				t.Fatalf("status for %s = %d, want %d; body: %s", tt.path, rr.Code, tt.wantCode, rr.Body.String())
			}
			if strings.Contains(rr.Body.String(), "Authorization") {
				t.Fatalf("public route %s was intercepted by the JWT middleware: %s", tt.path, rr.Body.String())
			}
		})
	}
}

func TestProtectedRoutesRequireJWT(t *testing.T) {
	handler, _ := newTestHandler(t)

	paths := []string{
		"/api/v1/auth/me",
		"/api/v1/notes",
		"/api/v1/favorites",
		"/api/v1/hubs",
		"/api/v1/chat/sessions",
	}

	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401 for protected route %s, got %d", path, rr.Code)
			}
		})
	}
}

func TestRegisterLoginAndMe(t *testing.T) {
	handler, _ := newTestHandler(t)

	// 注册
	registerBody := `{"email":"reader@example.com","nickname":"Reader","password":"longenough"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader(registerBody))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("register status = %d, want 201; body: %s", rr.Code, rr.Body.String())
	}

	// 登录
	loginBody := `{"email":"reader@example.com","password":"longenough"}`
	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(loginBody))
	req.Header.Set("Content-Type", "application/json")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d, want 200; body: %s", rr.Code, rr.Body.String())
	}

	var loginResp struct {
		Code int `json:"code"`
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &loginResp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if loginResp.Data.Token == "" {
		t.Fatal("login response missing token")
	}

	// 带 Token 访问受保护路由
	req = httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+loginResp.Data.Token)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("me status = %d, want 200; body: %s", rr.Code, rr.Body.String())
	}

	// 错误密码统一返回 401
	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":"reader@example.com","password":"wrongpassword"}`))
	req.Header.Set("Content-Type", "application/json")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password status = %d, want 401", rr.Code)
	}

	// 不存在的账号与密码错误不可区分
	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":"ghost@example.com","password":"wrongpassword"}`))
	req.Header.Set("Content-Type", "application/json")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unknown account status = %d, want 401", rr.Code)
	}
}

func TestHealthEndpointPublic(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", rr.Code)
	}
}
