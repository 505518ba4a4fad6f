package reading

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound 目标实体不存在（或不属于当前用户）
	ErrNotFound = errors.New("entity not found")

	// ErrEmailTaken 注册邮箱已被占用
	ErrEmailTaken = errors.New("email already registered")

	// ErrInvalidFavoriteKind 收藏类型不在枚举内
	ErrInvalidFavoriteKind = errors.New("invalid favorite kind")
)

// 收藏目标类型
const (
	FavoriteKindHub      = "hub"
	FavoriteKindDocument = "document"
)

// ValidFavoriteKind 校验收藏类型
func ValidFavoriteKind(kind string) bool {
	return kind == FavoriteKindHub || kind == FavoriteKindDocument
}

// User 注册用户。PasswordHash 不出现在 JSON 输出中。
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Nickname     string    `json:"nickname"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Note 用户笔记
type Note struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Favorite 收藏关系（用户 × 类型 × 目标）
type Favorite struct {
	UserID    string    `json:"user_id"`
	Kind      string    `json:"kind"` // hub | document
	TargetID  string    `json:"target_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Hub 知识广场条目
type Hub struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Source      string    `json:"source"`
	Link        string    `json:"link"`
	PublishedAt time.Time `json:"published_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// CheckFavoritesRequest 批量检查收藏状态的请求。
// 字段显式枚举，不接受自由格式字典。
type CheckFavoritesRequest struct {
	Kind      string   `json:"kind"`       // hub | document
	TargetIDs []string `json:"target_ids"` // 待检查的目标 id 列表
}

// CheckFavoritesResponse 批量检查收藏状态的响应
type CheckFavoritesResponse struct {
	Kind    string          `json:"kind"`
	Results map[string]bool `json:"results"` // target_id -> 是否已收藏
}

// ListParams 通用分页参数
type ListParams struct {
	Page     int
	PageSize int
}

// Repository 阅读域存储接口
type Repository interface {
	// -- 用户 --
	CreateUser(ctx context.Context, email, nickname, passwordHash string) (*User, error)
	GetUser(ctx context.Context, userID string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// -- 笔记 --
	CreateNote(ctx context.Context, userID, title, content string) (*Note, error)
	GetNote(ctx context.Context, noteID, userID string) (*Note, error)
	ListNotes(ctx context.Context, userID string, params ListParams) ([]Note, int, error)
	UpdateNote(ctx context.Context, noteID, userID, title, content string) (*Note, error)
	DeleteNote(ctx context.Context, noteID, userID string) error

	// -- 收藏 --
	AddFavorite(ctx context.Context, userID, kind, targetID string) error
	RemoveFavorite(ctx context.Context, userID, kind, targetID string) error
	ListFavorites(ctx context.Context, userID string, kind string, params ListParams) ([]Favorite, int, error)
	CheckFavorites(ctx context.Context, userID string, req *CheckFavoritesRequest) (*CheckFavoritesResponse, error)

	// -- 知识广场 --
	CreateHub(ctx context.Context, hub *Hub) error
	GetHub(ctx context.Context, hubID string) (*Hub, error)
	ListHubs(ctx context.Context, params ListParams) ([]Hub, int, error)
}
