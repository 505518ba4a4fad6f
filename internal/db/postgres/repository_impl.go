package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"readnest/internal/domain/reading"
	applog "readnest/internal/platform/log"
)

// Repository PostgreSQL 阅读域存储
type Repository struct {
	db *sql.DB
}

// NewRepository 创建 PostgreSQL 存储
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// EnsureTables 确保阅读域相关表存在
func (r *Repository) EnsureTables(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS users (
		id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		email         VARCHAR(255) NOT NULL UNIQUE,
		nickname      VARCHAR(64) NOT NULL DEFAULT '',
		password_hash VARCHAR(255) NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS notes (
		id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id    UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		title      VARCHAR(255) NOT NULL DEFAULT '',
		content    TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_notes_user_updated ON notes(user_id, updated_at DESC);

	CREATE TABLE IF NOT EXISTS favorites (
		user_id    UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		kind       VARCHAR(32) NOT NULL,
		target_id  VARCHAR(255) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, kind, target_id)
	);

	CREATE TABLE IF NOT EXISTS hubs (
		id           UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		title        VARCHAR(255) NOT NULL,
		summary      TEXT NOT NULL DEFAULT '',
		source       VARCHAR(128) NOT NULL DEFAULT '',
		link         VARCHAR(1024) NOT NULL DEFAULT '',
		published_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_hubs_published ON hubs(published_at DESC);
	`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// -- 用户 --

// CreateUser 创建用户，邮箱冲突返回 ErrEmailTaken
func (r *Repository) CreateUser(ctx context.Context, email, nickname, passwordHash string) (*reading.User, error) {
	user := &reading.User{
		Email:        email,
		Nickname:     nickname,
		PasswordHash: passwordHash,
	}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (email, nickname, password_hash)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		email, nickname, passwordHash,
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, reading.ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	applog.Info("[Reading/Store] User registered", "user_id", user.ID, "email", email)
	return user, nil
}

// GetUser 按 id 取用户
func (r *Repository) GetUser(ctx context.Context, userID string) (*reading.User, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return nil, reading.ErrNotFound
	}
	return r.scanUser(r.db.QueryRowContext(ctx,
		`SELECT id, email, nickname, password_hash, created_at FROM users WHERE id = $1`,
		userID,
	))
}

// GetUserByEmail 按邮箱取用户（登录用）
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*reading.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx,
		`SELECT id, email, nickname, password_hash, created_at FROM users WHERE email = $1`,
		email,
	))
}

func (r *Repository) scanUser(row *sql.Row) (*reading.User, error) {
	var user reading.User
	err := row.Scan(&user.ID, &user.Email, &user.Nickname, &user.PasswordHash, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, reading.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &user, nil
}

// -- 笔记 --

// CreateNote 创建笔记
func (r *Repository) CreateNote(ctx context.Context, userID, title, content string) (*reading.Note, error) {
	note := &reading.Note{
		UserID:  userID,
		Title:   title,
		Content: content,
	}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO notes (user_id, title, content)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at`,
		userID, title, content,
	).Scan(&note.ID, &note.CreatedAt, &note.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create note: %w", err)
	}
	return note, nil
}

// GetNote 按 id 取笔记（含归属校验）
func (r *Repository) GetNote(ctx context.Context, noteID, userID string) (*reading.Note, error) {
	if _, err := uuid.Parse(noteID); err != nil {
		return nil, reading.ErrNotFound
	}
	var note reading.Note
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, content, created_at, updated_at
		 FROM notes WHERE id = $1 AND user_id = $2`,
		noteID, userID,
	).Scan(&note.ID, &note.UserID, &note.Title, &note.Content, &note.CreatedAt, &note.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, reading.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get note: %w", err)
	}
	return &note, nil
}

// ListNotes 列出用户笔记，按 updated_at 倒序分页
func (r *Repository) ListNotes(ctx context.Context, userID string, params reading.ListParams) ([]reading.Note, int, error) {
	page, pageSize := normalizePage(params)

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notes WHERE user_id = $1`, userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notes: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, title, content, created_at, updated_at
		 FROM notes WHERE user_id = $1
		 ORDER BY updated_at DESC
		 LIMIT $2 OFFSET $3`,
		userID, pageSize, (page-1)*pageSize,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	notes := make([]reading.Note, 0, pageSize)
	for rows.Next() {
		var note reading.Note
		if err := rows.Scan(&note.ID, &note.UserID, &note.Title, &note.Content,
			&note.CreatedAt, &note.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, note)
	}
	return notes, total, rows.Err()
}

// UpdateNote 更新笔记
func (r *Repository) UpdateNote(ctx context.Context, noteID, userID, title, content string) (*reading.Note, error) {
	if _, err := uuid.Parse(noteID); err != nil {
		return nil, reading.ErrNotFound
	}
	var note reading.Note
	err := r.db.QueryRowContext(ctx,
		`UPDATE notes SET title = $3, content = $4, updated_at = NOW()
		 WHERE id = $1 AND user_id = $2
		 RETURNING id, user_id, title, content, created_at, updated_at`,
		noteID, userID, title, content,
	).Scan(&note.ID, &note.UserID, &note.Title, &note.Content, &note.CreatedAt, &note.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, reading.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update note: %w", err)
	}
	return &note, nil
}

// DeleteNote 删除笔记
func (r *Repository) DeleteNote(ctx context.Context, noteID, userID string) error {
	if _, err := uuid.Parse(noteID); err != nil {
		return reading.ErrNotFound
	}
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM notes WHERE id = $1 AND user_id = $2`,
		noteID, userID,
	)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return reading.ErrNotFound
	}
	return nil
}

// -- 收藏 --

// AddFavorite 添加收藏（重复添加幂等）
func (r *Repository) AddFavorite(ctx context.Context, userID, kind, targetID string) error {
	if !reading.ValidFavoriteKind(kind) {
		return reading.ErrInvalidFavoriteKind
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO favorites (user_id, kind, target_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, kind, target_id) DO NOTHING`,
		userID, kind, targetID,
	)
	if err != nil {
		return fmt.Errorf("add favorite: %w", err)
	}
	return nil
}

// RemoveFavorite 取消收藏
func (r *Repository) RemoveFavorite(ctx context.Context, userID, kind, targetID string) error {
	if !reading.ValidFavoriteKind(kind) {
		return reading.ErrInvalidFavoriteKind
	}
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM favorites WHERE user_id = $1 AND kind = $2 AND target_id = $3`,
		userID, kind, targetID,
	)
	if err != nil {
		return fmt.Errorf("remove favorite: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return reading.ErrNotFound
	}
	return nil
}

// ListFavorites 列出收藏，kind 为空时不过滤类型
func (r *Repository) ListFavorites(ctx context.Context, userID string, kind string, params reading.ListParams) ([]reading.Favorite, int, error) {
	if kind != "" && !reading.ValidFavoriteKind(kind) {
		return nil, 0, reading.ErrInvalidFavoriteKind
	}
	page, pageSize := normalizePage(params)

	countQuery := `SELECT COUNT(*) FROM favorites WHERE user_id = $1`
	listQuery := `SELECT user_id, kind, target_id, created_at FROM favorites WHERE user_id = $1`
	args := []interface{}{userID}
	if kind != "" {
		countQuery += ` AND kind = $2`
		listQuery += ` AND kind = $2`
		args = append(args, kind)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count favorites: %w", err)
	}

	listQuery += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := r.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list favorites: %w", err)
	}
	defer rows.Close()

	favorites := make([]reading.Favorite, 0, pageSize)
	for rows.Next() {
		var fav reading.Favorite
		if err := rows.Scan(&fav.UserID, &fav.Kind, &fav.TargetID, &fav.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan favorite: %w", err)
		}
		favorites = append(favorites, fav)
	}
	return favorites, total, rows.Err()
}

// CheckFavorites 批量检查收藏状态
func (r *Repository) CheckFavorites(ctx context.Context, userID string, req *reading.CheckFavoritesRequest) (*reading.CheckFavoritesResponse, error) {
	if !reading.ValidFavoriteKind(req.Kind) {
		return nil, reading.ErrInvalidFavoriteKind
	}

	resp := &reading.CheckFavoritesResponse{
		Kind:    req.Kind,
		Results: make(map[string]bool, len(req.TargetIDs)),
	}
	for _, id := range req.TargetIDs {
		resp.Results[id] = false
	}
	if len(req.TargetIDs) == 0 {
		return resp, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT target_id FROM favorites
		 WHERE user_id = $1 AND kind = $2 AND target_id = ANY($3)`,
		userID, req.Kind, pq.Array(req.TargetIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("check favorites: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var targetID string
		if err := rows.Scan(&targetID); err != nil {
			return nil, fmt.Errorf("scan favorite target: %w", err)
		}
		resp.Results[targetID] = true
	}
	return resp, rows.Err()
}

// -- 知识广场 --

// CreateHub 写入广场条目（内容同步任务用）
func (r *Repository) CreateHub(ctx context.Context, hub *reading.Hub) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO hubs (title, summary, source, link, published_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		hub.Title, hub.Summary, hub.Source, hub.Link, hub.PublishedAt,
	).Scan(&hub.ID, &hub.CreatedAt)
	if err != nil {
		return fmt.Errorf("create hub: %w", err)
	}
	return nil
}

// GetHub 按 id 取广场条目
func (r *Repository) GetHub(ctx context.Context, hubID string) (*reading.Hub, error) {
	if _, err := uuid.Parse(hubID); err != nil {
		return nil, reading.ErrNotFound
	}
	var hub reading.Hub
	err := r.db.QueryRowContext(ctx,
		`SELECT id, title, summary, source, link, published_at, created_at
		 FROM hubs WHERE id = $1`,
		hubID,
	).Scan(&hub.ID, &hub.Title, &hub.Summary, &hub.Source, &hub.Link,
		&hub.PublishedAt, &hub.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, reading.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get hub: %w", err)
	}
	return &hub, nil
}

// ListHubs 按发布时间倒序分页列出广场条目
func (r *Repository) ListHubs(ctx context.Context, params reading.ListParams) ([]reading.Hub, int, error) {
	page, pageSize := normalizePage(params)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hubs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count hubs: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, summary, source, link, published_at, created_at
		 FROM hubs
		 ORDER BY published_at DESC
		 LIMIT $1 OFFSET $2`,
		pageSize, (page-1)*pageSize,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list hubs: %w", err)
	}
	defer rows.Close()

	hubs := make([]reading.Hub, 0, pageSize)
	for rows.Next() {
		var hub reading.Hub
		if err := rows.Scan(&hub.ID, &hub.Title, &hub.Summary, &hub.Source, &hub.Link,
			&hub.PublishedAt, &hub.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan hub: %w", err)
		}
		hubs = append(hubs, hub)
	}
	return hubs, total, rows.Err()
}

func normalizePage(params reading.ListParams) (page, pageSize int) {
	page = params.Page
	if page < 1 {
		page = 1
	}
	pageSize = params.PageSize
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
