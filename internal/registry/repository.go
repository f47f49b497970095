package registry

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.im.message/internal/model"
)

// Repository 会话注册表（PostgreSQL）
type Repository struct {
	db  *pgxpool.Pool
	now func() time.Time
}

// NewRepository 创建会话注册表
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db, now: time.Now}
}

// ListConversations 获取用户参与的全部会话及会话创建时间
func (r *Repository) ListConversations(ctx context.Context, userID int64) ([]model.ConversationMembership, error) {
	query := `
		SELECT m.conversation_id, m.user_id, m.role, c.create_time
		FROM conversation_members m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE m.user_id = $1
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ConversationMembership, error) {
		var m model.ConversationMembership
		err := row.Scan(&m.ConversationID, &m.UserID, &m.Role, &m.CreateTime)
		return m, err
	})
}

// ListPreferences 获取用户的会话设置
func (r *Repository) ListPreferences(ctx context.Context, userID int64) ([]model.ConversationPreference, error) {
	query := `
		SELECT user_id, conversation_id, pinned, hidden, deleted
		FROM conversation_preferences
		WHERE user_id = $1
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ConversationPreference, error) {
		var p model.ConversationPreference
		err := row.Scan(&p.UserID, &p.ConversationID, &p.Pinned, &p.Hidden, &p.Deleted)
		return p, err
	})
}

// IsMember 判断用户是否为会话成员
func (r *Repository) IsMember(ctx context.Context, conversationID string, userID int64) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM conversation_members WHERE conversation_id = $1 AND user_id = $2)`

	var exists bool
	err := r.db.QueryRow(ctx, query, conversationID, userID).Scan(&exists)
	return exists, err
}

// UpsertPreference 部分更新会话设置，未指定的字段保持原值
func (r *Repository) UpsertPreference(ctx context.Context, u *model.PreferenceUpdate) error {
	query := `
		INSERT INTO conversation_preferences (user_id, conversation_id, pinned, hidden, deleted, update_time)
		VALUES ($1, $2, COALESCE($3::boolean, FALSE), COALESCE($4::boolean, FALSE), COALESCE($5::boolean, FALSE), $6)
		ON CONFLICT (user_id, conversation_id) DO UPDATE SET
			pinned      = COALESCE($3::boolean, conversation_preferences.pinned),
			hidden      = COALESCE($4::boolean, conversation_preferences.hidden),
			deleted     = COALESCE($5::boolean, conversation_preferences.deleted),
			update_time = $6
	`

	_, err := r.db.Exec(ctx, query,
		u.UserID,
		u.ConversationID,
		u.Pinned,
		u.Hidden,
		u.Deleted,
		r.now().UnixMilli(),
	)
	return err
}
