package service

import (
	"context"

	"sudooom.im.message/internal/model"
)

// ConversationRegistry 会话注册表
type ConversationRegistry interface {
	ListConversations(ctx context.Context, userID int64) ([]model.ConversationMembership, error)
	ListPreferences(ctx context.Context, userID int64) ([]model.ConversationPreference, error)
	IsMember(ctx context.Context, conversationID string, userID int64) (bool, error)
	UpsertPreference(ctx context.Context, u *model.PreferenceUpdate) error
}

// MessageLog 消息日志存储
type MessageLog interface {
	Append(ctx context.Context, msg *model.Message) error
	UpdateStatus(ctx context.Context, conversationID, messageID string, status model.MessageStatus) error
	UpdateWithdrawn(ctx context.Context, conversationID, messageID string, withdrawn bool) error
	BatchLastMessages(ctx context.Context, conversationIDs []string) map[string]*model.Message
	ScanHistory(ctx context.Context, q model.HistoryQuery) (*model.HistoryPage, error)
}

// UnreadCounter 未读计数存储
type UnreadCounter interface {
	IncrementIfFresh(ctx context.Context, userID int64, conversationID string, createTime int64, delta int64) (int64, error)
	Clear(ctx context.Context, userID int64, conversationID string) error
	GetAllForUser(ctx context.Context, userID int64) (map[string]int64, error)
	Delete(ctx context.Context, userID int64, conversationID string) error
}
