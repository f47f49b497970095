package service

import (
	"context"
	"log/slog"

	"sudooom.im.message/internal/model"
	appErrors "sudooom.im.message/pkg/errors"
)

// HistoryService 历史消息服务
type HistoryService struct {
	registry ConversationRegistry
	messages MessageLog
	logger   *slog.Logger
}

// NewHistoryService 创建历史消息服务
func NewHistoryService(registry ConversationRegistry, messages MessageLog) *HistoryService {
	return &HistoryService{
		registry: registry,
		messages: messages,
		logger:   slog.Default(),
	}
}

// GetHistory 分页查询历史消息，只允许会话成员查看
func (s *HistoryService) GetHistory(ctx context.Context, userID int64, q model.HistoryQuery) (*model.HistoryPage, error) {
	if q.ConversationID == "" {
		return nil, appErrors.ErrInvalidParams
	}
	if q.StartTime > 0 && q.EndTime > 0 && q.StartTime > q.EndTime {
		return nil, appErrors.ErrInvalidParams
	}

	ok, err := s.registry.IsMember(ctx, q.ConversationID, userID)
	if err != nil {
		s.logger.Error("Failed to check membership", "userId", userID, "conversationId", q.ConversationID, "error", err)
		return nil, appErrors.ErrDBError.Wrap(err)
	}
	if !ok {
		return nil, appErrors.ErrNotMember
	}

	return s.messages.ScanHistory(ctx, q)
}
