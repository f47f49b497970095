package service

import (
	"context"
	"log/slog"
	"strconv"

	"sudooom.im.message/internal/model"
	"sudooom.im.message/internal/msglog"
	"sudooom.im.message/internal/rowkey"
	appErrors "sudooom.im.message/pkg/errors"
	"sudooom.im.message/pkg/snowflake"
)

// IDGenerator 消息 ID 生成器
type IDGenerator interface {
	Generate() snowflake.ID
}

// MessageService 消息写入服务，处理上游投递的发送、回执、撤回与已读事件
type MessageService struct {
	messages MessageLog
	unread   UnreadCounter
	idGen    IDGenerator
	logger   *slog.Logger
}

// NewMessageService 创建消息服务
func NewMessageService(messages MessageLog, unread UnreadCounter, idGen IDGenerator) *MessageService {
	return &MessageService{
		messages: messages,
		unread:   unread,
		idGen:    idGen,
		logger:   slog.Default(),
	}
}

// Send 保存消息并为接收方递增未读，重复投递的消息不会再次计数
// 保存失败返回错误由上游决定是否重试；未读递增失败只记录日志
func (s *MessageService) Send(ctx context.Context, msg *model.Message) (*model.Message, error) {
	if msg == nil || msg.SenderID == 0 {
		return nil, appErrors.ErrInvalidParams
	}
	if err := rowkey.ValidateConversationID(msg.ConversationID); err != nil {
		return nil, appErrors.ErrInvalidParams.Wrap(err)
	}

	if msg.MessageID == "" {
		msg.MessageID = s.idGen.Generate().String()
	}
	if msg.CreateTime == 0 {
		id, err := strconv.ParseInt(msg.MessageID, 10, 64)
		if err != nil {
			return nil, appErrors.ErrInvalidParams.Wrap(err)
		}
		msg.CreateTime = snowflake.TimeOf(id)
	}
	msg.Status = model.MessageStatusSent

	if err := s.messages.Append(ctx, msg); err != nil {
		if appErrors.Is(err, msglog.ErrDuplicate) {
			// 重复投递，未读已在首次写入时计入
			s.logger.Debug("Duplicate send ignored",
				"conversationId", msg.ConversationID,
				"messageId", msg.MessageID)
			return msg, nil
		}
		return nil, err
	}

	if msg.RecipientID != 0 && msg.RecipientID != msg.SenderID {
		if _, err := s.unread.IncrementIfFresh(ctx, msg.RecipientID, msg.ConversationID, msg.CreateTime, 1); err != nil {
			s.logger.Error("Failed to increment unread",
				"userId", msg.RecipientID,
				"conversationId", msg.ConversationID,
				"messageId", msg.MessageID,
				"error", err)
		}
	}

	s.logger.Debug("Message saved",
		"conversationId", msg.ConversationID,
		"messageId", msg.MessageID,
		"senderId", msg.SenderID)
	return msg, nil
}

// HandleSend 处理发送事件
func (s *MessageService) HandleSend(ctx context.Context, msg *model.Message) error {
	_, err := s.Send(ctx, msg)
	return err
}

// HandleAck 处理回执，只更新状态字段
func (s *MessageService) HandleAck(ctx context.Context, ack *model.AckPayload) error {
	return s.messages.UpdateStatus(ctx, ack.ConversationID, ack.MessageID, ack.Status)
}

// HandleWithdraw 处理撤回
func (s *MessageService) HandleWithdraw(ctx context.Context, w *model.WithdrawPayload) error {
	return s.messages.UpdateWithdrawn(ctx, w.ConversationID, w.MessageID, true)
}

// HandleRead 处理会话已读
func (s *MessageService) HandleRead(ctx context.Context, r *model.ReadPayload) error {
	if r.UserID == 0 {
		return appErrors.ErrInvalidParams
	}
	return s.unread.Clear(ctx, r.UserID, r.ConversationID)
}
