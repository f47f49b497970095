package model

// SyncOperation 同步事件操作类型
type SyncOperation string

const (
	SyncOperationCreate         SyncOperation = "create"
	SyncOperationUpdateStatus   SyncOperation = "updateStatus"
	SyncOperationUpdateWithdraw SyncOperation = "updateWithdraw"
)

// ChangedFields 更新事件只携带发生变化的字段
type ChangedFields struct {
	Status    *MessageStatus `json:"status,omitempty"`
	Withdrawn *bool          `json:"withdrawn,omitempty"`
}

// SyncEvent 消息变更事件，下游用于搜索索引同步
type SyncEvent struct {
	Operation      SyncOperation  `json:"operation"`
	ConversationID string         `json:"conversationId"`
	MessageID      string         `json:"messageId"`
	Message        *Message       `json:"message,omitempty"` // 仅 create
	Fields         *ChangedFields `json:"fields,omitempty"`  // 仅 update
	Timestamp      int64          `json:"timestamp"`
}

// InboundEventType 上游消息事件类型
type InboundEventType string

const (
	InboundEventSend     InboundEventType = "send"
	InboundEventAck      InboundEventType = "ack"
	InboundEventWithdraw InboundEventType = "withdraw"
	InboundEventRead     InboundEventType = "read"
)

// InboundEvent 上游投递到本服务的消息事件
type InboundEvent struct {
	Type     InboundEventType `json:"type"`
	Send     *Message         `json:"send,omitempty"`
	Ack      *AckPayload      `json:"ack,omitempty"`
	Withdraw *WithdrawPayload `json:"withdraw,omitempty"`
	Read     *ReadPayload     `json:"read,omitempty"`
}

// AckPayload 回执
// 回执中的收发方与原消息相反，只取会话、消息 ID 与状态
type AckPayload struct {
	ConversationID string        `json:"conversationId"`
	MessageID      string        `json:"messageId"`
	Status         MessageStatus `json:"status"`
	FromUserID     int64         `json:"fromUserId,omitempty"`
	ToUserID       int64         `json:"toUserId,omitempty"`
}

// WithdrawPayload 撤回
type WithdrawPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	OperatorID     int64  `json:"operatorId"`
}

// ReadPayload 会话已读
type ReadPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         int64  `json:"userId"`
}

// ConversationID 事件所属会话，用于按会话保序路由
func (e *InboundEvent) ConversationID() string {
	switch {
	case e.Type == InboundEventSend && e.Send != nil:
		return e.Send.ConversationID
	case e.Type == InboundEventAck && e.Ack != nil:
		return e.Ack.ConversationID
	case e.Type == InboundEventWithdraw && e.Withdraw != nil:
		return e.Withdraw.ConversationID
	case e.Type == InboundEventRead && e.Read != nil:
		return e.Read.ConversationID
	}
	return ""
}
