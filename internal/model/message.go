package model

// MessageFormat 消息格式
type MessageFormat int

const (
	MessageFormatText  MessageFormat = 1 // 文本
	MessageFormatImage MessageFormat = 2 // 图片
	MessageFormatVoice MessageFormat = 3 // 语音
	MessageFormatVideo MessageFormat = 4 // 视频
	MessageFormatFile  MessageFormat = 5 // 文件
)

// MessageStatus 消息投递状态
type MessageStatus int

const (
	MessageStatusSent      MessageStatus = 1 // 已发送
	MessageStatusDelivered MessageStatus = 2 // 已送达
	MessageStatusRead      MessageStatus = 3 // 已读
	MessageStatusFailed    MessageStatus = 4 // 发送失败
)

// Valid 是否为合法状态
func (s MessageStatus) Valid() bool {
	return s >= MessageStatusSent && s <= MessageStatusFailed
}

// Message 消息实体
// Status 与 Withdrawn 是两个独立维度，消息可以既已读又已撤回
type Message struct {
	ConversationID string        `json:"conversationId"`
	MessageID      string        `json:"messageId"`
	SenderID       int64         `json:"senderId"`
	RecipientID    int64         `json:"recipientId"`
	Format         MessageFormat `json:"format"`
	Content        string        `json:"content"`
	CreateTime     int64         `json:"createTime"` // 毫秒
	Status         MessageStatus `json:"status"`
	Withdrawn      bool          `json:"withdrawn"`
	UpdateTime     int64         `json:"updateTime,omitempty"`
}

// Clone 返回消息副本
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// HistoryQuery 历史消息查询条件
type HistoryQuery struct {
	ConversationID string
	Cursor         string // 上一页最后一条消息 ID（不含）
	StartTime      int64  // 毫秒，0 表示不限
	EndTime        int64  // 毫秒，0 表示不限
	PageSize       int
	Reverse        bool // true: 从新到旧
}

// HistoryPage 历史消息分页结果
type HistoryPage struct {
	Messages   []*Message `json:"messages"`
	HasMore    bool       `json:"hasMore"`
	NextCursor string     `json:"nextCursor,omitempty"`
}
