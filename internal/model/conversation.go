package model

// MemberRole 会话成员角色
type MemberRole int

const (
	MemberRoleMember MemberRole = 0
	MemberRoleOwner  MemberRole = 1
	MemberRoleAdmin  MemberRole = 2
)

// ConversationMembership 用户参与的会话
type ConversationMembership struct {
	ConversationID string     `json:"conversationId"`
	UserID         int64      `json:"userId"`
	Role           MemberRole `json:"role"`
	CreateTime     int64      `json:"createTime"` // 会话创建时间（毫秒）
}

// ConversationPreference 用户对会话的个人设置
type ConversationPreference struct {
	UserID         int64  `json:"userId"`
	ConversationID string `json:"conversationId"`
	Pinned         bool   `json:"pinned"`
	Hidden         bool   `json:"hidden"`
	Deleted        bool   `json:"deleted"`
}

// PreferenceUpdate 会话设置的部分更新，nil 字段保持不变
type PreferenceUpdate struct {
	UserID         int64  `json:"-"`
	ConversationID string `json:"-"`
	Pinned         *bool  `json:"pinned"`
	Hidden         *bool  `json:"hidden"`
	Deleted        *bool  `json:"deleted"`
}

// Empty 是否没有任何字段需要更新
func (u *PreferenceUpdate) Empty() bool {
	return u.Pinned == nil && u.Hidden == nil && u.Deleted == nil
}

// LastMessageSummary 会话列表中的最后一条消息摘要
type LastMessageSummary struct {
	MessageID  string        `json:"messageId,omitempty"`
	CreateTime int64         `json:"createTime"`
	Format     MessageFormat `json:"format,omitempty"`
	Content    string        `json:"content"`
	SenderID   int64         `json:"senderId,omitempty"`
	Withdrawn  bool          `json:"withdrawn,omitempty"`
}

// ConversationListEntry 会话列表项，每次请求实时聚合，不做持久化
type ConversationListEntry struct {
	ConversationID string             `json:"conversationId"`
	UnreadCount    int64              `json:"unreadCount"`
	LastMessage    LastMessageSummary `json:"lastMessage"`
	Pinned         bool               `json:"pinned"`
}

// ConversationListPage 会话列表分页结果
type ConversationListPage struct {
	Entries []ConversationListEntry `json:"entries"`
	HasMore bool                    `json:"hasMore"`
	Total   int                     `json:"total"`
}
