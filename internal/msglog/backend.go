// Package msglog 实现按会话追加写入、按时间有序的消息日志存储。
//
// 存储后端通过 Backend 接口接入，同一时刻只启用一个：
// 宽表后端 (Cassandra) 以会话为分区、以编码键为聚簇列；
// 文档后端 (MongoDB) 以编码键为 _id、以会话 ID 为分片键。
// 两者对外行为一致，差异只体现在延迟与资源占用上。
package msglog

import (
	"context"

	"sudooom.im.message/internal/model"
	appErrors "sudooom.im.message/pkg/errors"
)

var (
	ErrNotFound         = appErrors.ErrMessageNotFound
	ErrKeyConflict      = appErrors.ErrKeyConflict
	ErrDuplicate        = appErrors.ErrDuplicate
	ErrStoreUnavailable = appErrors.ErrStoreUnavailable
	ErrInvalidParams    = appErrors.ErrInvalidParams
)

// KeyRange 半开键区间 [Start, End)
type KeyRange struct {
	Start string
	End   string
}

// Empty 区间是否为空
func (r KeyRange) Empty() bool {
	return r.Start >= r.End
}

// Backend 消息存储后端
//
// Get / UpdateStatus / UpdateWithdrawn 在行不存在时返回 ErrNotFound；
// Insert 在同一键已存在另一条消息时返回 ErrKeyConflict，重复写入同一条消息返回 ErrDuplicate 且不修改已有数据。
// BatchGet 的 conversationID 为空表示无法确定分片，由后端自行决定如何查询。
type Backend interface {
	Name() string
	Insert(ctx context.Context, key string, msg *model.Message) error
	UpdateStatus(ctx context.Context, conversationID, key string, status model.MessageStatus, updateTime int64) error
	UpdateWithdrawn(ctx context.Context, conversationID, key string, withdrawn bool, updateTime int64) error
	Get(ctx context.Context, conversationID, key string) (*model.Message, error)
	BatchGet(ctx context.Context, conversationID string, keys []string) (map[string]*model.Message, error)
	Scan(ctx context.Context, conversationID string, r KeyRange, limit int, reverse bool) ([]*model.Message, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// sameMessage 判断重复写入是否为同一条消息
func sameMessage(a, b *model.Message) bool {
	return a.SenderID == b.SenderID && a.CreateTime == b.CreateTime
}
