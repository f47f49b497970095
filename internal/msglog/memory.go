package msglog

import (
	"context"
	"sort"
	"sync"

	"sudooom.im.message/internal/model"
	"sudooom.im.message/internal/rowkey"
)

type memoryRow struct {
	key string
	msg *model.Message
}

// MemoryBackend 内存后端，用于本地开发与测试
type MemoryBackend struct {
	mu    sync.RWMutex
	convs map[string][]memoryRow // 每个会话内按键有序
}

// NewMemoryBackend 创建内存后端
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		convs: make(map[string][]memoryRow),
	}
}

func (b *MemoryBackend) Name() string { return "memory" }

func (b *MemoryBackend) Insert(_ context.Context, key string, msg *model.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rows := b.convs[msg.ConversationID]
	i := sort.Search(len(rows), func(i int) bool { return rows[i].key >= key })
	if i < len(rows) && rows[i].key == key {
		if sameMessage(rows[i].msg, msg) {
			return ErrDuplicate
		}
		return ErrKeyConflict
	}

	rows = append(rows, memoryRow{})
	copy(rows[i+1:], rows[i:])
	rows[i] = memoryRow{key: key, msg: msg.Clone()}
	b.convs[msg.ConversationID] = rows
	return nil
}

func (b *MemoryBackend) UpdateStatus(_ context.Context, conversationID, key string, status model.MessageStatus, updateTime int64) error {
	return b.update(conversationID, key, func(m *model.Message) {
		m.Status = status
		m.UpdateTime = updateTime
	})
}

func (b *MemoryBackend) UpdateWithdrawn(_ context.Context, conversationID, key string, withdrawn bool, updateTime int64) error {
	return b.update(conversationID, key, func(m *model.Message) {
		m.Withdrawn = withdrawn
		m.UpdateTime = updateTime
	})
}

func (b *MemoryBackend) update(conversationID, key string, fn func(*model.Message)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	row, ok := b.find(conversationID, key)
	if !ok {
		return ErrNotFound
	}
	// 复制后替换，已返回给调用方的消息不受影响
	updated := row.msg.Clone()
	fn(updated)
	row.msg = updated
	return nil
}

func (b *MemoryBackend) find(conversationID, key string) (*memoryRow, bool) {
	rows := b.convs[conversationID]
	i := sort.Search(len(rows), func(i int) bool { return rows[i].key >= key })
	if i < len(rows) && rows[i].key == key {
		return &rows[i], true
	}
	return nil, false
}

func (b *MemoryBackend) Get(_ context.Context, conversationID, key string) (*model.Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	row, ok := b.find(conversationID, key)
	if !ok {
		return nil, ErrNotFound
	}
	return row.msg.Clone(), nil
}

func (b *MemoryBackend) BatchGet(_ context.Context, conversationID string, keys []string) (map[string]*model.Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make(map[string]*model.Message, len(keys))
	for _, key := range keys {
		conv := conversationID
		if conv == "" {
			c, _, ok := rowkey.DecodeLenient(key)
			if !ok {
				continue
			}
			conv = c
		}
		if row, ok := b.find(conv, key); ok {
			result[key] = row.msg.Clone()
		}
	}
	return result, nil
}

func (b *MemoryBackend) Scan(_ context.Context, conversationID string, r KeyRange, limit int, reverse bool) ([]*model.Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rows := b.convs[conversationID]
	lo := sort.Search(len(rows), func(i int) bool { return rows[i].key >= r.Start })
	hi := sort.Search(len(rows), func(i int) bool { return rows[i].key >= r.End })

	out := make([]*model.Message, 0, min(limit, max(hi-lo, 0)))
	if reverse {
		for i := hi - 1; i >= lo && len(out) < limit; i-- {
			out = append(out, rows[i].msg.Clone())
		}
	} else {
		for i := lo; i < hi && len(out) < limit; i++ {
			out = append(out, rows[i].msg.Clone())
		}
	}
	return out, nil
}

func (b *MemoryBackend) Ping(context.Context) error { return nil }

func (b *MemoryBackend) Close(context.Context) error { return nil }
