package msglog

import (
	"context"
	"log/slog"
	"time"

	"sudooom.im.message/internal/metrics"
	"sudooom.im.message/internal/model"
	"sudooom.im.message/internal/rowkey"
	"sudooom.im.message/internal/workerpool"
	appErrors "sudooom.im.message/pkg/errors"
)

// EventSink 变更事件接收方，Emit 只负责入队，不等待投递
type EventSink interface {
	Emit(event *model.SyncEvent)
}

// Options 批量查询参数
type Options struct {
	SequentialMax     int           // 不超过该数量时顺序查询
	PooledMax         int           // 不超过该数量时全部提交到 worker pool
	ChunkSize         int           // 超过 PooledMax 时的分块大小
	MaxParallelChunks int           // 同时处理的分块数
	ItemTimeout       time.Duration // 单个会话查询超时，0 表示不限
}

// DefaultOptions 默认批量查询参数
func DefaultOptions() Options {
	return Options{
		SequentialMax:     5,
		PooledMax:         50,
		ChunkSize:         20,
		MaxParallelChunks: 16,
	}
}

// Store 消息日志存储
type Store struct {
	backend Backend
	pool    *workerpool.Pool
	sink    EventSink
	opts    Options
	logger  *slog.Logger
	now     func() int64
}

// NewStore 创建消息日志存储
func NewStore(backend Backend, pool *workerpool.Pool, sink EventSink, opts Options) *Store {
	def := DefaultOptions()
	if opts.SequentialMax <= 0 {
		opts.SequentialMax = def.SequentialMax
	}
	if opts.PooledMax < opts.SequentialMax {
		opts.PooledMax = def.PooledMax
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.MaxParallelChunks <= 0 {
		opts.MaxParallelChunks = def.MaxParallelChunks
	}

	return &Store{
		backend: backend,
		pool:    pool,
		sink:    sink,
		opts:    opts,
		logger:  slog.Default().With("backend", backend.Name()),
		now:     func() int64 { return time.Now().UnixMilli() },
	}
}

// Backend 返回当前后端
func (s *Store) Backend() Backend {
	return s.backend
}

// Ping 检查后端连通性
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Append 追加消息
// 同一条消息重复投递时返回 ErrDuplicate，不再发出同步事件，调用方按成功处理且不应重复计数
func (s *Store) Append(ctx context.Context, msg *model.Message) error {
	if msg == nil {
		return ErrInvalidParams
	}
	key, err := rowkey.Encode(msg.ConversationID, msg.MessageID)
	if err != nil {
		return ErrInvalidParams.Wrap(err)
	}
	if !msg.Status.Valid() {
		msg.Status = model.MessageStatusSent
	}

	if err := s.backend.Insert(ctx, key, msg); err != nil {
		if appErrors.Is(err, ErrDuplicate) {
			s.observe("append", nil)
			s.logger.Debug("Duplicate message delivery ignored", "key", key, "senderId", msg.SenderID)
			return err
		}
		s.observe("append", err)
		if appErrors.Is(err, ErrKeyConflict) {
			s.logger.Warn("Message key conflict", "key", key, "senderId", msg.SenderID)
			return err
		}
		s.logger.Error("Failed to append message", "key", key, "error", err)
		return ErrStoreUnavailable.Wrap(err)
	}
	s.observe("append", nil)

	s.emit(&model.SyncEvent{
		Operation:      model.SyncOperationCreate,
		ConversationID: msg.ConversationID,
		MessageID:      msg.MessageID,
		Message:        msg.Clone(),
	})
	return nil
}

// UpdateStatus 更新消息投递状态
func (s *Store) UpdateStatus(ctx context.Context, conversationID, messageID string, status model.MessageStatus) error {
	if !status.Valid() {
		return ErrInvalidParams
	}
	key, err := rowkey.Encode(conversationID, messageID)
	if err != nil {
		return ErrInvalidParams.Wrap(err)
	}

	if err := s.backend.UpdateStatus(ctx, conversationID, key, status, s.now()); err != nil {
		return s.updateFailed("update_status", key, err)
	}
	s.observe("update_status", nil)

	s.emit(&model.SyncEvent{
		Operation:      model.SyncOperationUpdateStatus,
		ConversationID: conversationID,
		MessageID:      messageID,
		Fields:         &model.ChangedFields{Status: &status},
	})
	return nil
}

// UpdateWithdrawn 更新撤回标记
func (s *Store) UpdateWithdrawn(ctx context.Context, conversationID, messageID string, withdrawn bool) error {
	key, err := rowkey.Encode(conversationID, messageID)
	if err != nil {
		return ErrInvalidParams.Wrap(err)
	}

	if err := s.backend.UpdateWithdrawn(ctx, conversationID, key, withdrawn, s.now()); err != nil {
		return s.updateFailed("update_withdrawn", key, err)
	}
	s.observe("update_withdrawn", nil)

	s.emit(&model.SyncEvent{
		Operation:      model.SyncOperationUpdateWithdraw,
		ConversationID: conversationID,
		MessageID:      messageID,
		Fields:         &model.ChangedFields{Withdrawn: &withdrawn},
	})
	return nil
}

func (s *Store) updateFailed(op, key string, err error) error {
	if appErrors.Is(err, ErrNotFound) {
		s.observe(op, nil)
		return err
	}
	s.observe(op, err)
	s.logger.Error("Failed to update message", "operation", op, "key", key, "error", err)
	return ErrStoreUnavailable.Wrap(err)
}

// GetByID 按 ID 获取消息
func (s *Store) GetByID(ctx context.Context, conversationID, messageID string) (*model.Message, error) {
	key, err := rowkey.Encode(conversationID, messageID)
	if err != nil {
		return nil, ErrInvalidParams.Wrap(err)
	}

	msg, err := s.backend.Get(ctx, conversationID, key)
	if err != nil {
		if appErrors.Is(err, ErrNotFound) {
			return nil, err
		}
		s.observe("get", err)
		return nil, ErrStoreUnavailable.Wrap(err)
	}
	s.observe("get", nil)
	return msg, nil
}

// BatchGetByKeys 批量按键获取消息，不存在或查询失败的键不出现在结果中
func (s *Store) BatchGetByKeys(ctx context.Context, keys []string) map[string]*model.Message {
	groups := make(map[string][]string)
	order := make([]string, 0)
	seen := make(map[string]struct{}, len(keys))

	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		conv, _, err := rowkey.Decode(key)
		if err != nil {
			s.logger.Warn("Malformed message key in batch", "key", key)
			conv = ""
		}
		if _, ok := groups[conv]; !ok {
			order = append(order, conv)
		}
		groups[conv] = append(groups[conv], key)
	}

	result := make(map[string]*model.Message, len(seen))
	for _, conv := range order {
		found, err := s.backend.BatchGet(ctx, conv, groups[conv])
		if err != nil {
			s.observe("batch_get", err)
			metrics.BatchOmittedTotal.Inc()
			s.logger.Warn("Batch get failed, omitting keys",
				"conversationId", conv,
				"keys", len(groups[conv]),
				"error", err)
			continue
		}
		for k, msg := range found {
			result[k] = msg
		}
	}
	s.observe("batch_get", nil)
	return result
}

// LastMessage 获取会话最后一条消息，会话为空时返回 ErrNotFound
func (s *Store) LastMessage(ctx context.Context, conversationID string) (*model.Message, error) {
	if err := rowkey.ValidateConversationID(conversationID); err != nil {
		return nil, ErrInvalidParams.Wrap(err)
	}

	full := KeyRange{
		Start: rowkey.PrefixOf(conversationID),
		End:   rowkey.UpperBoundOf(conversationID),
	}
	rows, err := s.backend.Scan(ctx, conversationID, full, 1, true)
	if err != nil {
		s.observe("last_message", err)
		return nil, ErrStoreUnavailable.Wrap(err)
	}
	s.observe("last_message", nil)
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

// ScanHistory 游标分页查询历史消息
func (s *Store) ScanHistory(ctx context.Context, q model.HistoryQuery) (*model.HistoryPage, error) {
	if err := rowkey.ValidateConversationID(q.ConversationID); err != nil {
		return nil, ErrInvalidParams.Wrap(err)
	}
	size := NormalizePageSize(q.PageSize)

	r, err := resolveRange(q)
	if err != nil {
		return nil, err
	}
	if r.Empty() {
		return &model.HistoryPage{Messages: []*model.Message{}}, nil
	}

	rows, err := s.backend.Scan(ctx, q.ConversationID, r, size+1, q.Reverse)
	if err != nil {
		s.observe("scan", err)
		s.logger.Error("Failed to scan history", "conversationId", q.ConversationID, "error", err)
		return nil, ErrStoreUnavailable.Wrap(err)
	}
	s.observe("scan", nil)

	page := &model.HistoryPage{Messages: rows}
	if len(rows) > size {
		page.Messages = rows[:size]
		page.HasMore = true
		page.NextCursor = page.Messages[size-1].MessageID
	}
	if page.Messages == nil {
		page.Messages = []*model.Message{}
	}
	return page, nil
}

func (s *Store) emit(event *model.SyncEvent) {
	if s.sink == nil {
		return
	}
	event.Timestamp = s.now()
	s.sink.Emit(event)
}

func (s *Store) observe(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.StoreOperationsTotal.WithLabelValues(s.backend.Name(), op, status).Inc()
}
