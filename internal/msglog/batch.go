package msglog

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"sudooom.im.message/internal/metrics"
	"sudooom.im.message/internal/model"
	appErrors "sudooom.im.message/pkg/errors"
)

const (
	tierSequential = "sequential"
	tierPooled     = "pooled"
	tierChunked    = "chunked"
)

// BatchLastMessages 批量获取会话最后一条消息
//
// 按请求规模选择策略：少量会话顺序查询；中等规模全部提交到 worker pool；
// 大规模按 ChunkSize 分块，块间并发、块内再并发，限制同时在途的查询数。
// 三种策略结果一致。没有消息或查询失败的会话不出现在结果中。
func (s *Store) BatchLastMessages(ctx context.Context, conversationIDs []string) map[string]*model.Message {
	ids := dedupe(conversationIDs)
	if len(ids) == 0 {
		return map[string]*model.Message{}
	}

	var (
		tier    string
		results []*model.Message
		start   = time.Now()
	)

	switch {
	case len(ids) <= s.opts.SequentialMax:
		tier = tierSequential
		results = s.sequentialLastMessages(ctx, ids)
	case len(ids) <= s.opts.PooledMax:
		tier = tierPooled
		results = s.pooledLastMessages(ctx, ids)
	default:
		tier = tierChunked
		results = s.chunkedLastMessages(ctx, ids)
	}

	metrics.BatchLastMessagesTotal.WithLabelValues(tier).Inc()
	metrics.BatchLastMessagesDuration.WithLabelValues(tier).Observe(time.Since(start).Seconds())

	return collect(ids, results)
}

// sequentialLastMessages 顺序查询
func (s *Store) sequentialLastMessages(ctx context.Context, ids []string) []*model.Message {
	results := make([]*model.Message, len(ids))
	for i, id := range ids {
		results[i] = s.lookupLast(ctx, id)
	}
	return results
}

// pooledLastMessages 全部提交到 worker pool，等待全部完成
func (s *Store) pooledLastMessages(ctx context.Context, ids []string) []*model.Message {
	results := make([]*model.Message, len(ids))
	s.fanOut(ctx, ids, results)
	return results
}

// chunkedLastMessages 分块两级并发
// 块级并发使用独立协程而非 pool worker，避免块任务占满 worker 后等待自身提交的查询
func (s *Store) chunkedLastMessages(ctx context.Context, ids []string) []*model.Message {
	results := make([]*model.Message, len(ids))

	var g errgroup.Group
	g.SetLimit(s.opts.MaxParallelChunks)

	for lo := 0; lo < len(ids); lo += s.opts.ChunkSize {
		hi := min(lo+s.opts.ChunkSize, len(ids))
		chunk, out := ids[lo:hi], results[lo:hi]
		g.Go(func() error {
			s.fanOut(ctx, chunk, out)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// fanOut 每个查询写入各自的结果槽位，无需加锁
func (s *Store) fanOut(ctx context.Context, ids []string, out []*model.Message) {
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		s.pool.Go(func() {
			defer wg.Done()
			out[i] = s.lookupLast(ctx, id)
		})
	}
	wg.Wait()
}

// lookupLast 单个会话查询，错误记录日志后按缺失处理
func (s *Store) lookupLast(ctx context.Context, conversationID string) *model.Message {
	if s.opts.ItemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ItemTimeout)
		defer cancel()
	}

	msg, err := s.LastMessage(ctx, conversationID)
	if err != nil {
		if !appErrors.Is(err, ErrNotFound) {
			metrics.BatchOmittedTotal.Inc()
			s.logger.Warn("Last message lookup failed, omitting conversation",
				"conversationId", conversationID,
				"error", err)
		}
		return nil
	}
	return msg
}

func collect(ids []string, results []*model.Message) map[string]*model.Message {
	m := make(map[string]*model.Message, len(ids))
	for i, msg := range results {
		if msg != nil {
			m[ids[i]] = msg
		}
	}
	return m
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
