// Package syncer 把消息变更事件异步投递到 NATS，供下游搜索索引同步使用。
//
// 写路径只保证事件入队，不等待投递；同一会话的事件按会话 ID 路由到固定分区 subject。
package syncer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"sudooom.im.message/internal/config"
	"sudooom.im.message/internal/metrics"
	"sudooom.im.message/internal/model"
)

// Publisher 消息总线发布接口，*nats.Conn 满足该接口
type Publisher interface {
	Publish(subject string, data []byte) error
}

// PartitionOf 按会话 ID 计算分区
func PartitionOf(conversationID string, partitions int) int {
	if partitions <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(conversationID) % uint64(partitions))
}

// BuildSubject 构建分区 subject: {prefix}.{partition}
func BuildSubject(prefix, conversationID string, partitions int) string {
	return fmt.Sprintf("%s.%d", prefix, PartitionOf(conversationID, partitions))
}

// Emitter 异步同步事件发送器
type Emitter struct {
	pub            Publisher
	prefix         string
	partitions     int
	enqueueTimeout time.Duration
	queue          chan *model.SyncEvent
	done           chan struct{}
	mu             sync.RWMutex
	closed         bool
	dropped        atomic.Int64
	wg             sync.WaitGroup
	logger         *slog.Logger
}

// NewEmitter 创建同步事件发送器
func NewEmitter(pub Publisher, cfg config.SyncConfig) *Emitter {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "im.sync.message"
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = 16
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 10000
	}

	return &Emitter{
		pub:            pub,
		prefix:         cfg.SubjectPrefix,
		partitions:     cfg.Partitions,
		enqueueTimeout: cfg.EnqueueTimeout,
		queue:          make(chan *model.SyncEvent, cfg.BufferSize),
		done:           make(chan struct{}),
		logger:         slog.Default(),
	}
}

// Start 启动后台投递协程
func (e *Emitter) Start() {
	e.wg.Add(1)
	go e.run()
	e.logger.Info("Sync emitter started",
		"subjectPrefix", e.prefix,
		"partitions", e.partitions,
		"bufferSize", cap(e.queue))
}

// Emit 事件入队；队列满时最多等待 enqueueTimeout，仍无空位则丢弃
// 入队全程持有读锁，Stop 之后到达的事件一律走丢弃路径
func (e *Emitter) Emit(event *model.SyncEvent) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.drop(event, "stopped")
		return
	}

	select {
	case e.queue <- event:
		metrics.SyncQueueLength.Set(float64(len(e.queue)))
		return
	default:
	}

	e.logger.Warn("Sync queue full, waiting", "conversationId", event.ConversationID, "bufferSize", cap(e.queue))
	if e.enqueueTimeout <= 0 {
		e.drop(event, "queue_full")
		return
	}

	timer := time.NewTimer(e.enqueueTimeout)
	defer timer.Stop()

	select {
	case e.queue <- event:
	case <-timer.C:
		e.drop(event, "queue_full")
	}
}

func (e *Emitter) drop(event *model.SyncEvent, reason string) {
	e.dropped.Add(1)
	metrics.SyncEventsTotal.WithLabelValues(string(event.Operation), "dropped").Inc()
	e.logger.Warn("Sync event dropped",
		"reason", reason,
		"operation", event.Operation,
		"conversationId", event.ConversationID,
		"messageId", event.MessageID)
}

func (e *Emitter) run() {
	defer e.wg.Done()

	for {
		select {
		case event := <-e.queue:
			e.publish(event)
		case <-e.done:
			// 投递剩余事件后退出
			for {
				select {
				case event := <-e.queue:
					e.publish(event)
				default:
					return
				}
			}
		}
	}
}

func (e *Emitter) publish(event *model.SyncEvent) {
	metrics.SyncQueueLength.Set(float64(len(e.queue)))

	data, err := json.Marshal(event)
	if err != nil {
		metrics.SyncEventsTotal.WithLabelValues(string(event.Operation), "error").Inc()
		e.logger.Error("Failed to marshal sync event", "error", err)
		return
	}

	subject := BuildSubject(e.prefix, event.ConversationID, e.partitions)
	if err := e.pub.Publish(subject, data); err != nil {
		metrics.SyncEventsTotal.WithLabelValues(string(event.Operation), "error").Inc()
		e.logger.Error("Failed to publish sync event",
			"subject", subject,
			"conversationId", event.ConversationID,
			"messageId", event.MessageID,
			"error", err)
		return
	}

	metrics.SyncEventsTotal.WithLabelValues(string(event.Operation), "published").Inc()
}

// Dropped 累计丢弃的事件数
func (e *Emitter) Dropped() int64 {
	return e.dropped.Load()
}

// Stop 停止接收新事件，投递完队列中剩余事件后返回
func (e *Emitter) Stop() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.done)
	}
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Info("Sync emitter stopped")
}
