package nats

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"sudooom.im.message/internal/config"
	"sudooom.im.message/internal/model"
	"sudooom.im.message/internal/syncer"
)

// EventHandler 上游消息事件处理器
type EventHandler interface {
	HandleSend(ctx context.Context, msg *model.Message) error
	HandleAck(ctx context.Context, ack *model.AckPayload) error
	HandleWithdraw(ctx context.Context, w *model.WithdrawPayload) error
	HandleRead(ctx context.Context, r *model.ReadPayload) error
}

// EventSubscriber 上游消息事件订阅器
//
// 使用队列组在多个实例间负载均衡。实例内按会话 ID 哈希到固定 worker，
// 同一会话的事件按到达顺序串行处理。worker 队列满时阻塞投递回调，不丢弃事件。
type EventSubscriber struct {
	nc           *nats.Conn
	handler      EventHandler
	cfg          config.SubscriberConfig
	logger       *slog.Logger
	subscription *nats.Subscription
	queues       []chan *model.InboundEvent
	wg           sync.WaitGroup
	mu           sync.RWMutex
	closed       bool
	ctx          context.Context
	cancelFunc   context.CancelFunc
}

// NewEventSubscriber 创建事件订阅器
func NewEventSubscriber(nc *nats.Conn, handler EventHandler, cfg config.SubscriberConfig) *EventSubscriber {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 32
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 10000
	}

	return &EventSubscriber{
		nc:      nc,
		handler: handler,
		cfg:     cfg,
		logger:  slog.Default(),
	}
}

// Start 启动订阅
func (s *EventSubscriber) Start(ctx context.Context) error {
	s.startWorkers(ctx)

	sub, err := s.nc.QueueSubscribe(s.cfg.Subject, s.cfg.QueueGroup, func(msg *nats.Msg) {
		event, ok := s.decode(msg.Data)
		if !ok {
			return
		}
		s.enqueue(event)
	})
	if err != nil {
		s.shutdownWorkers()
		return err
	}

	s.subscription = sub
	s.logger.Info("NATS subscriber started",
		"subject", s.cfg.Subject,
		"queueGroup", s.cfg.QueueGroup,
		"workerCount", s.cfg.WorkerCount,
		"bufferSize", s.cfg.BufferSize,
	)
	return nil
}

func (s *EventSubscriber) startWorkers(ctx context.Context) {
	s.ctx, s.cancelFunc = context.WithCancel(ctx)

	perWorker := max(s.cfg.BufferSize/s.cfg.WorkerCount, 1)
	s.queues = make([]chan *model.InboundEvent, s.cfg.WorkerCount)
	for i := range s.queues {
		s.queues[i] = make(chan *model.InboundEvent, perWorker)
		s.wg.Add(1)
		go s.worker(s.queues[i])
	}
}

// enqueue 按会话路由到 worker，队列满时阻塞等待
// 停止后到达的事件在调用方协程内同步处理
func (s *EventSubscriber) enqueue(event *model.InboundEvent) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		s.handle(context.WithoutCancel(s.ctx), event)
		return
	}
	defer s.mu.RUnlock()

	idx := syncer.PartitionOf(event.ConversationID(), len(s.queues))
	s.queues[idx] <- event
}

// worker 工作协程，队列关闭且排空后退出
func (s *EventSubscriber) worker(queue <-chan *model.InboundEvent) {
	defer s.wg.Done()

	for event := range queue {
		s.handle(s.ctx, event)
	}
}

// Dispatch 解码事件并在当前协程处理
func (s *EventSubscriber) Dispatch(ctx context.Context, data []byte) {
	event, ok := s.decode(data)
	if !ok {
		return
	}
	s.handle(ctx, event)
}

func (s *EventSubscriber) decode(data []byte) (*model.InboundEvent, bool) {
	var event model.InboundEvent
	if err := json.Unmarshal(data, &event); err != nil {
		s.logger.Error("Failed to unmarshal event", "error", err)
		return nil, false
	}
	if event.ConversationID() == "" {
		s.logger.Warn("Unknown inbound event", "type", event.Type)
		return nil, false
	}
	return &event, true
}

func (s *EventSubscriber) handle(ctx context.Context, event *model.InboundEvent) {
	var err error
	switch event.Type {
	case model.InboundEventSend:
		err = s.handler.HandleSend(ctx, event.Send)
	case model.InboundEventAck:
		err = s.handler.HandleAck(ctx, event.Ack)
	case model.InboundEventWithdraw:
		err = s.handler.HandleWithdraw(ctx, event.Withdraw)
	case model.InboundEventRead:
		err = s.handler.HandleRead(ctx, event.Read)
	}

	if err != nil {
		s.logger.Error("Failed to handle inbound event",
			"type", event.Type,
			"conversationId", event.ConversationID(),
			"error", err)
	}
}

// shutdownWorkers 关闭队列并等待 worker 处理完已入队的事件
func (s *EventSubscriber) shutdownWorkers() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, q := range s.queues {
		close(q)
	}
	s.mu.Unlock()

	s.wg.Wait()
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
}

// Stop 停止订阅，已入队的事件处理完后返回
func (s *EventSubscriber) Stop() error {
	if s.subscription != nil {
		if err := s.subscription.Unsubscribe(); err != nil {
			s.logger.Error("Failed to unsubscribe", "error", err)
		}
	}

	s.shutdownWorkers()

	s.logger.Info("NATS subscriber stopped")
	return nil
}
