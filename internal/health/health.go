package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	statusConnected    = "connected"
	statusDisconnected = "disconnected"

	checkTimeout = 2 * time.Second
)

// Status 健康状态
type Status struct {
	NATS         string `json:"nats"`
	Redis        string `json:"redis"`
	Database     string `json:"database"`
	MessageStore string `json:"messageStore"`
}

func (s *Status) healthy() bool {
	return s.NATS == statusConnected &&
		s.Redis == statusConnected &&
		s.Database == statusConnected &&
		s.MessageStore == statusConnected
}

// Connection NATS 连接状态，*nats.Conn 满足
type Connection interface {
	IsConnected() bool
}

// Pinger 可探活的依赖，*pgxpool.Pool 与 *msglog.Store 满足
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker 健康检查器
type Checker struct {
	nc           Connection
	redisClient  *redis.Client
	db           Pinger
	messageStore Pinger
}

// NewChecker 创建健康检查器
func NewChecker(nc Connection, redisClient *redis.Client, db Pinger, messageStore Pinger) *Checker {
	return &Checker{
		nc:           nc,
		redisClient:  redisClient,
		db:           db,
		messageStore: messageStore,
	}
}

// Check 执行健康检查
func (h *Checker) Check(ctx context.Context) *Status {
	status := &Status{
		NATS:         statusDisconnected,
		Redis:        statusDisconnected,
		Database:     statusDisconnected,
		MessageStore: statusDisconnected,
	}

	if h.nc.IsConnected() {
		status.NATS = statusConnected
	}

	if ping(ctx, func(ctx context.Context) error { return h.redisClient.Ping(ctx).Err() }) {
		status.Redis = statusConnected
	}
	if ping(ctx, h.db.Ping) {
		status.Database = statusConnected
	}
	if ping(ctx, h.messageStore.Ping) {
		status.MessageStore = statusConnected
	}

	return status
}

func ping(ctx context.Context, fn func(context.Context) error) bool {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	return fn(ctx) == nil
}

// IsHealthy 检查是否健康
func (h *Checker) IsHealthy(ctx context.Context) bool {
	return h.Check(ctx).healthy()
}

// ServeHTTP HTTP 健康检查端点
func (h *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if status.healthy() {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}
