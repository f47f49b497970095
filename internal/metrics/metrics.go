package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 消息存储操作
	StoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "im",
			Subsystem: "message",
			Name:      "store_operations_total",
			Help:      "Total message store operations",
		},
		[]string{"backend", "operation", "status"},
	)

	// 批量获取最后一条消息
	BatchLastMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "im",
			Subsystem: "message",
			Name:      "batch_last_messages_total",
			Help:      "Batch last-message lookups by strategy tier",
		},
		[]string{"tier"},
	)

	BatchLastMessagesDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "im",
			Subsystem: "message",
			Name:      "batch_last_messages_duration_seconds",
			Help:      "Batch last-message lookup duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"tier"},
	)

	// 批量查询中被省略的会话
	BatchOmittedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "im",
			Subsystem: "message",
			Name:      "batch_omitted_total",
			Help:      "Conversations omitted from batch results because of backend errors",
		},
	)

	// 未读计数
	UnreadIncrementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "im",
			Subsystem: "unread",
			Name:      "increments_total",
			Help:      "Unread counter increments by result",
		},
		[]string{"result"},
	)

	// 同步事件
	SyncEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "im",
			Subsystem: "sync",
			Name:      "events_total",
			Help:      "Sync events by operation and result",
		},
		[]string{"operation", "result"},
	)

	SyncQueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "im",
			Subsystem: "sync",
			Name:      "queue_length",
			Help:      "Sync events waiting to be published",
		},
	)

	// 会话列表聚合
	ConversationListDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "im",
			Subsystem: "conversation",
			Name:      "list_build_duration_seconds",
			Help:      "Conversation list aggregation duration in seconds",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)
)
