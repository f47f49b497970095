package msglog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gocql/gocql"

	"sudooom.im.message/internal/config"
	"sudooom.im.message/internal/model"
	"sudooom.im.message/internal/rowkey"
)

// 以会话 ID 为分区键、编码键为聚簇列，同一会话的消息在分区内按时间有序
const cassandraSchema = `
CREATE TABLE IF NOT EXISTS messages (
	conversation_id text,
	row_key         text,
	message_id      text,
	sender_id       bigint,
	recipient_id    bigint,
	format          int,
	content         text,
	create_time     bigint,
	status          int,
	withdrawn       boolean,
	update_time     bigint,
	PRIMARY KEY ((conversation_id), row_key)
) WITH CLUSTERING ORDER BY (row_key ASC)`

const cassandraColumns = `row_key, conversation_id, message_id, sender_id, recipient_id, format, content, create_time, status, withdrawn, update_time`

// CassandraBackend 宽表后端
type CassandraBackend struct {
	session *gocql.Session
	logger  *slog.Logger
}

// NewCassandraBackend 连接 Cassandra
func NewCassandraBackend(ctx context.Context, cfg config.CassandraConfig) (*CassandraBackend, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
		cluster.ConnectTimeout = cfg.Timeout
	}
	if cfg.NumConns > 0 {
		cluster.NumConns = cfg.NumConns
	}
	if cfg.Consistency != "" {
		consistency, err := gocql.ParseConsistencyWrapper(cfg.Consistency)
		if err != nil {
			return nil, fmt.Errorf("cassandra: %w", err)
		}
		cluster.Consistency = consistency
	}
	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("cassandra: create session: %w", err)
	}

	b := &CassandraBackend{
		session: session,
		logger:  slog.Default(),
	}

	if cfg.CreateSchema {
		if err := session.Query(cassandraSchema).WithContext(ctx).Exec(); err != nil {
			session.Close()
			return nil, fmt.Errorf("cassandra: create table: %w", err)
		}
	}

	return b, nil
}

func (b *CassandraBackend) Name() string { return "cassandra" }

// Insert 使用轻量级事务保证不会覆盖已存在的键
func (b *CassandraBackend) Insert(ctx context.Context, key string, msg *model.Message) error {
	query := `INSERT INTO messages (` + cassandraColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`

	existing := make(map[string]interface{})
	applied, err := b.session.Query(query,
		key,
		msg.ConversationID,
		msg.MessageID,
		msg.SenderID,
		msg.RecipientID,
		int(msg.Format),
		msg.Content,
		msg.CreateTime,
		int(msg.Status),
		msg.Withdrawn,
		msg.UpdateTime,
	).WithContext(ctx).MapScanCAS(existing)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}

	sender, _ := existing["sender_id"].(int64)
	createTime, _ := existing["create_time"].(int64)
	if sender == msg.SenderID && createTime == msg.CreateTime {
		return ErrDuplicate
	}
	return ErrKeyConflict
}

func (b *CassandraBackend) UpdateStatus(ctx context.Context, conversationID, key string, status model.MessageStatus, updateTime int64) error {
	query := `UPDATE messages SET status = ?, update_time = ?
		WHERE conversation_id = ? AND row_key = ? IF EXISTS`
	return b.casUpdate(ctx, query, int(status), updateTime, conversationID, key)
}

func (b *CassandraBackend) UpdateWithdrawn(ctx context.Context, conversationID, key string, withdrawn bool, updateTime int64) error {
	query := `UPDATE messages SET withdrawn = ?, update_time = ?
		WHERE conversation_id = ? AND row_key = ? IF EXISTS`
	return b.casUpdate(ctx, query, withdrawn, updateTime, conversationID, key)
}

func (b *CassandraBackend) casUpdate(ctx context.Context, query string, args ...interface{}) error {
	applied, err := b.session.Query(query, args...).WithContext(ctx).MapScanCAS(make(map[string]interface{}))
	if err != nil {
		return err
	}
	if !applied {
		return ErrNotFound
	}
	return nil
}

func (b *CassandraBackend) Get(ctx context.Context, conversationID, key string) (*model.Message, error) {
	query := `SELECT ` + cassandraColumns + ` FROM messages
		WHERE conversation_id = ? AND row_key = ?`

	var row cassandraRow
	err := b.session.Query(query, conversationID, key).WithContext(ctx).Scan(row.dest()...)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.message(), nil
}

// BatchGet 同一分区内使用 IN 查询；无法确定分区的键在宽表中无法定位，直接跳过
func (b *CassandraBackend) BatchGet(ctx context.Context, conversationID string, keys []string) (map[string]*model.Message, error) {
	result := make(map[string]*model.Message, len(keys))
	if conversationID == "" {
		b.logger.Warn("Skipping keys without partition", "keys", len(keys))
		return result, nil
	}

	query := `SELECT ` + cassandraColumns + ` FROM messages
		WHERE conversation_id = ? AND row_key IN ?`

	iter := b.session.Query(query, conversationID, keys).WithContext(ctx).Iter()
	var row cassandraRow
	for iter.Scan(row.dest()...) {
		result[row.rowKey] = row.message()
		row = cassandraRow{}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return result, nil
}

func (b *CassandraBackend) Scan(ctx context.Context, conversationID string, r KeyRange, limit int, reverse bool) ([]*model.Message, error) {
	order := "ASC"
	if reverse {
		order = "DESC"
	}
	query := `SELECT ` + cassandraColumns + ` FROM messages
		WHERE conversation_id = ? AND row_key >= ? AND row_key < ?
		ORDER BY row_key ` + order + ` LIMIT ?`

	iter := b.session.Query(query, conversationID, r.Start, r.End, limit).
		WithContext(ctx).
		PageSize(limit).
		Iter()

	out := make([]*model.Message, 0, limit)
	var row cassandraRow
	for iter.Scan(row.dest()...) {
		out = append(out, row.message())
		row = cassandraRow{}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *CassandraBackend) Ping(ctx context.Context) error {
	return b.session.Query(`SELECT release_version FROM system.local`).WithContext(ctx).Exec()
}

func (b *CassandraBackend) Close(context.Context) error {
	b.session.Close()
	return nil
}

// cassandraRow 扫描目标
type cassandraRow struct {
	rowKey         string
	conversationID string
	messageID      string
	senderID       int64
	recipientID    int64
	format         int
	content        string
	createTime     int64
	status         int
	withdrawn      bool
	updateTime     int64
}

func (r *cassandraRow) dest() []interface{} {
	return []interface{}{
		&r.rowKey,
		&r.conversationID,
		&r.messageID,
		&r.senderID,
		&r.recipientID,
		&r.format,
		&r.content,
		&r.createTime,
		&r.status,
		&r.withdrawn,
		&r.updateTime,
	}
}

func (r *cassandraRow) message() *model.Message {
	messageID := r.messageID
	if messageID == "" {
		// 早期数据没有 message_id 列，从键中解析，失败则整个键作为 ID
		_, messageID, _ = rowkey.DecodeLenient(r.rowKey)
	}
	return &model.Message{
		ConversationID: r.conversationID,
		MessageID:      messageID,
		SenderID:       r.senderID,
		RecipientID:    r.recipientID,
		Format:         model.MessageFormat(r.format),
		Content:        r.content,
		CreateTime:     r.createTime,
		Status:         model.MessageStatus(r.status),
		Withdrawn:      r.withdrawn,
		UpdateTime:     r.updateTime,
	}
}
