package msglog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"sudooom.im.message/internal/config"
	"sudooom.im.message/internal/model"
	"sudooom.im.message/internal/rowkey"
)

// mongoMessage 消息文档，_id 为编码键，conversation_id 为分片键
type mongoMessage struct {
	ID             string `bson:"_id"`
	ConversationID string `bson:"conversation_id"`
	MessageID      string `bson:"message_id"`
	SenderID       int64  `bson:"sender_id"`
	RecipientID    int64  `bson:"recipient_id"`
	Format         int    `bson:"format"`
	Content        string `bson:"content"`
	CreateTime     int64  `bson:"create_time"`
	Status         int    `bson:"status"`
	Withdrawn      bool   `bson:"withdrawn"`
	UpdateTime     int64  `bson:"update_time,omitempty"`
}

func newMongoMessage(key string, msg *model.Message) *mongoMessage {
	return &mongoMessage{
		ID:             key,
		ConversationID: msg.ConversationID,
		MessageID:      msg.MessageID,
		SenderID:       msg.SenderID,
		RecipientID:    msg.RecipientID,
		Format:         int(msg.Format),
		Content:        msg.Content,
		CreateTime:     msg.CreateTime,
		Status:         int(msg.Status),
		Withdrawn:      msg.Withdrawn,
		UpdateTime:     msg.UpdateTime,
	}
}

func (d *mongoMessage) message() *model.Message {
	conversationID, messageID := d.ConversationID, d.MessageID
	if messageID == "" {
		// 早期文档没有 message_id 字段，从 _id 中解析，失败则整个 _id 作为 ID
		conv, id, ok := rowkey.DecodeLenient(d.ID)
		if ok && conversationID == "" {
			conversationID = conv
		}
		messageID = id
	}
	return &model.Message{
		ConversationID: conversationID,
		MessageID:      messageID,
		SenderID:       d.SenderID,
		RecipientID:    d.RecipientID,
		Format:         model.MessageFormat(d.Format),
		Content:        d.Content,
		CreateTime:     d.CreateTime,
		Status:         model.MessageStatus(d.Status),
		Withdrawn:      d.Withdrawn,
		UpdateTime:     d.UpdateTime,
	}
}

// MongoBackend 文档后端
type MongoBackend struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *slog.Logger
}

// NewMongoBackend 连接 MongoDB 并确保索引存在
func NewMongoBackend(ctx context.Context, cfg config.MongoConfig) (*MongoBackend, error) {
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	if cfg.Timeout > 0 {
		opts.SetTimeout(cfg.Timeout)
	}

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo: ping: %w", err)
	}

	b := &MongoBackend{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		logger:     slog.Default(),
	}

	if err := b.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return b, nil
}

func (b *MongoBackend) ensureIndexes(ctx context.Context) error {
	_, err := b.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("mongo: create indexes: %w", err)
	}
	return nil
}

func (b *MongoBackend) Name() string { return "mongo" }

func (b *MongoBackend) Insert(ctx context.Context, key string, msg *model.Message) error {
	if msg.ConversationID == "" {
		return fmt.Errorf("mongo: shard key conversation_id is required")
	}

	_, err := b.collection.InsertOne(ctx, newMongoMessage(key, msg))
	if err == nil {
		return nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return err
	}

	var existing mongoMessage
	if err := b.collection.FindOne(ctx, bson.M{
		"conversation_id": msg.ConversationID,
		"_id":             key,
	}).Decode(&existing); err != nil {
		return err
	}
	if existing.SenderID == msg.SenderID && existing.CreateTime == msg.CreateTime {
		return ErrDuplicate
	}
	return ErrKeyConflict
}

func (b *MongoBackend) UpdateStatus(ctx context.Context, conversationID, key string, status model.MessageStatus, updateTime int64) error {
	return b.updateFields(ctx, conversationID, key, bson.M{
		"status":      int(status),
		"update_time": updateTime,
	})
}

func (b *MongoBackend) UpdateWithdrawn(ctx context.Context, conversationID, key string, withdrawn bool, updateTime int64) error {
	return b.updateFields(ctx, conversationID, key, bson.M{
		"withdrawn":   withdrawn,
		"update_time": updateTime,
	})
}

func (b *MongoBackend) updateFields(ctx context.Context, conversationID, key string, fields bson.M) error {
	res, err := b.collection.UpdateOne(ctx, bson.M{
		"conversation_id": conversationID,
		"_id":             key,
	}, bson.M{"$set": fields})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *MongoBackend) Get(ctx context.Context, conversationID, key string) (*model.Message, error) {
	var doc mongoMessage
	err := b.collection.FindOne(ctx, bson.M{
		"conversation_id": conversationID,
		"_id":             key,
	}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return doc.message(), nil
}

// BatchGet 未提供分片键时退化为跨分片广播查询，结果正确但代价高
func (b *MongoBackend) BatchGet(ctx context.Context, conversationID string, keys []string) (map[string]*model.Message, error) {
	filter := bson.M{"_id": bson.M{"$in": keys}}
	if conversationID != "" {
		filter["conversation_id"] = conversationID
	} else {
		b.logger.Warn("Batch get without shard key, broadcasting to all shards", "keys", len(keys))
	}

	cursor, err := b.collection.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	var docs []mongoMessage
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	result := make(map[string]*model.Message, len(docs))
	for i := range docs {
		result[docs[i].ID] = docs[i].message()
	}
	return result, nil
}

func (b *MongoBackend) Scan(ctx context.Context, conversationID string, r KeyRange, limit int, reverse bool) ([]*model.Message, error) {
	order := 1
	if reverse {
		order = -1
	}

	filter := bson.M{
		"conversation_id": conversationID,
		"_id":             bson.M{"$gte": r.Start, "$lt": r.End},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: order}}).
		SetLimit(int64(limit))

	cursor, err := b.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []mongoMessage
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	out := make([]*model.Message, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].message())
	}
	return out, nil
}

func (b *MongoBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx, nil)
}

func (b *MongoBackend) Close(ctx context.Context) error {
	return b.client.Disconnect(ctx)
}
