// Package unread 维护每个 (用户, 会话) 的未读计数。
//
// 每个会话一个 Redis Hash，各自独立过期：
//
//	im:unread:{userId}:{conversationId}
//	  unread    未读数，HINCRBY 原子递增
//	  clear_ts  最近一次清零时间（毫秒）
//
// 另有用户维度的 ZSET 索引记录会话最近写入时间，供 GetAllForUser 读取：
//
//	im:unread:idx:{userId}  member=conversationId score=最近写入时间（毫秒）
//
// Key 中的 {userId} 是 Cluster hash tag，同一用户的计数与索引落在同一个槽。
// 递增前比较消息创建时间与清零时间，创建时间不晚于清零时间的消息不再计入未读，比较与递增在同一个脚本中完成。
package unread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"sudooom.im.message/internal/metrics"
	appErrors "sudooom.im.message/pkg/errors"
)

const (
	// KeyPrefix 未读计数 Redis Key 前缀
	KeyPrefix = "im:unread:"
	// IndexKeyPrefix 用户会话索引 Key 前缀
	IndexKeyPrefix = "im:unread:idx:"

	unreadField  = "unread"
	clearTsField = "clear_ts"

	// DefaultTTL 闲置过期时间
	DefaultTTL = 30 * 24 * time.Hour
)

// BuildUnreadKey 构建会话未读计数 Key
func BuildUnreadKey(userID int64, conversationID string) string {
	return fmt.Sprintf("%s{%d}:%s", KeyPrefix, userID, conversationID)
}

// BuildIndexKey 构建用户会话索引 Key
func BuildIndexKey(userID int64) string {
	return fmt.Sprintf("%s{%d}", IndexKeyPrefix, userID)
}

// KEYS[1] 计数 Key，KEYS[2] 索引 Key
// ARGV: createTime, delta, ttl(ms), now(ms), conversationId
// 返回 {是否递增, 当前未读数}
var incrementScript = redis.NewScript(`
local clearTs = tonumber(redis.call('HGET', KEYS[1], 'clear_ts') or '0') or 0
if clearTs > 0 and tonumber(ARGV[1]) <= clearTs then
  return {0, tonumber(redis.call('HGET', KEYS[1], 'unread') or '0') or 0}
end
local count = redis.call('HINCRBY', KEYS[1], 'unread', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[5])
redis.call('PEXPIRE', KEYS[2], ARGV[3])
return {1, count}
`)

// Store 未读计数存储
type Store struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewStore 创建未读计数存储
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		client: client,
		ttl:    ttl,
		logger: slog.Default(),
		now:    time.Now,
	}
}

// IncrementIfFresh 消息创建时间晚于最近清零时间时递增未读数，返回递增后的值；
// 否则不递增，返回当前值
func (s *Store) IncrementIfFresh(ctx context.Context, userID int64, conversationID string, createTime int64, delta int64) (int64, error) {
	if conversationID == "" || delta <= 0 {
		return 0, appErrors.ErrInvalidParams
	}

	res, err := incrementScript.Run(ctx, s.client,
		[]string{BuildUnreadKey(userID, conversationID), BuildIndexKey(userID)},
		createTime, delta, s.ttl.Milliseconds(), s.now().UnixMilli(), conversationID,
	).Int64Slice()
	if err != nil {
		return 0, err
	}
	if len(res) != 2 {
		return 0, fmt.Errorf("unexpected unread script reply: %v", res)
	}

	if res[0] == 0 {
		metrics.UnreadIncrementsTotal.WithLabelValues("stale").Inc()
		s.logger.Debug("Skip stale unread increment",
			"userId", userID,
			"conversationId", conversationID,
			"createTime", createTime)
		return max(res[1], 0), nil
	}

	metrics.UnreadIncrementsTotal.WithLabelValues("applied").Inc()
	return res[1], nil
}

// Clear 清零并记录清零时间
func (s *Store) Clear(ctx context.Context, userID int64, conversationID string) error {
	now := s.now().UnixMilli()
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, BuildUnreadKey(userID, conversationID),
			unreadField, 0,
			clearTsField, now,
		)
		s.touch(ctx, pipe, userID, conversationID, now)
		return nil
	})
	return err
}

// Set 直接设置未读数，负数按 0 处理
func (s *Store) Set(ctx context.Context, userID int64, conversationID string, count int64) error {
	now := s.now().UnixMilli()
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, BuildUnreadKey(userID, conversationID), unreadField, max(count, 0))
		s.touch(ctx, pipe, userID, conversationID, now)
		return nil
	})
	return err
}

// touch 刷新计数与索引的过期时间，并记录会话最近写入时间
func (s *Store) touch(ctx context.Context, pipe redis.Pipeliner, userID int64, conversationID string, now int64) {
	indexKey := BuildIndexKey(userID)
	pipe.PExpire(ctx, BuildUnreadKey(userID, conversationID), s.ttl)
	pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(now), Member: conversationID})
	pipe.PExpire(ctx, indexKey, s.ttl)
}

// Get 获取未读数，不存在时为 0
func (s *Store) Get(ctx context.Context, userID int64, conversationID string) (int64, error) {
	count, err := s.client.HGet(ctx, BuildUnreadKey(userID, conversationID), unreadField).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return max(count, 0), nil
}

// GetAllForUser 获取用户所有未过期会话的未读数，顺带清理索引中已过期的会话
func (s *Store) GetAllForUser(ctx context.Context, userID int64) (map[string]int64, error) {
	indexKey := BuildIndexKey(userID)
	cutoff := s.now().Add(-s.ttl).UnixMilli()

	if err := s.client.ZRemRangeByScore(ctx, indexKey, "-inf", "("+strconv.FormatInt(cutoff, 10)).Err(); err != nil {
		return nil, err
	}
	conversations, err := s.client.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(conversations))
	if len(conversations) == 0 {
		return counts, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(conversations))
	for i, conversationID := range conversations {
		cmds[i] = pipe.HGet(ctx, BuildUnreadKey(userID, conversationID), unreadField)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var expired []any
	for i, cmd := range cmds {
		conversationID := conversations[i]
		value, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			expired = append(expired, conversationID)
			continue
		}
		if err != nil {
			return nil, err
		}
		count, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			s.logger.Warn("Invalid unread count", "userId", userID, "conversationId", conversationID, "value", value)
			continue
		}
		counts[conversationID] = max(count, 0)
	}

	if len(expired) > 0 {
		if err := s.client.ZRem(ctx, indexKey, expired...).Err(); err != nil {
			s.logger.Warn("Failed to prune unread index", "userId", userID, "error", err)
		}
	}
	return counts, nil
}

// Delete 删除会话的未读计数与清零时间
func (s *Store) Delete(ctx context.Context, userID int64, conversationID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, BuildUnreadKey(userID, conversationID))
		pipe.ZRem(ctx, BuildIndexKey(userID), conversationID)
		return nil
	})
	return err
}
