package unread

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStore(client, 7*24*time.Hour), mr
}

// fixedClock 返回固定毫秒时间
func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func TestIncrementIfFresh_WithoutClear(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		count, err := s.IncrementIfFresh(ctx, 1001, "c1", 10*i, 1)
		require.NoError(t, err)
		assert.Equal(t, i, count)
	}

	count, err := s.Get(ctx, 1001, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	// 每次写入都会刷新闲置过期时间
	assert.Equal(t, 7*24*time.Hour, mr.TTL(BuildUnreadKey(1001, "c1")))
	assert.Equal(t, 7*24*time.Hour, mr.TTL(BuildIndexKey(1001)))
}

func TestIncrementIfFresh_StaleMessageAfterClear(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.IncrementIfFresh(ctx, 1001, "c1", 10, 1)
	require.NoError(t, err)

	s.now = fixedClock(80)
	require.NoError(t, s.Clear(ctx, 1001, "c1"))

	// createTime=50 早于清零时间 80，不计入未读
	count, err := s.IncrementIfFresh(ctx, 1001, "c1", 50, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	all, err := s.GetAllForUser(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"c1": 0}, all)
}

func TestIncrementIfFresh_FencingBoundary(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	s.now = fixedClock(1000)
	require.NoError(t, s.Clear(ctx, 1001, "c1"))

	for _, ts := range []int64{0, 1, 999, 1000} {
		count, err := s.IncrementIfFresh(ctx, 1001, "c1", ts, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(0), count, "createTime=%d", ts)
	}

	count, err := s.IncrementIfFresh(ctx, 1001, "c1", 1001, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = s.IncrementIfFresh(ctx, 1001, "c1", 5000, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestIncrementIfFresh_FenceIsPerConversation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	s.now = fixedClock(1000)
	require.NoError(t, s.Clear(ctx, 1001, "c1"))

	count, err := s.IncrementIfFresh(ctx, 1001, "c2", 500, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = s.IncrementIfFresh(ctx, 1002, "c1", 500, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestIncrementIfFresh_ConcurrentIncrementsAreAtomic(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.IncrementIfFresh(ctx, 1001, "c1", 100, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	count, err := s.Get(ctx, 1001, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), count)
}

func TestIncrementIfFresh_InvalidInput(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.IncrementIfFresh(ctx, 1001, "", 1, 1)
	assert.Error(t, err)

	_, err = s.IncrementIfFresh(ctx, 1001, "c1", 1, 0)
	assert.Error(t, err)

	_, err = s.IncrementIfFresh(ctx, 1001, "c1", 1, -1)
	assert.Error(t, err)
}

func TestCounterNeverNegative(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, 1001, "c1", -5))
	count, err := s.Get(ctx, 1001, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	// 外部写入的负值同样按 0 返回
	mr.HSet(BuildUnreadKey(1001, "c2"), "unread", "-3")
	_, err = mr.ZAdd(BuildIndexKey(1001), float64(time.Now().UnixMilli()), "c2")
	require.NoError(t, err)
	count, err = s.Get(ctx, 1001, "c2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	all, err := s.GetAllForUser(ctx, 1001)
	require.NoError(t, err)
	for conv, c := range all {
		assert.GreaterOrEqual(t, c, int64(0), conv)
	}
}

func TestGet_Missing(t *testing.T) {
	s, _ := newTestStore(t)

	count, err := s.Get(context.Background(), 1001, "nothing")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestGetAllForUser(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, 1001, "c1", 4))
	require.NoError(t, s.Set(ctx, 1001, "group:42", 7))
	require.NoError(t, s.Clear(ctx, 1001, "c3"))
	require.NoError(t, s.Set(ctx, 2002, "c1", 9))
	mr.HSet(BuildUnreadKey(1001, "broken"), "unread", "abc")
	_, err := mr.ZAdd(BuildIndexKey(1001), float64(time.Now().UnixMilli()), "broken")
	require.NoError(t, err)

	all, err := s.GetAllForUser(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"c1": 4, "group:42": 7, "c3": 0}, all)

	empty, err := s.GetAllForUser(ctx, 3003)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDelete(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	s.now = fixedClock(1000)
	require.NoError(t, s.Clear(ctx, 1001, "c1"))
	require.NoError(t, s.Set(ctx, 1001, "c2", 2))

	require.NoError(t, s.Delete(ctx, 1001, "c1"))

	assert.False(t, mr.Exists(BuildUnreadKey(1001, "c1")))
	members, err := mr.ZMembers(BuildIndexKey(1001))
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, members)

	// 删除后清零时间也一起删除，旧消息重新计入
	count, err := s.IncrementIfFresh(ctx, 1001, "c1", 500, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	all, err := s.GetAllForUser(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"c1": 1, "c2": 2}, all)
}

func TestIdleConversationExpiresIndependently(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	start := int64(1_700_000_000_000)
	day := 24 * time.Hour

	s.now = fixedClock(start)
	_, err := s.IncrementIfFresh(ctx, 1001, "idle", start, 1)
	require.NoError(t, err)
	_, err = s.IncrementIfFresh(ctx, 1001, "active", start, 1)
	require.NoError(t, err)

	// 6 天后只有 active 有新消息
	mr.FastForward(6 * day)
	s.now = fixedClock(start + (6 * day).Milliseconds())
	_, err = s.IncrementIfFresh(ctx, 1001, "active", start+1, 1)
	require.NoError(t, err)

	// 再过 2 天，idle 已闲置 8 天超过 7 天 TTL
	mr.FastForward(2 * day)
	s.now = fixedClock(start + (8 * day).Milliseconds())

	assert.False(t, mr.Exists(BuildUnreadKey(1001, "idle")))
	assert.True(t, mr.Exists(BuildUnreadKey(1001, "active")))

	all, err := s.GetAllForUser(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"active": 2}, all)

	members, err := mr.ZMembers(BuildIndexKey(1001))
	require.NoError(t, err)
	assert.Equal(t, []string{"active"}, members)
}

func TestGetAllForUser_PrunesMissingCounters(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, 1001, "c1", 3))
	require.NoError(t, s.Set(ctx, 1001, "c2", 5))
	mr.Del(BuildUnreadKey(1001, "c1"))

	all, err := s.GetAllForUser(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"c2": 5}, all)

	members, err := mr.ZMembers(BuildIndexKey(1001))
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, members)
}
