package msglog

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.im.message/internal/model"
)

// seedConversations 创建 n 个会话，每 7 个中留一个空会话
func seedConversations(t *testing.T, s *Store, n int) ([]string, map[string]string) {
	t.Helper()
	ctx := context.Background()

	convs := make([]string, 0, n)
	expected := make(map[string]string)
	for i := 0; i < n; i++ {
		conv := fmt.Sprintf("conv-%03d", i)
		convs = append(convs, conv)
		if i%7 == 0 {
			continue
		}
		var last *model.Message
		for j := 0; j <= i%3; j++ {
			last = newMessage(conv, baseTime+int64(i*100+j), 0)
			require.NoError(t, s.Append(ctx, last))
		}
		expected[conv] = last.MessageID
	}
	return convs, expected
}

func lastIDs(m map[string]*model.Message) map[string]string {
	out := make(map[string]string, len(m))
	for conv, msg := range m {
		out[conv] = msg.MessageID
	}
	return out
}

func TestBatchLastMessages_TiersAreEquivalent(t *testing.T) {
	s, _ := newTestStore(t, NewMemoryBackend())
	ctx := context.Background()

	for _, n := range []int{1, 5, 6, 30, 50, 51, 137} {
		t.Run(fmt.Sprintf("size=%d", n), func(t *testing.T) {
			s.backend = NewMemoryBackend()
			convs, expected := seedConversations(t, s, n)

			sequential := collect(convs, s.sequentialLastMessages(ctx, convs))
			pooled := collect(convs, s.pooledLastMessages(ctx, convs))
			chunked := collect(convs, s.chunkedLastMessages(ctx, convs))
			dispatched := s.BatchLastMessages(ctx, convs)

			assert.Equal(t, expected, lastIDs(sequential))
			assert.Equal(t, expected, lastIDs(pooled))
			assert.Equal(t, expected, lastIDs(chunked))
			assert.Equal(t, expected, lastIDs(dispatched))
		})
	}
}

func TestBatchLastMessages_EmptyConversationsAbsent(t *testing.T) {
	s, _ := newTestStore(t, NewMemoryBackend())
	ctx := context.Background()

	seed(t, s, "has-messages", 2)

	got := s.BatchLastMessages(ctx, []string{"has-messages", "no-messages", "has-messages"})
	assert.Len(t, got, 1)
	assert.Contains(t, got, "has-messages")
	assert.NotContains(t, got, "no-messages")

	assert.Empty(t, s.BatchLastMessages(ctx, nil))
}

func TestBatchLastMessages_PartialResultsOnBackendError(t *testing.T) {
	backend := &failingBackend{
		MemoryBackend: NewMemoryBackend(),
		failing:       map[string]bool{},
	}
	s, _ := newTestStore(t, backend)
	ctx := context.Background()

	convs, expected := seedConversations(t, s, 80)
	for _, conv := range []string{"conv-001", "conv-040", "conv-079"} {
		backend.failing[conv] = true
		delete(expected, conv)
	}

	tiers := map[string]func(context.Context, []string) []*model.Message{
		tierSequential: s.sequentialLastMessages,
		tierPooled:     s.pooledLastMessages,
		tierChunked:    s.chunkedLastMessages,
	}
	for name, fn := range tiers {
		t.Run(name, func(t *testing.T) {
			got := collect(convs, fn(ctx, convs))
			assert.Equal(t, expected, lastIDs(got))
		})
	}
}

func TestBatchLastMessages_InvalidConversationIDOmitted(t *testing.T) {
	s, _ := newTestStore(t, NewMemoryBackend())
	ctx := context.Background()

	seed(t, s, "ok", 1)

	got := s.BatchLastMessages(ctx, []string{"ok", "bad_id", ""})
	require.Len(t, got, 1)
	assert.Contains(t, got, "ok")
}
