package syncer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.im.message/internal/config"
	"sudooom.im.message/internal/model"
)

type published struct {
	subject string
	event   model.SyncEvent
}

// fakePublisher 记录发布的消息
type fakePublisher struct {
	mu      sync.Mutex
	msgs    []published
	fail    bool
	blockCh chan struct{}
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	if p.blockCh != nil {
		<-p.blockCh
	}
	if p.fail {
		return errors.New("nats: connection closed")
	}
	var ev model.SyncEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{subject: subject, event: ev})
	return nil
}

func (p *fakePublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

func TestPartitionOf_Stable(t *testing.T) {
	for i := 0; i < 100; i++ {
		conv := fmt.Sprintf("conv-%d", i)
		p := PartitionOf(conv, 16)
		assert.GreaterOrEqual(t, p, 0)
		assert.Less(t, p, 16)
		assert.Equal(t, p, PartitionOf(conv, 16))
	}
	assert.Equal(t, 0, PartitionOf("anything", 1))
	assert.Equal(t, 0, PartitionOf("anything", 0))
}

func TestEmitter_PublishesToConversationPartition(t *testing.T) {
	pub := &fakePublisher{}
	e := NewEmitter(pub, config.SyncConfig{SubjectPrefix: "im.sync.message", Partitions: 8, BufferSize: 16})
	e.Start()

	status := model.MessageStatusRead
	e.Emit(&model.SyncEvent{
		Operation:      model.SyncOperationUpdateStatus,
		ConversationID: "c1",
		MessageID:      "42",
		Fields:         &model.ChangedFields{Status: &status},
	})
	e.Emit(&model.SyncEvent{
		Operation:      model.SyncOperationCreate,
		ConversationID: "c1",
		MessageID:      "43",
		Message:        &model.Message{ConversationID: "c1", MessageID: "43", Content: "hi"},
	})
	e.Stop()

	assert.Equal(t, int64(1), e.Dropped())
	msgs := pub.all()
	require.Len(t, msgs, 2)

	expected := BuildSubject("im.sync.message", "c1", 8)
	for _, m := range msgs {
		assert.Equal(t, expected, m.subject)
	}

	// 更新事件只包含变化字段
	assert.Equal(t, model.SyncOperationUpdateStatus, msgs[0].event.Operation)
	assert.Nil(t, msgs[0].event.Message)
	require.NotNil(t, msgs[0].event.Fields)
	assert.Equal(t, model.MessageStatusRead, *msgs[0].event.Fields.Status)
	assert.Nil(t, msgs[0].event.Fields.Withdrawn)

	// 同一会话保持入队顺序
	assert.Equal(t, "42", msgs[0].event.MessageID)
	assert.Equal(t, "43", msgs[1].event.MessageID)
}

func TestEmitter_PublishFailureDoesNotStopWorker(t *testing.T) {
	pub := &fakePublisher{fail: true}
	e := NewEmitter(pub, config.SyncConfig{BufferSize: 4})
	e.Start()

	e.Emit(&model.SyncEvent{Operation: model.SyncOperationCreate, ConversationID: "c1", MessageID: "1"})
	e.Emit(&model.SyncEvent{Operation: model.SyncOperationCreate, ConversationID: "c1", MessageID: "2"})
	e.Stop()

	assert.Empty(t, pub.all())
}

func TestEmitter_DropsWhenQueueFull(t *testing.T) {
	pub := &fakePublisher{blockCh: make(chan struct{})}
	e := NewEmitter(pub, config.SyncConfig{BufferSize: 1, EnqueueTimeout: 10 * time.Millisecond})
	e.Start()

	// 第一条被 worker 取走并阻塞在发布，第二条占满队列
	e.Emit(&model.SyncEvent{Operation: model.SyncOperationCreate, ConversationID: "c1", MessageID: "1"})
	require.Eventually(t, func() bool { return len(e.queue) == 0 }, time.Second, time.Millisecond)
	e.Emit(&model.SyncEvent{Operation: model.SyncOperationCreate, ConversationID: "c1", MessageID: "2"})

	start := time.Now()
	e.Emit(&model.SyncEvent{Operation: model.SyncOperationCreate, ConversationID: "c1", MessageID: "3"})
	assert.Less(t, time.Since(start), time.Second)

	close(pub.blockCh)
	e.Stop()

	assert.Equal(t, int64(1), e.Dropped())
	msgs := pub.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, "1", msgs[0].event.MessageID)
	assert.Equal(t, "2", msgs[1].event.MessageID)
}

func TestEmitter_EmitAfterStopIsDropped(t *testing.T) {
	pub := &fakePublisher{}
	e := NewEmitter(pub, config.SyncConfig{BufferSize: 4})
	e.Start()
	e.Stop()

	e.Emit(&model.SyncEvent{Operation: model.SyncOperationCreate, ConversationID: "c1", MessageID: "1"})
	e.Stop()

	assert.Empty(t, pub.all())
	assert.Equal(t, int64(1), e.Dropped())
}

func TestEmitter_EmitRacingStopIsPublishedOrDropped(t *testing.T) {
	pub := &fakePublisher{}
	e := NewEmitter(pub, config.SyncConfig{BufferSize: 1024})
	e.Start()

	const senders, perSender = 8, 200
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				e.Emit(&model.SyncEvent{
					Operation:      model.SyncOperationUpdateWithdraw,
					ConversationID: fmt.Sprintf("c%d", i),
					MessageID:      fmt.Sprint(j),
				})
			}
		}(i)
	}
	time.Sleep(time.Millisecond)
	e.Stop()
	wg.Wait()

	// 每个事件要么已发布，要么计入丢弃，不会滞留在队列中
	assert.Zero(t, len(e.queue))
	total := len(pub.all()) + int(e.Dropped())
	assert.Equal(t, senders*perSender, total)
}
