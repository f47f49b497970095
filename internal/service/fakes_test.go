package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"testing"

	"sudooom.im.message/internal/model"
	"sudooom.im.message/internal/msglog"
	"sudooom.im.message/internal/workerpool"
	"sudooom.im.message/pkg/snowflake"
)

const baseTime = snowflake.Epoch + 5_000_000

// fakeRegistry 内存会话注册表
type fakeRegistry struct {
	mu      sync.Mutex
	members map[int64][]model.ConversationMembership
	prefs   map[int64]map[string]model.ConversationPreference
	err     error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		members: make(map[int64][]model.ConversationMembership),
		prefs:   make(map[int64]map[string]model.ConversationPreference),
	}
}

func (r *fakeRegistry) join(userID int64, conv string, createTime int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[userID] = append(r.members[userID], model.ConversationMembership{
		ConversationID: conv,
		UserID:         userID,
		CreateTime:     createTime,
	})
}

func (r *fakeRegistry) setPref(p model.ConversationPreference) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.prefs[p.UserID] == nil {
		r.prefs[p.UserID] = make(map[string]model.ConversationPreference)
	}
	r.prefs[p.UserID][p.ConversationID] = p
}

func (r *fakeRegistry) ListConversations(_ context.Context, userID int64) ([]model.ConversationMembership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return append([]model.ConversationMembership(nil), r.members[userID]...), nil
}

func (r *fakeRegistry) ListPreferences(_ context.Context, userID int64) ([]model.ConversationPreference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	out := make([]model.ConversationPreference, 0, len(r.prefs[userID]))
	for _, p := range r.prefs[userID] {
		out = append(out, p)
	}
	return out, nil
}

func (r *fakeRegistry) IsMember(_ context.Context, conversationID string, userID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	for _, m := range r.members[userID] {
		if m.ConversationID == conversationID {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRegistry) UpsertPreference(_ context.Context, u *model.PreferenceUpdate) error {
	r.mu.Lock()
	if r.err != nil {
		r.mu.Unlock()
		return r.err
	}
	p := r.prefs[u.UserID][u.ConversationID]
	r.mu.Unlock()

	p.UserID, p.ConversationID = u.UserID, u.ConversationID
	if u.Pinned != nil {
		p.Pinned = *u.Pinned
	}
	if u.Hidden != nil {
		p.Hidden = *u.Hidden
	}
	if u.Deleted != nil {
		p.Deleted = *u.Deleted
	}
	r.setPref(p)
	return nil
}

// fakeUnread 内存未读计数，不做清零时间栅栏
type fakeUnread struct {
	mu     sync.Mutex
	counts map[int64]map[string]int64
	err    error
}

func newFakeUnread() *fakeUnread {
	return &fakeUnread{counts: make(map[int64]map[string]int64)}
}

func (u *fakeUnread) set(userID int64, conv string, n int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.counts[userID] == nil {
		u.counts[userID] = make(map[string]int64)
	}
	u.counts[userID][conv] = n
}

func (u *fakeUnread) IncrementIfFresh(_ context.Context, userID int64, conv string, _ int64, delta int64) (int64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return 0, u.err
	}
	if u.counts[userID] == nil {
		u.counts[userID] = make(map[string]int64)
	}
	u.counts[userID][conv] += delta
	return u.counts[userID][conv], nil
}

func (u *fakeUnread) Clear(_ context.Context, userID int64, conv string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return u.err
	}
	if u.counts[userID] != nil {
		u.counts[userID][conv] = 0
	}
	return nil
}

func (u *fakeUnread) GetAllForUser(_ context.Context, userID int64) (map[string]int64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return nil, u.err
	}
	out := make(map[string]int64, len(u.counts[userID]))
	for k, v := range u.counts[userID] {
		out[k] = v
	}
	return out, nil
}

func (u *fakeUnread) Delete(_ context.Context, userID int64, conv string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return u.err
	}
	delete(u.counts[userID], conv)
	return nil
}

type nopSink struct{}

func (nopSink) Emit(*model.SyncEvent) {}

func newMessageLog(t *testing.T) *msglog.Store {
	t.Helper()
	pool := workerpool.New(4, 32, slog.Default())
	t.Cleanup(pool.Shutdown)
	return msglog.NewStore(msglog.NewMemoryBackend(), pool, nopSink{}, msglog.DefaultOptions())
}

// appendAt 在会话中写入一条 createTime 时刻的消息
func appendAt(t *testing.T, log *msglog.Store, conv string, createTime int64, content string) *model.Message {
	t.Helper()
	msg := &model.Message{
		ConversationID: conv,
		MessageID:      strconv.FormatInt(snowflake.MinIDAt(createTime), 10),
		SenderID:       1,
		RecipientID:    2,
		Format:         model.MessageFormatText,
		Content:        content,
		CreateTime:     createTime,
	}
	if err := log.Append(context.Background(), msg); err != nil {
		t.Fatalf("append %s: %v", conv, err)
	}
	return msg
}

// fixedIDs 按顺序返回预设 ID
type fixedIDs struct {
	mu  sync.Mutex
	ids []int64
}

func (f *fixedIDs) Generate() snowflake.ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) == 0 {
		panic("fixedIDs exhausted")
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return snowflake.ID(id)
}

var errBackend = errors.New("backend down")
