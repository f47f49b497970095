package registry

import (
	"context"
	"fmt"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.im.message/internal/model"
)

// 测试配置 - 使用环境变量或默认值
var (
	testDBHost     = getEnv("POSTGRES_HOST", "localhost")
	testDBPort     = getEnv("POSTGRES_PORT", "5432")
	testDBUser     = getEnv("POSTGRES_USER", "postgres")
	testDBPassword = getEnv("POSTGRES_PASSWORD", "password")
	testDBName     = getEnv("POSTGRES_DB", "im_db")
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// setupIntegrationTest 连接数据库并建表，无法连接时跳过
func setupIntegrationTest(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		testDBUser, testDBPassword, testDBHost, testDBPort, testDBName)

	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("跳过集成测试: 无法连接数据库: %v", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := db.Ping(pingCtx); err != nil {
		db.Close()
		t.Skipf("跳过集成测试: 数据库 ping 失败: %v", err)
	}

	schema, err := os.ReadFile("../../migrations/001_conversation_registry.sql")
	require.NoError(t, err)
	_, err = db.Exec(ctx, string(schema))
	require.NoError(t, err)

	t.Cleanup(db.Close)
	return db
}

func TestRepository_ConversationsAndPreferences(t *testing.T) {
	db := setupIntegrationTest(t)
	repo := NewRepository(db)
	ctx := context.Background()

	userID := time.Now().UnixNano() % 1_000_000_000
	convA := fmt.Sprintf("it-a-%d", userID)
	convB := fmt.Sprintf("it-b-%d", userID)

	t.Cleanup(func() {
		db.Exec(ctx, `DELETE FROM conversation_preferences WHERE user_id = $1`, userID)
		db.Exec(ctx, `DELETE FROM conversation_members WHERE user_id = $1`, userID)
		db.Exec(ctx, `DELETE FROM conversations WHERE id = ANY($1)`, []string{convA, convB})
	})

	for i, conv := range []string{convA, convB} {
		_, err := db.Exec(ctx, `INSERT INTO conversations (id, create_time) VALUES ($1, $2)`, conv, int64(1000+i))
		require.NoError(t, err)
		_, err = db.Exec(ctx, `INSERT INTO conversation_members (conversation_id, user_id, role, joined_at) VALUES ($1, $2, 0, $3)`, conv, userID, int64(1000+i))
		require.NoError(t, err)
	}

	members, err := repo.ListConversations(ctx, userID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	sort.Slice(members, func(i, j int) bool { return members[i].ConversationID < members[j].ConversationID })
	assert.Equal(t, convA, members[0].ConversationID)
	assert.Equal(t, int64(1000), members[0].CreateTime)

	ok, err := repo.IsMember(ctx, convA, userID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.IsMember(ctx, convA, userID+1)
	require.NoError(t, err)
	assert.False(t, ok)

	pinned := true
	require.NoError(t, repo.UpsertPreference(ctx, &model.PreferenceUpdate{
		UserID: userID, ConversationID: convA, Pinned: &pinned,
	}))
	hidden := true
	require.NoError(t, repo.UpsertPreference(ctx, &model.PreferenceUpdate{
		UserID: userID, ConversationID: convA, Hidden: &hidden,
	}))

	prefs, err := repo.ListPreferences(ctx, userID)
	require.NoError(t, err)
	require.Len(t, prefs, 1)
	assert.True(t, prefs[0].Pinned)
	assert.True(t, prefs[0].Hidden)
	assert.False(t, prefs[0].Deleted)
}
