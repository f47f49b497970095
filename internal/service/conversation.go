package service

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"sudooom.im.message/internal/metrics"
	"sudooom.im.message/internal/model"
	"sudooom.im.message/internal/msglog"
	"sudooom.im.message/internal/rowkey"
	appErrors "sudooom.im.message/pkg/errors"
)

// ConversationService 会话列表与未读服务
type ConversationService struct {
	registry ConversationRegistry
	messages MessageLog
	unread   UnreadCounter
	logger   *slog.Logger
}

// NewConversationService 创建会话服务
func NewConversationService(registry ConversationRegistry, messages MessageLog, unread UnreadCounter) *ConversationService {
	return &ConversationService{
		registry: registry,
		messages: messages,
		unread:   unread,
		logger:   slog.Default(),
	}
}

// UnreadCounts 用户未读数汇总
type UnreadCounts struct {
	Counts map[string]int64 `json:"counts"`
	Total  int64            `json:"total"`
}

// BuildList 聚合会话列表
//
// 每次请求从注册表、消息日志、未读计数三处实时读取后在内存中排序分页，不维护物化视图。
// 置顶会话整体排在前面，两组内部各自按最后消息时间倒序。
func (s *ConversationService) BuildList(ctx context.Context, userID int64, page, pageSize int) (*model.ConversationListPage, error) {
	start := time.Now()
	defer func() {
		metrics.ConversationListDuration.Observe(time.Since(start).Seconds())
	}()

	members, err := s.registry.ListConversations(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to list conversations", "userId", userID, "error", err)
		return nil, appErrors.ErrDBError.Wrap(err)
	}

	prefs, err := s.registry.ListPreferences(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to list preferences", "userId", userID, "error", err)
		return nil, appErrors.ErrDBError.Wrap(err)
	}
	prefByConv := make(map[string]model.ConversationPreference, len(prefs))
	for _, p := range prefs {
		prefByConv[p.ConversationID] = p
	}

	// 隐藏与删除的会话不参与后续查询
	visible := make([]model.ConversationMembership, 0, len(members))
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		if _, dup := seen[m.ConversationID]; dup {
			continue
		}
		seen[m.ConversationID] = struct{}{}
		if p, ok := prefByConv[m.ConversationID]; ok && (p.Hidden || p.Deleted) {
			continue
		}
		visible = append(visible, m)
	}

	ids := make([]string, len(visible))
	for i, m := range visible {
		ids[i] = m.ConversationID
	}

	var (
		lastMessages map[string]*model.Message
		unreadCounts map[string]int64
		g            errgroup.Group
	)
	g.Go(func() error {
		lastMessages = s.messages.BatchLastMessages(ctx, ids)
		return nil
	})
	g.Go(func() error {
		counts, err := s.unread.GetAllForUser(ctx, userID)
		if err != nil {
			s.logger.Warn("Failed to load unread counts, showing zero", "userId", userID, "error", err)
			counts = map[string]int64{}
		}
		unreadCounts = counts
		return nil
	})
	_ = g.Wait()

	entries := make([]model.ConversationListEntry, 0, len(visible))
	for _, m := range visible {
		entry := model.ConversationListEntry{
			ConversationID: m.ConversationID,
			UnreadCount:    unreadCounts[m.ConversationID],
			Pinned:         prefByConv[m.ConversationID].Pinned,
		}
		if msg, ok := lastMessages[m.ConversationID]; ok {
			entry.LastMessage = model.LastMessageSummary{
				MessageID:  msg.MessageID,
				CreateTime: msg.CreateTime,
				Format:     msg.Format,
				Content:    msg.Content,
				SenderID:   msg.SenderID,
				Withdrawn:  msg.Withdrawn,
			}
		} else {
			// 尚无消息的会话按创建时间排序，内容为空
			entry.LastMessage = model.LastMessageSummary{CreateTime: m.CreateTime}
		}
		entries = append(entries, entry)
	}

	sortEntries(entries)
	return paginate(entries, page, pageSize), nil
}

// sortEntries 置顶在前，组内按最后消息时间倒序，时间相同按会话 ID 保证稳定
func sortEntries(entries []model.ConversationListEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		if a.LastMessage.CreateTime != b.LastMessage.CreateTime {
			return a.LastMessage.CreateTime > b.LastMessage.CreateTime
		}
		return a.ConversationID < b.ConversationID
	})
}

func paginate(entries []model.ConversationListEntry, page, pageSize int) *model.ConversationListPage {
	if page < 1 {
		page = 1
	}
	size := msglog.NormalizePageSize(pageSize)

	total := len(entries)
	// 先按页数比较，避免 (page-1)*size 溢出
	from := total
	if page-1 <= total/size {
		from = min((page-1)*size, total)
	}
	to := min(from+size, total)

	return &model.ConversationListPage{
		Entries: entries[from:to],
		HasMore: to < total,
		Total:   total,
	}
}

// ClearUnread 清零会话未读
func (s *ConversationService) ClearUnread(ctx context.Context, userID int64, conversationID string) error {
	if err := rowkey.ValidateConversationID(conversationID); err != nil {
		return appErrors.ErrInvalidParams.Wrap(err)
	}
	if err := s.unread.Clear(ctx, userID, conversationID); err != nil {
		s.logger.Error("Failed to clear unread", "userId", userID, "conversationId", conversationID, "error", err)
		return appErrors.ErrStoreUnavailable.Wrap(err)
	}
	return nil
}

// GetUnreadCounts 获取用户全部会话未读数及总数
func (s *ConversationService) GetUnreadCounts(ctx context.Context, userID int64) (*UnreadCounts, error) {
	counts, err := s.unread.GetAllForUser(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to get unread counts", "userId", userID, "error", err)
		return nil, appErrors.ErrStoreUnavailable.Wrap(err)
	}

	var total int64
	for _, c := range counts {
		total += c
	}
	return &UnreadCounts{Counts: counts, Total: total}, nil
}

// UpdatePreference 更新会话个人设置；删除会话时同时删除未读计数
func (s *ConversationService) UpdatePreference(ctx context.Context, u *model.PreferenceUpdate) error {
	if err := rowkey.ValidateConversationID(u.ConversationID); err != nil {
		return appErrors.ErrInvalidParams.Wrap(err)
	}
	if u.Empty() {
		return appErrors.ErrInvalidParams
	}

	ok, err := s.registry.IsMember(ctx, u.ConversationID, u.UserID)
	if err != nil {
		return appErrors.ErrDBError.Wrap(err)
	}
	if !ok {
		return appErrors.ErrNotMember
	}

	if err := s.registry.UpsertPreference(ctx, u); err != nil {
		s.logger.Error("Failed to update preference", "userId", u.UserID, "conversationId", u.ConversationID, "error", err)
		return appErrors.ErrDBError.Wrap(err)
	}

	if u.Deleted != nil && *u.Deleted {
		if err := s.unread.Delete(ctx, u.UserID, u.ConversationID); err != nil {
			s.logger.Warn("Failed to delete unread counter", "userId", u.UserID, "conversationId", u.ConversationID, "error", err)
		}
	}
	return nil
}
