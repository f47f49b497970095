package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"sudooom.im.message/internal/middleware"
	"sudooom.im.message/internal/model"
	"sudooom.im.message/internal/service"
	"sudooom.im.message/pkg/response"
)

// ConversationService 会话列表相关操作
type ConversationService interface {
	BuildList(ctx context.Context, userID int64, page, pageSize int) (*model.ConversationListPage, error)
	ClearUnread(ctx context.Context, userID int64, conversationID string) error
	GetUnreadCounts(ctx context.Context, userID int64) (*service.UnreadCounts, error)
	UpdatePreference(ctx context.Context, u *model.PreferenceUpdate) error
}

// HistoryService 历史消息查询
type HistoryService interface {
	GetHistory(ctx context.Context, userID int64, q model.HistoryQuery) (*model.HistoryPage, error)
}

// ConversationHandler 会话处理器
type ConversationHandler struct {
	conversations ConversationService
	history       HistoryService
}

// NewConversationHandler 创建会话处理器
func NewConversationHandler(conversations ConversationService, history HistoryService) *ConversationHandler {
	return &ConversationHandler{conversations: conversations, history: history}
}

// ListConversations 获取会话列表
// GET /api/v1/conversations?page=&size=
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userID := middleware.GetUserID(c)

	page, ok := queryInt(c, "page", 1)
	if !ok {
		return
	}
	size, ok := queryInt(c, "size", 0)
	if !ok {
		return
	}

	result, err := h.conversations.BuildList(c.Request.Context(), userID, page, size)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, result)
}

// GetHistory 分页查询历史消息
// GET /api/v1/conversations/:id/messages?cursor=&start_time=&end_time=&size=&reverse=
func (h *ConversationHandler) GetHistory(c *gin.Context) {
	userID := middleware.GetUserID(c)

	q := model.HistoryQuery{
		ConversationID: c.Param("id"),
		Cursor:         c.Query("cursor"),
	}
	var ok bool
	if q.StartTime, ok = queryInt64(c, "start_time"); !ok {
		return
	}
	if q.EndTime, ok = queryInt64(c, "end_time"); !ok {
		return
	}
	if q.PageSize, ok = queryInt(c, "size", 0); !ok {
		return
	}
	if raw := c.Query("reverse"); raw != "" {
		reverse, err := strconv.ParseBool(raw)
		if err != nil {
			response.ErrorWithMsg(c, response.CodeInvalidParams, "invalid reverse")
			return
		}
		q.Reverse = reverse
	}

	page, err := h.history.GetHistory(c.Request.Context(), userID, q)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, page)
}

// ClearUnread 会话已读
// POST /api/v1/conversations/:id/read
func (h *ConversationHandler) ClearUnread(c *gin.Context) {
	userID := middleware.GetUserID(c)

	if err := h.conversations.ClearUnread(c.Request.Context(), userID, c.Param("id")); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, nil)
}

// GetUnreadCounts 获取全部未读数
// GET /api/v1/unread
func (h *ConversationHandler) GetUnreadCounts(c *gin.Context) {
	userID := middleware.GetUserID(c)

	counts, err := h.conversations.GetUnreadCounts(c.Request.Context(), userID)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, counts)
}

// UpdatePreference 更新会话置顶、隐藏、删除设置
// PUT /api/v1/conversations/:id/preference
func (h *ConversationHandler) UpdatePreference(c *gin.Context) {
	var req model.PreferenceUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, response.CodeInvalidParams, err.Error())
		return
	}
	req.UserID = middleware.GetUserID(c)
	req.ConversationID = c.Param("id")

	if err := h.conversations.UpdatePreference(c.Request.Context(), &req); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, nil)
}

func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		response.ErrorWithMsg(c, response.CodeInvalidParams, "invalid "+name)
		return 0, false
	}
	return v, true
}

func queryInt64(c *gin.Context, name string) (int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		response.ErrorWithMsg(c, response.CodeInvalidParams, "invalid "+name)
		return 0, false
	}
	return v, true
}
