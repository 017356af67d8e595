package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"phJobs/internal/database"
)

// NotificationHandler 提供「我的通知」的查询与已读维护。
type NotificationHandler struct {
	db *gorm.DB
}

func NewNotificationHandler(db *gorm.DB) *NotificationHandler {
	return &NotificationHandler{db: db}
}

type notificationResponse struct {
	ID        uint           `json:"id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      datatypes.JSON `json:"data,omitempty"`
	IsRead    bool           `json:"is_read"`
	CreatedAt time.Time      `json:"created_at"`
}

// List 分页返回当前用户的通知，新的在前。
func (h *NotificationHandler) List(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	page, perPage := parsePagination(c)

	ctx := c.Request.Context()
	filtered := func() *gorm.DB {
		query := h.db.WithContext(ctx).
			Model(&database.Notification{}).
			Where("user_id = ?", userID)
		if c.Query("unread") == "true" {
			query = query.Where("is_read = ?", false)
		}
		return query
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		Internal(c, "failed to count notifications")
		return
	}

	var rows []database.Notification
	if err := filtered().
		Order("created_at DESC").
		Limit(perPage).
		Offset((page - 1) * perPage).
		Find(&rows).Error; err != nil {
		Internal(c, "failed to list notifications")
		return
	}

	items := make([]notificationResponse, 0, len(rows))
	for _, n := range rows {
		items = append(items, notificationResponse{
			ID:        n.ID,
			Type:      n.Type,
			Title:     n.Title,
			Message:   n.Message,
			Data:      n.Data,
			IsRead:    n.IsRead,
			CreatedAt: n.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"items":    items,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

// UnreadCount 返回未读数，供客户端角标轮询。
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var count int64
	if err := h.db.WithContext(c.Request.Context()).
		Model(&database.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error; err != nil {
		Internal(c, "failed to count notifications")
		return
	}

	c.JSON(http.StatusOK, gin.H{"unread": count})
}

// MarkRead 将一条通知标记为已读。只能操作自己的通知。
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	notificationID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "invalid notification id")
		return
	}

	ctx := c.Request.Context()
	var n database.Notification
	if err := h.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", uint(notificationID), userID).
		First(&n).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "notification not found")
			return
		}
		Internal(c, "failed to query notification")
		return
	}

	if !n.IsRead {
		if err := h.db.WithContext(ctx).Model(&n).Update("is_read", true).Error; err != nil {
			Internal(c, "failed to mark notification read")
			return
		}
	}

	c.Status(http.StatusNoContent)
}

// MarkAllRead 将当前用户的全部未读通知标记为已读。
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	if err := h.db.WithContext(c.Request.Context()).
		Model(&database.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true).Error; err != nil {
		Internal(c, "failed to mark notifications read")
		return
	}

	c.Status(http.StatusNoContent)
}
