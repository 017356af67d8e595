package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"phJobs/internal/database"
	"phJobs/internal/errcode"
	"phJobs/internal/tasks"
)

// NotificationChannel 返回某个用户的实时推送频道名。
func NotificationChannel(userID uint) string {
	return fmt.Sprintf("user_notify:%d", userID)
}

// NotificationPushHandler 负责消费站内通知推送任务。
type NotificationPushHandler struct {
	db          *gorm.DB
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewNotificationPushHandler 创建任务处理器。
func NewNotificationPushHandler(db *gorm.DB, redisClient *redis.Client, logger *slog.Logger) *NotificationPushHandler {
	return &NotificationPushHandler{
		db:          db,
		redisClient: redisClient,
		logger:      logger,
	}
}

// ProcessTask 实现 asynq.Handler。
// 通知行已经由 API 侧落库，这里只负责把它转发到用户的实时频道。
func (h *NotificationPushHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	log := h.logger

	var payload tasks.NotificationPushPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal task payload failed", slog.Any("error", err))
		return err
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Int("notification_id", int(payload.NotificationID)),
	)

	var notification database.Notification
	if err := h.db.WithContext(ctx).First(&notification, payload.NotificationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("notification not found, skipping push")
			return nil
		}
		log.Error("query notification failed", slog.Any("error", err))
		return err
	}

	message := NotificationPushMessage{
		Type:           notification.Type,
		NotificationID: notification.ID,
		Title:          notification.Title,
		Message:        notification.Message,
		CorrelationID:  payload.CorrelationID,
		ErrorCode:      errcode.OK,
	}
	body, err := json.Marshal(message)
	if err != nil {
		log.Error("marshal push message failed", slog.Any("error", err))
		return err
	}

	channel := NotificationChannel(notification.UserID)
	if err := h.redisClient.Publish(ctx, channel, body).Err(); err != nil {
		log.Error("publish push message failed",
			slog.String("channel", channel),
			slog.Any("error", err),
		)
		return err
	}

	log.Info("notification pushed", slog.String("channel", channel))
	return nil
}
