package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"phJobs/internal/database"
	"phJobs/internal/errcode"
	"phJobs/internal/payment"
)

// SubscriptionExpiryHandler 周期性地把已过期的订阅置为 EXPIRED。
type SubscriptionExpiryHandler struct {
	db          *gorm.DB
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewSubscriptionExpiryHandler 创建任务处理器。
func NewSubscriptionExpiryHandler(db *gorm.DB, redisClient *redis.Client, logger *slog.Logger) *SubscriptionExpiryHandler {
	return &SubscriptionExpiryHandler{
		db:          db,
		redisClient: redisClient,
		logger:      logger,
	}
}

// ProcessTask 实现 asynq.Handler。
// 单条失败不阻断本轮其余订阅的清理。
func (h *SubscriptionExpiryHandler) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	now := time.Now()

	var expired []database.Subscription
	if err := h.db.WithContext(ctx).
		Where("status = ? AND end_date IS NOT NULL AND end_date < ?", payment.SubStatusActive, now).
		Find(&expired).Error; err != nil {
		h.logger.Error("query expired subscriptions failed", slog.Any("error", err))
		return err
	}

	if len(expired) == 0 {
		return nil
	}

	var failed int
	for _, sub := range expired {
		log := h.logger.With(slog.Int("subscription_id", int(sub.ID)))

		if err := h.db.WithContext(ctx).
			Model(&database.Subscription{}).
			Where("id = ? AND status = ?", sub.ID, payment.SubStatusActive).
			Update("status", payment.SubStatusExpired).Error; err != nil {
			log.Error("mark subscription expired failed", slog.Any("error", err))
			failed++
			continue
		}

		notification := database.Notification{
			UserID:  sub.UserID,
			Type:    "subscription_expired",
			Title:   "Subscription expired",
			Message: "Your subscription has ended. Renew to keep posting jobs.",
		}
		if err := h.db.WithContext(ctx).Create(&notification).Error; err != nil {
			log.Error("create expiry notification failed", slog.Any("error", err))
			continue
		}

		message := NotificationPushMessage{
			Type:           notification.Type,
			NotificationID: notification.ID,
			Title:          notification.Title,
			Message:        notification.Message,
			ErrorCode:      errcode.OK,
		}
		if body, err := json.Marshal(message); err == nil {
			if err := h.redisClient.Publish(ctx, NotificationChannel(sub.UserID), body).Err(); err != nil {
				log.Warn("push expiry notification failed", slog.Any("error", err))
			}
		}
	}

	h.logger.Info("subscription expiry sweep finished",
		slog.Int("expired", len(expired)-failed),
		slog.Int("failed", failed),
	)
	return nil
}
