package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"phJobs/internal/api/middleware"
	"phJobs/internal/database"
	"phJobs/internal/errcode"
	"phJobs/internal/metrics"
	"phJobs/internal/payment"
	"phJobs/internal/tasks"
)

// signatureVerifier 抽象网关签名校验，便于测试替换。
type signatureVerifier interface {
	VerifySignature(orderID, statusCode, grossAmount, signatureKey string) bool
}

// WebhookHandler 接收支付网关的异步通知。
// 签名校验在这里完成，状态对账交给 payment.Reconciler。
type WebhookHandler struct {
	db          *gorm.DB
	verifier    signatureVerifier
	reconciler  *payment.Reconciler
	asynqClient *asynq.Client
	logger      *slog.Logger
}

func NewWebhookHandler(db *gorm.DB, verifier signatureVerifier, reconciler *payment.Reconciler, asynqClient *asynq.Client, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		db:          db,
		verifier:    verifier,
		reconciler:  reconciler,
		asynqClient: asynqClient,
		logger:      logger,
	}
}

// HandlePaymentNotification 处理一条网关通知。
//
// 除请求体非法（400）、签名不符（403）、订阅不存在（404）与存储错误（500）
// 外一律回 200，让网关停止重试。对账的幂等性保证重复投递无副作用。
func (h *WebhookHandler) HandlePaymentNotification(c *gin.Context) {
	var n payment.WebhookNotification
	if err := c.ShouldBindJSON(&n); err != nil {
		metrics.ObserveWebhookRejected("bad_payload")
		BadRequest(c, "invalid notification payload")
		return
	}

	if !h.verifier.VerifySignature(n.OrderID, n.StatusCode, n.GrossAmount, n.SignatureKey) {
		metrics.ObserveWebhookRejected("bad_signature")
		h.logger.Warn("webhook signature mismatch",
			slog.String("order_id", n.OrderID),
			slog.String("correlation_id", middleware.GetCorrelationID(c)),
		)
		ErrorCode(c, http.StatusForbidden, errcode.PaymentRejected, "invalid signature")
		return
	}

	result, err := h.reconciler.Reconcile(c.Request.Context(), n)
	if err != nil {
		if errors.Is(err, payment.ErrSubscriptionNotFound) {
			metrics.ObserveWebhookRejected("unknown_order")
			ErrorCode(c, http.StatusNotFound, errcode.ResourceMissing, "unknown order")
			return
		}
		h.logger.Error("webhook reconcile failed",
			slog.String("order_id", n.OrderID),
			slog.Any("error", err),
		)
		ErrorCode(c, http.StatusInternalServerError, errcode.SystemError, "reconcile failed")
		return
	}

	metrics.ObserveWebhookOutcome(string(result.Outcome))
	h.logger.Info("webhook reconciled",
		slog.String("order_id", n.OrderID),
		slog.String("outcome", string(result.Outcome)),
		slog.Bool("changed", result.Changed),
	)

	if result.Changed {
		switch result.Outcome {
		case payment.OutcomeActivated:
			h.notifySubscriber(c, result.Subscription,
				"Subscription activated",
				fmt.Sprintf("Your %s subscription is now active.", result.Subscription.Plan.Name))
		case payment.OutcomeCancelled:
			h.notifySubscriber(c, result.Subscription,
				"Payment failed",
				"Your subscription payment was not completed.")
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// notifySubscriber 写入站内通知并投递推送任务，失败只告警。
func (h *WebhookHandler) notifySubscriber(c *gin.Context, sub *database.Subscription, title, message string) {
	ctx := c.Request.Context()
	data, _ := json.Marshal(map[string]any{
		"subscription_id": sub.ID,
		"status":          sub.Status,
	})
	notification := database.Notification{
		UserID:  sub.UserID,
		Type:    "subscription",
		Title:   title,
		Message: message,
		Data:    datatypes.JSON(data),
	}
	if err := h.db.WithContext(ctx).Create(&notification).Error; err != nil {
		h.logger.Error("failed to persist subscription notification",
			slog.Uint64("subscription_id", uint64(sub.ID)),
			slog.Any("error", err),
		)
		return
	}

	if h.asynqClient == nil {
		return
	}
	task, err := tasks.NewNotificationPushTask(notification.ID, middleware.GetCorrelationID(c))
	if err != nil {
		h.logger.Error("failed to build push task", slog.Any("error", err))
		return
	}
	if _, err := h.asynqClient.EnqueueContext(ctx, task); err != nil {
		h.logger.Error("failed to enqueue push task",
			slog.Uint64("notification_id", uint64(notification.ID)),
			slog.Any("error", err),
		)
	}
}
