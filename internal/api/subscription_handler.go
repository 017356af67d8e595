package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"phJobs/internal/database"
	"phJobs/internal/errcode"
	"phJobs/internal/payment"
)

// paymentGateway 抽象结账所需的网关能力，便于测试替换。
type paymentGateway interface {
	ChargeTransaction(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error)
}

// SubscriptionHandler 处理套餐浏览、结账、取消与续费。
// 支付结果由 webhook 对账驱动，这里只负责创建待支付订阅并换取支付跳转。
type SubscriptionHandler struct {
	db      *gorm.DB
	gateway paymentGateway
	logger  *slog.Logger
}

func NewSubscriptionHandler(db *gorm.DB, gateway paymentGateway, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{db: db, gateway: gateway, logger: logger}
}

type planResponse struct {
	ID             uint    `json:"id"`
	Name           string  `json:"name"`
	Slug           string  `json:"slug"`
	Price          float64 `json:"price"`
	DurationDays   int     `json:"duration_days"`
	MaxJobPostings int     `json:"max_job_postings"`
	Features       any     `json:"features,omitempty"`
}

type subscriptionResponse struct {
	ID            uint       `json:"id"`
	PlanID        uint       `json:"plan_id"`
	PlanName      string     `json:"plan_name,omitempty"`
	Status        string     `json:"status"`
	PaymentStatus string     `json:"payment_status"`
	StartDate     *time.Time `json:"start_date,omitempty"`
	EndDate       *time.Time `json:"end_date,omitempty"`
	IsRenewal     bool       `json:"is_renewal"`
}

func newSubscriptionResponse(sub database.Subscription) subscriptionResponse {
	resp := subscriptionResponse{
		ID:            sub.ID,
		PlanID:        sub.PlanID,
		Status:        sub.Status,
		PaymentStatus: sub.PaymentStatus,
		StartDate:     sub.StartDate,
		EndDate:       sub.EndDate,
		IsRenewal:     sub.IsRenewal,
	}
	if sub.Plan.ID != 0 {
		resp.PlanName = sub.Plan.Name
	}
	return resp
}

// ListPlans 返回可购买的套餐（公开）。
func (h *SubscriptionHandler) ListPlans(c *gin.Context) {
	var plans []database.SubscriptionPlan
	if err := h.db.WithContext(c.Request.Context()).
		Where("is_active = ?", true).
		Order("price ASC").
		Find(&plans).Error; err != nil {
		Internal(c, "failed to list plans")
		return
	}

	items := make([]planResponse, 0, len(plans))
	for _, plan := range plans {
		items = append(items, planResponse{
			ID:             plan.ID,
			Name:           plan.Name,
			Slug:           plan.Slug,
			Price:          plan.Price,
			DurationDays:   plan.DurationDays,
			MaxJobPostings: plan.MaxJobPostings,
			Features:       plan.Features,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type checkoutRequest struct {
	PlanID uint `json:"plan_id" binding:"required"`
}

// Checkout 创建 PENDING 订阅并向网关换取支付跳转信息。
// 网关失败回 502，此时订阅保持 PENDING，可重新发起结账。
func (h *SubscriptionHandler) Checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	var plan database.SubscriptionPlan
	if err := h.db.WithContext(ctx).First(&plan, req.PlanID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "plan not found")
			return
		}
		Internal(c, "failed to query plan")
		return
	}

	var active int64
	if err := h.db.WithContext(ctx).
		Model(&database.Subscription{}).
		Where("user_id = ? AND status = ?", userID, payment.SubStatusActive).
		Count(&active).Error; err != nil {
		Internal(c, "failed to check active subscription")
		return
	}
	if active > 0 {
		Conflict(c, "an active subscription already exists, use renew instead")
		return
	}

	sub := database.Subscription{
		UserID: userID,
		PlanID: plan.ID,
		Status: payment.SubStatusPending,
		PaymentStatus: payment.PayStatusPending,
	}
	if err := h.db.WithContext(ctx).Create(&sub).Error; err != nil {
		Internal(c, "failed to create subscription")
		return
	}

	h.charge(c, sub, plan, userID)
}

// charge 换取支付跳转。order_id 就是订阅主键的十进制表示，
// webhook 对账按它定位订阅。
func (h *SubscriptionHandler) charge(c *gin.Context, sub database.Subscription, plan database.SubscriptionPlan, userID uint) {
	ctx := c.Request.Context()
	var user database.User
	if err := h.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		Internal(c, "failed to load user")
		return
	}

	result, err := h.gateway.ChargeTransaction(ctx, payment.ChargeRequest{
		OrderID:     strconv.FormatUint(uint64(sub.ID), 10),
		GrossAmount: plan.Price,
		FirstName:   user.FullName,
		Email:       user.Email,
	})
	if err != nil {
		h.logger.Error("gateway charge failed",
			slog.Uint64("subscription_id", uint64(sub.ID)),
			slog.Any("error", err),
		)
		ErrorCode(c, http.StatusBadGateway, errcode.GatewayError, "payment gateway unavailable, try again later")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"subscription": newSubscriptionResponse(sub),
		"payment": gin.H{
			"token":        result.Token,
			"redirect_url": result.RedirectURL,
		},
	})
}

// MySubscription 返回当前用户最近的订阅。
func (h *SubscriptionHandler) MySubscription(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var sub database.Subscription
	if err := h.db.WithContext(c.Request.Context()).
		Preload("Plan").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "no subscription")
			return
		}
		Internal(c, "failed to query subscription")
		return
	}

	c.JSON(http.StatusOK, newSubscriptionResponse(sub))
}

// Cancel 取消当前生效或待支付的订阅。已结束的订阅不可取消。
func (h *SubscriptionHandler) Cancel(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	var sub database.Subscription
	if err := h.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, []string{payment.SubStatusActive, payment.SubStatusPending}).
		Order("created_at DESC").
		First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "no cancellable subscription")
			return
		}
		Internal(c, "failed to query subscription")
		return
	}

	now := time.Now()
	updates := map[string]any{
		"status":       payment.SubStatusCancelled,
		"cancelled_at": now,
	}
	if err := h.db.WithContext(ctx).Model(&sub).Updates(updates).Error; err != nil {
		Internal(c, "failed to cancel subscription")
		return
	}
	sub.Status = payment.SubStatusCancelled
	sub.CancelledAt = &now

	c.JSON(http.StatusOK, newSubscriptionResponse(sub))
}

// Renew 基于当前生效订阅发起续费：新订阅记录 + 新一笔支付。
// 续费订阅在支付确认前不影响原订阅。
func (h *SubscriptionHandler) Renew(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	var current database.Subscription
	if err := h.db.WithContext(ctx).
		Preload("Plan").
		Where("user_id = ? AND status = ?", userID, payment.SubStatusActive).
		Order("end_date DESC").
		First(&current).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "no active subscription to renew")
			return
		}
		Internal(c, "failed to query subscription")
		return
	}

	originalID := current.ID
	sub := database.Subscription{
		UserID:                 userID,
		PlanID:                 current.PlanID,
		Status:                 payment.SubStatusPending,
		PaymentStatus:          payment.PayStatusPending,
		IsRenewal:              true,
		OriginalSubscriptionID: &originalID,
	}
	if err := h.db.WithContext(ctx).Create(&sub).Error; err != nil {
		Internal(c, "failed to create renewal subscription")
		return
	}

	h.charge(c, sub, current.Plan, userID)
}
