package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"gorm.io/gorm"

	"phJobs/internal/database"
)

// 订阅状态与支付状态枚举。状态由本对账器或用户取消/到期清理驱动。
const (
	SubStatusPending   = "PENDING"
	SubStatusActive    = "ACTIVE"
	SubStatusCancelled = "CANCELLED"
	SubStatusExpired   = "EXPIRED"

	PayStatusPending   = "PENDING"
	PayStatusCompleted = "COMPLETED"
	PayStatusFailed    = "FAILED"
)

// ErrSubscriptionNotFound 表示 order_id 未对应任何本地订阅。
var ErrSubscriptionNotFound = errors.New("subscription not found")

// WebhookNotification 是网关异步通知的请求体。
type WebhookNotification struct {
	OrderID           string `json:"order_id" binding:"required"`
	TransactionStatus string `json:"transaction_status" binding:"required"`
	TransactionID     string `json:"transaction_id"`
	FraudStatus       string `json:"fraud_status"`
	StatusCode        string `json:"status_code" binding:"required"`
	GrossAmount       string `json:"gross_amount" binding:"required"`
	SignatureKey      string `json:"signature_key" binding:"required"`
}

// Outcome 标识一次对账落在哪个分支。
type Outcome string

const (
	OutcomeActivated        Outcome = "activated"
	OutcomeCancelled        Outcome = "cancelled"
	OutcomePending          Outcome = "pending"
	OutcomeIgnored          Outcome = "ignored"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeUnchanged        Outcome = "unchanged"
)

// Result 汇总对账结论。
type Result struct {
	Outcome      Outcome
	Changed      bool
	Subscription *database.Subscription
}

// Reconciler 将网关通知、网关状态查询与本地订阅记录对齐为一个权威结果。
type Reconciler struct {
	db      *gorm.DB
	gateway StatusFetcher
	logger  *slog.Logger
}

// NewReconciler 构造对账器。
func NewReconciler(db *gorm.DB, gateway StatusFetcher, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{db: db, gateway: gateway, logger: logger}
}

// Reconcile 处理一条已通过签名校验的网关通知。
//
// 对账时以网关状态查询接口为唯一事实来源；查询失败时退回通知自带的值
// 继续处理（可用性优先），只记录告警。除订阅不存在与意外的存储错误外，
// 所有分支都应被调用方以 200 应答，避免网关无意义地重试。
func (r *Reconciler) Reconcile(ctx context.Context, n WebhookNotification) (*Result, error) {
	txStatus := n.TransactionStatus
	fraudStatus := n.FraudStatus
	transactionID := n.TransactionID

	live, err := r.gateway.TransactionStatus(ctx, n.OrderID)
	if err != nil {
		r.logger.Warn("gateway status lookup failed, falling back to notification values",
			slog.String("order_id", n.OrderID),
			slog.Any("error", err),
		)
	} else {
		if live.TransactionStatus != txStatus || live.FraudStatus != fraudStatus || live.TransactionID != transactionID {
			r.logger.Info("notification disagrees with gateway, using gateway values",
				slog.String("order_id", n.OrderID),
				slog.String("notified_status", txStatus),
				slog.String("gateway_status", live.TransactionStatus),
			)
		}
		txStatus = live.TransactionStatus
		fraudStatus = live.FraudStatus
		transactionID = live.TransactionID
	}

	sub, err := r.loadSubscription(ctx, n.OrderID)
	if err != nil {
		return nil, err
	}

	settled := txStatus == TxStatusCapture || txStatus == TxStatusSettlement

	// 重复投递的幂等短路：已激活且已完成支付的订阅不再写库。
	if settled && sub.Status == SubStatusActive && sub.PaymentStatus == PayStatusCompleted {
		return &Result{Outcome: OutcomeAlreadyProcessed, Subscription: sub}, nil
	}

	r.checkAmount(n.OrderID, n.GrossAmount, sub)

	var (
		targetStatus  string
		targetPayment string
		outcome       Outcome
	)
	switch {
	case settled && fraudStatus == FraudDeny:
		targetStatus, targetPayment, outcome = SubStatusCancelled, PayStatusFailed, OutcomeCancelled
	case settled:
		// fraud_status 为 accept/challenge/缺省时视为通过。
		targetStatus, targetPayment, outcome = SubStatusActive, PayStatusCompleted, OutcomeActivated
	case txStatus == TxStatusPending:
		targetStatus, targetPayment, outcome = SubStatusPending, PayStatusPending, OutcomePending
	case txStatus == TxStatusCancel, txStatus == TxStatusExpire, txStatus == TxStatusDeny:
		targetStatus, targetPayment, outcome = SubStatusCancelled, PayStatusFailed, OutcomeCancelled
	default:
		r.logger.Info("unhandled transaction status, acknowledged without state change",
			slog.String("order_id", n.OrderID),
			slog.String("transaction_status", txStatus),
		)
		return &Result{Outcome: OutcomeIgnored, Subscription: sub}, nil
	}

	updates := map[string]any{}
	if sub.Status != targetStatus {
		updates["status"] = targetStatus
	}
	if sub.PaymentStatus != targetPayment {
		updates["payment_status"] = targetPayment
	}
	if transactionID != "" && sub.TransactionID != transactionID {
		updates["transaction_id"] = transactionID
	}

	// 订阅期只在首次进入 ACTIVE 时计算，重复 settlement 不顺延。
	if targetStatus == SubStatusActive && sub.Status != SubStatusActive {
		now := time.Now()
		end := now.AddDate(0, 0, sub.Plan.DurationDays)
		updates["start_date"] = now
		updates["end_date"] = end
	}

	// 只有交易号变化的簿记不足以落库，避免重复投递反复写。
	meaningful := false
	for key := range updates {
		if key != "transaction_id" {
			meaningful = true
			break
		}
	}
	changedTransaction := updates["transaction_id"] != nil
	if !meaningful && !changedTransaction {
		return &Result{Outcome: OutcomeUnchanged, Subscription: sub}, nil
	}

	if err := r.db.WithContext(ctx).
		Model(&database.Subscription{}).
		Where("id = ?", sub.ID).
		Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("persist reconciled subscription %d: %w", sub.ID, err)
	}

	reloaded, err := r.loadSubscription(ctx, n.OrderID)
	if err != nil {
		return nil, err
	}
	return &Result{Outcome: outcome, Changed: true, Subscription: reloaded}, nil
}

func (r *Reconciler) loadSubscription(ctx context.Context, orderID string) (*database.Subscription, error) {
	subID, err := strconv.ParseUint(orderID, 10, 64)
	if err != nil {
		return nil, ErrSubscriptionNotFound
	}

	var sub database.Subscription
	if err := r.db.WithContext(ctx).
		Preload("Plan").
		First(&sub, uint(subID)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("load subscription %d: %w", subID, err)
	}
	return &sub, nil
}

// checkAmount 将通知金额与套餐价格比对；不一致只告警，不拒绝请求。
// 账务对账以网关后台为准。
func (r *Reconciler) checkAmount(orderID, grossAmount string, sub *database.Subscription) {
	amount, err := strconv.ParseFloat(grossAmount, 64)
	if err != nil {
		r.logger.Warn("unparsable gross amount in notification",
			slog.String("order_id", orderID),
			slog.String("gross_amount", grossAmount),
		)
		return
	}
	if math.Abs(amount-sub.Plan.Price) > 0.01 {
		r.logger.Warn("gross amount does not match plan price",
			slog.String("order_id", orderID),
			slog.Float64("gross_amount", amount),
			slog.Float64("plan_price", sub.Plan.Price),
		)
	}
}
