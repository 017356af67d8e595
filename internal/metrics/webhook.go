package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	webhookReconcileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "phjobs",
			Subsystem: "payment",
			Name:      "webhook_reconcile_total",
			Help:      "支付回调对账结果总数。",
		},
		[]string{"outcome"},
	)

	webhookRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "phjobs",
			Subsystem: "payment",
			Name:      "webhook_rejected_total",
			Help:      "被拒绝的支付回调总数。",
		},
		[]string{"reason"},
	)
)

// ObserveWebhookOutcome 记录一次对账结果。
func ObserveWebhookOutcome(outcome string) {
	webhookReconcileTotal.WithLabelValues(outcome).Inc()
}

// ObserveWebhookRejected 记录一次被拒绝的回调（签名、请求体等）。
func ObserveWebhookRejected(reason string) {
	webhookRejectedTotal.WithLabelValues(reason).Inc()
}
