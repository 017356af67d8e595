package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeNotificationPush      = "notification:push"
	TypeSubscriptionExpireRun = "subscription:expire_run"
)

// NotificationPushPayload 描述向用户实时推送一条站内通知所需的最小信息。
type NotificationPushPayload struct {
	NotificationID uint   `json:"notification_id"`
	CorrelationID  string `json:"correlation_id"`
}

// NewNotificationPushTask 构造一个站内通知推送任务。
func NewNotificationPushTask(notificationID uint, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(NotificationPushPayload{
		NotificationID: notificationID,
		CorrelationID:  correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeNotificationPush, payload), nil
}

// NewSubscriptionExpireRunTask 构造一次到期订阅清理任务（由调度器周期触发）。
func NewSubscriptionExpireRunTask() *asynq.Task {
	return asynq.NewTask(TypeSubscriptionExpireRun, nil)
}
