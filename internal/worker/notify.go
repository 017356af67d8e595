package worker

// 统一的 WebSocket 消息协议（通过 Redis Pub/Sub 转发给前端）。
// 注意：这里的字段名与前端解析保持一致。
type NotificationPushMessage struct {
	Type           string `json:"type"`
	NotificationID uint   `json:"notification_id"`
	Title          string `json:"title"`
	Message        string `json:"message"`
	CorrelationID  string `json:"correlation_id,omitempty"`
	ErrorCode      int    `json:"error_code"`
}
