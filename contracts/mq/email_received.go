package mq

import "time"

// EmailReceivedPayload 邮件入库后发布的事件 payload
type EmailReceivedPayload struct {
	RawEmailID string    `json:"raw_email_id"`
	UserID     string    `json:"user_id"`
	MessageID  string    `json:"message_id"`
	Provider   string    `json:"provider"`
	ReceivedAt time.Time `json:"received_at"`
	TraceID    string    `json:"trace_id,omitempty"`
}
