package outbox

import (
	"context"
	"encoding/json"

	"digestgenie/pkg/trace"
)

// Publisher 是 MQ 发布端的最小接口，*mq.Publisher 满足它
type Publisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

// withPayloadTrace 从 payload 中提取 trace_id（如果存在）
func withPayloadTrace(ctx context.Context, payload json.RawMessage) context.Context {
	var fields struct {
		TraceID string `json:"trace_id"`
	}
	if err := json.Unmarshal(payload, &fields); err != nil || fields.TraceID == "" {
		return ctx
	}
	return trace.WithContext(ctx, fields.TraceID)
}

func publish(ctx context.Context, p Publisher, event *Event) error {
	// Payload 原样转发，避免 number 精度在 interface{} 往返中丢失
	return p.PublishWithContext(withPayloadTrace(ctx, event.Payload), event.RoutingKey, event.Payload)
}
