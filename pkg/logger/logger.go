package logger

import (
	"context"

	"go.uber.org/zap"

	"digestgenie/pkg/trace"
)

var Log *zap.Logger

// NewLogger 根据环境创建 logger：local 使用开发模式，其它环境使用 JSON 生产模式
func NewLogger(env string) *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	if env == "local" || env == "test" {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	Log = l
	return l
}

// Named returns a child of the global logger, or a no-op logger before NewLogger ran.
func Named(name string) *zap.Logger {
	if Log == nil {
		return zap.NewNop().Named(name)
	}
	return Log.Named(name)
}

// WithTrace 从 context 中提取 trace_id 并添加到 logger
func WithTrace(ctx context.Context, logger *zap.Logger) *zap.Logger {
	traceID := trace.FromContext(ctx)
	if traceID != "" {
		return logger.With(zap.String("trace_id", traceID))
	}
	return logger
}
