package logger

import "context"

type contextKey string

const TraceIDKey contextKey = "trace_id"
const MerchantIDKey contextKey = "merchant_id"

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}

func GetTraceID(ctx context.Context) string {
	if id, ok := ctx.Value(TraceIDKey).(string); ok {
		return id
	}
	return ""
}

func WithMerchantID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, MerchantIDKey, id)
}

func GetMerchantID(ctx context.Context) string {
	if id, ok := ctx.Value(MerchantIDKey).(string); ok {
		return id
	}
	return ""
}
