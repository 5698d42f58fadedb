package logging

import (
	"context"
)

const (
	RequestIDKey   = "request_id"
	RecordIDKey    = "record_id"
	FingerprintKey = "fingerprint"
	ServiceNameKey = "service_name"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func WithRecordID(ctx context.Context, recordID string) context.Context {
	return context.WithValue(ctx, RecordIDKey, recordID)
}

func WithFingerprint(ctx context.Context, fingerprint string) context.Context {
	return context.WithValue(ctx, FingerprintKey, fingerprint)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ServiceNameKey, serviceName)
}

func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

func GetRecordID(ctx context.Context) string {
	if recordID, ok := ctx.Value(RecordIDKey).(string); ok {
		return recordID
	}
	return ""
}

func GetFingerprint(ctx context.Context) string {
	if fingerprint, ok := ctx.Value(FingerprintKey).(string); ok {
		return fingerprint
	}
	return ""
}

func GetServiceName(ctx context.Context) string {
	if serviceName, ok := ctx.Value(ServiceNameKey).(string); ok {
		return serviceName
	}
	return ""
}

func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 8)

	if requestID := GetRequestID(ctx); requestID != "" {
		fields = append(fields, "request_id", requestID)
	}

	if recordID := GetRecordID(ctx); recordID != "" {
		fields = append(fields, "record_id", recordID)
	}

	if fingerprint := GetFingerprint(ctx); fingerprint != "" {
		fields = append(fields, "fingerprint", fingerprint)
	}

	if serviceName := GetServiceName(ctx); serviceName != "" {
		fields = append(fields, "service_name", serviceName)
	}

	return fields
}
