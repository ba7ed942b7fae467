package license

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"prolicense/internal/infrastructure"
	"prolicense/internal/security"
)

// logAction logs a manager action with trace correlation and a span event.
func (m *Manager) logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		infrastructure.AddSpanEvent(ctx, "license."+action,
			attribute.String("action", action),
			attribute.String("result", result),
		)
	}

	all := []slog.Attr{
		slog.String("action", action),
		slog.String("result", result),
		slog.String("category", operationCategory(action)),
	}
	if traceID := infrastructure.GetTraceID(ctx); traceID != "" {
		all = append(all, slog.String("trace_id", traceID))
	}
	all = append(all, attrs...)

	m.logger.LogAttrs(ctx, level, result, all...)
}

// keyAttrs identifies a license key in logs without revealing it.
func keyAttrs(key string) []slog.Attr {
	return []slog.Attr{
		slog.String("license_key_masked", security.MaskKey(key)),
		slog.String("license_key_hash", hashLicenseKey(key)),
	}
}

func operationCategory(action string) string {
	switch {
	case strings.HasPrefix(action, "activat"):
		return "activation"
	case strings.HasPrefix(action, "validat"):
		return "validation"
	case strings.HasPrefix(action, "deactivat"):
		return "deactivation"
	case strings.HasPrefix(action, "sync"):
		return "sync"
	default:
		return "other"
	}
}

func (m *Manager) logDebug(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelDebug, action, result, attrs...)
}

func (m *Manager) logInfo(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelInfo, action, result, attrs...)
}

func (m *Manager) logWarn(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelWarn, action, result, attrs...)
}

func (m *Manager) logError(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelError, action, result, attrs...)
}
