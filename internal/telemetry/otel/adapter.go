package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"verivault/core/internal/biometric/domain"
	"verivault/core/internal/telemetry"
)

// NewEventEmitter returns an EventEmitter that sends audit events as OTel log records via provider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger("verivault.audit")}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, domain.AuditEntry) error { return nil }

type otelEmitter struct {
	logger otellog.Logger
}

// Emit converts entry to a log record. Failures are recorded at WARN severity.
func (e *otelEmitter) Emit(ctx context.Context, entry domain.AuditEntry) error {
	rec := toRecord(entry)
	e.logger.Emit(ctx, rec)
	return nil
}

func toRecord(entry domain.AuditEntry) otellog.Record {
	rec := otellog.Record{}
	ts := entry.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetEventName(entry.EventType)
	if entry.Success {
		rec.SetSeverity(otellog.SeverityInfo)
		rec.SetSeverityText("INFO")
	} else {
		rec.SetSeverity(otellog.SeverityWarn)
		rec.SetSeverityText("WARN")
	}
	if entry.Detail != "" {
		rec.SetBody(otellog.StringValue(entry.Detail))
	}
	rec.AddAttributes(
		otellog.String("event_type", entry.EventType),
		otellog.Bool("success", entry.Success),
	)
	if entry.ID != "" {
		rec.AddAttributes(otellog.String("audit_id", entry.ID))
	}
	if entry.OwnerID != "" {
		rec.AddAttributes(otellog.String("owner_id", entry.OwnerID))
	}
	if entry.DeviceID != "" {
		rec.AddAttributes(otellog.String("device_id", entry.DeviceID))
	}
	return rec
}
