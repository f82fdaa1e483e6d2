// Package audit records biometric lifecycle events to the account store's audit log and to
// secondary telemetry sinks.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"verivault/core/internal/biometric/domain"
	"verivault/core/internal/logger"
	"verivault/core/internal/telemetry"
)

// Sink is the durable audit log, normally the account store bridge.
type Sink interface {
	AppendAuditLogEntry(ctx context.Context, entry domain.AuditEntry) error
}

// AuditLogger writes a single audit event. LogEvent is best-effort: failures are logged and do not
// affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, ownerID, deviceID, eventType string, success bool, detail string)
}

// Logger implements AuditLogger over a Sink plus an optional telemetry emitter.
type Logger struct {
	sink    Sink
	emitter telemetry.EventEmitter
	timeout time.Duration
	logger  *zap.Logger
	nowF    func() time.Time
}

// NewLogger returns a Logger that persists to sink and mirrors events to emitter.
// emitter may be nil. timeout bounds the sink write; <= 0 uses 10 seconds.
func NewLogger(sink Sink, emitter telemetry.EventEmitter, timeout time.Duration, log *zap.Logger) *Logger {
	if timeout <= 0 {
		timeout = domain.DefaultSettings().BridgeTimeout
	}
	return &Logger{
		sink:    sink,
		emitter: emitter,
		timeout: timeout,
		logger:  logger.OrNop(log),
		nowF:    func() time.Time { return time.Now().UTC() },
	}
}

// LogEvent writes one audit entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, ownerID, deviceID, eventType string, success bool, detail string) {
	if l == nil {
		return
	}
	entry := domain.AuditEntry{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		DeviceID:  deviceID,
		EventType: eventType,
		Success:   success,
		Detail:    detail,
		CreatedAt: l.nowF(),
	}
	if l.sink != nil {
		sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
		err := l.sink.AppendAuditLogEntry(sinkCtx, entry)
		cancel()
		if err != nil {
			l.logger.Warn("audit: failed to log event",
				zap.String("event_type", eventType),
				logger.Owner(ownerID),
				zap.Error(err),
			)
		}
	}
	telemetry.EmitAsync(l.emitter, entry, l.logger)
}

var _ AuditLogger = (*Logger)(nil)
