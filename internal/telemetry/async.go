package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"verivault/core/internal/biometric/domain"
	"verivault/core/internal/logger"
)

// emitTimeout is the max time allowed for a single async emit.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait before shutting down providers so in-flight async emits
// can complete. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// EmitAsync runs Emit in a goroutine with a short timeout so the caller is not blocked.
// The goroutine uses a fresh context so cancellation of the attempt does not abort the emit.
// emitter may be nil; EmitAsync then returns without starting a goroutine.
func EmitAsync(emitter EventEmitter, entry domain.AuditEntry, log *zap.Logger) {
	if emitter == nil {
		return
	}
	log = logger.OrNop(log)
	go func() {
		emitCtx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, entry); err != nil {
			log.Warn("telemetry: async emit failed", zap.String("event_type", entry.EventType), zap.Error(err))
		}
	}()
}
