// Package telemetry carries audit events to secondary sinks (OTel logs, Kafka) and holds the
// counters and spans recorded around each biometric attempt.
package telemetry

import (
	"context"
	"errors"

	"verivault/core/internal/biometric/domain"
)

// EventEmitter emits audit events to a secondary sink. Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, entry domain.AuditEntry) error
}

// Fanout emits to every non-nil emitter and joins their errors.
type Fanout []EventEmitter

// Emit sends entry to each emitter in order.
func (f Fanout) Emit(ctx context.Context, entry domain.AuditEntry) error {
	var errs []error
	for _, e := range f {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
