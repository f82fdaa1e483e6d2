// Package producer streams audit events to a message broker.
package producer

import (
	"context"

	"verivault/core/internal/biometric/domain"
)

// Producer emits audit events. Callers use it best-effort: log and ignore errors.
type Producer interface {
	// Emit sends a single event. Implementations may block briefly; call from a goroutine if needed.
	Emit(ctx context.Context, entry domain.AuditEntry) error
	// Close releases resources. Safe to call if already closed.
	Close() error
}
