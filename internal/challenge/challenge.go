// Package challenge presents the user-facing biometric verification step.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"verivault/core/internal/biometric/domain"
)

// Purpose says why the challenge is shown.
type Purpose string

const (
	PurposeAuthenticate Purpose = "authenticate"
	PurposeEnroll       Purpose = "enroll"
)

// Prompt is what the challenger shows the user.
type Prompt struct {
	OwnerID string
	Factor  domain.FactorType
	Purpose Purpose
	Title   string
}

// Challenger presents a biometric prompt. It returns nil when the user passed verification and
// domain.ErrChallengeRejected when they declined or failed it. A real platform biometric API and
// the consent stand-in both satisfy it.
type Challenger interface {
	Present(ctx context.Context, p Prompt) error
}

// ConfirmFunc asks the user to accept or decline. It is the consent stand-in for a platform prompt.
type ConfirmFunc func(ctx context.Context, p Prompt) (bool, error)

// ConsentChallenger adapts a ConfirmFunc into a Challenger.
type ConsentChallenger struct {
	confirm ConfirmFunc
}

// NewConsentChallenger returns a Challenger backed by confirm.
func NewConsentChallenger(confirm ConfirmFunc) *ConsentChallenger {
	return &ConsentChallenger{confirm: confirm}
}

// Present asks for consent. A decline maps to domain.ErrChallengeRejected.
func (c *ConsentChallenger) Present(ctx context.Context, p Prompt) error {
	if c.confirm == nil {
		return domain.ErrCapabilityUnavailable
	}
	ok, err := c.confirm(ctx, p)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrChallengeRejected
	}
	return nil
}

// DefaultTitle returns the prompt title for purpose and factor.
func DefaultTitle(purpose Purpose, f domain.FactorType) string {
	name := "biometrics"
	switch f {
	case domain.FactorFingerprint:
		name = "your fingerprint"
	case domain.FactorFace:
		name = "Face ID"
	case domain.FactorIris:
		name = "iris scan"
	}
	if purpose == PurposeEnroll {
		return fmt.Sprintf("Set up sign-in with %s", name)
	}
	return fmt.Sprintf("Sign in with %s", name)
}

// Run presents p through c with a bounded timeout. The result is nil on acceptance, otherwise an
// error wrapping domain.ErrChallengeRejected, domain.ErrChallengeTimedOut, or
// domain.ErrCapabilityUnavailable. A challenger that ignores ctx cannot hold the caller past timeout.
func Run(ctx context.Context, c Challenger, p Prompt, timeout time.Duration) error {
	if c == nil {
		return fmt.Errorf("%w: no challenger configured", domain.ErrCapabilityUnavailable)
	}
	if p.Title == "" {
		p.Title = DefaultTitle(p.Purpose, p.Factor)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- fmt.Errorf("%w: challenger panicked: %v", domain.ErrCapabilityUnavailable, r)
			}
		}()
		ch <- c.Present(ctx, p)
	}()

	select {
	case err := <-ch:
		return classify(err)
	case <-ctx.Done():
		return fmt.Errorf("%w after %s", domain.ErrChallengeTimedOut, timeout)
	}
}

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrChallengeRejected),
		errors.Is(err, domain.ErrChallengeTimedOut),
		errors.Is(err, domain.ErrCapabilityUnavailable):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", domain.ErrChallengeTimedOut, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrChallengeRejected, err)
	}
}
