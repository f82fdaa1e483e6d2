package main

import (
	"bufio"
	"context"
	"io"

	"verivault/core/internal/biometric/domain"
	"verivault/core/internal/capability"
)

// staticSensor reports an enrolled sensor of one factor type.
type staticSensor struct {
	factor domain.FactorType
}

func (s staticSensor) Status(ctx context.Context) (capability.SensorStatus, error) {
	return capability.SensorStatus{Present: true, Enrolled: true, Factor: s.factor}, nil
}

// staticAuthenticator answers the platform-authenticator probe with a fixed value.
type staticAuthenticator bool

func (a staticAuthenticator) UserVerifyingAvailable(ctx context.Context) (bool, error) {
	return bool(a), nil
}

// readLines feeds r line by line into the returned channel, closing it at EOF. A single reader keeps
// a timed-out confirmation from consuming the next command.
func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return ch
}
