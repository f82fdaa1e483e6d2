package security

import (
	"crypto"
	"sync"
	"time"
)

var (
	testKeyOnce sync.Once
	testKey     crypto.Signer
	testKeyErr  error
)

// NewTestTokenProvider returns an ES256 TokenProvider over a key generated once per process.
// For tests only: the key is never persisted.
func NewTestTokenProvider() (*TokenProvider, error) {
	testKeyOnce.Do(func() {
		testKey, testKeyErr = GenerateSigningKey()
	})
	if testKeyErr != nil {
		return nil, testKeyErr
	}
	return NewTokenProvider(testKey, testKey.Public(), "verivault-test", "verivault-test-app", 15*time.Minute, 24*time.Hour), nil
}
