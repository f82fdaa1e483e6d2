package domain

import "time"

// Device is this install's identity. Credentials are scoped to Device.ID and an assertion signed on
// one device is never accepted for another.
type Device struct {
	ID        string    `json:"id"`
	Platform  string    `json:"platform"`
	CreatedAt time.Time `json:"created_at"`
}
