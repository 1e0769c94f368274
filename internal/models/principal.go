package models

import (
	"time"

	"github.com/google/uuid"
)

type Principal struct {
	ID            uuid.UUID
	CreatedAt     time.Time
	Username      string
	Email         string
	PasswordHash  string
	Disabled      bool
	EmailVerified bool
	ResetNonce    *string // nil if no password reset is pending
}
