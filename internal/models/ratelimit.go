package models

import (
	"time"
)

// Token bucket parameters of a single named limiter
type Limit struct {
	// Max number of tokens the bucket holds, also the max burst
	Capacity int `validate:"gt=0"`

	// Tokens added per second, zero means the bucket never refills
	RefillPerSecond float64 `validate:"gte=0"`

	// Bucket is dropped from the store when not touched for this long
	IdleTTL time.Duration `validate:"gt=0"`
}

// Bucket state as seen by the store right after a take
type Bucket struct {
	Key        string
	Capacity   int
	Tokens     float64
	RefilledAt time.Time
}

type Decision struct {
	Admitted  bool
	Remaining float64

	// True if the store could not be asked and the failure policy decided
	FailedOver bool
}
