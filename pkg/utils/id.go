package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateID returns "<prefix>_<uuid>".
func GenerateID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString())
}

// NewIdempotencyKey returns a fresh key for one logical bid settlement.
func NewIdempotencyKey() string {
	return uuid.NewString()
}
