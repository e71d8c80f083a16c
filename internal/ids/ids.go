// Package ids generates the opaque identifiers used across Slate.
//
// IDs are a short type prefix followed by base58-encoded random bytes:
// job_4HWxyVYbNquF3pQ2, slot_8kDm..., rs_2Fqp.... The prefix makes logs
// and API payloads self-describing; callers must never parse past it.
package ids

import (
	"crypto/rand"

	"github.com/mr-tron/base58"

	"github.com/slatehq/slate/errors"
)

const (
	jobPrefix      = "job_"
	slotPrefix     = "slot_"
	schedulePrefix = "rs_"

	// 12 random bytes encode to 16-17 base58 characters, comfortably
	// past collision range for a single-node scheduler.
	randomBytes = 12
)

// NewJobID returns a fresh job identifier.
func NewJobID() (string, error) {
	return generate(jobPrefix)
}

// NewSlotID returns a fresh calendar slot identifier.
func NewSlotID() (string, error) {
	return generate(slotPrefix)
}

// NewScheduleID returns a fresh recurring schedule identifier.
func NewScheduleID() (string, error) {
	return generate(schedulePrefix)
}

func generate(prefix string) (string, error) {
	buf := make([]byte, randomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "failed to read random bytes for id")
	}
	return prefix + base58.Encode(buf), nil
}

// IsJobID reports whether s carries the job id prefix.
func IsJobID(s string) bool { return hasPrefix(s, jobPrefix) }

// IsSlotID reports whether s carries the slot id prefix.
func IsSlotID(s string) bool { return hasPrefix(s, slotPrefix) }

// IsScheduleID reports whether s carries the recurring schedule id prefix.
func IsScheduleID(s string) bool { return hasPrefix(s, schedulePrefix) }

func hasPrefix(s, prefix string) bool {
	return len(s) > len(prefix) && s[:len(prefix)] == prefix
}
