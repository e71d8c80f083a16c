// Package calendar reserves publication time slots with conflict checking
// and suggests open times. The manager owns an in-memory index rebuilt from
// the store at startup; reservations write through.
package calendar

import "time"

// SlotStatus represents the lifecycle state of a calendar slot.
type SlotStatus string

const (
	SlotReserved  SlotStatus = "reserved"
	SlotCompleted SlotStatus = "completed"
	SlotCancelled SlotStatus = "cancelled"
)

// Slot is a reserved production window. Cancelled slots are kept for audit
// but stop participating in conflict checks.
type Slot struct {
	ID        string     `json:"id"`
	JobID     string     `json:"job_id,omitempty"` // unset until bound to a job
	StartTime time.Time  `json:"start_time"`
	EndTime   time.Time  `json:"end_time"`
	Topic     string     `json:"topic,omitempty"`
	Status    SlotStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Conflict reports a pair of slots violating the spacing invariant. Produced
// only when slot rows were modified outside the manager.
type Conflict struct {
	SlotA  Slot   `json:"slot_a"`
	SlotB  Slot   `json:"slot_b"`
	Reason string `json:"reason"`
}
