package calendar

import (
	"database/sql"
	"time"

	"github.com/slatehq/slate/errors"
)

// Store provides SQL persistence for calendar slots.
type Store struct {
	db *sql.DB
}

// NewStore creates a slot store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const slotColumns = `id, job_id, start_time, end_time, topic, status, created_at, updated_at`

// CreateSlot inserts a new slot.
func (s *Store) CreateSlot(slot *Slot) error {
	_, err := s.db.Exec(`
		INSERT INTO calendar_slots (`+slotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		slot.ID, nullableJobID(slot.JobID), slot.StartTime, slot.EndTime,
		slot.Topic, slot.Status, slot.CreatedAt, slot.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create slot %s", slot.ID)
	}
	return nil
}

// UpdateSlot persists the current state of a slot.
func (s *Store) UpdateSlot(slot *Slot) error {
	res, err := s.db.Exec(`
		UPDATE calendar_slots
		SET job_id = ?, start_time = ?, end_time = ?, topic = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		nullableJobID(slot.JobID), slot.StartTime, slot.EndTime,
		slot.Topic, slot.Status, slot.UpdatedAt, slot.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update slot %s", slot.ID)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check slot update result")
	}
	if affected == 0 {
		return errors.NewNotFoundError("slot not found: %s", slot.ID)
	}
	return nil
}

// GetSlot retrieves a slot by ID.
func (s *Store) GetSlot(slotID string) (*Slot, error) {
	row := s.db.QueryRow(`SELECT `+slotColumns+` FROM calendar_slots WHERE id = ?`, slotID)
	slot, err := scanSlot(row.Scan)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("slot not found: %s", slotID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get slot %s", slotID)
	}
	return slot, nil
}

// ListSlots retrieves all slots ordered by start time.
func (s *Store) ListSlots() ([]*Slot, error) {
	rows, err := s.db.Query(`SELECT ` + slotColumns + ` FROM calendar_slots ORDER BY start_time ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list slots")
	}
	defer func() { _ = rows.Close() }()

	var slots []*Slot
	for rows.Next() {
		slot, err := scanSlot(rows.Scan)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan slot")
		}
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate slots")
	}
	return slots, nil
}

// CleanupOldSlots deletes completed and cancelled slots whose window ended
// before the cutoff. Returns the number of slots removed.
func (s *Store) CleanupOldSlots(olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.Exec(`
		DELETE FROM calendar_slots
		WHERE status IN (?, ?) AND end_time < ?`,
		SlotCompleted, SlotCancelled, cutoff,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old slots")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to check slot cleanup result")
	}
	return int(affected), nil
}

func scanSlot(scan func(dest ...interface{}) error) (*Slot, error) {
	var slot Slot
	var jobID sql.NullString
	if err := scan(
		&slot.ID, &jobID, &slot.StartTime, &slot.EndTime,
		&slot.Topic, &slot.Status, &slot.CreatedAt, &slot.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if jobID.Valid {
		slot.JobID = jobID.String
	}
	return &slot, nil
}

func nullableJobID(jobID string) sql.NullString {
	return sql.NullString{String: jobID, Valid: jobID != ""}
}
