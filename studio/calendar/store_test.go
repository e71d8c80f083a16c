package calendar

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slatehq/slate/errors"
	slatetest "github.com/slatehq/slate/internal/testing"
	"github.com/slatehq/slate/studio/jobs"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(slatetest.CreateTestDB(t))
}

// seedJob inserts a minimal jobs row so slots may reference it via the
// calendar_slots.job_id foreign key.
func seedJob(t *testing.T, db *sql.DB, id string) {
	t.Helper()
	job, err := jobs.NewJob("job for "+id, time.Now().UTC())
	require.NoError(t, err)
	job.ID = id
	require.NoError(t, jobs.NewStore(db).CreateJob(job))
}

func storedSlot(id string, start time.Time, status SlotStatus) *Slot {
	now := time.Now().UTC()
	return &Slot{
		ID:        id,
		StartTime: start,
		EndTime:   start.Add(90 * time.Minute),
		Topic:     "topic for " + id,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSlotStoreRoundTrip(t *testing.T) {
	db := slatetest.CreateTestDB(t)
	store := NewStore(db)
	seedJob(t, db, "job_42")

	slot := storedSlot("slot_rt", at(1, 10), SlotReserved)
	slot.JobID = "job_42"
	require.NoError(t, store.CreateSlot(slot))

	got, err := store.GetSlot("slot_rt")
	require.NoError(t, err)
	assert.Equal(t, "job_42", got.JobID)
	assert.Equal(t, slot.Topic, got.Topic)
	assert.Equal(t, SlotReserved, got.Status)
	assert.True(t, got.StartTime.Equal(slot.StartTime))
	assert.True(t, got.EndTime.Equal(slot.EndTime))
}

func TestSlotStore_EmptyJobIDStoredAsNull(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.CreateSlot(storedSlot("slot_nojob", at(1, 10), SlotReserved)))

	got, err := store.GetSlot("slot_nojob")
	require.NoError(t, err)
	assert.Empty(t, got.JobID)
}

func TestSlotStore_GetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetSlot("slot_missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestSlotStore_Update(t *testing.T) {
	db := slatetest.CreateTestDB(t)
	store := NewStore(db)
	seedJob(t, db, "job_9")

	slot := storedSlot("slot_up", at(1, 10), SlotReserved)
	require.NoError(t, store.CreateSlot(slot))

	slot.Status = SlotCompleted
	slot.JobID = "job_9"
	slot.UpdatedAt = time.Now().UTC()
	require.NoError(t, store.UpdateSlot(slot))

	got, err := store.GetSlot("slot_up")
	require.NoError(t, err)
	assert.Equal(t, SlotCompleted, got.Status)
	assert.Equal(t, "job_9", got.JobID)
}

func TestSlotStore_UpdateNotFound(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateSlot(storedSlot("slot_ghost", at(1, 10), SlotReserved))
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestSlotStore_ListOrderedByStart(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.CreateSlot(storedSlot("slot_b", at(2, 10), SlotReserved)))
	require.NoError(t, store.CreateSlot(storedSlot("slot_c", at(3, 10), SlotCancelled)))
	require.NoError(t, store.CreateSlot(storedSlot("slot_a", at(1, 10), SlotCompleted)))

	slots, err := store.ListSlots()
	require.NoError(t, err)
	require.Len(t, slots, 3)
	assert.Equal(t, "slot_a", slots[0].ID)
	assert.Equal(t, "slot_b", slots[1].ID)
	assert.Equal(t, "slot_c", slots[2].ID)
}

func TestSlotStore_CleanupOldSlots(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	oldDone := storedSlot("slot_old_done", now.Add(-72*time.Hour), SlotCompleted)
	oldGone := storedSlot("slot_old_gone", now.Add(-72*time.Hour), SlotCancelled)
	oldLive := storedSlot("slot_old_live", now.Add(-72*time.Hour), SlotReserved)
	recent := storedSlot("slot_recent", now.Add(-2*time.Hour), SlotCompleted)
	for _, s := range []*Slot{oldDone, oldGone, oldLive, recent} {
		require.NoError(t, store.CreateSlot(s))
	}

	deleted, err := store.CleanupOldSlots(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	remaining, err := store.ListSlots()
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	assert.Equal(t, "slot_old_live", remaining[0].ID)
	assert.Equal(t, "slot_recent", remaining[1].ID)
}
