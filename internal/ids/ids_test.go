package ids

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobID(t *testing.T) {
	id, err := NewJobID()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(id, "job_"))
	assert.Greater(t, len(id), len("job_")+10)
	assert.True(t, IsJobID(id))
	assert.False(t, IsSlotID(id))
	assert.False(t, IsScheduleID(id))
}

func TestNewSlotID(t *testing.T) {
	id, err := NewSlotID()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(id, "slot_"))
	assert.True(t, IsSlotID(id))
}

func TestNewScheduleID(t *testing.T) {
	id, err := NewScheduleID()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(id, "rs_"))
	assert.True(t, IsScheduleID(id))
}

func TestIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id, err := NewJobID()
		require.NoError(t, err)
		require.False(t, seen[id], "duplicate id generated: %s", id)
		seen[id] = true
	}
}

func TestPrefixChecksRejectBarePrefix(t *testing.T) {
	// A prefix with no random suffix is not a valid id
	assert.False(t, IsJobID("job_"))
	assert.False(t, IsSlotID("slot_"))
	assert.False(t, IsScheduleID("rs_"))
	assert.False(t, IsJobID(""))
}
