package calendar

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/slatehq/slate/errors"
	"github.com/slatehq/slate/internal/ids"
)

// suggestionSpan is the nominal slot length used when judging whether a
// suggested time would fit. Actual reservations carry their own duration.
const suggestionSpan = time.Hour

// Config sets the reservation rules.
type Config struct {
	MinGap         time.Duration  // minimum start-to-start spacing between non-cancelled slots
	MaxPerDay      int            // non-cancelled slots per local date; 0 = unlimited
	SlotBuffer     time.Duration  // post-production buffer added to every reservation
	PreferredHours []int          // local hours offered by Suggest when the caller names none
	BlackoutDates  []string       // YYYY-MM-DD local dates that refuse reservations
	Location       *time.Location // local date arithmetic; nil = UTC
}

// DefaultConfig returns the standard reservation rules.
func DefaultConfig() Config {
	return Config{
		MinGap:         6 * time.Hour,
		MaxPerDay:      3,
		SlotBuffer:     30 * time.Minute,
		PreferredHours: []int{10, 14, 18},
		Location:       time.UTC,
	}
}

// Manager owns calendar slots. All operations serialise on one mutex; the
// in-memory index is authoritative at runtime and the store is replayed into
// it on startup.
type Manager struct {
	cfg      Config
	store    *Store
	logger   *zap.SugaredLogger
	loc      *time.Location
	blackout map[string]struct{}

	mu       sync.Mutex
	byID     map[string]*Slot
	ordered  []*Slot        // non-cancelled slots ascending by StartTime
	dayCount map[string]int // local date -> non-cancelled slot count
}

// NewManager creates a slot manager. A nil store keeps slots in memory only;
// a nil logger disables logging. Call Load before serving when a store is
// attached.
func NewManager(cfg Config, store *Store, logger *zap.SugaredLogger) *Manager {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	blackout := make(map[string]struct{}, len(cfg.BlackoutDates))
	for _, date := range cfg.BlackoutDates {
		blackout[date] = struct{}{}
	}
	return &Manager{
		cfg:      cfg,
		store:    store,
		logger:   logger,
		loc:      cfg.Location,
		blackout: blackout,
		byID:     make(map[string]*Slot),
		dayCount: make(map[string]int),
	}
}

// Load rebuilds the in-memory index from the store. Rows are loaded as-is,
// even if they violate spacing rules; Conflicts surfaces such rows.
func (m *Manager) Load() error {
	if m.store == nil {
		return nil
	}
	slots, err := m.store.ListSlots()
	if err != nil {
		return errors.Wrap(err, "failed to load calendar slots")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.byID = make(map[string]*Slot, len(slots))
	m.ordered = nil
	m.dayCount = make(map[string]int)
	for _, slot := range slots {
		m.byID[slot.ID] = slot
		if slot.Status != SlotCancelled {
			m.insertLocked(slot)
		}
	}
	m.logger.Debugw("Calendar index loaded", "slots", len(slots))
	return nil
}

// Reserve books a slot starting at start. The stored window is the duration
// plus the configured post-production buffer. Returns a conflict error when
// the reservation would violate spacing, per-day, or blackout rules.
func (m *Manager) Reserve(start time.Time, duration time.Duration, jobID, topic string) (*Slot, error) {
	if duration <= 0 {
		return nil, errors.NewValidationError("duration", "slot duration must be positive, got %s", duration)
	}
	start = start.UTC()
	end := start.Add(duration + m.cfg.SlotBuffer)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkConstraintsLocked(start, end); err != nil {
		return nil, err
	}

	id, err := ids.NewSlotID()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	slot := &Slot{
		ID:        id,
		JobID:     jobID,
		StartTime: start,
		EndTime:   end,
		Topic:     topic,
		Status:    SlotReserved,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if m.store != nil {
		if err := m.store.CreateSlot(slot); err != nil {
			return nil, err
		}
	}
	m.byID[slot.ID] = slot
	m.insertLocked(slot)

	out := *slot
	return &out, nil
}

// Release cancels a slot, freeing its window. Releasing an already-cancelled
// slot is a no-op.
func (m *Manager) Release(slotID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, ok := m.byID[slotID]
	if !ok {
		return errors.NewNotFoundError("slot not found: %s", slotID)
	}
	if slot.Status == SlotCancelled {
		return nil
	}

	updated := *slot
	updated.Status = SlotCancelled
	updated.UpdatedAt = time.Now().UTC()
	if err := m.persist(&updated); err != nil {
		return err
	}
	m.removeLocked(slot)
	*slot = updated
	return nil
}

// CompleteSlot marks a slot's production as done. The slot keeps occupying
// its window. Completing twice is a no-op; completing a cancelled slot is a
// conflict.
func (m *Manager) CompleteSlot(slotID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, ok := m.byID[slotID]
	if !ok {
		return errors.NewNotFoundError("slot not found: %s", slotID)
	}
	switch slot.Status {
	case SlotCompleted:
		return nil
	case SlotCancelled:
		return errors.NewConflictError("slot %s is cancelled", slotID)
	}

	updated := *slot
	updated.Status = SlotCompleted
	updated.UpdatedAt = time.Now().UTC()
	if err := m.persist(&updated); err != nil {
		return err
	}
	*slot = updated
	return nil
}

// Bind attaches a job to a reserved slot.
func (m *Manager) Bind(slotID, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, ok := m.byID[slotID]
	if !ok {
		return errors.NewNotFoundError("slot not found: %s", slotID)
	}
	if slot.Status != SlotReserved {
		return errors.NewConflictError("slot %s is %s, not reserved", slotID, slot.Status)
	}

	updated := *slot
	updated.JobID = jobID
	updated.UpdatedAt = time.Now().UTC()
	if err := m.persist(&updated); err != nil {
		return err
	}
	*slot = updated
	return nil
}

// SlotForJob returns the non-cancelled slot bound to a job, or a not-found
// error when the job holds no active slot.
func (m *Manager) SlotForJob(jobID string) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, slot := range m.byID {
		if slot.JobID == jobID && slot.Status != SlotCancelled {
			out := *slot
			return &out, nil
		}
	}
	return nil, errors.NewNotFoundError("no active slot for job %s", jobID)
}

// Get returns a snapshot of the slot.
func (m *Manager) Get(slotID string) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, ok := m.byID[slotID]
	if !ok {
		return nil, errors.NewNotFoundError("slot not found: %s", slotID)
	}
	out := *slot
	return &out, nil
}

// DayView returns all slots on the local date of t, ordered by start time.
// Cancelled slots are included; their status tells them apart.
func (m *Manager) DayView(t time.Time) []*Slot {
	date := m.localDate(t)
	return m.collect(func(s *Slot) bool { return m.localDate(s.StartTime) == date })
}

// WeekView returns all slots in the 7 local dates starting at t.
func (m *Manager) WeekView(t time.Time) []*Slot {
	dates := make(map[string]struct{}, 7)
	day := t.In(m.loc)
	for i := 0; i < 7; i++ {
		dates[day.AddDate(0, 0, i).Format("2006-01-02")] = struct{}{}
	}
	return m.collect(func(s *Slot) bool {
		_, ok := dates[m.localDate(s.StartTime)]
		return ok
	})
}

// MonthView returns all slots in the given local month.
func (m *Manager) MonthView(year int, month time.Month) []*Slot {
	return m.collect(func(s *Slot) bool {
		local := s.StartTime.In(m.loc)
		return local.Year() == year && local.Month() == month
	})
}

// Conflicts returns adjacent slot pairs violating the spacing invariant.
// The manager never creates such pairs itself; they appear when slot rows
// are edited or inserted outside the API.
func (m *Manager) Conflicts() []Conflict {
	m.mu.Lock()
	defer m.mu.Unlock()

	var conflicts []Conflict
	for i := 1; i < len(m.ordered); i++ {
		prev, cur := m.ordered[i-1], m.ordered[i]
		switch {
		case prev.EndTime.After(cur.StartTime):
			conflicts = append(conflicts, Conflict{SlotA: *prev, SlotB: *cur, Reason: "overlap"})
		case cur.StartTime.Sub(prev.StartTime) < m.cfg.MinGap:
			conflicts = append(conflicts, Conflict{
				SlotA:  *prev,
				SlotB:  *cur,
				Reason: "gap " + cur.StartTime.Sub(prev.StartTime).String() + " below minimum " + m.cfg.MinGap.String(),
			})
		}
	}
	return conflicts
}

// Suggest returns up to count open times within horizonDays local dates
// starting at from, earliest first. Candidates are judged against reserved
// state only, never against each other, so two suggestions may be mutually
// exclusive. Pass nil hours to use the configured preferred hours.
func (m *Manager) Suggest(count int, from time.Time, horizonDays int, hours []int) []time.Time {
	if count <= 0 || horizonDays <= 0 {
		return nil
	}
	if hours == nil {
		hours = m.cfg.PreferredHours
	}
	candidates := make([]int, 0, len(hours))
	seen := make(map[int]struct{}, len(hours))
	for _, h := range hours {
		if h < 0 || h > 23 {
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		candidates = append(candidates, h)
	}
	sort.Ints(candidates)

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []time.Time
	day := from.In(m.loc)
	for d := 0; d < horizonDays && len(out) < count; d++ {
		date := day.AddDate(0, 0, d)
		for _, hour := range candidates {
			if len(out) >= count {
				break
			}
			candidate := time.Date(date.Year(), date.Month(), date.Day(), hour, 0, 0, 0, m.loc)
			if candidate.Before(from) {
				continue
			}
			if err := m.checkConstraintsLocked(candidate.UTC(), candidate.Add(suggestionSpan).UTC()); err != nil {
				continue
			}
			out = append(out, candidate.UTC())
		}
	}
	return out
}

// Cleanup drops terminal slots whose window ended before the retention
// cutoff, from the store and the in-memory index. Returns the number removed.
func (m *Manager) Cleanup(olderThan time.Duration) (int, error) {
	removed := 0
	if m.store != nil {
		var err error
		if removed, err = m.store.CleanupOldSlots(olderThan); err != nil {
			return 0, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	for id, slot := range m.byID {
		if slot.Status == SlotReserved || !slot.EndTime.Before(cutoff) {
			continue
		}
		if slot.Status != SlotCancelled {
			m.removeLocked(slot)
		}
		delete(m.byID, id)
		if m.store == nil {
			removed++
		}
	}
	return removed, nil
}

// SlotCounts returns the number of slots in each status.
func (m *Manager) SlotCounts() map[SlotStatus]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[SlotStatus]int)
	for _, slot := range m.byID {
		counts[slot.Status]++
	}
	return counts
}

// checkConstraintsLocked rejects a window that lands on a blackout date,
// exceeds the per-day cap, overlaps a neighbour, or sits closer than MinGap
// to either neighbouring start. Neighbour checks cross date boundaries.
func (m *Manager) checkConstraintsLocked(start, end time.Time) error {
	date := m.localDate(start)
	if _, blocked := m.blackout[date]; blocked {
		return errors.NewConflictError("date %s is blacked out", date)
	}
	if m.cfg.MaxPerDay > 0 && m.dayCount[date] >= m.cfg.MaxPerDay {
		return errors.NewConflictError("date %s already has %d slots (max %d)", date, m.dayCount[date], m.cfg.MaxPerDay)
	}

	idx := sort.Search(len(m.ordered), func(i int) bool {
		return !m.ordered[i].StartTime.Before(start)
	})
	if idx > 0 {
		prev := m.ordered[idx-1]
		if prev.EndTime.After(start) {
			return errors.NewConflictError("overlaps slot %s ending %s", prev.ID, prev.EndTime.Format(time.RFC3339))
		}
		if gap := start.Sub(prev.StartTime); gap < m.cfg.MinGap {
			return errors.NewConflictError("only %s after slot %s (minimum gap %s)", gap, prev.ID, m.cfg.MinGap)
		}
	}
	if idx < len(m.ordered) {
		next := m.ordered[idx]
		if next.StartTime.Before(end) {
			return errors.NewConflictError("overlaps slot %s starting %s", next.ID, next.StartTime.Format(time.RFC3339))
		}
		if gap := next.StartTime.Sub(start); gap < m.cfg.MinGap {
			return errors.NewConflictError("only %s before slot %s (minimum gap %s)", gap, next.ID, m.cfg.MinGap)
		}
	}
	return nil
}

// insertLocked adds a non-cancelled slot to the ordered index.
func (m *Manager) insertLocked(slot *Slot) {
	idx := sort.Search(len(m.ordered), func(i int) bool {
		return !m.ordered[i].StartTime.Before(slot.StartTime)
	})
	m.ordered = append(m.ordered, nil)
	copy(m.ordered[idx+1:], m.ordered[idx:])
	m.ordered[idx] = slot
	m.dayCount[m.localDate(slot.StartTime)]++
}

// removeLocked drops a slot from the ordered index.
func (m *Manager) removeLocked(slot *Slot) {
	for i, s := range m.ordered {
		if s.ID == slot.ID {
			m.ordered = append(m.ordered[:i], m.ordered[i+1:]...)
			break
		}
	}
	date := m.localDate(slot.StartTime)
	if m.dayCount[date] > 1 {
		m.dayCount[date]--
	} else {
		delete(m.dayCount, date)
	}
}

func (m *Manager) persist(slot *Slot) error {
	if m.store == nil {
		return nil
	}
	return m.store.UpdateSlot(slot)
}

// collect returns snapshots of matching slots ordered by start time.
func (m *Manager) collect(match func(*Slot) bool) []*Slot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Slot
	for _, slot := range m.byID {
		if match(slot) {
			s := *slot
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (m *Manager) localDate(t time.Time) string {
	return t.In(m.loc).Format("2006-01-02")
}
