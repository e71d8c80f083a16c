package recurring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/slatehq/slate/errors"
)

// JobRequest is the materialised job a schedule hands to the scheduler at
// fire time. Topic is already rendered; ScheduledAt is the fire time.
type JobRequest struct {
	Topic           string
	Style           string
	DurationSeconds int
	Tags            []string
	Category        string
	Privacy         string
	Priority        int
	ScheduledAt     time.Time
	ScheduleID      string
}

// JobSubmitter accepts materialised jobs. Implemented by the content
// scheduler; an interface here keeps the dependency one-directional.
type JobSubmitter interface {
	Submit(ctx context.Context, req JobRequest) (string, error)
}

const (
	// maxCadence keeps the loop responsive to newly created schedules.
	maxCadence = time.Minute

	// minCadence floors the loop for very short interval schedules.
	minCadence = time.Second
)

// TickerConfig configures the recurring tick loop.
type TickerConfig struct {
	Location *time.Location // zone for pattern clocks and template tokens
}

// Ticker fires enabled schedules and hands the materialised jobs to the
// submitter. Cadence adapts to the smallest enabled interval schedule,
// capped at one minute.
type Ticker struct {
	store     *Store
	submitter JobSubmitter
	loc       *time.Location
	logger    *zap.SugaredLogger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu         sync.Mutex
	lastTickAt time.Time
	ticks      int64
	fires      int64
	lastNext   string // change gate for next-fire logging
}

// NewTicker creates a recurring ticker.
func NewTicker(store *Store, submitter JobSubmitter, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	return NewTickerWithContext(context.Background(), store, submitter, cfg, log)
}

// NewTickerWithContext creates a ticker with a parent context.
func NewTickerWithContext(ctx context.Context, store *Store, submitter JobSubmitter, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	tickerCtx, cancel := context.WithCancel(ctx)
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Ticker{
		store:     store,
		submitter: submitter,
		loc:       loc,
		logger:    log,
		ctx:       tickerCtx,
		cancel:    cancel,
	}
}

// Start begins the tick loop.
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.logger.Infow("Recurring ticker started", "timezone", t.loc.String())
}

// Stop gracefully stops the tick loop.
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.logger.Infow("Recurring ticker stopped")
}

func (t *Ticker) run() {
	defer t.wg.Done()

	for {
		timer := time.NewTimer(t.cadence())
		select {
		case <-t.ctx.Done():
			timer.Stop()
			return
		case now := <-timer.C:
			t.mu.Lock()
			t.lastTickAt = now
			t.ticks++
			t.mu.Unlock()

			t.logNextFire(now)
			if err := t.checkSchedules(now.UTC()); err != nil {
				t.logger.Warnw("Recurring tick error", "error", err)
			}
		}
	}
}

// cadence is min(60s, smallest enabled interval / 4), floored at 1s.
func (t *Ticker) cadence() time.Duration {
	cadence := maxCadence
	schedules, err := t.store.ListEnabled()
	if err != nil {
		return cadence
	}
	for _, s := range schedules {
		if s.Kind != KindInterval || s.IntervalSeconds <= 0 {
			continue
		}
		quarter := time.Duration(s.IntervalSeconds) * time.Second / 4
		if quarter < cadence {
			cadence = quarter
		}
	}
	if cadence < minCadence {
		cadence = minCadence
	}
	return cadence
}

// logNextFire reports the soonest pending fire, but only when it changes.
func (t *Ticker) logNextFire(now time.Time) {
	next, err := t.store.NextScheduled()
	if err != nil {
		t.logger.Warnw("Failed to look up next scheduled fire", "error", err)
		return
	}
	key := ""
	if next != nil && next.NextFireAt != nil {
		key = next.ID + next.NextFireAt.Format(time.RFC3339)
	}

	t.mu.Lock()
	changed := key != t.lastNext
	t.lastNext = key
	t.mu.Unlock()
	if !changed {
		return
	}

	if next == nil || next.NextFireAt == nil {
		t.logger.Infow("Recurring - no scheduled fires")
		return
	}
	until := next.NextFireAt.Sub(now)
	if until < 0 {
		until = 0
	}
	t.logger.Infow("Recurring - next fire",
		"schedule", next.Name,
		"in", until.Round(time.Second).String(),
		"at", next.NextFireAt.Format(time.RFC3339))
}

// checkSchedules fires every due schedule once. Individual failures are
// logged and do not stop the remaining schedules.
func (t *Ticker) checkSchedules(now time.Time) error {
	due, err := t.store.ListDue(now)
	if err != nil {
		return errors.Wrap(err, "failed to list due schedules")
	}
	for _, s := range due {
		select {
		case <-t.ctx.Done():
			return t.ctx.Err()
		default:
		}
		if err := t.fire(s, now); err != nil {
			t.logger.Errorw("Failed to fire schedule",
				"schedule_id", s.ID,
				"name", s.Name,
				"error", err)
		}
	}
	return nil
}

// fire materialises one job for a due schedule and advances its fire time.
// A fire is stale when a later fire also lies in the past: the process
// slept across several windows. Stale fires are skipped, never back-filled;
// only the next future fire is honoured.
func (t *Ticker) fire(s *Schedule, now time.Time) error {
	fireAt := *s.NextFireAt

	if later, ok := s.NextFire(fireAt, t.loc); ok && !later.After(now) {
		next, ok := s.NextFire(now, t.loc)
		if !ok {
			t.logger.Infow("Recurring schedule ended", "schedule_id", s.ID, "name", s.Name)
			return t.store.SetEnabled(s.ID, false, nil)
		}
		t.logger.Infow("Skipping stale fires after downtime",
			"schedule_id", s.ID,
			"name", s.Name,
			"stale_fire_at", fireAt.Format(time.RFC3339),
			"next_fire_at", next.Format(time.RFC3339))
		return t.store.SetEnabled(s.ID, true, &next)
	}

	topic := RenderTemplate(s.Template.Topic, fireAt.In(t.loc))
	jobID, err := t.submitter.Submit(t.ctx, JobRequest{
		Topic:           topic,
		Style:           s.Template.Style,
		DurationSeconds: s.Template.DurationSeconds,
		Tags:            s.Template.Tags,
		Category:        s.Template.Category,
		Privacy:         s.Template.Privacy,
		Priority:        s.Template.Priority,
		ScheduledAt:     fireAt,
		ScheduleID:      s.ID,
	})

	next, hasNext := s.NextFire(now, t.loc)
	if err != nil {
		// The fire time advances anyway: a conflicted calendar stays
		// conflicted, so retrying the same fire every tick would only spin.
		t.logger.Errorw("Failed to submit recurring job",
			"schedule_id", s.ID,
			"name", s.Name,
			"topic", topic,
			"error", err)
		if !hasNext {
			return t.store.SetEnabled(s.ID, false, nil)
		}
		return t.store.SetEnabled(s.ID, true, &next)
	}

	t.mu.Lock()
	t.fires++
	t.mu.Unlock()
	t.logger.Infow("Recurring fire OK",
		"schedule_id", s.ID,
		"name", s.Name,
		"job_id", jobID,
		"topic", topic,
		"fire_at", fireAt.Format(time.RFC3339))

	if !hasNext {
		t.logger.Infow("Recurring schedule ended", "schedule_id", s.ID, "name", s.Name)
		return t.store.UpdateAfterFire(s.ID, now, jobID, nil)
	}
	return t.store.UpdateAfterFire(s.ID, now, jobID, &next)
}

// Create computes the first fire time and persists the schedule.
func (t *Ticker) Create(s *Schedule) error {
	next, ok := s.NextFire(time.Now().UTC(), t.loc)
	if !ok {
		return errors.NewValidationError("end_date", "schedule %q would never fire", s.Name)
	}
	s.NextFireAt = &next
	if err := t.store.CreateSchedule(s); err != nil {
		return err
	}
	t.logger.Infow("Recurring schedule created",
		"schedule_id", s.ID,
		"name", s.Name,
		"pattern", s.Kind,
		"first_fire_at", next.Format(time.RFC3339))
	return nil
}

// Get returns a schedule by id.
func (t *Ticker) Get(id string) (*Schedule, error) {
	return t.store.GetSchedule(id)
}

// List returns all schedules, oldest first.
func (t *Ticker) List() ([]*Schedule, error) {
	return t.store.ListSchedules()
}

// Pause stops a schedule from firing without losing it.
func (t *Ticker) Pause(id string) error {
	if err := t.store.SetEnabled(id, false, nil); err != nil {
		return err
	}
	t.logger.Infow("Recurring schedule paused", "schedule_id", id)
	return nil
}

// Resume re-enables a schedule. The next fire is recomputed from now; fires
// missed while paused are not back-filled.
func (t *Ticker) Resume(id string) error {
	s, err := t.store.GetSchedule(id)
	if err != nil {
		return err
	}
	next, ok := s.NextFire(time.Now().UTC(), t.loc)
	if !ok {
		return errors.NewConflictError("schedule %s has passed its end date", id)
	}
	if err := t.store.SetEnabled(id, true, &next); err != nil {
		return err
	}
	t.logger.Infow("Recurring schedule resumed",
		"schedule_id", id,
		"next_fire_at", next.Format(time.RFC3339))
	return nil
}

// Delete removes a schedule. Jobs it already produced are untouched.
func (t *Ticker) Delete(id string) error {
	if err := t.store.DeleteSchedule(id); err != nil {
		return err
	}
	t.logger.Infow("Recurring schedule deleted", "schedule_id", id)
	return nil
}

// GetStats reports tick-loop counters.
func (t *Ticker) GetStats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	return map[string]interface{}{
		"last_tick_at":      t.lastTickAt,
		"ticks_since_start": t.ticks,
		"fires":             t.fires,
	}
}
