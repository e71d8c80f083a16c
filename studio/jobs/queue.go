package jobs

import (
	"sync"
	"time"
)

// SubscriberChannelBufferSize is the event buffer per subscriber. Slow
// subscribers drop events rather than block job mutations.
const SubscriberChannelBufferSize = 100

// EventKind classifies a job change notification.
type EventKind string

const (
	EventCreated   EventKind = "created"
	EventUpdated   EventKind = "updated"
	EventPaused    EventKind = "paused"
	EventResumed   EventKind = "resumed"
	EventCancelled EventKind = "cancelled"
)

// Event is a job change notification. Job is a snapshot taken at publish
// time; subscribers own it and never see later mutations.
type Event struct {
	Kind EventKind
	Job  *Job
}

// Queue funnels job mutations through the store and fans out change events
// to subscribers. All writes go through the queue so every persisted change
// produces exactly one event.
type Queue struct {
	store       *Store
	mu          sync.RWMutex
	subscribers []chan Event
}

// NewQueue creates a queue over the given store.
func NewQueue(store *Store) *Queue {
	return &Queue{store: store}
}

// Create persists a new job and publishes a created event.
func (q *Queue) Create(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.CreateJob(job); err != nil {
		return err
	}
	q.publish(EventCreated, job)
	return nil
}

// Save persists a changed job and publishes an updated event.
func (q *Queue) Save(job *Job) error {
	return q.SaveEvent(job, EventUpdated)
}

// SaveEvent persists a changed job and publishes an event of the given kind.
// Lifecycle transitions (pause, resume, cancel) use their own kinds so
// subscribers can tell them apart from routine progress updates.
func (q *Queue) SaveEvent(job *Job, kind EventKind) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.UpdateJob(job); err != nil {
		return err
	}
	q.publish(kind, job)
	return nil
}

// Get retrieves a job by ID.
func (q *Queue) Get(jobID string) (*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.store.GetJob(jobID)
}

// List retrieves jobs newest-first, optionally filtered by status.
func (q *Queue) List(status *Status, limit int) ([]*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.store.ListJobs(status, limit)
}

// Due retrieves scheduled jobs whose due time has arrived, in dispatch
// order.
func (q *Queue) Due(now time.Time, limit int) ([]*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.store.ListDue(now, limit)
}

// Counts returns the number of jobs in each status.
func (q *Queue) Counts() (map[Status]int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.store.CountByStatus()
}

// MarkInterrupted fails jobs left running by a previous process.
func (q *Queue) MarkInterrupted() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.MarkInterrupted()
}

// Cleanup deletes terminal jobs older than the retention cutoff.
func (q *Queue) Cleanup(olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.CleanupOldJobs(olderThan)
}

// Subscribe returns a channel receiving job change events. The channel is
// buffered; events are dropped for subscribers that fall behind.
func (q *Queue) Subscribe() chan Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan Event, SubscriberChannelBufferSize)
	q.subscribers = append(q.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel. The caller closes the channel
// once Unsubscribe returns.
func (q *Queue) Unsubscribe(ch chan Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, sub := range q.subscribers {
		if sub == ch {
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			break
		}
	}
}

// publish fans an event out to all subscribers without blocking. Callers
// hold q.mu.
func (q *Queue) publish(kind EventKind, job *Job) {
	snapshot := *job
	event := Event{Kind: kind, Job: &snapshot}

	for _, ch := range q.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full; drop rather than stall writes.
		}
	}
}
