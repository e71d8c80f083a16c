package server

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/slatehq/slate/studio/jobs"
	"github.com/slatehq/slate/version"
)

// jobUpdateInterval paces routine progress frames per job. Lifecycle frames
// and terminal transitions bypass the limiter.
const jobUpdateInterval = 5 * time.Second

// broadcastRequest is one unit of work for the broadcast worker. Exactly one
// of frame and closeClient is set; a frame with a client targets that client
// only, otherwise it fans out to everyone.
type broadcastRequest struct {
	frame       interface{}
	client      *Client
	closeClient *Client
}

// connectionFrame greets a newly registered client.
type connectionFrame struct {
	Type      string `json:"type"`
	ClientID  string `json:"client_id"`
	Version   string `json:"version"`
	Timestamp int64  `json:"timestamp"`
}

func newConnectionFrame(clientID string) connectionFrame {
	return connectionFrame{
		Type:      "connection",
		ClientID:  clientID,
		Version:   version.Get().Version,
		Timestamp: time.Now().Unix(),
	}
}

// jobFrame carries a full job snapshot on lifecycle transitions.
type jobFrame struct {
	Type      string    `json:"type"`
	Job       *jobs.Job `json:"job"`
	Timestamp int64     `json:"timestamp"`
}

// jobUpdateFrame is the compact frame for routine progress updates.
type jobUpdateFrame struct {
	Type      string      `json:"type"`
	JobID     string      `json:"job_id"`
	Status    jobs.Status `json:"status"`
	Stage     jobs.Stage  `json:"stage"`
	Progress  int         `json:"progress"`
	Timestamp int64       `json:"timestamp"`
}

// startJobEventBroadcaster subscribes to the job queue and turns change
// events into WebSocket frames.
func (s *Server) startJobEventBroadcaster() {
	events := s.queue.Subscribe()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			// Unsubscribe before close: closing while subscribed could panic
			// a concurrent publish.
			s.queue.Unsubscribe(events)
			close(events)
		}()

		for {
			select {
			case <-s.ctx.Done():
				s.logger.Debugw("Job event broadcaster stopping")
				return
			case event := <-events:
				s.broadcastJobEvent(event)
			}
		}
	}()

	s.logger.Infow("Job event broadcaster started")
}

// broadcastJobEvent maps a queue event to a frame. Lifecycle kinds carry the
// full job; routine updates send the compact frame, paced per job.
func (s *Server) broadcastJobEvent(event jobs.Event) {
	now := time.Now().Unix()

	switch event.Kind {
	case jobs.EventCreated:
		s.enqueueBroadcast(&broadcastRequest{frame: jobFrame{Type: "job_created", Job: event.Job, Timestamp: now}})
	case jobs.EventCancelled:
		s.dropLimiter(event.Job.ID)
		s.enqueueBroadcast(&broadcastRequest{frame: jobFrame{Type: "job_cancelled", Job: event.Job, Timestamp: now}})
	case jobs.EventPaused:
		s.enqueueBroadcast(&broadcastRequest{frame: jobFrame{Type: "job_paused", Job: event.Job, Timestamp: now}})
	case jobs.EventResumed:
		s.enqueueBroadcast(&broadcastRequest{frame: jobFrame{Type: "job_resumed", Job: event.Job, Timestamp: now}})
	default:
		terminal := event.Job.Status.Terminal()
		if !terminal && !s.limiterFor(event.Job.ID).Allow() {
			return
		}
		if terminal {
			s.dropLimiter(event.Job.ID)
		}
		s.enqueueBroadcast(&broadcastRequest{frame: jobUpdateFrame{
			Type:      "job_update",
			JobID:     event.Job.ID,
			Status:    event.Job.Status,
			Stage:     event.Job.Stage,
			Progress:  event.Job.ProgressPercent,
			Timestamp: now,
		}})
	}
}

// limiterFor returns the pacing limiter for a job, creating it on first use.
func (s *Server) limiterFor(jobID string) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()

	limiter, ok := s.limiters[jobID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(jobUpdateInterval), 1)
		s.limiters[jobID] = limiter
	}
	return limiter
}

// dropLimiter forgets a job's limiter once the job is terminal.
func (s *Server) dropLimiter(jobID string) {
	s.limiterMu.Lock()
	delete(s.limiters, jobID)
	s.limiterMu.Unlock()
}

// enqueueBroadcast hands a request to the broadcast worker without blocking.
func (s *Server) enqueueBroadcast(req *broadcastRequest) {
	select {
	case s.broadcastReq <- req:
	case <-s.ctx.Done():
	default:
		s.broadcastDrops.Add(1)
		s.logger.Warnw("Broadcast queue full, dropping frame")
	}
}

// runBroadcastWorker is the single goroutine allowed to send on client
// channels and to close them.
func (s *Server) runBroadcastWorker() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case req := <-s.broadcastReq:
			if req.closeClient != nil {
				req.closeClient.close()
				continue
			}
			if req.client != nil {
				s.sendToClient(req.client, req.frame)
				continue
			}
			s.mu.RLock()
			targets := make([]*Client, 0, len(s.clients))
			for client := range s.clients {
				targets = append(targets, client)
			}
			s.mu.RUnlock()
			for _, client := range targets {
				s.sendToClient(client, req.frame)
			}
		}
	}
}

func (s *Server) sendToClient(client *Client, frame interface{}) {
	select {
	case client.send <- frame:
	default:
		s.broadcastDrops.Add(1)
		s.removeSlowClient(client)
	}
}
