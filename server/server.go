// Package server exposes the HTTP API and the WebSocket event stream. The
// hub loop owns the client set; a dedicated broadcast worker owns all client
// channel sends so no other goroutine ever writes to a client channel.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/slatehq/slate/errors"
	"github.com/slatehq/slate/studio/calendar"
	"github.com/slatehq/slate/studio/jobs"
	"github.com/slatehq/slate/studio/recurring"
	"github.com/slatehq/slate/studio/scheduler"
)

// ServerState tracks the shutdown phase.
type ServerState int32

const (
	ServerStateRunning ServerState = iota
	ServerStateDraining
	ServerStateStopped
)

const (
	// MaxClients bounds concurrent WebSocket connections.
	MaxClients = 100

	// ShutdownTimeout bounds how long Stop waits for goroutines.
	ShutdownTimeout = 10 * time.Second

	// broadcastQueueSize buffers requests to the broadcast worker.
	broadcastQueueSize = 256
)

// Config sets the listen address and origin policy.
type Config struct {
	Host           string
	Port           int
	AllowedOrigins []string
}

// Server serves the REST API and fans job events out to WebSocket clients.
type Server struct {
	sched  *scheduler.Scheduler
	ticker *recurring.Ticker
	cal    *calendar.Manager
	queue  *jobs.Queue
	cfg    Config
	logger *zap.SugaredLogger

	clients      map[*Client]bool
	register     chan *Client
	unregister   chan *Client
	broadcastReq chan *broadcastRequest
	mu           sync.RWMutex

	// Per-job limiters pacing job_update frames.
	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	httpServer *http.Server

	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	state          atomic.Int32
	broadcastDrops atomic.Int64
}

// New creates a server. Call Start to begin listening.
func New(sched *scheduler.Scheduler, ticker *recurring.Ticker, cal *calendar.Manager, queue *jobs.Queue, cfg Config, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Server{
		sched:        sched,
		ticker:       ticker,
		cal:          cal,
		queue:        queue,
		cfg:          cfg,
		logger:       logger,
		clients:      make(map[*Client]bool),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		broadcastReq: make(chan *broadcastRequest, broadcastQueueSize),
		limiters:     make(map[string]*rate.Limiter),
	}
}

// Run is the hub event loop. It serialises client registration so the client
// map has a single writer.
func (s *Server) Run() {
	go s.runBroadcastWorker()

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debugw("Server hub stopping")
			return
		case client := <-s.register:
			s.handleClientRegister(client)
		case client := <-s.unregister:
			s.handleClientUnregister(client)
		}
	}
}

func (s *Server) handleClientRegister(client *Client) {
	s.mu.Lock()
	if len(s.clients) >= MaxClients {
		s.mu.Unlock()
		s.logger.Warnw("Max clients reached, rejecting connection",
			"client_id", client.id,
			"max_clients", MaxClients)
		client.close()
		return
	}
	s.clients[client] = true
	total := len(s.clients)
	s.mu.Unlock()

	s.logger.Infow("Client connected", "client_id", client.id, "total_clients", total)

	// Targeted connection frame so the client learns its id and our version.
	s.enqueueBroadcast(&broadcastRequest{frame: newConnectionFrame(client.id), client: client})
}

func (s *Server) handleClientUnregister(client *Client) {
	s.mu.Lock()
	if _, ok := s.clients[client]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, client)
	total := len(s.clients)
	s.mu.Unlock()

	// Let the broadcast worker close the channel: it is the only sender.
	select {
	case s.broadcastReq <- &broadcastRequest{closeClient: client}:
	case <-s.ctx.Done():
		client.close()
	}

	s.logger.Infow("Client disconnected", "client_id", client.id, "total_clients", total)
}

// removeSlowClient drops a client whose send buffer is full. Only called from
// the broadcast worker, so closing the channel directly is safe.
func (s *Server) removeSlowClient(client *Client) {
	s.mu.Lock()
	if _, ok := s.clients[client]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, client)
	s.mu.Unlock()

	client.close()
	s.logger.Warnw("Client send channel full, removing client",
		"client_id", client.id,
		"total_drops", s.broadcastDrops.Load())
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Start launches the hub, the job event broadcaster, and the HTTP listener.
// Blocks until the listener fails or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.setState(ServerStateRunning)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run()
	}()
	s.startJobEventBroadcaster()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	s.logger.Infow("Server listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server failed")
	}
	return nil
}

// Stop drains the server: new work is refused, client connections close, and
// goroutines get ShutdownTimeout to exit.
func (s *Server) Stop() error {
	s.setState(ServerStateDraining)

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warnw("HTTP shutdown did not complete cleanly", "error", err)
		}
	}

	// Close connections first so readPumps unblock before the context drops.
	s.mu.Lock()
	toClose := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		toClose = append(toClose, client)
		delete(s.clients, client)
	}
	s.mu.Unlock()
	for _, client := range toClose {
		client.conn.Close()
	}

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Infow("All server goroutines stopped")
	case <-time.After(ShutdownTimeout):
		s.logger.Warnw("Server goroutine shutdown timed out", "timeout", ShutdownTimeout)
	}

	s.setState(ServerStateStopped)
	s.logger.Infow("Server shutdown complete", "broadcast_drops", s.broadcastDrops.Load())
	return nil
}

func (s *Server) getState() ServerState {
	return ServerState(s.state.Load())
}

func (s *Server) setState(state ServerState) {
	s.state.Store(int32(state))
	s.logger.Infow("Server state changed", "state", stateString(state))
}

func stateString(state ServerState) string {
	switch state {
	case ServerStateRunning:
		return "running"
	case ServerStateDraining:
		return "draining"
	case ServerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
