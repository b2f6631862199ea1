package syncer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/branchpad/branchpad/pkg/logger"
)

// Connectivity reports whether the remote store is reachable and signals
// reconnection. Events fire once per offline-to-online transition; the
// executor drains the backlog on each one.
type Connectivity interface {
	Online() bool
	Events() <-chan struct{}
}

// Static is a manually toggled Connectivity, used in tests and as the
// always-online default when no realtime endpoint is configured.
type Static struct {
	mu     sync.Mutex
	online bool
	events chan struct{}
}

// NewStatic returns a Static connectivity in the given initial state.
func NewStatic(online bool) *Static {
	return &Static{online: online, events: make(chan struct{}, 1)}
}

func (s *Static) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *Static) Events() <-chan struct{} {
	return s.events
}

// SetOnline flips the state, emitting an event on the offline-to-online
// edge.
func (s *Static) SetOnline(online bool) {
	s.mu.Lock()
	wasOnline := s.online
	s.online = online
	s.mu.Unlock()
	if online && !wasOnline {
		select {
		case s.events <- struct{}{}:
		default:
		}
	}
}

// SocketMonitor derives connectivity from a websocket held open against
// the backend's realtime endpoint: socket up means online, a successful
// redial after a drop is the became-online event.
type SocketMonitor struct {
	url       string
	log       *logger.Logger
	baseDelay time.Duration
	maxDelay  time.Duration

	mu     sync.Mutex
	online bool

	events    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSocketMonitor starts monitoring the given websocket URL.
func NewSocketMonitor(url string, log *logger.Logger) *SocketMonitor {
	if log == nil {
		log = logger.NewNop()
	}
	m := &SocketMonitor{
		url:       url,
		log:       log,
		baseDelay: time.Second,
		maxDelay:  30 * time.Second,
		events:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	m.wg.Add(1)
	go m.run()
	return m
}

func (m *SocketMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *SocketMonitor) Events() <-chan struct{} {
	return m.events
}

// Close stops the monitor and marks the connection offline.
func (m *SocketMonitor) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
	})
	m.wg.Wait()
	return nil
}

func (m *SocketMonitor) run() {
	defer m.wg.Done()
	delay := m.baseDelay
	for {
		select {
		case <-m.done:
			return
		default:
		}

		conn, err := m.dial()
		if err != nil {
			m.setOnline(false)
			m.log.Debug("realtime dial failed", zap.Error(err))
			select {
			case <-m.done:
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > m.maxDelay {
				delay = m.maxDelay
			}
			continue
		}

		delay = m.baseDelay
		m.setOnline(true)
		m.hold(conn)
		m.setOnline(false)
	}
}

func (m *SocketMonitor) dial() (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, m.url, nil)
	return conn, err
}

// hold keeps the socket alive with periodic pings until it drops or the
// monitor closes.
func (m *SocketMonitor) hold(conn *websocket.Conn) {
	defer conn.Close(websocket.StatusNormalClosure, "")
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err != nil {
				m.log.Debug("realtime ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (m *SocketMonitor) setOnline(online bool) {
	m.mu.Lock()
	wasOnline := m.online
	m.online = online
	m.mu.Unlock()
	if online && !wasOnline {
		select {
		case m.events <- struct{}{}:
		default:
		}
	}
}
