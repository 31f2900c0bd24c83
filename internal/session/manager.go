package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrDuplicateSession rejects a join while a non-terminated session
	// already exists for the same (client, room) pair. The caller must await
	// the existing attempt or terminate it explicitly first.
	ErrDuplicateSession = errors.New("session already exists for this client and room")

	// ErrJoinTimeout reports a join attempt that did not reach Connected in
	// time. Surfaced as a failure, not retried silently.
	ErrJoinTimeout = errors.New("join attempt timed out")

	// ErrReconnectExhausted reports a reconnect that ran out of attempts.
	// The session is terminal until the caller re-initiates.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// Transport is the network round trip behind a session. Server-side websocket
// sessions register with their room in Connect; a client implementation dials.
// Close runs on every session exit path, so leave broadcast and presence
// eviction belong there.
type Transport interface {
	Connect(ctx context.Context) error
	Close() error
}

// Config bounds session timing.
type Config struct {
	JoinTimeout       time.Duration
	ReconnectAttempts int
	BackoffBase       time.Duration
	BackoffCap        time.Duration
}

// DefaultConfig returns the production timing bounds.
func DefaultConfig() Config {
	return Config{
		JoinTimeout:       10 * time.Second,
		ReconnectAttempts: 4,
		BackoffBase:       500 * time.Millisecond,
		BackoffCap:        8 * time.Second,
	}
}

// Session is one logical connection of a client to a room.
type Session struct {
	ID       string
	ClientID string
	RoomID   string
	BoardID  string

	mu        sync.RWMutex
	state     State
	transport Transport
	teardown  sync.Once
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// terminate runs the guaranteed teardown exactly once, regardless of which
// state edge caused the exit.
func (s *Session) terminate() {
	s.teardown.Do(func() {
		s.setState(StateDisconnected)
		if err := s.transport.Close(); err != nil {
			log.Printf("[Session %s] Teardown close: %v", s.ID, err)
		}
	})
}

// Manager owns every live session and enforces the at-most-one-session
// invariant per (client, room) pair. It replaces ad hoc connection-lock flags
// with a single authoritative state machine: a duplicate join is rejected at
// this boundary, never silently merged.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*Session // clientID + "\x00" + roomID
}

// NewManager creates a manager with the given timing config.
func NewManager(cfg Config) *Manager {
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultConfig().JoinTimeout
	}
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = DefaultConfig().ReconnectAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultConfig().BackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultConfig().BackoffCap
	}
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

func sessionKey(clientID, roomID string) string {
	return clientID + "\x00" + roomID
}

// Lookup returns the live session for a (client, room) pair, or nil.
func (m *Manager) Lookup(clientID, roomID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sessionKey(clientID, roomID)]
}

// Join establishes a session. While a non-terminated session exists for the
// same (client, room) pair the join is rejected with ErrDuplicateSession and
// the original session is unaffected.
func (m *Manager) Join(ctx context.Context, clientID, roomID, boardID string, t Transport) (*Session, error) {
	key := sessionKey(clientID, roomID)

	m.mu.Lock()
	if existing, ok := m.sessions[key]; ok && existing.State() != StateDisconnected {
		m.mu.Unlock()
		return nil, ErrDuplicateSession
	}

	s := &Session{
		ID:        uuid.New().String(),
		ClientID:  clientID,
		RoomID:    roomID,
		BoardID:   boardID,
		state:     StateConnecting,
		transport: t,
	}
	m.sessions[key] = s
	m.mu.Unlock()

	if err := m.connect(ctx, s); err != nil {
		m.drop(s)
		s.terminate()
		return nil, err
	}

	s.setState(StateConnected)
	log.Printf("[Session %s] Connected: client=%s room=%s board=%s", s.ID, clientID, roomID, boardID)
	return s, nil
}

// Leave terminates a session: guaranteed teardown (leave broadcast, presence
// eviction via the transport) and deregistration.
func (m *Manager) Leave(s *Session) {
	if s == nil {
		return
	}
	m.drop(s)
	s.terminate()
	log.Printf("[Session %s] Disconnected: client=%s room=%s", s.ID, s.ClientID, s.RoomID)
}

// Reconnect retries the transport with bounded exponential backoff. After
// exhausting the attempt cap the session is terminal: it is torn down and
// ErrReconnectExhausted is returned rather than retrying indefinitely.
func (m *Manager) Reconnect(ctx context.Context, s *Session) error {
	if s == nil {
		return ErrReconnectExhausted
	}
	if s.State() == StateConnected {
		return nil
	}
	s.setState(StateConnecting)

	delay := m.cfg.BackoffBase
	for attempt := 1; attempt <= m.cfg.ReconnectAttempts; attempt++ {
		err := m.connect(ctx, s)
		if err == nil {
			s.setState(StateConnected)
			log.Printf("[Session %s] Reconnected on attempt %d", s.ID, attempt)
			return nil
		}
		log.Printf("[Session %s] Reconnect attempt %d/%d failed: %v",
			s.ID, attempt, m.cfg.ReconnectAttempts, err)

		if attempt == m.cfg.ReconnectAttempts {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			m.drop(s)
			s.terminate()
			return ctx.Err()
		}
		delay *= 2
		if delay > m.cfg.BackoffCap {
			delay = m.cfg.BackoffCap
		}
	}

	m.drop(s)
	s.terminate()
	return ErrReconnectExhausted
}

// connect runs the transport round trip under the join timeout. An attempt
// that does not reach Connected in time transitions to Disconnected and is
// surfaced as a failure.
func (m *Manager) connect(ctx context.Context, s *Session) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.JoinTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- s.transport.Connect(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ErrJoinTimeout
	}
}

// drop deregisters the session if it is still the registered one.
func (m *Manager) drop(s *Session) {
	key := sessionKey(s.ClientID, s.RoomID)
	m.mu.Lock()
	if m.sessions[key] == s {
		delete(m.sessions, key)
	}
	m.mu.Unlock()
}
