// Package runner implements the per-session generation state machine:
// one cooperative goroutine per session reading a command channel and
// driving rounds through a RoundExecutor until stopped.
package runner

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/suPer8Hu/worldline/internal/apperr"
	"github.com/suPer8Hu/worldline/internal/eventbus"
	"github.com/suPer8Hu/worldline/internal/provider"
	"github.com/suPer8Hu/worldline/internal/store"
)

type State string

const (
	StateIdle         State = "IDLE"
	StateRunning      State = "RUNNING"
	StatePaused       State = "PAUSED"
	StateErrorBackoff State = "ERROR_BACKOFF"
	StateStopped      State = "STOPPED"
)

var backoffDelays = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

type command int

const (
	cmdStart command = iota
	cmdPause
	cmdResume
	cmdStop
)

// RoundExecutor performs one round's worth of work: snapshot, consume
// interventions, build the prompt, call the provider, persist the
// result. The runner owns pacing, retries, state transitions, and
// publishing message_created for each persisted round.
type RoundExecutor interface {
	GenerateNext(ctx context.Context, sessionID string) (*store.TimelineMessage, error)
	PostGenDelay(sessionID string) (time.Duration, bool, error) // (delay, stillRunning, error)
}

type handle struct {
	mu           sync.Mutex
	state        State
	cmdCh        chan command
	cancel       context.CancelFunc
	generationMu sync.Mutex
	done         chan struct{}
}

// Manager owns one handle per session and is safe for concurrent use
// from HTTP handlers.
type Manager struct {
	mu       sync.Mutex
	handles  map[string]*handle
	executor RoundExecutor
	bus      *eventbus.Bus
	sessions *store.SessionRepo
}

func NewManager(executor RoundExecutor, bus *eventbus.Bus, sessions *store.SessionRepo) *Manager {
	return &Manager{
		handles:  make(map[string]*handle),
		executor: executor,
		bus:      bus,
		sessions: sessions,
	}
}

// Start is idempotent: if a runner task is already alive for the
// session it only sends Start (a no-op if already RUNNING).
func (m *Manager) Start(sessionID string) error {
	if err := m.sessions.SetRunning(sessionID, true); err != nil {
		return err
	}
	h := m.ensureHandle(sessionID)
	h.send(cmdStart)
	m.bus.Publish(sessionID, eventbus.SessionState(true))
	return nil
}

func (m *Manager) Pause(sessionID string) error {
	if err := m.sessions.SetRunning(sessionID, false); err != nil {
		return err
	}
	m.mu.Lock()
	h, ok := m.handles[sessionID]
	m.mu.Unlock()
	if ok {
		h.send(cmdPause)
	}
	m.bus.Publish(sessionID, eventbus.SessionState(false))
	return nil
}

func (m *Manager) Resume(sessionID string) error {
	return m.Start(sessionID)
}

func (m *Manager) Stop(sessionID string) {
	m.mu.Lock()
	h, ok := m.handles[sessionID]
	if ok {
		delete(m.handles, sessionID)
	}
	m.mu.Unlock()
	if ok {
		h.send(cmdStop)
	}
}

// IsGenerating reports whether the session's runner currently holds the
// generation lock (P3: at most one in-flight generate per session).
func (m *Manager) IsGenerating(sessionID string) bool {
	m.mu.Lock()
	h, ok := m.handles[sessionID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	locked := !h.generationMu.TryLock()
	if !locked {
		h.generationMu.Unlock()
	}
	return locked
}

func (m *Manager) State(sessionID string) State {
	m.mu.Lock()
	h, ok := m.handles[sessionID]
	m.mu.Unlock()
	if !ok {
		return StateIdle
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (m *Manager) ensureHandle(sessionID string) *handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.handles[sessionID]; ok {
		return h
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{
		state:  StateIdle,
		cmdCh:  make(chan command, 4),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.handles[sessionID] = h
	go m.runLoop(ctx, sessionID, h)
	return h
}

func (h *handle) send(c command) {
	select {
	case h.cmdCh <- c:
	default:
		// Command channel full: a duplicate Start/Pause/Resume/Stop is
		// already queued, which is fine since every command is idempotent.
	}
}

func (m *Manager) runLoop(ctx context.Context, sessionID string, h *handle) {
	defer close(h.done)
	backoffAttempt := 0

	h.setState(StateRunning)

	for {
		select {
		case <-ctx.Done():
			h.setState(StateStopped)
			return
		case c := <-h.cmdCh:
			switch c {
			case cmdStop:
				h.setState(StateStopped)
				return
			case cmdPause:
				h.setState(StatePaused)
			case cmdStart, cmdResume:
				if h.getState() != StateRunning {
					h.setState(StateRunning)
					backoffAttempt = 0
				}
			}
			continue
		default:
		}

		if h.getState() != StateRunning {
			select {
			case <-ctx.Done():
				h.setState(StateStopped)
				return
			case c := <-h.cmdCh:
				m.dispatchIdleCommand(h, c, &backoffAttempt)
				if h.getState() == StateStopped {
					return
				}
			}
			continue
		}

		h.generationMu.Lock()
		msg, err := m.executor.GenerateNext(ctx, sessionID)
		h.generationMu.Unlock()

		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				h.setState(StateStopped)
				return
			}
			retryDelay, retryable := classifyForRetry(err, backoffAttempt)
			if !retryable {
				m.stopWithError(sessionID, h, errorCode(err), err.Error())
				continue
			}
			backoffAttempt++
			m.bus.Publish(sessionID, eventbus.ErrorEvent(errorCode(err), err.Error()))
			select {
			case <-ctx.Done():
				h.setState(StateStopped)
				return
			case <-time.After(retryDelay):
			}
			continue
		}

		backoffAttempt = 0
		m.bus.Publish(sessionID, eventbus.MessageCreated(msg.BranchID, msg))

		delay, stillRunning, derr := m.executor.PostGenDelay(sessionID)
		if derr != nil {
			log.Printf("runner post_gen_delay_failed session_id=%s err=%v", sessionID, derr)
		}
		if !stillRunning {
			h.setState(StatePaused)
			continue
		}
		select {
		case <-ctx.Done():
			h.setState(StateStopped)
			return
		case c := <-h.cmdCh:
			m.dispatchIdleCommand(h, c, &backoffAttempt)
			if h.getState() == StateStopped {
				return
			}
		case <-time.After(delay):
		}
	}
}

func (m *Manager) dispatchIdleCommand(h *handle, c command, backoffAttempt *int) {
	switch c {
	case cmdStop:
		h.setState(StateStopped)
	case cmdPause:
		h.setState(StatePaused)
	case cmdStart, cmdResume:
		h.setState(StateRunning)
		*backoffAttempt = 0
	}
}

func (m *Manager) stopWithError(sessionID string, h *handle, code, message string) {
	h.setState(StateErrorBackoff)
	if err := m.sessions.SetRunning(sessionID, false); err != nil {
		log.Printf("runner running_false_persist_failed session_id=%s err=%v", sessionID, err)
	}
	m.bus.Publish(sessionID, eventbus.ErrorEvent(code, message))
	m.bus.Publish(sessionID, eventbus.SessionState(false))
}

func (h *handle) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

func (h *handle) getState() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// classifyForRetry maps a round error to a backoff duration. Only
// TransientError is retryable; exhausting backoffDelays is equivalent
// to a non-retryable failure.
func classifyForRetry(err error, attempt int) (time.Duration, bool) {
	var transient *provider.TransientError
	if !errors.As(err, &transient) {
		return 0, false
	}
	if attempt >= len(backoffDelays) {
		return 0, false
	}
	return backoffDelays[attempt], true
}

func errorCode(err error) string {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return string(appErr.Kind)
	}
	var clientErr *provider.ClientError
	if errors.As(err, &clientErr) {
		return "PROVIDER_CLIENT_ERROR"
	}
	var transientErr *provider.TransientError
	if errors.As(err, &transientErr) {
		return "PROVIDER_TRANSIENT_ERROR"
	}
	var protoErr *provider.ProtocolError
	if errors.As(err, &protoErr) {
		return "PROVIDER_PROTOCOL_ERROR"
	}
	return "RUNNER_FAILED"
}
