package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/suPer8Hu/worldline/internal/eventbus"
	"github.com/suPer8Hu/worldline/internal/provider"
	"github.com/suPer8Hu/worldline/internal/store"
)

type fakeExecutor struct {
	mu           sync.Mutex
	calls        int32
	failTimes    int
	failedSoFar  int
	postDelay    time.Duration
	runningAfter bool
}

func (f *fakeExecutor) GenerateNext(ctx context.Context, sessionID string) (*store.TimelineMessage, error) {
	n := atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failedSoFar < f.failTimes {
		f.failedSoFar++
		return nil, provider.NewTransientError(context.DeadlineExceeded)
	}
	return &store.TimelineMessage{ID: "m", BranchID: "b", Seq: int(n)}, nil
}

func (f *fakeExecutor) PostGenDelay(sessionID string) (time.Duration, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.postDelay, f.runningAfter, nil
}

// blockingExecutor holds GenerateNext open until released, so tests can
// observe IsGenerating while a round is in flight.
type blockingExecutor struct {
	entered  chan struct{}
	release  chan struct{}
	entered1 sync.Once
}

func (b *blockingExecutor) GenerateNext(ctx context.Context, sessionID string) (*store.TimelineMessage, error) {
	b.entered1.Do(func() { close(b.entered) })
	<-b.release
	return &store.TimelineMessage{ID: "m", BranchID: "b", Seq: 1}, nil
}

func (b *blockingExecutor) PostGenDelay(sessionID string) (time.Duration, bool, error) {
	return 0, false, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&store.Session{}, &store.Branch{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestStartProducesMessageAndPauses(t *testing.T) {
	db := newTestDB(t)
	sessions := store.NewSessionRepo(db)
	sess, _, err := sessions.CreateSession(store.CreateSessionParams{Title: "t", WorldPreset: "p", TickLabel: "1 month"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	bus := eventbus.NewBus()
	sub := bus.Subscribe(sess.ID)
	exec := &fakeExecutor{postDelay: 0, runningAfter: false}
	mgr := NewManager(exec, bus, sessions)
	defer mgr.Stop(sess.ID)

	if err := mgr.Start(sess.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case ev := <-sub.Events():
		if ev.Type != "session_state" {
			t.Fatalf("expected session_state first, got %s", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for session_state")
	}

	select {
	case ev := <-sub.Events():
		if ev.Type != "message_created" {
			t.Fatalf("expected message_created, got %s", ev.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message_created")
	}

	time.Sleep(50 * time.Millisecond)
	if mgr.State(sess.ID) != StatePaused {
		t.Fatalf("expected PAUSED after one round with runningAfter=false, got %s", mgr.State(sess.ID))
	}
}

func TestRetryThenSuccessClearsBackoff(t *testing.T) {
	db := newTestDB(t)
	sessions := store.NewSessionRepo(db)
	sess, _, _ := sessions.CreateSession(store.CreateSessionParams{Title: "t", WorldPreset: "p", TickLabel: "1 month"})

	bus := eventbus.NewBus()
	sub := bus.Subscribe(sess.ID)
	exec := &fakeExecutor{failTimes: 2, postDelay: 0, runningAfter: false}
	mgr := NewManager(exec, bus, sessions)
	defer mgr.Stop(sess.ID)

	if err := mgr.Start(sess.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.After(10 * time.Second)
	sawMessage := false
	for !sawMessage {
		select {
		case ev := <-sub.Events():
			if ev.Type == "message_created" {
				sawMessage = true
			}
			if ev.Type == "error" {
				if data, ok := ev.Data.(map[string]any); ok {
					t.Logf("error event: %v", data)
				}
			}
		case <-deadline:
			t.Fatalf("timed out waiting for eventual message_created after retries")
		}
	}
}

func TestExhaustedRetriesEntersErrorBackoff(t *testing.T) {
	db := newTestDB(t)
	sessions := store.NewSessionRepo(db)
	sess, _, _ := sessions.CreateSession(store.CreateSessionParams{Title: "t", WorldPreset: "p", TickLabel: "1 month"})

	bus := eventbus.NewBus()
	sub := bus.Subscribe(sess.ID)
	exec := &fakeExecutor{failTimes: 10, postDelay: 0, runningAfter: false}
	mgr := NewManager(exec, bus, sessions)
	defer mgr.Stop(sess.ID)

	if err := mgr.Start(sess.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev := <-sub.Events():
			if ev.Type == "session_state" {
				if data, ok := ev.Data.(map[string]any); ok && data["running"] == false {
					if mgr.State(sess.ID) == StateErrorBackoff {
						return
					}
				}
			}
		case <-deadline:
			t.Fatalf("timed out waiting for ERROR_BACKOFF")
		}
	}
}

func TestIsGeneratingReflectsInFlightRound(t *testing.T) {
	db := newTestDB(t)
	sessions := store.NewSessionRepo(db)
	sess, _, _ := sessions.CreateSession(store.CreateSessionParams{Title: "t", WorldPreset: "p", TickLabel: "1 month"})

	bus := eventbus.NewBus()
	exec := &blockingExecutor{entered: make(chan struct{}), release: make(chan struct{})}
	mgr := NewManager(exec, bus, sessions)
	defer mgr.Stop(sess.ID)

	if mgr.IsGenerating(sess.ID) {
		t.Fatalf("expected not generating before Start")
	}

	if err := mgr.Start(sess.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case <-exec.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for round to begin")
	}

	if !mgr.IsGenerating(sess.ID) {
		t.Fatalf("expected IsGenerating to report true while a round is in flight")
	}

	close(exec.release)

	deadline := time.After(2 * time.Second)
	for mgr.IsGenerating(sess.ID) {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for round to finish")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}
