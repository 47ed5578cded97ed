package simulation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/suPer8Hu/worldline/internal/apperr"
	"github.com/suPer8Hu/worldline/internal/eventbus"
	"github.com/suPer8Hu/worldline/internal/memory"
	"github.com/suPer8Hu/worldline/internal/provider"
	"github.com/suPer8Hu/worldline/internal/runner"
	"github.com/suPer8Hu/worldline/internal/secretbox"
	"github.com/suPer8Hu/worldline/internal/store"
)

// failingProvider always returns a transient error from Generate, so
// tests can exercise the rollback path without a real network call.
type failingProvider struct{}

func (failingProvider) ListModels(ctx context.Context) ([]string, error) {
	return []string{"fixture-v1"}, nil
}

func (failingProvider) Generate(ctx context.Context, messages []provider.Message, opts provider.GenerateOptions) (*provider.GenerateResult, error) {
	return nil, apperr.ProviderTransient("upstream unavailable", errors.New("dial timeout"))
}

// blockingProvider holds Generate open until released, letting tests
// observe the runner mid-round.
type blockingProvider struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *blockingProvider) ListModels(ctx context.Context) ([]string, error) {
	return []string{"fixture-v1"}, nil
}

func (p *blockingProvider) Generate(ctx context.Context, messages []provider.Message, opts provider.GenerateOptions) (*provider.GenerateResult, error) {
	p.once.Do(func() { close(p.entered) })
	<-p.release
	text := `{"title":"t","time_advance":"1 month","summary":"s","events":[],"risks":[],"tension_percent":0,"crisis_focus":""}`
	return &provider.GenerateResult{Text: text}, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&store.Session{}, &store.Branch{}, &store.TimelineMessage{},
		&store.UserIntervention{}, &store.ProviderConfig{}, &store.MemoryItem{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T) (*Service, *store.SessionRepo, *store.ProviderRepo) {
	t.Helper()
	db := newTestDB(t)
	cipher, err := secretbox.New("test-secret")
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}

	sessions := store.NewSessionRepo(db)
	branches := store.NewBranchRepo(db)
	messages := store.NewMessageRepo(db, nil)
	interventions := store.NewInterventionRepo(db)
	providerRepo := store.NewProviderRepo(db, cipher)

	registry := provider.NewRegistry()
	registry.Register("mock", func(cfg provider.Config) (provider.Provider, error) {
		return provider.NewMock(cfg), nil
	})
	registry.Register("failing", func(cfg provider.Config) (provider.Provider, error) {
		return failingProvider{}, nil
	})

	svc := New(db, sessions, branches, messages, interventions, providerRepo, registry,
		eventbus.NewBus(), memory.NoopCollaborator{},
		EventDiceSettings{Enabled: false},
		MemorySettings{MaxSnippets: 3, MaxChars: 500})
	return svc, sessions, providerRepo
}

// newTestServiceWithRunner wires a real runner.Manager on top of
// newTestService's setup, for tests that need IsGenerating to reflect
// an actual in-flight round.
func newTestServiceWithRunner(t *testing.T) (*Service, *store.SessionRepo, *store.ProviderRepo, *blockingProvider) {
	t.Helper()
	db := newTestDB(t)
	cipher, err := secretbox.New("test-secret")
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}

	sessions := store.NewSessionRepo(db)
	branches := store.NewBranchRepo(db)
	messages := store.NewMessageRepo(db, nil)
	interventions := store.NewInterventionRepo(db)
	providerRepo := store.NewProviderRepo(db, cipher)

	blocking := &blockingProvider{entered: make(chan struct{}), release: make(chan struct{})}
	registry := provider.NewRegistry()
	registry.Register("blocking", func(cfg provider.Config) (provider.Provider, error) {
		return blocking, nil
	})

	bus := eventbus.NewBus()
	svc := New(db, sessions, branches, messages, interventions, providerRepo, registry,
		bus, memory.NoopCollaborator{},
		EventDiceSettings{Enabled: false},
		MemorySettings{MaxSnippets: 3, MaxChars: 500})
	svc.AttachRunner(runner.NewManager(svc, bus, sessions))
	return svc, sessions, providerRepo, blocking
}

func mustCreateSession(t *testing.T, svc *Service) (*store.Session, *store.Branch) {
	t.Helper()
	sess, branch, err := svc.CreateSession(CreateSessionInput{
		Title:       "t",
		WorldPreset: "a steampunk city",
		TickLabel:   "1 month",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess, branch
}

func TestStartRequiresProviderConfiguration(t *testing.T) {
	svc, _, _ := newTestService(t)
	sess, _ := mustCreateSession(t, svc)

	if err := svc.Start(sess.ID); err == nil {
		t.Fatalf("expected precondition error when no provider is configured")
	}
}

func TestStartRequiresSelectedModel(t *testing.T) {
	svc, _, providerRepo := newTestService(t)
	sess, _ := mustCreateSession(t, svc)

	key := "sk-test"
	if _, err := providerRepo.Upsert(store.UpsertProviderParams{
		SessionID: sess.ID, Provider: "mock", APIKey: &key,
	}); err != nil {
		t.Fatalf("upsert provider: %v", err)
	}

	if err := svc.Start(sess.ID); err == nil {
		t.Fatalf("expected precondition error when no model is selected")
	}
}

func TestGenerateNextPersistsDenseSeq(t *testing.T) {
	svc, _, providerRepo := newTestService(t)
	sess, _ := mustCreateSession(t, svc)

	key := "sk-test"
	if _, err := providerRepo.Upsert(store.UpsertProviderParams{
		SessionID: sess.ID, Provider: "mock", APIKey: &key,
	}); err != nil {
		t.Fatalf("upsert provider: %v", err)
	}
	if _, err := providerRepo.SelectModel(sess.ID, "fixture-v1"); err != nil {
		t.Fatalf("select model: %v", err)
	}

	msg, err := svc.GenerateNext(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("generate next: %v", err)
	}
	if msg.Seq != 1 {
		t.Fatalf("expected first message to have seq 1, got %d", msg.Seq)
	}
	if msg.Role != store.RoleSystemReport {
		t.Fatalf("expected system_report role, got %q", msg.Role)
	}

	second, err := svc.GenerateNext(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("generate next (round 2): %v", err)
	}
	if second.Seq != 2 {
		t.Fatalf("expected seq to advance densely, got %d", second.Seq)
	}
}

func TestInterveneRequiresNonEmptyContent(t *testing.T) {
	svc, _, _ := newTestService(t)
	sess, branch := mustCreateSession(t, svc)

	if _, err := svc.Intervene(sess.ID, branch.ID, ""); err == nil {
		t.Fatalf("expected validation error for empty intervention content")
	}
	iv, err := svc.Intervene(sess.ID, branch.ID, "send aid to the flood region")
	if err != nil {
		t.Fatalf("intervene: %v", err)
	}
	if iv.Status != store.InterventionPending {
		t.Fatalf("expected pending status, got %q", iv.Status)
	}
}

func TestForkCreatesNewBranchAndSwitch(t *testing.T) {
	svc, _, _ := newTestService(t)
	sess, branch := mustCreateSession(t, svc)

	result, err := svc.Fork(branch.ID, nil)
	if err != nil {
		t.Fatalf("fork: %v", err)
	}
	if result.Branch.Name == branch.Name {
		t.Fatalf("expected a distinct branch name")
	}

	if err := svc.Switch(sess.ID, result.Branch.ID); err != nil {
		t.Fatalf("switch: %v", err)
	}
	updated, err := svc.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if updated.ActiveBranchID != result.Branch.ID {
		t.Fatalf("expected active branch to switch")
	}
}

func TestGenerateNextLeavesInterventionsPendingOnTransientFailure(t *testing.T) {
	svc, _, providerRepo := newTestService(t)
	sess, branch := mustCreateSession(t, svc)

	key := "sk-test"
	if _, err := providerRepo.Upsert(store.UpsertProviderParams{
		SessionID: sess.ID, Provider: "failing", APIKey: &key,
	}); err != nil {
		t.Fatalf("upsert provider: %v", err)
	}
	if _, err := providerRepo.SelectModel(sess.ID, "fixture-v1"); err != nil {
		t.Fatalf("select model: %v", err)
	}

	iv, err := svc.Intervene(sess.ID, branch.ID, "send aid to the flood region")
	if err != nil {
		t.Fatalf("intervene: %v", err)
	}

	if _, err := svc.GenerateNext(context.Background(), sess.ID); err == nil {
		t.Fatalf("expected generate next to fail against the failing provider")
	}

	pending, err := svc.interventions.ListPending(branch.ID)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != iv.ID {
		t.Fatalf("expected the intervention to remain pending after a failed round, got %+v", pending)
	}
}

func TestDeleteLastMessageBusyWhileRunnerGenerating(t *testing.T) {
	svc, _, providerRepo, blocking := newTestServiceWithRunner(t)
	sess, branch := mustCreateSession(t, svc)

	key := "sk-test"
	if _, err := providerRepo.Upsert(store.UpsertProviderParams{
		SessionID: sess.ID, Provider: "blocking", APIKey: &key,
	}); err != nil {
		t.Fatalf("upsert provider: %v", err)
	}
	if _, err := providerRepo.SelectModel(sess.ID, "fixture-v1"); err != nil {
		t.Fatalf("select model: %v", err)
	}

	if err := svc.Start(sess.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.runnerMgr.Stop(sess.ID)

	select {
	case <-blocking.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for round to begin")
	}

	if _, err := svc.DeleteLastMessage(context.Background(), branch.ID); err == nil {
		t.Fatalf("expected Busy error while the runner is mid-round")
	} else if appErr, ok := err.(*apperr.Error); !ok || appErr.Kind != apperr.KindBusy {
		t.Fatalf("expected apperr.KindBusy, got %v", err)
	}

	close(blocking.release)

	deadline := time.After(2 * time.Second)
	for svc.runnerMgr.IsGenerating(sess.ID) {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for round to finish")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func TestSwitchRejectsUnknownBranch(t *testing.T) {
	svc, _, _ := newTestService(t)
	sess, branch := mustCreateSession(t, svc)
	_ = sess
	_ = branch
	if err := svc.Switch(sess.ID, "nonexistent-branch-id"); err == nil {
		t.Fatalf("expected not-found error for an unknown branch")
	}
}
