package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/suPer8Hu/worldline/internal/eventbus"
	"github.com/suPer8Hu/worldline/internal/memory"
	"github.com/suPer8Hu/worldline/internal/provider"
	"github.com/suPer8Hu/worldline/internal/secretbox"
	"github.com/suPer8Hu/worldline/internal/simulation"
	"github.com/suPer8Hu/worldline/internal/store"
)

// newTestSim builds a minimal simulation.Service backed by an
// in-memory sqlite database, enough to exercise NewRouter's route
// registration without a real provider or runner.
func newTestSim(t *testing.T) *simulation.Service {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&store.Session{}, &store.Branch{}, &store.TimelineMessage{},
		&store.UserIntervention{}, &store.ProviderConfig{}, &store.MemoryItem{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
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

	return simulation.New(db, sessions, branches, messages, interventions, providerRepo, registry,
		eventbus.NewBus(), memory.NoopCollaborator{},
		simulation.EventDiceSettings{Enabled: false},
		simulation.MemorySettings{MaxSnippets: 3, MaxChars: 500})
}

// TestNewRouterDoesNotPanic guards against route-registration conflicts
// in gin's radix tree (e.g. a static segment and a wildcard fighting for
// the same slot), which panic at construction rather than at request
// time and would otherwise only surface as a crash on server startup.
func TestNewRouterDoesNotPanic(t *testing.T) {
	sim := newTestSim(t)
	r := NewRouter(sim, nil)
	if r == nil {
		t.Fatalf("expected a non-nil router")
	}
}

func TestSessionHistoryRouteDoesNotShadowSessionByID(t *testing.T) {
	sim := newTestSim(t)
	r := NewRouter(sim, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/session/history", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected /api/session/history to resolve to the history listing, got status %d body %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/session/does-not-exist", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected an unknown session id to 404, got status %d body %s", rec.Code, rec.Body.String())
	}
}
