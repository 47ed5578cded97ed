package store

import (
	"context"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&Session{}, &Branch{}, &TimelineMessage{}, &UserIntervention{}, &ProviderConfig{}, &MemoryItem{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestCreateSessionCreatesMainBranch(t *testing.T) {
	db := newTestDB(t)
	sessions := NewSessionRepo(db)

	sess, branch, err := sessions.CreateSession(CreateSessionParams{
		Title:       "steampunk run",
		WorldPreset: "a steampunk city",
		TickLabel:   "1 month",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if branch.Name != "main" {
		t.Fatalf("expected main branch, got %q", branch.Name)
	}
	if sess.ActiveBranchID != branch.ID {
		t.Fatalf("active branch not set: %q != %q", sess.ActiveBranchID, branch.ID)
	}
}

func TestAppendMessageDenseSeq(t *testing.T) {
	db := newTestDB(t)
	sessions := NewSessionRepo(db)
	messages := NewMessageRepo(db, nil)

	sess, branch, err := sessions.CreateSession(CreateSessionParams{Title: "t", WorldPreset: "p", TickLabel: "1 month"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		msg, err := messages.AppendMessage(ctx, AppendMessageParams{
			SessionID: sess.ID,
			BranchID:  branch.ID,
			Role:      RoleSystemReport,
			Content:   "report",
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if msg.Seq != i+1 {
			t.Fatalf("expected seq %d, got %d", i+1, msg.Seq)
		}
	}
}

func TestDeleteLastMessagePreservesDensity(t *testing.T) {
	db := newTestDB(t)
	sessions := NewSessionRepo(db)
	messages := NewMessageRepo(db, nil)
	ctx := context.Background()

	sess, branch, _ := sessions.CreateSession(CreateSessionParams{Title: "t", WorldPreset: "p", TickLabel: "1 month"})
	for i := 0; i < 3; i++ {
		if _, err := messages.AppendMessage(ctx, AppendMessageParams{
			SessionID: sess.ID, BranchID: branch.ID, Role: RoleSystemReport, Content: "r",
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	deletedSeq, err := messages.DeleteLastMessage(ctx, branch.ID)
	if err != nil {
		t.Fatalf("delete last: %v", err)
	}
	if deletedSeq == nil || *deletedSeq != 3 {
		t.Fatalf("expected deleted seq 3, got %v", deletedSeq)
	}

	window, err := messages.ListWindow(branch.ID, 10)
	if err != nil {
		t.Fatalf("list window: %v", err)
	}
	if len(window) != 2 {
		t.Fatalf("expected 2 remaining messages, got %d", len(window))
	}
	for i, m := range window {
		if m.Seq != i+1 {
			t.Fatalf("density broken at index %d: seq=%d", i, m.Seq)
		}
	}
}

func TestForkIsolatesBranches(t *testing.T) {
	db := newTestDB(t)
	sessions := NewSessionRepo(db)
	messages := NewMessageRepo(db, nil)
	branches := NewBranchRepo(db)
	ctx := context.Background()

	sess, main, _ := sessions.CreateSession(CreateSessionParams{Title: "t", WorldPreset: "p", TickLabel: "1 month"})
	for i := 0; i < 3; i++ {
		if _, err := messages.AppendMessage(ctx, AppendMessageParams{
			SessionID: sess.ID, BranchID: main.ID, Role: RoleSystemReport, Content: "r",
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	forked, cutSeq, err := branches.Fork(main.ID, nil)
	if err != nil {
		t.Fatalf("fork: %v", err)
	}
	if cutSeq != 3 {
		t.Fatalf("expected cut seq 3, got %d", cutSeq)
	}

	if _, err := messages.AppendMessage(ctx, AppendMessageParams{
		SessionID: sess.ID, BranchID: forked.ID, Role: RoleSystemReport, Content: "new on fork",
	}); err != nil {
		t.Fatalf("append on fork: %v", err)
	}

	forkedWindow, err := messages.ListWindow(forked.ID, 10)
	if err != nil {
		t.Fatalf("list forked: %v", err)
	}
	if len(forkedWindow) != 4 {
		t.Fatalf("expected 4 messages on fork, got %d", len(forkedWindow))
	}

	mainWindow, err := messages.ListWindow(main.ID, 10)
	if err != nil {
		t.Fatalf("list main: %v", err)
	}
	if len(mainWindow) != 3 {
		t.Fatalf("expected main branch untouched at 3 messages, got %d", len(mainWindow))
	}
}

func TestConsumePendingInterventionsRollsBackOnFailure(t *testing.T) {
	db := newTestDB(t)
	sessions := NewSessionRepo(db)
	interventions := NewInterventionRepo(db)

	sess, branch, _ := sessions.CreateSession(CreateSessionParams{Title: "t", WorldPreset: "p", TickLabel: "1 month"})
	if _, err := interventions.Enqueue(sess.ID, branch.ID, "a drought strikes the north"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	err := interventions.WithTransaction(func(tx *gorm.DB) error {
		consumed, err := interventions.ConsumePending(tx, branch.ID)
		if err != nil {
			return err
		}
		if len(consumed) != 1 {
			t.Fatalf("expected 1 consumed, got %d", len(consumed))
		}
		return errSimulatedFailure
	})
	if err == nil {
		t.Fatalf("expected rollback error")
	}

	pending, err := interventions.ListPending(branch.ID)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected intervention reverted to pending, got %d pending", len(pending))
	}
}

var errSimulatedFailure = &simulatedErr{}

type simulatedErr struct{}

func (*simulatedErr) Error() string { return "simulated round failure" }
