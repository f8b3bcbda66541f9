package repository

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/remote-debug-console/backend/internal/db"
	"github.com/remote-debug-console/backend/internal/model"
)

// Property: every started session appears in the listing as running,
// and marking it ended flips exactly that record to ended with the
// given reason.
func TestSessionRecordLifecycleProperty(t *testing.T) {
	database, err := db.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	defer database.Close()

	repo := NewDebugSessionRepository(database)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	nextPID := 10000
	command := gen.AlphaString().SuchThat(func(s string) bool {
		return len(s) > 0 && len(s) <= 100
	})
	reason := gen.AlphaString().SuchThat(func(s string) bool {
		return len(s) > 0 && len(s) <= 100
	})

	properties.Property("start then end round-trips through the store", prop.ForAll(
		func(command, reason string) bool {
			nextPID++
			pid := nextPID

			record := &model.DebugSessionRecord{
				PID:       pid,
				Command:   command,
				StartedAt: time.Now(),
			}
			if err := repo.Create(ctx, record); err != nil {
				t.Logf("failed to create record: %v", err)
				return false
			}
			if record.ID == 0 {
				t.Log("create should assign an id")
				return false
			}

			running, err := repo.ListRunning(ctx)
			if err != nil {
				t.Logf("failed to list running records: %v", err)
				return false
			}
			found := false
			for _, r := range running {
				if r.ID == record.ID && r.PID == pid && r.Command == command {
					found = true
				}
			}
			if !found {
				t.Logf("started record for pid %d not listed as running", pid)
				return false
			}

			if err := repo.MarkEnded(ctx, pid, reason, time.Now()); err != nil {
				t.Logf("failed to mark record ended: %v", err)
				return false
			}

			all, err := repo.List(ctx)
			if err != nil {
				t.Logf("failed to list records: %v", err)
				return false
			}
			for _, r := range all {
				if r.ID != record.ID {
					continue
				}
				return r.Status == model.SessionStatusEnded &&
					r.EndReason == reason &&
					r.EndedAt != nil
			}
			t.Logf("record %d vanished from the listing", record.ID)
			return false
		},
		command,
		reason,
	))

	properties.TestingRun(t)
}

func TestMarkEndedUnknownPID(t *testing.T) {
	database, err := db.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	defer database.Close()

	repo := NewDebugSessionRepository(database)
	err = repo.MarkEnded(context.Background(), 424242, "gone", time.Now())
	if err != model.ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestMarkEndedPicksLatestRunningRecord(t *testing.T) {
	database, err := db.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	defer database.Close()

	repo := NewDebugSessionRepository(database)
	ctx := context.Background()

	// Same pid twice: an old ended process and a recycled live one.
	old := &model.DebugSessionRecord{PID: 555, Command: "gdb", StartedAt: time.Now().Add(-time.Hour)}
	if err := repo.Create(ctx, old); err != nil {
		t.Fatalf("failed to create old record: %v", err)
	}
	if err := repo.MarkEnded(ctx, 555, "first run", time.Now().Add(-30*time.Minute)); err != nil {
		t.Fatalf("failed to end old record: %v", err)
	}

	current := &model.DebugSessionRecord{PID: 555, Command: "gdb", StartedAt: time.Now()}
	if err := repo.Create(ctx, current); err != nil {
		t.Fatalf("failed to create current record: %v", err)
	}
	if err := repo.MarkEnded(ctx, 555, "second run", time.Now()); err != nil {
		t.Fatalf("failed to end current record: %v", err)
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("failed to list records: %v", err)
	}
	reasons := map[int64]string{}
	for _, r := range all {
		reasons[r.ID] = r.EndReason
	}
	if reasons[old.ID] != "first run" || reasons[current.ID] != "second run" {
		t.Errorf("end reasons mixed up: %v", reasons)
	}
}
