package livecall

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"softphone/internal/calls"
	"softphone/pkg/utils"
)

func sampleAlert() calls.CallAlert {
	return calls.CallAlert{
		SessionID:   "abc@pbx",
		PhoneNumber: "5551234",
		Direction:   calls.DirectionOutgoing,
		Status:      calls.StatusDialing,
		CreatedAt:   time.Unix(1700000000, 0).UTC(),
	}
}

func exerciseRepo(t *testing.T, repo Repository) {
	t.Helper()
	ctx := context.Background()

	got, err := repo.Load(ctx)
	if err != nil || got != nil {
		t.Fatalf("expected empty repo, got %+v %v", got, err)
	}

	want := sampleAlert()
	if err := repo.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err = repo.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil || *got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}

	want.Status = calls.StatusConnected
	if err := repo.Save(ctx, want); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _ = repo.Load(ctx)
	if got == nil || got.Status != calls.StatusConnected {
		t.Fatalf("expected overwrite to win, got %+v", got)
	}

	if err := repo.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := repo.Clear(ctx); err != nil {
		t.Fatalf("second clear should be a no-op, got %v", err)
	}
	got, err = repo.Load(ctx)
	if err != nil || got != nil {
		t.Fatalf("expected cleared, got %+v %v", got, err)
	}
}

func TestMemoryRepo(t *testing.T) {
	exerciseRepo(t, NewMemoryRepo())
}

func TestSQLiteRepo(t *testing.T) {
	ctx := context.Background()
	db, err := utils.OpenSQLite(ctx, filepath.Join(t.TempDir(), "softphone.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	repo, err := NewSQLiteRepo(ctx, db, "")
	if err != nil {
		t.Fatalf("repo: %v", err)
	}
	exerciseRepo(t, repo)
}

func TestSQLiteRepoCorruptRecordIsReconciledAway(t *testing.T) {
	ctx := context.Background()
	db, err := utils.OpenSQLite(ctx, filepath.Join(t.TempDir(), "softphone.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	repo, err := NewSQLiteRepo(ctx, db, "k")
	if err != nil {
		t.Fatalf("repo: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO live_call (key, value, updated_at) VALUES ('k', '{not json', CURRENT_TIMESTAMP)`); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec, err := Reconcile(ctx, repo)
	if err != nil || rec != nil {
		t.Fatalf("expected corrupt record dropped, got %+v %v", rec, err)
	}
	if got, _ := repo.Load(ctx); got != nil {
		t.Fatalf("expected record cleared")
	}
}

func TestReconcileReturnsInterruptedCall(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()

	rec, err := Reconcile(ctx, repo)
	if err != nil || rec != nil {
		t.Fatalf("expected nothing to reconcile, got %+v %v", rec, err)
	}

	_ = repo.Save(ctx, sampleAlert())
	rec, err = Reconcile(ctx, repo)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if rec == nil || rec.PhoneNumber != "5551234" {
		t.Fatalf("expected interrupted call, got %+v", rec)
	}
	if got, _ := repo.Load(ctx); got != nil {
		t.Fatalf("expected record cleared after reconcile")
	}
}

func TestRedisRepoDefaultKey(t *testing.T) {
	if k := NewRedisRepo(nil, "").Key(); k != DefaultKey {
		t.Fatalf("expected default key, got %q", k)
	}
	if err := NewRedisRepo(nil, "").Save(context.Background(), sampleAlert()); err == nil {
		t.Fatalf("expected error with nil client")
	}
}
