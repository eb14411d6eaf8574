package notebook

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func setupTestNotebook(t *testing.T) *Notebook {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	nb := New(db)
	if err := nb.Init(); err != nil {
		t.Fatal(err)
	}
	return nb
}

func TestWriteAndRead(t *testing.T) {
	ctx := context.Background()
	nb := setupTestNotebook(t)

	entry, err := nb.Write(ctx, "research", "finding_1", "the answer is 42", 0)
	if err != nil {
		t.Fatal(err)
	}
	if entry.UpdatedAt == 0 {
		t.Fatal("expected updated_at to be set")
	}

	got, err := nb.Read(ctx, "research", "finding_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Value != "the answer is 42" {
		t.Fatalf("unexpected value: %q", got.Value)
	}
}

func TestRead_NotFound(t *testing.T) {
	ctx := context.Background()
	nb := setupTestNotebook(t)

	_, err := nb.Read(ctx, "domain", "missing")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWrite_OptimisticConcurrencyConflict(t *testing.T) {
	ctx := context.Background()
	nb := setupTestNotebook(t)

	first, err := nb.Write(ctx, "d", "k", "v1", 0)
	if err != nil {
		t.Fatal(err)
	}

	// A writer using a stale updated_at must be rejected.
	_, err = nb.Write(ctx, "d", "k", "v2", first.UpdatedAt-1)
	if err != ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// The correct updated_at succeeds.
	if _, err := nb.Write(ctx, "d", "k", "v2", first.UpdatedAt); err != nil {
		t.Fatalf("write with correct updated_at should succeed: %v", err)
	}
}

func TestDelete_SoftDeleteHidesFromRead(t *testing.T) {
	ctx := context.Background()
	nb := setupTestNotebook(t)

	nb.Write(ctx, "d", "k", "v", 0)
	if err := nb.Delete(ctx, "d", "k"); err != nil {
		t.Fatal(err)
	}

	_, err := nb.Read(ctx, "d", "k")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after soft delete, got %v", err)
	}
}

func TestDelete_NotFound(t *testing.T) {
	ctx := context.Background()
	nb := setupTestNotebook(t)

	if err := nb.Delete(ctx, "d", "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkVerified_DoesNotTouchValueOrTimestamp(t *testing.T) {
	ctx := context.Background()
	nb := setupTestNotebook(t)

	entry, _ := nb.Write(ctx, "d", "k", "v", 0)

	if err := nb.MarkVerified(ctx, "d", "k", true); err != nil {
		t.Fatal(err)
	}

	got, err := nb.Read(ctx, "d", "k")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Verified {
		t.Fatal("expected verified = true")
	}
	if got.Value != "v" {
		t.Fatalf("MarkVerified must not alter value, got %q", got.Value)
	}
	if got.UpdatedAt != entry.UpdatedAt {
		t.Fatalf("MarkVerified must not alter updated_at, got %d want %d", got.UpdatedAt, entry.UpdatedAt)
	}
}

func TestHistory_AccumulatesEveryWrite(t *testing.T) {
	ctx := context.Background()
	nb := setupTestNotebook(t)

	e1, _ := nb.Write(ctx, "d", "k", "v1", 0)
	nb.Write(ctx, "d", "k", "v2", e1.UpdatedAt)

	hist, err := nb.History(ctx, "d", "k")
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 || hist[0] != "v1" || hist[1] != "v2" {
		t.Fatalf("unexpected history: %v", hist)
	}
}

func TestSelfCorrectionDomainKeyConvention(t *testing.T) {
	ctx := context.Background()
	nb := setupTestNotebook(t)

	// The reflexive self-correction hook writes to domain
	// "self_correction" under key "<tool>_error" — exercised here as a
	// plain notebook write/read round trip, since the hook itself lives
	// in engine.Engine's failure path.
	if _, err := nb.Write(ctx, "self_correction", "get_sales_error", "division by zero in LIMIT clamp", 0); err != nil {
		t.Fatal(err)
	}
	got, err := nb.Read(ctx, "self_correction", "get_sales_error")
	if err != nil {
		t.Fatal(err)
	}
	if got.Value == "" {
		t.Fatal("expected self-correction note to be readable")
	}
}
