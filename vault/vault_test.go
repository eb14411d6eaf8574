package vault

import (
	"context"
	"testing"

	"github.com/duskforge/chameleon/dbopen"
)

func setupVault(t *testing.T) *Vault {
	t.Helper()
	db := dbopen.OpenMemory(t)
	v := New(db)
	if err := v.Init(); err != nil {
		t.Fatal(err)
	}
	return v
}

func TestUpsertGet_HashRoundTrip(t *testing.T) {
	v := setupVault(t)
	ctx := context.Background()

	code := []byte("SELECT 1")
	hash, err := v.Upsert(ctx, code, CodeTypeSQLSelect)
	if err != nil {
		t.Fatal(err)
	}
	if hash != Hash(code) {
		t.Fatalf("hash mismatch: got %q", hash)
	}

	blob, codeType, err := v.Get(ctx, hash)
	if err != nil {
		t.Fatal(err)
	}
	if string(blob) != string(code) {
		t.Fatalf("blob: got %q", blob)
	}
	if codeType != CodeTypeSQLSelect {
		t.Fatalf("code_type: got %q", codeType)
	}
}

func TestUpsert_Idempotent(t *testing.T) {
	v := setupVault(t)
	ctx := context.Background()
	code := []byte("print('hi')")

	h1, err := v.Upsert(ctx, code, CodeTypeProcedural)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := v.Upsert(ctx, code, CodeTypeProcedural)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("hash changed across upserts: %q vs %q", h1, h2)
	}

	var count int
	v.db.QueryRow("SELECT COUNT(*) FROM codevault WHERE hash = ?", h1).Scan(&count)
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}
}

func TestUpsert_UpdatesCodeTypeOnly(t *testing.T) {
	v := setupVault(t)
	ctx := context.Background()
	code := []byte("x = 1")

	hash, _ := v.Upsert(ctx, code, CodeTypeProcedural)
	hash2, err := v.Upsert(ctx, code, CodeTypeDashboard)
	if err != nil {
		t.Fatal(err)
	}
	if hash != hash2 {
		t.Fatal("hash should not change when only code_type changes")
	}

	_, codeType, _ := v.Get(ctx, hash)
	if codeType != CodeTypeDashboard {
		t.Fatalf("code_type not updated: got %q", codeType)
	}
}

func TestGet_NotFound(t *testing.T) {
	v := setupVault(t)
	_, _, err := v.Get(context.Background(), "deadbeef")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGet_IntegrityMismatch(t *testing.T) {
	v := setupVault(t)
	ctx := context.Background()
	hash, _ := v.Upsert(ctx, []byte("SELECT 1"), CodeTypeSQLSelect)

	// Corrupt the stored blob directly, bypassing Upsert.
	if _, err := v.db.Exec("UPDATE codevault SET code_blob = ? WHERE hash = ?", []byte("SELECT 2"), hash); err != nil {
		t.Fatal(err)
	}

	_, _, err := v.Get(ctx, hash)
	if err != ErrIntegrity {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
}
