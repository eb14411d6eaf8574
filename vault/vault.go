// Package vault implements the content-addressed Code Vault: code blobs
// keyed by the SHA-256 hash of their own contents, with integrity verified
// on every read.
package vault

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
)

// Valid code types. "dashboard" tools carry static content rather than
// executable code but still route through the vault for a uniform fetch
// path.
const (
	CodeTypeProcedural = "procedural"
	CodeTypeSQLSelect  = "sql-select"
	CodeTypeDashboard  = "dashboard"
)

// ErrIntegrity is returned when a fetched blob's recomputed hash does not
// match the key it was stored under. The caller must treat this as fatal
// for the current call; the vault never attempts repair.
var ErrIntegrity = errors.New("vault: hash mismatch on read")

// ErrNotFound is returned when no row exists for the requested hash.
var ErrNotFound = errors.New("vault: hash not found")

const Schema = `
CREATE TABLE IF NOT EXISTS codevault (
	hash      TEXT PRIMARY KEY,
	code_blob BLOB NOT NULL,
	code_type TEXT NOT NULL CHECK(code_type IN ('procedural', 'sql-select', 'dashboard')),
	created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
`

// Vault stores and retrieves code blobs by content hash.
type Vault struct {
	db *sql.DB
}

// New wraps db as a Vault. Call Init once to create the backing table.
func New(db *sql.DB) *Vault {
	return &Vault{db: db}
}

// Init creates the codevault table if it does not already exist.
func (v *Vault) Init() error {
	_, err := v.db.Exec(Schema)
	return err
}

// Hash returns the hex-encoded SHA-256 digest of code.
func Hash(code []byte) string {
	sum := sha256.Sum256(code)
	return hex.EncodeToString(sum[:])
}

// Upsert stores code under its content hash. If the hash already exists,
// only code_type is updated (the blob for a given hash is immutable by
// construction: a changed blob has a different hash). Idempotent: calling
// Upsert twice with the same (code, codeType) leaves the table unchanged.
func (v *Vault) Upsert(ctx context.Context, code []byte, codeType string) (string, error) {
	hash := Hash(code)
	_, err := v.db.ExecContext(ctx, `
		INSERT INTO codevault (hash, code_blob, code_type) VALUES (?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET code_type = excluded.code_type`,
		hash, code, codeType)
	if err != nil {
		return "", fmt.Errorf("vault: upsert: %w", err)
	}
	return hash, nil
}

// Get fetches the blob stored under hash and verifies its integrity before
// returning. A hash mismatch returns ErrIntegrity; a missing row returns
// ErrNotFound.
func (v *Vault) Get(ctx context.Context, hash string) ([]byte, string, error) {
	var blob []byte
	var codeType string
	err := v.db.QueryRowContext(ctx,
		`SELECT code_blob, code_type FROM codevault WHERE hash = ?`, hash).
		Scan(&blob, &codeType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("vault: get: %w", err)
	}

	if Hash(blob) != hash {
		return nil, "", ErrIntegrity
	}
	return blob, codeType, nil
}
