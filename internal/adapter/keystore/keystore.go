// Package keystore stores caller-owned provider API keys in SQLite,
// encrypted at rest. It implements the credential resolver boundary: the
// relay asks it for the key owned by (caller, provider) and falls back to
// shared config keys when none is stored.
package keystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nirmal91/omni-ask/internal/domain"
)

// Keystore is a SQLite-backed domain.CredentialStore. Keys are sealed
// with AES-256-GCM; the Argon2id salt lives alongside the data so the
// same passphrase reopens the store across restarts.
type Keystore struct {
	db  *sql.DB
	enc *encryptor
}

// Open opens (or creates) the keystore database at dbPath and prepares
// the encryptor from the passphrase.
func Open(dbPath, passphrase string) (*Keystore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open keystore db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate keystore db: %w", err)
	}

	salt, err := loadOrCreateSalt(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	enc, err := newEncryptor(passphrase, salt)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("keystore encryptor: %w", err)
	}

	return &Keystore{db: db, enc: enc}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS credentials (
			caller     TEXT NOT NULL,
			provider   TEXT NOT NULL,
			api_key    TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (caller, provider)
		);
		CREATE TABLE IF NOT EXISTS keystore_meta (
			k TEXT PRIMARY KEY,
			v BLOB NOT NULL
		);
	`)
	return err
}

func loadOrCreateSalt(db *sql.DB) ([]byte, error) {
	var salt []byte
	err := db.QueryRow("SELECT v FROM keystore_meta WHERE k = 'salt'").Scan(&salt)
	switch {
	case err == nil:
		return salt, nil
	case errors.Is(err, sql.ErrNoRows):
		salt, err = newSalt()
		if err != nil {
			return nil, err
		}
		if _, err := db.Exec("INSERT INTO keystore_meta (k, v) VALUES ('salt', ?)", salt); err != nil {
			return nil, fmt.Errorf("store salt: %w", err)
		}
		return salt, nil
	default:
		return nil, fmt.Errorf("load salt: %w", err)
	}
}

// Close closes the underlying database connection.
func (k *Keystore) Close() error {
	return k.db.Close()
}

// Resolve implements domain.CredentialResolver. Returns
// domain.ErrNoCredential when the caller owns no key for the provider.
func (k *Keystore) Resolve(ctx context.Context, caller string, provider domain.Provider) (string, error) {
	var sealed string
	err := k.db.QueryRowContext(ctx,
		"SELECT api_key FROM credentials WHERE caller = ? AND provider = ?",
		caller, provider.String(),
	).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.NewDomainError("keystore.Resolve", domain.ErrNoCredential, provider.String())
	}
	if err != nil {
		return "", domain.WrapOp("keystore.Resolve", err)
	}
	key, err := k.enc.open(sealed)
	if err != nil {
		return "", domain.WrapOp("keystore.Resolve", err)
	}
	return key, nil
}

// Put implements domain.CredentialStore.
func (k *Keystore) Put(ctx context.Context, caller string, provider domain.Provider, apiKey string) error {
	sealed, err := k.enc.seal(apiKey)
	if err != nil {
		return domain.WrapOp("keystore.Put", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = k.db.ExecContext(ctx, `
		INSERT INTO credentials (caller, provider, api_key, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (caller, provider) DO UPDATE SET
			api_key = excluded.api_key,
			updated_at = excluded.updated_at
	`, caller, provider.String(), sealed, now)
	return domain.WrapOp("keystore.Put", err)
}

// Delete implements domain.CredentialStore. Deleting an absent key
// returns domain.ErrNotFound.
func (k *Keystore) Delete(ctx context.Context, caller string, provider domain.Provider) error {
	res, err := k.db.ExecContext(ctx,
		"DELETE FROM credentials WHERE caller = ? AND provider = ?",
		caller, provider.String(),
	)
	if err != nil {
		return domain.WrapOp("keystore.Delete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewDomainError("keystore.Delete", domain.ErrNotFound, provider.String())
	}
	return nil
}

// Compile-time interface check.
var _ domain.CredentialStore = (*Keystore)(nil)
