// Package sqlite persists the engine's durable client-side flags in a local
// SQLite file. This is the service analog of the browser's durable storage:
// namespaced string keys, written on claim or decline, surviving restarts.
package sqlite

import (
	"context"
	"database/sql"

	"github.com/go-faster/errors"
	_ "github.com/mattn/go-sqlite3"

	"github.com/gemloft/storefront/internal/offer"
)

var _ offer.FlagStore = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS flags (
	ns         TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (ns, key)
);
`

// Flag namespaces mirror the storage keys the storefront UI reacts to.
const (
	nsOfferClaimed  = "offer-claimed"
	nsOfferDeclined = "offer-declined"

	keyFlag   = "flag"
	keyCoupon = "coupon"
)

// Store is a namespaced key-value flag store backed by a SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the flag store at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "open flag store")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "init flag store schema")
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the store is usable; wired into the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Claimed reports whether a claim has been recorded, and the coupon code
// that was issued with it.
func (s *Store) Claimed(ctx context.Context) (bool, string, error) {
	v, err := s.get(ctx, nsOfferClaimed, keyFlag)
	if err != nil {
		return false, "", err
	}
	if v != "true" {
		return false, "", nil
	}
	coupon, err := s.get(ctx, nsOfferClaimed, keyCoupon)
	if err != nil {
		return false, "", err
	}
	return true, coupon, nil
}

// SetClaimed records a successful claim (server or fallback path) together
// with its coupon code.
func (s *Store) SetClaimed(ctx context.Context, couponCode string) error {
	if err := s.set(ctx, nsOfferClaimed, keyFlag, "true"); err != nil {
		return err
	}
	return s.set(ctx, nsOfferClaimed, keyCoupon, couponCode)
}

// Declined reports whether the offer UI was dismissed without claiming.
func (s *Store) Declined(ctx context.Context) (bool, error) {
	v, err := s.get(ctx, nsOfferDeclined, keyFlag)
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

// SetDeclined writes or clears the declined flag.
func (s *Store) SetDeclined(ctx context.Context, declined bool) error {
	if !declined {
		return s.delete(ctx, nsOfferDeclined, keyFlag)
	}
	return s.set(ctx, nsOfferDeclined, keyFlag, "true")
}

func (s *Store) get(ctx context.Context, ns, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM flags WHERE ns = ? AND key = ?", ns, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "read flag %s/%s", ns, key)
	}
	return value, nil
}

func (s *Store) set(ctx context.Context, ns, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO flags (ns, key, value, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (ns, key) DO UPDATE
		SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		ns, key, value)
	if err != nil {
		return errors.Wrapf(err, "write flag %s/%s", ns, key)
	}
	return nil
}

func (s *Store) delete(ctx context.Context, ns, key string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM flags WHERE ns = ? AND key = ?", ns, key)
	if err != nil {
		return errors.Wrapf(err, "delete flag %s/%s", ns, key)
	}
	return nil
}
