// Package store is the data access layer of the automation engine: catalog
// lookups, the eager-joined area query, provider accounts, the dedup ledger
// and the execution log.
package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/hazyhaar/area/idgen"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("store: not found")

// Store wraps the engine database.
type Store struct {
	DB     *sql.DB
	sealer *Sealer
	now    func() time.Time
	newID  idgen.Generator
}

// Option configures a Store.
type Option func(*Store)

// WithSealer seals provider tokens at rest.
func WithSealer(s *Sealer) Option { return func(st *Store) { st.sealer = s } }

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option { return func(st *Store) { st.now = now } }

// WithIDGenerator overrides row id generation.
func WithIDGenerator(g idgen.Generator) Option { return func(st *Store) { st.newID = g } }

// NewStore creates a Store from an already-opened database connection.
func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{DB: db, now: time.Now, newID: idgen.Default}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Now returns the store clock in unix milliseconds.
func (s *Store) Now() int64 { return s.now().UnixMilli() }

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
