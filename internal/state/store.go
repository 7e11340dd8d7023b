package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"whale-mirror/internal/registry"
)

// MirrorRecord is the last mirror outcome for a (wallet, token) pair.
type MirrorRecord struct {
	Wallet     common.Address
	Token      common.Address
	LastAction registry.Action
	Mirrored   bool
	UpdatedAt  time.Time
}

// Persister stores mirror records outside the process.
type Persister interface {
	UpsertMirrorRecord(ctx context.Context, rec MirrorRecord) error
	LoadMirrorRecords(ctx context.Context) ([]MirrorRecord, error)
}

type pairKey struct {
	wallet common.Address
	token  common.Address
}

// Store tracks processed events and per-pair mirror outcomes. All methods are
// safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	seen    SeenSet
	records map[pairKey]MirrorRecord
	persist Persister
	logger  zerolog.Logger
	now     func() time.Time
}

// New constructs a Store. persist may be nil.
func New(seen SeenSet, persist Persister, logger zerolog.Logger) *Store {
	return &Store{
		seen:    seen,
		records: make(map[pairKey]MirrorRecord),
		persist: persist,
		logger:  logger.With().Str("component", "state").Logger(),
		now:     time.Now,
	}
}

// Load restores mirror records from the persister.
func (s *Store) Load(ctx context.Context) (int, error) {
	if s.persist == nil {
		return 0, nil
	}
	recs, err := s.persist.LoadMirrorRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("load mirror records: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		s.records[pairKey{rec.Wallet, rec.Token}] = rec
	}
	return len(recs), nil
}

// HasSeen reports whether an event key was already processed.
func (s *Store) HasSeen(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen.Contains(ctx, key)
}

// MarkSeen records the key and returns true only for its first occurrence.
func (s *Store) MarkSeen(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen.Add(ctx, key)
}

// MirrorRecord returns the stored record for a pair.
func (s *Store) MirrorRecord(wallet, token common.Address) (MirrorRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[pairKey{wallet, token}]
	return rec, ok
}

// AlreadyMirrored is true when the pair's last successful mirror went in the
// same direction as action.
func (s *Store) AlreadyMirrored(wallet, token common.Address, action registry.Action) bool {
	rec, ok := s.MirrorRecord(wallet, token)
	return ok && rec.Mirrored && rec.LastAction == action
}

// RecordMirror stores the outcome of an attempt. The in-memory record is always
// updated; a persistence error is returned for the caller to log.
func (s *Store) RecordMirror(ctx context.Context, wallet, token common.Address, action registry.Action, mirrored bool) error {
	rec := MirrorRecord{
		Wallet:     wallet,
		Token:      token,
		LastAction: action,
		Mirrored:   mirrored,
		UpdatedAt:  s.now().UTC(),
	}

	s.mu.Lock()
	s.records[pairKey{wallet, token}] = rec
	s.mu.Unlock()

	s.logger.Debug().
		Str("wallet", wallet.Hex()).
		Str("token", token.Hex()).
		Str("action", string(action)).
		Bool("mirrored", mirrored).
		Msg("mirror record updated")

	if s.persist == nil {
		return nil
	}
	if err := s.persist.UpsertMirrorRecord(ctx, rec); err != nil {
		return fmt.Errorf("persist mirror record: %w", err)
	}
	return nil
}
