package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"whale-mirror/internal/registry"
	"whale-mirror/internal/state"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertMirrorRecordSQL = `INSERT INTO mirror_records (
        wallet,
        token,
        last_action,
        mirrored,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (wallet, token) DO UPDATE
    SET
        last_action = EXCLUDED.last_action,
        mirrored    = EXCLUDED.mirrored,
        updated_at  = EXCLUDED.updated_at;`

	loadMirrorRecordsSQL = `SELECT
        wallet,
        token,
        last_action,
        mirrored,
        updated_at
    FROM mirror_records;`

	insertAttemptSQL = `INSERT INTO mirror_attempts (
        wallet,
        token,
        action,
        source_tx,
        block_number,
        mirror_tx,
        approval_tx,
        amount_in,
        min_out,
        gas_price_wei,
        status,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8::numeric,$9::numeric,$10::numeric,$11,$12
    )
    RETURNING id, created_at;`

	attemptColumns = `
        id,
        wallet,
        token,
        action,
        source_tx,
        block_number,
        mirror_tx,
        approval_tx,
        amount_in::text,
        min_out::text,
        gas_price_wei::text,
        status,
        error,
        created_at`

	listAttemptsBetweenSQL = `SELECT` + attemptColumns + `
    FROM mirror_attempts
    WHERE created_at >= $1
      AND created_at < $2
    ORDER BY created_at
    LIMIT $3;`

	listRecentAttemptsSQL = `SELECT` + attemptColumns + `
    FROM mirror_attempts
    ORDER BY created_at DESC
    LIMIT $1;`

	countAttemptsSQL = `SELECT COUNT(*) FROM mirror_attempts;`

	deleteAttemptsBeforeSQL = `DELETE FROM mirror_attempts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AttemptStore defines operations for the mirror attempt audit trail.
type AttemptStore interface {
	InsertAttempt(ctx context.Context, attempt MirrorAttempt) (MirrorAttempt, error)
	ListAttemptsBetween(ctx context.Context, from, to time.Time, limit int) ([]MirrorAttempt, error)
	ListRecentAttempts(ctx context.Context, limit int) ([]MirrorAttempt, error)
	CountAttempts(ctx context.Context) (int64, error)
	DeleteAttemptsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to mirror records and attempts.
type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool, logger zerolog.Logger) *Store {
	return &Store{pool: pool, logger: logger.With().Str("component", "storage").Logger()}
}

// TryAdvisoryLock attempts to obtain a session-level advisory lock. The lock
// is held on a dedicated connection until unlock is called.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			s.logger.Warn().Err(err).Int64("key", key).Msg("advisory unlock failed")
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertMirrorRecord persists the latest outcome for a (wallet, token) pair.
func (s *Store) UpsertMirrorRecord(ctx context.Context, rec state.MirrorRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}

	if _, execErr := pool.Exec(ctx, upsertMirrorRecordSQL,
		rec.Wallet.Hex(),
		rec.Token.Hex(),
		string(rec.LastAction),
		rec.Mirrored,
		updated,
	); execErr != nil {
		return fmt.Errorf("upsert mirror record: %w", execErr)
	}
	return nil
}

// LoadMirrorRecords returns every stored mirror record.
func (s *Store) LoadMirrorRecords(ctx context.Context) ([]state.MirrorRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, loadMirrorRecordsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("load mirror records: %w", queryErr)
	}
	defer rows.Close()

	var records []state.MirrorRecord
	for rows.Next() {
		var (
			wallet, token, action string
			rec                   state.MirrorRecord
		)
		if err := rows.Scan(&wallet, &token, &action, &rec.Mirrored, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		parsed, err := registry.ParseAction(action)
		if err != nil {
			return nil, fmt.Errorf("mirror record %s/%s: %w", wallet, token, err)
		}
		rec.Wallet = common.HexToAddress(wallet)
		rec.Token = common.HexToAddress(token)
		rec.LastAction = parsed
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// InsertAttempt records a mirror attempt and returns it with ID and timestamp.
func (s *Store) InsertAttempt(ctx context.Context, attempt MirrorAttempt) (MirrorAttempt, error) {
	pool, err := s.getPool()
	if err != nil {
		return MirrorAttempt{}, err
	}

	row := pool.QueryRow(ctx, insertAttemptSQL,
		attempt.Wallet,
		attempt.Token,
		attempt.Action,
		attempt.SourceTx,
		int64(attempt.BlockNumber),
		attempt.MirrorTx,
		attempt.ApprovalTx,
		attempt.AmountIn.String(),
		attempt.MinOut.String(),
		attempt.GasPriceWei.String(),
		attempt.Status,
		attempt.Error,
	)
	if scanErr := row.Scan(&attempt.ID, &attempt.CreatedAt); scanErr != nil {
		return MirrorAttempt{}, fmt.Errorf("insert attempt: %w", scanErr)
	}
	return attempt, nil
}

// ListAttemptsBetween returns attempts within [from, to), oldest first.
func (s *Store) ListAttemptsBetween(ctx context.Context, from, to time.Time, limit int) ([]MirrorAttempt, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAttemptsBetweenSQL, from, to, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list attempts: %w", queryErr)
	}
	defer rows.Close()
	return collectAttempts(rows, limit)
}

// ListRecentAttempts lists the most recent attempts, newest first.
func (s *Store) ListRecentAttempts(ctx context.Context, limit int) ([]MirrorAttempt, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAttemptsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent attempts: %w", queryErr)
	}
	defer rows.Close()
	return collectAttempts(rows, limit)
}

// CountAttempts returns the total number of stored attempts.
func (s *Store) CountAttempts(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var count int64
	if scanErr := pool.QueryRow(ctx, countAttemptsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count attempts: %w", scanErr)
	}
	return count, nil
}

// DeleteAttemptsBefore prunes old audit rows.
func (s *Store) DeleteAttemptsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteAttemptsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete attempts before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func collectAttempts(rows pgx.Rows, limit int) ([]MirrorAttempt, error) {
	if limit < 0 {
		limit = 0
	}
	attempts := make([]MirrorAttempt, 0, limit)
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, attempt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return attempts, nil
}

func scanAttempt(rows pgx.Rows) (MirrorAttempt, error) {
	var (
		attempt     MirrorAttempt
		block       int64
		mirrorTx    sql.NullString
		approvalTx  sql.NullString
		amountInStr string
		minOutStr   string
		gasStr      string
		errMsg      sql.NullString
	)

	if err := rows.Scan(
		&attempt.ID,
		&attempt.Wallet,
		&attempt.Token,
		&attempt.Action,
		&attempt.SourceTx,
		&block,
		&mirrorTx,
		&approvalTx,
		&amountInStr,
		&minOutStr,
		&gasStr,
		&attempt.Status,
		&errMsg,
		&attempt.CreatedAt,
	); err != nil {
		return MirrorAttempt{}, err
	}

	var err error
	if attempt.AmountIn, err = decimal.NewFromString(amountInStr); err != nil {
		return MirrorAttempt{}, fmt.Errorf("parse amount_in: %w", err)
	}
	if attempt.MinOut, err = decimal.NewFromString(minOutStr); err != nil {
		return MirrorAttempt{}, fmt.Errorf("parse min_out: %w", err)
	}
	if attempt.GasPriceWei, err = decimal.NewFromString(gasStr); err != nil {
		return MirrorAttempt{}, fmt.Errorf("parse gas_price_wei: %w", err)
	}
	if block > 0 {
		attempt.BlockNumber = uint64(block)
	}
	if mirrorTx.Valid {
		value := mirrorTx.String
		attempt.MirrorTx = &value
	}
	if approvalTx.Valid {
		value := approvalTx.String
		attempt.ApprovalTx = &value
	}
	if errMsg.Valid {
		msg := errMsg.String
		attempt.Error = &msg
	}

	return attempt, nil
}

var (
	_ state.Persister = (*Store)(nil)
	_ AttemptStore    = (*Store)(nil)
	_ AdvisoryLocker  = (*Store)(nil)
)
