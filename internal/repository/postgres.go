package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/kkkkikiki/leadpool/internal/model"
)

// assignLockKey is the advisory lock that serializes batch assignment.
const assignLockKey int64 = 0x6c656164706f6f6c

// insertChunkSize bounds rows per multi-row INSERT (PostgreSQL parameter limit)
const insertChunkSize = 1000

// PostgresStore implements Store on PostgreSQL tables
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a store over an open connection pool
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type batchRow struct {
	Index  int            `db:"batch_index"`
	Phones pq.StringArray `db:"phones"`
}

func (r batchRow) toModel() model.Batch {
	return model.Batch{Index: r.Index, Phones: []string(r.Phones)}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// IsWhitelisted checks whitelist membership
func (s *PostgresStore) IsWhitelisted(ctx context.Context, identity string) (bool, error) {
	var ok bool
	err := s.db.GetContext(ctx, &ok, `SELECT EXISTS (SELECT 1 FROM whitelist WHERE identity = $1)`, identity)
	if err != nil {
		return false, fmt.Errorf("failed to check whitelist: %w", err)
	}
	return ok, nil
}

// ListWhitelist returns identities in import order
func (s *PostgresStore) ListWhitelist(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT identity FROM whitelist ORDER BY position ASC`); err != nil {
		return nil, fmt.Errorf("failed to list whitelist: %w", err)
	}
	return ids, nil
}

// ReplaceWhitelist swaps the whole whitelist in one transaction
func (s *PostgresStore) ReplaceWhitelist(ctx context.Context, identities []string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM whitelist`); err != nil {
		return fmt.Errorf("failed to clear whitelist: %w", err)
	}
	rows := make([][]any, len(identities))
	for i, id := range identities {
		rows[i] = []any{id}
	}
	if err := insertRows(ctx, tx, `INSERT INTO whitelist (identity) VALUES %s ON CONFLICT DO NOTHING`, 1, rows); err != nil {
		return fmt.Errorf("failed to insert whitelist: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RemoveFromWhitelist deletes one identity from the whitelist
func (s *PostgresStore) RemoveFromWhitelist(ctx context.Context, identity string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM whitelist WHERE identity = $1`, identity); err != nil {
		return fmt.Errorf("failed to remove from whitelist: %w", err)
	}
	return nil
}

// GetStatus retrieves an identity's record
func (s *PostgresStore) GetStatus(ctx context.Context, identity string) (*model.IdentityStatus, error) {
	query := `
		SELECT identity, redeem_count, last_redeemed_at, batch_index
		FROM identity_status
		WHERE identity = $1
	`

	var rec model.IdentityStatus
	if err := s.db.GetContext(ctx, &rec, query, identity); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get status: %w", err)
	}
	return &rec, nil
}

// ListStatuses returns every identity record
func (s *PostgresStore) ListStatuses(ctx context.Context) ([]model.IdentityStatus, error) {
	query := `
		SELECT identity, redeem_count, last_redeemed_at, batch_index
		FROM identity_status
		ORDER BY identity ASC
	`

	var recs []model.IdentityStatus
	if err := s.db.SelectContext(ctx, &recs, query); err != nil {
		return nil, fmt.Errorf("failed to list statuses: %w", err)
	}
	return recs, nil
}

// DeleteStatus removes an identity's record
func (s *PostgresStore) DeleteStatus(ctx context.Context, identity string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM identity_status WHERE identity = $1`, identity)
	if err != nil {
		return false, fmt.Errorf("failed to delete status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// AssignBatch hands the lowest unreferenced batch to the identity.
// Assignments are serialized by an advisory transaction lock; the partial
// unique index on batch_index backs the same invariant.
func (s *PostgresStore) AssignBatch(ctx context.Context, req AssignRequest) (*model.IdentityStatus, *model.Batch, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, assignLockKey); err != nil {
		return nil, nil, fmt.Errorf("failed to acquire assignment lock: %w", err)
	}

	var current int
	err = tx.GetContext(ctx, &current,
		`SELECT redeem_count FROM identity_status WHERE identity = $1 FOR UPDATE`, req.Identity)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("failed to lock status: %w", err)
	}
	if current != req.ExpectedCount {
		return nil, nil, ErrConflict
	}

	query := `
		SELECT b.batch_index, b.phones
		FROM phone_batches b
		WHERE NOT EXISTS (
			SELECT 1 FROM identity_status s WHERE s.batch_index = b.batch_index
		)
		ORDER BY b.batch_index ASC
		LIMIT 1
	`
	var row batchRow
	if err := tx.GetContext(ctx, &row, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrPoolExhausted
		}
		return nil, nil, fmt.Errorf("failed to find free batch: %w", err)
	}

	idx := row.Index
	rec := model.IdentityStatus{
		Identity:       req.Identity,
		RedeemCount:    current + 1,
		LastRedeemedAt: req.At,
		BatchIndex:     &idx,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO identity_status (identity, redeem_count, last_redeemed_at, batch_index)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (identity) DO UPDATE
		SET redeem_count = EXCLUDED.redeem_count,
		    last_redeemed_at = EXCLUDED.last_redeemed_at,
		    batch_index = EXCLUDED.batch_index
	`, rec.Identity, rec.RedeemCount, rec.LastRedeemedAt, idx)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, ErrConflict
		}
		return nil, nil, fmt.Errorf("failed to write status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	batch := row.toModel()
	return &rec, &batch, nil
}

// ListBatches returns the pool in index order
func (s *PostgresStore) ListBatches(ctx context.Context) ([]model.Batch, error) {
	var rows []batchRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT batch_index, phones FROM phone_batches ORDER BY batch_index ASC`); err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	out := make([]model.Batch, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// ReplaceBatches swaps the whole pool in one transaction
func (s *PostgresStore) ReplaceBatches(ctx context.Context, batches [][]string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM phone_batches`); err != nil {
		return fmt.Errorf("failed to clear batches: %w", err)
	}
	rows := make([][]any, len(batches))
	for i, b := range batches {
		rows[i] = []any{i, pq.Array(b)}
	}
	if err := insertRows(ctx, tx, `INSERT INTO phone_batches (batch_index, phones) VALUES %s`, 2, rows); err != nil {
		return fmt.Errorf("failed to insert batches: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// AppendUploads inserts all entries or none
func (s *PostgresStore) AppendUploads(ctx context.Context, entries []model.UploadEntry) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows := make([][]any, len(entries))
	for i, e := range entries {
		rows[i] = []any{e.ID, e.Identity, e.Phone, e.UploadedAt}
	}
	err = insertRows(ctx, tx, `INSERT INTO upload_logs (id, identity, phone, uploaded_at) VALUES %s`, 4, rows)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to insert uploads: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListUploads returns upload entries, optionally for one identity
func (s *PostgresStore) ListUploads(ctx context.Context, identity string) ([]model.UploadEntry, error) {
	query := `
		SELECT id, identity, phone, uploaded_at
		FROM upload_logs
		WHERE ($1::text = '' OR identity = $1::text)
		ORDER BY identity ASC, uploaded_at ASC
	`

	var entries []model.UploadEntry
	if err := s.db.SelectContext(ctx, &entries, query, identity); err != nil {
		return nil, fmt.Errorf("failed to list uploads: %w", err)
	}
	return entries, nil
}

// ToggleMark flips a phone's claimed flag and mirrors it into the blacklist
func (s *PostgresStore) ToggleMark(ctx context.Context, phone string, at time.Time) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var claimed bool
	err = tx.GetContext(ctx, &claimed, `
		INSERT INTO mark_status (phone, claimed, updated_at)
		VALUES ($1, TRUE, $2)
		ON CONFLICT (phone) DO UPDATE
		SET claimed = NOT mark_status.claimed, updated_at = EXCLUDED.updated_at
		RETURNING claimed
	`, phone, at)
	if err != nil {
		return false, fmt.Errorf("failed to toggle mark: %w", err)
	}

	if claimed {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO blacklist (phone, added_at, source) VALUES ($1, $2, 'mark')
			ON CONFLICT (phone) DO NOTHING
		`, phone, at)
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM blacklist WHERE phone = $1 AND source = 'mark'`, phone)
	}
	if err != nil {
		return false, fmt.Errorf("failed to mirror mark into blacklist: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return claimed, nil
}

// ListMarks returns every phone's claimed flag
func (s *PostgresStore) ListMarks(ctx context.Context) (map[string]bool, error) {
	var rows []struct {
		Phone   string `db:"phone"`
		Claimed bool   `db:"claimed"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT phone, claimed FROM mark_status`); err != nil {
		return nil, fmt.Errorf("failed to list marks: %w", err)
	}
	out := make(map[string]bool, len(rows))
	for _, r := range rows {
		out[r.Phone] = r.Claimed
	}
	return out, nil
}

// AddToBlacklist merges phones into the blacklist as permanent entries
func (s *PostgresStore) AddToBlacklist(ctx context.Context, phones []string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	seen := make(map[string]struct{}, len(phones))
	rows := make([][]any, 0, len(phones))
	for _, p := range phones {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		rows = append(rows, []any{p})
	}
	query := `INSERT INTO blacklist (phone) VALUES %s ON CONFLICT (phone) DO UPDATE SET source = 'permanent'`
	if err := insertRows(ctx, tx, query, 1, rows); err != nil {
		return fmt.Errorf("failed to insert blacklist: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListBlacklist returns blacklisted phones in sorted order
func (s *PostgresStore) ListBlacklist(ctx context.Context) ([]string, error) {
	var phones []string
	if err := s.db.SelectContext(ctx, &phones, `SELECT phone FROM blacklist ORDER BY phone ASC`); err != nil {
		return nil, fmt.Errorf("failed to list blacklist: %w", err)
	}
	return phones, nil
}

// Ping checks the connection pool
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the pool is owned by database.DB
func (s *PostgresStore) Close() error { return nil }

// insertRows runs a multi-row INSERT in chunks. query must contain a single
// %s where the VALUES tuples go.
func insertRows(ctx context.Context, tx *sqlx.Tx, query string, cols int, rows [][]any) error {
	for start := 0; start < len(rows); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		valuesClause := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)*cols)
		for i, row := range chunk {
			placeholders := make([]string, cols)
			for c := 0; c < cols; c++ {
				placeholders[c] = fmt.Sprintf("$%d", i*cols+c+1)
			}
			valuesClause[i] = "(" + strings.Join(placeholders, ", ") + ")"
			args = append(args, row...)
		}

		if _, err := tx.ExecContext(ctx, fmt.Sprintf(query, strings.Join(valuesClause, ", ")), args...); err != nil {
			return err
		}
	}
	return nil
}
