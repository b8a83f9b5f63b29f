package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/terra-clan/challenge-engine/internal/models"
)

// SQLiteStore implements Repository on an embedded SQLite database.
// Writes go through a single connection, so per-key updates are serialised.
type SQLiteStore struct {
	db *sql.DB
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func nullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

// OpenSQLite opens a SQLite store at path and applies embedded migrations
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}
	if err := applySQLiteMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProgressSQLite(row rowScanner) (*models.ProgressRecord, error) {
	var rec models.ProgressRecord
	var firstAt, lastAt sql.NullInt64
	var updatedAt int64

	err := row.Scan(
		&rec.Participant,
		&rec.World,
		&rec.Challenge,
		&rec.CompletionCount,
		&firstAt,
		&lastAt,
		&rec.LastModifiedBy,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.FirstCompletedAt = nullMillis(firstAt)
	rec.LastCompletedAt = nullMillis(lastAt)
	rec.UpdatedAt = fromMillis(updatedAt)
	return &rec, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key models.ProgressKey) (*models.ProgressRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+progressColumns+` FROM progress_records
		WHERE participant = ? AND world = ? AND challenge = ?`,
		key.Participant, key.World, key.Challenge)

	rec, err := scanProgressSQLite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapErr("get progress", err)
	}
	return rec, nil
}

func (s *SQLiteStore) GetCount(ctx context.Context, key models.ProgressKey) (int, error) {
	rec, err := s.Get(ctx, key)
	if err != nil || rec == nil {
		return 0, err
	}
	return rec.CompletionCount, nil
}

func (s *SQLiteStore) IsComplete(ctx context.Context, key models.ProgressKey) (bool, error) {
	count, err := s.GetCount(ctx, key)
	return count >= 1, err
}

func (s *SQLiteStore) List(ctx context.Context, participant, world string) ([]models.ProgressRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+progressColumns+` FROM progress_records
		WHERE participant = ? AND world = ?
		ORDER BY challenge`, participant, world)
	if err != nil {
		return nil, wrapErr("list progress", err)
	}
	defer rows.Close()

	var records []models.ProgressRecord
	for rows.Next() {
		rec, err := scanProgressSQLite(rows)
		if err != nil {
			return nil, wrapErr("scan progress", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list progress", err)
	}
	return records, nil
}

func (s *SQLiteStore) IncrementCompletion(ctx context.Context, key models.ProgressKey, limit int, actor string) (*models.ProgressRecord, error) {
	now := toMillis(time.Now())
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO progress_records (participant, world, challenge, completion_count, first_completed_at, last_completed_at, last_modified_by, updated_at)
		VALUES (?1, ?2, ?3, 1, ?4, ?4, ?5, ?4)
		ON CONFLICT (participant, world, challenge) DO UPDATE SET
			completion_count   = progress_records.completion_count + 1,
			first_completed_at = COALESCE(progress_records.first_completed_at, excluded.first_completed_at),
			last_completed_at  = excluded.last_completed_at,
			last_modified_by   = excluded.last_modified_by,
			updated_at         = excluded.updated_at
		WHERE ?6 = 0 OR progress_records.completion_count < ?6
		RETURNING `+progressColumns,
		key.Participant, key.World, key.Challenge, now, actor, limit)

	rec, err := scanProgressSQLite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExhausted
		}
		return nil, wrapErr("increment completion", err)
	}
	return rec, nil
}

func (s *SQLiteStore) ResetOne(ctx context.Context, key models.ProgressKey, actor string) error {
	return s.withTx(ctx, "reset progress", func(tx *sql.Tx) error {
		now := toMillis(time.Now())
		res, err := tx.ExecContext(ctx, `
			UPDATE progress_records
			SET completion_count = 0, first_completed_at = NULL, last_completed_at = NULL,
				last_modified_by = ?, updated_at = ?
			WHERE participant = ? AND world = ? AND challenge = ? AND completion_count > 0`,
			actor, now, key.Participant, key.World, key.Challenge)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotCompleted
		}
		return insertAuditSQLite(ctx, tx, key.Participant, key.World, key.Challenge, actor, 1, now)
	})
}

func (s *SQLiteStore) ResetAll(ctx context.Context, participant, world, actor string) (int, error) {
	var cleared int
	err := s.withTx(ctx, "reset all progress", func(tx *sql.Tx) error {
		now := toMillis(time.Now())
		res, err := tx.ExecContext(ctx, `
			UPDATE progress_records
			SET completion_count = 0, first_completed_at = NULL, last_completed_at = NULL,
				last_modified_by = ?, updated_at = ?
			WHERE participant = ? AND world = ? AND completion_count > 0`,
			actor, now, participant, world)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		cleared = int(n)
		return insertAuditSQLite(ctx, tx, participant, world, "", actor, cleared, now)
	})
	if err != nil {
		return 0, err
	}
	return cleared, nil
}

func insertAuditSQLite(ctx context.Context, tx *sql.Tx, participant, world, challenge, actor string, cleared int, at int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO reset_audit (participant, world, challenge, actor, cleared, performed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		participant, world, challenge, actor, cleared, at)
	return err
}

func (s *SQLiteStore) withTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(op, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		if errors.Is(err, ErrNotCompleted) {
			return err
		}
		return wrapErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return wrapErr(op, err)
	}
	return nil
}

func (s *SQLiteStore) ListResetAudit(ctx context.Context, participant, world string) ([]models.ResetAudit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, participant, world, challenge, actor, cleared, performed_at
		FROM reset_audit
		WHERE participant = ? AND world = ?
		ORDER BY performed_at DESC, id DESC`, participant, world)
	if err != nil {
		return nil, wrapErr("list reset audit", err)
	}
	defer rows.Close()

	var entries []models.ResetAudit
	for rows.Next() {
		var a models.ResetAudit
		var at int64
		if err := rows.Scan(&a.ID, &a.Participant, &a.World, &a.Challenge, &a.Actor, &a.Cleared, &at); err != nil {
			return nil, wrapErr("scan reset audit", err)
		}
		a.PerformedAt = fromMillis(at)
		entries = append(entries, a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list reset audit", err)
	}
	return entries, nil
}

func (s *SQLiteStore) PruneResetAudit(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reset_audit WHERE performed_at < ?`, toMillis(before))
	if err != nil {
		return 0, wrapErr("prune reset audit", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr("prune reset audit", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) MarkLevelComplete(ctx context.Context, participant, world, level string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO level_completions (participant, world, level, completed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (participant, world, level) DO NOTHING`,
		participant, world, level, toMillis(time.Now()))
	if err != nil {
		return false, wrapErr("mark level complete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr("mark level complete", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) UnmarkLevelComplete(ctx context.Context, participant, world, level string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM level_completions WHERE participant = ? AND world = ? AND level = ?`,
		participant, world, level)
	return wrapErr("unmark level complete", err)
}

// CreateClient registers an API client, used by challengectl and tests
func (s *SQLiteStore) CreateClient(ctx context.Context, client *models.ApiClient) error {
	perms, meta, err := encodeClientJSON(client)
	if err != nil {
		return err
	}
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO api_clients (name, api_key, is_active, created_at, permissions, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`,
		client.Name, client.ApiKey, client.IsActive, toMillis(client.CreatedAt), perms, meta)
	if err != nil {
		return fmt.Errorf("failed to create api client: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to create api client: %w", err)
	}
	client.ID = int(id)
	return nil
}

func (s *SQLiteStore) GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error) {
	var client models.ApiClient
	var createdAt int64
	var lastUsedAt sql.NullInt64
	var perms, meta string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, api_key, is_active, created_at, last_used_at, permissions, metadata
		FROM api_clients
		WHERE api_key = ?`, apiKey).Scan(
		&client.ID,
		&client.Name,
		&client.ApiKey,
		&client.IsActive,
		&createdAt,
		&lastUsedAt,
		&perms,
		&meta,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get api client: %w", err)
	}

	client.CreatedAt = fromMillis(createdAt)
	client.LastUsedAt = nullMillis(lastUsedAt)
	if err := decodeClientJSON(&client, []byte(perms), []byte(meta)); err != nil {
		return nil, err
	}
	return &client, nil
}

func (s *SQLiteStore) UpdateClientLastUsed(ctx context.Context, apiKey string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_clients SET last_used_at = ? WHERE api_key = ?`, toMillis(time.Now()), apiKey)
	if err != nil {
		return fmt.Errorf("failed to update client last_used_at: %w", err)
	}
	return nil
}
