package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/terra-clan/challenge-engine/internal/models"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int32
	MaxIdleConns int32
	MaxLifetime  time.Duration
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (*PostgresRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	poolConfig.MaxConns = 25
	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.MaxOpenConns
	}
	poolConfig.MinConns = 5
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = cfg.MaxIdleConns
	}
	poolConfig.MaxConnLifetime = 30 * time.Minute
	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// Pool exposes the connection pool for migrations
func (r *PostgresRepository) Pool() *pgxpool.Pool {
	return r.pool
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

const progressColumns = `participant, world, challenge, completion_count, first_completed_at, last_completed_at, last_modified_by, updated_at`

func scanProgress(row pgx.Row) (*models.ProgressRecord, error) {
	var rec models.ProgressRecord
	var firstAt, lastAt sql.NullTime

	err := row.Scan(
		&rec.Participant,
		&rec.World,
		&rec.Challenge,
		&rec.CompletionCount,
		&firstAt,
		&lastAt,
		&rec.LastModifiedBy,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if firstAt.Valid {
		rec.FirstCompletedAt = &firstAt.Time
	}
	if lastAt.Valid {
		rec.LastCompletedAt = &lastAt.Time
	}
	return &rec, nil
}

// Get retrieves a progress record, nil when the key was never completed
func (r *PostgresRepository) Get(ctx context.Context, key models.ProgressKey) (*models.ProgressRecord, error) {
	query := `SELECT ` + progressColumns + ` FROM progress_records
		WHERE participant = $1 AND world = $2 AND challenge = $3`

	rec, err := scanProgress(r.pool.QueryRow(ctx, query, key.Participant, key.World, key.Challenge))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, wrapErr("get progress", err)
	}
	return rec, nil
}

// GetCount returns the completion count for a key
func (r *PostgresRepository) GetCount(ctx context.Context, key models.ProgressKey) (int, error) {
	rec, err := r.Get(ctx, key)
	if err != nil || rec == nil {
		return 0, err
	}
	return rec.CompletionCount, nil
}

// IsComplete reports whether the key has at least one completion
func (r *PostgresRepository) IsComplete(ctx context.Context, key models.ProgressKey) (bool, error) {
	count, err := r.GetCount(ctx, key)
	return count >= 1, err
}

// List returns every record of a participant in a world
func (r *PostgresRepository) List(ctx context.Context, participant, world string) ([]models.ProgressRecord, error) {
	query := `SELECT ` + progressColumns + ` FROM progress_records
		WHERE participant = $1 AND world = $2
		ORDER BY challenge`

	rows, err := r.pool.Query(ctx, query, participant, world)
	if err != nil {
		return nil, wrapErr("list progress", err)
	}
	defer rows.Close()

	var records []models.ProgressRecord
	for rows.Next() {
		rec, err := scanProgress(rows)
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

// IncrementCompletion performs the bounded upsert in a single statement.
// The row lock taken by ON CONFLICT serialises writers on the same key.
func (r *PostgresRepository) IncrementCompletion(ctx context.Context, key models.ProgressKey, limit int, actor string) (*models.ProgressRecord, error) {
	query := `
		INSERT INTO progress_records (participant, world, challenge, completion_count, first_completed_at, last_completed_at, last_modified_by, updated_at)
		VALUES ($1, $2, $3, 1, $4, $4, $5, $4)
		ON CONFLICT (participant, world, challenge) DO UPDATE SET
			completion_count   = progress_records.completion_count + 1,
			first_completed_at = COALESCE(progress_records.first_completed_at, EXCLUDED.first_completed_at),
			last_completed_at  = EXCLUDED.last_completed_at,
			last_modified_by   = EXCLUDED.last_modified_by,
			updated_at         = EXCLUDED.updated_at
		WHERE $6::int = 0 OR progress_records.completion_count < $6::int
		RETURNING ` + progressColumns

	now := time.Now().UTC()
	rec, err := scanProgress(r.pool.QueryRow(ctx, query, key.Participant, key.World, key.Challenge, now, actor, limit))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExhausted
		}
		return nil, wrapErr("increment completion", err)
	}
	return rec, nil
}

// ResetOne clears a completed record and audits it in one transaction
func (r *PostgresRepository) ResetOne(ctx context.Context, key models.ProgressKey, actor string) error {
	return r.withTx(ctx, "reset progress", func(tx pgx.Tx) error {
		now := time.Now().UTC()
		tag, err := tx.Exec(ctx, `
			UPDATE progress_records
			SET completion_count = 0, first_completed_at = NULL, last_completed_at = NULL,
				last_modified_by = $4, updated_at = $5
			WHERE participant = $1 AND world = $2 AND challenge = $3 AND completion_count > 0`,
			key.Participant, key.World, key.Challenge, actor, now)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotCompleted
		}
		return insertAuditPg(ctx, tx, key.Participant, key.World, key.Challenge, actor, 1, now)
	})
}

// ResetAll clears every completed record of a participant in a world
func (r *PostgresRepository) ResetAll(ctx context.Context, participant, world, actor string) (int, error) {
	var cleared int
	err := r.withTx(ctx, "reset all progress", func(tx pgx.Tx) error {
		now := time.Now().UTC()
		tag, err := tx.Exec(ctx, `
			UPDATE progress_records
			SET completion_count = 0, first_completed_at = NULL, last_completed_at = NULL,
				last_modified_by = $3, updated_at = $4
			WHERE participant = $1 AND world = $2 AND completion_count > 0`,
			participant, world, actor, now)
		if err != nil {
			return err
		}
		cleared = int(tag.RowsAffected())
		return insertAuditPg(ctx, tx, participant, world, "", actor, cleared, now)
	})
	if err != nil {
		return 0, err
	}
	return cleared, nil
}

func insertAuditPg(ctx context.Context, tx pgx.Tx, participant, world, challenge, actor string, cleared int, at time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO reset_audit (participant, world, challenge, actor, cleared, performed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		participant, world, challenge, actor, cleared, at)
	return err
}

// withTx runs fn in a transaction. Sentinel errors pass through unwrapped.
func (r *PostgresRepository) withTx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return wrapErr(op, err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		if errors.Is(err, ErrNotCompleted) {
			return err
		}
		return wrapErr(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapErr(op, err)
	}
	return nil
}

// ListResetAudit returns the reset history of a participant, newest first
func (r *PostgresRepository) ListResetAudit(ctx context.Context, participant, world string) ([]models.ResetAudit, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, participant, world, challenge, actor, cleared, performed_at
		FROM reset_audit
		WHERE participant = $1 AND world = $2
		ORDER BY performed_at DESC, id DESC`, participant, world)
	if err != nil {
		return nil, wrapErr("list reset audit", err)
	}
	defer rows.Close()

	var entries []models.ResetAudit
	for rows.Next() {
		var a models.ResetAudit
		if err := rows.Scan(&a.ID, &a.Participant, &a.World, &a.Challenge, &a.Actor, &a.Cleared, &a.PerformedAt); err != nil {
			return nil, wrapErr("scan reset audit", err)
		}
		entries = append(entries, a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list reset audit", err)
	}
	return entries, nil
}

// PruneResetAudit deletes audit entries older than before
func (r *PostgresRepository) PruneResetAudit(ctx context.Context, before time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM reset_audit WHERE performed_at < $1`, before)
	if err != nil {
		return 0, wrapErr("prune reset audit", err)
	}
	return int(tag.RowsAffected()), nil
}

// MarkLevelComplete inserts the level marker once
func (r *PostgresRepository) MarkLevelComplete(ctx context.Context, participant, world, level string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO level_completions (participant, world, level, completed_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (participant, world, level) DO NOTHING`,
		participant, world, level)
	if err != nil {
		return false, wrapErr("mark level complete", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UnmarkLevelComplete removes the level marker
func (r *PostgresRepository) UnmarkLevelComplete(ctx context.Context, participant, world, level string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM level_completions WHERE participant = $1 AND world = $2 AND level = $3`,
		participant, world, level)
	return wrapErr("unmark level complete", err)
}

// NotifyReload asks every listening instance to reload a world's definitions
func (r *PostgresRepository) NotifyReload(ctx context.Context, channel, world string) error {
	if _, err := r.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, channel, world); err != nil {
		return fmt.Errorf("failed to notify reload: %w", err)
	}
	return nil
}

// GetClientByApiKey retrieves an API client by its key
func (r *PostgresRepository) GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error) {
	query := `
		SELECT id, name, api_key, is_active, created_at, last_used_at, permissions, metadata
		FROM api_clients
		WHERE api_key = $1
	`

	var client models.ApiClient
	var lastUsedAt sql.NullTime
	var permissionsJSON, metadataJSON []byte

	err := r.pool.QueryRow(ctx, query, apiKey).Scan(
		&client.ID,
		&client.Name,
		&client.ApiKey,
		&client.IsActive,
		&client.CreatedAt,
		&lastUsedAt,
		&permissionsJSON,
		&metadataJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get api client: %w", err)
	}

	if lastUsedAt.Valid {
		client.LastUsedAt = &lastUsedAt.Time
	}
	if err := decodeClientJSON(&client, permissionsJSON, metadataJSON); err != nil {
		return nil, err
	}
	return &client, nil
}

// UpdateClientLastUsed updates the last_used_at timestamp for a client
func (r *PostgresRepository) UpdateClientLastUsed(ctx context.Context, apiKey string) error {
	_, err := r.pool.Exec(ctx, `UPDATE api_clients SET last_used_at = NOW() WHERE api_key = $1`, apiKey)
	if err != nil {
		return fmt.Errorf("failed to update client last_used_at: %w", err)
	}
	return nil
}

func decodeClientJSON(client *models.ApiClient, permissionsJSON, metadataJSON []byte) error {
	if len(permissionsJSON) > 0 {
		if err := json.Unmarshal(permissionsJSON, &client.Permissions); err != nil {
			return fmt.Errorf("failed to unmarshal permissions: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &client.Metadata); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return nil
}

func encodeClientJSON(client *models.ApiClient) (string, string, error) {
	perms := client.Permissions
	if perms == nil {
		perms = []string{}
	}
	permsJSON, err := json.Marshal(perms)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal permissions: %w", err)
	}

	meta := client.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(permsJSON), string(metaJSON), nil
}
