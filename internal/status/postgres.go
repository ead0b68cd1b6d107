package status

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver
)

// PostgresRepository stores preferences in the user_status_preferences table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repository backed by the given handle.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// OpenPostgres opens and pings a PostgreSQL connection pool.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("status: open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("status: ping postgres: %w", err)
	}
	return db, nil
}

// Load returns the stored preference for userID, or ErrNotFound.
func (r *PostgresRepository) Load(ctx context.Context, userID string) (Preference, error) {
	const query = `
		SELECT status, expires_at
		FROM user_status_preferences
		WHERE user_id = $1`

	var (
		raw     string
		expires sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&raw, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return Preference{}, ErrNotFound
	}
	if err != nil {
		return Preference{}, fmt.Errorf("status: load: %w", err)
	}

	p := Preference{Status: Normalize(raw)}
	if expires.Valid {
		p.ExpiresAt = expires.Time
	}
	return p, nil
}

// Save upserts the preference for userID.
func (r *PostgresRepository) Save(ctx context.Context, userID string, pref Preference) error {
	const query = `
		INSERT INTO user_status_preferences (user_id, status, expires_at, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET status = EXCLUDED.status,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = NOW()`

	var expires sql.NullTime
	if !pref.ExpiresAt.IsZero() {
		expires = sql.NullTime{Time: pref.ExpiresAt.UTC(), Valid: true}
	}

	if _, err := r.db.ExecContext(ctx, query, userID, string(pref.Status), expires); err != nil {
		return fmt.Errorf("status: save: %w", err)
	}
	return nil
}

// Clear deletes any stored preference for userID.
func (r *PostgresRepository) Clear(ctx context.Context, userID string) error {
	const query = `DELETE FROM user_status_preferences WHERE user_id = $1`

	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("status: clear: %w", err)
	}
	return nil
}
