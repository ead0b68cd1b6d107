package status

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func setupPostgres(t *testing.T) *PostgresRepository {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := OpenPostgres(ctx, dsn)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return NewPostgresRepository(db)
}

func TestPostgresRepository(t *testing.T) {
	repo := setupPostgres(t)
	ctx := context.Background()
	user := "test-user-" + time.Now().Format("150405.000000")
	t.Cleanup(func() { repo.Clear(context.Background(), user) })

	if _, err := repo.Load(ctx, user); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load on empty = %v, want ErrNotFound", err)
	}

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)
	if err := repo.Save(ctx, user, Preference{Status: Idle, ExpiresAt: expires}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := repo.Save(ctx, user, Preference{Status: Busy, ExpiresAt: expires}); err != nil {
		t.Fatalf("Save upsert: %v", err)
	}

	pref, err := repo.Load(ctx, user)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if pref.Status != Busy || !pref.ExpiresAt.Equal(expires) {
		t.Fatalf("loaded = %+v, want busy until %v", pref, expires)
	}

	if err := repo.Clear(ctx, user); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := repo.Load(ctx, user); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load after Clear = %v, want ErrNotFound", err)
	}
}
