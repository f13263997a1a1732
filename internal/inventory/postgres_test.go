package inventory

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s port=5432 user=user password=password dbname=testdb sslmode=disable", envOr("PGHOST", "localhost"))
	}
	db, err := sqlx.Open("postgres", dsn)
	require.NoError(t, err)
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("skipping: could not connect to postgres: %v", err)
	}
	require.NoError(t, NewPostgresStore(db).Migrate(context.Background()))
	t.Cleanup(func() { db.Close() })
	return db
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	store := NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	barcode := Barcode("PG-" + uuid.NewString()[:8])
	c, _ := Acquire(uuid.New(), barcode, t0, t0)
	loc := ShelfLocation{Floor: "1", Section: "A", Shelf: "9", Position: "L"}
	c.Relocate(&loc, t0)
	require.NoError(t, store.Create(ctx, c))

	err := store.Create(ctx, &Copy{ID: uuid.New(), ItemID: c.ItemID, Barcode: barcode, Status: StatusAvailable, AcquiredAt: t0, CreatedAt: t0, UpdatedAt: t0})
	assert.ErrorIs(t, err, ErrDuplicateBarcode)

	exists, err := store.ExistsByBarcode(ctx, barcode)
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := store.FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, loc, *got.ShelfLocation)
	assert.Equal(t, 1, got.Version)

	stale := *got
	_, err = got.MarkLoaned(t0)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, got))
	assert.Equal(t, 2, got.Version)

	assert.ErrorIs(t, store.Save(ctx, &stale), ErrConcurrentUpdate)
	assert.Error(t, store.Delete(ctx, got), "loaned copies are never deleted")

	_, err = got.MarkReturned(t0)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, got))
	require.NoError(t, store.Delete(ctx, got))

	_, err = store.FindByID(ctx, c.ID)
	assert.ErrorIs(t, err, ErrCopyNotFound)
}
