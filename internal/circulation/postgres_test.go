package circulation

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
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

func TestPostgresStoreContract(t *testing.T) {
	storeContract(t, NewPostgresStore(setupTestDB(t)))
}
