package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("LENDING_CONFIG", "")
	t.Setenv("PORT", "")
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 14, cfg.Circulation.LoanDays)
	assert.Equal(t, "5.00", cfg.Circulation.DailyFineRate)
	assert.Equal(t, "TRY", cfg.Circulation.Currency)
	assert.Equal(t, "@hourly", cfg.Circulation.SweepSchedule)
	assert.Equal(t, 2*time.Second, cfg.Inventory.Timeout)
	assert.Empty(t, cfg.Catalog.BaseURL)
	assert.Equal(t, ":8082", cfg.ListenAddr("8082"))
}

func TestYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lending.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: production
circulation:
  loan_days: 21
  daily_fine_rate: "2.50"
inventory:
  base_url: http://inventory:8081
  timeout: 750ms
`), 0o600))

	t.Setenv("DEFAULT_LOAN_DAYS", "7")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("PORT", "9000")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Mode)
	assert.Equal(t, 7, cfg.Circulation.LoanDays, "env wins over file")
	assert.Equal(t, "2.50", cfg.Circulation.DailyFineRate)
	assert.Equal(t, "http://inventory:8081", cfg.Inventory.BaseURL)
	assert.Equal(t, 750*time.Millisecond, cfg.Inventory.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Membership.Timeout, "untouched defaults survive")
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, ":9000", cfg.ListenAddr("8082"))
}

func TestInvalidLoanDays(t *testing.T) {
	t.Setenv("LENDING_CONFIG", "")
	t.Setenv("DEFAULT_LOAN_DAYS", "0")
	_, err := Load("")
	assert.ErrorContains(t, err, "loan_days")
}

func TestMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
