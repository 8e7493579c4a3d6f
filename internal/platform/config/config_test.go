package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APPROVALS_CONFIG", "")
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "be-expense-approvals", cfg.Service.Name)
	require.Equal(t, 8086, cfg.Server.Port)
	require.Equal(t, 9086, cfg.Server.GRPCPort)
	require.Equal(t, 5*time.Second, cfg.Database.QueryTimeout)
	require.Equal(t, StorePostgres, cfg.Store.Kind)
	require.Equal(t, 100, cfg.Notifications.PerUserCap)
	require.Equal(t, "USD", cfg.Currency.Base)
	require.NotEmpty(t, cfg.Currency.Rates)
}

func TestLoadEnvFileAndOverrides(t *testing.T) {
	t.Setenv("APPROVALS_CONFIG", "")
	dir := t.TempDir()
	t.Chdir(dir)

	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("APPROVALS_SERVER_PORT=9999\nAPPROVALS_STORE_KIND=MEMORY\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("APPROVALS_SERVER_PORT")
		os.Unsetenv("APPROVALS_STORE_KIND")
	})

	cfg, err := Load(envFile)
	require.NoError(t, err)
	require.Equal(t, 9999, cfg.Server.Port)
	require.Equal(t, StoreMemory, cfg.Store.Kind)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "approvals.yaml")
	body := []byte(`
database:
  query_timeout: 2s
nats:
  url: nats://localhost:4222
currency:
  base: eur
`)
	require.NoError(t, os.WriteFile(path, body, 0o600))
	t.Setenv("APPROVALS_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, cfg.Database.QueryTimeout)
	require.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	require.Equal(t, "EUR", cfg.Currency.Base)
}

func TestValidateRejectsUnknownStore(t *testing.T) {
	t.Setenv("APPROVALS_CONFIG", "")
	t.Chdir(t.TempDir())
	t.Setenv("APPROVALS_STORE_KIND", "mongo")

	_, err := Load("")
	require.ErrorContains(t, err, "unknown store kind")
}
