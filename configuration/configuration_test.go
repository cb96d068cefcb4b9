package configuration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bartossh/Ticketeer/repository"
)

const testConfig = `
engine:
  request_ttl_seconds: 120
  claim_lease_seconds: 240
server:
  port: 8080
  rate_limit_max: 5
funds_listener:
  interval_ms: 500
storage:
  backend: postgres
  postgres:
    conn_str: "postgres://file"
    database_name: "ticketeer"
nats:
  server_address: "nats://localhost:4222"
  client_name: "ticketeer"
`

func writeConfig(t *testing.T, body string) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "setup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestReadConfiguration(t *testing.T) {
	t.Setenv(EnvDBConnStr, "")
	t.Setenv(EnvNatsToken, "")
	cfg, err := Read(writeConfig(t, testConfig))
	require.NoError(t, err)

	assert.Equal(t, uint64(120), cfg.Engine.RequestTTLSeconds)
	assert.Equal(t, uint64(240), cfg.Engine.ClaimLeaseSeconds)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Server.RateLimitMax)
	assert.Equal(t, uint64(500), cfg.FundsListener.IntervalMs)
	assert.Equal(t, BackendPostgres, cfg.Storage.Backend)
	assert.Equal(t, repository.DBConfig{ConnStr: "postgres://file", DatabaseName: "ticketeer"}, cfg.Storage.Postgres)
	assert.Equal(t, "ticketeer", cfg.Nats.Name)
}

func TestReadConfigurationEnvOverrides(t *testing.T) {
	t.Setenv(EnvDBConnStr, "postgres://env")
	t.Setenv(EnvNatsToken, "secret")
	cfg, err := Read(writeConfig(t, testConfig))
	require.NoError(t, err)

	assert.Equal(t, "postgres://env", cfg.Storage.Postgres.ConnStr)
	assert.Equal(t, "postgres://env", cfg.Storage.Mongo.ConnStr)
	assert.Equal(t, "secret", cfg.Nats.Token)
}

func TestReadConfigurationDefaultsBackend(t *testing.T) {
	cfg, err := Read(writeConfig(t, "server:\n  port: 80\n"))
	require.NoError(t, err)
	assert.Equal(t, BackendBadger, cfg.Storage.Backend)
}

func TestReadConfigurationRejects(t *testing.T) {
	_, err := Read(writeConfig(t, "storage:\n  backend: redis\n"))
	assert.ErrorIs(t, err, ErrUnknownBackend)

	_, err = Read(writeConfig(t, "server: [\n"))
	assert.Error(t, err)

	_, err = Read(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
