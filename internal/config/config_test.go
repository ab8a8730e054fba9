package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelock/carelock/internal/models"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATA_KEY", strings.Repeat("11", 32))
	t.Setenv("CREDENTIAL_KEY", strings.Repeat("22", 32))
	t.Setenv("LEDGER_SECRET", "a-sufficiently-long-ledger-secret")
	t.Setenv("DB_PASSWORD", "test-db-password")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Env)
	assert.Empty(t, cfg.Server.TrustedProxies)
	assert.Equal(t, models.AlgorithmAESGCM, cfg.Security.AlgorithmID)
	assert.Equal(t, 8*time.Hour, cfg.Security.SessionTTL)
	assert.Equal(t, 5, cfg.Security.TOTPMaxAttempts)
	assert.False(t, cfg.Ledger.DegradeToStandard)
	assert.Equal(t, int64(25<<20), cfg.Upload.MaxBytes)
	assert.Contains(t, cfg.Upload.AllowedTypes, "application/pdf")
	assert.Len(t, cfg.Security.DataKey, 32)
}

func TestLoadMissingDataKey(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATA_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATA_KEY")
}

func TestLoadRejectsShortKey(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATA_KEY", strings.Repeat("11", 16))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")
}

func TestLoadRejectsNonHexKey(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CREDENTIAL_KEY", strings.Repeat("zz", 32))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hex")
}

func TestLoadMissingLedgerSecret(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LEDGER_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LEDGER_SECRET")
}

func TestLoadRejectsShortLedgerSecretInProduction(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ENV", "production")
	t.Setenv("LEDGER_SECRET", "only-twenty-chars!!!")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 32")
}

func TestLoadMissingDBPassword(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DB_PASSWORD", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_PASSWORD")
}

func TestLoadAlgorithmSelection(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ENCRYPTION_ALGORITHM", "chacha20-poly1305")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, models.AlgorithmChaCha20, cfg.Security.AlgorithmID)
}

func TestLoadRejectsUnknownAlgorithm(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ENCRYPTION_ALGORITHM", "rot13")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ENCRYPTION_ALGORITHM")
}

func TestLoadParsesLists(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.1 ,")
	t.Setenv("ALLOWED_ORIGINS", "https://app.carelock.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.1"}, cfg.Server.TrustedProxies)
	assert.Equal(t, []string{"https://app.carelock.example"}, cfg.Server.AllowedOrigins)
}

func TestLoadRequiresAlertAddressesWhenEnabled(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ALERT_ENABLED", "true")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ALERT_FROM_ADDRESS")
}

func TestDatabaseDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host: "db.internal", Port: 5433, User: "svc", Password: "pw",
		Name: "carelock", SSLMode: "require",
	}
	assert.Equal(t,
		"host=db.internal port=5433 user=svc password=pw dbname=carelock sslmode=require",
		cfg.DSN())
}
