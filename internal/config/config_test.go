package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, StoreMemory, cfg.EventStore)
	assert.Equal(t, 2*time.Second, cfg.PolicyTimeout)
	assert.False(t, cfg.PolicyFailClosed)
	assert.Zero(t, cfg.ApprovalTimeout)
	assert.Equal(t, 64, cfg.FeedBufferSize)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SOAR_PORT", "9090")
	t.Setenv("SOAR_POLICY_URL", "http://opa:8181")
	t.Setenv("SOAR_POLICY_FAIL_CLOSED", "true")
	t.Setenv("SOAR_APPROVAL_TIMEOUT", "5m")
	t.Setenv("SOAR_EVENT_STORE", "sqlite")
	t.Setenv("SOAR_EVENT_STORE_PATH", "/var/lib/soar/audit.db")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "http://opa:8181", cfg.PolicyURL)
	assert.True(t, cfg.PolicyFailClosed)
	assert.Equal(t, 5*time.Minute, cfg.ApprovalTimeout)
	assert.Equal(t, StoreSQLite, cfg.EventStore)
	assert.Equal(t, "/var/lib/soar/audit.db", cfg.EventStorePath)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("SOAR_PORT", "not-a-number")
	t.Setenv("SOAR_POLICY_TIMEOUT", "soon")
	t.Setenv("SOAR_POLICY_FAIL_CLOSED", "maybe")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.PolicyTimeout)
	assert.False(t, cfg.PolicyFailClosed)
}

func TestValidateRejectsUnknownStore(t *testing.T) {
	t.Setenv("SOAR_EVENT_STORE", "cassandra")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown event store")
}

func TestValidateRequiresDatabaseURLForPostgres(t *testing.T) {
	t.Setenv("SOAR_EVENT_STORE", "postgres")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestValidatePortRange(t *testing.T) {
	t.Setenv("SOAR_PORT", "70000")
	_, err := Load()
	require.Error(t, err)
}
