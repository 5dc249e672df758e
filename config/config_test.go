package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("PRESENCE_HEARTBEAT_TIMEOUT", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store.Driver)
	assert.Equal(t, 2*time.Second, cfg.Store.LockTimeout)
	assert.Equal(t, 30*time.Second, cfg.Presence.HeartbeatTimeout)
	assert.True(t, cfg.Presence.Announce)
	assert.Equal(t, 2000, cfg.Chat.MaxTextLength)
	assert.Empty(t, cfg.Chat.WelcomeMessage)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("STORE_LOCK_TIMEOUT", "500ms")
	t.Setenv("PRESENCE_HEARTBEAT_TIMEOUT", "45")
	t.Setenv("PRESENCE_ANNOUNCE", "false")
	t.Setenv("REDIS_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StorePostgres, cfg.Store.Driver)
	assert.Equal(t, 500*time.Millisecond, cfg.Store.LockTimeout)
	assert.Equal(t, 45*time.Second, cfg.Presence.HeartbeatTimeout)
	assert.False(t, cfg.Presence.Announce)
	assert.True(t, cfg.Redis.Enabled)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	_, err := Load()
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{User: "u", Password: "p", Host: "h", Port: "5432", DBName: "d", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:5432/d?sslmode=disable", c.DSN())
	c.URL = "postgres://override"
	assert.Equal(t, "postgres://override", c.DSN())
}
