package config

import (
	"os"
	"testing"

	"github.com/lev-exchange/engine/internal/money"
	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("BROKER_ADDR")
	os.Unsetenv("SNAPSHOT_PATH")
	os.Unsetenv("NEW_USER_BALANCE")

	cfg := Load()

	assert.Equal(t, "127.0.0.1:6379", cfg.BrokerAddr)
	assert.Equal(t, "snapshot.json", cfg.SnapshotPath)
	assert.True(t, cfg.NewUserBalance.Equal(money.FromInt(5000)), "default new-user balance must be 5000")
	assert.Len(t, cfg.SupportedAssets, 3)
}

func TestLoadRespectsEnvOverrides(t *testing.T) {
	os.Setenv("BROKER_ADDR", "redis.internal:6380")
	defer os.Unsetenv("BROKER_ADDR")

	cfg := Load()
	assert.Equal(t, "redis.internal:6380", cfg.BrokerAddr)
}
