package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LOCK_TIMEOUT_MS", "")
	t.Setenv("STORE_DRIVER", "")

	cfg := Load()

	assert.Equal(t, StorePostgres, cfg.Database.Driver)
	assert.Equal(t, LockLocal, cfg.Business.LockBackend)
	assert.Equal(t, 3*time.Second, cfg.Business.LockTimeout)
	assert.Equal(t, 5*time.Second, cfg.Business.ExternalTimeout)
	assert.Equal(t, 64, cfg.Business.NotifyBuffer)
	assert.Equal(t, 6*time.Hour, cfg.Business.NotifyVersionTTL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", StoreMemory)
	t.Setenv("LOCK_BACKEND", LockRedis)
	t.Setenv("LOCK_TIMEOUT_MS", "250")
	t.Setenv("NOTIFY_BUFFER", "not-a-number")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("KAFKA_ENABLED", "false")

	cfg := Load()

	assert.Equal(t, StoreMemory, cfg.Database.Driver)
	assert.Equal(t, LockRedis, cfg.Business.LockBackend)
	assert.Equal(t, 250*time.Millisecond, cfg.Business.LockTimeout)
	assert.Equal(t, 64, cfg.Business.NotifyBuffer)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.False(t, cfg.Kafka.Enabled)
}
