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

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 0, cfg.Server.WriteTimeout)
	assert.Equal(t, 180*time.Second, cfg.Coordinator.ReservationTTL)
	assert.Equal(t, 60*time.Second, cfg.Coordinator.PresenceTimeout)
	assert.Equal(t, 30*time.Second, cfg.Realtime.HeartbeatInterval)
	assert.Empty(t, cfg.Payment.Endpoint)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("RESERVATION_TTL_SEC", "45")
	t.Setenv("PAYMENT_GATEWAY_URL", "https://pay.example.com/charge")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Coordinator.ReservationTTL)
	assert.Equal(t, "https://pay.example.com/charge", cfg.Payment.Endpoint)
}

func TestDatabaseDSN(t *testing.T) {
	withURL := DatabaseConfig{URL: "postgres://u:p@db:5432/app"}
	assert.Equal(t, "postgres://u:p@db:5432/app", withURL.DSN())

	built := DatabaseConfig{
		Host: "db", Port: "5433", User: "app", Password: "pw",
		DBName: "shoplive", SSLMode: "require",
	}
	assert.Equal(t, "postgres://app:pw@db:5433/shoplive?sslmode=require", built.DSN())
}
