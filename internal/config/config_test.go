package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestMustLoadPath(t *testing.T) {
	path := writeConfig(t, `
env: prod
http:
  address: ":9090"
feed:
  backend: redis
subscription:
  max_retries: 3
  initial_interval: 100ms
av:
  server_secret: "s3cret"
  stun_servers: ["stun:stun.example.test:3478"]
`)
	t.Setenv("AUTH_JWT_SECRET", "from-env")

	cfg := MustLoadPath(path)

	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, ":9090", cfg.HTTP.Address)
	assert.Equal(t, FeedRedis, cfg.Feed.Backend)
	assert.Equal(t, 3, cfg.Subscription.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.Subscription.InitialInterval)
	assert.Equal(t, 5*time.Second, cfg.Subscription.MaxInterval)
	assert.Equal(t, 200, cfg.Chat.WindowSize)
	assert.Equal(t, 500, cfg.Chat.MaxMessageLength)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "s3cret", cfg.AV.ServerSecret)
	assert.Equal(t, 50, cfg.AV.MaxParticipants)
	assert.Equal(t, "Auto", cfg.AV.Layout)
	assert.Equal(t, []string{"stun:stun.example.test:3478"}, cfg.AV.STUNServers)
	assert.Equal(t, "ws://localhost:9090/api/signal", cfg.AV.SignalingURL)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
}

func TestMustLoadPath_MissingFilePanics(t *testing.T) {
	assert.Panics(t, func() {
		MustLoadPath(filepath.Join(t.TempDir(), "nope.yaml"))
	})
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, ":8080", cfg.HTTP.Address)
	assert.Equal(t, []string{"*"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, FeedMemory, cfg.Feed.Backend)
	assert.Equal(t, 5, cfg.Subscription.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Subscription.InitialInterval)
	assert.NotEmpty(t, cfg.AV.STUNServers)
}
