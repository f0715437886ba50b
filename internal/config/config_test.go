// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, defaults, duration parsing and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
directory:
  dsn: "file::memory:"
orchestration:
  base_url: "https://kube.local"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  bot_addr: "0.0.0.0:9000"
  http_addr: "0.0.0.0:9090"
  shutdown_timeout: "30s"

bus:
  driver: "nats"
  url: "nats://nats:4222"
  username: "manager"
  password: "pw"
  broadcast_topic: "fleet"
  admin_topic: "ops"
  log_history: 50
  backoff:
    max_attempts: 4
    step: "250ms"
    max_delay: "2s"
    max_total_duration: "10m"

directory:
  driver: "mysql"
  dsn: "user:pw@tcp(db:3306)/bots"

orchestration:
  base_url: "https://kube.local"
  token: "tok"
  insecure: true
  namespace: "workers"
  label_key: "app"
  timeout: "3s"

bots:
  heartbeat_interval: "2s"

auth:
  jwt_secret: "abc"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  path: "/prom"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.BotAddr)
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.HTTPAddr)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, "nats://nats:4222", cfg.Bus.URL)
	assert.Equal(t, "manager", cfg.Bus.Username)
	assert.Equal(t, "fleet", cfg.Bus.BroadcastTopic)
	assert.Equal(t, "ops", cfg.Bus.AdminTopic)
	assert.Equal(t, 50, cfg.Bus.LogHistory)
	assert.Equal(t, 4, cfg.Bus.Backoff.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Bus.Backoff.Step)
	assert.Equal(t, 2*time.Second, cfg.Bus.Backoff.MaxDelay)
	assert.Equal(t, 10*time.Minute, cfg.Bus.Backoff.MaxTotalDuration)

	assert.Equal(t, "mysql", cfg.Directory.Driver)
	assert.Equal(t, "user:pw@tcp(db:3306)/bots", cfg.Directory.DSN)

	assert.Equal(t, "tok", cfg.Orchestration.Token)
	assert.True(t, cfg.Orchestration.Insecure)
	assert.Equal(t, "workers", cfg.Orchestration.Namespace)
	assert.Equal(t, "app", cfg.Orchestration.LabelKey)
	assert.Equal(t, 3*time.Second, cfg.Orchestration.Timeout)

	assert.Equal(t, 2*time.Second, cfg.Bots.HeartbeatInterval)
	assert.Equal(t, "abc", cfg.Auth.JWTSecret)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "/prom", cfg.Metrics.Path)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.BotAddr)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, DefaultShutdownTimeout, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "nats", cfg.Bus.Driver)
	assert.Equal(t, DefaultBusURL, cfg.Bus.URL)
	assert.Equal(t, "bots", cfg.Bus.BroadcastTopic)
	assert.Equal(t, "xandium-manager", cfg.Bus.AdminTopic)
	assert.Equal(t, "xandium-bot-log", cfg.Bus.LogPrefix)
	assert.Equal(t, "bots", cfg.Bus.StatusPrefix)
	assert.Equal(t, 101, cfg.Bus.LogHistory)
	assert.Equal(t, 10, cfg.Bus.Backoff.MaxAttempts)
	assert.Equal(t, time.Hour, cfg.Bus.Backoff.MaxTotalDuration)
	assert.Equal(t, 100*time.Millisecond, cfg.Bus.Backoff.Step)
	assert.Equal(t, 3*time.Second, cfg.Bus.Backoff.MaxDelay)
	assert.Equal(t, "sqlite", cfg.Directory.Driver)
	assert.Equal(t, "bots", cfg.Orchestration.Namespace)
	assert.Equal(t, "bot", cfg.Orchestration.LabelKey)
	assert.Equal(t, 10*time.Second, cfg.Orchestration.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Bots.HeartbeatInterval)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_KUBE_TOKEN", "secret-token")
	t.Setenv("TEST_DSN", "bots.db")

	cfg, err := Load(writeConfig(t, `
directory:
  dsn: "${TEST_DSN}"
orchestration:
  base_url: "https://kube.local"
  token: "${TEST_KUBE_TOKEN}"
auth:
  jwt_secret: "${TEST_UNSET_VARIABLE}"
`))
	require.NoError(t, err)

	assert.Equal(t, "bots.db", cfg.Directory.DSN)
	assert.Equal(t, "secret-token", cfg.Orchestration.Token)
	assert.Empty(t, cfg.Auth.JWTSecret)
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
bots:
  heartbeat_interval: "soon"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bots.heartbeat_interval")
}

func TestLoad_NegativeDuration(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
server:
  shutdown_timeout: "-1s"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not be negative")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		extra   string
		wantErr string
	}{
		{"unknown bus driver", "bus:\n  driver: kafka\n", "bus.driver"},
		{"same topics", "bus:\n  broadcast_topic: x\n  admin_topic: x\n", "must differ"},
		{"negative history", "bus:\n  log_history: -1\n", "log_history"},
		{"unknown directory driver", "directory:\n  driver: postgres\n  dsn: x\n", "directory.driver"},
		{"tailscale without hostname", "tailscale:\n  enabled: true\n", "tailscale.hostname"},
		{"bad log format", "logging:\n  format: xml\n", "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := minimalConfig
			if strings.HasPrefix(tt.extra, "directory:") {
				content = "orchestration:\n  base_url: \"https://kube.local\"\n"
			}
			_, err := Parse([]byte(content + tt.extra))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_RequiredFields(t *testing.T) {
	_, err := Parse([]byte("orchestration:\n  base_url: x\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory.dsn")

	_, err = Parse([]byte("directory:\n  dsn: x\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "orchestration.base_url")
}

func TestValidate_MemoryBusNeedsNoURL(t *testing.T) {
	cfg, err := Parse([]byte(minimalConfig + "bus:\n  driver: memory\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Bus.URL)
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("BOT_MANAGER_CONFIG", "/etc/bm.yaml")
	assert.Equal(t, "/etc/bm.yaml", DefaultPath())

	t.Setenv("BOT_MANAGER_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "bot-manager", "config.yaml"), DefaultPath())
}
