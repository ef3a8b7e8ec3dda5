package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes YAML content to a temp file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const validConfig = `
telegram:
  token: "123456:test-token"
  admin_id: 111222333
xui:
  host: "https://panel.example.com:2053"
  username: "admin"
  password: "secret"
server:
  domain: "vpn.example.com"
  subscription_port: 2096
database:
  path: "/app/data/bot.db"
logging:
  level: "info"
  format: "text"
reports:
  enabled: true
  chunk_size: 30
`

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "123456:test-token", cfg.Telegram.Token)
	assert.Equal(t, int64(111222333), cfg.Telegram.AdminID)
	assert.Equal(t, "https://panel.example.com:2053", cfg.XUI.Host)
	assert.Equal(t, "vpn.example.com", cfg.Server.Domain)
	assert.Equal(t, 2096, cfg.Server.SubscriptionPort)
	assert.Equal(t, "/app/data/bot.db", cfg.Database.Path)
	assert.True(t, cfg.Reports.Enabled)
	assert.Equal(t, 30, cfg.Reports.ChunkSize)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_BOT_TOKEN", "999:from-env")
	t.Setenv("TEST_XUI_PASSWORD", "env-secret")

	cfg, err := Load(writeConfig(t, `
telegram:
  token: "${TEST_BOT_TOKEN}"
  admin_id: 1
xui:
  host: "https://panel.example.com"
  username: "admin"
  password: "${TEST_XUI_PASSWORD}"
database:
  path: "/app/data/bot.db"
`))
	require.NoError(t, err)

	assert.Equal(t, "999:from-env", cfg.Telegram.Token)
	assert.Equal(t, "env-secret", cfg.XUI.Password)
}

func TestLoad_UnsetEnvVarFailsValidation(t *testing.T) {
	// ${UNSET} expands to empty, so the required token is missing
	_, err := Load(writeConfig(t, `
telegram:
  token: "${DEFINITELY_UNSET_VAR_12345}"
  admin_id: 1
xui:
  host: "h"
  username: "u"
  password: "p"
database:
  path: "/app/data/bot.db"
`))
	assert.ErrorContains(t, err, "telegram.token")
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
telegram:
  token: "t"
  admin_id: 1
xui:
  host: "h"
  username: "u"
  password: "p"
database:
  path: "/app/data/bot.db"
`))
	require.NoError(t, err)

	assert.Equal(t, DefaultChunkSize, cfg.Reports.ChunkSize)
	assert.Equal(t, 2096, cfg.Server.SubscriptionPort)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_RequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing token", func(c *Config) { c.Telegram.Token = "" }, "telegram.token"},
		{"missing admin", func(c *Config) { c.Telegram.AdminID = 0 }, "telegram.admin_id"},
		{"missing host", func(c *Config) { c.XUI.Host = "" }, "xui.host"},
		{"missing username", func(c *Config) { c.XUI.Username = "" }, "xui.username"},
		{"missing password", func(c *Config) { c.XUI.Password = "" }, "xui.password"},
		{"missing db path", func(c *Config) { c.Database.Path = "" }, "database.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Telegram: TelegramConfig{Token: "t", AdminID: 1},
				XUI:      XUIConfig{Host: "h", Username: "u", Password: "p"},
				Database: DatabaseConfig{Path: "/app/data/bot.db"},
			}
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}
