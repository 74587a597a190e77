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

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Mode)
	assert.Equal(t, 24*time.Hour, cfg.Mail.AutobanWindow)
	assert.Equal(t, 10, cfg.Mail.AutobanThreshold)
	assert.Equal(t, 72*time.Hour, cfg.Mail.AutobanDuration)
	assert.Equal(t, 200, cfg.Mail.MaxTitleLength)
	assert.Equal(t, 50000, cfg.Mail.MaxBodyLength)
	assert.Equal(t, 72*time.Hour, cfg.Security.JWTTTLH)
}

func TestLoad_FileOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  mode: mysql
  mysql_dsn: "u:p@tcp(db:3306)/dmail"
mail:
  token_secret: s3cret
  autoban_threshold: 3
  autoban_window: 1h
  spam_keywords:
    casino: 5
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.Database.Mode)
	assert.Equal(t, "u:p@tcp(db:3306)/dmail", cfg.Database.MySQLDSN)
	assert.Equal(t, "s3cret", cfg.Mail.TokenSecret)
	assert.Equal(t, 3, cfg.Mail.AutobanThreshold)
	assert.Equal(t, time.Hour, cfg.Mail.AutobanWindow)
	assert.Equal(t, 5, cfg.Mail.SpamKeywords["casino"])
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, "mail:\n  token_secret: from-file\n")
	t.Setenv("DMAIL_MAIL_TOKEN_SECRET", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Mail.TokenSecret)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 60, cfg.Mail.HourlyLimit)
	assert.Equal(t, 5*time.Minute, cfg.Mail.BanSweepInterval)
}
