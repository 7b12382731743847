package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeDefaultsWhenNoYAML(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "assistant", cfg.Assistant.Name)
	assert.Equal(t, 5, cfg.Queue.MaxConcurrent)
	assert.Equal(t, 20, cfg.Queue.MaxQueueSize)
	assert.Equal(t, 1, cfg.Pool.MinSize)
	assert.Equal(t, 5, cfg.Pool.MaxSize)
}

func TestInitializeLoadsYAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TELEGRAM_BOT_TOKEN", "test-token")
	yaml := `
assistant:
  name: home-assistant
  timezone: Asia/Bangkok
queue:
  max_concurrent: 3
  max_queue_size: 10
channels:
  enabled: [telegram]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assistant.yaml"), []byte(yaml), 0o644))

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "home-assistant", cfg.Assistant.Name)
	assert.Equal(t, "Asia/Bangkok", cfg.Assistant.Timezone)
	assert.Equal(t, 3, cfg.Queue.MaxConcurrent)
	assert.Equal(t, []string{"telegram"}, cfg.Channels.Enabled)
}

func TestInitializeRejectsShortPassphrase(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AUTH_PASSPHRASE", "short")
	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_PASSPHRASE")
}

func TestInitializeRejectsUnknownChannel(t *testing.T) {
	dir := t.TempDir()
	yaml := "channels:\n  enabled: [carrier-pigeon]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assistant.yaml"), []byte(yaml), 0o644))
	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
}

func TestInitializeRejectsTelegramEnabledWithoutBotToken(t *testing.T) {
	dir := t.TempDir()
	yaml := "channels:\n  enabled: [telegram]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assistant.yaml"), []byte(yaml), 0o644))
	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEGRAM_BOT_TOKEN")
}

func TestInitializeDefaultsWhatsAppSessionDBPath(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Channels.WhatsApp.SessionDBPath)
}

func TestInitializeGeneratesAndPersistsIPCSecret(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.IPC.Secret)

	cfg2, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, cfg.IPC.Secret, cfg2.IPC.Secret)
}

func TestInitializePrefersEnvIPCSecretOverPersisted(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("IPC_SECRET", "explicit-secret")
	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "explicit-secret", cfg.IPC.Secret)
	assert.NoFileExists(t, filepath.Join(dir, ipcSecretFile))
}

func TestEnvOverridesTakePriorityOverYAML(t *testing.T) {
	dir := t.TempDir()
	yaml := "queue:\n  max_concurrent: 3\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assistant.yaml"), []byte(yaml), 0o644))
	t.Setenv("MAX_CONCURRENT", "9")

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Queue.MaxConcurrent)
}
