package config

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// yamlConfig mirrors the on-disk assistant.yaml structure.
type yamlConfig struct {
	Assistant    AssistantConfig     `yaml:"assistant"`
	Store        *StoreConfig        `yaml:"store"`
	Queue        *GroupQueueConfig   `yaml:"queue"`
	Pool         *PoolConfig         `yaml:"pool"`
	Container    *ContainerConfig    `yaml:"container"`
	Scheduler    *SchedulerConfig    `yaml:"scheduler"`
	IPC          *IPCConfig          `yaml:"ipc"`
	Knowledge    *KnowledgeConfig    `yaml:"knowledge"`
	Channels     *ChannelsConfig     `yaml:"channels"`
	Orchestrator *OrchestratorConfig `yaml:"orchestrator"`
	Health       *HealthConfig       `yaml:"health"`
}

// Initialize loads, overlays, validates, and returns ready-to-use
// configuration: load file → expand env → merge defaults → apply
// env-var overrides → validate.
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := resolveIPCSecret(cfg); err != nil {
		return nil, fmt.Errorf("resolving IPC secret: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("configuration initialized",
		"assistant_name", cfg.Assistant.Name,
		"channels", cfg.Channels.Enabled)
	return cfg, nil
}

func load(configDir string) (*Config, error) {
	cfg := &Config{
		ConfigDir:    configDir,
		Store:        DefaultStoreConfig(),
		Queue:        DefaultGroupQueueConfig(),
		Pool:         DefaultPoolConfig(),
		Container:    DefaultContainerConfig(),
		Scheduler:    DefaultSchedulerConfig(),
		IPC:          DefaultIPCConfig(),
		Knowledge:    DefaultKnowledgeConfig(),
		Channels:     DefaultChannelsConfig(),
		Orchestrator: DefaultOrchestratorConfig(),
		Health:       DefaultHealthConfig(),
	}
	cfg.Assistant = AssistantConfig{Name: "assistant", Timezone: "UTC"}

	path := filepath.Join(configDir, "assistant.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("assistant.yaml not found, using defaults", "path", path)
			return cfg, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	data = ExpandEnv(data)

	var y yamlConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if y.Assistant.Name != "" {
		cfg.Assistant.Name = y.Assistant.Name
	}
	if y.Assistant.Timezone != "" {
		cfg.Assistant.Timezone = y.Assistant.Timezone
	}
	if y.Store != nil {
		cfg.Store = *y.Store
	}
	if y.Queue != nil {
		cfg.Queue = *y.Queue
	}
	if y.Pool != nil {
		cfg.Pool = *y.Pool
	}
	if y.Container != nil {
		cfg.Container = *y.Container
	}
	if y.Scheduler != nil {
		cfg.Scheduler = *y.Scheduler
	}
	if y.IPC != nil {
		cfg.IPC = *y.IPC
	}
	if y.Knowledge != nil {
		cfg.Knowledge = *y.Knowledge
	}
	if y.Channels != nil {
		cfg.Channels.Enabled = y.Channels.Enabled
		if y.Channels.WhatsApp.SessionDBPath != "" {
			cfg.Channels.WhatsApp.SessionDBPath = y.Channels.WhatsApp.SessionDBPath
		}
	}
	if y.Orchestrator != nil {
		cfg.Orchestrator = *y.Orchestrator
	}
	if y.Health != nil {
		cfg.Health = *y.Health
	}

	return cfg, nil
}

// applyEnvOverrides layers the environment-variable surface of spec §6 on
// top of the YAML-derived configuration. Secrets (IPC_SECRET,
// KNOWLEDGE_BEARER_TOKEN, VECTOR_STORE_TOKEN, AUTH_PASSPHRASE) are ONLY
// ever read from the environment — never from YAML — so they cannot end up
// committed to a config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.MaxConcurrent = n
		}
	}
	if v := os.Getenv("POOL_MIN_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.MinSize = n
		}
	}
	if v := os.Getenv("POOL_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.MaxSize = n
		}
	}
	if v := os.Getenv("POOL_IDLE_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.IdleTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("POOL_MAX_REUSE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.MaxReuse = n
		}
	}
	if v := os.Getenv("CONTAINER_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Container.Timeout = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("CONTAINER_MEMORY_LIMIT"); v != "" {
		cfg.Container.MemoryLimit = v
	}
	if v := os.Getenv("CONTAINER_CPU_QUOTA"); v != "" {
		cfg.Container.CPUQuota = v
	}
	if v := os.Getenv("SCHEDULER_POLL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.PollInterval = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("HEARTBEAT_INTERVAL_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.HeartbeatInterval = time.Duration(n) * time.Hour
		}
	}
	if v := os.Getenv("HEARTBEAT_SILENCE_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.HeartbeatSilence = time.Duration(n) * time.Hour
		}
	}
	if v := os.Getenv("IPC_FS_WATCH_FALLBACK_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.IPC.FSWatchFallback = time.Duration(n) * time.Millisecond
		}
	}
	cfg.IPC.Secret = os.Getenv("IPC_SECRET")
	cfg.Knowledge.BearerToken = os.Getenv("KNOWLEDGE_BEARER_TOKEN")
	if v := os.Getenv("VECTOR_STORE_URL"); v != "" {
		cfg.Knowledge.VectorStoreURL = v
	}
	cfg.Knowledge.VectorToken = os.Getenv("VECTOR_STORE_TOKEN")
	if v := os.Getenv("EMBEDDING_API_URL"); v != "" {
		cfg.Knowledge.EmbeddingAPIURL = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Knowledge.EmbeddingModel = v
	}
	cfg.Auth.Passphrase = os.Getenv("AUTH_PASSPHRASE")
	cfg.Channels.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if v := os.Getenv("WHATSAPP_SESSION_DB_PATH"); v != "" {
		cfg.Channels.WhatsApp.SessionDBPath = v
	}
	if v := os.Getenv("TIMEZONE"); v != "" {
		cfg.Assistant.Timezone = v
	}
	if v := os.Getenv("ASSISTANT_NAME"); v != "" {
		cfg.Assistant.Name = v
	}
	if v := os.Getenv("ENABLED_CHANNELS"); v != "" {
		parts := strings.Split(v, ",")
		channels := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				channels = append(channels, p)
			}
		}
		cfg.Channels.Enabled = channels
	}
}

// ipcSecretFile is where resolveIPCSecret persists an auto-generated
// IPC_SECRET so it survives across restarts of the same installation.
const ipcSecretFile = ".ipc_secret"

// resolveIPCSecret fills in cfg.IPC.Secret when IPC_SECRET was not set in
// the environment, generating a random one and caching it under ConfigDir
// so every IPC envelope writer/reader in the process (and the next
// restart) agrees on the same value (spec §6: "IPC_SECRET (auto-generated
// if absent)").
func resolveIPCSecret(cfg *Config) error {
	if cfg.IPC.Secret != "" {
		return nil
	}

	path := filepath.Join(cfg.ConfigDir, ipcSecretFile)
	if data, err := os.ReadFile(path); err == nil {
		if secret := strings.TrimSpace(string(data)); secret != "" {
			cfg.IPC.Secret = secret
			return nil
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Errorf("generating IPC secret: %w", err)
	}
	secret := hex.EncodeToString(raw)

	if err := os.MkdirAll(cfg.ConfigDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", cfg.ConfigDir, err)
	}
	if err := os.WriteFile(path, []byte(secret), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	slog.Warn("IPC_SECRET not set, generated and persisted one", "path", path)

	cfg.IPC.Secret = secret
	return nil
}
