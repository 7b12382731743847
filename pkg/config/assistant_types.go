// Package config loads and validates the assistant's configuration: a YAML
// file (assistant.yaml) overlaid with environment variables (and an
// optional .env file), layered as load → merge defaults → validate.
package config

import "time"

// Config is the umbrella configuration object returned by Initialize.
type Config struct {
	ConfigDir string

	Assistant    AssistantConfig
	Store        StoreConfig
	Queue        GroupQueueConfig
	Pool         PoolConfig
	Container    ContainerConfig
	Scheduler    SchedulerConfig
	IPC          IPCConfig
	Knowledge    KnowledgeConfig
	Auth         AuthConfig
	Channels     ChannelsConfig
	Orchestrator OrchestratorConfig
	Health       HealthConfig
}

// AssistantConfig groups top-level identity settings.
type AssistantConfig struct {
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// StoreConfig configures the embedded relational store.
type StoreConfig struct {
	Path           string        `yaml:"path"`
	AttachmentsDir string        `yaml:"attachments_dir"`
	KnowledgeRoot  string        `yaml:"knowledge_root"`
	GroupsDir      string        `yaml:"groups_dir"`
	IPCDir         string        `yaml:"ipc_dir"`
	BusyTimeout    time.Duration `yaml:"busy_timeout"`
	CacheSizeKB    int           `yaml:"cache_size_kb"`
}

// GroupQueueConfig controls the per-group FIFO queue.
type GroupQueueConfig struct {
	MaxConcurrent   int           `yaml:"max_concurrent"`
	MaxQueueSize    int           `yaml:"max_queue_size"`
	SampleInterval  time.Duration `yaml:"sample_interval"`
	LoadAvgCeiling  float64       `yaml:"load_avg_ceiling"`
	FreeMemFloorPct float64       `yaml:"free_mem_floor_pct"`
}

// PoolConfig controls the container warm pool.
type PoolConfig struct {
	MinSize     int           `yaml:"min_size"`
	MaxSize     int           `yaml:"max_size"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	MaxReuse    int           `yaml:"max_reuse"`
}

// ContainerConfig controls per-container spawn parameters.
type ContainerConfig struct {
	Image        string        `yaml:"image"`
	Timeout      time.Duration `yaml:"timeout"`
	MemoryLimit  string        `yaml:"memory_limit"`
	CPUQuota     string        `yaml:"cpu_quota"`
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
	StuckAfter   time.Duration `yaml:"stuck_after"`
	GracefulStop time.Duration `yaml:"graceful_stop"`
}

// SchedulerConfig controls the cron-like scheduler.
type SchedulerConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	TaskTimeout       time.Duration `yaml:"task_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatSilence  time.Duration `yaml:"heartbeat_silence"`
	DefaultMaxRetries int           `yaml:"default_max_retries"`
	DefaultRetryDelay time.Duration `yaml:"default_retry_delay"`
}

// IPCConfig controls the on-disk IPC transport.
type IPCConfig struct {
	Secret          string        `yaml:"-"` // loaded from IPC_SECRET, never serialized
	FSWatchFallback time.Duration `yaml:"fs_watch_fallback"`
	StreamPoll      time.Duration `yaml:"stream_poll"`
	StreamTimeout   time.Duration `yaml:"stream_timeout"`
	Debounce        time.Duration `yaml:"debounce"`
}

// KnowledgeConfig configures the knowledge-engine HTTP API and backends.
type KnowledgeConfig struct {
	BearerToken     string `yaml:"-"`
	VectorStoreURL  string `yaml:"vector_store_url"`
	VectorToken     string `yaml:"-"`
	EmbeddingAPIURL string `yaml:"embedding_api_url"`
	EmbeddingModel  string `yaml:"embedding_model"`
	ThaiSidecarURL  string `yaml:"thai_sidecar_url"`
}

// AuthConfig configures at-rest encryption of channel session files.
type AuthConfig struct {
	Passphrase string `yaml:"-"`
}

// ChannelsConfig lists which channel adapters are active and carries their
// per-adapter settings. Enabled drives which of Telegram/WhatsApp Start.
type ChannelsConfig struct {
	Enabled  []string       `yaml:"enabled"`
	Telegram TelegramConfig `yaml:"telegram"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
}

// TelegramConfig configures the Telegram bot-API adapter.
type TelegramConfig struct {
	BotToken string `yaml:"-"` // loaded from TELEGRAM_BOT_TOKEN, never serialized
}

// WhatsAppConfig configures the WhatsApp multi-device adapter.
type WhatsAppConfig struct {
	SessionDBPath string `yaml:"session_db_path"`
}

// OrchestratorConfig controls the turn state machine of spec §4.9: prompt
// budget, outbound edit-batching, self-reflection retries, and drain.
type OrchestratorConfig struct {
	PromptTokenBudget  int           `yaml:"prompt_token_budget"`
	EditBatchInterval  time.Duration `yaml:"edit_batch_interval"`
	StreamHeartbeat    time.Duration `yaml:"stream_heartbeat"`
	QualityThreshold   float64       `yaml:"quality_threshold"`
	MaxSelfReflections int           `yaml:"max_self_reflections"`
	DrainTimeout       time.Duration `yaml:"drain_timeout"`
}

// HealthConfig controls the background health monitor's check cadence and
// the thresholds at which it marks a component degraded rather than
// healthy (spec's liveness/self-heal surface, §6).
type HealthConfig struct {
	CheckInterval       time.Duration `yaml:"check_interval"`
	QueueDepthWarn      int           `yaml:"queue_depth_warn"`
	StuckContainerGrace time.Duration `yaml:"stuck_container_grace"`
}
