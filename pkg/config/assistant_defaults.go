package config

import "time"

// DefaultGroupQueueConfig returns the built-in group-queue defaults (spec §4.5).
func DefaultGroupQueueConfig() GroupQueueConfig {
	return GroupQueueConfig{
		MaxConcurrent:   5,
		MaxQueueSize:    20,
		SampleInterval:  30 * time.Second,
		LoadAvgCeiling:  0.8,
		FreeMemFloorPct: 0.20,
	}
}

// DefaultPoolConfig returns the built-in warm-pool defaults (spec §4.4).
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MinSize:     1,
		MaxSize:     5,
		IdleTimeout: 5 * time.Minute,
		MaxReuse:    20,
	}
}

// DefaultContainerConfig returns the built-in container-runtime defaults.
func DefaultContainerConfig() ContainerConfig {
	return ContainerConfig{
		Image:        "assistant/agent-runtime:latest",
		Timeout:      30 * time.Minute,
		MemoryLimit:  "1g",
		CPUQuota:     "1.0",
		ReadyTimeout: 10 * time.Second,
		StuckAfter:   3 * time.Minute,
		GracefulStop: 10 * time.Second,
	}
}

// DefaultSchedulerConfig returns the built-in scheduler defaults (spec §4.6).
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PollInterval:      10 * time.Second,
		TaskTimeout:       30 * time.Minute,
		HeartbeatInterval: 1 * time.Hour,
		HeartbeatSilence:  6 * time.Hour,
		DefaultMaxRetries: 3,
		DefaultRetryDelay: 1 * time.Hour,
	}
}

// DefaultIPCConfig returns the built-in IPC transport defaults (spec §4.3).
func DefaultIPCConfig() IPCConfig {
	return IPCConfig{
		FSWatchFallback: 30 * time.Second,
		StreamPoll:      100 * time.Millisecond,
		StreamTimeout:   30 * time.Second,
		Debounce:        100 * time.Millisecond,
	}
}

// DefaultStoreConfig returns the built-in persistence defaults (spec §4.1).
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Path:           "./data/assistant.db",
		AttachmentsDir: "./data/attachments",
		KnowledgeRoot:  "./data/knowledge",
		GroupsDir:      "./data/groups",
		IPCDir:         "./data/ipc",
		BusyTimeout:    30 * time.Second,
		CacheSizeKB:    20_000,
	}
}

// DefaultKnowledgeConfig returns the built-in knowledge-engine defaults.
func DefaultKnowledgeConfig() KnowledgeConfig {
	return KnowledgeConfig{
		VectorStoreURL:  "http://localhost:6333",
		EmbeddingAPIURL: "http://localhost:8081/v1",
		EmbeddingModel:  "text-embedding-3-small",
		ThaiSidecarURL:  "http://localhost:9001",
	}
}

// DefaultChannelsConfig returns the built-in channel-adapter defaults.
func DefaultChannelsConfig() ChannelsConfig {
	return ChannelsConfig{
		WhatsApp: WhatsAppConfig{SessionDBPath: "./data/whatsapp-session.db"},
	}
}

// DefaultOrchestratorConfig returns the built-in turn-processing defaults
// (spec §4.9, §5).
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		PromptTokenBudget:  4000,
		EditBatchInterval:  500 * time.Millisecond,
		StreamHeartbeat:    30 * time.Second,
		QualityThreshold:   0.5,
		MaxSelfReflections: 2,
		DrainTimeout:       10 * time.Second,
	}
}

// DefaultHealthConfig returns the built-in health-monitor defaults.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		CheckInterval:       30 * time.Second,
		QueueDepthWarn:      10,
		StuckContainerGrace: 3 * time.Minute,
	}
}
