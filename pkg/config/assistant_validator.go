package config

import "fmt"

// validate checks structural and cross-field invariants before the
// configuration is handed to the rest of the process. Fatal startup
// conditions (missing/short passphrase) are reported here so that main can
// log.Fatal loudly, per spec §7.
func validate(cfg *Config) error {
	if len(cfg.Auth.Passphrase) > 0 && len(cfg.Auth.Passphrase) < 16 {
		return fmt.Errorf("AUTH_PASSPHRASE must be at least 16 characters (got %d)", len(cfg.Auth.Passphrase))
	}
	if cfg.Queue.MaxConcurrent < 1 {
		return fmt.Errorf("queue.max_concurrent must be >= 1, got %d", cfg.Queue.MaxConcurrent)
	}
	if cfg.Queue.MaxQueueSize < 1 {
		return fmt.Errorf("queue.max_queue_size must be >= 1, got %d", cfg.Queue.MaxQueueSize)
	}
	if cfg.Pool.MinSize < 0 || cfg.Pool.MaxSize < cfg.Pool.MinSize {
		return fmt.Errorf("pool.min_size (%d) must be <= pool.max_size (%d)", cfg.Pool.MinSize, cfg.Pool.MaxSize)
	}
	if cfg.Pool.MaxReuse < 1 {
		return fmt.Errorf("pool.max_reuse must be >= 1, got %d", cfg.Pool.MaxReuse)
	}
	if cfg.Orchestrator.PromptTokenBudget < 1 {
		return fmt.Errorf("orchestrator.prompt_token_budget must be >= 1, got %d", cfg.Orchestrator.PromptTokenBudget)
	}
	if cfg.Orchestrator.MaxSelfReflections < 0 {
		return fmt.Errorf("orchestrator.max_self_reflections must be >= 0, got %d", cfg.Orchestrator.MaxSelfReflections)
	}
	if cfg.Health.CheckInterval < 0 {
		return fmt.Errorf("health.check_interval must be >= 0, got %s", cfg.Health.CheckInterval)
	}
	for _, ch := range cfg.Channels.Enabled {
		switch ch {
		case "telegram":
			if cfg.Channels.Telegram.BotToken == "" {
				return fmt.Errorf("channel %q enabled but TELEGRAM_BOT_TOKEN is not set", ch)
			}
		case "whatsapp":
		default:
			return fmt.Errorf("unknown channel %q in channels.enabled", ch)
		}
	}
	return nil
}
