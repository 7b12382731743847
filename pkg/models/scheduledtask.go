package models

import "time"

// ScheduleStatus is the lifecycle state of a scheduled task (spec §4.6).
type ScheduleStatus string

const (
	ScheduleActive    ScheduleStatus = "active"
	SchedulePaused    ScheduleStatus = "paused"
	ScheduleCancelled ScheduleStatus = "cancelled"
	ScheduleCompleted ScheduleStatus = "completed" // terminal state for one-shot `once:` tasks
)

// ScheduledTask is a recurring (cron) or one-shot (`once:`) unit of work
// submitted to the group queue at high priority by the scheduler.
type ScheduledTask struct {
	ID                  string         `json:"id"`
	GroupID             string         `json:"group_id"`
	CronExpression      string         `json:"cron_expression"` // 5-field cron, or "once:<local-ts>"
	Prompt              string         `json:"prompt"`
	NextRunUTC          time.Time      `json:"next_run_utc"`
	NextRunLocal        string         `json:"next_run_local"` // zone-formatted for display
	Timezone            string         `json:"timezone"`
	Status              ScheduleStatus `json:"status"`
	RetryCount          int            `json:"retry_count"`
	MaxRetries          int            `json:"max_retries"`
	RetryDelayMS        int64          `json:"retry_delay_ms"`
	TaskTimeoutMS       int64          `json:"task_timeout_ms"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	DisabledAt          *time.Time     `json:"disabled_at,omitempty"`
}

// DuplicateKey returns the tuple used to de-duplicate task submissions
// (spec §4.6 step 2): (group, schedule, first 100 chars of prompt).
func (t *ScheduledTask) DuplicateKey() string {
	p := t.Prompt
	if len(p) > 100 {
		p = p[:100]
	}
	return t.GroupID + "\x00" + t.CronExpression + "\x00" + p
}
