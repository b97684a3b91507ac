package interfaces

import "time"

// ScheduledJobStatus describes one registered maintenance job.
type ScheduledJobStatus struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	IsRunning bool       `json:"is_running"`
	LastError string     `json:"last_error,omitempty"`
}

// SchedulerService runs background maintenance on cron schedules: stale job
// recovery, stale run recovery, extraction claim release, and deleted
// document purge.
type SchedulerService interface {
	Start() error
	Stop() error
	IsRunning() bool
	Jobs() []ScheduledJobStatus
	// TriggerNow runs a registered job immediately, outside its schedule.
	TriggerNow(name string) error
}
