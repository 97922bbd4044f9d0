package queue

import "time"

// Schedule is a persistent description of a recurring or future
// single-shot job, per spec.md §3.
type Schedule struct {
	Key   string
	Queue string

	// Exactly one of Cron, Interval, or RunAt should be set; ScheduleSpec
	// validates this at Scheduler.Upsert time.
	Cron     string
	Interval time.Duration
	RunAt    *time.Time

	Payload []byte

	Limit       int
	EndDate     *time.Time
	Immediately bool

	NextRunAt time.Time
	RunCount  int
	Enabled   bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ScheduleSpec is the input to Scheduler.Upsert.
type ScheduleSpec struct {
	Key      string
	Queue    string
	Cron     string
	Interval time.Duration
	RunAt    *time.Time

	Payload []byte

	Limit       int
	EndDate     *time.Time
	Immediately bool
}

// Validate checks that exactly one of Cron/Interval/RunAt is set and
// that Cron (when set) parses as a 5- or 6-field cron expression.
func (s ScheduleSpec) Validate() error {
	if s.Key == "" {
		return &ValidationError{Field: "key", Reason: "must not be empty"}
	}
	if s.Queue == "" {
		return &ValidationError{Field: "queue", Reason: "must not be empty"}
	}
	count := 0
	if s.Cron != "" {
		count++
	}
	if s.Interval > 0 {
		count++
	}
	if s.RunAt != nil {
		count++
	}
	if count != 1 {
		return &ValidationError{Field: "schedule", Reason: "exactly one of cron, interval, or runAt must be set"}
	}
	if s.Cron != "" {
		if _, err := ParseCron(s.Cron); err != nil {
			return err
		}
	}
	return nil
}
