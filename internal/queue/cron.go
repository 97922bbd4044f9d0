package queue

import (
	"strings"

	"github.com/robfig/cron/v3"
)

// ParseCron validates a cron expression and returns the parsed
// schedule used to compute NextRunAt. It accepts the standard 5-field
// form (minute hour dom month dow) and the 6-field form with a leading
// seconds field, per spec.md §4.3; anything else is rejected.
func ParseCron(expr string) (cron.Schedule, error) {
	fields := len(strings.Fields(expr))
	var parser cron.Parser
	switch fields {
	case 5:
		parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	case 6:
		parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	default:
		return nil, &ValidationError{Field: "cron", Reason: "expression must have 5 or 6 space-separated fields"}
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, &ValidationError{Field: "cron", Reason: err.Error()}
	}
	return sched, nil
}
