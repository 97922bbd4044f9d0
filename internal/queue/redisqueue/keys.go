// Package redisqueue implements the queue.Client/Worker/Scheduler
// contracts on top of go-redis/v9, grounded on
// dmitrymomot-gokit/queue/redis's key-prefix scheme and Lua-script
// atomic claim. Due sets are scored by scheduled-for time alone;
// priority is applied in Go over a bounded window of due candidates.
// Stale-lease recovery (stale.go) is plain Go, not a Lua script.
// notifyChannel names a per-queue channel, but nothing publishes or
// subscribes to it; wakeups go through the in-process queue.Notifier.
package redisqueue

import "fmt"

type keys struct {
	prefix string
}

func newKeys(prefix string) keys {
	if prefix == "" {
		prefix = "queuecore:"
	}
	if prefix[len(prefix)-1] != ':' {
		prefix += ":"
	}
	return keys{prefix: prefix}
}

func (k keys) job(id string) string {
	return k.prefix + "job:" + id
}

func (k keys) duePending(queueName string) string {
	return k.prefix + "due:pending:" + queueName
}

func (k keys) dueRetry(queueName string) string {
	return k.prefix + "due:retry:" + queueName
}

func (k keys) processing(queueName string) string {
	return k.prefix + "processing:" + queueName
}

func (k keys) completed(queueName string) string {
	return k.prefix + "completed:" + queueName
}

func (k keys) failed(queueName string) string {
	return k.prefix + "failed:" + queueName
}

func (k keys) idempotency(queueName, idemKey string) string {
	return fmt.Sprintf("%sidem:%s:%s", k.prefix, queueName, idemKey)
}

func (k keys) notifyChannel(queueName string) string {
	return k.prefix + "notify:" + queueName
}

func (k keys) scheduleSet() string {
	return k.prefix + "schedules"
}

func (k keys) schedule(key string) string {
	return k.prefix + "schedule:" + key
}

// queueRegistry tracks every queue name ever enqueued to, since Redis's
// per-queue key scheme has no single index to scan for retention
// sweeps the way a SQL driver's jobs table does.
func (k keys) queueRegistry() string {
	return k.prefix + "queues"
}
