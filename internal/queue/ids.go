package queue

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
)

// NewWorkerID generates a process-lifetime worker identity string used
// as a job's locked-by value: prefix + pid + a random suffix, per
// spec.md §3 "Worker identity".
func NewWorkerID(prefix string) string {
	if prefix == "" {
		prefix = "worker"
	}
	return prefix + "-" + itoa(os.Getpid()) + "-" + uuid.New().String()[:8]
}

// NewJobID generates a backend-agnostic job identifier. SQL drivers may
// use this directly as the primary key; the Redis driver uses it as the
// job's hash key.
func NewJobID() string {
	return uuid.New().String()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// CancellableSleep blocks for d or until ctx is done, whichever comes
// first. It returns ctx.Err() if the context was the reason it
// returned, nil if the full duration elapsed. Every internal sleep in
// the worker, scheduler, and HTTP transport goes through this helper so
// stop() signals are observed immediately (spec.md §5).
func CancellableSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
