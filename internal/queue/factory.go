package queue

// Backend identifies which storage implementation a Runtime is built
// against.
type Backend int

const (
	BackendPostgres Backend = iota
	BackendSQLite
	BackendRedis
)

func (b Backend) String() string {
	switch b {
	case BackendPostgres:
		return "postgres"
	case BackendSQLite:
		return "sqlite"
	case BackendRedis:
		return "redis"
	default:
		return "unknown"
	}
}

// ParseBackend maps a config string to a Backend.
func ParseBackend(s string) (Backend, error) {
	switch s {
	case "postgres", "postgresql", "pg":
		return BackendPostgres, nil
	case "sqlite", "sqlite3":
		return BackendSQLite, nil
	case "redis":
		return BackendRedis, nil
	default:
		return 0, &ValidationError{Field: "backend", Reason: "must be one of postgres, sqlite, redis"}
	}
}

// Runtime bundles the three driver-level components a process needs:
// a Client for producers, a Registrar/Notifier pair wired into every
// Worker the process starts, and a Scheduler for recurring jobs. Each
// backend package (postgres, sqlite, redisqueue) exposes its own
// constructor returning a value satisfying these three roles; Runtime
// is assembled by cmd/server/main.go rather than by this package,
// since only main.go knows which concrete driver was selected and
// holds the underlying connection to close at shutdown.
type Runtime struct {
	Client    Client
	Scheduler Scheduler
	Backend   Backend

	// NewWorker builds a Worker bound to cfg.Queue and handler, reusing
	// this Runtime's connection and notifier wiring.
	NewWorker func(cfg WorkerConfig, handler JobHandler) Worker

	// Close releases the underlying connection pool/client.
	Close func() error
}
