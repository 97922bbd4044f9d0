package queue

// Capability describes what a backend can do. No driver reports a
// Capability value and the factory does not read one: each driver
// package hard-codes its own claim strategy (postgres: FOR UPDATE SKIP
// LOCKED, sqlite: guarded UPDATE, redisqueue: Lua claim script).
type Capability struct {
	// SkipLocked is true for backends that support SELECT ... FOR
	// UPDATE SKIP LOCKED (PostgreSQL-class) and false for single-writer
	// embedded SQL engines, which claim with a guarded UPDATE ... WHERE
	// status = expected.
	SkipLocked bool

	// ListenNotify is true when the backend can push wakeups to idle
	// workers (PostgreSQL LISTEN/NOTIFY, Redis pub/sub).
	ListenNotify bool

	// NativeJSON is true when the backend has a first-class JSON column
	// type for Payload/Metadata/Artifacts rather than storing them as
	// opaque blobs.
	NativeJSON bool
}
