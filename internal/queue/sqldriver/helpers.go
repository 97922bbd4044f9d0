// Package sqldriver holds the schema fragments and encode/decode
// helpers shared by the postgres and sqlite drivers, so the claim
// ordering and JSON marshaling logic is written once and the two
// drivers differ only in their SQL dialect and locking primitive.
package sqldriver

import (
	"encoding/json"

	"github.com/BillyRonksGlobal/queuecore/internal/queue"
)

// ClaimOrder is the ORDER BY clause both drivers use to pick the next
// job off a queue: jobs recovered from an expired processing lease
// first, then highest priority, then oldest created_at breaks ties
// within a priority. created_at, not scheduled_for, is the tie-break:
// scheduled_for is pushed into the future by retry backoff, so using it
// would let a fresh job jump ahead of an older job still waiting out
// its backoff.
const ClaimOrder = "CASE WHEN status = 'processing' THEN 0 ELSE 1 END, priority DESC, created_at ASC"

// MarshalStages encodes a job's stage list for storage in a JSON/TEXT
// column. A nil or empty slice encodes as "[]" rather than "null" so
// readers never need a nil check.
func MarshalStages(stages []queue.Stage) ([]byte, error) {
	if stages == nil {
		stages = []queue.Stage{}
	}
	return json.Marshal(stages)
}

// UnmarshalStages decodes a stored stage list. Empty input decodes to
// an empty, non-nil slice.
func UnmarshalStages(data []byte) ([]queue.Stage, error) {
	if len(data) == 0 {
		return []queue.Stage{}, nil
	}
	var stages []queue.Stage
	if err := json.Unmarshal(data, &stages); err != nil {
		return nil, err
	}
	return stages, nil
}

// MarshalMap encodes Metadata/Artifacts maps, treating nil as "{}".
func MarshalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	return json.Marshal(m)
}

// UnmarshalMap decodes a stored Metadata/Artifacts map.
func UnmarshalMap(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Schema is a backend-neutral, comment-only description of the
// jobs/schedules columns. Neither driver reads it: postgres/schema.go
// and sqlite/schema.go each define their own DDL.
const Schema = `
-- jobs: one row per enqueued job.
--   id              primary key, backend-assigned
--   queue           logical queue name
--   idempotency_key unique per (queue, idempotency_key) when non-empty
--   payload         opaque application payload
--   status          pending|processing|completed|failed|retry_pending
--   priority        higher claims first
--   attempts        number of claims made so far
--   max_attempts    attempts allowed before permanent failure
--   scheduled_for   earliest eligible claim time
--   locked_by       worker id holding the current lease, if any
--   locked_at       lease acquisition time
--   expires_at      lease expiry time
--   last_error      most recent handler failure, if any
--   backoff_*       serialized BackoffPolicy
--   stages          serialized []Stage
--   overall_progress 0..100
--   metadata        serialized map[string]any
--   artifacts       serialized map[string]any
--
-- schedules: one row per recurring/future schedule definition.
`
