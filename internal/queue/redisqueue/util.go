package redisqueue

import (
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BillyRonksGlobal/queuecore/internal/queue"
)

func marshal(job *queue.Job) ([]byte, error) {
	return json.Marshal(job)
}

func zMember(at time.Time, id string) redis.Z {
	return redis.Z{Score: float64(at.UnixMilli()), Member: id}
}
