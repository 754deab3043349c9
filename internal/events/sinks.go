package events

import (
	"fmt"

	"teamchat-backend/internal/database"
)

// Sink names accepted by EVENT_SINKS
const (
	SinkRedis = "redis"
	SinkNATS  = "nats"
	SinkLog   = "log"
)

// NewFromSinks builds a fan-out publisher from sink names. redis may be nil
// when the redis sink is not requested.
func NewFromSinks(sinks []string, redis *database.RedisClient, natsCfg NATSConfig) (*MultiPublisher, error) {
	multi := NewMultiPublisher()
	for _, sink := range sinks {
		switch sink {
		case SinkRedis:
			if redis == nil {
				return nil, fmt.Errorf("event sink %q requires a redis client", sink)
			}
			multi.Add(SinkRedis, NewRedisPublisher(redis))
		case SinkNATS:
			pub, err := NewNATSPublisher(natsCfg)
			if err != nil {
				multi.Close()
				return nil, err
			}
			multi.Add(SinkNATS, pub)
		case SinkLog:
			multi.Add(SinkLog, NewLoggingPublisher())
		case "":
		default:
			multi.Close()
			return nil, fmt.Errorf("unknown event sink %q", sink)
		}
	}

	if multi.Len() == 0 {
		multi.Add("noop", NewNoopPublisher())
	}
	return multi, nil
}
