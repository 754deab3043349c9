// Package scheduler delivers one-shot delayed callbacks identified by a token.
// Scheduling a token that is already pending replaces it; cancelling an
// unknown token is a no-op. Delivery is at-least-once, so handlers must
// tolerate a token firing after the work it guards has moved on.
package scheduler

import (
	"context"
	"time"
)

// Handler processes a due token. A returned error re-arms the token after the retry delay.
type Handler func(ctx context.Context, token string) error

// Scheduler is implemented by TimerScheduler and RedisScheduler
type Scheduler interface {
	ScheduleAfter(ctx context.Context, delay time.Duration, token string) error
	Cancel(ctx context.Context, token string) error
	Start(ctx context.Context, h Handler)
}
