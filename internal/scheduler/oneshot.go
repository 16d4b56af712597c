package scheduler

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// oneShot is a cron.Schedule that fires once at a fixed instant. A time
// already in the past fires on the next tick. After the first activation it
// returns the zero time, which cron treats as "never again".
type oneShot struct {
	mu   sync.Mutex
	at   time.Time
	used bool
}

func (o *oneShot) Next(t time.Time) time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.used {
		return time.Time{}
	}
	o.used = true
	if o.at.Before(t) {
		return t
	}
	return o.at
}

// cronLogger routes robfig/cron logs through zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	event(log.Debug(), keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	event(log.Error().Err(err), keysAndValues).Msg("cron: " + msg)
}

func event(e *zerolog.Event, kv []interface{}) *zerolog.Event {
	if len(kv) == 0 {
		return e
	}
	return e.Fields(kv)
}
