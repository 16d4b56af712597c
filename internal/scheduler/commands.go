package scheduler

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"VaultKeeper/internal/model"
	"VaultKeeper/internal/notifier"
)

const helpText = "Available commands:\n• /status schedule and timer\n• /run start a cycle now\n• /last summary of the last report"

// Commands answers chat commands against a running scheduler.
type Commands struct {
	Scheduler  *Scheduler
	LastReport func() *model.Report
}

// Handle processes one command and returns the reply. /run starts the cycle
// in the background so polling keeps answering.
func (c *Commands) Handle(ctx context.Context, command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return helpText
	}
	cmd := strings.ToLower(fields[0])
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}

	switch cmd {
	case "/status":
		return notifier.FormatSchedule(c.Scheduler.State(), c.Scheduler.ArmedAt())
	case "/run":
		started := c.Scheduler.TryRunNow(context.WithoutCancel(ctx), func(err error) {
			if err != nil {
				log.Error().Err(err).Msg("manual cycle finished with error")
			}
		})
		if !started {
			if c.Scheduler.isStopped() {
				return "Scheduler is stopped."
			}
			return "A cycle is already running."
		}
		return "Cycle started."
	case "/last":
		var last *model.Report
		if c.LastReport != nil {
			last = c.LastReport()
		}
		return notifier.FormatSummary(last)
	default:
		return helpText
	}
}
