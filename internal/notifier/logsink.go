package notifier

import (
	"context"

	"github.com/rs/zerolog/log"

	"VaultKeeper/internal/model"
)

// LogSink writes reports to the structured log. It is the fallback when no
// Telegram token is configured.
type LogSink struct{}

func (LogSink) Deliver(_ context.Context, r *model.Report) error {
	ev := log.Info().
		Str("report", r.ID).
		Str("title", r.Title).
		Int("succeeded", r.Stats.Succeeded).
		Int("failed", r.Stats.Failed)
	if r.Stats.HasData {
		ev = ev.Float64("mean_balance", r.Stats.MeanBalance)
	}
	ev.Msg("cycle report")
	for _, o := range r.Failures() {
		log.Warn().Int("account", o.Account.Index).Str("kind", string(o.Kind)).Int("attempts", o.Attempts).Msg(o.Error)
	}
	return nil
}
