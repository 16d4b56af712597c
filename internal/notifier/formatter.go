package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"

	"VaultKeeper/internal/model"
)

// FormatReport renders a cycle report as Telegram HTML. explorerURL, when set,
// is a format string taking the transaction reference.
func FormatReport(r *model.Report, explorerURL string) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("🏦 <b>%s</b>\n\n", html.EscapeString(r.Title)))

	s := r.Stats
	b.WriteString(fmt.Sprintf("Operations: %d ✅ %d ❌ %d\n", s.Total, s.Succeeded, s.Failed))
	if s.HasData {
		b.WriteString(fmt.Sprintf("Mean balance: %.4f (%d accounts)\n", s.MeanBalance, s.BalanceCount))
		b.WriteString(fmt.Sprintf("Range: %.4f - %.4f | Total: %.4f\n", s.MinBalance, s.MaxBalance, s.SumBalance))
	} else {
		b.WriteString("Mean balance: n/a\n")
	}
	if r.Target != "" {
		b.WriteString(fmt.Sprintf("Target: %s\n", html.EscapeString(r.Target)))
	}
	if r.Price != nil {
		b.WriteString(fmt.Sprintf("Price %s: %.4f\n", html.EscapeString(r.Price.Symbol), r.Price.Price))
	}

	b.WriteString("\n📋 <b>Accounts:</b>\n")
	for _, o := range r.Outcomes {
		b.WriteString(formatOutcome(o, explorerURL))
	}

	if len(r.Gaps) > 0 {
		b.WriteString("\n⚠️ <b>Data gaps:</b>\n")
		for _, g := range r.Gaps {
			b.WriteString(fmt.Sprintf("  %s\n", html.EscapeString(g)))
		}
	}

	if !r.Schedule.NextRun.IsZero() {
		b.WriteString(fmt.Sprintf("\nNext run: %s\n", r.Schedule.NextRun.Format("02/01/2006 15:04 MST")))
	}
	return b.String()
}

func formatOutcome(o model.ActionOutcome, explorerURL string) string {
	mark := "✅"
	if !o.Succeeded {
		mark = "❌"
	}
	line := fmt.Sprintf("  %s #%d %s %s", mark, o.Account.Index, html.EscapeString(o.Account.Masked()), o.Kind)
	if o.Attempts > 1 {
		line += fmt.Sprintf(" (%d tries)", o.Attempts)
	}
	if o.Succeeded && o.Result != nil {
		if o.Result.Balance != nil {
			line += fmt.Sprintf(" bal %.4f", *o.Result.Balance)
		}
		if o.Result.TxRef != "" && explorerURL != "" {
			line += fmt.Sprintf(` <a href="%s">tx</a>`, html.EscapeString(fmt.Sprintf(explorerURL, o.Result.TxRef)))
		}
	}
	if !o.Succeeded && o.Error != "" {
		line += ": " + html.EscapeString(truncate(o.Error, 120))
	}
	return line + "\n"
}

// FormatSchedule renders the persisted schedule for the /status command.
func FormatSchedule(s model.ScheduleState, armedAt time.Time) string {
	var b strings.Builder
	b.WriteString("⏱ <b>Schedule</b>\n\n")
	b.WriteString(fmt.Sprintf("Cycles completed: %d\n", s.CycleCount))
	b.WriteString(fmt.Sprintf("Previous run: %s\n", formatTime(s.PreviousRun)))
	b.WriteString(fmt.Sprintf("Next run: %s\n", formatTime(s.NextRun)))
	if !armedAt.IsZero() {
		b.WriteString(fmt.Sprintf("Timer armed for: %s\n", formatTime(armedAt)))
	}
	return b.String()
}

// FormatSummary is the short form used by /last.
func FormatSummary(r *model.Report) string {
	if r == nil {
		return "No cycle has completed since start."
	}
	mean := "n/a"
	if r.Stats.HasData {
		mean = fmt.Sprintf("%.4f", r.Stats.MeanBalance)
	}
	return fmt.Sprintf("<b>%s</b>\n✅ %d ❌ %d | mean %s",
		html.EscapeString(r.Title), r.Stats.Succeeded, r.Stats.Failed, mean)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format("02/01/2006 15:04 MST")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
