package session

import (
	"sync/atomic"

	"github.com/example/optic/internal/classifier"
)

// Summary represents aggregated analysis counters since start-up.
type Summary struct {
	ActiveSessions int     `json:"active_sessions"`
	Submissions    int64   `json:"submissions"`
	Successes      int64   `json:"successes"`
	Failures       int64   `json:"failures"`
	StaleDiscarded int64   `json:"stale_discarded"`
	SuccessRate    float64 `json:"success_rate"`
}

type counters struct {
	submissions atomic.Int64
	successes   atomic.Int64
	failures    atomic.Int64
	discarded   atomic.Int64
}

func (c *counters) Submitted() {
	c.submissions.Add(1)
}

func (c *counters) Landed(outcome classifier.Outcome) {
	if outcome.Kind == classifier.KindSuccess {
		c.successes.Add(1)
		return
	}
	c.failures.Add(1)
}

func (c *counters) Discarded() {
	c.discarded.Add(1)
}

// Summary aggregates the counters of every session.
func (m *Manager) Summary() Summary {
	summary := Summary{
		ActiveSessions: m.Len(),
		Submissions:    m.stats.submissions.Load(),
		Successes:      m.stats.successes.Load(),
		Failures:       m.stats.failures.Load(),
		StaleDiscarded: m.stats.discarded.Load(),
	}
	if resolved := summary.Successes + summary.Failures; resolved > 0 {
		summary.SuccessRate = float64(summary.Successes) / float64(resolved)
	}
	return summary
}
