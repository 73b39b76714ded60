package hub

import (
	"context"
	"time"

	"github.com/coinpulse/chat-service/pkg/log"
)

// Monitor sweeps the registry on a fixed tick, probing every client with a
// websocket ping. A client whose previous probe is still unanswered at the
// next tick is terminated, which runs the same cascade as a disconnect.
// This is the only mechanism that reclaims sessions that vanish without a
// clean close.
type Monitor struct {
	hub      *Hub
	interval time.Duration
}

func NewMonitor(h *Hub, interval time.Duration) *Monitor {
	return &Monitor{
		hub:      h,
		interval: interval,
	}
}

func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	l := log.L()
	l.Info().Dur("interval", m.interval).Msg("liveness monitor started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep probes every registered client once.
func (m *Monitor) Sweep() {
	m.hub.ForEach(func(c *Client) {
		if c.ProbePending() {
			l := log.L()
			l.Info().
				Str(log.FieldClientID, c.ID).
				Str(log.FieldWallet, c.Session.Wallet).
				Msg("liveness probe unanswered, terminating session")
			go c.Terminate()
			return
		}

		if err := c.Ping(); err != nil {
			l := log.L()
			l.Debug().Err(err).Str(log.FieldClientID, c.ID).Msg("liveness probe send failed")
			go c.Terminate()
		}
	})
}
