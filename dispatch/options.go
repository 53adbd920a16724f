package dispatch

import (
	"log/slog"
	"time"

	"github.com/sweetpotato0/ai-concierge/pkg/metrics"
	"github.com/sweetpotato0/ai-concierge/prompt"
	"github.com/sweetpotato0/ai-concierge/session"
	"github.com/sweetpotato0/ai-concierge/status"
)

// Option configures a Manager.
type Option func(*Manager)

// WithStore sets the snapshot store.
func WithStore(s session.Store) Option {
	return func(m *Manager) {
		if s != nil {
			m.store = s
		}
	}
}

// WithLocker sets the per-thread lock.
func WithLocker(l session.Locker) Option {
	return func(m *Manager) {
		if l != nil {
			m.locker = l
		}
	}
}

// WithLockTimeout bounds how long a turn waits for its thread. A turn that
// gives up returns errors.ErrTurnInProgress.
func WithLockTimeout(d time.Duration) Option {
	return func(m *Manager) { m.lockTimeout = d }
}

// WithStatus sets the status publisher.
func WithStatus(p status.Publisher) Option {
	return func(m *Manager) {
		if p != nil {
			m.status = p
		}
	}
}

// WithMetrics records turn and node metrics.
func WithMetrics(r *metrics.Recorder) Option {
	return func(m *Manager) { m.metrics = r }
}

// WithPrompts replaces the prompt templates.
func WithPrompts(p *prompt.Manager) Option {
	return func(m *Manager) {
		if p != nil {
			m.prompts = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMaxConcurrentTurns bounds how many turns run at once across threads.
// Zero or less means unbounded.
func WithMaxConcurrentTurns(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.slots = make(chan struct{}, n)
		} else {
			m.slots = nil
		}
	}
}
