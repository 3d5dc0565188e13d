package engine

import (
	"time"

	"github.com/jpillora/backoff"

	"scalpbot/internal/domain"
)

// State is the closed set of per-symbol lifecycle states.
type State string

const (
	// StateIdle: no position, not in cooldown.
	StateIdle State = "IDLE"
	// StateSignaled: signal accepted, entry order in flight.
	StateSignaled State = "SIGNALED"
	// StateOpen: entry fill confirmed, position live.
	StateOpen State = "OPEN"
	// StateExiting: exit order placed, awaiting fill.
	StateExiting State = "EXITING"
	// StateCooldown: position closed, re-entry blocked until the timer expires.
	StateCooldown State = "COOLDOWN"
)

// Machine is the per-symbol position state machine. All methods are called
// only from the owning worker goroutine, so transitions for a symbol are
// strictly sequential; that single-writer discipline is what enforces "at
// most one position per symbol".
type Machine struct {
	symbol        string
	state         State
	position      *domain.Position
	cooldownUntil time.Time
	exitReason    domain.CloseReason

	// One signal per candle close: the close time of the last candle that
	// produced a consumed signal.
	lastSignalCandle time.Time

	exitAttempts int
	nextExitAt   time.Time
	exitBackoff  *backoff.Backoff
}

// newMachine creates a machine in IDLE.
func newMachine(symbol string) *Machine {
	return &Machine{
		symbol: symbol,
		state:  StateIdle,
		exitBackoff: &backoff.Backoff{
			Min:    time.Second,
			Max:    30 * time.Second,
			Factor: 2,
			Jitter: true,
		},
	}
}

// State returns the current lifecycle state.
func (m *Machine) State() State { return m.state }

// Position returns the live position, nil outside OPEN/EXITING.
func (m *Machine) Position() *domain.Position { return m.position }

// CanEnter reports whether a new entry attempt may start. A machine still
// sitting in COOLDOWN whose timer has elapsed counts as enterable; the
// state flips back to IDLE on the next event via ExpireCooldown.
func (m *Machine) CanEnter(now time.Time) bool {
	switch m.state {
	case StateIdle:
		return !m.InCooldown(now)
	case StateCooldown:
		return !now.Before(m.cooldownUntil)
	}
	return false
}

// InCooldown reports whether the post-exit quiet period is still running.
// The machine may already be back in IDLE state-wise; the timestamp is
// authoritative.
func (m *Machine) InCooldown(now time.Time) bool {
	return !m.cooldownUntil.IsZero() && now.Before(m.cooldownUntil)
}

// ExpireCooldown transitions COOLDOWN back to IDLE once the timer passed.
func (m *Machine) ExpireCooldown(now time.Time) bool {
	if m.state != StateCooldown {
		return false
	}
	if now.Before(m.cooldownUntil) {
		return false
	}
	m.cooldownUntil = time.Time{}
	m.state = StateIdle
	return true
}

// seedCooldown restores a cooldown carried over from a previous worker for
// the same symbol. Valid only on a machine that has not transitioned yet.
func (m *Machine) seedCooldown(until time.Time) bool {
	if m.state != StateIdle {
		return false
	}
	m.state = StateCooldown
	m.cooldownUntil = until
	return true
}

// toSignaled moves IDLE to SIGNALED when a signal was admitted.
func (m *Machine) toSignaled(signalCandle time.Time) bool {
	if m.state != StateIdle {
		return false
	}
	m.lastSignalCandle = signalCandle
	m.state = StateSignaled
	return true
}

// revertToIdle returns SIGNALED to IDLE after a failed or timed-out entry.
// Fatal for this attempt, not for the symbol.
func (m *Machine) revertToIdle() bool {
	if m.state != StateSignaled {
		return false
	}
	m.state = StateIdle
	return true
}

// toOpen records the confirmed entry fill.
func (m *Machine) toOpen(pos *domain.Position) bool {
	if m.state != StateSignaled {
		return false
	}
	m.position = pos
	m.state = StateOpen
	return true
}

// toExiting starts the exit with the given terminal reason.
func (m *Machine) toExiting(reason domain.CloseReason) bool {
	if m.state != StateOpen {
		return false
	}
	m.exitReason = reason
	m.exitAttempts = 0
	m.exitBackoff.Reset()
	m.state = StateExiting
	return true
}

// toCooldown archives the position after a confirmed exit fill and starts
// the cooldown timer.
func (m *Machine) toCooldown(until time.Time) bool {
	if m.state != StateExiting {
		return false
	}
	m.position = nil
	m.exitReason = domain.CloseReasonUnknown
	m.cooldownUntil = until
	m.state = StateCooldown
	return true
}

// scheduleExitRetry records a failed exit attempt and computes when the
// next attempt may run. Leaving a position unexited is unsafe, so retries
// never stop; the caller escalates once attempts exceed its limit.
func (m *Machine) scheduleExitRetry(now time.Time) {
	m.exitAttempts++
	m.nextExitAt = now.Add(m.exitBackoff.Duration())
}

// exitRetryDue reports whether a scheduled exit retry may run.
func (m *Machine) exitRetryDue(now time.Time) bool {
	return m.state == StateExiting && !now.Before(m.nextExitAt)
}

// signalConsumed reports whether a signal for this candle close was already
// consumed, enforcing at most one entry attempt per candle.
func (m *Machine) signalConsumed(candleClose time.Time) bool {
	return !m.lastSignalCandle.IsZero() && !candleClose.After(m.lastSignalCandle)
}

// exitTrigger checks an OPEN long position against its exit levels and
// returns the terminal reason when the price crossed one.
func (m *Machine) exitTrigger(price float64) (domain.CloseReason, bool) {
	if m.state != StateOpen || m.position == nil {
		return "", false
	}
	if price >= m.position.TakeProfit {
		return domain.CloseReasonTakeProfit, true
	}
	if price <= m.position.StopLoss {
		if m.position.TrailingActive {
			return domain.CloseReasonTrailingStop, true
		}
		return domain.CloseReasonStopLoss, true
	}
	return "", false
}
