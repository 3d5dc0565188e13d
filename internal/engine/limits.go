package engine

import (
	"fmt"
	"sync"

	"scalpbot/internal/ports"
)

// Limits is the serialized arbiter for the shared position slots. Every
// admission and release goes through its mutex, so two near-simultaneous
// signals for different symbols can never both be admitted past the global
// cap.
type Limits struct {
	mu           sync.Mutex
	maxTotal     int
	maxPerSymbol int
	total        int
	perSymbol    map[string]int
}

// NewLimits creates the arbiter for the given caps.
func NewLimits(maxTotal, maxPerSymbol int) *Limits {
	return &Limits{
		maxTotal:     maxTotal,
		maxPerSymbol: maxPerSymbol,
		perSymbol:    make(map[string]int),
	}
}

// TryReserve atomically claims a position slot for the symbol. It returns
// ErrGlobalCapReached or ErrSymbolCapReached when a cap would be exceeded;
// on success the slot is held until Release.
func (l *Limits) TryReserve(symbol string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.total >= l.maxTotal {
		return fmt.Errorf("%w: %d/%d slots reserved", ports.ErrGlobalCapReached, l.total, l.maxTotal)
	}
	if l.perSymbol[symbol] >= l.maxPerSymbol {
		return fmt.Errorf("%w: %s holds %d/%d", ports.ErrSymbolCapReached, symbol, l.perSymbol[symbol], l.maxPerSymbol)
	}
	l.total++
	l.perSymbol[symbol]++
	return nil
}

// Release returns a previously reserved slot.
func (l *Limits) Release(symbol string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.perSymbol[symbol] > 0 {
		l.perSymbol[symbol]--
		if l.perSymbol[symbol] == 0 {
			delete(l.perSymbol, symbol)
		}
	}
	if l.total > 0 {
		l.total--
	}
}

// HeldSymbols returns the symbols currently holding at least one slot. A
// slot is held from signal admission until the exit is confirmed, so this is
// the set of symbols with an entry or position in flight.
func (l *Limits) HeldSymbols() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, 0, len(l.perSymbol))
	for sym := range l.perSymbol {
		out = append(out, sym)
	}
	return out
}

// Counts returns the current reservation counts for logging and the risk
// manager's approval check.
func (l *Limits) Counts(symbol string) (total, forSymbol int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total, l.perSymbol[symbol]
}
