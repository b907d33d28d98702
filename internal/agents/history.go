package agents

import "sync"

const historyLimit = 60

// PriceHistory keeps a bounded trailing window of prices per symbol.
// Safe for concurrent use: the live agents append on their cadences while
// collectors read on demand.
type PriceHistory struct {
	mu     sync.Mutex
	series map[string][]float64
}

func NewPriceHistory() *PriceHistory {
	return &PriceHistory{series: map[string][]float64{}}
}

func (h *PriceHistory) Append(symbol string, price float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := append(h.series[symbol], price)
	if len(s) > historyLimit {
		s = s[len(s)-historyLimit:]
	}
	h.series[symbol] = s
}

// Snapshot returns a copy of the symbol's series, oldest first.
func (h *PriceHistory) Snapshot(symbol string) []float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.series[symbol]
	out := make([]float64, len(s))
	copy(out, s)
	return out
}

func (h *PriceHistory) Len(symbol string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.series[symbol])
}
