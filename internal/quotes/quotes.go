// Package quotes provides the narrow market-data interface the swarm
// consumes. Retrieval details live behind Service; the rest of the system
// only ever asks for a current price.
package quotes

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
)

// Service supplies the current price for a symbol.
type Service interface {
	Price(ctx context.Context, symbol string) (float64, error)
}

// Simulated is a random-walk price feed around per-symbol base prices, used
// in development and tests.
type Simulated struct {
	mu     sync.Mutex
	prices map[string]float64
	rng    *rand.Rand
}

// DefaultBasePrices covers the symbols the swarm tracks by default.
var DefaultBasePrices = map[string]float64{
	"AAPL":  182.50,
	"NVDA":  495.20,
	"MSFT":  378.90,
	"TSLA":  248.30,
	"GOOGL": 141.80,
	"META":  352.60,
}

func NewSimulated(basePrices map[string]float64, seed int64) *Simulated {
	prices := make(map[string]float64, len(basePrices))
	for symbol, price := range basePrices {
		prices[symbol] = price
	}
	return &Simulated{
		prices: prices,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Price walks the symbol's price by up to ±0.8% per call.
func (s *Simulated) Price(_ context.Context, symbol string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	price, ok := s.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("unknown symbol %q", symbol)
	}
	price *= 1 + (s.rng.Float64()-0.5)*0.016
	s.prices[symbol] = price
	return price, nil
}

// SetPrice pins a symbol's price, used by tests to stage spikes.
func (s *Simulated) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}
