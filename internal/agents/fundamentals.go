package agents

import (
	"context"
	"math/rand"
	"sync"
)

// Filing is the structured summary of a company's latest annual report.
type Filing struct {
	Revenue         float64 `json:"revenue"`
	NetIncome       float64 `json:"net_income"`
	TotalAssets     float64 `json:"total_assets"`
	TotalDebt       float64 `json:"total_debt"`
	Cash            float64 `json:"cash"`
	GrossMargin     float64 `json:"gross_margin"`
	OperatingMargin float64 `json:"operating_margin"`
	EPS             float64 `json:"eps"`
	PERatio         float64 `json:"pe_ratio"`
}

// FilingProvider supplies the latest filing summary for a symbol.
type FilingProvider interface {
	LatestFiling(ctx context.Context, symbol string) (Filing, error)
}

var simulatedFilings = map[string]Filing{
	"AAPL": {
		Revenue:         394_328_000_000,
		NetIncome:       96_995_000_000,
		TotalAssets:     352_583_000_000,
		TotalDebt:       111_109_000_000,
		Cash:            29_965_000_000,
		GrossMargin:     0.448,
		OperatingMargin: 0.302,
		EPS:             6.42,
		PERatio:         31.2,
	},
	"NVDA": {
		Revenue:         60_922_000_000,
		NetIncome:       29_760_000_000,
		TotalAssets:     65_728_000_000,
		TotalDebt:       9_709_000_000,
		Cash:            25_984_000_000,
		GrossMargin:     0.729,
		OperatingMargin: 0.541,
		EPS:             11.93,
		PERatio:         64.8,
	},
	"MSFT": {
		Revenue:         211_915_000_000,
		NetIncome:       72_361_000_000,
		TotalAssets:     411_976_000_000,
		TotalDebt:       47_032_000_000,
		Cash:            34_704_000_000,
		GrossMargin:     0.694,
		OperatingMargin: 0.437,
		EPS:             9.68,
		PERatio:         36.5,
	},
}

var defaultFiling = Filing{
	Revenue:         50_000_000_000,
	NetIncome:       8_000_000_000,
	TotalAssets:     100_000_000_000,
	TotalDebt:       20_000_000_000,
	Cash:            10_000_000_000,
	GrossMargin:     0.45,
	OperatingMargin: 0.20,
	EPS:             4.50,
	PERatio:         25.0,
}

// SimulatedFilings serves canned filing summaries with ±5% jitter on the
// dollar figures. Margins are left exact so fundamental scoring stays stable
// across cycles.
type SimulatedFilings struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulatedFilings(seed int64) *SimulatedFilings {
	return &SimulatedFilings{rng: rand.New(rand.NewSource(seed))}
}

func (s *SimulatedFilings) LatestFiling(_ context.Context, symbol string) (Filing, error) {
	filing, ok := simulatedFilings[symbol]
	if !ok {
		filing = defaultFiling
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	jitter := func(v float64) float64 { return v * (0.95 + s.rng.Float64()*0.10) }
	filing.Revenue = jitter(filing.Revenue)
	filing.NetIncome = jitter(filing.NetIncome)
	filing.TotalAssets = jitter(filing.TotalAssets)
	filing.TotalDebt = jitter(filing.TotalDebt)
	filing.Cash = jitter(filing.Cash)
	return filing, nil
}

// Map flattens a filing for context storage and report snapshots.
func (f Filing) Map() map[string]any {
	return map[string]any{
		"revenue":          f.Revenue,
		"net_income":       f.NetIncome,
		"total_assets":     f.TotalAssets,
		"total_debt":       f.TotalDebt,
		"cash":             f.Cash,
		"gross_margin":     f.GrossMargin,
		"operating_margin": f.OperatingMargin,
		"eps":              f.EPS,
		"pe_ratio":         f.PERatio,
	}
}
