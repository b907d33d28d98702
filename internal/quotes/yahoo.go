package quotes

import (
	"context"
	"fmt"

	"github.com/piquette/finance-go/quote"
)

// Yahoo fetches live quotes from Yahoo Finance.
type Yahoo struct{}

func NewYahoo() *Yahoo {
	return &Yahoo{}
}

func (y *Yahoo) Price(_ context.Context, symbol string) (float64, error) {
	q, err := quote.Get(symbol)
	if err != nil {
		return 0, fmt.Errorf("fetch quote for %s: %w", symbol, err)
	}
	if q == nil || q.RegularMarketPrice == 0 {
		return 0, fmt.Errorf("no market price for %s", symbol)
	}
	return q.RegularMarketPrice, nil
}
