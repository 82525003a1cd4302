package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/ticker-agent/agent/contract"
	marketx "github.com/tanpawarit/ticker-agent/pkg/market"
)

func (r *Registry) tickerInfo(ctx context.Context, inv contractx.ToolInvocation) (string, error) {
	ticker, days, err := tickerAndDays(inv)
	if err != nil {
		return "", err
	}

	points, err := r.series(ctx, ticker, days)
	if err != nil {
		return "", describeDataError(ticker, err)
	}
	if len(points) == 0 {
		return "", fmt.Errorf("no price data for %s in the last %dd", ticker, days)
	}

	first, last := points[0], points[len(points)-1]
	high, low := first.Close, first.Close
	for _, p := range points[1:] {
		high = max(high, p.Close)
		low = min(low, p.Close)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s Price Info (last %dd):\n", ticker, days)
	fmt.Fprintf(&b, "- Latest close: %.2f (%s)\n", last.Close, last.Date.Format("2006-01-02"))
	if first.Close != 0 {
		fmt.Fprintf(&b, "- Change over %dd: %+.2f%%\n", days, (last.Close-first.Close)/first.Close*100)
	}
	fmt.Fprintf(&b, "- High: %.2f, Low: %.2f", high, low)
	return b.String(), nil
}

func describeDataError(ticker string, err error) error {
	switch {
	case errors.Is(err, marketx.ErrSymbolNotFound):
		return fmt.Errorf("no price data for %s: symbol not found", ticker)
	case errors.Is(err, marketx.ErrNoData):
		return fmt.Errorf("no price data for %s in the requested window", ticker)
	case errors.Is(err, marketx.ErrUnavailable):
		return fmt.Errorf("market data for %s is temporarily unavailable", ticker)
	default:
		return fmt.Errorf("fetch %s: %w", ticker, err)
	}
}
