package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/ticker-agent/agent/contract"
	marketx "github.com/tanpawarit/ticker-agent/pkg/market"
)

// Extra calendar days of prices fetched so headlines at the start of the
// window still find a prior trading day.
const seriesLookback = 7

func (r *Registry) newsVsPrice(ctx context.Context, inv contractx.ToolInvocation) (string, error) {
	ticker, days, err := tickerAndDays(inv)
	if err != nil {
		return "", err
	}

	items, err := r.headlines(ctx, ticker, days)
	if err != nil {
		return "", fmt.Errorf("fetch headlines for %s: %w", ticker, err)
	}
	if len(items) == 0 {
		return "", fmt.Errorf("no headlines for %s in the last %dd", ticker, days)
	}

	// Headlines are still worth returning without prices; the rows keep
	// blank close and change cells and a note names the price failure.
	points, priceErr := r.series(ctx, ticker, days+seriesLookback)
	if priceErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		log.Debug().Err(priceErr).Str("ticker", ticker).Msg("news_vs_price without prices")
		points = nil
	}

	sortHeadlines(items)

	var b strings.Builder
	fmt.Fprintf(&b, "# News vs Price: %s (last %dd)\n", ticker, days)
	b.WriteString("Date | Close | % Change | Headline\n")
	b.WriteString("--- | ---:| ---:| ---")
	for _, h := range items {
		b.WriteString("\n")
		b.WriteString(alignRow(h, points))
	}
	if priceErr != nil {
		fmt.Fprintf(&b, "\n\nPrices unavailable: %v", describeDataError(ticker, priceErr))
	}
	return b.String(), nil
}

// sortHeadlines orders dated items ascending and keeps undated ones last in
// their original order.
func sortHeadlines(items []marketx.Headline) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].Date, items[j].Date
		switch {
		case a.IsZero():
			return false
		case b.IsZero():
			return true
		default:
			return a.Before(b)
		}
	})
}

// alignRow matches a headline to the latest trading day on or before its
// publish day. Close and change stay blank when no such day exists.
func alignRow(h marketx.Headline, points []marketx.PricePoint) string {
	title := headlineCell(h)
	if h.Date.IsZero() {
		return fmt.Sprintf("- |  |  | %s", title)
	}

	day := marketx.Day(h.Date)
	idx := sort.Search(len(points), func(i int) bool { return points[i].Date.After(day) }) - 1
	if idx < 0 {
		return fmt.Sprintf("%s |  |  | %s", day.Format("2006-01-02"), title)
	}

	closeCell := fmt.Sprintf("%.2f", points[idx].Close)
	changeCell := ""
	if idx > 0 && points[idx-1].Close != 0 {
		prev := points[idx-1].Close
		changeCell = fmt.Sprintf("%+.2f%%", (points[idx].Close-prev)/prev*100)
	}
	return fmt.Sprintf("%s | %s | %s | %s", day.Format("2006-01-02"), closeCell, changeCell, title)
}

func headlineCell(h marketx.Headline) string {
	title := strings.ReplaceAll(strings.TrimSpace(h.Title), "|", "/")
	if title == "" {
		title = "(untitled)"
	}
	if h.Link != "" {
		return fmt.Sprintf("[%s](%s)", title, h.Link)
	}
	return title
}
