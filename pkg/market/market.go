package market

import (
	"errors"
	"time"
)

var (
	ErrSymbolNotFound = errors.New("symbol not found")
	ErrNoData         = errors.New("no market data in window")
	ErrUnavailable    = errors.New("market data temporarily unavailable")
)

// PricePoint is one daily close. Date is midnight UTC of the exchange-local
// trading day.
type PricePoint struct {
	Date  time.Time
	Close float64
}

// Headline is one news item. Date is zero when the source gave no publish
// time.
type Headline struct {
	Date      time.Time
	Title     string
	Link      string
	Publisher string
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
