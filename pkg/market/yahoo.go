package market

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const maxResponseSizeBytes = 4 << 20

type Config struct {
	ChartURL  string        `envconfig:"CHART_URL" split_words:"true" default:"https://query1.finance.yahoo.com/v8/finance/chart"`
	SearchURL string        `envconfig:"SEARCH_URL" split_words:"true" default:"https://query2.finance.yahoo.com/v1/finance/search"`
	Timeout   time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
	NewsLimit int           `envconfig:"NEWS_LIMIT" split_words:"true" default:"15"`
	UserAgent string        `envconfig:"USER_AGENT" split_words:"true" default:"Mozilla/5.0 (compatible; ticker-agent/1.0)"`
}

type Option func(*YahooClient)

func WithHTTPClient(client *http.Client) Option {
	return func(c *YahooClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *YahooClient) {
		if now != nil {
			c.now = now
		}
	}
}

// YahooClient reads daily closes from the chart endpoint and headlines from
// the search endpoint of Yahoo Finance.
type YahooClient struct {
	chartURL   string
	searchURL  string
	newsLimit  int
	userAgent  string
	httpClient *http.Client
	now        func() time.Time
}

func NewYahooClient(cfg Config, opts ...Option) *YahooClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := cfg.NewsLimit
	if limit <= 0 {
		limit = 15
	}

	c := &YahooClient{
		chartURL:   strings.TrimRight(strings.TrimSpace(cfg.ChartURL), "/"),
		searchURL:  strings.TrimSpace(cfg.SearchURL),
		newsLimit:  limit,
		userAgent:  strings.TrimSpace(cfg.UserAgent),
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Series returns daily closes for the last days calendar days, ascending by
// date.
func (c *YahooClient) Series(ctx context.Context, ticker string, days int) ([]PricePoint, error) {
	symbol := strings.ToUpper(strings.TrimSpace(ticker))
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty ticker", ErrSymbolNotFound)
	}

	end := c.now().UTC()
	start := end.AddDate(0, 0, -days)

	q := url.Values{}
	q.Set("period1", strconv.FormatInt(start.Unix(), 10))
	q.Set("period2", strconv.FormatInt(end.Unix(), 10))
	q.Set("interval", "1d")
	q.Set("events", "history")

	status, body, err := c.get(ctx, c.chartURL+"/"+url.PathEscape(symbol)+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}
	if err := statusError(status, body); err != nil {
		return nil, err
	}

	doc := gjson.ParseBytes(body)
	if code := doc.Get("chart.error.code").String(); code != "" {
		if strings.EqualFold(code, "Not Found") {
			return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
		}
		return nil, fmt.Errorf("chart error %s: %s", code, doc.Get("chart.error.description").String())
	}

	result := doc.Get("chart.result.0")
	if !result.Exists() {
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}

	offset := time.Duration(result.Get("meta.gmtoffset").Int()) * time.Second
	stamps := result.Get("timestamp").Array()
	closes := result.Get("indicators.quote.0.close").Array()

	points := make([]PricePoint, 0, len(stamps))
	for i, ts := range stamps {
		if i >= len(closes) || closes[i].Type != gjson.Number {
			continue
		}
		points = append(points, PricePoint{
			Date:  Day(time.Unix(ts.Int(), 0).UTC().Add(offset)),
			Close: closes[i].Float(),
		})
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: %s last %dd", ErrNoData, symbol, days)
	}

	sort.SliceStable(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points, nil
}

// Headlines returns recent news for ticker published within the last days
// calendar days. Items without a publish time are kept with a zero Date.
func (c *YahooClient) Headlines(ctx context.Context, ticker string, days int) ([]Headline, error) {
	symbol := strings.ToUpper(strings.TrimSpace(ticker))
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty ticker", ErrSymbolNotFound)
	}

	q := url.Values{}
	q.Set("q", symbol)
	q.Set("quotesCount", "0")
	q.Set("newsCount", strconv.Itoa(c.newsLimit))

	status, body, err := c.get(ctx, c.searchURL+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	if err := statusError(status, body); err != nil {
		return nil, err
	}

	cutoff := Day(c.now().UTC().AddDate(0, 0, -days))
	out := make([]Headline, 0, c.newsLimit)
	for _, item := range gjson.GetBytes(body, "news").Array() {
		title := strings.TrimSpace(item.Get("title").String())
		if title == "" {
			continue
		}

		var date time.Time
		if ts := item.Get("providerPublishTime").Int(); ts > 0 {
			date = Day(time.Unix(ts, 0).UTC())
			if date.Before(cutoff) {
				continue
			}
		}

		out = append(out, Headline{
			Date:      date,
			Title:     title,
			Link:      strings.TrimSpace(item.Get("link").String()),
			Publisher: strings.TrimSpace(item.Get("publisher").String()),
		})
		if len(out) >= c.newsLimit {
			break
		}
	}
	return out, nil
}

func (c *YahooClient) get(ctx context.Context, rawURL string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build market request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, ctxErr
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return 0, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return 0, nil, fmt.Errorf("execute market request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read market response: %v", ErrUnavailable, err)
	}
	return resp.StatusCode, body, nil
}

func statusError(status int, body []byte) error {
	switch {
	case status >= http.StatusOK && status < http.StatusMultipleChoices:
		return nil
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: http status=%d", ErrUnavailable, status)
	default:
		return fmt.Errorf("market http status=%d body=%s", status, truncate(string(body), 200))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
