package tool

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	contractx "github.com/tanpawarit/ticker-agent/agent/contract"
)

const (
	ToolTickerInfo    = "ticker_info"
	ToolNewsVsPrice   = "news_vs_price"
	ToolSummarizeNews = "summarize_news"
)

const (
	ArgTicker   = "ticker"
	ArgDays     = "days"
	ArgHeadline = "headline"
)

const (
	minDays = 1
	maxDays = 90
)

// Spec describes one tool's argument schema.
type Spec struct {
	Name     string   `json:"name"`
	Desc     string   `json:"description"`
	Required []string `json:"required"`
	Optional []string `json:"optional,omitempty"`
}

// Signature renders the tool the way the planner prompt lists it.
func (s Spec) Signature() string {
	params := append(append([]string(nil), s.Required...), s.Optional...)
	return fmt.Sprintf("%s(%s): %s", s.Name, strings.Join(params, ", "), s.Desc)
}

var catalog = []Spec{
	{
		Name:     ToolTickerInfo,
		Desc:     "latest close, % change over the window, window high and low",
		Required: []string{ArgTicker},
		Optional: []string{ArgDays},
	},
	{
		Name:     ToolNewsVsPrice,
		Desc:     "recent headlines aligned to the close and daily % change of their trading day",
		Required: []string{ArgTicker},
		Optional: []string{ArgDays},
	},
	{
		Name:     ToolSummarizeNews,
		Desc:     "one-sentence factual expansion of a single headline",
		Required: []string{ArgHeadline},
	},
}

func specFor(name string) (Spec, bool) {
	for _, s := range catalog {
		if s.Name == name {
			return s, true
		}
	}
	return Spec{}, false
}

// Specs returns the catalogue in a stable order.
func Specs() []Spec {
	out := make([]Spec, len(catalog))
	copy(out, catalog)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Schema returns the required and optional argument names of a tool.
func Schema(name string) (required []string, optional []string, err error) {
	spec, ok := specFor(name)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", contractx.ErrUnknownTool, name)
	}
	return append([]string(nil), spec.Required...), append([]string(nil), spec.Optional...), nil
}

// Validate checks a tool invocation against the catalogue before dispatch.
func Validate(inv contractx.ToolInvocation) error {
	spec, ok := specFor(inv.Tool)
	if !ok {
		return fmt.Errorf("%w: %q", contractx.ErrUnknownTool, inv.Tool)
	}
	for _, name := range spec.Required {
		if inv.Arg(name) == "" {
			return fmt.Errorf("%w: %s requires %q", contractx.ErrMissingArgument, inv.Tool, name)
		}
	}
	if v := inv.Arg(ArgTicker); v != "" {
		if _, err := parseTicker(v); err != nil {
			return err
		}
	}
	if v := inv.Arg(ArgDays); v != "" {
		if _, err := parseDays(v); err != nil {
			return err
		}
	}
	return nil
}

var tickerPattern = regexp.MustCompile(`^[A-Z0-9^][A-Z0-9.\-^=]{0,11}$`)

func parseTicker(raw string) (string, error) {
	ticker := strings.ToUpper(strings.TrimSpace(raw))
	if !tickerPattern.MatchString(ticker) {
		return "", fmt.Errorf("%w: ticker %q", contractx.ErrInvalidArgument, raw)
	}
	return ticker, nil
}

// parseDays reads a window length. Empty means the default; values outside
// 1-90 are clamped.
func parseDays(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return contractx.DefaultDays, nil
	}
	days, err := strconv.Atoi(strings.TrimSuffix(strings.ToLower(raw), "d"))
	if err != nil {
		return 0, fmt.Errorf("%w: days %q is not an integer", contractx.ErrInvalidArgument, raw)
	}
	return ClampDays(days), nil
}

func ClampDays(days int) int {
	switch {
	case days < minDays:
		return minDays
	case days > maxDays:
		return maxDays
	default:
		return days
	}
}
