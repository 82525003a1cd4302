package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"

	contractx "github.com/tanpawarit/ticker-agent/agent/contract"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// ErrTransient marks failures worth retrying: overload, rate limiting, 5xx
// and network timeouts.
var ErrTransient = errors.New("transient model failure")

// Client is the completion surface every provider adapter implements.
type Client = contractx.Completer

// IsTransient reports whether err came from a retryable upstream condition.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}

	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		return transientStatus(oaErr.StatusCode)
	}
	var anErr *anthropic.Error
	if errors.As(err, &anErr) {
		return transientStatus(anErr.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if code, ok := statusFromMessage(err.Error()); ok {
		return transientStatus(code)
	}
	return false
}

func transientStatus(code int) bool {
	switch {
	case code == http.StatusTooManyRequests:
		return true
	case code == 529: // anthropic overloaded
		return true
	case code >= http.StatusInternalServerError:
		return true
	default:
		return false
	}
}

var statusPattern = regexp.MustCompile(`status code: (\d{3})`)

// statusFromMessage recovers the HTTP status from wrapped client errors that
// only expose it in their message.
func statusFromMessage(msg string) (int, bool) {
	m := statusPattern.FindStringSubmatch(msg)
	if len(m) != 2 {
		return 0, false
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return code, true
}

func wrapInvokeError(provider string, err error) error {
	if IsTransient(err) {
		return fmt.Errorf("%w: %s: %w", ErrTransient, provider, err)
	}
	return fmt.Errorf("%w: %s: %w", contractx.ErrModelInvoke, provider, err)
}

func emptyCompletion(provider string) error {
	return fmt.Errorf("%w: %s returned no content", contractx.ErrModelInvoke, provider)
}

func overrideBaseURL(raw string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if trimmed == "" || trimmed == defaultBaseURL {
		return ""
	}
	return trimmed
}
