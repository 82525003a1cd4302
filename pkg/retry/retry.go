package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

type Config struct {
	MaxAttempts     int           `split_words:"true" default:"3"`
	InitialInterval time.Duration `split_words:"true" default:"500ms"`
	MaxInterval     time.Duration `split_words:"true" default:"4s"`
	Multiplier      float64       `split_words:"true" default:"2"`
}

var DefaultConfig = Config{
	MaxAttempts:     3,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     4 * time.Second,
	Multiplier:      2,
}

// Policy is a bounded exponential-backoff schedule plus a predicate deciding
// which failures are worth another attempt.
type Policy struct {
	name      string
	cfg       Config
	retryable func(error) bool
}

// New builds a Policy. A nil retryable retries every error.
func New(name string, cfg Config, retryable func(error) bool) Policy {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig.MaxAttempts
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = DefaultConfig.InitialInterval
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		cfg.MaxInterval = cfg.InitialInterval
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = DefaultConfig.Multiplier
	}
	return Policy{name: name, cfg: cfg, retryable: retryable}
}

func (p Policy) MaxAttempts() int {
	return p.cfg.MaxAttempts
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.cfg.InitialInterval
	exp.MaxInterval = p.cfg.MaxInterval
	exp.Multiplier = p.cfg.Multiplier
	exp.MaxElapsedTime = 0
	exp.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.cfg.MaxAttempts-1)), ctx)
}

// Do runs op until it succeeds, fails with a non-retryable error, the attempt
// ceiling is reached, or ctx is done. The last error is returned on failure.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	attempt := 0

	err := backoff.RetryNotify(func() error {
		attempt++
		v, err := op(ctx)
		if err != nil {
			if p.retryable != nil && !p.retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = v
		return nil
	}, p.backOff(ctx), func(err error, wait time.Duration) {
		log.Debug().
			Err(err).
			Str("call", p.name).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("retrying after failure")
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// DoOrDegrade is Do with a fallback: once retries are exhausted the degrade
// callback turns the final error into a value. Only context cancellation is
// returned as an error.
func DoOrDegrade[T any](
	ctx context.Context,
	p Policy,
	op func(ctx context.Context) (T, error),
	degrade func(err error) T,
) (T, error) {
	out, err := Do(ctx, p, op)
	if err == nil {
		return out, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		var zero T
		return zero, ctxErr
	}

	log.Warn().Err(err).Str("call", p.name).Msg("degrading after retries")
	return degrade(err), nil
}
