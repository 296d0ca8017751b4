// Package insight asks a text generation service for advice on a financial
// summary. The advice is opaque; only the request and retry contract
// matter here.
package insight

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/avast/retry-go"

	"fintrack/internal/cache"
	"fintrack/internal/core"
	"fintrack/internal/log"
)

// Generator turns a prompt into text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// StatusError carries the HTTP status of a failed generation call.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %v", e.Code, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

type Options struct {
	Attempts  uint
	BaseDelay time.Duration
	CacheSize int
	CacheTTL  time.Duration
}

// DefaultOptions retries five times doubling from one second and memoizes
// answers for fifteen minutes.
func DefaultOptions() Options {
	return Options{Attempts: 5, BaseDelay: time.Second, CacheSize: 64, CacheTTL: 15 * time.Minute}
}

type Requester struct {
	gen    Generator
	opts   Options
	memo   *cache.LRUCache[string]
	logger *log.Logger
}

func NewRequester(gen Generator, opts Options, logger *log.Logger) *Requester {
	def := DefaultOptions()
	if opts.Attempts == 0 {
		opts.Attempts = def.Attempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = def.BaseDelay
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = def.CacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = def.CacheTTL
	}
	return &Requester{
		gen:    gen,
		opts:   opts,
		memo:   cache.NewLRUCache[string](opts.CacheSize, opts.CacheTTL),
		logger: log.OrNop(logger).WithComponent(log.ComponentInsight),
	}
}

// Cache exposes the memo so it can be swept by a cache.Manager.
func (r *Requester) Cache() *cache.LRUCache[string] {
	return r.memo
}

// Request returns advice for s. Failures never carry partial text: after
// the retry ceiling, or on a status that will not improve, the error wraps
// core.ErrInsightUnavailable.
func (r *Requester) Request(ctx context.Context, s Summary) (string, error) {
	prompt := s.Prompt()
	key := promptKey(prompt)
	if text, ok := r.memo.Get(key); ok {
		return text, nil
	}

	var text string
	err := retry.Do(
		func() error {
			var err error
			text, err = r.gen.Generate(ctx, prompt)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(r.opts.Attempts),
		retry.Delay(r.opts.BaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Warn("Retrying insight request", log.FieldAttempt, n+1, log.FieldScope, s.Scope, log.FieldError, err)
		}),
	)
	if err != nil {
		r.logger.Error("Insight unavailable", log.FieldScope, s.Scope, log.FieldError, err)
		return "", fmt.Errorf("%w: %v", core.ErrInsightUnavailable, err)
	}
	r.memo.Set(key, text)
	return text, nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	var ne net.Error
	return errors.As(err, &ne)
}

func promptKey(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}
