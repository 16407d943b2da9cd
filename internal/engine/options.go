package engine

import (
	"log/slog"
	"time"

	"github.com/roach88/civicroute/internal/clock"
)

// DefaultOfferWindow is how long an NGO has to accept an offer.
const DefaultOfferWindow = 48 * time.Hour

// DefaultRetryDelay is how long the controller waits before retrying an
// offer that could not be opened.
const DefaultRetryDelay = time.Minute

// Options holds configuration for the [Controller].
type Options struct {
	Clock            clock.Clock
	OfferWindow      time.Duration
	CompletionWindow time.Duration // 0 disables completion deadlines
	RetryDelay       time.Duration
	Metrics          MetricsHook
	Logger           *slog.Logger
}

// Option is a function that configures [Options].
type Option func(*Options)

// WithClock sets the time source for deadlines and notifications.
func WithClock(c clock.Clock) Option {
	return func(o *Options) {
		o.Clock = c
	}
}

// WithOfferWindow sets how long each offer stays open.
//
// Default: 48h (DefaultOfferWindow)
func WithOfferWindow(d time.Duration) Option {
	return func(o *Options) {
		o.OfferWindow = d
	}
}

// WithCompletionWindow sets how long an assigned NGO has to complete the
// work before an overdue notification goes out. Zero disables it.
func WithCompletionWindow(d time.Duration) Option {
	return func(o *Options) {
		o.CompletionWindow = d
	}
}

// WithMetricsHook sets the metrics hook.
func WithMetricsHook(hook MetricsHook) Option {
	return func(o *Options) {
		o.Metrics = hook
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithRetryDelay sets the delay before a failed offer is opened again. Each
// failure arms one retry at the record's cursor.
//
// Default: 1m (DefaultRetryDelay)
func WithRetryDelay(d time.Duration) Option {
	return func(o *Options) {
		o.RetryDelay = d
	}
}
