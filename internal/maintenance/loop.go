// Package maintenance runs a setup task periodically until it succeeds once.
package maintenance

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"
	"k8s.io/utils/clock"
)

const defaultInterval = 10 * time.Second

var ErrMissingDocument = errors.New("maintenance is enabled but document file or path is empty")

type Config struct {
	Enabled  bool           `mapstructure:"enabled"`
	Interval time.Duration  `mapstructure:"interval"`
	Document DocumentConfig `mapstructure:"document"`
}

// Validate rejects an enabled loop that has no document to send.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Document.File == "" || c.Document.Path == "" {
		return ErrMissingDocument
	}
	return nil
}

// Task is one idempotent attempt. A nil error marks the task as done.
type Task interface {
	Name() string
	Run(ctx context.Context) error
}

// AttemptObserver is told about every attempt and its result.
type AttemptObserver interface {
	MaintenanceAttempt(task string, err error)
}

type Option func(*Loop)

func WithClock(c clock.WithTicker) Option {
	return func(l *Loop) {
		l.clock = c
	}
}

func WithObserver(o AttemptObserver) Option {
	return func(l *Loop) {
		l.observer = o
	}
}

type Loop struct {
	task     Task
	interval time.Duration
	clock    clock.WithTicker
	observer AttemptObserver

	mu       sync.Mutex
	done     atomic.Bool
	attempts atomic.Int64
}

func NewLoop(task Task, interval time.Duration, opts ...Option) *Loop {
	if interval <= 0 {
		interval = defaultInterval
	}
	l := &Loop{
		task:     task,
		interval: interval,
		clock:    clock.RealClock{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start attempts the task immediately and then on every tick until the first
// success. Later ticks are no-ops. It returns when ctx is cancelled.
func (l *Loop) Start(ctx context.Context) {
	slog.Info("Maintenance loop started", "task", l.task.Name(), "interval", l.interval)

	ticker := l.clock.NewTicker(l.interval)
	defer ticker.Stop()

	l.attempt(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Maintenance loop stopped", "task", l.task.Name())
			return
		case <-ticker.C():
			if l.done.Load() {
				continue
			}
			l.attempt(ctx)
		}
	}
}

// Trigger runs one attempt now, whether or not the task already succeeded.
func (l *Loop) Trigger(ctx context.Context) error {
	return l.attempt(ctx)
}

func (l *Loop) Done() bool {
	return l.done.Load()
}

func (l *Loop) Attempts() int64 {
	return l.attempts.Load()
}

func (l *Loop) attempt(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.attempts.Inc()
	err := l.task.Run(ctx)
	if l.observer != nil {
		l.observer.MaintenanceAttempt(l.task.Name(), err)
	}
	if err != nil {
		slog.Warn("Maintenance attempt failed", "task", l.task.Name(), "attempt", n, "error", err)
		return err
	}

	if !l.done.Swap(true) {
		slog.Info("Maintenance task succeeded", "task", l.task.Name(), "attempt", n)
	}
	return nil
}
