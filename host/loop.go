// Package host drives a Registry from a single goroutine: it drains pending
// extension callbacks, applies them to the editor and lets extensions render.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bram-dingelstad/helix/editor"
	"github.com/bram-dingelstad/helix/extension"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownCommand = errors.New("host: unknown command")
	ErrAlreadyStarted = errors.New("host: loop already started")
)

const (
	defaultInterval = 50 * time.Millisecond
	defaultBudget   = 32
)

// Option configures a Loop.
type Option func(*options)

type options struct {
	interval time.Duration
	budget   int
}

// WithInterval sets the time between ticks.
func WithInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithBudget caps the callbacks applied per tick. Zero or less drains every
// pending callback.
func WithBudget(n int) Option {
	return func(o *options) { o.budget = n }
}

// Loop owns the editor and is the only place extension callbacks run.
type Loop struct {
	registry *extension.Registry
	editor   *editor.Editor
	opts     options

	// mu serializes ticks and commands so callbacks get exclusive editor access
	mu    sync.Mutex
	frame uint64

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a loop over reg and ed.
func New(reg *extension.Registry, ed *editor.Editor, opts ...Option) *Loop {
	o := options{interval: defaultInterval, budget: defaultBudget}
	for _, opt := range opts {
		opt(&o)
	}
	return &Loop{registry: reg, editor: ed, opts: o}
}

// Tick applies up to the configured budget of pending callbacks and then
// renders one frame. It returns how many callbacks ran; failures of single
// callbacks or render hooks are joined into err without stopping the tick.
func (l *Loop) Tick() (applied int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var allErrors []error
	for l.opts.budget <= 0 || applied < l.opts.budget {
		cb, ok := l.registry.NextCallback()
		if !ok {
			break
		}
		if err := l.registry.Apply(cb, l.editor); err != nil {
			allErrors = append(allErrors, err)
		}
		applied++
	}

	l.frame++
	if err := l.registry.RenderAll(&editor.RenderContext{Editor: l.editor, Frame: l.frame}); err != nil {
		allErrors = append(allErrors, err)
	}
	return applied, errors.Join(allErrors...)
}

// Frame returns the number of frames rendered so far.
func (l *Loop) Frame() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frame
}

// RunCommand invokes the extension command called name with a repeat count.
func (l *Loop) RunCommand(name string, count int) (err error) {
	cmd, ok := l.registry.Command(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: command %s: %v", extension.ErrCallbackPanic, name, r)
		}
	}()

	log.Debug().Str("command", name).Int("count", count).Msg("running extension command")
	cmd.Fn(editor.NewContext(l.editor, count))
	return nil
}

// Start launches the tick loop. It runs until ctx is canceled or Stop is
// called.
func (l *Loop) Start(ctx context.Context) error {
	l.runMu.Lock()
	defer l.runMu.Unlock()
	if l.done != nil {
		return ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.loop(loopCtx, l.done)

	log.Info().Dur("interval", l.opts.interval).Int("budget", l.opts.budget).Msg("host loop started")
	return nil
}

func (l *Loop) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.opts.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := l.Tick(); err != nil {
				log.Error().Err(err).Msg("host tick completed with errors")
			}
		}
	}
}

// Stop halts the tick loop, applies what is still pending and deinitializes
// every extension. It is safe to call without Start and more than once.
func (l *Loop) Stop() error {
	l.runMu.Lock()
	if l.cancel != nil {
		l.cancel()
		<-l.done
		l.cancel = nil
		l.done = nil
	}
	l.runMu.Unlock()

	var allErrors []error
	if _, err := l.drain(); err != nil {
		allErrors = append(allErrors, err)
	}

	l.mu.Lock()
	err := l.registry.DeinitAll(editor.NewContext(l.editor, 1))
	l.mu.Unlock()
	if err != nil {
		allErrors = append(allErrors, err)
	}

	log.Info().Msg("host loop stopped")
	return errors.Join(allErrors...)
}

// drain applies every pending callback without rendering.
func (l *Loop) drain() (applied int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var allErrors []error
	for {
		cb, ok := l.registry.NextCallback()
		if !ok {
			break
		}
		if err := l.registry.Apply(cb, l.editor); err != nil {
			allErrors = append(allErrors, err)
		}
		applied++
	}
	return applied, errors.Join(allErrors...)
}
