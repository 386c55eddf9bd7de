package extension

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bram-dingelstad/helix/config"
	"github.com/bram-dingelstad/helix/editor"
	"github.com/bram-dingelstad/helix/platform"
	"github.com/bram-dingelstad/helix/pubsub"
	"github.com/bram-dingelstad/helix/sdk"
	"github.com/rs/zerolog/log"
)

// Option configures a Registry.
type Option func(*options)

type options struct {
	opener   Opener
	dir      string
	platform platform.Platform
	policy   Policy
	broker   *pubsub.Broker
}

func defaultOptions() options {
	return options{
		opener:   GoPluginOpener{},
		platform: platform.Current(),
		policy:   FIFO,
	}
}

// WithOpener sets how libraries are opened. Defaults to GoPluginOpener.
func WithOpener(o Opener) Option {
	return func(opts *options) {
		if o != nil {
			opts.opener = o
		}
	}
}

// WithDir sets the directory libraries are resolved in. Defaults to
// platform.ExtensionDir.
func WithDir(dir string) Option {
	return func(opts *options) { opts.dir = dir }
}

// WithPlatform overrides the platform used to derive library file names.
func WithPlatform(p platform.Platform) Option {
	return func(opts *options) { opts.platform = p }
}

// WithPolicy sets the per-extension drain order. Defaults to FIFO.
func WithPolicy(p Policy) Option {
	return func(opts *options) { opts.policy = p }
}

// WithBroker publishes lifecycle events on b.
func WithBroker(b *pubsub.Broker) Option {
	return func(opts *options) { opts.broker = b }
}

// Registry owns every loaded extension. It is created once at startup and
// used from the host goroutine; only the submission functions it hands to
// extensions are called concurrently.
type Registry struct {
	opts       options
	events     emitter
	extensions []*LoadedExtension
	byName     map[string]*LoadedExtension
	failures   []*LoadError

	// extensions that failed after accepting callbacks; drained after the rest
	orphans []*LoadedExtension
}

// New builds a registry from every extension described by src. Extensions
// that fail to load are recorded in Failures and skipped; New itself only
// fails when src cannot be read.
func New(src config.Source, opts ...Option) (*Registry, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.dir == "" {
		o.dir = platform.ExtensionDir()
	}

	descs, err := config.Enumerate(src)
	if err != nil {
		return nil, fmt.Errorf("extension: reading configuration: %w", err)
	}

	r := &Registry{
		opts:   o,
		events: emitter{broker: o.broker},
		byName: make(map[string]*LoadedExtension, len(descs)),
	}
	for _, d := range descs {
		if le := r.load(d); le != nil {
			r.failures = append(r.failures, le)
			log.Error().Err(le.Err).Str("extension", d.Name).Str("stage", string(le.Stage)).Msg("failed to load extension")
			r.events.emit(TopicFailed, Event{Extension: d.Name, Path: le.Path, Stage: le.Stage, Error: le.Err.Error()})
		}
	}

	log.Info().
		Int("loaded", len(r.extensions)).
		Int("failed", len(r.failures)).
		Stringer("policy", o.policy).
		Msg("extension registry ready")
	return r, nil
}

// load constructs one extension.
func (r *Registry) load(d config.Descriptor) *LoadError {
	fail := func(path string, stage Stage, err error) *LoadError {
		return &LoadError{Name: d.Name, Path: path, Stage: stage, Err: err}
	}

	// names that differ only in - and _ resolve to the same library file
	key := platform.NormalizeName(d.Name)
	if _, exists := r.byName[key]; exists {
		return fail("", StageConfig, ErrDuplicateName)
	}
	file, err := r.opts.platform.LibraryFile(d.Name)
	if err != nil {
		return fail("", StageConfig, err)
	}
	path := filepath.Join(r.opts.dir, file)

	log.Debug().Str("extension", d.Name).Str("path", path).Msg("loading extension...")
	startTime := time.Now()

	h, err := Load(r.opts.opener, path)
	if err != nil {
		return fail(path, StageOpen, err)
	}

	ext := newLoadedExtension(d.Name, h, r.opts.policy, r.events)

	// the handshake precedes Init so that Init may already queue work
	if err := h.RegisterEventHook(ext.submit); err != nil {
		r.orphan(ext)
		return fail(path, StageHandshake, fmt.Errorf("%w: %w", ErrHandshake, err))
	}
	if err := h.Init(d.Config); err != nil {
		r.orphan(ext)
		return fail(path, StageInit, fmt.Errorf("%w: %w", ErrInitFailed, err))
	}

	r.extensions = append(r.extensions, ext)
	r.byName[key] = ext

	log.Info().
		Str("extension", d.Name).
		Str("path", path).
		Stringer("capabilities", h.Capabilities()).
		Dur("duration", time.Since(startTime)).
		Msg("extension loaded successfully")
	r.events.emit(TopicLoaded, Event{Extension: d.Name, Path: path, Capabilities: h.Capabilities().String()})
	return nil
}

// orphan closes the queue of an extension that failed to load. Callbacks it
// already submitted were accepted and stay drainable.
func (r *Registry) orphan(ext *LoadedExtension) {
	ext.queue.close()
	if n := ext.queue.len(); n > 0 {
		log.Warn().Str("extension", ext.name).Int("pending", n).Msg("keeping callbacks submitted before load failure")
		r.orphans = append(r.orphans, ext)
	}
}

// Extensions returns the loaded extensions in configuration order.
func (r *Registry) Extensions() []*LoadedExtension {
	return append([]*LoadedExtension(nil), r.extensions...)
}

// Extension returns the loaded extension called name. Dashes and underscores
// are interchangeable.
func (r *Registry) Extension(name string) (*LoadedExtension, bool) {
	ext, ok := r.byName[platform.NormalizeName(name)]
	return ext, ok
}

// Failures returns the extensions that did not load, in configuration order.
func (r *Registry) Failures() []*LoadError {
	return append([]*LoadError(nil), r.failures...)
}

// Len returns the number of loaded extensions.
func (r *Registry) Len() int { return len(r.extensions) }

// ListCommands collects the commands of every extension, in extension order
// and then in each extension's own order. An extension whose command table
// cannot be read contributes nothing.
func (r *Registry) ListCommands() []sdk.Command {
	var all []sdk.Command
	for _, ext := range r.extensions {
		if !ext.Capabilities().Has(CapCommands) {
			continue
		}
		cmds, err := ext.handle.Commands()
		if err != nil {
			log.Error().Err(err).Str("extension", ext.name).Msg("failed to list extension commands")
			continue
		}
		for _, cmd := range cmds {
			if cmd.Name == "" || cmd.Fn == nil {
				log.Warn().Str("extension", ext.name).Str("command", cmd.Name).Msg("skipping incomplete command")
				continue
			}
			all = append(all, cmd)
		}
	}
	return all
}

// Command returns the first listed command called name.
func (r *Registry) Command(name string) (sdk.Command, bool) {
	for _, cmd := range r.ListCommands() {
		if cmd.Name == name {
			return cmd, true
		}
	}
	return sdk.Command{}, false
}

// NextCallback takes one pending callback out of the registry. Extensions are
// visited in configuration order and the first non-empty queue yields; work
// accepted from extensions that later failed to load comes last. The second
// result is false when nothing is pending.
func (r *Registry) NextCallback() (sdk.Callback, bool) {
	if cb, ok := r.nextFrom(r.extensions); ok {
		return cb, true
	}
	return r.nextFrom(r.orphans)
}

func (r *Registry) nextFrom(exts []*LoadedExtension) (sdk.Callback, bool) {
	for _, ext := range exts {
		for {
			t, ok := ext.queue.pop()
			if !ok {
				break
			}
			cb, err := t.Reclaim()
			if err != nil {
				log.Warn().Err(err).Str("extension", ext.name).Stringer("ticket", t.ID()).Msg("dropping pending callback")
				continue
			}
			if cb == nil {
				log.Warn().Str("extension", ext.name).Stringer("ticket", t.ID()).Msg("dropping nil callback")
				continue
			}
			return cb, true
		}
	}
	return nil, false
}

// Apply runs cb against ed. A panicking callback is reported as
// ErrCallbackPanic.
func (r *Registry) Apply(cb sdk.Callback, ed *editor.Editor) (err error) {
	if cb == nil {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrCallbackPanic, rec)
			log.Error().Err(err).Msg("extension callback panicked")
		}
	}()
	cb(ed)
	return nil
}

// RenderAll invokes every extension's Render hook in extension order.
func (r *Registry) RenderAll(rc *editor.RenderContext) error {
	var allErrors []error
	for _, ext := range r.extensions {
		if err := ext.handle.Render(rc); err != nil {
			log.Error().Err(err).Str("extension", ext.name).Msg("extension render failed")
			allErrors = append(allErrors, fmt.Errorf("render %s: %w", ext.name, err))
		}
	}
	return errors.Join(allErrors...)
}

// DeinitAll runs every extension's Deinit hook once, in configuration order.
// It continues past failures and returns them joined. Calling it again is a
// no-op. Callbacks queued before deinit remain drainable; later submissions
// fail with ErrQueueClosed.
func (r *Registry) DeinitAll(ctx *editor.Context) error {
	var allErrors []error
	for _, ext := range r.extensions {
		startTime := time.Now()
		ran, err := ext.deinit(ctx)
		if !ran {
			continue
		}
		duration := time.Since(startTime)
		ev := Event{Extension: ext.name, Path: ext.Path()}
		if err != nil {
			log.Error().Str("extension", ext.name).Dur("duration", duration).Err(err).Msg("failed to deinit extension")
			allErrors = append(allErrors, fmt.Errorf("failed to deinit extension %s: %w", ext.name, err))
			ev.Error = err.Error()
		} else {
			log.Info().Str("extension", ext.name).Dur("duration", duration).Msg("extension deinitialized successfully")
		}
		r.events.emit(TopicDeinit, ev)
	}

	if len(allErrors) > 0 {
		log.Warn().Int("error_count", len(allErrors)).Msg("extension deinit completed with errors")
		return errors.Join(allErrors...)
	}
	return nil
}
