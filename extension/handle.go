package extension

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bram-dingelstad/helix/config"
	"github.com/bram-dingelstad/helix/editor"
	"github.com/bram-dingelstad/helix/sdk"
)

// Capabilities records which optional entry points a library exports.
type Capabilities uint8

const (
	CapInit Capabilities = 1 << iota
	CapDeinit
	CapCommands
	CapEventHook
	CapRender
)

var capNames = []struct {
	cap  Capabilities
	name string
}{
	{CapInit, "init"},
	{CapDeinit, "deinit"},
	{CapCommands, "commands"},
	{CapEventHook, "event_hook"},
	{CapRender, "render"},
}

// Has reports whether every capability in c2 is present.
func (c Capabilities) Has(c2 Capabilities) bool { return c&c2 == c2 }

func (c Capabilities) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	for _, n := range capNames {
		if c.Has(n.cap) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// Handle is an opened library with its entry points resolved once at load
// time. A missing entry point turns the matching method into a no-op.
type Handle struct {
	path    string
	lib     Library
	symbols map[string]any
	caps    Capabilities

	init      sdk.InitFunc
	deinit    sdk.DeinitFunc
	commands  sdk.RegisterCommandsFunc
	eventHook sdk.RegisterEventHookFunc
	render    sdk.RenderFunc
}

// Load opens the library at path and resolves its entry points. A symbol
// exported with an unexpected type fails the whole load with ErrSymbolType.
func Load(opener Opener, path string) (*Handle, error) {
	lib, err := opener.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrLibraryLoad, path, err)
	}
	h := &Handle{path: path, lib: lib, symbols: make(map[string]any)}

	var errs []error
	bind(h, sdk.SymbolInit, CapInit, &h.init, &errs)
	bind(h, sdk.SymbolDeinit, CapDeinit, &h.deinit, &errs)
	bind(h, sdk.SymbolRegisterCommands, CapCommands, &h.commands, &errs)
	bind(h, sdk.SymbolRegisterEventHook, CapEventHook, &h.eventHook, &errs)
	bind(h, sdk.SymbolRender, CapRender, &h.render, &errs)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return h, nil
}

// bind resolves symbol into dst and records the capability when present.
func bind[F any](h *Handle, symbol string, c Capabilities, dst *F, errs *[]error) {
	fn, ok, err := resolve[F](h.lib, symbol)
	if err != nil {
		*errs = append(*errs, err)
		return
	}
	if !ok {
		return
	}
	*dst = fn
	h.symbols[symbol] = fn
	h.caps |= c
}

// resolve looks symbol up and converts it to F. Exported functions come back
// as F; exported function variables come back as *F.
func resolve[F any](lib Library, symbol string) (F, bool, error) {
	var zero F
	sym, err := lib.Lookup(symbol)
	if err != nil || sym == nil {
		// the plugin runtime has no typed not-found error, so any lookup
		// failure means the entry point is absent
		return zero, false, nil
	}
	switch v := sym.(type) {
	case F:
		if isNilFunc(v) {
			return zero, false, nil
		}
		return v, true, nil
	case *F:
		if v == nil || isNilFunc(*v) {
			return zero, false, nil
		}
		return *v, true, nil
	}
	return zero, false, fmt.Errorf("%w: %s is %T", ErrSymbolType, symbol, sym)
}

func isNilFunc(v any) bool {
	switch fn := v.(type) {
	case sdk.InitFunc:
		return fn == nil
	case sdk.DeinitFunc:
		return fn == nil
	case sdk.RegisterCommandsFunc:
		return fn == nil
	case sdk.RegisterEventHookFunc:
		return fn == nil
	case sdk.RenderFunc:
		return fn == nil
	}
	return false
}

// Path returns the file the library was opened from.
func (h *Handle) Path() string { return h.path }

// Capabilities returns the set of exported entry points.
func (h *Handle) Capabilities() Capabilities { return h.caps }

// Resolve returns the entry point bound under symbol at load time.
func (h *Handle) Resolve(symbol string) (any, bool) {
	fn, ok := h.symbols[symbol]
	return fn, ok
}

// Init runs the library's Init entry point with its configuration section.
func (h *Handle) Init(cfg config.Section) error {
	if h.init == nil {
		return nil
	}
	return guard(sdk.SymbolInit, func() error { return h.init(cfg) })
}

// Deinit runs the library's Deinit entry point.
func (h *Handle) Deinit(ctx *editor.Context) error {
	if h.deinit == nil {
		return nil
	}
	return guard(sdk.SymbolDeinit, func() error { return h.deinit(ctx) })
}

// Commands returns the library's command table.
func (h *Handle) Commands() ([]sdk.Command, error) {
	if h.commands == nil {
		return nil, nil
	}
	var cmds []sdk.Command
	err := guard(sdk.SymbolRegisterCommands, func() error {
		cmds = h.commands()
		return nil
	})
	return cmds, err
}

// RegisterEventHook hands the library its submission function.
func (h *Handle) RegisterEventHook(submit sdk.Submit) error {
	if h.eventHook == nil {
		return nil
	}
	return guard(sdk.SymbolRegisterEventHook, func() error {
		h.eventHook(submit)
		return nil
	})
}

// Render runs the library's Render entry point.
func (h *Handle) Render(rc *editor.RenderContext) error {
	if h.render == nil {
		return nil
	}
	return guard(sdk.SymbolRender, func() error {
		h.render(rc)
		return nil
	})
}

// guard runs fn and turns a panic into ErrEntryPointPanic.
func guard(entry string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrEntryPointPanic, entry, r)
		}
	}()
	return fn()
}
