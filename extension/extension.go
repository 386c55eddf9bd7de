// Package extension loads independently compiled extension libraries, binds
// each one to a pending-callback queue and lets the host drain that work on
// its own goroutine.
//
// A Registry is built once from a config.Source. Every configured extension is
// opened, its optional entry points are resolved a single time, it is handed a
// submission function bound to its own queue, and its Init hook runs. Any of
// those steps may fail for one extension without affecting the others; the
// failure is recorded as a *LoadError and the extension is left out.
//
// Libraries stay loaded for the rest of the process. There is no unload path,
// so every resolved entry point and every submitted callback remains valid
// for as long as the host runs.
package extension

import (
	"errors"
	"fmt"
)

// Predefined errors for common scenarios in extension management.
var (
	ErrLibraryLoad     = errors.New("extension: cannot load library")
	ErrSymbolType      = errors.New("extension: exported symbol has the wrong type")
	ErrSymbolNotFound  = errors.New("extension: symbol not found")
	ErrEntryPointPanic = errors.New("extension: entry point panicked")
	ErrInitFailed      = errors.New("extension: init failed")
	ErrHandshake       = errors.New("extension: event hook registration failed")
	ErrDuplicateName   = errors.New("extension: name is already registered")
	ErrCallbackPanic   = errors.New("extension: callback panicked")
	ErrQueueClosed     = errors.New("extension: pending queue is closed")
	ErrNilTicket       = errors.New("extension: nil callback ticket")
)

// Stage names the construction step at which an extension failed.
type Stage string

const (
	StageConfig    Stage = "config"
	StageOpen      Stage = "open"
	StageHandshake Stage = "handshake"
	StageInit      Stage = "init"
)

// LoadError reports that one extension did not load.
type LoadError struct {
	Name  string
	Path  string
	Stage Stage
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("extension %q: %s: %v", e.Name, e.Stage, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
