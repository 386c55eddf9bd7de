package sdk

import (
	"errors"
	"sync"

	"github.com/bram-dingelstad/helix/transfer"
)

// ErrNotRegistered is returned by Hook.Queue before the host has called
// RegisterEventHook.
var ErrNotRegistered = errors.New("sdk: event hook not registered")

// Hook keeps the submission function the host handed to an extension.
// Extensions typically hold one in a package variable and forward their
// RegisterEventHook export to it:
//
//	var hook sdk.Hook
//
//	func RegisterEventHook(submit sdk.Submit) { hook.Register(submit) }
//
// Background goroutines then call hook.Queue. The zero value is ready to use.
type Hook struct {
	mu     sync.RWMutex
	submit Submit
}

// Register stores submit. A later registration replaces an earlier one.
func (h *Hook) Register(submit Submit) {
	h.mu.Lock()
	h.submit = submit
	h.mu.Unlock()
}

// Registered reports whether a submission function is bound.
func (h *Hook) Registered() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.submit != nil
}

// Queue transfers cb to the host through the registered submission function.
func (h *Hook) Queue(cb Callback) error {
	if cb == nil {
		return errors.New("sdk: nil callback")
	}
	h.mu.RLock()
	submit := h.submit
	h.mu.RUnlock()
	if submit == nil {
		return ErrNotRegistered
	}
	return submit(transfer.Give(cb))
}
