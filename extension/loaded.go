package extension

import (
	"sync"

	"github.com/bram-dingelstad/helix/editor"
	"github.com/bram-dingelstad/helix/sdk"
	"github.com/bram-dingelstad/helix/transfer"
	"github.com/rs/zerolog/log"
)

// LoadedExtension is one successfully initialized extension together with
// its pending-callback queue.
type LoadedExtension struct {
	name   string
	handle *Handle
	queue  *pendingQueue
	events emitter

	deinitOnce sync.Once
}

func newLoadedExtension(name string, h *Handle, policy Policy, events emitter) *LoadedExtension {
	return &LoadedExtension{
		name:   name,
		handle: h,
		queue:  newPendingQueue(policy),
		events: events,
	}
}

// Name returns the configured extension name.
func (e *LoadedExtension) Name() string { return e.name }

// Path returns the library file the extension was loaded from.
func (e *LoadedExtension) Path() string { return e.handle.Path() }

// Capabilities returns the entry points the extension exports.
func (e *LoadedExtension) Capabilities() Capabilities { return e.handle.Capabilities() }

// Handle returns the underlying library handle.
func (e *LoadedExtension) Handle() *Handle { return e.handle }

// Pending returns the number of callbacks waiting to be drained.
func (e *LoadedExtension) Pending() int { return e.queue.len() }

// submit is the function handed to the extension's event hook. It is called
// from arbitrary goroutines.
func (e *LoadedExtension) submit(t *transfer.Ticket[sdk.Callback]) error {
	if err := e.queue.push(t); err != nil {
		log.Debug().Err(err).Str("extension", e.name).Msg("callback submission rejected")
		return err
	}
	log.Debug().Str("extension", e.name).Stringer("ticket", t.ID()).Msg("callback queued")
	e.events.emit(TopicCallback, Event{Extension: e.name, Ticket: t.ID().String()})
	return nil
}

// deinit runs the extension's Deinit hook at most once and closes its queue.
// ran is false when an earlier call already did so.
func (e *LoadedExtension) deinit(ctx *editor.Context) (ran bool, err error) {
	e.deinitOnce.Do(func() {
		ran = true
		e.queue.close()
		err = e.handle.Deinit(ctx)
	})
	return ran, err
}
