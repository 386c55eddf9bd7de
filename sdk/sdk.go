// Package sdk is the contract shared by the extension host and the extensions
// it loads. Both sides compile against the same types, so an extension built
// as a Go plugin can hand values to the host without any marshalling.
//
// An extension exports any subset of the entry points named by the Symbol
// constants, with the matching function types below:
//
//	func Init(cfg config.Section) error
//	func Deinit(ctx *editor.Context) error
//	func RegisterCommands() []sdk.Command
//	func RegisterEventHook(submit sdk.Submit)
//	func Render(ctx *editor.RenderContext)
//
// None is required. An entry point that is not exported is a capability the
// extension does not offer.
package sdk

import (
	"github.com/bram-dingelstad/helix/config"
	"github.com/bram-dingelstad/helix/editor"
	"github.com/bram-dingelstad/helix/transfer"
)

// Exported symbol names looked up in every extension library.
const (
	SymbolInit              = "Init"
	SymbolDeinit            = "Deinit"
	SymbolRegisterCommands  = "RegisterCommands"
	SymbolRegisterEventHook = "RegisterEventHook"
	SymbolRender            = "Render"
)

// Callback is one deferred unit of work. The host runs it exactly once on its
// own goroutine with exclusive access to the editor.
type Callback func(ed *editor.Editor)

// Submit hands one callback to the host. The ticket belongs to the host once
// Submit is called; the caller must not touch it again. Submit is safe for
// concurrent use.
type Submit func(t *transfer.Ticket[Callback]) error

// CommandFunc runs a command on the host goroutine.
type CommandFunc func(ctx *editor.Context)

// Command is one invocable command exposed by an extension.
type Command struct {
	Name string
	Doc  string
	Fn   CommandFunc
}

// Entry point signatures.
type (
	InitFunc              = func(config.Section) error
	DeinitFunc            = func(*editor.Context) error
	RegisterCommandsFunc  = func() []Command
	RegisterEventHookFunc = func(Submit)
	RenderFunc            = func(*editor.RenderContext)
)
