// Package editor holds the host state that extensions are allowed to touch.
//
// Editor is owned by the host's main loop. It is not safe for concurrent use;
// extensions reach it only through callbacks the host applies on its own
// goroutine, or through commands and render hooks the host invokes directly.
package editor

import "strings"

// DefaultTheme is the theme a fresh editor starts with.
const DefaultTheme = "default"

// Editor is the mutable host state.
type Editor struct {
	theme  string
	buf    strings.Builder
	status string
}

// New returns an editor with the default theme and an empty buffer.
func New() *Editor {
	return &Editor{theme: DefaultTheme}
}

// Theme returns the active theme name.
func (e *Editor) Theme() string { return e.theme }

// SetTheme switches the active theme.
func (e *Editor) SetTheme(name string) {
	if name == "" {
		return
	}
	e.theme = name
}

// Insert appends text to the buffer count times. A count below one inserts once.
func (e *Editor) Insert(text string, count int) {
	if count < 1 {
		count = 1
	}
	for i := 0; i < count; i++ {
		e.buf.WriteString(text)
	}
}

// Text returns the buffer contents.
func (e *Editor) Text() string { return e.buf.String() }

// Status returns the status line.
func (e *Editor) Status() string { return e.status }

// SetStatus replaces the status line.
func (e *Editor) SetStatus(msg string) { e.status = msg }

// Context is handed to commands and to extension deinit hooks.
type Context struct {
	Editor *Editor
	count  int
}

// NewContext wraps ed with a repeat count.
func NewContext(ed *Editor, count int) *Context {
	return &Context{Editor: ed, count: count}
}

// Count returns the repeat count, never less than one.
func (c *Context) Count() int {
	if c.count < 1 {
		return 1
	}
	return c.count
}

// RenderContext is handed to extension render hooks once per frame.
type RenderContext struct {
	Editor *Editor
	Frame  uint64
}
