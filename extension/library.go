package extension

import (
	"fmt"
	"io/fs"
	"os"
	"plugin"
)

// Library is a loaded module that exposes symbols by name.
type Library interface {
	Lookup(symbol string) (any, error)
}

// Opener loads the library at path.
type Opener interface {
	Open(path string) (Library, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(path string) (Library, error)

func (f OpenerFunc) Open(path string) (Library, error) { return f(path) }

// GoPluginOpener opens libraries built with -buildmode=plugin. The plugin
// runtime never unloads a library, which is what keeps entry points valid.
type GoPluginOpener struct{}

func (GoPluginOpener) Open(path string) (Library, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	return goPlugin{p: p}, nil
}

type goPlugin struct {
	p *plugin.Plugin
}

func (g goPlugin) Lookup(symbol string) (any, error) {
	return g.p.Lookup(symbol)
}

// StaticLibrary serves symbols from memory. It lets extensions compiled into
// the host binary go through the same registry as loaded ones.
type StaticLibrary map[string]any

func (l StaticLibrary) Lookup(symbol string) (any, error) {
	sym, ok := l[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}
	return sym, nil
}

// StaticOpener maps library paths to in-memory libraries.
type StaticOpener map[string]Library

func (o StaticOpener) Open(path string) (Library, error) {
	lib, ok := o[path]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	return lib, nil
}
