// Package platform selects the loadable-module conventions of the running
// operating system and the per-user directories extensions live in.
package platform

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/apparentlymart/go-userdirs/userdirs"
)

// ErrUnsupported is returned for platforms without a known shared-library suffix.
var ErrUnsupported = errors.New("platform: shared libraries not supported")

// Platform is an operating system family with its own library conventions.
type Platform int

const (
	Unknown Platform = iota
	Linux
	Darwin
	Windows
	FreeBSD
)

var names = map[Platform]string{
	Unknown: "unknown",
	Linux:   "linux",
	Darwin:  "darwin",
	Windows: "windows",
	FreeBSD: "freebsd",
}

// suffixes per platform, without the leading dot
var suffixes = map[Platform]string{
	Linux:   "so",
	Darwin:  "dylib",
	Windows: "dll",
	FreeBSD: "so",
}

func (p Platform) String() string {
	if n, ok := names[p]; ok {
		return n
	}
	return fmt.Sprintf("platform(%d)", int(p))
}

// Parse maps a GOOS value to a Platform.
func Parse(goos string) Platform {
	for p, n := range names {
		if n == goos {
			return p
		}
	}
	return Unknown
}

var current = sync.OnceValue(func() Platform { return Parse(runtime.GOOS) })

// Current returns the platform the process runs on. It is resolved once.
func Current() Platform { return current() }

// Suffix returns the shared-library file extension, without the dot.
func (p Platform) Suffix() (string, error) {
	s, ok := suffixes[p]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, p)
	}
	return s, nil
}

// LibraryFile derives the library filename for an extension name. Dashes are
// not valid in exported module symbols, so they become underscores.
func (p Platform) LibraryFile(name string) (string, error) {
	suffix, err := p.Suffix()
	if err != nil {
		return "", err
	}
	return NormalizeName(name) + "." + suffix, nil
}

// NormalizeName replaces dashes with underscores.
func NormalizeName(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

// app-specific directory layout: XDG "helix" on Unix, "helix-editor\Helix" on
// Windows, "com.helix-editor" on macOS
var dirs = sync.OnceValue(func() userdirs.Dirs {
	return userdirs.ForApp("Helix", "helix-editor", "com.helix-editor")
})

// ConfigDir returns the per-user configuration directory.
func ConfigDir() string { return dirs().ConfigHome() }

// ConfigFile returns the default extension configuration document.
func ConfigFile() string { return filepath.Join(ConfigDir(), "plugins.toml") }

// ExtensionDir returns the default directory holding extension libraries.
func ExtensionDir() string { return filepath.Join(ConfigDir(), "plugins") }
