// Package config enumerates configured extensions and carries each one's
// opaque configuration section.
//
// The host never interprets a Section; it is forwarded verbatim to the
// extension's Init entry point. Documents come from a Source, which may be an
// in-process map or a file on disk.
package config

import (
	"errors"
	"sort"

	"github.com/rs/zerolog/log"
)

// Reserved top-level keys. They are control switches, not extension names.
const (
	KeyEnabled = "enabled"
	KeyGeneral = "general"
)

// ErrParse wraps any failure to read a configuration document.
var ErrParse = errors.New("config: failed to parse document")

// IsReserved reports whether a top-level key is excluded from extension enumeration.
func IsReserved(name string) bool {
	return name == KeyEnabled || name == KeyGeneral
}

// Section is one extension's configuration subsection.
type Section map[string]any

// Get returns the raw value under key.
func (s Section) Get(key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s[key]
	return v, ok
}

// String returns the value under key if it is a string.
func (s Section) String(key string) (string, bool) {
	v, ok := s.Get(key)
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

// Sub returns the nested section under key, or nil.
func (s Section) Sub(key string) Section {
	v, ok := s.Get(key)
	if !ok {
		return nil
	}
	switch m := v.(type) {
	case Section:
		return m
	case map[string]any:
		return Section(m)
	}
	return nil
}

// Descriptor names one extension and carries its section.
type Descriptor struct {
	Name   string
	Config Section
}

// Source yields extension descriptors in registration order.
type Source interface {
	Descriptors() ([]Descriptor, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func() ([]Descriptor, error)

func (f SourceFunc) Descriptors() ([]Descriptor, error) { return f() }

// Static returns a source that yields descs in the given order.
func Static(descs ...Descriptor) Source {
	out := append([]Descriptor(nil), descs...)
	return SourceFunc(func() ([]Descriptor, error) {
		return append([]Descriptor(nil), out...), nil
	})
}

// FromMap returns a source over an in-process map. Go maps carry no order, so
// descriptors are yielded sorted by name.
func FromMap(m map[string]Section) Source {
	return SourceFunc(func() ([]Descriptor, error) {
		names := make([]string, 0, len(m))
		for name := range m {
			names = append(names, name)
		}
		sort.Strings(names)
		descs := make([]Descriptor, 0, len(names))
		for _, name := range names {
			descs = append(descs, Descriptor{Name: name, Config: m[name]})
		}
		return descs, nil
	})
}

// Enumerate reads src and drops reserved keys.
func Enumerate(src Source) ([]Descriptor, error) {
	descs, err := src.Descriptors()
	if err != nil {
		return nil, err
	}
	out := make([]Descriptor, 0, len(descs))
	for _, d := range descs {
		if IsReserved(d.Name) {
			continue
		}
		if d.Name == "" {
			log.Warn().Msg("skipping extension with empty name")
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// sectionFrom converts a decoded table into a Section, recursing into nested tables.
func sectionFrom(m map[string]any) Section {
	s := make(Section, len(m))
	for k, v := range m {
		s[k] = normalize(v)
	}
	return s
}

func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return sectionFrom(t)
	case []map[string]any:
		out := make([]any, 0, len(t))
		for _, m := range t {
			out = append(out, sectionFrom(m))
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, e := range t {
			out = append(out, normalize(e))
		}
		return out
	}
	return v
}
