package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// TOMLFile reads a table-of-tables document from disk. Each top-level table
// names one extension; its contents become that extension's Section.
// Descriptors keep document order.
type TOMLFile struct {
	FS   afero.Fs
	Path string
}

// NewTOMLFile returns a TOML source on the OS filesystem.
func NewTOMLFile(path string) *TOMLFile {
	return &TOMLFile{FS: afero.NewOsFs(), Path: path}
}

// Descriptors parses the document. A missing file yields no descriptors.
func (f *TOMLFile) Descriptors() ([]Descriptor, error) {
	data, err := afero.ReadFile(f.fs(), f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("path", f.Path).Msg("extension config not found, no extensions configured")
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrParse, f.Path, err)
	}
	return ParseTOML(string(data))
}

func (f *TOMLFile) fs() afero.Fs {
	if f.FS == nil {
		return afero.NewOsFs()
	}
	return f.FS
}

// ParseTOML decodes a TOML document into descriptors in document order.
// Top-level keys whose value is not a table carry no extension section and
// are skipped; reserved control keys are expected to look like that.
func ParseTOML(doc string) ([]Descriptor, error) {
	var raw map[string]any
	md, err := toml.Decode(doc, &raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	var descs []Descriptor
	seen := make(map[string]bool)
	for _, key := range md.Keys() {
		name := key[0]
		if seen[name] {
			continue
		}
		seen[name] = true
		table, ok := raw[name].(map[string]any)
		if !ok {
			if !IsReserved(name) {
				log.Warn().Str("extension", name).Str("type", md.Type(name)).Msg("top-level key is not a table, skipping")
			}
			continue
		}
		descs = append(descs, Descriptor{Name: name, Config: sectionFrom(table)})
	}
	return descs, nil
}
