package config

import (
	"fmt"
	"math/big"
	"os"

	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/zclconf/go-cty/cty"
)

// BlockExtension is the HCL block type that declares one extension:
//
//	extension "auto-darkmode" {
//	  dark_theme  = "rose_pine"
//	  light_theme = "rose_pine_dawn"
//	}
const BlockExtension = "extension"

// HCLFile reads extension declarations from an HCL document. Top-level
// attributes are control settings and never name an extension.
type HCLFile struct {
	FS   afero.Fs
	Path string
}

// NewHCLFile returns an HCL source on the OS filesystem.
func NewHCLFile(path string) *HCLFile {
	return &HCLFile{FS: afero.NewOsFs(), Path: path}
}

// Descriptors parses the document. A missing file yields no descriptors.
func (f *HCLFile) Descriptors() ([]Descriptor, error) {
	fs := f.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}
	data, err := afero.ReadFile(fs, f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("path", f.Path).Msg("extension config not found, no extensions configured")
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrParse, f.Path, err)
	}
	return ParseHCL(data, f.Path)
}

// ParseHCL decodes extension blocks in document order.
func ParseHCL(src []byte, filename string) ([]Descriptor, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: %s", ErrParse, diags.Error())
	}
	body, ok := file.Body.(*hclsyntax.Body)
	if !ok {
		return nil, fmt.Errorf("%w: %s: unexpected body type %T", ErrParse, filename, file.Body)
	}

	var descs []Descriptor
	for _, block := range body.Blocks {
		if block.Type != BlockExtension {
			log.Warn().Str("block", block.Type).Str("path", filename).Msg("ignoring unknown top-level block")
			continue
		}
		if len(block.Labels) != 1 {
			return nil, fmt.Errorf("%w: %s: extension block needs exactly one label, got %d", ErrParse, block.DefRange().String(), len(block.Labels))
		}
		section, err := decodeBody(block.Body)
		if err != nil {
			return nil, fmt.Errorf("extension %q: %w", block.Labels[0], err)
		}
		descs = append(descs, Descriptor{Name: block.Labels[0], Config: section})
	}
	return descs, nil
}

// decodeBody evaluates every attribute without variables or functions and
// nests child blocks under their type name. Repeated child blocks become a list.
func decodeBody(body *hclsyntax.Body) (Section, error) {
	section := make(Section, len(body.Attributes)+len(body.Blocks))
	for name, attr := range body.Attributes {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("%w: %s", ErrParse, diags.Error())
		}
		native, err := ctyToNative(val)
		if err != nil {
			return nil, fmt.Errorf("%w: attribute %q: %w", ErrParse, name, err)
		}
		section[name] = native
	}

	for _, block := range body.Blocks {
		child, err := decodeBody(block.Body)
		if err != nil {
			return nil, err
		}
		var entry any = child
		for i := len(block.Labels) - 1; i >= 0; i-- {
			entry = Section{block.Labels[i]: entry}
		}
		switch prev := section[block.Type].(type) {
		case nil:
			section[block.Type] = entry
		case []any:
			section[block.Type] = append(prev, entry)
		default:
			section[block.Type] = []any{prev, entry}
		}
	}
	return section, nil
}

// ctyToNative converts a cty value to plain Go values: strings, int64 or
// float64, bools, []any and Section.
func ctyToNative(v cty.Value) (any, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, nil
	}
	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil
	case ty == cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == big.Exact {
				return i, nil
			}
		}
		f, _ := bf.Float64()
		return f, nil
	case ty == cty.Bool:
		return v.True(), nil
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		var out []any
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			native, err := ctyToNative(ev)
			if err != nil {
				return nil, err
			}
			out = append(out, native)
		}
		return out, nil
	case ty.IsObjectType() || ty.IsMapType():
		out := make(Section)
		for it := v.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			native, err := ctyToNative(ev)
			if err != nil {
				return nil, fmt.Errorf("in %q: %w", k.AsString(), err)
			}
			out[k.AsString()] = native
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported value type %s", ty.FriendlyName())
}
