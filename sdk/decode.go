package sdk

import (
	"errors"
	"fmt"

	"github.com/go-viper/mapstructure/v2"

	"github.com/bram-dingelstad/helix/config"
)

// ErrMissingField marks a configuration field an extension requires but did
// not receive.
var ErrMissingField = errors.New("sdk: required configuration field missing")

// ConfigError reports a problem with one field of an extension's section.
// It only ever affects the extension that raised it.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config field %q: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Require checks that every key is present and non-nil in section.
func Require(section config.Section, keys ...string) error {
	var errs []error
	for _, key := range keys {
		if v, ok := section.Get(key); !ok || v == nil {
			errs = append(errs, &ConfigError{Field: key, Err: ErrMissingField})
		}
	}
	return errors.Join(errs...)
}

// Decode copies section into out, a pointer to a struct. Fields are matched by
// their `config` tag, falling back to the field name. Durations may be given
// as strings such as "500ms".
func Decode(section config.Section, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "config",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("sdk: decoder: %w", err)
	}
	if err := dec.Decode(map[string]any(section)); err != nil {
		return &ConfigError{Field: "*", Err: err}
	}
	return nil
}
