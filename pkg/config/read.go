package config

import (
	"fmt"
	"io"

	"github.com/goccy/go-yaml"
)

var _ io.Reader = (*Config)(nil)
var _ io.ReaderFrom = (*Config)(nil)
var _ yaml.BytesUnmarshaler = (*Config)(nil)

func (cfg *Config) Read(
	b []byte,
) (int, error) {
	return len(b), cfg.UnmarshalYAML(b)
}

// UnmarshalYAML overrides only the values present in b.
func (cfg *Config) UnmarshalYAML(b []byte) error {
	err := yaml.Unmarshal(b, (*config)(cfg))
	if err != nil {
		return fmt.Errorf("unable to unserialize data: %w", err)
	}

	switch cfg.Audio.Input {
	case InputTypePulse, InputTypeSynthetic:
	case InputTypeUndefined:
		cfg.Audio.Input = InputTypePulse
	default:
		return fmt.Errorf("unknown audio input type '%s'", cfg.Audio.Input)
	}

	if cfg.ASR.Overlap >= cfg.ASR.Window {
		return fmt.Errorf("the ASR overlap (%v) must be shorter than the window (%v)", cfg.ASR.Overlap, cfg.ASR.Window)
	}

	return nil
}

func (cfg *Config) ReadFrom(
	r io.Reader,
) (int64, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return int64(len(b)), fmt.Errorf("unable to read: %w", err)
	}

	n, err := cfg.Read(b)
	return int64(n), err
}
