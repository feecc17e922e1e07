// Package profile loads YAML encoding presets that supply per-format
// defaults when a convert request omits quality settings.
package profile

import (
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile holds encoder defaults for one output format.
type Profile struct {
	Quality  int  `yaml:"quality"`
	Lossless bool `yaml:"lossless"`
}

// Set is the full presets document, keyed by canonical format name.
type Set struct {
	DefaultFormat string             `yaml:"defaultFormat"`
	Profiles      map[string]Profile `yaml:"profiles"`
}

// Default returns the built-in presets, matching the original service's
// fixed encoder parameters.
func Default() *Set {
	return &Set{
		DefaultFormat: "jpeg",
		Profiles: map[string]Profile{
			"jpeg": {Quality: 90},
			"png":  {},
			"webp": {Quality: 90},
		},
	}
}

// Load parses a presets file.
func Load(filePath string) (*Set, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return LoadFromReader(file)
}

// LoadFromReader parses presets from an io.Reader. Formats missing from the
// document inherit the built-in defaults.
func LoadFromReader(r io.Reader) (*Set, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	set := Default()
	if err := yaml.Unmarshal(data, set); err != nil {
		return nil, err
	}
	if set.DefaultFormat == "" {
		set.DefaultFormat = "jpeg"
	}
	return set, nil
}

// SetQuality overrides the quality preset for the lossy formats. Out of
// range values are ignored.
func (s *Set) SetQuality(q int) {
	if q < 1 || q > 100 {
		return
	}
	for name, p := range s.Profiles {
		if name == "png" {
			continue
		}
		p.Quality = q
		s.Profiles[name] = p
	}
}

// For returns the preset for a format, falling back to the jpeg preset.
func (s *Set) For(format string) Profile {
	if p, ok := s.Profiles[format]; ok {
		return p
	}
	return s.Profiles["jpeg"]
}
