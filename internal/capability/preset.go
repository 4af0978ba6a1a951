package capability

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"ventpipe/internal/services"
)

// Preset is a named, immutable anonymization mode.
//
// Pitch multiplies the fundamental frequency, Formant scales the vocal tract
// resonances independently of pitch, and Duration stretches the recording
// (above 1 is slower).
type Preset struct {
	ID       int
	Name     string
	Pitch    float64
	Formant  float64
	Duration float64
}

// Passthrough reports whether the preset leaves audio unchanged.
func (p Preset) Passthrough() bool {
	return p.ID == 0
}

// PresetNone leaves audio untouched. It is only accepted when passthrough is
// allowed by configuration.
var PresetNone = Preset{ID: 0, Name: "none", Pitch: 1, Formant: 1, Duration: 1}

var presets = []Preset{
	{ID: 1, Name: "pitch-shift-lo", Pitch: 0.82, Formant: 1.0, Duration: 1.0},
	{ID: 2, Name: "pitch-shift-hi", Pitch: 1.22, Formant: 1.0, Duration: 1.0},
	{ID: 3, Name: "deep-formant", Pitch: 0.92, Formant: 0.84, Duration: 1.0},
	{ID: 4, Name: "bright-formant", Pitch: 1.08, Formant: 1.16, Duration: 1.0},
	{ID: 5, Name: "slow-mask", Pitch: 0.9, Formant: 0.94, Duration: 1.12},
	{ID: 6, Name: "fast-mask", Pitch: 1.1, Formant: 1.06, Duration: 0.9},
}

// Presets returns the six anonymization presets ordered by id.
func Presets() []Preset {
	out := append([]Preset(nil), presets...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LookupPreset resolves a preset by name or numeric id. Unknown presets are
// validation errors.
func LookupPreset(value string, allowPassthrough bool) (Preset, error) {
	key := strings.ToLower(strings.TrimSpace(value))
	if key == "" {
		return Preset{}, services.Wrap(services.ErrValidation, "anonymize", "lookup preset", "preset is required", nil)
	}
	if key == PresetNone.Name || key == "0" {
		if !allowPassthrough {
			return Preset{}, services.Wrap(services.ErrValidation, "anonymize", "lookup preset", "passthrough preset is disabled", nil)
		}
		return PresetNone, nil
	}
	if id, err := strconv.Atoi(key); err == nil {
		for _, p := range presets {
			if p.ID == id {
				return p, nil
			}
		}
	}
	for _, p := range presets {
		if p.Name == key {
			return p, nil
		}
	}
	return Preset{}, services.Wrap(services.ErrValidation, "anonymize", "lookup preset", fmt.Sprintf("unknown preset %q", value), nil)
}
