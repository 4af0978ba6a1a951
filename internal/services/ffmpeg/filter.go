package ffmpeg

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"ventpipe/internal/capability"
)

// SampleRate is the normalized output rate.
const SampleRate = 16000

// FilterChain renders the ffmpeg audio filter graph for a preset. A
// passthrough preset yields an empty chain.
//
// The formant factor is applied first by resampling (which moves pitch and
// formants together) and restoring tempo; rubberband then corrects pitch to
// the preset's target while preserving the shifted formants. The duration
// factor is applied last.
func FilterChain(p capability.Preset) string {
	if p.Passthrough() {
		return ""
	}
	var filters []string
	formant := factor(p.Formant)
	pitch := factor(p.Pitch)
	if formant != 1 {
		filters = append(filters,
			fmt.Sprintf("asetrate=%d", int(math.Round(SampleRate*formant))),
			fmt.Sprintf("aresample=%d", SampleRate),
			"atempo="+format(1/formant),
		)
		if residual := pitch / formant; !nearlyOne(residual) {
			filters = append(filters, "rubberband=pitch="+format(residual)+":formant=preserved")
		}
	} else if !nearlyOne(pitch) {
		filters = append(filters,
			fmt.Sprintf("asetrate=%d", int(math.Round(SampleRate*pitch))),
			fmt.Sprintf("aresample=%d", SampleRate),
			"atempo="+format(1/pitch),
		)
	}
	if duration := factor(p.Duration); !nearlyOne(duration) {
		filters = append(filters, "atempo="+format(1/duration))
	}
	return strings.Join(filters, ",")
}

func factor(v float64) float64 {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 1
	}
	return v
}

func nearlyOne(v float64) bool {
	return math.Abs(v-1) < 1e-6
}

func format(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
