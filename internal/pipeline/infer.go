package pipeline

import (
	"math"
	"strings"

	"github.com/lanse6899/previewd/internal/imaging"
	"github.com/lanse6899/previewd/internal/param"
)

// aliases maps each canonical trigger key to the names it may appear under
// in a snapshot. Matching is case-insensitive and covers the localized
// names the upstream node-graph widgets use.
var aliases = map[string][]string{
	"brightness":  {"brightness", "bright", "亮度"},
	"contrast":    {"contrast", "对比度"},
	"saturation":  {"saturation", "sat", "饱和度"},
	"hue":         {"hue", "hue_rotate", "色相"},
	"exposure":    {"exposure", "曝光"},
	"sharpen":     {"sharpen", "sharpness", "sharpen_strength", "锐化"},
	"temperature": {"temperature", "temp", "color_temperature", "色温"},
	"tint":        {"tint", "色调"},
	"highlights":  {"highlights", "highlight", "高光"},
	"shadows":     {"shadows", "shadow", "阴影"},
	"white":       {"white", "whites", "white_point", "白色"},
	"black":       {"black", "blacks", "black_point", "黑色"},
	"red":         {"red", "红"},
	"green":       {"green", "绿"},
	"blue":        {"blue", "蓝"},
}

// lookup finds the snapshot value for a canonical key via its aliases.
func lookup(snap param.Snapshot, canonical string) (float64, bool) {
	for name := range snap {
		lower := strings.ToLower(name)
		for _, alias := range aliases[canonical] {
			if lower == alias {
				if v, ok := snap.Float(name); ok {
					return v, true
				}
			}
		}
	}
	return 0, false
}

func has(snap param.Snapshot, canonical string) bool {
	_, ok := lookup(snap, canonical)
	return ok
}

func floatOr(snap param.Snapshot, canonical string, fallback float64) float64 {
	if v, ok := lookup(snap, canonical); ok {
		return v
	}
	return fallback
}

// Infer builds the ordered operator pipeline triggered by the snapshot's
// keys. The application order is fixed: exposure, sharpen, temperature,
// tint, highlights/shadows, white/black point, color grading, then the
// combined brightness+contrast+saturation adjustment when all three are
// present (otherwise standalone brightness and contrast), standalone
// saturation when not consumed by the combined pass, and finally hue.
// A nil result signals that no key matched any known operator.
func Infer(snap param.Snapshot) Pipeline {
	var p Pipeline

	add := func(kind Kind) { p = append(p, operatorFor(kind)) }

	if has(snap, "exposure") {
		add(KindExposure)
	}
	if has(snap, "sharpen") {
		add(KindSharpen)
	}
	if has(snap, "temperature") {
		add(KindTemperature)
	}
	if has(snap, "tint") {
		add(KindTint)
	}
	if has(snap, "highlights") || has(snap, "shadows") {
		add(KindHighlightsShadows)
	}
	if has(snap, "white") || has(snap, "black") {
		add(KindWhiteBlackPoint)
	}
	if has(snap, "red") || has(snap, "green") || has(snap, "blue") {
		add(KindColorGrade)
	}

	// The combined adjustment is selected only when saturation arrives
	// together with brightness and contrast, mirroring the single coherent
	// photographic model of the upstream color-adjust node.
	saturationConsumed := false
	switch {
	case has(snap, "brightness") && has(snap, "contrast") && has(snap, "saturation"):
		add(KindColorAdjust)
		saturationConsumed = true
	default:
		if has(snap, "brightness") {
			add(KindBrightness)
		}
		if has(snap, "contrast") {
			add(KindContrast)
		}
	}

	if !saturationConsumed && has(snap, "saturation") {
		add(KindSaturation)
	}
	if has(snap, "hue") {
		add(KindHue)
	}

	return p
}

// GenericAdjust derives a best-effort brightness-like operator from the
// mean absolute magnitude of the snapshot's numeric values, skipping
// values at (or within epsilon of) the common neutral points 0 and 1.
// ok is false when nothing usable remains.
func GenericAdjust(snap param.Snapshot) (Operator, bool) {
	const epsilon = 1e-4

	var sum float64
	var count int
	for name := range snap {
		v, ok := snap.Float(name)
		if !ok {
			continue
		}
		if math.Abs(v) < epsilon || math.Abs(v-1) < epsilon {
			continue
		}
		sum += math.Abs(v)
		count++
	}
	if count == 0 {
		return Operator{}, false
	}

	factor := sum / float64(count)
	if factor < 0.1 {
		factor = 0.1
	} else if factor > 10 {
		factor = 10
	}

	return Operator{
		Kind: KindGeneric,
		Apply: func(b *imaging.Buffer, _ param.Snapshot) *imaging.Buffer {
			return imaging.Brightness(b, factor)
		},
	}, true
}

// Render is the full local approximation path: inferred pipeline first,
// the generic magnitude fallback on an inference miss, and the unmodified
// source when neither yields anything.
func Render(src *imaging.Buffer, snap param.Snapshot) *imaging.Buffer {
	if p := Infer(snap); p != nil {
		return p.Run(src, snap)
	}
	if op, ok := GenericAdjust(snap); ok {
		return op.Apply(src, snap)
	}
	return src
}
