// Package pipeline infers ordered pixel-transform pipelines from parameter
// snapshots and resolves declared node types to known processors.
package pipeline

import (
	"strings"
	"sync"

	"github.com/lanse6899/previewd/internal/imaging"
	"github.com/lanse6899/previewd/internal/param"
)

// Kind is a capability tag naming one transform operator.
type Kind string

const (
	KindExposure          Kind = "exposure"
	KindSharpen           Kind = "sharpen"
	KindTemperature       Kind = "temperature"
	KindTint              Kind = "tint"
	KindHighlightsShadows Kind = "highlights_shadows"
	KindWhiteBlackPoint   Kind = "white_black_point"
	KindColorGrade        Kind = "color_grade"
	KindColorAdjust       Kind = "color_adjust"
	KindBrightness        Kind = "brightness"
	KindContrast          Kind = "contrast"
	KindSaturation        Kind = "saturation"
	KindHue               Kind = "hue"
	KindGeneric           Kind = "generic"
)

// Operator pairs a capability tag with a pure buffer transform driven by a
// snapshot. Operators are stateless and safe to share.
type Operator struct {
	Kind  Kind
	Apply func(*imaging.Buffer, param.Snapshot) *imaging.Buffer
}

// Pipeline is an ordered operator sequence.
type Pipeline []Operator

// Run applies the operators in order, starting from src. The source buffer
// is never mutated; neutral operators pass buffers through untouched.
func (p Pipeline) Run(src *imaging.Buffer, snap param.Snapshot) *imaging.Buffer {
	out := src
	for _, op := range p {
		out = op.Apply(out, snap)
	}
	return out
}

// operatorFor builds the canonical operator for a capability tag. Both
// per-parameter inference and named-processor resolution share this set so
// a given tag always means the same transform.
func operatorFor(kind Kind) Operator {
	apply := func(fn func(*imaging.Buffer, param.Snapshot) *imaging.Buffer) Operator {
		return Operator{Kind: kind, Apply: fn}
	}

	switch kind {
	case KindExposure:
		return apply(func(b *imaging.Buffer, s param.Snapshot) *imaging.Buffer {
			return imaging.Exposure(b, floatOr(s, "exposure", 0))
		})
	case KindSharpen:
		return apply(func(b *imaging.Buffer, s param.Snapshot) *imaging.Buffer {
			return imaging.Sharpen(b, floatOr(s, "sharpen", 0))
		})
	case KindTemperature:
		return apply(func(b *imaging.Buffer, s param.Snapshot) *imaging.Buffer {
			return imaging.Temperature(b, floatOr(s, "temperature", 0))
		})
	case KindTint:
		return apply(func(b *imaging.Buffer, s param.Snapshot) *imaging.Buffer {
			return imaging.Tint(b, floatOr(s, "tint", 0))
		})
	case KindHighlightsShadows:
		return apply(func(b *imaging.Buffer, s param.Snapshot) *imaging.Buffer {
			return imaging.HighlightsShadows(b, floatOr(s, "highlights", 0), floatOr(s, "shadows", 0))
		})
	case KindWhiteBlackPoint:
		return apply(func(b *imaging.Buffer, s param.Snapshot) *imaging.Buffer {
			return imaging.WhiteBlackPoint(b, floatOr(s, "white", 0), floatOr(s, "black", 0))
		})
	case KindColorGrade:
		return apply(func(b *imaging.Buffer, s param.Snapshot) *imaging.Buffer {
			return imaging.ColorGrade(b, floatOr(s, "red", 0), floatOr(s, "green", 0), floatOr(s, "blue", 0))
		})
	case KindColorAdjust:
		return apply(func(b *imaging.Buffer, s param.Snapshot) *imaging.Buffer {
			return imaging.ColorAdjust(b,
				floatOr(s, "brightness", 1),
				floatOr(s, "contrast", 1),
				floatOr(s, "saturation", 1))
		})
	case KindBrightness:
		return apply(func(b *imaging.Buffer, s param.Snapshot) *imaging.Buffer {
			return imaging.Brightness(b, floatOr(s, "brightness", 1))
		})
	case KindContrast:
		return apply(func(b *imaging.Buffer, s param.Snapshot) *imaging.Buffer {
			return imaging.Contrast(b, floatOr(s, "contrast", 1))
		})
	case KindSaturation:
		return apply(func(b *imaging.Buffer, s param.Snapshot) *imaging.Buffer {
			return imaging.Saturation(b, floatOr(s, "saturation", 1))
		})
	case KindHue:
		return apply(func(b *imaging.Buffer, s param.Snapshot) *imaging.Buffer {
			return imaging.HueRotate(b, floatOr(s, "hue", 0))
		})
	default:
		return apply(func(b *imaging.Buffer, _ param.Snapshot) *imaging.Buffer { return b })
	}
}

// Registry maps declared node type names to operator capability tags.
// Builtin tags are registered at construction; hosts may add their own.
// Resolution tries an exact normalized match first, then falls back to
// case-insensitive substring matching as documented last resort.
type Registry struct {
	mu   sync.RWMutex
	tags map[string]Kind
}

// NewRegistry builds a registry pre-populated with the builtin tags.
func NewRegistry() *Registry {
	r := &Registry{tags: make(map[string]Kind)}
	builtin := map[string]Kind{
		"coloradjust":       KindColorAdjust,
		"colorcorrect":      KindColorAdjust,
		"brightness":        KindBrightness,
		"contrast":          KindContrast,
		"saturation":        KindSaturation,
		"hue":               KindHue,
		"exposure":          KindExposure,
		"sharpen":           KindSharpen,
		"temperature":       KindTemperature,
		"whitebalance":      KindTemperature,
		"tint":              KindTint,
		"highlightsshadows": KindHighlightsShadows,
		"levels":            KindWhiteBlackPoint,
		"colorgrade":        KindColorGrade,
		"colorbalance":      KindColorGrade,
	}
	for tag, kind := range builtin {
		r.tags[tag] = kind
	}
	return r
}

// Register binds a normalized tag to the capability it should resolve to.
func (r *Registry) Register(tag string, kind Kind) {
	normalized := normalizeTag(tag)
	if normalized == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags[normalized] = kind
}

// Resolve maps a declared type name to its processor operator. ok is false
// when no tag matches either exactly or as a substring.
func (r *Registry) Resolve(typeName string) (Operator, bool) {
	normalized := normalizeTag(typeName)
	if normalized == "" {
		return Operator{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if kind, ok := r.tags[normalized]; ok {
		return operatorFor(kind), true
	}

	// Substring fallback: prefer the longest matching tag so e.g.
	// "coloradjust" wins over "hue" inside "MyColorAdjustHueNode".
	var bestTag string
	var bestKind Kind
	for tag, kind := range r.tags {
		if strings.Contains(normalized, tag) && len(tag) > len(bestTag) {
			bestTag = tag
			bestKind = kind
		}
	}
	if bestTag == "" {
		return Operator{}, false
	}
	return operatorFor(bestKind), true
}

func normalizeTag(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r > 127 {
			b.WriteRune(r)
		}
	}
	return b.String()
}
