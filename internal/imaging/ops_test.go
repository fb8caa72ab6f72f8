package imaging

import (
	"math"
	"testing"
)

// gradientBuffer builds a deterministic buffer exercising the full channel range.
func gradientBuffer(width, height int) *Buffer {
	buf := NewBuffer(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			buf.SetRGBA(x, y,
				uint8((x*7+y*13)%256),
				uint8((x*31+y*3)%256),
				uint8((x*5+y*17)%256),
				255)
		}
	}
	return buf
}

func TestOperatorsNeutralNoOp(t *testing.T) {
	src := gradientBuffer(16, 16)

	cases := []struct {
		name  string
		apply func(*Buffer) *Buffer
	}{
		{"brightness", func(b *Buffer) *Buffer { return Brightness(b, 1) }},
		{"contrast", func(b *Buffer) *Buffer { return Contrast(b, 1) }},
		{"saturation", func(b *Buffer) *Buffer { return Saturation(b, 1) }},
		{"color_adjust", func(b *Buffer) *Buffer { return ColorAdjust(b, 1, 1, 1) }},
		{"hue", func(b *Buffer) *Buffer { return HueRotate(b, 0) }},
		{"exposure", func(b *Buffer) *Buffer { return Exposure(b, 0) }},
		{"sharpen", func(b *Buffer) *Buffer { return Sharpen(b, 0) }},
		{"temperature", func(b *Buffer) *Buffer { return Temperature(b, 0) }},
		{"tint", func(b *Buffer) *Buffer { return Tint(b, 0) }},
		{"highlights_shadows", func(b *Buffer) *Buffer { return HighlightsShadows(b, 0, 0) }},
		{"white_black_point", func(b *Buffer) *Buffer { return WhiteBlackPoint(b, 0, 0) }},
		{"color_grade", func(b *Buffer) *Buffer { return ColorGrade(b, 0, 0, 0) }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := tc.apply(src)
			if out != src {
				t.Fatal("neutral parameters must return the input buffer unchanged")
			}
			if !out.Equal(src) {
				t.Fatal("neutral output differs from input")
			}
		})
	}
}

func TestOperatorsPreserveDimensionsAndAlpha(t *testing.T) {
	src := gradientBuffer(9, 7)
	src.SetRGBA(3, 3, 10, 20, 30, 128)

	outputs := []*Buffer{
		Brightness(src, 3.5),
		Contrast(src, 0.2),
		Saturation(src, 2),
		ColorAdjust(src, 1.4, 0.8, 1.6),
		HueRotate(src, 133),
		Exposure(src, -2),
		Sharpen(src, 0.9),
		Temperature(src, 80),
		Tint(src, -60),
		HighlightsShadows(src, 90, -70),
		WhiteBlackPoint(src, 50, -40),
		ColorGrade(src, 120, -90, 60),
	}

	for i, out := range outputs {
		if out == src {
			t.Fatalf("output %d: non-neutral operator must not return input in place", i)
		}
		if out.Width != src.Width || out.Height != src.Height {
			t.Fatalf("output %d: dimensions changed to %dx%d", i, out.Width, out.Height)
		}
		if _, _, _, a := out.RGBA(3, 3); a != 128 {
			t.Fatalf("output %d: alpha changed to %d", i, a)
		}
	}
	if r, g, b, _ := src.RGBA(3, 3); r != 10 || g != 20 || b != 30 {
		t.Fatal("source buffer was mutated by an operator")
	}
}

func TestBrightnessScalesAndClamps(t *testing.T) {
	src := NewBuffer(1, 1)
	src.SetRGBA(0, 0, 100, 150, 250, 255)

	out := Brightness(src, 1.2)
	if r, g, b, _ := out.RGBA(0, 0); r != 120 || g != 180 || b != 255 {
		t.Fatalf("got %d,%d,%d; want 120,180,255", r, g, b)
	}

	dark := Brightness(src, 0)
	if r, g, b, _ := dark.RGBA(0, 0); r != 0 || g != 0 || b != 0 {
		t.Fatalf("factor 0 should clamp to black, got %d,%d,%d", r, g, b)
	}
}

func TestContrastFormula(t *testing.T) {
	src := NewBuffer(1, 1)
	src.SetRGBA(0, 0, 100, 128, 200, 255)

	out := Contrast(src, 1.1)
	want := func(in float64) uint8 { return clampByte(in*1.1 + 128*(1-1.1)) }
	r, g, b, _ := out.RGBA(0, 0)
	if r != want(100) || g != want(128) || b != want(200) {
		t.Fatalf("got %d,%d,%d; want %d,%d,%d", r, g, b, want(100), want(128), want(200))
	}
	if g != 128 {
		t.Fatal("mid-gray must be a fixed point of the contrast transform")
	}
}

func TestSaturationZeroDesaturates(t *testing.T) {
	src := NewBuffer(1, 1)
	src.SetRGBA(0, 0, 200, 50, 10, 255)

	out := Saturation(src, 0)
	r, g, b, _ := out.RGBA(0, 0)
	if r != g || g != b {
		t.Fatalf("saturation 0 must produce gray, got %d,%d,%d", r, g, b)
	}
	wantLuma := clampByte(0.299*200 + 0.587*50 + 0.114*10)
	if r != wantLuma {
		t.Fatalf("gray level %d, want luma %d", r, wantLuma)
	}
}

func TestColorAdjustSinglePass(t *testing.T) {
	src := NewBuffer(1, 1)
	src.SetRGBA(0, 0, 100, 100, 100, 255)

	// Gray input is saturation-invariant, so only brightness+contrast act.
	out := ColorAdjust(src, 1.2, 1.1, 3)
	want := clampByte(100*1.2*1.1 + 128*(1-1.1))
	if r, g, b, _ := out.RGBA(0, 0); r != want || g != want || b != want {
		t.Fatalf("got %d,%d,%d; want %d", r, g, b, want)
	}
}

func TestHueRotatePrimaries(t *testing.T) {
	src := NewBuffer(1, 1)
	src.SetRGBA(0, 0, 255, 0, 0, 255)

	out := HueRotate(src, 120)
	r, g, b, _ := out.RGBA(0, 0)
	if int(g) <= int(r) || int(g) <= int(b) {
		t.Fatalf("red rotated 120 degrees should be green-dominant, got %d,%d,%d", r, g, b)
	}

	full := HueRotate(src, 360)
	fr, fg, fb, _ := full.RGBA(0, 0)
	if math.Abs(float64(fr)-255) > 2 || float64(fg) > 2 || float64(fb) > 2 {
		t.Fatalf("360 degree rotation should approximate identity, got %d,%d,%d", fr, fg, fb)
	}
}

func TestExposureStops(t *testing.T) {
	src := NewBuffer(1, 1)
	src.SetRGBA(0, 0, 60, 100, 200, 255)

	out := Exposure(src, 1)
	if r, g, b, _ := out.RGBA(0, 0); r != 120 || g != 200 || b != 255 {
		t.Fatalf("one stop up: got %d,%d,%d; want 120,200,255", r, g, b)
	}

	down := Exposure(src, -1)
	if r, _, _, _ := down.RGBA(0, 0); r != 30 {
		t.Fatalf("one stop down: got red %d, want 30", r)
	}
}

func TestSharpenUniformRegionStable(t *testing.T) {
	src := NewBuffer(8, 8)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			src.SetRGBA(x, y, 90, 90, 90, 255)
		}
	}

	out := Sharpen(src, 0.7)
	if r, g, b, _ := out.RGBA(4, 4); r != 90 || g != 90 || b != 90 {
		t.Fatalf("uniform region must be unchanged, got %d,%d,%d", r, g, b)
	}
}

func TestSharpenBoostsEdges(t *testing.T) {
	src := NewBuffer(3, 1)
	src.SetRGBA(0, 0, 0, 0, 0, 255)
	src.SetRGBA(1, 0, 200, 200, 200, 255)
	src.SetRGBA(2, 0, 0, 0, 0, 255)

	out := Sharpen(src, 1)
	if r, _, _, _ := out.RGBA(1, 0); r != 255 {
		t.Fatalf("bright edge pixel should clamp to 255, got %d", r)
	}
}

func TestTemperatureShiftsRedBlue(t *testing.T) {
	src := NewBuffer(1, 1)
	src.SetRGBA(0, 0, 100, 100, 100, 255)

	warm := Temperature(src, 50)
	if r, g, b, _ := warm.RGBA(0, 0); r != 110 || g != 100 || b != 90 {
		t.Fatalf("warm: got %d,%d,%d; want 110,100,90", r, g, b)
	}

	cool := Temperature(src, -100)
	if r, g, b, _ := cool.RGBA(0, 0); r != 80 || g != 100 || b != 120 {
		t.Fatalf("cool: got %d,%d,%d; want 80,100,120", r, g, b)
	}
}

func TestTintGreenMagenta(t *testing.T) {
	src := NewBuffer(1, 1)
	src.SetRGBA(0, 0, 100, 100, 100, 255)

	green := Tint(src, 100)
	if r, g, b, _ := green.RGBA(0, 0); r != 100 || g != 115 || b != 100 {
		t.Fatalf("green tint: got %d,%d,%d; want 100,115,100", r, g, b)
	}

	magenta := Tint(src, -100)
	if r, g, b, _ := magenta.RGBA(0, 0); r != 115 || g != 100 || b != 115 {
		t.Fatalf("magenta tint: got %d,%d,%d; want 115,100,115", r, g, b)
	}
}

func TestHighlightsShadowsSplit(t *testing.T) {
	src := NewBuffer(2, 1)
	src.SetRGBA(0, 0, 220, 220, 220, 255) // luma ~0.86
	src.SetRGBA(1, 0, 40, 40, 40, 255)    // luma ~0.16

	out := HighlightsShadows(src, -50, 50)

	hr, _, _, _ := out.RGBA(0, 0)
	if hr >= 220 {
		t.Fatalf("negative highlights should darken bright pixel, got %d", hr)
	}
	sr, _, _, _ := out.RGBA(1, 0)
	if sr <= 40 {
		t.Fatalf("positive shadows should lift dark pixel, got %d", sr)
	}
}

func TestWhiteBlackPoint(t *testing.T) {
	src := NewBuffer(2, 1)
	src.SetRGBA(0, 0, 240, 240, 240, 255) // luma ~0.94
	src.SetRGBA(1, 0, 20, 20, 20, 255)    // luma ~0.08

	out := WhiteBlackPoint(src, 100, -100)

	wr, _, _, _ := out.RGBA(0, 0)
	if wr <= 240 {
		t.Fatalf("white point should push bright pixel toward 255, got %d", wr)
	}
	br, _, _, _ := out.RGBA(1, 0)
	if br >= 20 {
		t.Fatalf("negative black point should crush dark pixel, got %d", br)
	}

	// Positive black values are ignored by contract.
	same := WhiteBlackPoint(src, 0, 50)
	if r, _, _, _ := same.RGBA(1, 0); r != 20 {
		t.Fatalf("positive black point must not alter dark pixel, got %d", r)
	}
}

func TestColorGradeOffsets(t *testing.T) {
	src := NewBuffer(1, 1)
	src.SetRGBA(0, 0, 100, 100, 250, 255)

	out := ColorGrade(src, 20, -30, 10)
	if r, g, b, _ := out.RGBA(0, 0); r != 120 || g != 70 || b != 255 {
		t.Fatalf("got %d,%d,%d; want 120,70,255", r, g, b)
	}
}
