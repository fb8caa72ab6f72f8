package imaging

import "math"

// The operators in this file are the approximate, locally-computed
// counterparts of the photographic adjustments performed by the remote
// processor. Every operator returns the input buffer unchanged (no copy)
// when its parameters are at their neutral defaults; otherwise it returns
// a fresh buffer with every channel clamped back into [0,255]. Dimensions
// are always preserved and alpha passes through untouched.

// mapPixels applies fn to every pixel's RGB channels and clamps the result.
func mapPixels(src *Buffer, fn func(r, g, b float64) (float64, float64, float64)) *Buffer {
	out := &Buffer{
		Width:  src.Width,
		Height: src.Height,
		Pix:    make([]uint8, len(src.Pix)),
	}
	for i := 0; i+3 < len(src.Pix); i += 4 {
		r, g, b := fn(float64(src.Pix[i]), float64(src.Pix[i+1]), float64(src.Pix[i+2]))
		out.Pix[i] = clampByte(r)
		out.Pix[i+1] = clampByte(g)
		out.Pix[i+2] = clampByte(b)
		out.Pix[i+3] = src.Pix[i+3]
	}
	return out
}

// Brightness multiplies each RGB channel by factor. Neutral factor is 1.
func Brightness(src *Buffer, factor float64) *Buffer {
	if factor == 1 {
		return src
	}
	return mapPixels(src, func(r, g, b float64) (float64, float64, float64) {
		return r * factor, g * factor, b * factor
	})
}

// Contrast applies out = in*factor + 128*(1-factor). Neutral factor is 1.
func Contrast(src *Buffer, factor float64) *Buffer {
	if factor == 1 {
		return src
	}
	offset := 128 * (1 - factor)
	return mapPixels(src, func(r, g, b float64) (float64, float64, float64) {
		return r*factor + offset, g*factor + offset, b*factor + offset
	})
}

// Saturation blends each pixel toward (factor<1) or away from (factor>1)
// its luma. Neutral factor is 1.
func Saturation(src *Buffer, factor float64) *Buffer {
	if factor == 1 {
		return src
	}
	return mapPixels(src, func(r, g, b float64) (float64, float64, float64) {
		l := lumaOf(r, g, b)
		return l + (r-l)*factor, l + (g-l)*factor, l + (b-l)*factor
	})
}

// ColorAdjust applies brightness, then contrast, then the luma-blend
// saturation in a single pass, matching the combined photographic model
// used when all three parameters arrive together.
func ColorAdjust(src *Buffer, brightness, contrast, saturation float64) *Buffer {
	if brightness == 1 && contrast == 1 && saturation == 1 {
		return src
	}
	offset := 128 * (1 - contrast)
	return mapPixels(src, func(r, g, b float64) (float64, float64, float64) {
		r = r*brightness*contrast + offset
		g = g*brightness*contrast + offset
		b = b*brightness*contrast + offset
		if saturation != 1 {
			l := lumaOf(r, g, b)
			r = l + (r-l)*saturation
			g = l + (g-l)*saturation
			b = l + (b-l)*saturation
		}
		return r, g, b
	})
}

// HueRotate rotates RGB around the luma axis by degrees. Neutral angle is 0.
func HueRotate(src *Buffer, degrees float64) *Buffer {
	if degrees == 0 {
		return src
	}
	rad := degrees * math.Pi / 180
	cosA := math.Cos(rad)
	sinA := math.Sin(rad)

	// Standard hue-rotation matrix around the BT.601 luma axis.
	m := [9]float64{
		0.299 + 0.701*cosA + 0.168*sinA, 0.587 - 0.587*cosA + 0.330*sinA, 0.114 - 0.114*cosA - 0.497*sinA,
		0.299 - 0.299*cosA - 0.328*sinA, 0.587 + 0.413*cosA + 0.035*sinA, 0.114 - 0.114*cosA + 0.292*sinA,
		0.299 - 0.300*cosA + 1.250*sinA, 0.587 - 0.588*cosA - 1.050*sinA, 0.114 + 0.886*cosA - 0.203*sinA,
	}

	return mapPixels(src, func(r, g, b float64) (float64, float64, float64) {
		return m[0]*r + m[1]*g + m[2]*b,
			m[3]*r + m[4]*g + m[5]*b,
			m[6]*r + m[7]*g + m[8]*b
	})
}

// Exposure multiplies RGB by 2^stops. Neutral stops is 0.
func Exposure(src *Buffer, stops float64) *Buffer {
	if stops == 0 {
		return src
	}
	factor := math.Pow(2, stops)
	return mapPixels(src, func(r, g, b float64) (float64, float64, float64) {
		return r * factor, g * factor, b * factor
	})
}

// Sharpen runs an unsharp-style 3x3 convolution. The kernel is
// [[0,-1,0],[-1,5,-1],[0,-1,0]] scaled by |strength|, with the center
// weight interpolated between 1 (strength 0) and 5 (strength 1) so the
// pass fades in smoothly. Edge pixels replicate the border. Neutral
// strength is 0.
func Sharpen(src *Buffer, strength float64) *Buffer {
	if strength == 0 {
		return src
	}
	s := math.Abs(strength)
	if s > 1 {
		s = 1
	}
	center := 1 + 4*s
	edge := -s

	out := &Buffer{
		Width:  src.Width,
		Height: src.Height,
		Pix:    make([]uint8, len(src.Pix)),
	}

	sample := func(x, y, c int) float64 {
		if x < 0 {
			x = 0
		} else if x >= src.Width {
			x = src.Width - 1
		}
		if y < 0 {
			y = 0
		} else if y >= src.Height {
			y = src.Height - 1
		}
		return float64(src.Pix[(y*src.Width+x)*4+c])
	}

	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			i := (y*src.Width + x) * 4
			for c := 0; c < 3; c++ {
				v := center*sample(x, y, c) +
					edge*(sample(x-1, y, c)+sample(x+1, y, c)+sample(x, y-1, c)+sample(x, y+1, c))
				out.Pix[i+c] = clampByte(v)
			}
			out.Pix[i+3] = src.Pix[i+3]
		}
	}
	return out
}

// Temperature warms (positive) or cools (negative) the image. The value is
// normalized by /100 into [-1,1]; warm shifts add up to +20 to red and
// subtract up to 20 from blue, cool does the inverse. Green is unchanged.
// Neutral value is 0.
func Temperature(src *Buffer, value float64) *Buffer {
	if value == 0 {
		return src
	}
	factor := value / 100
	if factor > 1 {
		factor = 1
	} else if factor < -1 {
		factor = -1
	}
	shift := 20 * factor
	return mapPixels(src, func(r, g, b float64) (float64, float64, float64) {
		return r + shift, g, b - shift
	})
}

// Tint shifts toward green (positive) or magenta (negative). The value is
// normalized by /100 into [-1,1]; positive adds up to +15 to green,
// negative adds up to +15 to red and blue equally. Neutral value is 0.
func Tint(src *Buffer, value float64) *Buffer {
	if value == 0 {
		return src
	}
	factor := value / 100
	if factor > 1 {
		factor = 1
	} else if factor < -1 {
		factor = -1
	}
	return mapPixels(src, func(r, g, b float64) (float64, float64, float64) {
		if factor > 0 {
			return r, g + 15*factor, b
		}
		return r + 15*-factor, g, b + 15*-factor
	})
}

// HighlightsShadows scales bright pixels by the highlights amount and dark
// pixels by the shadows amount, weighted by how far the pixel's luma sits
// from the midpoint. Neutral amounts are 0.
func HighlightsShadows(src *Buffer, highlights, shadows float64) *Buffer {
	if highlights == 0 && shadows == 0 {
		return src
	}
	return mapPixels(src, func(r, g, b float64) (float64, float64, float64) {
		l := lumaOf(r, g, b) / 255
		factor := 1.0
		if l > 0.5 {
			factor += highlights * ((l - 0.5) * 2) * 0.01
		} else if l < 0.5 {
			factor += shadows * ((0.5 - l) * 2) * 0.01
		}
		return r * factor, g * factor, b * factor
	})
}

// WhiteBlackPoint pushes near-white pixels toward 255 by the white amount
// and compresses near-black pixels by the black amount. Neutral amounts
// are 0.
func WhiteBlackPoint(src *Buffer, white, black float64) *Buffer {
	if white == 0 && black == 0 {
		return src
	}
	return mapPixels(src, func(r, g, b float64) (float64, float64, float64) {
		l := lumaOf(r, g, b) / 255
		switch {
		case l > 0.8 && white != 0:
			amount := (l - 0.8) / 0.2
			push := amount * white * 0.01
			return r + (255-r)*push, g + (255-g)*push, b + (255-b)*push
		case l < 0.2 && black < 0:
			amount := (0.2 - l) / 0.2
			scale := 1 + amount*black*0.01
			return r * scale, g * scale, b * scale
		}
		return r, g, b
	})
}

// ColorGrade adds per-channel offsets. Neutral offsets are 0.
func ColorGrade(src *Buffer, red, green, blue float64) *Buffer {
	if red == 0 && green == 0 && blue == 0 {
		return src
	}
	return mapPixels(src, func(r, g, b float64) (float64, float64, float64) {
		return r + red, g + green, b + blue
	})
}
