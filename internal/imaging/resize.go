package imaging

import "github.com/nfnt/resize"

// MaxPreviewSize caps the longer side of any image shipped to the remote
// processor, bounding transfer size and remote compute time.
const MaxPreviewSize = 1024

// Downsample shrinks the buffer so its longer side is at most maxSide,
// preserving aspect ratio with nearest-neighbor sampling. The returned
// scale factor maps downsampled coordinates back to the original
// (1.0 means the input was returned untouched).
func Downsample(src *Buffer, maxSide int) (*Buffer, float64) {
	if maxSide <= 0 {
		maxSide = MaxPreviewSize
	}
	if src.Width <= maxSide && src.Height <= maxSide {
		return src, 1.0
	}

	ratio := float64(maxSide) / float64(src.Width)
	if h := float64(maxSide) / float64(src.Height); h < ratio {
		ratio = h
	}
	newW := int(float64(src.Width) * ratio)
	newH := int(float64(src.Height) * ratio)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	scaled := resize.Resize(uint(newW), uint(newH), src.ToImage(), resize.NearestNeighbor)
	return FromImage(scaled), ratio
}

// Upsample scales the buffer to exactly width x height with
// nearest-neighbor sampling. Used to restore an authoritative result to
// the session's original resolution.
func Upsample(src *Buffer, width, height int) *Buffer {
	if width <= 0 || height <= 0 || (src.Width == width && src.Height == height) {
		return src
	}
	scaled := resize.Resize(uint(width), uint(height), src.ToImage(), resize.NearestNeighbor)
	return FromImage(scaled)
}
