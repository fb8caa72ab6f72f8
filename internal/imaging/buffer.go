package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
)

// Buffer is a rectangular grid of RGBA samples with byte-quantized channels.
// Transform operators never mutate a Buffer in place; they either return the
// input unchanged (neutral parameters) or return a fresh copy.
type Buffer struct {
	Width  int
	Height int
	Pix    []uint8 // RGBA interleaved, length Width*Height*4
}

// NewBuffer allocates a zeroed buffer of the given dimensions.
func NewBuffer(width, height int) *Buffer {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Buffer{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*4),
	}
}

// Clone returns a deep copy of the buffer.
func (b *Buffer) Clone() *Buffer {
	out := &Buffer{
		Width:  b.Width,
		Height: b.Height,
		Pix:    make([]uint8, len(b.Pix)),
	}
	copy(out.Pix, b.Pix)
	return out
}

// Equal reports byte-for-byte equality of dimensions and pixel data.
func (b *Buffer) Equal(other *Buffer) bool {
	if b == nil || other == nil {
		return b == other
	}
	return b.Width == other.Width && b.Height == other.Height && bytes.Equal(b.Pix, other.Pix)
}

// Bounds mirrors image.Image bounds for interop with the stdlib codecs.
func (b *Buffer) Bounds() image.Rectangle {
	return image.Rect(0, 0, b.Width, b.Height)
}

// SetRGBA writes one pixel. Out-of-range coordinates are ignored.
func (b *Buffer) SetRGBA(x, y int, r, g, bl, a uint8) {
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return
	}
	i := (y*b.Width + x) * 4
	b.Pix[i] = r
	b.Pix[i+1] = g
	b.Pix[i+2] = bl
	b.Pix[i+3] = a
}

// RGBA reads one pixel. Out-of-range coordinates return zero.
func (b *Buffer) RGBA(x, y int) (r, g, bl, a uint8) {
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return 0, 0, 0, 0
	}
	i := (y*b.Width + x) * 4
	return b.Pix[i], b.Pix[i+1], b.Pix[i+2], b.Pix[i+3]
}

// FromImage converts any stdlib image into a Buffer.
func FromImage(img image.Image) *Buffer {
	bounds := img.Bounds()
	out := NewBuffer(bounds.Dx(), bounds.Dy())

	if rgba, ok := img.(*image.RGBA); ok && rgba.Stride == bounds.Dx()*4 {
		copy(out.Pix, rgba.Pix[rgba.PixOffset(bounds.Min.X, bounds.Min.Y):])
		return out
	}

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			out.Pix[i] = c.R
			out.Pix[i+1] = c.G
			out.Pix[i+2] = c.B
			out.Pix[i+3] = c.A
			i += 4
		}
	}
	return out
}

// ToImage copies the buffer into a stdlib RGBA image.
func (b *Buffer) ToImage() *image.RGBA {
	img := image.NewRGBA(b.Bounds())
	copy(img.Pix, b.Pix)
	return img
}

func (b *Buffer) String() string {
	return fmt.Sprintf("imaging.Buffer(%dx%d)", b.Width, b.Height)
}

// clampByte folds a float channel value back into [0,255].
func clampByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}

// lumaOf is the BT.601 luma of one pixel, in the same scale as its inputs.
func lumaOf(r, g, b float64) float64 {
	return 0.299*r + 0.587*g + 0.114*b
}
