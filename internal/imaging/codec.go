package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // decoded transparently alongside JPEG
	"strings"
)

// DefaultJPEGQuality matches the quality the remote processor encodes with.
const DefaultJPEGQuality = 85

// ErrDecode indicates image bytes (or their data-URI wrapper) failed to decode.
var ErrDecode = errors.New("imaging: decode failed")

const dataURIPrefix = "data:image/jpeg;base64,"

// EncodeDataURI serialises the buffer as a base64 JPEG data URI. Alpha is
// composited onto a white background first, the way the remote processor
// flattens RGBA before JPEG encoding.
func EncodeDataURI(buf *Buffer, quality int) (string, error) {
	if buf == nil || buf.Width == 0 || buf.Height == 0 {
		return "", fmt.Errorf("imaging: encode empty buffer")
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	img := image.NewRGBA(buf.Bounds())
	for i := 0; i+3 < len(buf.Pix); i += 4 {
		a := float64(buf.Pix[i+3]) / 255
		img.Pix[i] = clampByte(float64(buf.Pix[i])*a + 255*(1-a))
		img.Pix[i+1] = clampByte(float64(buf.Pix[i+1])*a + 255*(1-a))
		img.Pix[i+2] = clampByte(float64(buf.Pix[i+2])*a + 255*(1-a))
		img.Pix[i+3] = 255
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("imaging: encode jpeg: %w", err)
	}
	return dataURIPrefix + base64.StdEncoding.EncodeToString(out.Bytes()), nil
}

// DecodeDataURI parses a data-URI (or bare base64) image payload into a
// Buffer. JPEG and PNG payloads are accepted regardless of the media type
// the URI declares.
func DecodeDataURI(data string) (*Buffer, error) {
	payload := data
	if strings.HasPrefix(payload, "data:image") {
		idx := strings.IndexByte(payload, ',')
		if idx < 0 {
			return nil, fmt.Errorf("%w: malformed data URI", ErrDecode)
		}
		payload = payload[idx+1:]
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return FromImage(img), nil
}
