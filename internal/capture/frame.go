package capture

import (
	"bytes"

	"github.com/disintegration/imaging"
)

// maxFrameWidth bounds the frame sent to the decode service. Barcodes
// survive downscaling; upload time does not survive full-resolution frames.
const maxFrameWidth = 1280

const jpegQuality = 85

// NormalizeFrame re-encodes a frame as bounded-width JPEG. Bytes that do not
// decode as an image pass through untouched; the decode service gets to
// reject them instead.
func NormalizeFrame(data []byte) []byte {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return data
	}

	if img.Bounds().Dx() > maxFrameWidth {
		img = imaging.Resize(img, maxFrameWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return data
	}
	return buf.Bytes()
}
