package utils

import (
	"bytes"
	"fmt"
	"io"

	"github.com/disintegration/imaging"
)

const ThumbnailWidth = 320

// MakeThumbnail decodes a jpeg/png photo and returns a jpeg scaled to width, keeping aspect ratio.
func MakeThumbnail(r io.Reader, width int) ([]byte, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode photo: %w", err)
	}
	if img.Bounds().Dx() > width {
		img = imaging.Resize(img, width, 0, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
