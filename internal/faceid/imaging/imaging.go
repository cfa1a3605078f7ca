// Package imaging decodes uploaded images and normalizes them for face detection.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxEdge  = 1024
	DefaultMaxBytes = 10 << 20
	jpegQuality     = 90
)

var (
	ErrEmpty    = errors.New("image is empty")
	ErrTooLarge = errors.New("image exceeds size limit")
)

// Normalizer turns arbitrary image bytes into something a face model can read.
type Normalizer interface {
	Normalize(data []byte) ([]byte, error)
}

// JPEGNormalizer decodes any supported format, downsizes the image so that its
// longest edge is at most MaxEdge and re-encodes it as JPEG.
type JPEGNormalizer struct {
	MaxEdge  int
	MaxBytes int
}

// NewJPEGNormalizer creates a normalizer, substituting defaults for non-positive limits.
func NewJPEGNormalizer(maxEdge, maxBytes int) *JPEGNormalizer {
	if maxEdge <= 0 {
		maxEdge = DefaultMaxEdge
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &JPEGNormalizer{MaxEdge: maxEdge, MaxBytes: maxBytes}
}

// Decode decodes image bytes in any registered format.
func (n *JPEGNormalizer) Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if n.MaxBytes > 0 && len(data) > n.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// Normalize implements Normalizer.
func (n *JPEGNormalizer) Normalize(data []byte) ([]byte, error) {
	img, err := n.Decode(data)
	if err != nil {
		return nil, err
	}

	img = Fit(img, n.MaxEdge)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// Fit scales img down so that neither edge exceeds maxEdge, keeping aspect ratio.
func Fit(img image.Image, maxEdge int) image.Image {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if maxEdge <= 0 || (width <= maxEdge && height <= maxEdge) {
		return img
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxEdge
		newHeight = max(1, int(float64(height)*float64(maxEdge)/float64(width)))
	} else {
		newHeight = maxEdge
		newWidth = max(1, int(float64(width)*float64(maxEdge)/float64(height)))
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
	return resized
}

// DetectMIMEType detects the MIME type from magic bytes.
func DetectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// GIF: 47 49 46 38
	if data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x38 {
		return "image/gif"
	}
	// WebP: RIFF....WEBP
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP" {
		return "image/webp"
	}
	return "application/octet-stream"
}
