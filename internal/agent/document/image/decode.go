package image

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/heic"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/feichai0017/document-recognizer/internal/models"
)

// Decode turns raw image bytes into an NRGBA raster. HEIC/HEIF photos (the
// iPhone default) go through a dedicated decoder.
func Decode(data []byte, mimeType string) (*image.NRGBA, error) {
	var (
		img image.Image
		err error
	)
	if isHEIC(data, mimeType) {
		img, err = heic.Decode(bytes.NewReader(data))
	} else {
		img, _, err = image.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode image: %v", models.ErrInvalidImage, err)
	}

	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: image has zero dimensions", models.ErrInvalidImage)
	}
	return imaging.Clone(img), nil
}

func isHEIC(data []byte, mimeType string) bool {
	mt := strings.ToLower(mimeType)
	if mt == "image/heic" || mt == "image/heif" {
		return true
	}
	// ISO BMFF "ftyp" box with a HEIF brand
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "hevc", "hevx", "mif1", "msf1":
		return true
	}
	return false
}

// DecodeConfig reads the image dimensions without decoding the pixels.
func DecodeConfig(data []byte, mimeType string) (image.Config, error) {
	var (
		cfg image.Config
		err error
	)
	if isHEIC(data, mimeType) {
		cfg, err = heic.DecodeConfig(bytes.NewReader(data))
	} else {
		cfg, _, err = image.DecodeConfig(bytes.NewReader(data))
	}
	if err != nil {
		return image.Config{}, fmt.Errorf("%w: failed to read image header: %v", models.ErrInvalidImage, err)
	}
	return cfg, nil
}
