package preprocess

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/cassavanet/cassavanet/internal/errors"
)

// MaxPixels bounds width*height of an image Decode will allocate. Upload
// limits only bound compressed bytes, and a small PNG can declare a canvas of
// several gigabytes.
const MaxPixels = 40_000_000

// Decode reads a JPEG, PNG, GIF, BMP or WebP image and reports its format.
// Images larger than MaxPixels are rejected from their header.
func Decode(r io.Reader) (image.Image, string, error) {
	var header bytes.Buffer
	br := bufio.NewReader(r)

	cfg, _, err := image.DecodeConfig(io.TeeReader(br, &header))
	if err != nil {
		return nil, "", errors.New(fmt.Errorf("decode image: %w", err)).
			Component("preprocess").
			Category(errors.CategoryImageDecode).
			Build()
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > MaxPixels {
		return nil, "", errors.Newf("decode image: %dx%d exceeds %d pixels", cfg.Width, cfg.Height, MaxPixels).
			Component("preprocess").
			Category(errors.CategoryImageDecode).
			Context("width", cfg.Width).
			Context("height", cfg.Height).
			Build()
	}

	img, format, err := image.Decode(io.MultiReader(&header, br))
	if err != nil {
		return nil, "", errors.New(fmt.Errorf("decode image: %w", err)).
			Component("preprocess").
			Category(errors.CategoryImageDecode).
			Build()
	}
	return img, format, nil
}

// DecodeFile opens and decodes the image at path.
func DecodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(fmt.Errorf("open image: %w", err)).
			Component("preprocess").
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Build()
	}
	defer f.Close()

	img, _, err := Decode(f)
	if err != nil {
		return nil, err
	}
	return img, nil
}

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp"}

// IsImageFile reports whether path has an extension Decode understands.
func IsImageFile(path string) bool {
	return slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(path)))
}
