// Package preprocess turns decoded images into model input tensors.
package preprocess

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/cassavanet/cassavanet/internal/errors"
)

// DefaultSize is the square input edge of the bundled cassava model.
const DefaultSize = 224

// Channels is the number of colour channels in a tensor (R, G, B).
const Channels = 3

// ErrInvalidImage is returned for a nil image or one with empty bounds.
var ErrInvalidImage = errors.NewStd("invalid image: nil or empty bounds")

// Tensor is a batch-1 NHWC float32 tensor. Data holds Height*Width*Channels
// values, row-major with R, G, B interleaved per pixel, each in [0, 1].
type Tensor struct {
	Data     []float32
	Height   int
	Width    int
	Channels int
}

// Shape returns the tensor shape as [1, Height, Width, Channels].
func (t *Tensor) Shape() []int {
	return []int{1, t.Height, t.Width, t.Channels}
}

// ToTensor stretches img to size x size with bilinear filtering, ignoring
// aspect ratio, and scales every channel byte to [0, 1]. Alpha is dropped.
func ToTensor(img image.Image, size int) (*Tensor, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, errors.New(ErrInvalidImage).
			Component("preprocess").
			Category(errors.CategoryProcessing).
			Build()
	}
	if size <= 0 {
		return nil, errors.Newf("preprocess: invalid target size %d", size).
			Component("preprocess").
			Category(errors.CategoryValidation).
			Build()
	}

	resized := image.NewNRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(resized, resized.Bounds(), img, img.Bounds(), draw.Src, nil)

	data := make([]float32, size*size*Channels)
	for y := range size {
		row := resized.Pix[y*resized.Stride:]
		for x := range size {
			src := row[x*4:]
			dst := data[(y*size+x)*Channels:]
			dst[0] = float32(src[0]) / 255.0
			dst[1] = float32(src[1]) / 255.0
			dst[2] = float32(src[2]) / 255.0
		}
	}

	return &Tensor{
		Data:     data,
		Height:   size,
		Width:    size,
		Channels: Channels,
	}, nil
}

// Rotate returns img rotated clockwise by degrees, which must be 0, 90, 180
// or 270. A zero rotation returns img unchanged.
func Rotate(img image.Image, degrees int) (image.Image, error) {
	if img == nil {
		return nil, ErrInvalidImage
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	var dst *image.NRGBA
	var at func(dx, dy int) (int, int)

	switch degrees {
	case 0:
		return img, nil
	case 90:
		dst = image.NewNRGBA(image.Rect(0, 0, h, w))
		at = func(dx, dy int) (int, int) { return dy, h - 1 - dx }
	case 180:
		dst = image.NewNRGBA(image.Rect(0, 0, w, h))
		at = func(dx, dy int) (int, int) { return w - 1 - dx, h - 1 - dy }
	case 270:
		dst = image.NewNRGBA(image.Rect(0, 0, h, w))
		at = func(dx, dy int) (int, int) { return w - 1 - dy, dx }
	default:
		return nil, errors.Newf("preprocess: unsupported rotation %d, expected 0, 90, 180 or 270", degrees).
			Component("preprocess").
			Category(errors.CategoryValidation).
			Build()
	}

	db := dst.Bounds()
	for dy := range db.Dy() {
		for dx := range db.Dx() {
			sx, sy := at(dx, dy)
			dst.Set(dx, dy, img.At(b.Min.X+sx, b.Min.Y+sy))
		}
	}
	return dst, nil
}

// String describes the tensor shape, e.g. "[1 224 224 3]".
func (t *Tensor) String() string {
	return fmt.Sprint(t.Shape())
}
