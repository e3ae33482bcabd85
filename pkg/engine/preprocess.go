package engine

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "github.com/gen2brain/avif"
	_ "golang.org/x/image/webp"

	"github.com/disintegration/imaging"
)

// DecodeImage reads and decodes an image file. jpeg, png, webp and avif
// decoders are registered.
func DecodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// Preprocess converts an image into the classifier's input tensor: the
// image is scaled so its longer side fits size, centered on a white
// size×size canvas, and emitted as a flat float32 buffer in row-major
// NHWC order with channels reordered to BGR in the 0..255 range. The
// WD tagger family consumes exactly this layout; feeding RGB instead of
// BGR does not error, it silently degrades predictions, so the channel
// order is locked down by tests.
func Preprocess(img image.Image, size int) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	maxDim := max(w, h)
	if maxDim != size && maxDim > 0 {
		scale := float64(size) / float64(maxDim)
		w = int(float64(w)*scale + 0.5)
		h = int(float64(h)*scale + 0.5)
		if w > size {
			w = size
		}
		if h > size {
			h = size
		}
		img = imaging.Resize(img, w, h, imaging.Lanczos)
	}

	canvas := imaging.New(size, size, color.White)
	canvas = imaging.Paste(canvas, img, image.Pt((size-w)/2, (size-h)/2))

	out := make([]float32, size*size*3)
	i := 0
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := canvas.At(x, y).RGBA()
			out[i] = float32(b >> 8)
			out[i+1] = float32(g >> 8)
			out[i+2] = float32(r >> 8)
			i += 3
		}
	}
	return out
}
