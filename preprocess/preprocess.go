// Package preprocess prepares a raw capture for OCR. The transform chain is
// fixed and deterministic: identical input and parameters always produce
// byte-identical output, so a recognized fragment can be traced back to the
// transform that produced its source image.
package preprocess

import (
	"errors"
	"image"

	"github.com/disintegration/imaging"
)

// Transform identifiers, in chain order.
const (
	TransformGrayscale = "grayscale"
	TransformThreshold = "adaptive-threshold"
	TransformDenoise   = "denoise"
	TransformSharpen   = "sharpen"
	TransformContrast  = "contrast"
)

// ErrInvalidImage reports a capture the chain cannot process.
var ErrInvalidImage = errors.New("invalid image: zero dimensions")

// Chain tuning. Window and offset follow the usual adaptive-threshold
// parameters for screen text; blur and sharpen sigmas are mild so glyph
// edges survive.
const (
	thresholdWindow = 11
	thresholdOffset = 2
	denoiseSigma    = 0.6
	sharpenSigma    = 1.0
	contrastPercent = 20.0
)

// Variant is a preprocessed candidate image tagged with the transform that
// produced it.
type Variant struct {
	Image     *image.NRGBA
	Transform string
}

// Run applies the chain to img and returns candidate images for OCR, final
// output first. candidates > 1 additionally returns the latest intermediate
// stages (at most one variant per stage) to improve recall on captures where
// hard binarization hurts.
func Run(img image.Image, candidates int) ([]Variant, error) {
	if img == nil {
		return nil, ErrInvalidImage
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, ErrInvalidImage
	}

	gray := imaging.Grayscale(img)
	thresh := adaptiveThreshold(gray, thresholdWindow, thresholdOffset)
	denoised := imaging.Blur(thresh, denoiseSigma)
	sharpened := imaging.Sharpen(denoised, sharpenSigma)
	enhanced := imaging.AdjustContrast(sharpened, contrastPercent)

	chain := []Variant{
		{Image: enhanced, Transform: TransformContrast},
		{Image: sharpened, Transform: TransformSharpen},
		{Image: denoised, Transform: TransformDenoise},
		{Image: thresh, Transform: TransformThreshold},
		{Image: gray, Transform: TransformGrayscale},
	}

	if candidates < 1 {
		candidates = 1
	}
	if candidates > len(chain) {
		candidates = len(chain)
	}
	return chain[:candidates], nil
}

// adaptiveThreshold binarizes a grayscale image against the mean of a
// window x window neighborhood minus offset, via a summed-area table.
// Input must already be grayscale (R=G=B).
func adaptiveThreshold(src *image.NRGBA, window, offset int) *image.NRGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := imaging.Clone(src)

	// integral[y][x] = sum of pixels in [0,x) x [0,y)
	integral := make([][]int64, h+1)
	for y := range integral {
		integral[y] = make([]int64, w+1)
	}
	for y := 0; y < h; y++ {
		var rowSum int64
		for x := 0; x < w; x++ {
			rowSum += int64(src.Pix[y*src.Stride+x*4])
			integral[y+1][x+1] = integral[y][x+1] + rowSum
		}
	}

	half := window / 2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			x0, y0 := x-half, y-half
			x1, y1 := x+half+1, y+half+1
			if x0 < 0 {
				x0 = 0
			}
			if y0 < 0 {
				y0 = 0
			}
			if x1 > w {
				x1 = w
			}
			if y1 > h {
				y1 = h
			}
			area := int64((x1 - x0) * (y1 - y0))
			sum := integral[y1][x1] - integral[y0][x1] - integral[y1][x0] + integral[y0][x0]

			v := uint8(0)
			if int64(src.Pix[y*src.Stride+x*4])*area > (sum - int64(offset)*area) {
				v = 255
			}
			i := y*dst.Stride + x*4
			dst.Pix[i+0] = v
			dst.Pix[i+1] = v
			dst.Pix[i+2] = v
			dst.Pix[i+3] = 255
		}
	}
	return dst
}
