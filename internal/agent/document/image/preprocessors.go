package image

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// Operation names one raster operation of the pipeline.
type Operation string

const (
	OpAutoRotate Operation = "auto-rotate"
	OpResize     Operation = "resize"
	OpContrast   Operation = "contrast"
	OpDenoise    Operation = "denoise"
	OpSharpen    Operation = "sharpen"
	OpBinarize   Operation = "binarize"
)

// ImagePreprocessor is one step of the enhancement chain. Implementations never
// modify their input and always return a fresh buffer.
type ImagePreprocessor interface {
	Operation() Operation
	Process(img *image.NRGBA) (*image.NRGBA, error)
}

// conditional steps may decline to run for a given image (e.g. a resize
// bounded by a max width on an image that is already narrower).
type conditional interface {
	Applies(img *image.NRGBA) bool
}

// AutoRotateProcessor rotates landscape images 90° clockwise once when
// width/height exceeds Ratio. This is an aspect-ratio heuristic, not
// orientation detection: legitimately wide documents get rotated too.
type AutoRotateProcessor struct {
	Ratio float64
}

func NewAutoRotateProcessor() *AutoRotateProcessor {
	return &AutoRotateProcessor{Ratio: 1.5}
}

func (p *AutoRotateProcessor) Operation() Operation { return OpAutoRotate }

func (p *AutoRotateProcessor) Applies(img *image.NRGBA) bool {
	b := img.Bounds()
	return b.Dy() > 0 && float64(b.Dx())/float64(b.Dy()) > p.Ratio
}

func (p *AutoRotateProcessor) Process(img *image.NRGBA) (*image.NRGBA, error) {
	// imaging rotates counter-clockwise
	return imaging.Rotate270(img), nil
}

// ResizeProcessor scales to Width x Height. With MaintainAspectRatio a zero
// dimension is derived from the other. ShrinkOnly turns Width/Height into
// upper bounds.
type ResizeProcessor struct {
	Width               int
	Height              int
	MaintainAspectRatio bool
	ShrinkOnly          bool
}

func NewResizeProcessor(width, height int, keepAspect bool) *ResizeProcessor {
	return &ResizeProcessor{Width: width, Height: height, MaintainAspectRatio: keepAspect}
}

// NewMaxWidthProcessor only ever shrinks, keeping the aspect ratio.
func NewMaxWidthProcessor(maxWidth int) *ResizeProcessor {
	return &ResizeProcessor{Width: maxWidth, MaintainAspectRatio: true, ShrinkOnly: true}
}

func (p *ResizeProcessor) Operation() Operation { return OpResize }

func (p *ResizeProcessor) Applies(img *image.NRGBA) bool {
	w, h := p.target(img.Bounds().Dx(), img.Bounds().Dy())
	return w > 0 && h > 0 && (w != img.Bounds().Dx() || h != img.Bounds().Dy())
}

func (p *ResizeProcessor) target(srcW, srcH int) (int, int) {
	w, h := p.Width, p.Height
	if p.ShrinkOnly {
		if w > 0 && srcW <= w {
			w = srcW
		}
		if h > 0 && srcH <= h {
			h = srcH
		}
	}
	if p.MaintainAspectRatio {
		switch {
		case w > 0 && h == 0:
			h = int(math.Round(float64(srcH) * float64(w) / float64(srcW)))
		case h > 0 && w == 0:
			w = int(math.Round(float64(srcW) * float64(h) / float64(srcH)))
		}
	}
	if w > 0 && h <= 0 {
		h = srcH
	}
	if h > 0 && w <= 0 {
		w = srcW
	}
	return max(w, 0), max(h, 0)
}

// Process downsamples with a box filter (area average) and upsamples
// bilinearly; nearest-neighbour aliasing hurts recognition.
func (p *ResizeProcessor) Process(img *image.NRGBA) (*image.NRGBA, error) {
	srcW, srcH := img.Bounds().Dx(), img.Bounds().Dy()
	w, h := p.target(srcW, srcH)
	if w == 0 || h == 0 || (w == srcW && h == srcH) {
		return imaging.Clone(img), nil
	}
	filter := imaging.Box
	if w > srcW || h > srcH {
		filter = imaging.Linear
	}
	return imaging.Resize(img, w, h, filter), nil
}

// ContrastProcessor stretches each colour channel around 128 by Gain.
type ContrastProcessor struct {
	Gain float64
}

func NewContrastProcessor() *ContrastProcessor {
	return &ContrastProcessor{Gain: 1.3}
}

func (p *ContrastProcessor) Operation() Operation { return OpContrast }

func (p *ContrastProcessor) Process(img *image.NRGBA) (*image.NRGBA, error) {
	var lut [256]uint8
	for v := range lut {
		lut[v] = clamp((float64(v)-128)*p.Gain + 128)
	}
	out := imaging.Clone(img)
	for i := 0; i < len(out.Pix); i += 4 {
		out.Pix[i] = lut[out.Pix[i]]
		out.Pix[i+1] = lut[out.Pix[i+1]]
		out.Pix[i+2] = lut[out.Pix[i+2]]
	}
	return out, nil
}

// DenoiseProcessor applies a 3x3 median per RGB channel to interior pixels.
type DenoiseProcessor struct{}

func NewDenoiseProcessor() *DenoiseProcessor {
	return &DenoiseProcessor{}
}

func (p *DenoiseProcessor) Operation() Operation { return OpDenoise }

func (p *DenoiseProcessor) Process(img *image.NRGBA) (*image.NRGBA, error) {
	src := imaging.Clone(img)
	out := imaging.Clone(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	var window [9]uint8
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			o := y*out.Stride + x*4
			for c := 0; c < 3; c++ {
				k := 0
				for dy := -1; dy <= 1; dy++ {
					row := (y+dy)*src.Stride + c
					for dx := -1; dx <= 1; dx++ {
						window[k] = src.Pix[row+(x+dx)*4]
						k++
					}
				}
				out.Pix[o+c] = median9(window)
			}
		}
	}
	return out, nil
}

func median9(w [9]uint8) uint8 {
	// insertion sort on a fixed window
	for i := 1; i < len(w); i++ {
		v := w[i]
		j := i - 1
		for j >= 0 && w[j] > v {
			w[j+1] = w[j]
			j--
		}
		w[j+1] = v
	}
	return w[4]
}

// SharpenProcessor convolves interior pixels with [0,-1,0; -1,5,-1; 0,-1,0].
type SharpenProcessor struct{}

func NewSharpenProcessor() *SharpenProcessor {
	return &SharpenProcessor{}
}

func (p *SharpenProcessor) Operation() Operation { return OpSharpen }

func (p *SharpenProcessor) Process(img *image.NRGBA) (*image.NRGBA, error) {
	src := imaging.Clone(img)
	out := imaging.Clone(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			o := y*src.Stride + x*4
			for c := 0; c < 3; c++ {
				i := o + c
				v := 5*int(src.Pix[i]) -
					int(src.Pix[i-src.Stride]) -
					int(src.Pix[i+src.Stride]) -
					int(src.Pix[i-4]) -
					int(src.Pix[i+4])
				out.Pix[i] = clamp(float64(v))
			}
		}
	}
	return out, nil
}

// BinarizeProcessor thresholds the unweighted RGB mean with Otsu's method.
// Pixels above the threshold turn white, the rest black; alpha is kept.
type BinarizeProcessor struct{}

func NewBinarizeProcessor() *BinarizeProcessor {
	return &BinarizeProcessor{}
}

func (p *BinarizeProcessor) Operation() Operation { return OpBinarize }

func (p *BinarizeProcessor) Process(img *image.NRGBA) (*image.NRGBA, error) {
	out := imaging.Clone(img)
	t := OtsuThreshold(Histogram(out))
	for i := 0; i < len(out.Pix); i += 4 {
		v := uint8(0)
		if luminance(out.Pix[i:i+3]) > t {
			v = 255
		}
		out.Pix[i], out.Pix[i+1], out.Pix[i+2] = v, v, v
	}
	return out, nil
}

// Histogram counts pixels per luminance value (unweighted RGB mean).
func Histogram(img *image.NRGBA) [256]int {
	var hist [256]int
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for i := 0; i < len(row); i += 4 {
			hist[luminance(row[i:i+3])]++
		}
	}
	return hist
}

// OtsuThreshold returns the first level maximising between-class variance,
// where class 0 holds luminance values <= threshold.
func OtsuThreshold(hist [256]int) uint8 {
	var total, sum float64
	for i, n := range hist {
		total += float64(n)
		sum += float64(i) * float64(n)
	}

	var sumB, wB, best float64
	threshold := 0
	for t := 0; t < 256; t++ {
		wB += float64(hist[t])
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * float64(hist[t])
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			threshold = t
		}
	}
	return uint8(threshold)
}

func luminance(rgb []uint8) uint8 {
	return uint8((int(rgb[0]) + int(rgb[1]) + int(rgb[2])) / 3)
}

func clamp(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
