package image

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/feichai0017/document-recognizer/internal/models"
	"github.com/feichai0017/document-recognizer/pkg/logger"
)

func TestImage(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Pixel Pipeline Suite")
}

// gradient builds a deterministic image with varied channel values.
func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8((x * 37) % 256),
				G: uint8((y * 53) % 256),
				B: uint8((x*y + 11) % 256),
				A: uint8(200 + (x+y)%56),
			})
		}
	}
	return img
}

func uniform(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

var _ = Describe("Preprocessors", func() {
	var src *image.NRGBA

	BeforeEach(func() {
		src = gradient(13, 9)
	})

	DescribeTable("dimension-preserving operations",
		func(p ImagePreprocessor) {
			before := append([]uint8(nil), src.Pix...)
			out, err := p.Process(src)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Bounds().Dx()).To(Equal(13))
			Expect(out.Bounds().Dy()).To(Equal(9))
			Expect(src.Pix).To(Equal(before), "input must not be mutated")
		},
		Entry("contrast", NewContrastProcessor()),
		Entry("denoise", NewDenoiseProcessor()),
		Entry("sharpen", NewSharpenProcessor()),
		Entry("binarize", NewBinarizeProcessor()),
	)

	Describe("ContrastProcessor", func() {
		It("stretches channels around 128 and clamps", func() {
			img := uniform(2, 2, color.NRGBA{R: 0, G: 128, B: 250, A: 77})
			out, _ := NewContrastProcessor().Process(img)
			px := out.NRGBAAt(0, 0)
			Expect(px.R).To(Equal(uint8(0)))   // (0-128)*1.3+128 = -38.4
			Expect(px.G).To(Equal(uint8(128))) // midpoint is fixed
			Expect(px.B).To(Equal(uint8(255))) // 286.6 clamps
			Expect(px.A).To(Equal(uint8(77)))
		})

		It("maps 200 to 222", func() {
			img := uniform(1, 1, color.NRGBA{R: 200, G: 200, B: 200, A: 255})
			out, _ := NewContrastProcessor().Process(img)
			Expect(out.NRGBAAt(0, 0).R).To(Equal(uint8(222))) // 221.6 rounds up
		})
	})

	Describe("DenoiseProcessor", func() {
		It("removes an isolated speck from the interior", func() {
			img := uniform(5, 5, color.NRGBA{R: 10, G: 10, B: 10, A: 255})
			img.SetNRGBA(2, 2, color.NRGBA{R: 250, G: 250, B: 250, A: 99})
			out, _ := NewDenoiseProcessor().Process(img)
			px := out.NRGBAAt(2, 2)
			Expect(px.R).To(Equal(uint8(10)))
			Expect(px.A).To(Equal(uint8(99)), "alpha is untouched")
		})

		It("leaves border pixels unmodified", func() {
			img := uniform(5, 5, color.NRGBA{R: 10, G: 10, B: 10, A: 255})
			img.SetNRGBA(0, 2, color.NRGBA{R: 250, G: 250, B: 250, A: 255})
			img.SetNRGBA(4, 4, color.NRGBA{R: 240, G: 1, B: 2, A: 255})
			out, _ := NewDenoiseProcessor().Process(img)
			Expect(out.NRGBAAt(0, 2).R).To(Equal(uint8(250)))
			Expect(out.NRGBAAt(4, 4)).To(Equal(color.NRGBA{R: 240, G: 1, B: 2, A: 255}))
		})
	})

	Describe("SharpenProcessor", func() {
		It("does not change a flat image", func() {
			img := uniform(4, 4, color.NRGBA{R: 90, G: 90, B: 90, A: 255})
			out, _ := NewSharpenProcessor().Process(img)
			Expect(out.Pix).To(Equal(img.Pix))
		})

		It("amplifies a bright centre and clamps it", func() {
			img := uniform(3, 3, color.NRGBA{R: 100, G: 100, B: 100, A: 255})
			img.SetNRGBA(1, 1, color.NRGBA{R: 120, G: 60, B: 100, A: 255})
			out, _ := NewSharpenProcessor().Process(img)
			px := out.NRGBAAt(1, 1)
			Expect(px.R).To(Equal(uint8(200))) // 5*120 - 4*100
			Expect(px.G).To(Equal(uint8(0)))   // 5*60 - 400 < 0
			Expect(px.B).To(Equal(uint8(100)))
			Expect(out.NRGBAAt(0, 0).R).To(Equal(uint8(100)))
		})
	})

	Describe("BinarizeProcessor", func() {
		It("produces only black and white pixels", func() {
			out, _ := NewBinarizeProcessor().Process(src)
			for i := 0; i < len(out.Pix); i += 4 {
				Expect(out.Pix[i]).To(Or(Equal(uint8(0)), Equal(uint8(255))))
				Expect(out.Pix[i+1]).To(Equal(out.Pix[i]))
				Expect(out.Pix[i+2]).To(Equal(out.Pix[i]))
				Expect(out.Pix[i+3]).To(Equal(src.Pix[i+3]))
			}
		})

		It("is idempotent", func() {
			once, _ := NewBinarizeProcessor().Process(src)
			twice, _ := NewBinarizeProcessor().Process(once)
			Expect(twice.Pix).To(Equal(once.Pix))
		})

		It("separates two luminance populations", func() {
			var hist [256]int
			hist[30] = 50
			hist[200] = 50
			t := OtsuThreshold(hist)
			Expect(t).To(BeNumerically(">=", 30))
			Expect(t).To(BeNumerically("<", 200))
		})
	})

	Describe("AutoRotateProcessor", func() {
		It("only fires above a 1.5 aspect ratio", func() {
			p := NewAutoRotateProcessor()
			Expect(p.Applies(gradient(15, 10))).To(BeFalse())
			Expect(p.Applies(gradient(16, 10))).To(BeTrue())
		})

		It("rotates clockwise and swaps dimensions", func() {
			img := uniform(4, 2, color.NRGBA{A: 255})
			img.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
			out, _ := NewAutoRotateProcessor().Process(img)
			Expect(out.Bounds().Dx()).To(Equal(2))
			Expect(out.Bounds().Dy()).To(Equal(4))
			// top-left moves to top-right under a clockwise turn
			Expect(out.NRGBAAt(1, 0).R).To(Equal(uint8(255)))
		})
	})

	Describe("ResizeProcessor", func() {
		It("derives the missing dimension from the aspect ratio", func() {
			out, _ := NewResizeProcessor(50, 0, true).Process(gradient(100, 40))
			Expect(out.Bounds().Dx()).To(Equal(50))
			Expect(out.Bounds().Dy()).To(Equal(20))
		})

		It("keeps the source height when the aspect ratio is not kept", func() {
			out, _ := NewResizeProcessor(50, 0, false).Process(gradient(100, 40))
			Expect(out.Bounds().Dx()).To(Equal(50))
			Expect(out.Bounds().Dy()).To(Equal(40))
		})

		It("averages areas instead of picking nearest pixels", func() {
			img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
			img.SetNRGBA(0, 0, color.NRGBA{R: 0, G: 0, B: 0, A: 255})
			img.SetNRGBA(1, 0, color.NRGBA{R: 200, G: 200, B: 200, A: 255})
			out, _ := NewResizeProcessor(1, 1, false).Process(img)
			Expect(out.NRGBAAt(0, 0).R).To(BeNumerically("~", 100, 2))
		})

		It("does not apply a max width to narrower images", func() {
			p := NewMaxWidthProcessor(200)
			Expect(p.Applies(gradient(100, 40))).To(BeFalse())
			Expect(p.Applies(gradient(400, 40))).To(BeTrue())
		})
	})
})

var _ = Describe("Pipeline", func() {
	var p *Pipeline

	BeforeEach(func() {
		p = NewPipeline(logger.NewNop())
	})

	It("fails fast on an empty image", func() {
		out, err := p.Run(image.NewNRGBA(image.Rect(0, 0, 0, 10)), ForLowQuality())
		Expect(out).To(BeNil())
		Expect(errors.Is(err, models.ErrInvalidImage)).To(BeTrue())
	})

	It("applies the low-quality preset in fixed order", func() {
		out, err := p.Run(gradient(30, 10), ForLowQuality())
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Applied).To(Equal([]Operation{OpAutoRotate, OpContrast, OpDenoise, OpSharpen, OpBinarize}))
		Expect(out.Image.Bounds().Dx()).To(Equal(10))
		Expect(out.Image.Bounds().Dy()).To(Equal(30))
	})

	It("skips operations that do not apply", func() {
		out, err := p.Run(gradient(20, 20), ForOCR(1600))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Applied).To(Equal([]Operation{OpContrast}))
	})

	It("caps the width in the OCR preset", func() {
		out, err := p.Run(gradient(300, 250), ForOCR(150))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Applied).To(Equal([]Operation{OpResize, OpContrast}))
		Expect(out.Image.Bounds().Dx()).To(Equal(150))
		Expect(out.Image.Bounds().Dy()).To(Equal(125))
	})

	It("re-encodes preprocessed images as PNG", func() {
		buf := new(bytes.Buffer)
		Expect(png.Encode(buf, gradient(40, 10))).To(Succeed())
		doc := models.NewDocument("scan.png", buf.Bytes())

		out, applied, err := p.Preprocess(doc, ForLowQuality())
		Expect(err).NotTo(HaveOccurred())
		Expect(applied).To(ContainElement(OpBinarize))
		Expect(out.MimeType).To(Equal("image/png"))
		Expect(out.Hash).NotTo(Equal(doc.Hash))
	})

	It("reports undecodable bytes as an invalid image", func() {
		_, _, err := p.Preprocess(models.NewDocument("broken.jpg", []byte("nope")), ForOCR(1600))
		Expect(errors.Is(err, models.ErrInvalidImage)).To(BeTrue())
	})

	It("passes PDFs through untouched", func() {
		doc := models.NewDocument("invoice.pdf", []byte("%PDF-1.4"))
		out, applied, err := p.Preprocess(doc, ForOCR(1600))
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(BeIdenticalTo(doc))
		Expect(applied).To(BeEmpty())
	})
})
