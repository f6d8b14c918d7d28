package screenshot

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	_ "image/png"

	"github.com/go-pdf/fpdf"
)

// Output formats.
const (
	FormatPNG = "png"
	FormatJPG = "jpg"
	FormatPDF = "pdf"
)

// Formats lists the supported output formats.
var Formats = []string{FormatPNG, FormatJPG, FormatPDF}

const (
	DefaultJPEGQuality   = 90
	DefaultPDFResolution = 100
)

// Encoder converts the PNG payload from the browser into the output format.
type Encoder struct {
	Format      string
	JPEGQuality int
	// PDFResolution is the pixels-per-inch used to size the PDF page.
	PDFResolution int
}

// Encode returns the bytes to write for a PNG capture.
func (e Encoder) Encode(pngData []byte) ([]byte, error) {
	switch e.Format {
	case "", FormatPNG:
		return pngData, nil
	case FormatJPG, "jpeg":
		img, err := decodeFlat(pngData)
		if err != nil {
			return nil, err
		}
		return e.jpeg(img)
	case FormatPDF:
		img, err := decodeFlat(pngData)
		if err != nil {
			return nil, err
		}
		return e.pdf(img)
	}
	return nil, fmt.Errorf("unsupported file format: %s (supported: png, jpg, pdf)", e.Format)
}

// decodeFlat decodes the capture and composites it onto white, since JPEG
// and the PDF page have no alpha channel.
func decodeFlat(data []byte) (*image.RGBA, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode capture: %w", err)
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst, nil
}

func (e Encoder) jpeg(img image.Image) ([]byte, error) {
	q := e.JPEGQuality
	if q <= 0 || q > 100 {
		q = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// pdf places the image on a single page sized to it at PDFResolution.
func (e Encoder) pdf(img image.Image) ([]byte, error) {
	dpi := e.PDFResolution
	if dpi <= 0 {
		dpi = DefaultPDFResolution
	}
	jpg, err := e.jpeg(img)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	wd := float64(b.Dx()) * 72 / float64(dpi)
	ht := float64(b.Dy()) * 72 / float64(dpi)

	pdf := fpdf.NewCustom(&fpdf.InitType{
		UnitStr: "pt",
		Size:    fpdf.SizeType{Wd: wd, Ht: ht},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	opt := fpdf.ImageOptions{ImageType: "JPG"}
	pdf.RegisterImageOptionsReader("capture", opt, bytes.NewReader(jpg))
	pdf.ImageOptions("capture", 0, 0, wd, ht, false, opt, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}
	return buf.Bytes(), nil
}
