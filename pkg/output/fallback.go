package output

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"

	"github.com/jung-kurt/gofpdf"
)

// A2 landscape in millimetres
const (
	pageWidthMM  = 594.0
	pageHeightMM = 420.0
	marginMM     = 7.62 // 0.3in
)

// PDFFromPNG paginates a full-page PNG onto A2 landscape pages. The image is
// scaled to the printable width and sliced vertically into page-high strips.
func PDFFromPNG(data []byte) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode PNG: %w", err)
	}

	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("PNG has no pixels")
	}

	printW := pageWidthMM - 2*marginMM
	printH := pageHeightMM - 2*marginMM
	pxPerMM := float64(b.Dx()) / printW
	slicePx := int(printH * pxPerMM)
	if slicePx < 1 {
		slicePx = 1
	}

	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "L",
		UnitStr:        "mm",
		Size:           gofpdf.SizeType{Wd: pageHeightMM, Ht: pageWidthMM},
	})
	pdf.SetMargins(marginMM, marginMM, marginMM)
	pdf.SetAutoPageBreak(false, 0)

	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	for page, y := 0, 0; y < b.Dy(); page, y = page+1, y+slicePx {
		h := slicePx
		if y+h > b.Dy() {
			h = b.Dy() - y
		}

		strip, err := cropPNG(img, y, h)
		if err != nil {
			return nil, err
		}

		name := fmt.Sprintf("strip-%d", page)
		pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(strip))
		pdf.AddPage()
		pdf.ImageOptions(name, marginMM, marginMM, printW, float64(h)/pxPerMM, false, opts, 0, "")
		if pdf.Err() {
			return nil, fmt.Errorf("failed to add page %d: %w", page+1, pdf.Error())
		}
	}

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return out.Bytes(), nil
}

// cropPNG encodes rows [y, y+h) of img as a PNG
func cropPNG(img image.Image, y, h int) ([]byte, error) {
	b := img.Bounds()
	strip := image.NewRGBA(image.Rect(0, 0, b.Dx(), h))
	draw.Draw(strip, strip.Bounds(), img, image.Pt(b.Min.X, b.Min.Y+y), draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, strip); err != nil {
		return nil, fmt.Errorf("failed to encode page strip: %w", err)
	}
	return buf.Bytes(), nil
}
