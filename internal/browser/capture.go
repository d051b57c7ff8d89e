// SPDX-License-Identifier: MIT

package browser

import (
	"fmt"
	"io"

	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
)

// ScreenshotJPEG captures the viewport as JPEG at the given quality.
func (d *Driver) ScreenshotJPEG(quality int) ([]byte, error) {
	data, err := d.page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatJpeg,
		Quality: &quality,
	})
	if err != nil {
		return nil, fmt.Errorf("jpeg screenshot: %w", err)
	}
	return data, nil
}

// ScreenshotPNG captures a lossless viewport frame, the source for all
// derived step images.
func (d *Driver) ScreenshotPNG() ([]byte, error) {
	data, err := d.page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("png screenshot: %w", err)
	}
	return data, nil
}

// PDFOptions selects paper and orientation for :print-pdf auto mode.
type PDFOptions struct {
	Format    string // "A4" | "Letter"
	Landscape bool
}

// paper sizes in inches, the unit CDP expects.
var paperSizes = map[string][2]float64{
	"A4":     {8.27, 11.69},
	"Letter": {8.5, 11},
}

// PDF renders the page to PDF bytes with 20px margins and background
// printing enabled.
func (d *Driver) PDF(opts PDFOptions) ([]byte, error) {
	size, ok := paperSizes[opts.Format]
	if !ok {
		return nil, fmt.Errorf("unsupported paper format %q", opts.Format)
	}
	const marginIn = 20.0 / 96.0 // 20px at CSS 96dpi

	width := size[0]
	height := size[1]
	margin := marginIn
	printBackground := true

	stream, err := d.page.PDF(&proto.PagePrintToPDF{
		Landscape:       opts.Landscape,
		PrintBackground: printBackground,
		PaperWidth:      &width,
		PaperHeight:     &height,
		MarginTop:       &margin,
		MarginBottom:    &margin,
		MarginLeft:      &margin,
		MarginRight:     &margin,
	})
	if err != nil {
		return nil, fmt.Errorf("print to pdf: %w", err)
	}
	data, err := io.ReadAll(stream)
	if err != nil {
		return nil, fmt.Errorf("read pdf stream: %w", err)
	}
	return data, nil
}

// Eval runs a JS function in the page's main world and returns its value.
func (d *Driver) Eval(js string, args ...any) (gson.JSON, error) {
	obj, err := d.page.Eval(js, args...)
	if err != nil {
		return gson.JSON{}, fmt.Errorf("eval: %w", err)
	}
	return obj.Value, nil
}
