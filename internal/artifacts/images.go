// SPDX-License-Identifier: MIT

package artifacts

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

const (
	thumbWidth      = 500
	thumbQuality    = 80
	zoomWindow      = 200 // output size, px
	zoomFactor      = 5
	zoomQuality     = 20
	canonQuality    = 35
	zoomClickWindow = 120 // tighter source window for click verbs
)

// DeriveStepImages produces the thumbnail, zoom crop and canonical JPEG for
// step i from the raw post-stability PNG bytes. mouseX/mouseY are viewport
// coordinates; clickVerb tightens the zoom window.
func (t *Tree) DeriveStepImages(i int, rawPNG []byte, mouseX, mouseY float64, clickVerb bool) error {
	img, err := imaging.Decode(bytes.NewReader(rawPNG))
	if err != nil {
		return fmt.Errorf("decode raw png for step %d: %w", i, err)
	}

	thumb := imaging.Resize(img, thumbWidth, 0, imaging.Lanczos)
	if err := saveJPEG(thumb, t.Thumbnail(i), thumbQuality); err != nil {
		return err
	}

	zoom := ZoomCrop(img, mouseX, mouseY, clickVerb)
	if err := saveJPEG(zoom, t.Zoom(i), zoomQuality); err != nil {
		return err
	}

	return saveJPEG(img, t.CanonicalScreenshot(i), canonQuality)
}

// ZoomCrop extracts a square window centered on the mouse position and
// scales it to 200x200 for an effective 5x magnification. Click verbs use a
// tighter source window so the press target fills the frame.
func ZoomCrop(img image.Image, mouseX, mouseY float64, clickVerb bool) image.Image {
	window := zoomWindow / zoomFactor // 40px source -> 5x at 200px output
	if clickVerb {
		window = zoomClickWindow / zoomFactor
	}

	half := window / 2
	b := img.Bounds()
	x0 := clamp(int(mouseX)-half, b.Min.X, b.Max.X-window)
	y0 := clamp(int(mouseY)-half, b.Min.Y, b.Max.Y-window)
	rect := image.Rect(x0, y0, x0+window, y0+window)
	cropped := imaging.Crop(img, rect)
	return imaging.Resize(cropped, zoomWindow, zoomWindow, imaging.Lanczos)
}

// Downscale resizes an image to the given width preserving aspect ratio.
// Used by the stability detector for cheap frame diffs.
func Downscale(img image.Image, width int) image.Image {
	return imaging.Resize(img, width, 0, imaging.Box)
}

// DecodeImage decodes PNG or JPEG bytes.
func DecodeImage(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// EncodeJPEG renders an image as JPEG bytes at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func saveJPEG(img image.Image, path string, quality int) error {
	data, err := EncodeJPEG(img, quality)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return WriteFileAtomic(path, data)
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
