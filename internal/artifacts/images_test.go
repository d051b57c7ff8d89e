// SPDX-License-Identifier: MIT

package artifacts

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"testing"

	"github.com/disintegration/imaging"
)

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := imaging.New(w, h, c)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDeriveStepImages(t *testing.T) {
	tree := NewTree(t.TempDir(), "c", "t", "s")
	if err := tree.Init(); err != nil {
		t.Fatal(err)
	}

	raw := solidPNG(t, 1280, 720, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
	if err := tree.DeriveStepImages(1, raw, 400, 300, false); err != nil {
		t.Fatalf("derive: %v", err)
	}

	for _, path := range []string{tree.Thumbnail(1), tree.Zoom(1), tree.CanonicalScreenshot(1)} {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("missing artifact %s: %v", path, err)
		}
		if info.Size() == 0 {
			t.Errorf("empty artifact %s", path)
		}
	}

	thumb, err := imaging.Open(tree.Thumbnail(1))
	if err != nil {
		t.Fatal(err)
	}
	if thumb.Bounds().Dx() != 500 {
		t.Errorf("thumbnail width = %d, want 500", thumb.Bounds().Dx())
	}

	zoom, err := imaging.Open(tree.Zoom(1))
	if err != nil {
		t.Fatal(err)
	}
	if zoom.Bounds().Dx() != 200 || zoom.Bounds().Dy() != 200 {
		t.Errorf("zoom size = %dx%d, want 200x200", zoom.Bounds().Dx(), zoom.Bounds().Dy())
	}
}

func TestZoomCropCentersOnMouse(t *testing.T) {
	// 200x200 gray canvas with a white pixel at (100,100)
	img := imaging.New(200, 200, color.NRGBA{R: 20, G: 20, B: 20, A: 255})
	img.Set(100, 100, color.NRGBA{R: 255, G: 255, B: 255, A: 255})

	zoom := ZoomCrop(img, 100, 100, false)
	// the marked pixel lands in the middle of the 200x200 output
	r, g, b, _ := zoom.At(100, 100).RGBA()
	if r>>8 < 100 || g>>8 < 100 || b>>8 < 100 {
		t.Errorf("expected bright center pixel, got rgb(%d,%d,%d)", r>>8, g>>8, b>>8)
	}
}

func TestZoomCropClampsAtEdges(t *testing.T) {
	img := imaging.New(100, 100, color.NRGBA{A: 255})
	zoom := ZoomCrop(img, 0, 0, true)
	if zoom.Bounds().Dx() != 200 || zoom.Bounds().Dy() != 200 {
		t.Errorf("edge zoom size = %v", zoom.Bounds())
	}
}

func TestDownscalePreservesAspect(t *testing.T) {
	img := imaging.New(1920, 1080, color.NRGBA{A: 255})
	small := Downscale(img, 160)
	if small.Bounds().Dx() != 160 {
		t.Fatalf("width = %d", small.Bounds().Dx())
	}
	if small.Bounds().Dy() != 90 {
		t.Fatalf("height = %d, want 90", small.Bounds().Dy())
	}
	var _ image.Image = small
}
