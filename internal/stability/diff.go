// SPDX-License-Identifier: MIT

package stability

import (
	"image"

	"github.com/disintegration/imaging"
)

// downscale shrinks a frame to width pixels preserving aspect ratio. Box
// filtering is enough for a change detector and cheap on every tick.
func downscale(img image.Image, width int) image.Image {
	if width <= 0 || img.Bounds().Dx() <= width {
		return img
	}
	return imaging.Resize(img, width, 0, imaging.Box)
}

// FrameDiff returns the fraction of pixels whose luma changed by more than a
// small tolerance between two equally sized frames. Mismatched sizes count
// as fully different.
func FrameDiff(a, b image.Image) float64 {
	ba, bb := a.Bounds(), b.Bounds()
	if ba.Dx() != bb.Dx() || ba.Dy() != bb.Dy() {
		return 1.0
	}
	total := ba.Dx() * ba.Dy()
	if total == 0 {
		return 0
	}

	// 8-bit luma tolerance that ignores JPEG noise and cursor antialiasing.
	const lumaTolerance = 10

	changed := 0
	for y := 0; y < ba.Dy(); y++ {
		for x := 0; x < ba.Dx(); x++ {
			la := luma(a.At(ba.Min.X+x, ba.Min.Y+y))
			lb := luma(b.At(bb.Min.X+x, bb.Min.Y+y))
			d := la - lb
			if d < 0 {
				d = -d
			}
			if d > lumaTolerance {
				changed++
			}
		}
	}
	return float64(changed) / float64(total)
}

func luma(c interface{ RGBA() (r, g, b, a uint32) }) int {
	r, g, b, _ := c.RGBA()
	// BT.601 integer weights on 8-bit channels.
	return (299*int(r>>8) + 587*int(g>>8) + 114*int(b>>8)) / 1000
}
