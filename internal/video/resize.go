package video

import (
	"image"

	"github.com/disintegration/imaging"
)

// fit scales img to exactly w x h.
func fit(img image.Image, w, h int) image.Image {
	return imaging.Resize(img, w, h, imaging.Linear)
}

// Downscale shrinks img so its width does not exceed maxWidth, keeping the
// aspect ratio. Smaller images are returned unchanged.
func Downscale(img image.Image, maxWidth int) image.Image {
	if maxWidth <= 0 || img.Bounds().Dx() <= maxWidth {
		return img
	}
	return imaging.Resize(img, maxWidth, 0, imaging.Linear)
}
