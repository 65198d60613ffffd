package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/tendant/visual-assistant/internal/fileutil"
)

// EncodeForModel loads the image at path, flattens it to opaque RGB, bounds
// its longer edge to maxEdge and encodes it as JPEG. Images over maxPixels
// are rejected before decoding.
func EncodeForModel(path string, maxEdge int, maxPixels int64) ([]byte, string, error) {
	img, err := fileutil.LoadImage(path, maxPixels)
	if err != nil {
		return nil, "", err
	}

	rgb := toRGB(img)
	b := rgb.Bounds()
	if maxEdge > 0 && (b.Dx() > maxEdge || b.Dy() > maxEdge) {
		rgb = imaging.Fit(rgb, maxEdge, maxEdge, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, rgb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, "", fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}

func toRGB(img image.Image) *image.NRGBA {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}
