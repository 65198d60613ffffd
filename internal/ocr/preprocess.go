package ocr

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Preprocess prepares a photo for recognition: grayscale, binary-inverse
// threshold at the Otsu level, morphological opening with a kernel x kernel
// square, then inversion back to dark text on a light background.
func Preprocess(img image.Image, kernel int) *image.Gray {
	gray := toGray(img)
	t := OtsuThreshold(gray)

	// Inverse binary: text becomes white so opening removes white speckles
	binary := image.NewGray(gray.Rect)
	for i, v := range gray.Pix {
		if v > t {
			binary.Pix[i] = 0
		} else {
			binary.Pix[i] = 255
		}
	}

	opened := Open(binary, kernel)

	for i, v := range opened.Pix {
		opened.Pix[i] = 255 - v
	}
	return opened
}

// toGray flattens transparency onto white and converts to 8-bit luminance
func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	flat := imaging.Grayscale(imaging.Overlay(bg, img, image.Pt(0, 0), 1.0))

	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		src := flat.Pix[y*flat.Stride : y*flat.Stride+b.Dx()*4]
		dst := gray.Pix[y*gray.Stride : y*gray.Stride+b.Dx()]
		for x := range dst {
			dst[x] = src[x*4]
		}
	}
	return gray
}

// OtsuThreshold returns the level that maximizes between-class variance.
// Pixels above the level form the bright class.
func OtsuThreshold(gray *image.Gray) uint8 {
	var hist [256]int
	b := gray.Rect
	for y := 0; y < b.Dy(); y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+b.Dx()]
		for _, v := range row {
			hist[v]++
		}
	}

	total := b.Dx() * b.Dy()
	if total == 0 {
		return 0
	}

	var sum float64
	for i, n := range hist {
		sum += float64(i * n)
	}

	var (
		sumB, best float64
		wB         int
		threshold  uint8
	)
	for t := 0; t < 256; t++ {
		wB += hist[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t * hist[t])
		mB := sumB / float64(wB)
		mF := (sum - sumB) / float64(wF)
		between := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			threshold = uint8(t)
		}
	}
	return threshold
}

// Open performs erosion followed by dilation with a square structuring element.
// A kernel of 1 or less returns an unchanged copy.
func Open(src *image.Gray, kernel int) *image.Gray {
	if kernel <= 1 {
		out := image.NewGray(src.Rect)
		copy(out.Pix, src.Pix)
		return out
	}
	return morph(morph(src, kernel, minOf), kernel, maxOf)
}

func minOf(a, b uint8) uint8 {
	if a < b {
		return a
	}
	return b
}

func maxOf(a, b uint8) uint8 {
	if a > b {
		return a
	}
	return b
}

// morph applies op over each window; pixels outside the image are ignored
func morph(src *image.Gray, kernel int, op func(a, b uint8) uint8) *image.Gray {
	b := src.Rect
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	before := (kernel - 1) / 2
	after := kernel - 1 - before

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			acc := src.Pix[y*src.Stride+x]
			for dy := -before; dy <= after; dy++ {
				yy := y + dy
				if yy < 0 || yy >= h {
					continue
				}
				for dx := -before; dx <= after; dx++ {
					xx := x + dx
					if xx < 0 || xx >= w {
						continue
					}
					acc = op(acc, src.Pix[yy*src.Stride+xx])
				}
			}
			out.Pix[y*out.Stride+x] = acc
		}
	}
	return out
}
