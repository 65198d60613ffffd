package fileutil

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	_ "golang.org/x/image/bmp"  // Register BMP decoder
	_ "golang.org/x/image/tiff" // Register TIFF decoder
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// maxRerolls bounds collision retries in GenerateUniqueFilenameIn
const maxRerolls = 8

// maxExtLen caps the extension kept from a client filename
const maxExtLen = 10

// DefaultMaxPixels is the decode budget used when none is configured
const DefaultMaxPixels int64 = 50_000_000

// ErrImageTooLarge is returned for images whose declared size exceeds the pixel budget
var ErrImageTooLarge = errors.New("image dimensions exceed the pixel limit")

// GenerateUniqueFilename returns a random name that keeps the original
// extension, reduced to lowercase letters and digits
func GenerateUniqueFilename(original string) string {
	return strings.ReplaceAll(uuid.New().String(), "-", "") + cleanExt(original)
}

// cleanExt returns ".ext" with only [a-z0-9] kept, or "" when nothing usable remains
func cleanExt(original string) string {
	base := filepath.Base(original)
	i := strings.LastIndexByte(base, '.')
	if i < 0 {
		return ""
	}

	var b strings.Builder
	for _, r := range strings.ToLower(base[i+1:]) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() == maxExtLen {
				break
			}
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "." + b.String()
}

// GenerateUniqueFilenameIn returns a unique name that does not exist yet in dir
func GenerateUniqueFilenameIn(dir, original string) (string, error) {
	for i := 0; i < maxRerolls; i++ {
		name := GenerateUniqueFilename(original)
		_, err := os.Stat(filepath.Join(dir, name))
		if os.IsNotExist(err) {
			return name, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to stat candidate name: %w", err)
		}
	}
	return "", fmt.Errorf("failed to generate unique filename in %s", dir)
}

// EnsureDirectoryExists creates path and its parents if needed and returns path
func EnsureDirectoryExists(path string) (string, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return path, nil
}

// CheckDimensions reads only the image header at path and rejects images
// whose width*height exceeds maxPixels (DefaultMaxPixels when maxPixels <= 0)
func CheckDimensions(path string, maxPixels int64) error {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return fmt.Errorf("failed to decode image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}
	return nil
}

// IsValidImage reports whether path holds a fully decodable image within the
// pixel budget. The extension and any declared content type are ignored.
func IsValidImage(path string, maxPixels int64) bool {
	if err := CheckDimensions(path, maxPixels); err != nil {
		return false
	}

	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	_, _, err = image.Decode(f)
	return err == nil
}

// LoadImage decodes the image at path, applying any EXIF orientation.
// Images over the pixel budget are rejected before decoding.
func LoadImage(path string, maxPixels int64) (image.Image, error) {
	if err := CheckDimensions(path, maxPixels); err != nil {
		return nil, err
	}

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// StemOf returns the base name of path without its extension
func StemOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
