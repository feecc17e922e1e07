package convert

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	"github.com/chai2010/webp"
)

// DefaultQuality matches the original service's fixed JPEG/WebP quality.
const DefaultQuality = 90

// Options controls output encoding.
type Options struct {
	Format   string // "jpeg", "png", "webp"
	Quality  int    // 1-100, jpeg/webp only
	Lossless bool   // webp only
}

// NormalizeFormat maps aliases to canonical encoder names. Unknown formats
// fall back to jpeg, matching the original behavior.
func NormalizeFormat(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "jpg", "jpeg":
		return "jpeg"
	case "png":
		return "png"
	case "webp":
		return "webp"
	default:
		return "jpeg"
	}
}

// OutputExt returns the download extension for a canonical format.
func OutputExt(format string) string {
	if format == "jpeg" {
		return "jpg"
	}
	return format
}

// MIMEType returns the content type for a canonical format.
func MIMEType(format string) string {
	return "image/" + NormalizeFormat(format)
}

// Encode writes img to w in the requested format.
func Encode(w io.Writer, img image.Image, opts Options) error {
	quality := opts.Quality
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}

	switch NormalizeFormat(opts.Format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(w, img); err != nil {
			return fmt.Errorf("encoding png: %w", err)
		}
	case "webp":
		wopts := &webp.Options{Lossless: opts.Lossless, Quality: float32(quality)}
		if err := webp.Encode(w, img, wopts); err != nil {
			return fmt.Errorf("encoding webp: %w", err)
		}
	default:
		if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
			return fmt.Errorf("encoding jpeg: %w", err)
		}
	}
	return nil
}
