// Package convert implements the image decode fallback chain and the
// target-format encoders.
package convert

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"os"

	// Register stdlib and extended decoders for image.Decode.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/gen2brain/heic"
)

// Decoder names reported on the session so callers can see which stage of
// the fallback chain produced the image.
const (
	DecoderStdlib   = "stdlib"
	DecoderHEIF     = "heif"
	DecoderFallback = "fallback-tool"
)

// DecodeResult is a decoded image plus provenance.
type DecodeResult struct {
	Image        image.Image
	Decoder      string // which chain stage succeeded
	SourceFormat string // sniffed source format ("jpeg", "heic", ...)
}

// Decoder runs the decode fallback chain: stdlib image.Decode (with the
// extended format set registered), then the HEIF decoder, then a shell-out
// to a platform conversion utility. Failure is reported only once every
// stage has been exhausted.
type Decoder struct {
	// FallbackTool overrides the platform conversion utility. Empty means
	// auto-detect (sips on darwin, heif-convert/magick elsewhere).
	FallbackTool string
	// TempDir is where the shell-out stage writes its intermediate output.
	// Empty means the OS default temp directory.
	TempDir string
}

// Decode opens and decodes the image at path, trying each stage in order.
func (d *Decoder) Decode(path string) (*DecodeResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}

	var stageErrs []error

	// Stage 1: stdlib decode with registered formats
	img, format, err := image.Decode(bytes.NewReader(data))
	if err == nil {
		return &DecodeResult{Image: img, Decoder: DecoderStdlib, SourceFormat: format}, nil
	}
	stageErrs = append(stageErrs, fmt.Errorf("stdlib decode: %w", err))

	// Stage 2: dedicated HEIF decoder
	img, err = heic.Decode(bytes.NewReader(data))
	if err == nil {
		return &DecodeResult{Image: img, Decoder: DecoderHEIF, SourceFormat: "heic"}, nil
	}
	stageErrs = append(stageErrs, fmt.Errorf("heif decode: %w", err))

	// Stage 3: platform conversion utility
	img, tool, err := decodeWithTool(path, d.FallbackTool, d.TempDir)
	if err == nil {
		fmt.Printf("[Convert] Decoded %s via fallback tool %q\n", path, tool)
		return &DecodeResult{Image: img, Decoder: DecoderFallback, SourceFormat: SniffFormat(data)}, nil
	}
	stageErrs = append(stageErrs, fmt.Errorf("fallback tool: %w", err))

	return nil, fmt.Errorf("all decode methods failed: %w", errors.Join(stageErrs...))
}

// SniffFormat identifies the container from magic bytes. Best effort; used
// for reporting only.
func SniffFormat(data []byte) string {
	if _, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		return format
	}
	if isHEIF(data) {
		return "heic"
	}
	return "unknown"
}

// isHEIF checks for an ISO-BMFF ftyp box with a HEIF brand.
func isHEIF(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "hevc", "hevx", "heim", "heis", "mif1", "msf1", "avif":
		return true
	}
	return false
}
