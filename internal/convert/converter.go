package convert

import (
	"bytes"
	"fmt"
	"os"

	"github.com/heic-converter/backend/internal/models"
)

// Output is the result of a conversion.
type Output struct {
	Data         []byte
	Format       string // canonical output format
	Decoder      string // chain stage that produced the source image
	SourceFormat string
	Meta         models.ImageMeta
}

// Converter runs the full decode-orient-encode pipeline.
type Converter struct {
	dec Decoder
}

// NewConverter creates a Converter. fallbackTool overrides the platform
// conversion utility used as the last decode stage; tempDir is where that
// stage writes its intermediate output.
func NewConverter(fallbackTool, tempDir string) *Converter {
	return &Converter{dec: Decoder{FallbackTool: fallbackTool, TempDir: tempDir}}
}

// Convert decodes the file at path and re-encodes it per opts. stripMeta
// removes camera metadata from the reported ImageMeta; the encoders never
// carry EXIF forward regardless. progress may be nil.
func (c *Converter) Convert(path string, opts Options, stripMeta bool, progress func(float64)) (*Output, error) {
	report := func(p float64) {
		if progress != nil {
			progress(p)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading source: %w", err)
	}
	report(10)

	res, err := c.dec.Decode(path)
	if err != nil {
		return nil, err
	}
	report(40)

	img := res.Image
	orientation := readOrientation(data)
	if orientation > 1 {
		img = applyOrientation(img, orientation)
	}
	report(50)

	format := NormalizeFormat(opts.Format)
	var buf bytes.Buffer
	if err := Encode(&buf, img, Options{Format: format, Quality: opts.Quality, Lossless: opts.Lossless}); err != nil {
		return nil, err
	}
	report(90)

	meta := ReadMeta(data)
	if stripMeta {
		meta.Orientation = 0
		meta.CameraMake = ""
		meta.CameraModel = ""
		meta.CapturedAt = ""
	}

	return &Output{
		Data:         buf.Bytes(),
		Format:       format,
		Decoder:      res.Decoder,
		SourceFormat: res.SourceFormat,
		Meta:         meta,
	}, nil
}
