package convert

import (
	"bytes"
	"image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"

	"github.com/heic-converter/backend/internal/models"
)

// readOrientation returns the EXIF orientation tag (1-8), or 0 if absent.
// Best effort: not every container carries parseable EXIF.
func readOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 0
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 0
	}
	o, err := tag.Int(0)
	if err != nil {
		return 0
	}
	return o
}

// applyOrientation bakes the EXIF orientation into the pixels so the output
// displays upright regardless of whether metadata is kept.
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

// ReadMeta extracts metadata for the /meta endpoint without a full pixel
// decode where possible.
func ReadMeta(data []byte) models.ImageMeta {
	meta := models.ImageMeta{Format: SniffFormat(data)}

	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		meta.Width = cfg.Width
		meta.Height = cfg.Height
	}

	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return meta
	}

	meta.Orientation = readOrientation(data)
	if tag, err := x.Get(exif.Make); err == nil {
		if s, err := tag.StringVal(); err == nil {
			meta.CameraMake = s
		}
	}
	if tag, err := x.Get(exif.Model); err == nil {
		if s, err := tag.StringVal(); err == nil {
			meta.CameraModel = s
		}
	}
	if dt, err := x.DateTime(); err == nil {
		meta.CapturedAt = dt.Format(time.RFC3339)
	}

	return meta
}
