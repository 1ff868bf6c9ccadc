package filestore

import (
	"bytes"
	"image"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
)

// Downscale resizes an image to fit maxWidth, keeping the aspect ratio.
// Anything that cannot be decoded or re-encoded comes back unchanged, so
// callers can always upload the return value.
func Downscale(data []byte, maxWidth int) []byte {
	if maxWidth <= 0 {
		return data
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data
	}
	if img.Bounds().Dx() <= maxWidth {
		return data
	}

	var enc imaging.Format
	switch format {
	case "jpeg":
		enc = imaging.JPEG
	case "png":
		enc = imaging.PNG
	case "gif":
		enc = imaging.GIF
	default:
		return data
	}

	resized := imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, enc); err != nil {
		return data
	}
	return buf.Bytes()
}
