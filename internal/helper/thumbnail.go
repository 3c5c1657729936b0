package helper

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

const (
	ThumbnailDimension = 72
	MaxDecodedPixels   = 40 * 1000 * 1000
)

// ImageInfo holds what an outgoing image message needs besides the upload itself.
type ImageInfo struct {
	Width     uint32
	Height    uint32
	Thumbnail []byte
}

// DescribeImage decodes an image and builds a small JPEG thumbnail for it.
func DescribeImage(data []byte, mimetype string) (*ImageInfo, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err == nil && cfg.Width*cfg.Height > MaxDecodedPixels {
		return nil, errors.Errorf("image too large to thumbnail: %dx%d", cfg.Width, cfg.Height)
	}

	var img image.Image
	if mimetype == "image/webp" {
		img, err = webp.Decode(bytes.NewReader(data))
	} else {
		img, _, err = image.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, errors.Wrap(err, "decode image")
	}

	bounds := img.Bounds()
	thumb := imaging.Fit(img, ThumbnailDimension, ThumbnailDimension, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(70)); err != nil {
		return nil, errors.Wrap(err, "encode thumbnail")
	}

	return &ImageInfo{
		Width:     uint32(bounds.Dx()),
		Height:    uint32(bounds.Dy()),
		Thumbnail: buf.Bytes(),
	}, nil
}
