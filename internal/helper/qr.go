package helper

import (
	"encoding/base64"

	"github.com/pkg/errors"
	"github.com/skip2/go-qrcode"
)

const qrImageSize = 256

// EncodeQRDataURL renders a pairing payload as a PNG data URL that browsers can show directly.
func EncodeQRDataURL(payload string) (string, error) {
	if payload == "" {
		return "", errors.New("empty qr payload")
	}
	png, err := qrcode.Encode(payload, qrcode.Medium, qrImageSize)
	if err != nil {
		return "", errors.Wrap(err, "encode qr")
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
