package qr

import (
	"errors"

	"github.com/skip2/go-qrcode"
)

const DefaultSize = 256

type QRGenerator struct {
	size  int
	level qrcode.RecoveryLevel
}

func NewQRGenerator(size int) *QRGenerator {
	if size <= 0 {
		size = DefaultSize
	}
	return &QRGenerator{size: size, level: qrcode.Medium}
}

// EncodePNG renders a signed ticket token as a PNG QR code.
func (q *QRGenerator) EncodePNG(token string) ([]byte, error) {
	if token == "" {
		return nil, errors.New("qr: empty token")
	}
	return qrcode.Encode(token, q.level, q.size)
}
