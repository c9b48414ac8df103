package capture

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// EncodeFrame downsamples img by scale and encodes it as JPEG at quality.
func EncodeFrame(img image.Image, scale float64, quality int) ([]byte, error) {
	if img == nil {
		return nil, errors.New("nil frame")
	}
	if scale <= 0 || scale > 1 {
		scale = DefaultFrameScale
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	b := img.Bounds()
	w := max(1, int(float64(b.Dx())*scale))
	h := max(1, int(float64(b.Dy())*scale))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
