package encoder

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
)

type EncodeOptions struct {
	Quality int
	DPI     int
}

// Defaults used for every derivative.
var Defaults = EncodeOptions{Quality: 80, DPI: 300}

// Resize stretches img to exactly w x h with a Lanczos-3 filter. Aspect ratio is not kept.
func Resize(img image.Image, w, h int) *image.NRGBA {
	return imaging.Resize(img, w, h, imaging.Lanczos)
}

// EncodeJPEG writes img as a baseline JPEG carrying a JFIF density of o.DPI.
func EncodeJPEG(w io.Writer, img image.Image, o EncodeOptions) error {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(o.Quality)); err != nil {
		return fmt.Errorf("jpeg encode: %w", err)
	}
	out, err := withDensity(buf.Bytes(), o.DPI)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

// Render resizes img to w x h and returns the encoded JPEG.
func Render(img image.Image, w, h int, o EncodeOptions) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeJPEG(&buf, Resize(img, w, h), o); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
