// Package normalize turns uploaded or fetched bytes into an upright, opaque
// raster that the resize kernel can work on.
package normalize

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"snaptosize/failures"
)

const (
	// MaxInputBytes caps the encoded size of any input.
	MaxInputBytes = 25 << 20
	// MaxDecodeSide caps either side of a decoded input.
	MaxDecodeSide = 15000
	// MaxSide is the largest side kept after normalization.
	MaxSide = 10000
)

// Source is a decoded input together with what was learned while sniffing it.
type Source struct {
	Image       image.Image
	Format      string
	MIME        string
	Orientation int
}

var unsupportedNames = map[string]string{
	"image/heic":          "HEIC",
	"image/heic-sequence": "HEIC",
	"image/heif":          "HEIF",
	"image/heif-sequence": "HEIF",
	"image/avif":          "AVIF",
	"image/jxl":           "JPEG XL",
}

// Decode sniffs, bounds-checks and decodes data. Formats without a
// registered decoder fail as input-unsupported, naming the format.
func Decode(data []byte) (*Source, error) {
	if len(data) == 0 {
		return nil, failures.New(failures.KindInputMissing, "no image data")
	}
	if len(data) > MaxInputBytes {
		return nil, failures.New(failures.KindInputTooLarge, "image is %d bytes, limit is %d", len(data), MaxInputBytes)
	}

	mt := mimetype.Detect(data)
	for m := mt; m != nil; m = m.Parent() {
		if name, ok := unsupportedNames[m.String()]; ok {
			return nil, failures.New(failures.KindInputUnsupported, "%s images are not supported; convert to JPG or PNG", name)
		}
	}
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, failures.New(failures.KindInputUnsupported, "input is %s, not an image", mt.String())
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, failures.Wrap(failures.KindInputUnsupported, err, "cannot read %s header", mt.String())
	}
	if cfg.Width > MaxDecodeSide || cfg.Height > MaxDecodeSide {
		return nil, failures.New(failures.KindInputTooLarge, "image is %dx%d, limit is %d per side", cfg.Width, cfg.Height, MaxDecodeSide)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, failures.Wrap(failures.KindInputUnsupported, err, "cannot decode %s image", format)
	}
	b := img.Bounds()
	if b.Dx() > MaxDecodeSide || b.Dy() > MaxDecodeSide {
		return nil, failures.New(failures.KindInputTooLarge, "image is %dx%d, limit is %d per side", b.Dx(), b.Dy(), MaxDecodeSide)
	}

	return &Source{
		Image:       img,
		Format:      format,
		MIME:        mt.String(),
		Orientation: readOrientation(data),
	}, nil
}

// readOrientation returns the EXIF orientation tag, or 1 when there is none.
func readOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil || tag == nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

// Normalize applies the orientation, drops alpha and caps the longer side at MaxSide.
func Normalize(src *Source) *image.NRGBA {
	img := Orient(src.Image, src.Orientation)
	out := Opaque(img)

	w, h := out.Bounds().Dx(), out.Bounds().Dy()
	if w > MaxSide || h > MaxSide {
		if w >= h {
			out = imaging.Resize(out, MaxSide, 0, imaging.Lanczos)
		} else {
			out = imaging.Resize(out, 0, MaxSide, imaging.Lanczos)
		}
	}
	return out
}

// Load is Decode followed by Normalize.
func Load(data []byte) (*image.NRGBA, error) {
	src, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return Normalize(src), nil
}

// Orient rotates or flips img so that an EXIF orientation of 1 would describe it.
func Orient(img image.Image, orientation int) image.Image {
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
	}
	return img
}

// Opaque copies img into a zero-origin NRGBA with every alpha set to 255.
// Color values are kept as stored, so transparent areas keep their RGB.
func Opaque(img image.Image) *image.NRGBA {
	out := imaging.Clone(img)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xff
	}
	return out
}

// IsOpaque reports whether every pixel of img has full alpha.
func IsOpaque(img *image.NRGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0xff {
			return false
		}
	}
	return true
}

// Describe is used in log lines.
func Describe(src *Source) string {
	b := src.Image.Bounds()
	return fmt.Sprintf("%s %dx%d orientation=%d", src.Format, b.Dx(), b.Dy(), src.Orientation)
}
