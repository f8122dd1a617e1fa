package normalize

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"snaptosize/failures"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode failed: %v", err)
	}
	return buf.Bytes()
}

func TestLoadDropsAlpha(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 20, 10))
	for i := range src.Pix {
		src.Pix[i] = 0x40
	}
	src.SetNRGBA(0, 0, color.NRGBA{R: 200, G: 100, B: 50, A: 0})

	out, err := Load(encodePNG(t, src))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if out.Bounds().Dx() != 20 || out.Bounds().Dy() != 10 {
		t.Errorf("unexpected size %v", out.Bounds())
	}
	if !IsOpaque(out) {
		t.Error("expected opaque output")
	}
}

func TestOrientSwapsAxes(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 20, 10))
	src.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})

	for _, o := range []int{5, 6, 7, 8} {
		out := Orient(src, o)
		if out.Bounds().Dx() != 10 || out.Bounds().Dy() != 20 {
			t.Errorf("orientation %d: expected 10x20, got %v", o, out.Bounds())
		}
	}
	for _, o := range []int{1, 2, 3, 4} {
		out := Orient(src, o)
		if out.Bounds().Dx() != 20 || out.Bounds().Dy() != 10 {
			t.Errorf("orientation %d: expected 20x10, got %v", o, out.Bounds())
		}
	}

	// 6 means the camera was rotated clockwise; the top-left pixel ends top-right.
	out := Orient(src, 6)
	r, _, _, _ := out.At(9, 0).RGBA()
	if r>>8 != 255 {
		t.Errorf("expected red pixel at top-right after orientation 6")
	}
}

func TestNormalizeDownscales(t *testing.T) {
	src := &Source{Image: image.NewNRGBA(image.Rect(0, 0, 10050, 20)), Orientation: 1}
	out := Normalize(src)
	if out.Bounds().Dx() != MaxSide {
		t.Errorf("expected width %d, got %d", MaxSide, out.Bounds().Dx())
	}
	if out.Bounds().Dy() < 1 || out.Bounds().Dy() > 20 {
		t.Errorf("unexpected height %d", out.Bounds().Dy())
	}
}

func TestDecodeRejectsHEIC(t *testing.T) {
	heic := []byte("\x00\x00\x00\x18ftypheic\x00\x00\x00\x00mif1heic\x00\x00\x00\x00")
	_, err := Decode(heic)
	if !failures.Is(err, failures.KindInputUnsupported) {
		t.Fatalf("expected input-unsupported, got %v", err)
	}
	if !bytes.Contains([]byte(failures.Message(err)), []byte("HEIC")) {
		t.Errorf("expected message to name HEIC, got %q", failures.Message(err))
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("definitely not an image")); !failures.Is(err, failures.KindInputUnsupported) {
		t.Errorf("expected input-unsupported, got %v", err)
	}
	if _, err := Decode(nil); !failures.Is(err, failures.KindInputMissing) {
		t.Errorf("expected input-missing, got %v", err)
	}
}

func TestDecodeRejectsHugeDimensions(t *testing.T) {
	// A 1-bit wide strip keeps the encoded file tiny while the header claims 15001 px.
	src := image.NewGray(image.Rect(0, 0, MaxDecodeSide+1, 1))
	_, err := Decode(encodePNG(t, src))
	if !failures.Is(err, failures.KindInputTooLarge) {
		t.Fatalf("expected input-too-large, got %v", err)
	}
}

func TestDecodeWithoutExifIsUpright(t *testing.T) {
	src, err := Decode(encodePNG(t, image.NewNRGBA(image.Rect(0, 0, 4, 4))))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if src.Orientation != 1 || src.Format != "png" {
		t.Errorf("unexpected source %s", Describe(src))
	}
}
