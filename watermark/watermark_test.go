package watermark

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
)

func flat(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 128, 128, 128, 255
	}
	return img
}

func changedPixels(a, b *image.NRGBA) int {
	n := 0
	for i := 0; i < len(a.Pix); i += 4 {
		if a.Pix[i] != b.Pix[i] || a.Pix[i+1] != b.Pix[i+1] || a.Pix[i+2] != b.Pix[i+2] {
			n++
		}
	}
	return n
}

func TestFontSize(t *testing.T) {
	if got := FontSize(100, 200); got != 24 {
		t.Errorf("expected floor of 24, got %v", got)
	}
	if got := FontSize(3000, 2000); got != 120 {
		t.Errorf("expected 120, got %v", got)
	}
}

func TestApplyVectorFont(t *testing.T) {
	src := flat(400, 300)
	out := New("", "").Apply(src)

	if out.Bounds() != src.Bounds() {
		t.Fatalf("size changed: %v", out.Bounds())
	}
	if changedPixels(src, out) == 0 {
		t.Fatal("expected the label to change some pixels")
	}
	for i := 3; i < len(out.Pix); i += 4 {
		if out.Pix[i] != 255 {
			t.Fatal("expected opaque output")
		}
	}
	// corners stay untouched
	if out.NRGBAAt(0, 0) != (color.NRGBA{128, 128, 128, 255}) {
		t.Errorf("unexpected corner pixel %v", out.NRGBAAt(0, 0))
	}
}

func TestApplyBitmapFallback(t *testing.T) {
	src := flat(400, 300)
	out := NewBitmap("SnapToSize").Apply(src)
	if changedPixels(src, out) == 0 {
		t.Fatal("expected the bitmap label to change some pixels")
	}
}

func TestMissingFontFileFallsBack(t *testing.T) {
	c := New("demo", filepath.Join(t.TempDir(), "missing.ttf"))
	if c.font == nil {
		t.Fatal("expected the embedded font after a missing font file")
	}
	if c.Text() != "demo" {
		t.Errorf("unexpected text %q", c.Text())
	}
}

func TestCorruptFontFileFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.ttf")
	if err := os.WriteFile(path, []byte("not a font"), 0644); err != nil {
		t.Fatal(err)
	}
	c := New("", path)
	if c.font == nil {
		t.Fatal("expected the embedded font after a corrupt font file")
	}
}

func TestApplyDoesNotModifySource(t *testing.T) {
	src := flat(120, 80)
	before := append([]byte(nil), src.Pix...)
	New("", "").Apply(src)
	for i := range before {
		if before[i] != src.Pix[i] {
			t.Fatal("source image was modified")
		}
	}
}
