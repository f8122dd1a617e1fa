// Package watermark stamps a centered translucent label onto demo derivatives.
package watermark

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"os"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"snaptosize/logger"
)

const (
	DefaultText = "SnapToSize"
	minFontSize = 24
	sizeRatio   = 0.06
	shadowShift = 2
)

var (
	shadowColor = color.NRGBA{R: 0, G: 0, B: 0, A: 120}
	textColor   = color.NRGBA{R: 255, G: 255, B: 255, A: 160}
)

var log = logger.With("watermark")

// Compositor draws the label. A nil font selects the bitmap fallback.
type Compositor struct {
	text string
	font *opentype.Font
}

// New loads fontPath if given, otherwise the embedded Go Regular face. When
// neither parses the compositor falls back to a scaled bitmap face.
func New(text, fontPath string) *Compositor {
	if text == "" {
		text = DefaultText
	}
	c := &Compositor{text: text}

	if fontPath != "" {
		f, err := loadFontFile(fontPath)
		if err == nil {
			c.font = f
			log.Debugf("using font %s", fontPath)
			return c
		}
		log.Warnf("font %s unusable, falling back to embedded font: %v", fontPath, err)
	}

	f, err := opentype.Parse(goregular.TTF)
	if err != nil {
		log.Warnf("embedded font unusable, falling back to bitmap font: %v", err)
		return c
	}
	c.font = f
	return c
}

// NewBitmap returns a compositor that always uses the bitmap fallback.
func NewBitmap(text string) *Compositor {
	if text == "" {
		text = DefaultText
	}
	return &Compositor{text: text}
}

func loadFontFile(path string) (*opentype.Font, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	coll, err := opentype.ParseCollection(data)
	if err != nil {
		return nil, err
	}
	if coll.NumFonts() == 0 {
		return nil, fmt.Errorf("no fonts in %s", path)
	}
	return coll.Font(0)
}

// Text returns the label drawn by the compositor.
func (c *Compositor) Text() string {
	return c.text
}

// FontSize is the label size in pixels for a w x h derivative.
func FontSize(w, h int) float64 {
	return math.Max(minFontSize, sizeRatio*float64(min(w, h)))
}

// Apply returns an opaque copy of img with the label centered on it.
func (c *Compositor) Apply(img image.Image) *image.NRGBA {
	b := img.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(canvas, canvas.Bounds(), img, b.Min, draw.Src)

	size := FontSize(b.Dx(), b.Dy())
	if c.font == nil || !c.drawVector(canvas, size) {
		c.drawBitmap(canvas, size)
	}

	out := imaging.Clone(canvas)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xff
	}
	return out
}

func (c *Compositor) drawVector(canvas *image.RGBA, size float64) bool {
	face, err := opentype.NewFace(c.font, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		log.Warnf("cannot build %.0fpx face, using bitmap font: %v", size, err)
		return false
	}
	defer face.Close()

	w, h := canvas.Bounds().Dx(), canvas.Bounds().Dy()
	textWidth := font.MeasureString(face, c.text).Ceil()
	m := face.Metrics()
	ascent, descent := m.Ascent.Ceil(), m.Descent.Ceil()

	x := (w - textWidth) / 2
	y := (h-(ascent+descent))/2 + ascent

	for _, pass := range []struct {
		dx, dy int
		col    color.NRGBA
	}{
		{shadowShift, shadowShift, shadowColor},
		{0, 0, textColor},
	} {
		d := &font.Drawer{
			Dst:  canvas,
			Src:  image.NewUniform(pass.col),
			Face: face,
			Dot:  fixed.P(x+pass.dx, y+pass.dy),
		}
		d.DrawString(c.text)
	}
	return true
}

// drawBitmap renders the label with the 7x13 face into a mask, scales the
// mask to the requested size and composites both passes through it.
func (c *Compositor) drawBitmap(canvas *image.RGBA, size float64) {
	face := basicfont.Face7x13
	textWidth := font.MeasureString(face, c.text).Ceil()
	glyphHeight := face.Ascent + face.Descent

	mask := image.NewAlpha(image.Rect(0, 0, textWidth, glyphHeight))
	d := &font.Drawer{
		Dst:  mask,
		Src:  image.Opaque,
		Face: face,
		Dot:  fixed.P(0, face.Ascent),
	}
	d.DrawString(c.text)

	scale := size / float64(glyphHeight)
	mw := max(1, int(math.Round(float64(textWidth)*scale)))
	mh := max(1, int(math.Round(float64(glyphHeight)*scale)))
	scaled := imaging.Resize(mask, mw, mh, imaging.Linear)

	w, h := canvas.Bounds().Dx(), canvas.Bounds().Dy()
	x := (w - mw) / 2
	y := (h - mh) / 2

	shadow := image.Rect(x+shadowShift, y+shadowShift, x+shadowShift+mw, y+shadowShift+mh)
	draw.DrawMask(canvas, shadow, image.NewUniform(shadowColor), image.Point{}, scaled, image.Point{}, draw.Over)

	fg := image.Rect(x, y, x+mw, y+mh)
	draw.DrawMask(canvas, fg, image.NewUniform(textColor), image.Point{}, scaled, image.Point{}, draw.Over)
}
