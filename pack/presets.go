package pack

import (
	"context"
	"fmt"
	"image"
	"math"
)

// PresetArchiveName is the file name of the async preset bundle.
const PresetArchiveName = "etsy_pack_v1.zip"

// Preset scales the source so that its longer side equals LongSide.
type Preset struct {
	Name     string
	LongSide int
}

var presets = []Preset{
	{Name: "thumb_1024", LongSide: 1024},
	{Name: "etsy_3000px", LongSide: 3000},
	{Name: "etsy_6000px", LongSide: 6000},
}

// Presets returns the async preset catalog in order.
func Presets() []Preset {
	out := make([]Preset, len(presets))
	copy(out, presets)
	return out
}

// PresetNames returns the preset names in catalog order.
func PresetNames() []string {
	names := make([]string, len(presets))
	for i, p := range presets {
		names[i] = p.Name
	}
	return names
}

// LookupPreset finds a preset by name.
func LookupPreset(name string) (Preset, bool) {
	for _, p := range presets {
		if p.Name == name {
			return p, true
		}
	}
	return Preset{}, false
}

// Fit returns the preset geometry for a w x h source. The shorter side is
// rounded and never drops below 1.
func (p Preset) Fit(w, h int) (int, int) {
	if w >= h {
		scale := float64(p.LongSide) / float64(w)
		return p.LongSide, max(1, int(math.Round(float64(h)*scale)))
	}
	scale := float64(p.LongSide) / float64(h)
	return max(1, int(math.Round(float64(w)*scale))), p.LongSide
}

// PresetMeta describes one produced preset.
type PresetMeta struct {
	Name      string `json:"name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	JPEGBytes int    `json:"jpeg_bytes"`
}

// BuildPresets renders the named presets in order into one archive whose
// entries are "{preset}.jpg". Async output is never watermarked.
func (b *Builder) BuildPresets(ctx context.Context, img image.Image, names []string) ([]byte, []PresetMeta, error) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	entries := make([]Entry, 0, len(names))
	meta := make([]PresetMeta, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		p, ok := LookupPreset(name)
		if !ok {
			return nil, nil, fmt.Errorf("unknown preset %q", name)
		}
		nw, nh := p.Fit(w, h)
		data, err := b.Derive(img, nw, nh, "presets", false)
		if err != nil {
			return nil, nil, fmt.Errorf("render %s: %w", name, err)
		}
		entries = append(entries, Entry{Name: p.Name + ".jpg", Data: data})
		meta = append(meta, PresetMeta{Name: p.Name, Width: nw, Height: nh, JPEGBytes: len(data)})
	}
	data, err := Zip(entries)
	if err != nil {
		return nil, nil, fmt.Errorf("zip presets: %w", err)
	}
	return data, meta, nil
}
