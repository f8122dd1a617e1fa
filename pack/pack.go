// Package pack renders catalog sizes and bundles them into per-family archives.
package pack

import (
	"context"
	"fmt"
	"image"
	"time"

	"golang.org/x/sync/errgroup"

	"snaptosize/catalog"
	"snaptosize/encoder"
	"snaptosize/failures"
	"snaptosize/logger"
	"snaptosize/metrics"
	"snaptosize/watermark"
)

// MaxArchiveBytes is the marketplace limit for a single uploaded file.
const MaxArchiveBytes int64 = 20 << 20

var log = logger.With("pack")

// Archive is one compressed family bundle.
type Archive struct {
	Family  catalog.Family
	Name    string
	Data    []byte
	Entries []string
}

func (a Archive) Size() int64 {
	return int64(len(a.Data))
}

// Builder renders derivatives and assembles archives.
type Builder struct {
	// Workers bounds parallel derivatives within one family.
	Workers   int
	MaxBytes  int64
	Options   encoder.EncodeOptions
	Watermark *watermark.Compositor
	// Sizes lists a family's targets, catalog.ListSizes unless replaced.
	Sizes func(catalog.Family, catalog.Orientation) ([]catalog.Size, error)
}

// NewBuilder returns a builder with the marketplace cap and the fixed encode settings.
func NewBuilder(workers int, wm *watermark.Compositor) *Builder {
	if workers < 1 {
		workers = 1
	}
	if wm == nil {
		wm = watermark.New("", "")
	}
	return &Builder{
		Workers:   workers,
		MaxBytes:  MaxArchiveBytes,
		Options:   encoder.Defaults,
		Watermark: wm,
		Sizes:     catalog.ListSizes,
	}
}

// Build produces one archive per family, in the order given. If any archive
// exceeds the cap the whole batch fails and nothing is returned.
func (b *Builder) Build(ctx context.Context, img image.Image, families []catalog.Family, o catalog.Orientation, gated bool) ([]Archive, error) {
	if img == nil {
		return nil, failures.New(failures.KindInputMissing, "no image")
	}
	if len(families) == 0 {
		return nil, failures.New(failures.KindInputMissing, "choose at least one family")
	}

	archives := make([]Archive, 0, len(families))
	for _, f := range families {
		sizes, err := b.Sizes(f, o)
		if err != nil {
			return nil, failures.Wrap(failures.KindInputMissing, err, "unknown family %s", f)
		}
		a, err := b.buildFamily(ctx, img, f, sizes, gated)
		if err != nil {
			return nil, err
		}
		archives = append(archives, a)
	}
	return archives, nil
}

func (b *Builder) buildFamily(ctx context.Context, img image.Image, f catalog.Family, sizes []catalog.Size, gated bool) (Archive, error) {
	start := time.Now()
	entries, err := b.renderAll(ctx, img, string(f), sizes, gated)
	if err != nil {
		return Archive{}, err
	}

	data, err := Zip(entries)
	if err != nil {
		return Archive{}, fmt.Errorf("zip %s: %w", f, err)
	}
	metrics.ArchiveBytes.Observe(float64(len(data)))
	if int64(len(data)) > b.MaxBytes {
		log.Warnf("family %s archive is %d bytes, over the %d byte cap", f, len(data), b.MaxBytes)
		return Archive{}, failures.ArchiveTooLarge(string(f), int64(len(data)), b.MaxBytes)
	}

	names := entryNames(entries)
	log.Infof("family %s: %d entries, %d bytes in %s", f, len(entries), len(data), time.Since(start).Round(time.Millisecond))
	return Archive{Family: f, Name: string(f) + ".zip", Data: data, Entries: names}, nil
}

// renderAll renders every size, possibly in parallel, and returns entries in
// the order of sizes regardless of completion order.
func (b *Builder) renderAll(ctx context.Context, img image.Image, label string, sizes []catalog.Size, gated bool) ([]Entry, error) {
	entries := make([]Entry, len(sizes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.Workers)
	for i, s := range sizes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := b.Derive(img, s.Width, s.Height, label, gated)
			if err != nil {
				return fmt.Errorf("render %s: %w", s.Label, err)
			}
			entries[i] = Entry{Name: s.FileName(), Data: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Derive renders one w x h JPEG, watermarked when gated. label only tags metrics.
func (b *Builder) Derive(img image.Image, w, h int, label string, gated bool) ([]byte, error) {
	start := time.Now()
	resized := encoder.Resize(img, w, h)
	var out image.Image = resized
	if gated {
		out = b.Watermark.Apply(resized)
	}
	data, err := encodeBytes(out, b.Options)
	if err != nil {
		return nil, err
	}
	metrics.Derivatives.WithLabelValues(label).Inc()
	metrics.DerivativeSeconds.WithLabelValues(label).Observe(time.Since(start).Seconds())
	return data, nil
}
