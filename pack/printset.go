package pack

import (
	"context"
	"fmt"
	"image"

	"snaptosize/catalog"
)

// PrintSet renders every family into one flat list, in family order and then
// catalog order. Output is never watermarked and no cap is applied.
func (b *Builder) PrintSet(ctx context.Context, img image.Image, o catalog.Orientation) ([]Entry, error) {
	var all []Entry
	for _, f := range catalog.Families() {
		sizes, err := b.Sizes(f, o)
		if err != nil {
			return nil, err
		}
		entries, err := b.renderAll(ctx, img, string(f), sizes, false)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}
	return all, nil
}

// PrintSetArchives zips entries as "{stem}.zip". When that archive exceeds
// limit, the entries are regrouped into "{stem}_part{N}.zip" archives instead.
func PrintSetArchives(entries []Entry, stem string, limit int64) ([]Archive, error) {
	data, err := Zip(entries)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) <= limit {
		return []Archive{{Name: stem + ".zip", Data: data, Entries: entryNames(entries)}}, nil
	}

	groups := Split(entries, limit)
	log.Infof("%s is %d bytes, splitting into %d parts", stem, len(data), len(groups))
	out := make([]Archive, 0, len(groups))
	for i, g := range groups {
		part, err := Zip(g)
		if err != nil {
			return nil, err
		}
		out = append(out, Archive{Name: fmt.Sprintf("%s_part%d.zip", stem, i+1), Data: part, Entries: entryNames(g)})
	}
	return out, nil
}

func entryNames(entries []Entry) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}
