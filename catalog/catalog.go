// Package catalog holds the fixed table of print families and their sizes.
package catalog

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DPI is the print resolution every derivative is produced at.
const DPI = 300

type Family string

const (
	Family2x3    Family = "2x3"
	Family3x4    Family = "3x4"
	Family4x5    Family = "4x5"
	FamilyISO    Family = "ISO"
	FamilyExtras Family = "EXTRAS"
)

type Orientation string

const (
	Portrait  Orientation = "portrait"
	Landscape Orientation = "landscape"
)

// ParseOrientation accepts "portrait"/"landscape" in any case. Empty means portrait.
func ParseOrientation(s string) (Orientation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "portrait":
		return Portrait, nil
	case "landscape":
		return Landscape, nil
	}
	return "", fmt.Errorf("unknown orientation %q", s)
}

// entry is one catalog row in portrait form. Exactly one of the inch or
// pixel pairs is set.
type entry struct {
	label    string
	wIn, hIn float64
	wPx, hPx int
}

func (s entry) pixels() bool {
	return s.wPx > 0
}

// Size is a concrete target for one orientation.
type Size struct {
	Family Family
	Label  string
	Width  int
	Height int
}

// FileName is the archive entry name, e.g. "8x10in_2400x3000.jpg".
func (s Size) FileName() string {
	return fmt.Sprintf("%s_%dx%d.jpg", Sanitize(s.Label), s.Width, s.Height)
}

// ExportName is the file name used for a single-size export.
func (s Size) ExportName() string {
	return fmt.Sprintf("export_%s_%s_%dx%d.jpg", Sanitize(string(s.Family)), Sanitize(s.Label), s.Width, s.Height)
}

func (s Size) String() string {
	return fmt.Sprintf("%s %s (%dx%d)", s.Family, s.Label, s.Width, s.Height)
}

var order = []Family{Family2x3, Family3x4, Family4x5, FamilyISO, FamilyExtras}

var table = map[Family][]entry{
	Family2x3: {
		{wIn: 4, hIn: 6}, {wIn: 8, hIn: 12}, {wIn: 10, hIn: 15},
		{wIn: 12, hIn: 18}, {wIn: 16, hIn: 24}, {wIn: 20, hIn: 30},
	},
	Family3x4: {
		{wIn: 6, hIn: 8}, {wIn: 9, hIn: 12}, {wIn: 12, hIn: 16},
		{wIn: 15, hIn: 20}, {wIn: 18, hIn: 24},
	},
	Family4x5: {
		{wIn: 8, hIn: 10}, {wIn: 12, hIn: 15}, {wIn: 16, hIn: 20}, {wIn: 20, hIn: 25},
	},
	FamilyISO: {
		{label: "A5", wPx: 1748, hPx: 2480},
		{label: "A4", wPx: 2480, hPx: 3508},
		{label: "A3", wPx: 3508, hPx: 4961},
		{label: "A2", wPx: 4961, hPx: 7016},
		{label: "A1", wPx: 7016, hPx: 9933},
	},
	FamilyExtras: {
		{label: "5x7", wIn: 5, hIn: 7},
		{label: "8.5x11", wIn: 8.5, hIn: 11},
		{label: "11x14", wIn: 11, hIn: 14},
		{label: "16x20", wIn: 16, hIn: 20},
		{label: "20x24", wIn: 20, hIn: 24},
	},
}

// Families returns the families in display order.
func Families() []Family {
	out := make([]Family, len(order))
	copy(out, order)
	return out
}

// ParseFamily matches a family key exactly, falling back to a case-insensitive match.
func ParseFamily(s string) (Family, error) {
	s = strings.TrimSpace(s)
	for _, f := range order {
		if string(f) == s || strings.EqualFold(string(f), s) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown family %q", s)
}

// ListSizes returns the sizes of a family in catalog order for the given orientation.
func ListSizes(f Family, o Orientation) ([]Size, error) {
	rows, ok := table[f]
	if !ok {
		return nil, fmt.Errorf("unknown family %q", f)
	}
	if o != Portrait && o != Landscape {
		return nil, fmt.Errorf("unknown orientation %q", o)
	}
	sizes := make([]Size, 0, len(rows))
	for _, row := range rows {
		sizes = append(sizes, row.resolve(f, o))
	}
	return sizes, nil
}

// Lookup finds a size in a family by its oriented label ("10x8in", "A4").
func Lookup(f Family, label string, o Orientation) (Size, error) {
	sizes, err := ListSizes(f, o)
	if err != nil {
		return Size{}, err
	}
	for _, s := range sizes {
		if s.Label == label || Sanitize(s.Label) == label {
			return s, nil
		}
	}
	return Size{}, fmt.Errorf("family %s has no size %q", f, label)
}

func (sp entry) resolve(f Family, o Orientation) Size {
	var s Size
	s.Family = f
	if sp.pixels() {
		s.Label, s.Width, s.Height = sp.label, sp.wPx, sp.hPx
	} else {
		s.Width, s.Height = inchToPx(sp.wIn), inchToPx(sp.hIn)
		if sp.label != "" {
			s.Label = sp.label
		} else {
			s.Label = FormatInches(sp.wIn) + "x" + FormatInches(sp.hIn) + "in"
		}
	}
	if o == Landscape {
		s.Width, s.Height = s.Height, s.Width
		if !sp.pixels() {
			s.Label = swapLabel(s.Label)
		}
	}
	return s
}

func inchToPx(in float64) int {
	return int(math.Round(in * DPI))
}

// FormatInches renders 8 as "8" and 8.5 as "8.5".
func FormatInches(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}

// swapLabel turns "8x10in" into "10x8in" and "8.5x11" into "11x8.5".
func swapLabel(label string) string {
	i := strings.IndexByte(label, 'x')
	if i < 0 {
		return label
	}
	left, right := label[:i], label[i+1:]
	suffix := ""
	if strings.HasSuffix(right, "in") {
		right, suffix = strings.TrimSuffix(right, "in"), "in"
	}
	return right + "x" + left + suffix
}

// Sanitize makes a label safe for file names. Spaces and path separators
// become underscores; ':', '(', ')' and ',' are removed. '.' is kept.
func Sanitize(label string) string {
	return strings.NewReplacer(
		" ", "_",
		"/", "_",
		"\\", "_",
		"(", "",
		")", "",
		":", "",
		",", "",
	).Replace(label)
}
