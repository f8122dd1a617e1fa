package routes

import (
	"encoding/json"
	"net/http"

	"snaptosize/catalog"
	"snaptosize/failures"
)

// SizeInfo is one catalog entry as served by /api/sizes.
type SizeInfo struct {
	Family   catalog.Family `json:"family"`
	Label    string         `json:"label"`
	Width    int            `json:"width"`
	Height   int            `json:"height"`
	FileName string         `json:"file_name"`
}

// SizesHandler lists catalog sizes, optionally for one family, in portrait
// unless ?orientation=landscape.
func SizesHandler(w http.ResponseWriter, r *http.Request) {
	o := catalog.Portrait
	if v := r.URL.Query().Get("orientation"); v != "" {
		parsed, err := catalog.ParseOrientation(v)
		if err != nil {
			failures.WriteJSON(w, failures.Wrap(failures.KindInputUnsupported, err, "unknown orientation %q", v))
			return
		}
		o = parsed
	}

	families := catalog.Families()
	if v := r.URL.Query().Get("family"); v != "" {
		f, err := catalog.ParseFamily(v)
		if err != nil {
			failures.WriteJSON(w, failures.Wrap(failures.KindInputUnsupported, err, "unknown family %q", v))
			return
		}
		families = []catalog.Family{f}
	}

	out := []SizeInfo{}
	for _, f := range families {
		sizes, err := catalog.ListSizes(f, o)
		if err != nil {
			failures.WriteJSON(w, err)
			return
		}
		for _, s := range sizes {
			out = append(out, SizeInfo{Family: f, Label: s.Label, Width: s.Width, Height: s.Height, FileName: s.FileName()})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
