package pack

import (
	"archive/zip"
	"bytes"
	"fmt"
	"image"
	"io"
	"time"

	"snaptosize/encoder"
)

// Entry is one file inside an archive.
type Entry struct {
	Name string
	Data []byte
}

// fixed modification time keeps archives byte-stable across runs
var entryTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Zip writes entries, in order, into a DEFLATE archive.
func Zip(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     e.Name,
			Method:   zip.Deflate,
			Modified: entryTime,
		})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(e.Data); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unzip returns the entries of an archive in stored order.
func Unzip(data []byte) ([]Entry, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		body, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		entries = append(entries, Entry{Name: f.Name, Data: body})
	}
	return entries, nil
}

// Split groups entries greedily so that each group's uncompressed size stays
// under limit. An entry is never split; an oversized entry gets its own group.
func Split(entries []Entry, limit int64) [][]Entry {
	var groups [][]Entry
	var current []Entry
	var size int64
	for _, e := range entries {
		n := int64(len(e.Data))
		if size+n > limit && len(current) > 0 {
			groups = append(groups, current)
			current, size = nil, 0
		}
		current = append(current, e)
		size += n
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

func encodeBytes(img image.Image, o encoder.EncodeOptions) ([]byte, error) {
	var buf bytes.Buffer
	if err := encoder.EncodeJPEG(&buf, img, o); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
