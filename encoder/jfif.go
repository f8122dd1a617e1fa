package encoder

import (
	"encoding/binary"
	"errors"
)

var errNotJPEG = errors.New("not a JPEG stream")

// withDensity inserts (or replaces) the JFIF APP0 segment right after SOI
// so that viewers and print shops read the intended DPI.
func withDensity(data []byte, dpi int) ([]byte, error) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return nil, errNotJPEG
	}
	rest := data[2:]
	if len(rest) >= 4 && rest[0] == 0xFF && rest[1] == 0xE0 {
		n := int(binary.BigEndian.Uint16(rest[2:4]))
		if 2+n > len(rest) {
			return nil, errNotJPEG
		}
		rest = rest[2+n:]
	}

	app0 := []byte{
		0xFF, 0xE0, 0x00, 0x10,
		'J', 'F', 'I', 'F', 0x00,
		0x01, 0x01, // version 1.1
		0x01,       // density in dots per inch
		0, 0, 0, 0, // x and y density
		0x00, 0x00, // no thumbnail
	}
	binary.BigEndian.PutUint16(app0[12:14], uint16(dpi))
	binary.BigEndian.PutUint16(app0[14:16], uint16(dpi))

	out := make([]byte, 0, len(data)+len(app0))
	out = append(out, 0xFF, 0xD8)
	out = append(out, app0...)
	out = append(out, rest...)
	return out, nil
}

// ReadDensity returns the JFIF density of a JPEG stream when it is given in dots per inch.
func ReadDensity(data []byte) (x, y int, ok bool) {
	if len(data) < 20 || data[0] != 0xFF || data[1] != 0xD8 || data[2] != 0xFF || data[3] != 0xE0 {
		return 0, 0, false
	}
	seg := data[4:]
	if string(seg[2:7]) != "JFIF\x00" || seg[9] != 0x01 {
		return 0, 0, false
	}
	return int(binary.BigEndian.Uint16(seg[10:12])), int(binary.BigEndian.Uint16(seg[12:14])), true
}
