package transport

import (
	"strconv"
	"strings"
)

// Marker is a reaction marker: either a plain unicode symbol or a platform
// custom emoji. The zero value is invalid.
type Marker struct {
	symbol string
	id     int64
	name   string
}

// Unicode returns a unicode-symbol marker.
func Unicode(symbol string) Marker { return Marker{symbol: symbol} }

// Custom returns a platform custom-emoji marker.
func Custom(id int64, name string) Marker { return Marker{id: id, name: name} }

func (m Marker) IsCustom() bool { return m.id != 0 }
func (m Marker) IsZero() bool   { return m.id == 0 && m.symbol == "" }
func (m Marker) Symbol() string { return m.symbol }
func (m Marker) CustomID() int64 {
	return m.id
}

// Equal compares markers structurally. Custom markers match by id only
// since names can be edited on the platform.
func (m Marker) Equal(o Marker) bool {
	if m.IsCustom() || o.IsCustom() {
		return m.id == o.id
	}
	return m.symbol == o.symbol
}

// Key is a stable string form used in storage and config.
func (m Marker) Key() string {
	if m.IsCustom() {
		return "custom:" + strconv.FormatInt(m.id, 10) + ":" + m.name
	}
	return m.symbol
}

func (m Marker) String() string {
	if m.IsCustom() {
		return ":" + m.name + ":"
	}
	return m.symbol
}

// ParseMarker parses Key() output. Plain strings are unicode markers.
func ParseMarker(s string) Marker {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "custom:"); ok {
		idPart, name, _ := strings.Cut(rest, ":")
		if id, err := strconv.ParseInt(idPart, 10, 64); err == nil && id != 0 {
			return Custom(id, name)
		}
	}
	return Unicode(s)
}
