// Package index holds the in-memory search structures of osdrrag: a flat
// squared-L2 vector index, the position-aligned metadata store, the snapshot
// pairing the two on disk, and the process-wide holder readers load from.
//
// Row i of the vector index and item i of the store always describe the same
// record. Both are created together by a rebuild, persisted together, and
// replaced together; nothing in this package mutates a built snapshot.
package index

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Origin identifies the source an item was ingested from.
type Origin string

const (
	// OriginCSV marks items read from the local papers CSV.
	OriginCSV Origin = "csv"
	// OriginOSDR marks items fetched from the OSDR catalog.
	OriginOSDR Origin = "osdr"
)

// Metadata is the canonical record shape every ingested item is normalized
// into. Downstream components never see source-specific field spellings.
type Metadata struct {
	Origin       Origin         `json:"origin"`
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Authors      string         `json:"authors"`
	Program      string         `json:"program"`
	Date         string         `json:"date"`
	Year         string         `json:"year"`
	Link         string         `json:"link"`
	Journal      string         `json:"journal,omitempty"`
	Abstract     string         `json:"abstract"`
	OSDID        string         `json:"osd_id,omitempty"`
	MissionStart string         `json:"mission_start,omitempty"`
	MissionEnd   string         `json:"mission_end,omitempty"`
	Related      []string       `json:"related,omitempty"`
	Raw          map[string]any `json:"raw,omitempty"`
}

// Field returns the stringified value stored under key. Named fields are
// matched case-insensitively; any other key is looked up in Raw. A missing
// field yields "".
func (m Metadata) Field(key string) string {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "origin":
		return string(m.Origin)
	case "id":
		return m.ID
	case "title":
		return m.Title
	case "authors":
		return m.Authors
	case "program":
		return m.Program
	case "date":
		return m.Date
	case "year":
		return m.Year
	case "link":
		return m.Link
	case "journal":
		return m.Journal
	case "abstract":
		return m.Abstract
	case "osd_id":
		return m.OSDID
	case "mission_start":
		return m.MissionStart
	case "mission_end":
		return m.MissionEnd
	case "related":
		return strings.Join(m.Related, ",")
	}
	if v, ok := m.Raw[key]; ok {
		return Stringify(v)
	}
	for k, v := range m.Raw {
		if strings.EqualFold(k, key) {
			return Stringify(v)
		}
	}
	return ""
}

// Item is the unit of indexing.
type Item struct {
	// ID is unique within a snapshot and derived deterministically from the source.
	ID string `json:"id"`
	// Meta is the canonical metadata record.
	Meta Metadata `json:"meta"`
	// TextPreview is the leading part of SearchableText kept for display.
	TextPreview string `json:"text_preview"`
	// SearchableText is the text that was embedded. It is not persisted.
	SearchableText string `json:"-"`
}

// Stringify renders a decoded JSON or CSV value as plain text. Integral
// floats print without a fractional part, lists are comma-joined and nested
// objects are rendered as compact JSON with sorted keys.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float32:
		return formatFloat(float64(t))
	case float64:
		return formatFloat(t)
	case json.Number:
		return t.String()
	case []string:
		return strings.Join(t, ",")
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			parts = append(parts, Stringify(e))
		}
		return strings.Join(parts, ",")
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make([]string, 0, len(keys))
		for _, k := range keys {
			ordered = append(ordered, k+":"+Stringify(t[k]))
		}
		return "{" + strings.Join(ordered, ",") + "}"
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// formatFloat prints integral values without a decimal point.
func formatFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
