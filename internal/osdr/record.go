package osdr

import (
	"regexp"
	"strings"

	"github.com/54b3r/osdr-rag-go/internal/index"
)

// Record is one study hit from the search endpoint.
type Record struct {
	// NumericID is the numeric part of the OSD accession, e.g. "379".
	NumericID string
	// Title is the study protocol name or title ("No Title" when absent).
	Title string
	// Program is the flight program ("Unknown" when absent).
	Program string
	// MissionStart and MissionEnd come from the nested Mission object.
	MissionStart string
	MissionEnd   string
	// Source is the untouched _source object of the hit.
	Source map[string]any
}

// File is one entry of a study file listing.
type File struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	Size        string `json:"size"`
	DownloadURL string `json:"download_url"`
}

// accessionKeys are the _source fields that may carry the OSD accession, in
// lookup order.
var accessionKeys = []string{"OSD Study Id", "OSD Study ID", "Study Identifier", "Study Accession"}

var accessionRe = regexp.MustCompile(`(?i)OSD-(\d+)(?:\.\d+)?`)

// ExtractNumeric returns the numeric accession carried by v: v itself when it
// is all digits, else the number of the first "OSD-<n>" occurrence.
func ExtractNumeric(v any) (string, bool) {
	s := strings.TrimSpace(index.Stringify(v))
	if s == "" {
		return "", false
	}
	if isDigits(s) {
		return s, true
	}
	if m := accessionRe.FindStringSubmatch(s); m != nil {
		return m[1], true
	}
	return "", false
}

// Label returns the "OSD-<n>" accession label for a numeric id.
func Label(numericID string) string { return "OSD-" + numericID }

// StudyURL returns the public study page for a numeric id.
func StudyURL(numericID string) string {
	return DefaultBaseURL + "/bio/repo/data/studies/" + Label(numericID)
}

// DownloadURL makes a remote file path absolute against base. Absolute
// http(s) URLs are returned unchanged.
func DownloadURL(base, remote string) string {
	if remote == "" {
		return ""
	}
	if strings.HasPrefix(remote, "http://") || strings.HasPrefix(remote, "https://") {
		return remote
	}
	if !strings.HasPrefix(remote, "/") {
		remote = "/" + remote
	}
	return strings.TrimRight(base, "/") + remote
}

// recordFromSource normalizes a search hit. ok is false when no accession
// field yields a numeric id.
func recordFromSource(src map[string]any) (Record, bool) {
	var num string
	for _, k := range accessionKeys {
		if n, ok := ExtractNumeric(src[k]); ok {
			num = n
			break
		}
	}
	if num == "" {
		return Record{}, false
	}

	mission, _ := src["Mission"].(map[string]any)
	return Record{
		NumericID:    num,
		Title:        orDefault(first(src, "Study Protocol Name", "Study Title"), "No Title"),
		Program:      orDefault(first(src, "Flight Program", "Program"), "Unknown"),
		MissionStart: orDefault(first(mission, "Start Date"), "Unknown"),
		MissionEnd:   orDefault(first(mission, "End Date"), "Unknown"),
		Source:       src,
	}, true
}

// first returns the first non-blank stringified value among keys.
func first(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(index.Stringify(m[k])); s != "" {
			return s
		}
	}
	return ""
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
