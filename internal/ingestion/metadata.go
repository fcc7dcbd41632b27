package ingestion

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Preview and abstract sizes, in runes.
const (
	previewRunes  = 400
	abstractRunes = 500
)

// defaultProgram is used when a record names no program.
const defaultProgram = "Unknown"

// fieldSpellings lists, per semantic field, the source column names tried in
// order. Each spelling is matched exactly first, then case-insensitively.
var fieldSpellings = map[string][]string{
	"title":    {"title", "Title"},
	"abstract": {"abstract", "Abstract", "summary"},
	"authors":  {"authors", "Authors"},
	"program":  {"program", "Program"},
	"date":     {"date", "Date"},
	"link":     {"link", "Link"},
	"journal":  {"journal", "Journal"},
}

var yearRe = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// lookup resolves a semantic field against a flat record using the field's
// spellings. Values are trimmed; a missing field yields "".
func lookup(rec map[string]string, field string) string {
	spellings := fieldSpellings[field]
	for _, k := range spellings {
		if v, ok := rec[k]; ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	for _, k := range spellings {
		for rk, v := range rec {
			if strings.EqualFold(strings.TrimSpace(rk), k) {
				if v = strings.TrimSpace(v); v != "" {
					return v
				}
			}
		}
	}
	return ""
}

// deriveYear returns the first plausible four-digit year (1900-2099) found
// in s, or "".
func deriveYear(s string) string {
	return yearRe.FindString(s)
}

// searchableText joins title and abstract into the text that gets embedded.
func searchableText(title, abstract string) string {
	return strings.TrimSpace(title + "\n\n" + abstract)
}

// truncateRunes returns at most n leading runes of s.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
