package command

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Language names the query language an engine understands.
// Values are normalized: NFC, trimmed and upper-cased.
type Language string

const (
	// Unknown is the language of a blank identifier.
	Unknown Language = "UNKNOWN"

	// SQL is served by the bundled sql engine.
	SQL Language = "SQL"

	// SPARQL is reserved for graph engines.
	SPARQL Language = "SPARQL"
)

// ParseLanguage normalizes a raw language name.
// Blank input yields Unknown.
func ParseLanguage(raw string) Language {
	s := strings.TrimSpace(norm.NFC.String(raw))
	if s == "" {
		return Unknown
	}
	return Language(strings.ToUpper(s))
}

// String returns the normalized name.
func (l Language) String() string {
	return string(l)
}

// IsUnknown reports whether l is the Unknown language.
func (l Language) IsUnknown() bool {
	return l == Unknown || l == ""
}
