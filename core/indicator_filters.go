package core

import (
	"strings"
	"time"
)

// OrMarker switches a comma-separated filter list from AND to OR semantics
// when it appears anywhere in the raw value.
const OrMarker = "[OR]"

// MaxFilterTime and MinFilterTime are the fallbacks for unparseable time
// filters. An unparseable "after" bound falls back to the far future and an
// unparseable "before" bound to the distant past, so a bad value matches
// nothing rather than everything.
var (
	MaxFilterTime = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)
	MinFilterTime = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
)

var filterTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseFilterTime parses a time filter leniently, returning fallback when no
// layout matches. It never reports an error.
func ParseFilterTime(s string, fallback time.Time) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range filterTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return fallback
}

// ParseBoolean interprets the usual textual booleans. ok is false for
// anything unrecognized, which boolean filters turn into a match-nothing
// predicate rather than an error.
func ParseBoolean(s string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "y", "1":
		return true, true
	case "false", "f", "no", "n", "0":
		return false, true
	}
	return false, false
}

// ValueList is a parsed multi-value filter. Or reports whether the raw value
// carried the [OR] marker.
type ValueList struct {
	Values []string
	Or     bool
}

// ParseValueList strips the OR marker if present and splits the remainder on
// commas. Values are not trimmed; they match the stored strings exactly.
func ParseValueList(s string) ValueList {
	or := strings.Contains(s, OrMarker)
	if or {
		s = strings.ReplaceAll(s, OrMarker, "")
	}
	return ValueList{Values: strings.Split(s, ","), Or: or}
}

// IndicatorFilters carries every recognized listing filter. Nil pointer and
// empty slice fields mean the filter was absent from the request. Boolean and
// date filters carry the raw request text; the planner parses them with the
// lenient fallbacks.
type IndicatorFilters struct {
	CaseSensitive  *string
	Confidence     *string
	CreatedAfter   *string
	CreatedBefore  *string
	ExactValue     *string
	Impact         *string
	ModifiedAfter  *string
	ModifiedBefore *string
	NoCampaigns    bool
	NoReferences   bool
	NoTags         bool
	NotSources     []string
	NotTags        []string
	NotUsers       []string
	Reference      *string
	Sources        *ValueList
	Status         *string
	Substring      *string
	Tags           *ValueList
	Type           *string
	Types          []string
	User           *string
	Users          *ValueList
	Value          *string
}
