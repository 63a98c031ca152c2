package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"sip/core"
)

func strPtr(s string) *string { return &s }

func TestBuildIndicatorQueryNoFilters(t *testing.T) {
	query, args := buildIndicatorQuery(core.IndicatorFilters{}).Compile()
	assert.Equal(t,
		"SELECT indicators.id, indicator_types.value, indicators.value "+
			"FROM indicators JOIN indicator_types ON indicators.type_id = indicator_types.id "+
			"ORDER BY indicators.id",
		query)
	assert.Empty(t, args)
}

func TestBuildIndicatorQuerySingleValueFilters(t *testing.T) {
	f := core.IndicatorFilters{
		Type:       strPtr("IP"),
		Confidence: strPtr("HIGH"),
		ExactValue: strPtr("1.2.3.4"),
	}
	query, args := buildIndicatorQuery(f).Compile()

	assert.Contains(t, query, "JOIN indicator_confidences ON indicators.confidence_id = indicator_confidences.id")
	assert.Contains(t, query, "indicator_confidences.value = ?")
	assert.Contains(t, query, "indicators.value = ?")
	assert.Contains(t, query, "indicator_types.value = ?")
	assert.NotContains(t, query, "GROUP BY")
	assert.Equal(t, []any{"HIGH", "1.2.3.4", "IP"}, args)
}

func TestBuildIndicatorQueryValueSubstringMatch(t *testing.T) {
	f := core.IndicatorFilters{Value: strPtr("evil")}
	query, args := buildIndicatorQuery(f).Compile()
	assert.Contains(t, query, "indicators.value LIKE ?")
	assert.Equal(t, []any{"%evil%"}, args)
}

func TestBuildIndicatorQueryMultiValueAnd(t *testing.T) {
	f := core.IndicatorFilters{
		Tags: &core.ValueList{Values: []string{"phishing", "malware"}},
	}
	query, args := buildIndicatorQuery(f).Compile()

	assert.Contains(t, query, "JOIN indicator_tags ON indicator_tags.indicator_id = indicators.id")
	assert.Contains(t, query, "JOIN tags ON indicator_tags.tag_id = tags.id")
	assert.Contains(t, query, "GROUP BY indicators.id")
	assert.Contains(t, query, "HAVING SUM(tags.value = ?) > 0 AND SUM(tags.value = ?) > 0")
	assert.Equal(t, []any{"phishing", "malware"}, args)
}

func TestBuildIndicatorQueryMultiValueOr(t *testing.T) {
	f := core.IndicatorFilters{
		Tags: &core.ValueList{Values: []string{"phishing", "malware"}, Or: true},
	}
	query, args := buildIndicatorQuery(f).Compile()

	assert.Contains(t, query, "(tags.value = ? OR tags.value = ?)")
	// Grouping still applies: the tag join multiplies rows per tag.
	assert.Contains(t, query, "GROUP BY indicators.id")
	assert.NotContains(t, query, "HAVING")
	assert.Equal(t, []any{"phishing", "malware"}, args)
}

func TestBuildIndicatorQuerySingleValueListIsEquality(t *testing.T) {
	f := core.IndicatorFilters{
		Tags: &core.ValueList{Values: []string{"phishing"}},
	}
	query, _ := buildIndicatorQuery(f).Compile()
	assert.Contains(t, query, "tags.value = ?")
	assert.Contains(t, query, "GROUP BY indicators.id")
	assert.NotContains(t, query, "HAVING")
}

func TestBuildIndicatorQueryTypesAlwaysOr(t *testing.T) {
	// types is a disjunction even without the OR marker.
	f := core.IndicatorFilters{Types: []string{"IP", "FQDN"}}
	query, args := buildIndicatorQuery(f).Compile()
	assert.Contains(t, query, "(indicator_types.value = ? OR indicator_types.value = ?)")
	assert.NotContains(t, query, "HAVING")
	assert.Equal(t, []any{"IP", "FQDN"}, args)
}

func TestBuildIndicatorQueryJoinReuse(t *testing.T) {
	// tags and not_tags together must not join indicator_tags twice.
	f := core.IndicatorFilters{
		Tags:    &core.ValueList{Values: []string{"phishing"}},
		NotTags: []string{"benign"},
	}
	query, _ := buildIndicatorQuery(f).Compile()
	assert.Equal(t, 1, strings.Count(query, "JOIN indicator_tags ON indicator_tags.indicator_id = indicators.id"))

	// sources, users, and not_users share the reference join chain.
	f = core.IndicatorFilters{
		Sources:  &core.ValueList{Values: []string{"OSINT"}},
		Users:    &core.ValueList{Values: []string{"analyst"}},
		NotUsers: []string{"bot"},
	}
	query, _ = buildIndicatorQuery(f).Compile()
	assert.Equal(t, 1, strings.Count(query, "JOIN indicator_references ON indicator_references.indicator_id = indicators.id"))
	assert.Equal(t, 1, strings.Count(query, "JOIN intel_references ON indicator_references.intel_reference_id = intel_references.id"))
	assert.Equal(t, 1, strings.Count(query, "JOIN users ON intel_references.user_id = users.id"))
}

func TestBuildIndicatorQueryNotTagsAntiJoin(t *testing.T) {
	f := core.IndicatorFilters{NotTags: []string{"benign", "internal"}}
	query, args := buildIndicatorQuery(f).Compile()

	assert.Equal(t, 2, strings.Count(query, "NOT EXISTS (SELECT 1 FROM indicator_tags JOIN tags ON indicator_tags.tag_id = tags.id WHERE indicator_tags.indicator_id = indicators.id AND tags.value = ?)"))
	assert.Contains(t, query, "GROUP BY indicators.id")
	assert.Equal(t, []any{"benign", "internal"}, args)
}

func TestBuildIndicatorQueryExistenceFilters(t *testing.T) {
	f := core.IndicatorFilters{NoCampaigns: true, NoReferences: true, NoTags: true}
	query, args := buildIndicatorQuery(f).Compile()

	assert.Contains(t, query, "NOT EXISTS (SELECT 1 FROM indicator_campaigns WHERE indicator_campaigns.indicator_id = indicators.id)")
	assert.Contains(t, query, "NOT EXISTS (SELECT 1 FROM indicator_references WHERE indicator_references.indicator_id = indicators.id)")
	assert.Contains(t, query, "NOT EXISTS (SELECT 1 FROM indicator_tags WHERE indicator_tags.indicator_id = indicators.id)")
	assert.NotContains(t, query, "GROUP BY")
	assert.Empty(t, args)
}

func TestBuildIndicatorQueryReferenceFilter(t *testing.T) {
	f := core.IndicatorFilters{Reference: strPtr("http://example.com/report")}
	query, args := buildIndicatorQuery(f).Compile()

	assert.Contains(t, query, "EXISTS (SELECT 1 FROM indicator_references JOIN intel_references ON indicator_references.intel_reference_id = intel_references.id WHERE indicator_references.indicator_id = indicators.id AND intel_references.reference = ?)")
	assert.Contains(t, query, "GROUP BY indicators.id")
	assert.Equal(t, []any{"http://example.com/report"}, args)
}

func TestBuildIndicatorQueryDateFallbacks(t *testing.T) {
	// Unparseable "after" bounds fall back to the far future, "before" bounds
	// to the distant past, so bad input matches nothing.
	f := core.IndicatorFilters{
		CreatedAfter:  strPtr("garbage"),
		CreatedBefore: strPtr("garbage"),
	}
	_, args := buildIndicatorQuery(f).Compile()
	assert.Equal(t, []any{core.MaxFilterTime, core.MinFilterTime}, args)

	f = core.IndicatorFilters{ModifiedAfter: strPtr("2024-01-02")}
	query, args := buildIndicatorQuery(f).Compile()
	assert.Contains(t, query, "indicators.modified_time > ?")
	assert.Equal(t, []any{core.ParseFilterTime("2024-01-02", core.MaxFilterTime)}, args)
}

func TestBuildIndicatorQueryBooleanFilters(t *testing.T) {
	f := core.IndicatorFilters{
		CaseSensitive: strPtr("true"),
		Substring:     strPtr("false"),
	}
	query, args := buildIndicatorQuery(f).Compile()
	assert.Contains(t, query, "indicators.case_sensitive = ?")
	assert.Contains(t, query, "indicators.substring = ?")
	assert.Equal(t, []any{true, false}, args)

	// Unrecognized text turns into a predicate no row satisfies: the
	// columns are NOT NULL, so IS NULL never holds.
	f = core.IndicatorFilters{CaseSensitive: strPtr("maybe")}
	query, args = buildIndicatorQuery(f).Compile()
	assert.Contains(t, query, "indicators.case_sensitive IS NULL")
	assert.Empty(t, args)
}

func TestCompileCount(t *testing.T) {
	// Ungrouped plans count directly.
	query, args := buildIndicatorQuery(core.IndicatorFilters{Type: strPtr("IP")}).CompileCount()
	assert.True(t, strings.HasPrefix(query, "SELECT COUNT(*) FROM indicators"))
	assert.NotContains(t, query, "ORDER BY")
	assert.Equal(t, []any{"IP"}, args)

	// Grouped plans count the grouped subquery so HAVING still applies.
	f := core.IndicatorFilters{Tags: &core.ValueList{Values: []string{"a", "b"}}}
	query, args = buildIndicatorQuery(f).CompileCount()
	assert.True(t, strings.HasPrefix(query, "SELECT COUNT(*) FROM (SELECT indicators.id"))
	assert.Contains(t, query, "GROUP BY indicators.id")
	assert.Contains(t, query, "HAVING")
	assert.Equal(t, []any{"a", "b"}, args)
}
