package storage

import (
	"strings"

	"sip/core"
)

// cond is a SQL fragment with its bound arguments.
type cond struct {
	expr string
	args []any
}

// queryPlan accumulates joins, predicates, and aggregation state while
// filters are applied, then compiles to a listing or count query. A single
// table set covers every join so two filters touching the same association
// share one join instead of multiplying rows.
type queryPlan struct {
	joins   []string
	tables  map[string]bool
	where   []cond
	having  []cond
	groupBy bool
}

func newQueryPlan() *queryPlan {
	return &queryPlan{tables: map[string]bool{"indicator_types": true}}
}

func (p *queryPlan) joinOnce(table, clause string) {
	if p.tables[table] {
		return
	}
	p.tables[table] = true
	p.joins = append(p.joins, clause)
}

func (p *queryPlan) addWhere(expr string, args ...any) {
	p.where = append(p.where, cond{expr: expr, args: args})
}

func (p *queryPlan) addHaving(expr string, args ...any) {
	p.having = append(p.having, cond{expr: expr, args: args})
	p.groupBy = true
}

// joinTags joins through to the tags table.
func (p *queryPlan) joinTags() {
	p.joinOnce("indicator_tags", "JOIN indicator_tags ON indicator_tags.indicator_id = indicators.id")
	p.joinOnce("tags", "JOIN tags ON indicator_tags.tag_id = tags.id")
}

// joinReferences joins through to the intel_references table. Source and
// user filters extend this chain one table further.
func (p *queryPlan) joinReferences() {
	p.joinOnce("indicator_references", "JOIN indicator_references ON indicator_references.indicator_id = indicators.id")
	p.joinOnce("intel_references", "JOIN intel_references ON indicator_references.intel_reference_id = intel_references.id")
}

func (p *queryPlan) joinSources() {
	p.joinReferences()
	p.joinOnce("intel_sources", "JOIN intel_sources ON intel_references.intel_source_id = intel_sources.id")
}

func (p *queryPlan) joinUsers() {
	p.joinReferences()
	p.joinOnce("users", "JOIN users ON intel_references.user_id = users.id")
}

// applyBoolean filters on a boolean column. Unrecognized text degrades to a
// match-nothing predicate: the columns are NOT NULL, so the IS NULL check is
// never satisfied.
func (p *queryPlan) applyBoolean(column, raw string) {
	if b, ok := core.ParseBoolean(raw); ok {
		p.addWhere(column+" = ?", b)
		return
	}
	p.addWhere(column + " IS NULL")
}

// applyList applies multi-value list semantics to a column. A single value is
// plain equality. Multiple OR values become one disjunction. Multiple AND
// values require a row per value through the join, expressed as one HAVING
// aggregate per value over the grouped indicator.
func (p *queryPlan) applyList(column string, vl core.ValueList) {
	if len(vl.Values) == 1 {
		p.addWhere(column+" = ?", vl.Values[0])
		return
	}
	if vl.Or {
		parts := make([]string, len(vl.Values))
		args := make([]any, len(vl.Values))
		for i, v := range vl.Values {
			parts[i] = column + " = ?"
			args[i] = v
		}
		p.addWhere("("+strings.Join(parts, " OR ")+")", args...)
		return
	}
	for _, v := range vl.Values {
		p.addHaving("SUM("+column+" = ?) > 0", v)
	}
}

// buildIndicatorQuery translates filters into a query plan. Handlers run in a
// fixed order so the compiled SQL and argument order are deterministic for a
// given filter set.
func buildIndicatorQuery(f core.IndicatorFilters) *queryPlan {
	p := newQueryPlan()

	if f.CaseSensitive != nil {
		p.applyBoolean("indicators.case_sensitive", *f.CaseSensitive)
	}

	if f.Confidence != nil {
		p.joinOnce("indicator_confidences", "JOIN indicator_confidences ON indicators.confidence_id = indicator_confidences.id")
		p.addWhere("indicator_confidences.value = ?", *f.Confidence)
	}

	if f.CreatedAfter != nil {
		p.addWhere("indicators.created_time > ?", core.ParseFilterTime(*f.CreatedAfter, core.MaxFilterTime))
	}
	if f.CreatedBefore != nil {
		p.addWhere("indicators.created_time < ?", core.ParseFilterTime(*f.CreatedBefore, core.MinFilterTime))
	}

	if f.ExactValue != nil {
		p.addWhere("indicators.value = ?", *f.ExactValue)
	}

	if f.Impact != nil {
		p.joinOnce("indicator_impacts", "JOIN indicator_impacts ON indicators.impact_id = indicator_impacts.id")
		p.addWhere("indicator_impacts.value = ?", *f.Impact)
	}

	if f.ModifiedAfter != nil {
		p.addWhere("indicators.modified_time > ?", core.ParseFilterTime(*f.ModifiedAfter, core.MaxFilterTime))
	}
	if f.ModifiedBefore != nil {
		p.addWhere("indicators.modified_time < ?", core.ParseFilterTime(*f.ModifiedBefore, core.MinFilterTime))
	}

	if f.NoCampaigns {
		p.addWhere("NOT EXISTS (SELECT 1 FROM indicator_campaigns WHERE indicator_campaigns.indicator_id = indicators.id)")
	}
	if f.NoReferences {
		p.addWhere("NOT EXISTS (SELECT 1 FROM indicator_references WHERE indicator_references.indicator_id = indicators.id)")
	}
	if f.NoTags {
		p.addWhere("NOT EXISTS (SELECT 1 FROM indicator_tags WHERE indicator_tags.indicator_id = indicators.id)")
	}

	if len(f.NotSources) > 0 {
		p.joinSources()
		for _, v := range f.NotSources {
			p.addWhere("intel_sources.value != ?", v)
		}
		p.groupBy = true
	}

	if len(f.NotTags) > 0 {
		for _, v := range f.NotTags {
			p.addWhere("NOT EXISTS (SELECT 1 FROM indicator_tags JOIN tags ON indicator_tags.tag_id = tags.id WHERE indicator_tags.indicator_id = indicators.id AND tags.value = ?)", v)
		}
		p.groupBy = true
	}

	if len(f.NotUsers) > 0 {
		p.joinUsers()
		for _, v := range f.NotUsers {
			p.addWhere("users.username != ?", v)
		}
		p.groupBy = true
	}

	if f.Reference != nil {
		p.addWhere("EXISTS (SELECT 1 FROM indicator_references JOIN intel_references ON indicator_references.intel_reference_id = intel_references.id WHERE indicator_references.indicator_id = indicators.id AND intel_references.reference = ?)", *f.Reference)
		p.groupBy = true
	}

	// The association-chain filters always group by indicator id: the joins
	// multiply rows per associated entity, and grouping collapses them back.
	if f.Sources != nil {
		p.joinSources()
		p.groupBy = true
		p.applyList("intel_sources.value", *f.Sources)
	}

	if f.Status != nil {
		p.joinOnce("indicator_statuses", "JOIN indicator_statuses ON indicators.status_id = indicator_statuses.id")
		p.addWhere("indicator_statuses.value = ?", *f.Status)
	}

	if f.Substring != nil {
		p.applyBoolean("indicators.substring", *f.Substring)
	}

	if f.Tags != nil {
		p.joinTags()
		p.groupBy = true
		p.applyList("tags.value", *f.Tags)
	}

	if f.Type != nil {
		p.addWhere("indicator_types.value = ?", *f.Type)
	}

	// types is always a disjunction, marker or not.
	if len(f.Types) > 0 {
		parts := make([]string, len(f.Types))
		args := make([]any, len(f.Types))
		for i, v := range f.Types {
			parts[i] = "indicator_types.value = ?"
			args[i] = v
		}
		p.addWhere("("+strings.Join(parts, " OR ")+")", args...)
	}

	if f.User != nil {
		p.joinUsers()
		p.groupBy = true
		p.addWhere("users.username = ?", *f.User)
	}

	if f.Users != nil {
		p.joinUsers()
		p.groupBy = true
		p.applyList("users.username", *f.Users)
	}

	if f.Value != nil {
		p.addWhere("indicators.value LIKE ?", "%"+*f.Value+"%")
	}

	return p
}

// body renders everything after SELECT ... : the FROM clause, joins, WHERE,
// and grouping, returning the SQL tail and its arguments in bind order.
func (p *queryPlan) body() (string, []any) {
	var b strings.Builder
	var args []any

	b.WriteString("FROM indicators JOIN indicator_types ON indicators.type_id = indicator_types.id")
	for _, j := range p.joins {
		b.WriteString(" ")
		b.WriteString(j)
	}

	if len(p.where) > 0 {
		exprs := make([]string, len(p.where))
		for i, c := range p.where {
			exprs[i] = c.expr
			args = append(args, c.args...)
		}
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(exprs, " AND "))
	}

	if p.groupBy {
		b.WriteString(" GROUP BY indicators.id")
	}

	if len(p.having) > 0 {
		exprs := make([]string, len(p.having))
		for i, c := range p.having {
			exprs[i] = c.expr
			args = append(args, c.args...)
		}
		b.WriteString(" HAVING ")
		b.WriteString(strings.Join(exprs, " AND "))
	}

	return b.String(), args
}

// Compile renders the listing query: the compact id/type/value projection in
// stable id order.
func (p *queryPlan) Compile() (string, []any) {
	body, args := p.body()
	return "SELECT indicators.id, indicator_types.value, indicators.value " + body + " ORDER BY indicators.id", args
}

// CompileCount renders the count query. Grouped plans count distinct grouped
// indicators through a subquery so the result matches the listing row count.
func (p *queryPlan) CompileCount() (string, []any) {
	body, args := p.body()
	if p.groupBy {
		return "SELECT COUNT(*) FROM (SELECT indicators.id " + body + ")", args
	}
	return "SELECT COUNT(*) " + body, args
}
