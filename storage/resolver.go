package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sip/config"
	"sip/core"
)

// lookupTables maps a lookup kind to its table. Campaigns are handled
// separately because they carry timestamps and a name column.
var lookupTables = map[core.LookupKind]string{
	core.KindIndicatorType:       "indicator_types",
	core.KindIndicatorConfidence: "indicator_confidences",
	core.KindIndicatorImpact:     "indicator_impacts",
	core.KindIndicatorStatus:     "indicator_statuses",
	core.KindTag:                 "tags",
	core.KindIntelSource:         "intel_sources",
}

type lookupKey struct {
	kind  core.LookupKind
	value string
}

type refKey struct {
	source    string
	reference string
}

// resolver turns entity names into row IDs within a single transaction,
// creating missing rows where the auto-create configuration allows it. Each
// resolution is cached for the lifetime of the resolver, so a bulk ingest
// resolves each distinct name at most once.
type resolver struct {
	tx       *sql.Tx
	auto     config.AutoCreate
	lookups  map[lookupKey]int64
	refs     map[refKey]int64
	users    map[string]*core.User
	defaults map[core.LookupKind]int64
}

func newResolver(tx *sql.Tx, auto config.AutoCreate) *resolver {
	return &resolver{
		tx:       tx,
		auto:     auto,
		lookups:  make(map[lookupKey]int64),
		refs:     make(map[refKey]int64),
		users:    make(map[string]*core.User),
		defaults: make(map[core.LookupKind]int64),
	}
}

// lookup resolves a value in one of the simple lookup tables. When the value
// is absent and autoCreate is true it is inserted; otherwise the caller gets
// a NotFoundError.
func (r *resolver) lookup(ctx context.Context, kind core.LookupKind, value string, autoCreate bool) (int64, error) {
	key := lookupKey{kind: kind, value: value}
	if id, ok := r.lookups[key]; ok {
		return id, nil
	}

	if kind == core.KindCampaign {
		id, err := r.campaign(ctx, value, autoCreate)
		if err != nil {
			return 0, err
		}
		r.lookups[key] = id
		return id, nil
	}

	table, ok := lookupTables[kind]
	if !ok {
		return 0, fmt.Errorf("unknown lookup kind: %s", kind)
	}

	var id int64
	err := r.tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id FROM %s WHERE value = ?", table), value).Scan(&id)
	switch {
	case err == nil:
		r.lookups[key] = id
		return id, nil
	case errors.Is(err, sql.ErrNoRows):
		if !autoCreate {
			return 0, core.NewNotFoundError(kind, value)
		}
	default:
		return 0, fmt.Errorf("failed to resolve %s %q: %w", kind, value, err)
	}

	res, err := r.tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (value) VALUES (?)", table), value)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s %q: %w", kind, value, err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read %s id: %w", kind, err)
	}
	r.lookups[key] = id
	return id, nil
}

func (r *resolver) campaign(ctx context.Context, name string, autoCreate bool) (int64, error) {
	var id int64
	err := r.tx.QueryRowContext(ctx,
		"SELECT id FROM campaigns WHERE name = ?", name).Scan(&id)
	switch {
	case err == nil:
		return id, nil
	case errors.Is(err, sql.ErrNoRows):
		if !autoCreate {
			return 0, core.NewNotFoundError(core.KindCampaign, name)
		}
	default:
		return 0, fmt.Errorf("failed to resolve campaign %q: %w", name, err)
	}

	now := nowUTC()
	res, err := r.tx.ExecContext(ctx,
		"INSERT INTO campaigns (name, created_time, modified_time) VALUES (?, ?, ?)",
		name, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to create campaign %q: %w", name, err)
	}
	return res.LastInsertId()
}

// defaultLookup returns the lowest-id row of a lookup table, used when a
// create request omits confidence, impact, or status.
func (r *resolver) defaultLookup(ctx context.Context, kind core.LookupKind) (int64, error) {
	if id, ok := r.defaults[kind]; ok {
		return id, nil
	}

	table, ok := lookupTables[kind]
	if !ok {
		return 0, fmt.Errorf("unknown lookup kind: %s", kind)
	}

	var id int64
	err := r.tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id FROM %s ORDER BY id LIMIT 1", table)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, core.NewNoDefaultError(kind)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve default %s: %w", kind, err)
	}
	r.defaults[kind] = id
	return id, nil
}

// user resolves a request author from a username in the body or an API key
// from the request header. A missing user is a not-found condition; missing
// credentials or an inactive account are unauthorized.
func (r *resolver) user(ctx context.Context, username, apiKey string) (*core.User, error) {
	cacheKey := username
	if cacheKey == "" {
		cacheKey = "key:" + apiKey
	}
	if u, ok := r.users[cacheKey]; ok {
		return u, nil
	}

	var (
		query string
		arg   string
	)
	switch {
	case username != "":
		query = "SELECT id, username, apikey, active FROM users WHERE username = ?"
		arg = username
	case apiKey != "":
		query = "SELECT id, username, apikey, active FROM users WHERE apikey = ?"
		arg = apiKey
	default:
		return nil, core.NewUnauthorizedError("you must supply a username or api key")
	}

	u := &core.User{}
	var active int
	err := r.tx.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Username, &u.APIKey, &active)
	if errors.Is(err, sql.ErrNoRows) {
		if username != "" {
			return nil, core.NewNotFoundError(core.KindUser, username)
		}
		return nil, core.NewUnauthorizedError("unknown api key")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}
	u.Active = active != 0

	r.users[cacheKey] = u
	return u, nil
}

// reference resolves a (source, reference) pair to an intel reference row.
// Auto-creating a reference also auto-creates its source.
func (r *resolver) reference(ctx context.Context, spec core.ReferenceSpec, user *core.User, autoCreate bool) (int64, error) {
	key := refKey{source: spec.Source, reference: spec.Reference}
	if id, ok := r.refs[key]; ok {
		return id, nil
	}

	var id int64
	err := r.tx.QueryRowContext(ctx, `
		SELECT ir.id FROM intel_references ir
		JOIN intel_sources s ON ir.intel_source_id = s.id
		WHERE ir.reference = ? AND s.value = ?`,
		spec.Reference, spec.Source).Scan(&id)
	switch {
	case err == nil:
		r.refs[key] = id
		return id, nil
	case errors.Is(err, sql.ErrNoRows):
		if !autoCreate {
			return 0, core.NewNotFoundError(core.KindIntelReference, spec.Reference)
		}
	default:
		return 0, fmt.Errorf("failed to resolve intel reference %q: %w", spec.Reference, err)
	}

	sourceID, err := r.lookup(ctx, core.KindIntelSource, spec.Source, true)
	if err != nil {
		return 0, err
	}

	res, err := r.tx.ExecContext(ctx,
		"INSERT INTO intel_references (reference, intel_source_id, user_id) VALUES (?, ?, ?)",
		spec.Reference, sourceID, user.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to create intel reference %q: %w", spec.Reference, err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read intel reference id: %w", err)
	}
	r.refs[key] = id
	return id, nil
}
