package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"sip/config"
	"sip/core"
)

// IndicatorStorage provides indicator persistence and filtered retrieval.
type IndicatorStorage struct {
	sqlite *SQLite
	auto   config.AutoCreate
	logger *zap.SugaredLogger
}

func NewIndicatorStorage(sqlite *SQLite, auto config.AutoCreate, logger *zap.SugaredLogger) *IndicatorStorage {
	return &IndicatorStorage{sqlite: sqlite, auto: auto, logger: logger}
}

// BulkResult summarizes a bulk ingest: how many indicators were inserted and
// how many were skipped as duplicates.
type BulkResult struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

func nowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// Create inserts a single indicator with its associations. A duplicate
// type/value pair is a conflict.
func (s *IndicatorStorage) Create(ctx context.Context, req *core.IndicatorCreate, apiKey string) (*core.Indicator, error) {
	var id int64
	err := s.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		r := newResolver(tx, s.auto)
		var err error
		id, _, err = s.createOne(ctx, tx, r, req, apiKey, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// BulkCreate inserts a batch of indicators in one transaction with a shared
// resolver, so each distinct campaign, tag, and reference is resolved once.
// Duplicate indicators are skipped; any other failure rolls back the whole
// batch.
func (s *IndicatorStorage) BulkCreate(ctx context.Context, reqs []core.IndicatorCreate, apiKey string) (*BulkResult, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("bulk request contains no indicators")
	}
	if len(reqs) > core.MaxBulkIndicators {
		return nil, fmt.Errorf("bulk request exceeds %d indicators", core.MaxBulkIndicators)
	}

	result := &BulkResult{}
	err := s.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		r := newResolver(tx, s.auto)
		for i := range reqs {
			req := &reqs[i]
			if err := req.Validate(); err != nil {
				return fmt.Errorf("indicator %d: %w", i, err)
			}
			_, created, err := s.createOne(ctx, tx, r, req, apiKey, true)
			if err != nil {
				return fmt.Errorf("indicator %d: %w", i, err)
			}
			if created {
				result.Created++
			} else {
				result.Skipped++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Infow("bulk indicator ingest complete",
		"created", result.Created, "skipped", result.Skipped)
	return result, nil
}

// createOne resolves and inserts one indicator inside an open transaction.
// With skipDuplicates an existing type/value pair is reported as not created
// instead of failing.
func (s *IndicatorStorage) createOne(ctx context.Context, tx *sql.Tx, r *resolver, req *core.IndicatorCreate, apiKey string, skipDuplicates bool) (int64, bool, error) {
	user, err := r.user(ctx, req.Username, apiKey)
	if err != nil {
		return 0, false, err
	}
	if !user.Active {
		return 0, false, core.NewUnauthorizedError("cannot create an indicator with an inactive user")
	}

	typeID, err := r.lookup(ctx, core.KindIndicatorType, req.Type, s.auto.IndicatorType)
	if err != nil {
		return 0, false, err
	}

	// Case-sensitive indicators deduplicate on exact bytes, case-insensitive
	// ones on the lowercased value.
	dupQuery := "SELECT id FROM indicators WHERE type_id = ? AND lower(value) = lower(?)"
	if req.CaseSensitive {
		dupQuery = "SELECT id FROM indicators WHERE type_id = ? AND value = ?"
	}
	var existing int64
	err = tx.QueryRowContext(ctx, dupQuery, typeID, req.Value).Scan(&existing)
	switch {
	case err == nil:
		if skipDuplicates {
			return existing, false, nil
		}
		return 0, false, core.NewConflictError(fmt.Sprintf("indicator already exists: %s", req.Value))
	case !errors.Is(err, sql.ErrNoRows):
		return 0, false, fmt.Errorf("failed to check for duplicate indicator: %w", err)
	}

	confidenceID, err := s.resolveGraded(ctx, r, core.KindIndicatorConfidence, req.Confidence, s.auto.IndicatorConfidence)
	if err != nil {
		return 0, false, err
	}
	impactID, err := s.resolveGraded(ctx, r, core.KindIndicatorImpact, req.Impact, s.auto.IndicatorImpact)
	if err != nil {
		return 0, false, err
	}
	statusID, err := s.resolveGraded(ctx, r, core.KindIndicatorStatus, req.Status, s.auto.IndicatorStatus)
	if err != nil {
		return 0, false, err
	}

	now := nowUTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO indicators (type_id, confidence_id, impact_id, status_id, user_id,
			value, case_sensitive, substring, created_time, modified_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		typeID, confidenceID, impactID, statusID, user.ID,
		req.Value, req.CaseSensitive, req.Substring, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			if skipDuplicates {
				return 0, false, nil
			}
			return 0, false, core.NewConflictError(fmt.Sprintf("indicator already exists: %s", req.Value))
		}
		return 0, false, fmt.Errorf("failed to insert indicator: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read indicator id: %w", err)
	}

	for _, name := range req.Campaigns {
		campaignID, err := r.lookup(ctx, core.KindCampaign, name, s.auto.Campaign)
		if err != nil {
			return 0, false, err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO indicator_campaigns (indicator_id, campaign_id) VALUES (?, ?)",
			id, campaignID); err != nil {
			return 0, false, fmt.Errorf("failed to associate campaign: %w", err)
		}
	}

	for _, value := range req.Tags {
		tagID, err := r.lookup(ctx, core.KindTag, value, s.auto.Tag)
		if err != nil {
			return 0, false, err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO indicator_tags (indicator_id, tag_id) VALUES (?, ?)",
			id, tagID); err != nil {
			return 0, false, fmt.Errorf("failed to associate tag: %w", err)
		}
	}

	for _, spec := range req.References {
		refID, err := r.reference(ctx, spec, user, s.auto.IntelReference)
		if err != nil {
			return 0, false, err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO indicator_references (indicator_id, intel_reference_id) VALUES (?, ?)",
			id, refID); err != nil {
			return 0, false, fmt.Errorf("failed to associate reference: %w", err)
		}
	}

	return id, true, nil
}

// resolveGraded resolves a confidence, impact, or status value, falling back
// to the lowest-id row when the request omits it.
func (s *IndicatorStorage) resolveGraded(ctx context.Context, r *resolver, kind core.LookupKind, value *string, autoCreate bool) (int64, error) {
	if value == nil {
		return r.defaultLookup(ctx, kind)
	}
	return r.lookup(ctx, kind, *value, autoCreate)
}

// Get returns the full indicator aggregate.
func (s *IndicatorStorage) Get(ctx context.Context, id int64) (*core.Indicator, error) {
	ind := &core.Indicator{
		Campaigns:  []core.Campaign{},
		Tags:       []string{},
		References: []core.IntelReference{},
	}
	err := s.sqlite.ReadDB.QueryRowContext(ctx, `
		SELECT i.id, t.value, i.value, i.case_sensitive, i.substring,
			c.value, im.value, st.value, u.username, i.created_time, i.modified_time
		FROM indicators i
		JOIN indicator_types t ON i.type_id = t.id
		JOIN indicator_confidences c ON i.confidence_id = c.id
		JOIN indicator_impacts im ON i.impact_id = im.id
		JOIN indicator_statuses st ON i.status_id = st.id
		JOIN users u ON i.user_id = u.id
		WHERE i.id = ?`, id).Scan(
		&ind.ID, &ind.Type, &ind.Value, &ind.CaseSensitive, &ind.Substring,
		&ind.Confidence, &ind.Impact, &ind.Status, &ind.User,
		&ind.CreatedTime, &ind.ModifiedTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NewNotFoundError(core.KindIndicator, strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get indicator: %w", err)
	}

	rows, err := s.sqlite.ReadDB.QueryContext(ctx, `
		SELECT c.id, c.name, c.created_time, c.modified_time
		FROM campaigns c
		JOIN indicator_campaigns ic ON ic.campaign_id = c.id
		WHERE ic.indicator_id = ?
		ORDER BY c.name`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get indicator campaigns: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c core.Campaign
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedTime, &c.ModifiedTime); err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		ind.Campaigns = append(ind.Campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tagRows, err := s.sqlite.ReadDB.QueryContext(ctx, `
		SELECT t.value
		FROM tags t
		JOIN indicator_tags it ON it.tag_id = t.id
		WHERE it.indicator_id = ?
		ORDER BY t.value`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get indicator tags: %w", err)
	}
	defer tagRows.Close()
	for tagRows.Next() {
		var tag string
		if err := tagRows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		ind.Tags = append(ind.Tags, tag)
	}
	if err := tagRows.Err(); err != nil {
		return nil, err
	}

	refRows, err := s.sqlite.ReadDB.QueryContext(ctx, `
		SELECT r.id, r.reference, s.value, u.username
		FROM intel_references r
		JOIN indicator_references ir ON ir.intel_reference_id = r.id
		JOIN intel_sources s ON r.intel_source_id = s.id
		JOIN users u ON r.user_id = u.id
		WHERE ir.indicator_id = ?
		ORDER BY r.id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get indicator references: %w", err)
	}
	defer refRows.Close()
	for refRows.Next() {
		var r core.IntelReference
		if err := refRows.Scan(&r.ID, &r.Reference, &r.Source, &r.User); err != nil {
			return nil, fmt.Errorf("failed to scan reference: %w", err)
		}
		ind.References = append(ind.References, r)
	}
	if err := refRows.Err(); err != nil {
		return nil, err
	}

	return ind, nil
}

// List runs the compiled filter query and returns the compact projection.
func (s *IndicatorStorage) List(ctx context.Context, filters core.IndicatorFilters) ([]core.IndicatorSummary, error) {
	query, args := buildIndicatorQuery(filters).Compile()
	rows, err := s.sqlite.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list indicators: %w", err)
	}
	defer rows.Close()

	summaries := []core.IndicatorSummary{}
	for rows.Next() {
		var sum core.IndicatorSummary
		if err := rows.Scan(&sum.ID, &sum.Type, &sum.Value); err != nil {
			return nil, fmt.Errorf("failed to scan indicator summary: %w", err)
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// Count returns how many indicators match without materializing them.
func (s *IndicatorStorage) Count(ctx context.Context, filters core.IndicatorFilters) (int64, error) {
	query, args := buildIndicatorQuery(filters).CompileCount()
	var count int64
	if err := s.sqlite.ReadDB.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count indicators: %w", err)
	}
	return count, nil
}

// Update applies a partial update. Entity references are resolved strictly;
// unknown names fail with not-found rather than being auto-created. Non-nil
// association slices replace the existing set.
func (s *IndicatorStorage) Update(ctx context.Context, id int64, req *core.IndicatorUpdate) (*core.Indicator, error) {
	err := s.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		var userID int64
		err := tx.QueryRowContext(ctx,
			"SELECT user_id FROM indicators WHERE id = ?", id).Scan(&userID)
		if errors.Is(err, sql.ErrNoRows) {
			return core.NewNotFoundError(core.KindIndicator, strconv.FormatInt(id, 10))
		}
		if err != nil {
			return fmt.Errorf("failed to load indicator: %w", err)
		}

		r := newResolver(tx, s.auto)
		sets := []string{"modified_time = ?"}
		args := []any{nowUTC()}

		if req.Username != nil {
			user, err := r.user(ctx, *req.Username, "")
			if err != nil {
				return err
			}
			if !user.Active {
				return core.NewUnauthorizedError("cannot assign an indicator to an inactive user")
			}
			sets = append(sets, "user_id = ?")
			args = append(args, user.ID)
		}
		if req.CaseSensitive != nil {
			sets = append(sets, "case_sensitive = ?")
			args = append(args, *req.CaseSensitive)
		}
		if req.Substring != nil {
			sets = append(sets, "substring = ?")
			args = append(args, *req.Substring)
		}
		if req.Confidence != nil {
			cid, err := r.lookup(ctx, core.KindIndicatorConfidence, *req.Confidence, false)
			if err != nil {
				return err
			}
			sets = append(sets, "confidence_id = ?")
			args = append(args, cid)
		}
		if req.Impact != nil {
			iid, err := r.lookup(ctx, core.KindIndicatorImpact, *req.Impact, false)
			if err != nil {
				return err
			}
			sets = append(sets, "impact_id = ?")
			args = append(args, iid)
		}
		if req.Status != nil {
			sid, err := r.lookup(ctx, core.KindIndicatorStatus, *req.Status, false)
			if err != nil {
				return err
			}
			sets = append(sets, "status_id = ?")
			args = append(args, sid)
		}

		args = append(args, id)
		if _, err := tx.ExecContext(ctx,
			"UPDATE indicators SET "+joinSets(sets)+" WHERE id = ?", args...); err != nil {
			return fmt.Errorf("failed to update indicator: %w", err)
		}

		if req.Campaigns != nil {
			ids := make([]int64, 0, len(req.Campaigns))
			for _, name := range req.Campaigns {
				cid, err := r.lookup(ctx, core.KindCampaign, name, false)
				if err != nil {
					return err
				}
				ids = append(ids, cid)
			}
			if err := replaceAssociations(ctx, tx, "indicator_campaigns", "campaign_id", id, ids); err != nil {
				return err
			}
		}
		if req.Tags != nil {
			ids := make([]int64, 0, len(req.Tags))
			for _, value := range req.Tags {
				tid, err := r.lookup(ctx, core.KindTag, value, false)
				if err != nil {
					return err
				}
				ids = append(ids, tid)
			}
			if err := replaceAssociations(ctx, tx, "indicator_tags", "tag_id", id, ids); err != nil {
				return err
			}
		}
		if req.References != nil {
			ids := make([]int64, 0, len(req.References))
			for _, spec := range req.References {
				rid, err := r.reference(ctx, spec, nil, false)
				if err != nil {
					return err
				}
				ids = append(ids, rid)
			}
			if err := replaceAssociations(ctx, tx, "indicator_references", "intel_reference_id", id, ids); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Delete removes an indicator. Association rows cascade; a foreign key
// failure from any other referencing table is surfaced as a conflict.
func (s *IndicatorStorage) Delete(ctx context.Context, id int64) error {
	return s.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM indicators WHERE id = ?", id)
		if err != nil {
			if isForeignKeyViolation(err) {
				return core.NewConflictError("unable to delete indicator due to foreign key constraints")
			}
			return fmt.Errorf("failed to delete indicator: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read delete result: %w", err)
		}
		if affected == 0 {
			return core.NewNotFoundError(core.KindIndicator, strconv.FormatInt(id, 10))
		}
		return nil
	})
}

func joinSets(sets []string) string {
	out := sets[0]
	for _, s := range sets[1:] {
		out += ", " + s
	}
	return out
}

// replaceAssociations swaps the association rows for one indicator.
func replaceAssociations(ctx context.Context, tx *sql.Tx, table, column string, indicatorID int64, ids []int64) error {
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE indicator_id = ?", table), indicatorID); err != nil {
		return fmt.Errorf("failed to clear %s: %w", table, err)
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT OR IGNORE INTO %s (indicator_id, %s) VALUES (?, ?)", table, column),
			indicatorID, id); err != nil {
			return fmt.Errorf("failed to insert into %s: %w", table, err)
		}
	}
	return nil
}
