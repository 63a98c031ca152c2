package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"sip/core"
	"sip/metrics"
)

// createIndicator handles POST /api/indicators.
func (a *API) createIndicator(w http.ResponseWriter, r *http.Request) {
	var req core.IndicatorCreate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err, a.logger)
		return
	}
	if err := a.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed: "+err.Error(), nil, a.logger)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}

	indicator, err := a.indicators.Create(r.Context(), &req, apiKeyFromRequest(r))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}

	metrics.IndicatorsCreated.WithLabelValues(indicator.Type).Inc()
	w.Header().Set("Location", fmt.Sprintf("/api/indicators/%d", indicator.ID))
	a.respondJSON(w, indicator, http.StatusCreated)
}

// bulkCreateRequest is the bulk ingest wire format: the batch rides under an
// "indicators" key rather than as a bare array.
type bulkCreateRequest struct {
	Indicators []core.IndicatorCreate `json:"indicators"`
}

// bulkCreateIndicators handles POST /api/indicators/bulk. The whole batch is
// one transaction; duplicates are skipped, any other failure rejects the
// batch. Success is a bare 204.
func (a *API) bulkCreateIndicators(w http.ResponseWriter, r *http.Request) {
	var req bulkCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err, a.logger)
		return
	}
	reqs := req.Indicators
	if len(reqs) == 0 {
		writeError(w, http.StatusBadRequest, "Bulk request contains no indicators", nil, a.logger)
		return
	}
	if len(reqs) > core.MaxBulkIndicators {
		writeError(w, http.StatusBadRequest, "Bulk request exceeds maximum size", nil, a.logger)
		return
	}

	result, err := a.indicators.BulkCreate(r.Context(), reqs, apiKeyFromRequest(r))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}

	metrics.IndicatorsBulkSkipped.Add(float64(result.Skipped))
	w.WriteHeader(http.StatusNoContent)
}

// getIndicator handles GET /api/indicators/{id}.
func (a *API) getIndicator(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}

	indicator, err := a.indicators.Get(r.Context(), id)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.respondJSON(w, indicator, http.StatusOK)
}

// updateIndicator handles PUT /api/indicators/{id}.
func (a *API) updateIndicator(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}

	var req core.IndicatorUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err, a.logger)
		return
	}

	indicator, err := a.indicators.Update(r.Context(), id, &req)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.respondJSON(w, indicator, http.StatusOK)
}

// deleteIndicator handles DELETE /api/indicators/{id}.
func (a *API) deleteIndicator(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}

	if err := a.indicators.Delete(r.Context(), id); err != nil {
		a.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listIndicators handles GET /api/indicators. Every recognized query
// parameter narrows the result; unknown parameters are ignored. With "count"
// present, only the matching row count is returned, uncompressed. Full
// listings are gzip-compressed.
func (a *API) listIndicators(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filters := parseIndicatorFilters(query)

	start := time.Now()
	if _, countOnly := query["count"]; countOnly {
		count, err := a.indicators.Count(r.Context(), filters)
		if err != nil {
			a.writeDomainError(w, err)
			return
		}
		metrics.IndicatorQueries.WithLabelValues("count").Inc()
		metrics.IndicatorQueryDuration.Observe(time.Since(start).Seconds())
		a.respondJSON(w, map[string]int64{"count": count}, http.StatusOK)
		return
	}

	summaries, err := a.indicators.List(r.Context(), filters)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	metrics.IndicatorQueries.WithLabelValues("list").Inc()
	metrics.IndicatorQueryDuration.Observe(time.Since(start).Seconds())
	a.respondGzipJSON(w, summaries, http.StatusOK)
}

// parseIndicatorFilters maps the recognized query parameters onto the filter
// struct. Presence alone activates the existence filters regardless of value.
func parseIndicatorFilters(query url.Values) core.IndicatorFilters {
	var f core.IndicatorFilters

	strPtr := func(key string) *string {
		if vs, ok := query[key]; ok {
			return &vs[0]
		}
		return nil
	}
	listPtr := func(key string) *core.ValueList {
		if vs, ok := query[key]; ok {
			vl := core.ParseValueList(vs[0])
			return &vl
		}
		return nil
	}
	values := func(key string) []string {
		if vs, ok := query[key]; ok {
			return core.ParseValueList(vs[0]).Values
		}
		return nil
	}

	f.CaseSensitive = strPtr("case_sensitive")
	f.Confidence = strPtr("confidence")
	f.CreatedAfter = strPtr("created_after")
	f.CreatedBefore = strPtr("created_before")
	f.ExactValue = strPtr("exact_value")
	f.Impact = strPtr("impact")
	f.ModifiedAfter = strPtr("modified_after")
	f.ModifiedBefore = strPtr("modified_before")
	_, f.NoCampaigns = query["no_campaigns"]
	_, f.NoReferences = query["no_references"]
	_, f.NoTags = query["no_tags"]
	f.NotSources = values("not_sources")
	f.NotTags = values("not_tags")
	f.NotUsers = values("not_users")
	f.Reference = strPtr("reference")
	f.Sources = listPtr("sources")
	f.Status = strPtr("status")
	f.Substring = strPtr("substring")
	f.Tags = listPtr("tags")
	f.Type = strPtr("type")
	f.Types = values("types")
	f.User = strPtr("user")
	f.Users = listPtr("users")
	f.Value = strPtr("value")

	return f
}
