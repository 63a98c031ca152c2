package core

import (
	"fmt"
	"time"
)

const (
	// MaxIndicatorValueLength bounds indicator values at create time.
	MaxIndicatorValueLength = 4096

	// MaxBulkIndicators bounds a single bulk ingest request.
	MaxBulkIndicators = 1000
)

// Indicator is the full representation returned by the API.
type Indicator struct {
	ID            int64            `json:"id"`
	Type          string           `json:"type"`
	Value         string           `json:"value"`
	CaseSensitive bool             `json:"case_sensitive"`
	Substring     bool             `json:"substring"`
	Confidence    string           `json:"confidence"`
	Impact        string           `json:"impact"`
	Status        string           `json:"status"`
	User          string           `json:"user"`
	Campaigns     []Campaign       `json:"campaigns"`
	Tags          []string         `json:"tags"`
	References    []IntelReference `json:"references"`
	CreatedTime   time.Time        `json:"created_time"`
	ModifiedTime  time.Time        `json:"modified_time"`
}

// IndicatorSummary is the compact projection returned by filtered listings.
type IndicatorSummary struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// ReferenceSpec identifies an intel reference by its source and reference
// strings, as supplied on indicator create and update.
type ReferenceSpec struct {
	Source    string `json:"source" validate:"required"`
	Reference string `json:"reference" validate:"required"`
}

// IndicatorCreate is the request body for creating a single indicator. The
// same shape is used per-item in bulk ingest.
type IndicatorCreate struct {
	Username      string          `json:"username,omitempty"`
	Type          string          `json:"type" validate:"required"`
	Value         string          `json:"value" validate:"required"`
	CaseSensitive bool            `json:"case_sensitive,omitempty"`
	Substring     bool            `json:"substring,omitempty"`
	Confidence    *string         `json:"confidence,omitempty"`
	Impact        *string         `json:"impact,omitempty"`
	Status        *string         `json:"status,omitempty"`
	Campaigns     []string        `json:"campaigns,omitempty"`
	Tags          []string        `json:"tags,omitempty"`
	References    []ReferenceSpec `json:"references,omitempty"`
}

// Validate applies the checks that go beyond struct tags.
func (c *IndicatorCreate) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("indicator type is required")
	}
	if c.Value == "" {
		return fmt.Errorf("indicator value is required")
	}
	if len(c.Value) > MaxIndicatorValueLength {
		return fmt.Errorf("indicator value exceeds %d characters", MaxIndicatorValueLength)
	}
	return nil
}

// IndicatorUpdate is the request body for a partial update. Nil fields are
// left untouched; non-nil slices replace the existing associations.
type IndicatorUpdate struct {
	Username      *string         `json:"username,omitempty"`
	CaseSensitive *bool           `json:"case_sensitive,omitempty"`
	Substring     *bool           `json:"substring,omitempty"`
	Confidence    *string         `json:"confidence,omitempty"`
	Impact        *string         `json:"impact,omitempty"`
	Status        *string         `json:"status,omitempty"`
	Campaigns     []string        `json:"campaigns,omitempty"`
	Tags          []string        `json:"tags,omitempty"`
	References    []ReferenceSpec `json:"references,omitempty"`
}

// LookupValue is a row in one of the simple value tables (types, confidences,
// impacts, statuses, tags, intel sources).
type LookupValue struct {
	ID    int64  `json:"id"`
	Value string `json:"value"`
}

// Campaign is a named campaign with its own timestamps.
type Campaign struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	CreatedTime  time.Time `json:"created_time"`
	ModifiedTime time.Time `json:"modified_time"`
}

// IntelSource is a named source of intel references.
type IntelSource struct {
	ID    int64  `json:"id"`
	Value string `json:"value"`
}

// IntelReference is a reference string scoped to a source, recorded with the
// user who created it.
type IntelReference struct {
	ID        int64  `json:"id"`
	Reference string `json:"reference"`
	Source    string `json:"source"`
	User      string `json:"user"`
}

// User is an account that may author indicators and references.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	APIKey   string `json:"-"`
	Active   bool   `json:"active"`
}
