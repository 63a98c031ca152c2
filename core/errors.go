package core

import "fmt"

// LookupKind names a resolvable entity kind. The value is the human-readable
// form used in error messages.
type LookupKind string

const (
	KindIndicator           LookupKind = "Indicator"
	KindIndicatorType       LookupKind = "Indicator type"
	KindIndicatorConfidence LookupKind = "Indicator confidence"
	KindIndicatorImpact     LookupKind = "Indicator impact"
	KindIndicatorStatus     LookupKind = "Indicator status"
	KindCampaign            LookupKind = "Campaign"
	KindTag                 LookupKind = "Tag"
	KindIntelSource         LookupKind = "Intel source"
	KindIntelReference      LookupKind = "Intel reference"
	KindUser                LookupKind = "User"
)

// NotFoundError reports a named entity that does not exist.
type NotFoundError struct {
	Kind  LookupKind
	Value string
}

func (e *NotFoundError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s not found", e.Kind)
	}
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Value)
}

func NewNotFoundError(kind LookupKind, value string) *NotFoundError {
	return &NotFoundError{Kind: kind, Value: value}
}

// NoDefaultError reports that a lookup table has no rows to supply a default
// value from.
type NoDefaultError struct {
	Kind LookupKind
}

func (e *NoDefaultError) Error() string {
	return fmt.Sprintf("no %s values exist to use as default", e.Kind)
}

func NewNoDefaultError(kind LookupKind) *NoDefaultError {
	return &NoDefaultError{Kind: kind}
}

// ConflictError reports a state conflict such as a duplicate entity or a
// delete blocked by existing relationships.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return e.Reason
}

func NewConflictError(reason string) *ConflictError {
	return &ConflictError{Reason: reason}
}

// UnauthorizedError reports a failed or missing authentication.
type UnauthorizedError struct {
	Reason string
}

func (e *UnauthorizedError) Error() string {
	return e.Reason
}

func NewUnauthorizedError(reason string) *UnauthorizedError {
	return &UnauthorizedError{Reason: reason}
}
