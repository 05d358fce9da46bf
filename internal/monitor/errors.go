package monitor

import (
	"errors"
	"fmt"
)

// CollectErrorKind distinguishes the two non-fatal collection failures.
type CollectErrorKind string

// Collection failure kinds. Unreachable means every retry was exhausted and
// the competitor is skipped this cycle with the prior snapshot retained.
// Malformed means the content fetched but extraction failed.
const (
	CollectUnreachable CollectErrorKind = "unreachable"
	CollectMalformed   CollectErrorKind = "malformed"
)

// CollectError wraps a per-competitor collection failure. It never aborts
// the cycle; the scheduler degrades to skipping the competitor.
type CollectError struct {
	Kind         CollectErrorKind
	CompetitorID string
	Err          error
}

func (e *CollectError) Error() string {
	return fmt.Sprintf("collect %s (%s): %v", e.CompetitorID, e.Kind, e.Err)
}

func (e *CollectError) Unwrap() error {
	return e.Err
}

// NewUnreachable builds a CollectError for an unreachable competitor.
func NewUnreachable(competitorID string, err error) *CollectError {
	return &CollectError{Kind: CollectUnreachable, CompetitorID: competitorID, Err: err}
}

// NewMalformed builds a CollectError for unparseable content.
func NewMalformed(competitorID string, err error) *CollectError {
	return &CollectError{Kind: CollectMalformed, CompetitorID: competitorID, Err: err}
}

// CollectKind extracts the failure kind from an error chain, or "" if the
// error is not a CollectError.
func CollectKind(err error) CollectErrorKind {
	var ce *CollectError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// Dispatch policy outcomes. These are not failures: both are recorded as
// suppressed alerts so operators can see what was withheld.
var (
	ErrQuotaExceeded  = errors.New("alert quota exceeded for this hour")
	ErrBelowThreshold = errors.New("event severity below alert threshold")
)
