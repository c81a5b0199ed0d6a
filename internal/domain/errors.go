package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrLotteryExists = errors.New("a running lottery already exists for this topic")
	ErrLockHeld      = errors.New("lock already held")
)

// FieldViolation is a single validation failure on one field.
type FieldViolation struct {
	Field  string
	Reason string
}

// ValidationError carries every field violation found in a lottery intent so
// the submitter sees all problems at once, not just the first.
type ValidationError struct {
	Violations []FieldViolation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.Field + ": " + v.Reason
	}
	return "invalid lottery: " + strings.Join(parts, "; ")
}

// Add appends a violation. Returns the receiver for chaining in validators.
func (e *ValidationError) Add(field, reason string) *ValidationError {
	e.Violations = append(e.Violations, FieldViolation{Field: field, Reason: reason})
	return e
}

// Empty reports whether no violations were recorded.
func (e *ValidationError) Empty() bool { return len(e.Violations) == 0 }

// PrerequisiteError signals that a create pre-check failed (feature disabled,
// category not allowed, duplicate running lottery, inactive creator).
type PrerequisiteError struct {
	Code   string // machine-readable reason
	Detail string
}

func (e *PrerequisiteError) Error() string {
	return fmt.Sprintf("lottery prerequisite failed (%s): %s", e.Code, e.Detail)
}

// Prerequisite codes.
const (
	PrereqFeatureDisabled    = "feature_disabled"
	PrereqCategoryNotAllowed = "category_not_allowed"
	PrereqDuplicateLottery   = "duplicate_running_lottery"
	PrereqCreatorInactive    = "creator_inactive"
	PrereqTopicMissing       = "topic_missing"
)

// EditWindowExpiredError signals an edit attempted after the regret period.
type EditWindowExpiredError struct {
	LotteryID int64
	ClosedAt  time.Time
}

func (e *EditWindowExpiredError) Error() string {
	return fmt.Sprintf("lottery %d: edit window closed at %s", e.LotteryID, e.ClosedAt.Format(time.RFC3339))
}
