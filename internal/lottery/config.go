// Package lottery implements the lottery lifecycle engine: creation and
// regret-period edits, participant resolution, and draw execution.
package lottery

import "time"

// Topic tags applied as the lottery moves through its lifecycle.
const (
	TagRunning   = "抽奖中"
	TagFinished  = "已开奖"
	TagCancelled = "已取消"
)

// Config carries the site-level lottery settings.
type Config struct {
	// Enabled gates the whole feature.
	Enabled bool
	// AllowedCategoryIDs restricts lottery creation to the listed host
	// categories. Empty means every category is allowed.
	AllowedCategoryIDs []int64
	// ExcludedGroupIDs lists host groups whose members never count as
	// participants.
	ExcludedGroupIDs []int64
	// LockDelay bounds the regret period and schedules the post lock. Zero
	// disables post locking and closes the edit window immediately.
	LockDelay time.Duration
}

// CategoryAllowed reports whether a lottery may be created in the category.
func (c Config) CategoryAllowed(categoryID int64) bool {
	if len(c.AllowedCategoryIDs) == 0 {
		return true
	}
	for _, id := range c.AllowedCategoryIDs {
		if id == categoryID {
			return true
		}
	}
	return false
}
