package domain

import "time"

// LotteryStatus represents the lifecycle state of a lottery. Transitions are
// one-way: running -> finished or running -> cancelled.
type LotteryStatus string

const (
	StatusRunning   LotteryStatus = "running"
	StatusFinished  LotteryStatus = "finished"
	StatusCancelled LotteryStatus = "cancelled"
)

// LotteryType selects the winner-selection algorithm.
type LotteryType string

const (
	TypeRandom    LotteryType = "random"
	TypeSpecified LotteryType = "specified"
)

// BackupStrategy is the policy applied when the eligible participant count is
// below the configured minimum at draw time.
type BackupStrategy string

const (
	BackupContinue BackupStrategy = "continue"
	BackupCancel   BackupStrategy = "cancel"
)

// CancelReason records why a lottery ended in the cancelled state.
type CancelReason string

const (
	ReasonInsufficientParticipants CancelReason = "insufficient_participants"
	ReasonNoParticipants           CancelReason = "no_participants"
	ReasonAllSpecifiedInvalid      CancelReason = "all_specified_invalid"
	ReasonExecutionError           CancelReason = "execution_error"
)

// LotteryParams is the validated, normalized parameter set extracted from a
// [lottery] block. It is the only part of a lottery the creator may change
// during the regret period.
type LotteryParams struct {
	PrizeName            string
	PrizeDetails         string
	DrawTime             time.Time
	WinnersCount         int
	MinParticipants      int
	BackupStrategy       BackupStrategy
	LotteryType          LotteryType
	SpecifiedPostNumbers []int // empty iff LotteryType == TypeRandom
	AdditionalNotes      string
	PrizeImage           string
}

// Lottery is the aggregate root: one giveaway scoped to one forum topic.
type Lottery struct {
	ID            int64
	TopicID       int64
	PostID        int64
	CreatorUserID int64

	PrizeName            string
	PrizeDetails         string
	DrawTime             time.Time
	WinnersCount         int
	MinParticipants      int
	BackupStrategy       BackupStrategy
	LotteryType          LotteryType
	SpecifiedPostNumbers []int
	AdditionalNotes      string
	PrizeImage           string

	Status        LotteryStatus
	CancelReason  CancelReason // set when Status == StatusCancelled
	WinnerUserIDs []int64
	PostLockedAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Running reports whether the lottery is still open.
func (l *Lottery) Running() bool {
	return l.Status == StatusRunning
}

// InRegretPeriod reports whether the creator may still edit lottery
// parameters. The window is bounded by regretDelay from creation and closes
// permanently once the lottery leaves the running state.
func (l *Lottery) InRegretPeriod(now time.Time, regretDelay time.Duration) bool {
	if !l.Running() {
		return false
	}
	return !now.After(l.CreatedAt.Add(regretDelay))
}

// ApplyParams overwrites the mutable parameter set. Status and winner data
// are untouched.
func (l *Lottery) ApplyParams(p LotteryParams) {
	l.PrizeName = p.PrizeName
	l.PrizeDetails = p.PrizeDetails
	l.DrawTime = p.DrawTime
	l.WinnersCount = p.WinnersCount
	l.MinParticipants = p.MinParticipants
	l.BackupStrategy = p.BackupStrategy
	l.LotteryType = p.LotteryType
	l.SpecifiedPostNumbers = p.SpecifiedPostNumbers
	l.AdditionalNotes = p.AdditionalNotes
	l.PrizeImage = p.PrizeImage
}

// DrawOutcome is the result of one draw execution.
type DrawOutcome struct {
	LotteryID    int64
	Finished     bool
	Cancelled    bool
	Reason       CancelReason // set when Cancelled
	Winners      []Participant
	Insufficient bool // threshold unmet but backup strategy continued
	EligibleAt   int  // eligible participant count at draw time
}
