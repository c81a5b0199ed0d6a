// Package validate turns parsed lottery intents into normalized parameter
// sets, collecting every rule violation instead of stopping at the first.
package validate

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/forumkit/lotteryd/internal/domain"
	"github.com/forumkit/lotteryd/internal/parser"
)

const (
	maxPrizeNameLen    = 100
	maxPrizeDetailsLen = 500
	maxNotesLen        = 300
	maxPrizeImageLen   = 500

	minDrawLead = 5 * time.Minute
	maxDrawLead = 365 * 24 * time.Hour

	minParticipantsCap = 1000
)

// Rules carries the configurable limits applied on top of the fixed field
// rules.
type Rules struct {
	// MinParticipantsFloor is the global lower bound on the participation
	// threshold.
	MinParticipantsFloor int
	// MaxWinners caps the random-draw winner count.
	MaxWinners int
	// MaxSpecifiedPosts caps the number of specified reply positions.
	MaxSpecifiedPosts int
	// Location resolves naive draw-time stamps. Defaults to time.Local.
	Location *time.Location
}

// Validator normalizes lottery intents. The zero value is not usable; build
// one with New.
type Validator struct {
	rules Rules
	now   func() time.Time
}

// New creates a Validator with the given rules. now is injectable for tests;
// pass nil for time.Now.
func New(rules Rules, now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	if rules.Location == nil {
		rules.Location = time.Local
	}
	return &Validator{rules: rules, now: now}
}

var imageExtRe = regexp.MustCompile(`(?i)\.(jpe?g|png|gif|webp)$`)

// drawTimeLayouts are accepted on top of RFC 3339. Naive stamps are resolved
// in the configured location.
var drawTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// Params validates in and returns the normalized parameter set, or a
// *domain.ValidationError enumerating every violated rule.
func (v *Validator) Params(in parser.Intent) (domain.LotteryParams, error) {
	verr := &domain.ValidationError{}
	now := v.now()

	p := domain.LotteryParams{
		PrizeName:       strings.TrimSpace(in.PrizeName),
		PrizeDetails:    strings.TrimSpace(in.PrizeDetails),
		AdditionalNotes: strings.TrimSpace(in.AdditionalNotes),
		PrizeImage:      strings.TrimSpace(in.PrizeImage),
		MinParticipants: in.MinParticipants,
	}

	if p.PrizeName == "" {
		verr.Add("prize_name", "is required")
	} else if len([]rune(p.PrizeName)) > maxPrizeNameLen {
		verr.Add("prize_name", "must not exceed 100 characters")
	}

	if p.PrizeDetails == "" {
		verr.Add("prize_details", "is required")
	} else if len([]rune(p.PrizeDetails)) > maxPrizeDetailsLen {
		verr.Add("prize_details", "must not exceed 500 characters")
	}

	if len([]rune(p.AdditionalNotes)) > maxNotesLen {
		verr.Add("additional_notes", "must not exceed 300 characters")
	}

	switch in.BackupStrategy {
	case "cancel":
		p.BackupStrategy = domain.BackupCancel
	default:
		p.BackupStrategy = domain.BackupContinue
	}

	v.validateDrawTime(in.DrawTime, now, &p, verr)
	v.validateMinParticipants(&p, verr)
	v.validateType(in, &p, verr)
	v.validatePrizeImage(&p, verr)

	if !verr.Empty() {
		return domain.LotteryParams{}, verr
	}
	return p, nil
}

func (v *Validator) validateDrawTime(raw string, now time.Time, p *domain.LotteryParams, verr *domain.ValidationError) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		verr.Add("draw_time", "is required")
		return
	}

	t, ok := v.parseDrawTime(raw)
	if !ok {
		verr.Add("draw_time", "is not a valid timestamp")
		return
	}

	switch {
	case !t.After(now):
		verr.Add("draw_time", "must be in the future")
	case t.Before(now.Add(minDrawLead)):
		verr.Add("draw_time", "must be at least 5 minutes from now")
	case t.After(now.Add(maxDrawLead)):
		verr.Add("draw_time", "must be within one year")
	}
	p.DrawTime = t
}

func (v *Validator) parseDrawTime(raw string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	for _, layout := range drawTimeLayouts {
		if t, err := time.ParseInLocation(layout, raw, v.rules.Location); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (v *Validator) validateMinParticipants(p *domain.LotteryParams, verr *domain.ValidationError) {
	switch {
	case p.MinParticipants < 1:
		verr.Add("min_participants", "must be at least 1")
	case p.MinParticipants > minParticipantsCap:
		verr.Add("min_participants", "must not exceed 1000")
	case p.MinParticipants < v.rules.MinParticipantsFloor:
		verr.Add("min_participants", "must not be below the site minimum of "+strconv.Itoa(v.rules.MinParticipantsFloor))
	}
}

// validateType derives the lottery type. A non-empty specified-posts value
// forces the specified type and overrides any explicit winners count.
func (v *Validator) validateType(in parser.Intent, p *domain.LotteryParams, verr *domain.ValidationError) {
	spec := strings.TrimSpace(in.SpecifiedPosts)
	if spec == "" {
		p.LotteryType = domain.TypeRandom
		p.WinnersCount = in.WinnersCount
		if p.WinnersCount < 1 {
			p.WinnersCount = 1
		}
		if v.rules.MaxWinners > 0 && p.WinnersCount > v.rules.MaxWinners {
			p.WinnersCount = v.rules.MaxWinners
		}
		return
	}

	p.LotteryType = domain.TypeSpecified

	// Entries that are not integers or point at the first post are dropped,
	// not rejected; only duplicates and an empty surviving set are errors.
	seen := make(map[int]bool)
	var positions []int
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		n, err := strconv.Atoi(part)
		if err != nil || n <= 1 {
			continue
		}
		if seen[n] {
			verr.Add("specified_posts", "contains duplicate position "+strconv.Itoa(n))
			continue
		}
		seen[n] = true
		positions = append(positions, n)
	}

	if len(positions) == 0 {
		verr.Add("specified_posts", "must contain at least one position")
		return
	}
	if v.rules.MaxSpecifiedPosts > 0 && len(positions) > v.rules.MaxSpecifiedPosts {
		verr.Add("specified_posts", "must not list more than "+strconv.Itoa(v.rules.MaxSpecifiedPosts)+" positions")
		return
	}

	p.SpecifiedPostNumbers = positions
	p.WinnersCount = len(positions)
}

func (v *Validator) validatePrizeImage(p *domain.LotteryParams, verr *domain.ValidationError) {
	if p.PrizeImage == "" {
		return
	}
	if len(p.PrizeImage) > maxPrizeImageLen {
		verr.Add("prize_image", "URL must not exceed 500 characters")
		return
	}
	u, err := url.Parse(p.PrizeImage)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		verr.Add("prize_image", "must be an http(s) URL")
		return
	}
	if !imageExtRe.MatchString(u.Path) {
		verr.Add("prize_image", "must point to an image file (jpg, jpeg, png, gif, webp)")
	}
}
