package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/forumkit/lotteryd/internal/domain"
	"github.com/forumkit/lotteryd/internal/lottery"
)

// LotteryService defines the methods the lottery handler requires from the
// lifecycle layer. It is declared locally so the handler package does not
// depend on the concrete implementation.
type LotteryService interface {
	Create(ctx context.Context, topicID, postID, creatorID int64, raw string) (domain.Lottery, error)
	Update(ctx context.Context, topicID int64, raw string) (domain.Lottery, error)
}

// LotteryReader defines the read methods the handler needs from the store.
type LotteryReader interface {
	GetByTopic(ctx context.Context, topicID int64) (domain.Lottery, error)
}

// AuditReader lists the audit trail for a single lottery.
type AuditReader interface {
	ListByLottery(ctx context.Context, lotteryID int64) ([]domain.AuditEntry, error)
}

// LotteryHandler serves the lottery ingest and read endpoints.
type LotteryHandler struct {
	svc    LotteryService
	store  LotteryReader
	audit  AuditReader
	logger *slog.Logger
}

// NewLotteryHandler creates a LotteryHandler with the given service, store
// and logger.
func NewLotteryHandler(svc LotteryService, store LotteryReader, audit AuditReader, logger *slog.Logger) *LotteryHandler {
	return &LotteryHandler{
		svc:    svc,
		store:  store,
		audit:  audit,
		logger: logger,
	}
}

// createLotteryRequest is the ingest payload delivered when a first post is
// created or edited on the forum.
type createLotteryRequest struct {
	TopicID int64  `json:"topic_id"`
	PostID  int64  `json:"post_id"`
	UserID  int64  `json:"user_id"`
	Raw     string `json:"raw"`
}

// updateLotteryRequest carries the edited first-post content.
type updateLotteryRequest struct {
	Raw string `json:"raw"`
}

// lotteryView is the JSON representation of a lottery returned by the API.
type lotteryView struct {
	ID            int64 `json:"id"`
	TopicID       int64 `json:"topic_id"`
	PostID        int64 `json:"post_id"`
	CreatorUserID int64 `json:"creator_user_id"`

	PrizeName            string `json:"prize_name"`
	PrizeDetails         string `json:"prize_details,omitempty"`
	DrawTime             string `json:"draw_time"`
	WinnersCount         int    `json:"winners_count"`
	MinParticipants      int    `json:"min_participants"`
	BackupStrategy       string `json:"backup_strategy"`
	LotteryType          string `json:"lottery_type"`
	SpecifiedPostNumbers []int  `json:"specified_post_numbers,omitempty"`
	AdditionalNotes      string `json:"additional_notes,omitempty"`
	PrizeImage           string `json:"prize_image,omitempty"`

	Status        string  `json:"status"`
	CancelReason  string  `json:"cancel_reason,omitempty"`
	WinnerUserIDs []int64 `json:"winner_user_ids,omitempty"`
	PostLockedAt  string  `json:"post_locked_at,omitempty"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func toView(l domain.Lottery) lotteryView {
	v := lotteryView{
		ID:                   l.ID,
		TopicID:              l.TopicID,
		PostID:               l.PostID,
		CreatorUserID:        l.CreatorUserID,
		PrizeName:            l.PrizeName,
		PrizeDetails:         l.PrizeDetails,
		DrawTime:             l.DrawTime.UTC().Format(time.RFC3339),
		WinnersCount:         l.WinnersCount,
		MinParticipants:      l.MinParticipants,
		BackupStrategy:       string(l.BackupStrategy),
		LotteryType:          string(l.LotteryType),
		SpecifiedPostNumbers: l.SpecifiedPostNumbers,
		AdditionalNotes:      l.AdditionalNotes,
		PrizeImage:           l.PrizeImage,
		Status:               string(l.Status),
		CancelReason:         string(l.CancelReason),
		WinnerUserIDs:        l.WinnerUserIDs,
		CreatedAt:            l.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:            l.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if l.PostLockedAt != nil {
		v.PostLockedAt = l.PostLockedAt.UTC().Format(time.RFC3339)
	}
	return v
}

// fieldViolationView mirrors domain.FieldViolation for API responses.
type fieldViolationView struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// CreateLottery ingests first-post content and creates a lottery when the
// post carries a valid block.
// POST /api/lotteries
func (h *LotteryHandler) CreateLottery(w http.ResponseWriter, r *http.Request) {
	var req createLotteryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.TopicID <= 0 || req.PostID <= 0 || req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "topic_id, post_id and user_id are required")
		return
	}

	l, err := h.svc.Create(r.Context(), req.TopicID, req.PostID, req.UserID, req.Raw)
	if err != nil {
		h.writeLotteryError(w, r, err, req.TopicID)
		return
	}

	writeJSON(w, http.StatusCreated, toView(l))
}

// UpdateLottery applies a regret-period edit of the lottery parameters from
// the edited first-post content.
// PUT /api/lotteries/{topicID}
func (h *LotteryHandler) UpdateLottery(w http.ResponseWriter, r *http.Request) {
	topicID := pathInt64(r, "topicID")
	if topicID == 0 {
		writeError(w, http.StatusBadRequest, "invalid topic id")
		return
	}

	var req updateLotteryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	l, err := h.svc.Update(r.Context(), topicID, req.Raw)
	if err != nil {
		h.writeLotteryError(w, r, err, topicID)
		return
	}

	writeJSON(w, http.StatusOK, toView(l))
}

// GetLottery returns the most recent lottery for a topic.
// GET /api/lotteries/{topicID}
func (h *LotteryHandler) GetLottery(w http.ResponseWriter, r *http.Request) {
	topicID := pathInt64(r, "topicID")
	if topicID == 0 {
		writeError(w, http.StatusBadRequest, "invalid topic id")
		return
	}

	l, err := h.store.GetByTopic(r.Context(), topicID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no lottery for topic")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get lottery failed",
			slog.Int64("topic_id", topicID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load lottery")
		return
	}

	writeJSON(w, http.StatusOK, toView(l))
}

// auditEntryView is the JSON representation of one audit row.
type auditEntryView struct {
	ID        string         `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt string         `json:"created_at"`
}

// GetLotteryAudit returns the audit trail for the topic's most recent
// lottery, oldest first.
// GET /api/lotteries/{topicID}/audit
func (h *LotteryHandler) GetLotteryAudit(w http.ResponseWriter, r *http.Request) {
	topicID := pathInt64(r, "topicID")
	if topicID == 0 {
		writeError(w, http.StatusBadRequest, "invalid topic id")
		return
	}

	l, err := h.store.GetByTopic(r.Context(), topicID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no lottery for topic")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load lottery")
		return
	}

	entries, err := h.audit.ListByLottery(r.Context(), l.ID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.Int64("lottery_id", l.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load audit trail")
		return
	}

	views := make([]auditEntryView, len(entries))
	for i, e := range entries {
		views[i] = auditEntryView{
			ID:        e.ID,
			Event:     e.Event,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"lottery_id": l.ID,
		"entries":    views,
	})
}

// writeLotteryError maps lifecycle errors to HTTP responses.
func (h *LotteryHandler) writeLotteryError(w http.ResponseWriter, r *http.Request, err error, topicID int64) {
	var vErr *domain.ValidationError
	var pErr *domain.PrerequisiteError
	var eErr *domain.EditWindowExpiredError

	switch {
	case errors.Is(err, lottery.ErrNoLotteryData):
		writeError(w, http.StatusUnprocessableEntity, "post contains no lottery block")

	case errors.As(err, &vErr):
		views := make([]fieldViolationView, len(vErr.Violations))
		for i, v := range vErr.Violations {
			views[i] = fieldViolationView{Field: v.Field, Reason: v.Reason}
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":      "invalid lottery parameters",
			"violations": views,
		})

	case errors.As(err, &pErr):
		status := http.StatusConflict
		if pErr.Code == domain.PrereqFeatureDisabled {
			status = http.StatusForbidden
		}
		writeJSON(w, status, map[string]string{
			"error": pErr.Detail,
			"code":  pErr.Code,
		})

	case errors.As(err, &eErr):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "edit window has closed",
			"code":  "edit_window_expired",
		})

	case errors.Is(err, domain.ErrLotteryExists):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "a running lottery already exists for this topic",
			"code":  domain.PrereqDuplicateLottery,
		})

	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "no running lottery for topic")

	default:
		h.logger.ErrorContext(r.Context(), "handler: lottery request failed",
			slog.Int64("topic_id", topicID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
