package polls

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/polly-app/backend/internal/middleware"
	"github.com/polly-app/backend/pkg/response"
)

// CreateRequest is the body for POST /polls.
type CreateRequest struct {
	Title              string      `json:"title" binding:"required"`
	Description        string      `json:"description"`
	ExpiresAt          *time.Time  `json:"expires_at"`
	AllowMultipleVotes bool        `json:"allow_multiple_votes"`
	AllowAnonymous     *bool       `json:"allow_anonymous"`
	Options            []string    `json:"options" binding:"required"`
	CategoryIDs        []uuid.UUID `json:"category_ids"`
	Draft              bool        `json:"draft"`
}

// UpdateRequest is the body for PATCH /polls/:id.
type UpdateRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	ExpiresAt   *time.Time `json:"expires_at"`
	ClearExpiry bool       `json:"clear_expiry"`
}

// VoteRequestBody is the body for POST /polls/:id/votes.
type VoteRequestBody struct {
	OptionID uuid.UUID `json:"option_id" binding:"required"`
}

// DownloadResponse carries a presigned URL of the archived results.
type DownloadResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ResultsArchive serves archived poll results.
type ResultsArchive interface {
	PresignResults(ctx context.Context, key string) (url string, expiresAt time.Time, err error)
	DeleteResults(ctx context.Context, key string) error
}

// Handler handles poll and vote HTTP endpoints.
type Handler struct {
	svc     *Service
	sweeper *Sweeper
	archive ResultsArchive
	logger  *zap.Logger
}

// NewHandler creates a polls handler. sweeper and archive may be nil.
func NewHandler(svc *Service, sweeper *Sweeper, archive ResultsArchive, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, sweeper: sweeper, archive: archive, logger: logger}
}

// List handles GET /polls: active polls, newest first.
func (h *Handler) List(c *gin.Context) {
	f := ListFilter{
		Query:  c.Query("q"),
		Limit:  queryInt(c, "limit"),
		Offset: queryInt(c, "offset"),
	}
	if raw := c.Query("category_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(c, "invalid category id")
			return
		}
		f.CategoryID = &id
	}
	list, err := h.svc.ListActive(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, nonNil(list))
}

// Mine handles GET /me/polls.
func (h *Handler) Mine(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	list, err := h.svc.ListByCreator(c.Request.Context(), userID, queryInt(c, "limit"), queryInt(c, "offset"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, nonNil(list))
}

// Get handles GET /polls/:id. Authenticated callers also get their active vote.
func (h *Handler) Get(c *gin.Context) {
	id, ok := pathID(c, "id", "invalid poll id")
	if !ok {
		return
	}
	d, err := h.svc.Details(c.Request.Context(), id, middleware.OptionalUserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, d)
}

// Create handles POST /polls.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	allowAnonymous := true
	if req.AllowAnonymous != nil {
		allowAnonymous = *req.AllowAnonymous
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	p, err := h.svc.CreatePoll(c.Request.Context(), userID, CreatePollInput{
		Title:              req.Title,
		Description:        req.Description,
		ExpiresAt:          req.ExpiresAt,
		AllowMultipleVotes: req.AllowMultipleVotes,
		AllowAnonymous:     allowAnonymous,
		Options:            req.Options,
		CategoryIDs:        req.CategoryIDs,
		Draft:              req.Draft,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, p)
}

// Update handles PATCH /polls/:id (creator or admin).
func (h *Handler) Update(c *gin.Context) {
	id, ok := h.ownedPoll(c)
	if !ok {
		return
	}
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	p, err := h.svc.UpdatePoll(c.Request.Context(), id, UpdatePollInput{
		Title:       req.Title,
		Description: req.Description,
		ExpiresAt:   req.ExpiresAt,
		ClearExpiry: req.ClearExpiry,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, p)
}

// Delete handles DELETE /polls/:id (creator or admin).
func (h *Handler) Delete(c *gin.Context) {
	id, ok := h.ownedPoll(c)
	if !ok {
		return
	}
	p, err := h.svc.store.GetPoll(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.svc.DeletePoll(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	if p.SnapshotKey != nil && h.archive != nil {
		if err := h.archive.DeleteResults(c.Request.Context(), *p.SnapshotKey); err != nil {
			h.logger.Warn("delete results snapshot failed", zap.String("poll_id", id.String()), zap.Error(err))
		}
	}
	response.NoContent(c)
}

// Publish handles POST /polls/:id/publish (creator or admin).
func (h *Handler) Publish(c *gin.Context) {
	id, ok := h.ownedPoll(c)
	if !ok {
		return
	}
	p, err := h.svc.Publish(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, p)
}

// Close handles POST /polls/:id/close (creator or admin).
func (h *Handler) Close(c *gin.Context) {
	id, ok := h.ownedPoll(c)
	if !ok {
		return
	}
	p, err := h.svc.Close(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, p)
}

// Results handles GET /polls/:id/results.
func (h *Handler) Results(c *gin.Context) {
	id, ok := pathID(c, "id", "invalid poll id")
	if !ok {
		return
	}
	t, err := h.svc.Tally(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, t)
}

// DownloadResults handles GET /polls/:id/results/download.
func (h *Handler) DownloadResults(c *gin.Context) {
	id, ok := pathID(c, "id", "invalid poll id")
	if !ok {
		return
	}
	if h.archive == nil {
		response.ServiceUnavailable(c, "results archive not configured")
		return
	}
	p, err := h.svc.GetPoll(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if p.SnapshotKey == nil {
		response.NotFound(c, "results snapshot not available")
		return
	}
	url, expiresAt, err := h.archive.PresignResults(c.Request.Context(), *p.SnapshotKey)
	if err != nil {
		h.logger.Error("presign results failed", zap.String("poll_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to generate download url")
		return
	}
	response.OK(c, DownloadResponse{URL: url, ExpiresAt: expiresAt})
}

// Eligibility handles GET /polls/:id/eligibility?option_id=.
func (h *Handler) Eligibility(c *gin.Context) {
	id, ok := pathID(c, "id", "invalid poll id")
	if !ok {
		return
	}
	optionID := uuid.Nil
	if raw := c.Query("option_id"); raw != "" {
		var err error
		if optionID, err = uuid.Parse(raw); err != nil {
			response.BadRequest(c, "invalid option id")
			return
		}
	}
	d, err := h.svc.ValidateVote(c.Request.Context(), id, optionID, middleware.OptionalUserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, d)
}

// Vote handles POST /polls/:id/votes. The bearer token is optional; without
// one the vote is anonymous.
func (h *Handler) Vote(c *gin.Context) {
	id, ok := pathID(c, "id", "invalid poll id")
	if !ok {
		return
	}
	var req VoteRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	v, err := h.svc.RecordVote(c.Request.Context(), VoteRequest{
		PollID:   id,
		OptionID: req.OptionID,
		ActorID:  middleware.OptionalUserID(c),
		Origin:   Origin{IPAddress: c.ClientIP(), UserAgent: c.Request.UserAgent()},
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, v)
}

// ListVotes handles GET /polls/:id/votes. Voter ids are only shown to the
// poll creator and admins.
func (h *Handler) ListVotes(c *gin.Context) {
	id, ok := pathID(c, "id", "invalid poll id")
	if !ok {
		return
	}
	p, err := h.svc.GetPoll(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	list, err := h.svc.ListVotesByPoll(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !canSeeVoters(c, p.CreatedBy) {
		for i := range list {
			list[i].UserID = nil
		}
	}
	response.OK(c, nonNil(list))
}

// MyVotes handles GET /me/votes.
func (h *Handler) MyVotes(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	list, err := h.svc.ListVotesByUser(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, nonNil(list))
}

// Retract handles DELETE /votes/:id (vote owner or admin).
func (h *Handler) Retract(c *gin.Context) {
	id, ok := pathID(c, "id", "invalid vote id")
	if !ok {
		return
	}
	v, err := h.svc.GetVote(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if !middleware.IsAdmin(c) && (v.UserID == nil || *v.UserID != userID) {
		response.Forbidden(c, "only the voter can retract this vote")
		return
	}
	if err := h.svc.RetractVote(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	response.NoContent(c)
}

// Sweep handles POST /admin/polls/sweep.
func (h *Handler) Sweep(c *gin.Context) {
	if h.sweeper == nil {
		ids, err := h.svc.SweepExpired(c.Request.Context())
		if err != nil {
			h.fail(c, err)
			return
		}
		response.OK(c, gin.H{"closed": len(ids), "skipped": false})
		return
	}
	closed, skipped, err := h.sweeper.RunOnce(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"closed": closed, "skipped": skipped})
}

// OwnsPoll reports whether the caller created the poll or is an admin. It
// writes the error response itself when the answer is no.
func (h *Handler) OwnsPoll(c *gin.Context, pollID uuid.UUID) bool {
	p, err := h.svc.store.GetPoll(c.Request.Context(), pollID)
	if err != nil {
		h.fail(c, err)
		return false
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if p.CreatedBy != userID && !middleware.IsAdmin(c) {
		response.Forbidden(c, "only the poll creator can manage this poll")
		return false
	}
	return true
}

func canSeeVoters(c *gin.Context, creator uuid.UUID) bool {
	if middleware.IsAdmin(c) {
		return true
	}
	actor := middleware.OptionalUserID(c)
	return actor != nil && *actor == creator
}

func (h *Handler) ownedPoll(c *gin.Context) (uuid.UUID, bool) {
	id, ok := pathID(c, "id", "invalid poll id")
	if !ok {
		return uuid.Nil, false
	}
	return id, h.OwnsPoll(c, id)
}

// fail maps a domain error onto the response envelope.
func (h *Handler) fail(c *gin.Context, err error) {
	WriteError(c, h.logger, err)
}

// WriteError writes err with the status of its Kind. Persistence failures
// are logged and answered with a generic message.
func WriteError(c *gin.Context, logger *zap.Logger, err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = &Error{Kind: KindPersistence, Err: err}
	}
	switch e.Kind {
	case KindNotFound:
		response.NotFound(c, e.Reason)
	case KindValidation:
		response.BadRequest(c, e.Reason)
	case KindInvalidState, KindConflict:
		response.Conflict(c, e.Reason)
	default:
		logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		response.Internal(c, "internal error")
	}
}

func pathID(c *gin.Context, name, msg string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.BadRequest(c, msg)
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string) int {
	n, _ := strconv.Atoi(c.Query(key))
	return n
}

func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
