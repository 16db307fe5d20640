package categories

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/polly-app/backend/internal/models"
	"github.com/polly-app/backend/internal/polls"
	"github.com/polly-app/backend/pkg/response"
)

// CreateRequest is the body for POST /categories.
type CreateRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Color       string `json:"color" binding:"omitempty,len=7,hexcolor"`
}

// PollAccess decides whether the caller may manage a poll, writing the
// rejection itself.
type PollAccess interface {
	OwnsPoll(c *gin.Context, pollID uuid.UUID) bool
}

// Handler handles category HTTP endpoints.
type Handler struct {
	store  Store
	access PollAccess
	logger *zap.Logger
}

// NewHandler creates a categories handler.
func NewHandler(store Store, access PollAccess, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, access: access, logger: logger}
}

// List handles GET /categories.
func (h *Handler) List(c *gin.Context) {
	list, err := h.store.ListCategories(c.Request.Context())
	if err != nil {
		polls.WriteError(c, h.logger, err)
		return
	}
	if list == nil {
		list = []models.CategoryWithCount{}
	}
	response.OK(c, list)
}

// Create handles POST /categories (admin).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		response.BadRequest(c, "name is required")
		return
	}
	color := req.Color
	if color == "" {
		color = models.DefaultCategoryColor
	}
	cat := &models.Category{Name: name, Color: color}
	if d := strings.TrimSpace(req.Description); d != "" {
		cat.Description = &d
	}
	if err := h.store.CreateCategory(c.Request.Context(), cat); err != nil {
		polls.WriteError(c, h.logger, err)
		return
	}
	h.logger.Info("category created", zap.String("category_id", cat.ID.String()), zap.String("name", cat.Name))
	response.Created(c, cat)
}

// Delete handles DELETE /categories/:id (admin).
func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid category id")
		return
	}
	if err := h.store.DeleteCategory(c.Request.Context(), id); err != nil {
		polls.WriteError(c, h.logger, err)
		return
	}
	response.NoContent(c)
}

// ListByPoll handles GET /polls/:id/categories.
func (h *Handler) ListByPoll(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	list, err := h.store.ListByPoll(c.Request.Context(), pollID)
	if err != nil {
		polls.WriteError(c, h.logger, err)
		return
	}
	if list == nil {
		list = []models.Category{}
	}
	response.OK(c, list)
}

// Attach handles POST /polls/:id/categories/:categoryId (creator or admin).
func (h *Handler) Attach(c *gin.Context) {
	pollID, categoryID, ok := h.link(c)
	if !ok {
		return
	}
	if _, err := h.store.GetCategory(c.Request.Context(), categoryID); err != nil {
		polls.WriteError(c, h.logger, err)
		return
	}
	if err := h.store.Attach(c.Request.Context(), pollID, categoryID); err != nil {
		polls.WriteError(c, h.logger, err)
		return
	}
	response.NoContent(c)
}

// Detach handles DELETE /polls/:id/categories/:categoryId (creator or admin).
func (h *Handler) Detach(c *gin.Context) {
	pollID, categoryID, ok := h.link(c)
	if !ok {
		return
	}
	if err := h.store.Detach(c.Request.Context(), pollID, categoryID); err != nil {
		polls.WriteError(c, h.logger, err)
		return
	}
	response.NoContent(c)
}

func (h *Handler) link(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return uuid.Nil, uuid.Nil, false
	}
	categoryID, err := uuid.Parse(c.Param("categoryId"))
	if err != nil {
		response.BadRequest(c, "invalid category id")
		return uuid.Nil, uuid.Nil, false
	}
	if !h.access.OwnsPoll(c, pollID) {
		return uuid.Nil, uuid.Nil, false
	}
	return pollID, categoryID, true
}
