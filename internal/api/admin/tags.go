// tags.go implements handlers for listing and creating photo tags.
package admin

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aspr-photos/intake/internal/apierrors"
	"github.com/aspr-photos/intake/internal/audit"
	"github.com/aspr-photos/intake/internal/db/models"
	"github.com/aspr-photos/intake/internal/db/repositories"
	"github.com/aspr-photos/intake/internal/middleware"
	"github.com/aspr-photos/intake/internal/validation"
)

// TagStore is satisfied by *repositories.TagRepository.
type TagStore interface {
	List(ctx context.Context, f repositories.TagFilters) ([]models.TagWithUsage, error)
	GetByID(ctx context.Context, id string) (*models.Tag, error)
	Create(ctx context.Context, t *models.Tag) error
	AddToPhotos(ctx context.Context, tagID string, photoIDs []string, addedBy string) (int64, error)
	RemoveFromPhotos(ctx context.Context, tagID string, photoIDs []string) (int64, error)
	ListForPhoto(ctx context.Context, photoID string) ([]models.PhotoTag, error)
}

// TagsHandler handles tag-related API requests
type TagsHandler struct {
	tags    TagStore
	auditor middleware.Auditor
}

// NewTagsHandler creates a new tags handler
func NewTagsHandler(tags TagStore, auditor middleware.Auditor) *TagsHandler {
	return &TagsHandler{tags: tags, auditor: auditor}
}

// ListTags handles GET /api/admin/tags?q=&category=
func (h *TagsHandler) ListTags(c *gin.Context) {
	tags, err := h.tags.List(c.Request.Context(), repositories.TagFilters{
		Query:    c.Query("q"),
		Category: c.Query("category"),
	})
	if err != nil {
		apierrors.Respond(c, apierrors.Internal("list tags", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"tags": tags})
}

// CreateTagRequest is the body of POST /api/admin/tags.
type CreateTagRequest struct {
	Name     string `json:"name"`
	Category string `json:"category" binding:"omitempty,max=50"`
	Color    string `json:"color" binding:"omitempty,hexcolor"`
}

// CreateTag handles POST /api/admin/tags.
func (h *TagsHandler) CreateTag(c *gin.Context) {
	var req CreateTagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.Respond(c, apierrors.Validation(validation.BindingMessage(err)))
		return
	}
	if err := validation.ValidateTagName(req.Name); err != nil {
		apierrors.Respond(c, err)
		return
	}

	tag := &models.Tag{
		Name:     strings.TrimSpace(req.Name),
		Category: strings.TrimSpace(req.Category),
	}
	if req.Color != "" {
		tag.Color = &req.Color
	}
	if err := h.tags.Create(c.Request.Context(), tag); err != nil {
		if errors.Is(err, repositories.ErrDuplicateTag) {
			apierrors.Respond(c, apierrors.Conflict("Tag already exists in this category"))
			return
		}
		apierrors.Respond(c, apierrors.Internal("create tag", err))
		return
	}

	h.auditor.Record(c.Request.Context(), audit.Entry{
		EntityType:  "tag",
		EntityID:    tag.ID,
		Action:      "tag.created",
		PerformedBy: middleware.AdminFromContext(c).PerformedBy(),
		IPAddress:   c.ClientIP(),
		Details:     map[string]any{"name": tag.Name, "category": tag.Category},
	})
	c.JSON(http.StatusCreated, gin.H{"tag": tag})
}
