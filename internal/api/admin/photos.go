// photos.go implements the admin photo routes: batch upload, detail, delete
// and in-browser edits.
package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aspr-photos/intake/internal/api/formdata"
	"github.com/aspr-photos/intake/internal/apierrors"
	"github.com/aspr-photos/intake/internal/audit"
	"github.com/aspr-photos/intake/internal/db/models"
	"github.com/aspr-photos/intake/internal/middleware"
	"github.com/aspr-photos/intake/internal/renditions"
	"github.com/aspr-photos/intake/internal/storage"
)

// PhotoStore is the subset of *repositories.PhotoRepository used by the
// admin photo routes.
type PhotoStore interface {
	GetByID(ctx context.Context, id string) (*models.Photo, error)
	GetMany(ctx context.Context, ids []string) ([]models.Photo, error)
	Delete(ctx context.Context, id string) (bool, error)
	DeleteMany(ctx context.Context, ids []string) (int64, error)
	ExistingIDs(ctx context.Context, ids []string) ([]string, error)
	UpdateStatus(ctx context.Context, ids []string, status, updatedBy string) (int64, error)
	ListRenditions(ctx context.Context, photoID string) ([]models.Rendition, error)
	GetExif(ctx context.Context, photoID string) (*models.ExifRecord, error)
	ListEdits(ctx context.Context, photoID string) ([]models.PhotoEdit, error)
}

// Pipeline ingests and edits photos. *renditions.Pipeline satisfies it.
type Pipeline interface {
	IngestBatch(ctx context.Context, inputs []renditions.Input) renditions.BatchResult
	Edit(ctx context.Context, in renditions.EditInput) (*renditions.EditResult, error)
}

// URLSigner issues signed image URLs. *signedurl.Signer satisfies it.
type URLSigner interface {
	Sign(photoID, variant string, ttl time.Duration) string
	SignAbsolute(baseURL, photoID, variant string, ttl time.Duration) string
}

// PhotosConfig bounds the admin photo routes.
type PhotosConfig struct {
	MaxFileSize    int64
	MaxBatchFiles  int
	MaxBulkIDs     int
	MaxDownloadIDs int
	// DownloadTTL is the lifetime of bulk download links.
	DownloadTTL time.Duration
	// PublicURL prefixes bulk download links.
	PublicURL string
}

func (cfg *PhotosConfig) applyDefaults() {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = renditions.DefaultMaxFileSize
	}
	if cfg.MaxBatchFiles <= 0 {
		cfg.MaxBatchFiles = 50
	}
	if cfg.MaxBulkIDs <= 0 {
		cfg.MaxBulkIDs = 200
	}
	if cfg.MaxDownloadIDs <= 0 {
		cfg.MaxDownloadIDs = 100
	}
	if cfg.DownloadTTL <= 0 {
		cfg.DownloadTTL = 24 * time.Hour
	}
}

// PhotosHandler handles admin photo API requests
type PhotosHandler struct {
	photos   PhotoStore
	tags     TagStore
	pipeline Pipeline
	blobs    storage.Storage
	signer   URLSigner
	auditor  middleware.Auditor
	cfg      PhotosConfig
}

// NewPhotosHandler creates a new admin photos handler
func NewPhotosHandler(photos PhotoStore, tags TagStore, pipeline Pipeline, blobs storage.Storage,
	signer URLSigner, auditor middleware.Auditor, cfg PhotosConfig) *PhotosHandler {
	cfg.applyDefaults()
	return &PhotosHandler{
		photos:   photos,
		tags:     tags,
		pipeline: pipeline,
		blobs:    blobs,
		signer:   signer,
		auditor:  auditor,
		cfg:      cfg,
	}
}

// photoID normalises the :id path parameter. ok is false when it cannot name a photo.
func photoID(c *gin.Context) (string, bool) {
	id := strings.ToLower(c.Param("id"))
	_, err := uuid.Parse(id)
	return id, err == nil
}

// UploadBatch handles POST /api/admin/photos/upload. One bad file never fails
// the others; the response reports each file.
func (h *PhotosHandler) UploadBatch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		apierrors.Respond(c, apierrors.Validation("Invalid multipart form"))
		return
	}
	files := append(form.File["photos"], form.File["photos[]"]...)
	if len(files) == 0 {
		apierrors.Respond(c, apierrors.Validation("No files provided"))
		return
	}
	if len(files) > h.cfg.MaxBatchFiles {
		apierrors.Respond(c, apierrors.Validationf("Maximum %d files per upload", h.cfg.MaxBatchFiles))
		return
	}
	meta, err := formdata.ReadMetadata(c)
	if err != nil {
		apierrors.Respond(c, err)
		return
	}

	admin := middleware.AdminFromContext(c)
	inputs := make([]renditions.Input, 0, len(files))
	for _, fh := range files {
		file, err := formdata.ReadFile(fh, h.cfg.MaxFileSize)
		if err != nil {
			apierrors.Respond(c, err)
			return
		}
		in := renditions.Input{
			File:       file,
			UploadedBy: admin.PerformedBy(),
			Source:     renditions.SourceAdmin,
			IPAddress:  c.ClientIP(),
		}
		meta.Apply(&in)
		inputs = append(inputs, in)
	}

	c.JSON(http.StatusOK, h.pipeline.IngestBatch(c.Request.Context(), inputs))
}

// RenditionView is a rendition with a signed URL.
type RenditionView struct {
	models.Rendition
	URL string `json:"url"`
}

// PhotoDetail is the admin view of one photo.
type PhotoDetail struct {
	*models.Photo
	ThumbnailURL string             `json:"thumbnailUrl"`
	OriginalURL  string             `json:"originalUrl"`
	Exif         *models.ExifRecord `json:"exif"`
	Tags         []models.PhotoTag  `json:"tags"`
	Renditions   []RenditionView    `json:"renditions"`
	EditHistory  []models.PhotoEdit `json:"editHistory"`
}

// GetPhoto handles GET /api/admin/photos/:id.
func (h *PhotosHandler) GetPhoto(c *gin.Context) {
	id, ok := photoID(c)
	if !ok {
		apierrors.Respond(c, apierrors.NotFound("Photo not found"))
		return
	}
	ctx := c.Request.Context()

	photo, err := h.photos.GetByID(ctx, id)
	if err != nil {
		apierrors.Respond(c, apierrors.Internal("load photo", err))
		return
	}
	if photo == nil {
		apierrors.Respond(c, apierrors.NotFound("Photo not found"))
		return
	}

	exif, err := h.photos.GetExif(ctx, id)
	if err != nil {
		apierrors.Respond(c, apierrors.Internal("load exif", err))
		return
	}
	tags, err := h.tags.ListForPhoto(ctx, id)
	if err != nil {
		apierrors.Respond(c, apierrors.Internal("load photo tags", err))
		return
	}
	rows, err := h.photos.ListRenditions(ctx, id)
	if err != nil {
		apierrors.Respond(c, apierrors.Internal("load renditions", err))
		return
	}
	edits, err := h.photos.ListEdits(ctx, id)
	if err != nil {
		apierrors.Respond(c, apierrors.Internal("load edit history", err))
		return
	}

	views := make([]RenditionView, 0, len(rows))
	for _, r := range rows {
		views = append(views, RenditionView{Rendition: r, URL: h.signer.Sign(id, r.VariantType, 0)})
	}
	c.JSON(http.StatusOK, PhotoDetail{
		Photo:        photo,
		ThumbnailURL: h.signer.Sign(id, renditions.VariantThumbMedium, 0),
		OriginalURL:  h.signer.Sign(id, storage.VariantOriginal, 0),
		Exif:         exif,
		Tags:         tags,
		Renditions:   views,
		EditHistory:  edits,
	})
}

// DeletePhoto handles DELETE /api/admin/photos/:id. The row goes first so the
// photo disappears even if blob cleanup is incomplete.
func (h *PhotosHandler) DeletePhoto(c *gin.Context) {
	id, ok := photoID(c)
	if !ok {
		apierrors.Respond(c, apierrors.NotFound("Photo not found"))
		return
	}
	ctx := c.Request.Context()

	photo, err := h.photos.GetByID(ctx, id)
	if err != nil {
		apierrors.Respond(c, apierrors.Internal("load photo", err))
		return
	}
	if photo == nil {
		apierrors.Respond(c, apierrors.NotFound("Photo not found"))
		return
	}
	if _, err := h.photos.Delete(ctx, id); err != nil {
		apierrors.Respond(c, apierrors.Internal("delete photo", err))
		return
	}
	removed, err := storage.DeletePhotoBlobs(ctx, h.blobs, id)
	if err != nil {
		slog.Warn("photo blobs not fully removed", "photo_id", id, "removed", removed, "error", err)
	}

	details := map[string]any{
		"fileName":     photo.FileName,
		"fileSize":     photo.FileSize,
		"blobsDeleted": removed,
	}
	if photo.SessionID != nil {
		details["sessionId"] = *photo.SessionID
	}
	h.auditor.Record(ctx, audit.Entry{
		EntityType:  "photo",
		EntityID:    id,
		Action:      "photo.deleted",
		PerformedBy: middleware.AdminFromContext(c).PerformedBy(),
		IPAddress:   c.ClientIP(),
		Details:     details,
	})
	c.JSON(http.StatusOK, gin.H{"success": true, "blobsDeleted": removed})
}

// EditPhoto handles POST /api/admin/photos/:id/edit. The expected version may
// come from the "version" form field or an If-Match header; without either the
// last writer wins.
func (h *PhotosHandler) EditPhoto(c *gin.Context) {
	id, ok := photoID(c)
	if !ok {
		apierrors.Respond(c, apierrors.NotFound("Photo not found"))
		return
	}

	fh, err := c.FormFile("image")
	if err != nil {
		apierrors.Respond(c, apierrors.Validation("No image provided"))
		return
	}
	rawVersion := c.PostForm("version")
	if rawVersion == "" {
		rawVersion = strings.TrimPrefix(c.GetHeader("If-Match"), "W/")
	}
	version, err := renditions.ParseVersion(rawVersion)
	if err != nil {
		apierrors.Respond(c, err)
		return
	}
	image, err := formdata.ReadFile(fh, h.cfg.MaxFileSize)
	if err != nil {
		apierrors.Respond(c, err)
		return
	}

	var params json.RawMessage
	if raw := strings.TrimSpace(c.PostForm("editParams")); raw != "" {
		params = json.RawMessage(raw)
	}

	res, err := h.pipeline.Edit(c.Request.Context(), renditions.EditInput{
		PhotoID:         id,
		Image:           image,
		EditType:        strings.TrimSpace(c.PostForm("editType")),
		EditParams:      params,
		ExpectedVersion: version,
		EditedBy:        middleware.AdminFromContext(c).PerformedBy(),
		IPAddress:       c.ClientIP(),
	})
	if err != nil {
		apierrors.Respond(c, err)
		return
	}

	c.Header("ETag", strconv.Quote(strconv.Itoa(res.Version)))
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"width":      res.Width,
		"height":     res.Height,
		"version":    res.Version,
		"renditions": res.Renditions,
	})
}
