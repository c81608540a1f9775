package field

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aspr-photos/intake/internal/api/formdata"
	"github.com/aspr-photos/intake/internal/apierrors"
	"github.com/aspr-photos/intake/internal/audit"
	"github.com/aspr-photos/intake/internal/db/models"
	"github.com/aspr-photos/intake/internal/middleware"
	"github.com/aspr-photos/intake/internal/ratelimit"
	"github.com/aspr-photos/intake/internal/renditions"
	"github.com/aspr-photos/intake/internal/storage"
)

// PhotoStore is the subset of *repositories.PhotoRepository used by field routes.
type PhotoStore interface {
	GetByID(ctx context.Context, id string) (*models.Photo, error)
	ListBySession(ctx context.Context, sessionID string) ([]models.Photo, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// Ingester stores one uploaded photo. *renditions.Pipeline satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, in renditions.Input) (*renditions.Result, error)
}

// UploadRecorder bumps a session's upload counter. *sessions.Authority satisfies it.
type UploadRecorder interface {
	RecordUpload(ctx context.Context, sessionID string)
}

// URLSigner issues relative signed image URLs. *signedurl.Signer satisfies it.
type URLSigner interface {
	Sign(photoID, variant string, ttl time.Duration) string
}

// PhotosHandler serves a field team's own photos.
type PhotosHandler struct {
	photos      PhotoStore
	pipeline    Ingester
	sessions    UploadRecorder
	blobs       storage.Storage
	signer      URLSigner
	auditor     middleware.Auditor
	maxFileSize int64
}

// NewPhotosHandler creates a new PhotosHandler
func NewPhotosHandler(photos PhotoStore, pipeline Ingester, sessions UploadRecorder, blobs storage.Storage,
	signer URLSigner, auditor middleware.Auditor, maxFileSize int64) *PhotosHandler {
	if maxFileSize <= 0 {
		maxFileSize = renditions.DefaultMaxFileSize
	}
	return &PhotosHandler{
		photos:      photos,
		pipeline:    pipeline,
		sessions:    sessions,
		blobs:       blobs,
		signer:      signer,
		auditor:     auditor,
		maxFileSize: maxFileSize,
	}
}

// UploadDenied records an upload refused by the upload budget. It is passed to
// middleware.AttemptLimit.
func (h *PhotosHandler) UploadDenied(c *gin.Context, res ratelimit.Result) {
	performedBy := "anonymous"
	if id := c.GetString(middleware.SessionIDKey); id != "" {
		performedBy = "pin:" + id
	}
	h.auditor.Record(c.Request.Context(), audit.Entry{
		EntityType:  "photo",
		Action:      "upload.rate_limited",
		PerformedBy: performedBy,
		IPAddress:   c.ClientIP(),
		Details:     map[string]any{"retryAfter": res.RetryAfterSeconds()},
	})
}

// Upload handles POST /api/photos/upload.
func (h *PhotosHandler) Upload(c *gin.Context) {
	session := middleware.SessionFromContext(c)
	if session == nil {
		apierrors.Respond(c, apierrors.Authentication("Unauthorized"))
		return
	}

	fh, err := c.FormFile("photo")
	if err != nil {
		apierrors.Respond(c, apierrors.Validation("No file provided"))
		return
	}
	meta, err := formdata.ReadMetadata(c)
	if err != nil {
		apierrors.Respond(c, err)
		return
	}
	file, err := formdata.ReadFile(fh, h.maxFileSize)
	if err != nil {
		apierrors.Respond(c, err)
		return
	}

	in := renditions.Input{
		File:       file,
		SessionID:  session.ID,
		UploadedBy: "pin:" + session.ID,
		Source:     renditions.SourceSession,
		IPAddress:  c.ClientIP(),
	}
	meta.Apply(&in)

	res, err := h.pipeline.Ingest(c.Request.Context(), in)
	if err != nil {
		apierrors.Respond(c, err)
		return
	}
	h.sessions.RecordUpload(c.Request.Context(), session.ID)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"photoId": res.Photo.ID,
		"size":    renditions.FormatSize(res.Photo.FileSize),
	})
}

// GalleryPhoto is one entry of a team's gallery.
type GalleryPhoto struct {
	ID           string    `json:"id"`
	FileName     string    `json:"fileName"`
	ThumbnailURL string    `json:"thumbnailUrl"`
	OriginalURL  string    `json:"originalUrl"`
	FileSize     int64     `json:"fileSize"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	MimeType     string    `json:"mimeType"`
	Latitude     *float64  `json:"latitude"`
	Longitude    *float64  `json:"longitude"`
	LocationName *string   `json:"locationName"`
	Notes        *string   `json:"notes"`
	IncidentID   *string   `json:"incidentId"`
	CreatedAt    time.Time `json:"createdAt"`
}

// List handles GET /api/photos: the session's own photos, newest first, with
// short-lived signed image URLs.
func (h *PhotosHandler) List(c *gin.Context) {
	session := middleware.SessionFromContext(c)
	if session == nil {
		apierrors.Respond(c, apierrors.Authentication("Unauthorized"))
		return
	}

	photos, err := h.photos.ListBySession(c.Request.Context(), session.ID)
	if err != nil {
		apierrors.Respond(c, apierrors.Internal("list session photos", err))
		return
	}

	out := make([]GalleryPhoto, 0, len(photos))
	for _, p := range photos {
		out = append(out, GalleryPhoto{
			ID:           p.ID,
			FileName:     p.FileName,
			ThumbnailURL: h.signer.Sign(p.ID, renditions.VariantThumbMedium, 0),
			OriginalURL:  h.signer.Sign(p.ID, storage.VariantOriginal, 0),
			FileSize:     p.FileSize,
			Width:        p.Width,
			Height:       p.Height,
			MimeType:     p.MimeType,
			Latitude:     p.Latitude,
			Longitude:    p.Longitude,
			LocationName: p.LocationName,
			Notes:        p.Notes,
			IncidentID:   p.IncidentID,
			CreatedAt:    p.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"photos": out})
}

// Delete handles DELETE /api/photos/:id. A team may only delete its own
// photos; anyone else's photo is reported as not found.
func (h *PhotosHandler) Delete(c *gin.Context) {
	session := middleware.SessionFromContext(c)
	if session == nil {
		apierrors.Respond(c, apierrors.Authentication("Unauthorized"))
		return
	}
	ctx := c.Request.Context()

	id := strings.ToLower(c.Param("id"))
	if _, err := uuid.Parse(id); err != nil {
		apierrors.Respond(c, apierrors.NotFound("Photo not found"))
		return
	}
	photo, err := h.photos.GetByID(ctx, id)
	if err != nil {
		apierrors.Respond(c, apierrors.Internal("load photo", err))
		return
	}
	if photo == nil || photo.SessionID == nil || *photo.SessionID != session.ID {
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

	h.auditor.Record(ctx, audit.Entry{
		EntityType:  "photo",
		EntityID:    id,
		Action:      "photo.deleted",
		PerformedBy: "pin:" + session.ID,
		IPAddress:   c.ClientIP(),
		Details: map[string]any{
			"fileName":     photo.FileName,
			"fileSize":     photo.FileSize,
			"sessionId":    session.ID,
			"blobsDeleted": removed,
		},
	})
	c.JSON(http.StatusOK, gin.H{"success": true})
}
