// bulk.go implements bulk operations over many photos at once: delete, tag,
// untag, status changes and signed download links.
package admin

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aspr-photos/intake/internal/apierrors"
	"github.com/aspr-photos/intake/internal/audit"
	"github.com/aspr-photos/intake/internal/db/models"
	"github.com/aspr-photos/intake/internal/middleware"
	"github.com/aspr-photos/intake/internal/storage"
)

// Bulk actions.
const (
	BulkDelete = "delete"
	BulkTag    = "tag"
	BulkUntag  = "untag"
	BulkStatus = "status"
)

// BulkRequest is the body of POST /api/admin/photos/bulk.
type BulkRequest struct {
	Action   string   `json:"action"`
	PhotoIDs []string `json:"photoIds"`
	// Value is the tag id for tag/untag and the new status for status.
	Value string `json:"value"`
}

// normalizeIDs lowercases ids, drops duplicates and rejects anything that is
// not a UUID.
func normalizeIDs(ids []string) ([]string, bool) {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.ToLower(strings.TrimSpace(id))
		if _, err := uuid.Parse(id); err != nil {
			return nil, false
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, true
}

// Bulk handles POST /api/admin/photos/bulk.
func (h *PhotosHandler) Bulk(c *gin.Context) {
	var req BulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.Respond(c, apierrors.Validation("Invalid request body"))
		return
	}
	if req.Action == "" || len(req.PhotoIDs) == 0 {
		apierrors.Respond(c, apierrors.Validation("action and photoIds are required"))
		return
	}
	if len(req.PhotoIDs) > h.cfg.MaxBulkIDs {
		apierrors.Respond(c, apierrors.Validationf("Maximum %d photos per bulk operation", h.cfg.MaxBulkIDs))
		return
	}
	ids, ok := normalizeIDs(req.PhotoIDs)
	if !ok {
		apierrors.Respond(c, apierrors.Validation("photoIds must be UUIDs"))
		return
	}

	ctx := c.Request.Context()
	performedBy := middleware.AdminFromContext(c).PerformedBy()
	var (
		affected int64
		err      error
	)
	switch req.Action {
	case BulkDelete:
		affected, err = h.bulkDelete(c, ids)
	case BulkStatus:
		if !models.ValidPhotoStatus(req.Value) {
			apierrors.Respond(c, apierrors.Validation("Invalid status value"))
			return
		}
		affected, err = h.photos.UpdateStatus(ctx, ids, req.Value, performedBy)
	case BulkTag, BulkUntag:
		tagID := strings.ToLower(strings.TrimSpace(req.Value))
		if tagID == "" {
			apierrors.Respond(c, apierrors.Validation("tag ID is required"))
			return
		}
		if _, perr := uuid.Parse(tagID); perr != nil {
			apierrors.Respond(c, apierrors.NotFound("Tag not found"))
			return
		}
		tag, terr := h.tags.GetByID(ctx, tagID)
		if terr != nil {
			apierrors.Respond(c, apierrors.Internal("load tag", terr))
			return
		}
		if tag == nil {
			apierrors.Respond(c, apierrors.NotFound("Tag not found"))
			return
		}
		if req.Action == BulkTag {
			affected, err = h.tags.AddToPhotos(ctx, tagID, ids, performedBy)
		} else {
			affected, err = h.tags.RemoveFromPhotos(ctx, tagID, ids)
		}
	default:
		apierrors.Respond(c, apierrors.Validation("Unknown action"))
		return
	}
	if err != nil {
		apierrors.Respond(c, apierrors.Internal("bulk "+req.Action, err))
		return
	}

	details := map[string]any{"photoCount": len(ids), "affected": affected}
	if req.Value != "" {
		details["value"] = req.Value
	}
	h.auditor.Record(ctx, audit.Entry{
		EntityType:  "bulk",
		Action:      "bulk." + req.Action,
		PerformedBy: performedBy,
		IPAddress:   c.ClientIP(),
		Details:     details,
	})
	c.JSON(http.StatusOK, gin.H{"success": true, "affected": affected})
}

// bulkDelete removes the rows, then the blobs of every photo that existed.
// Blob failures are logged and do not fail the request.
func (h *PhotosHandler) bulkDelete(c *gin.Context, ids []string) (int64, error) {
	ctx := c.Request.Context()
	existing, err := h.photos.ExistingIDs(ctx, ids)
	if err != nil {
		return 0, err
	}
	if len(existing) == 0 {
		return 0, nil
	}
	affected, err := h.photos.DeleteMany(ctx, existing)
	if err != nil {
		return 0, err
	}
	for _, id := range existing {
		if n, err := storage.DeletePhotoBlobs(ctx, h.blobs, id); err != nil {
			slog.Warn("photo blobs not fully removed", "photo_id", id, "removed", n, "error", err)
		}
	}
	return affected, nil
}

// BulkDownloadRequest is the body of POST /api/admin/photos/bulk-download.
type BulkDownloadRequest struct {
	PhotoIDs []string `json:"photoIds"`
}

// DownloadLink is one signed original handed out by BulkDownload.
type DownloadLink struct {
	ID         string  `json:"id"`
	FileName   string  `json:"fileName"`
	FileSize   int64   `json:"fileSize"`
	IncidentID *string `json:"incidentId"`
	URL        string  `json:"url"`
}

// BulkDownload handles POST /api/admin/photos/bulk-download. It returns one
// long-lived signed URL per original; unknown ids are skipped.
func (h *PhotosHandler) BulkDownload(c *gin.Context) {
	var req BulkDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.PhotoIDs) == 0 {
		apierrors.Respond(c, apierrors.Validation("photoIds are required"))
		return
	}
	if len(req.PhotoIDs) > h.cfg.MaxDownloadIDs {
		apierrors.Respond(c, apierrors.Validationf("Maximum %d photos per download", h.cfg.MaxDownloadIDs))
		return
	}
	ids, ok := normalizeIDs(req.PhotoIDs)
	if !ok {
		apierrors.Respond(c, apierrors.Validation("photoIds must be UUIDs"))
		return
	}

	photos, err := h.photos.GetMany(c.Request.Context(), ids)
	if err != nil {
		apierrors.Respond(c, apierrors.Internal("load photos for download", err))
		return
	}

	links := make([]DownloadLink, 0, len(photos))
	for _, p := range photos {
		links = append(links, DownloadLink{
			ID:         p.ID,
			FileName:   p.FileName,
			FileSize:   p.FileSize,
			IncidentID: p.IncidentID,
			URL:        h.signer.SignAbsolute(h.cfg.PublicURL, p.ID, storage.VariantOriginal, h.cfg.DownloadTTL),
		})
	}

	h.auditor.Record(c.Request.Context(), audit.Entry{
		EntityType:  "bulk",
		Action:      "bulk.download",
		PerformedBy: middleware.AdminFromContext(c).PerformedBy(),
		IPAddress:   c.ClientIP(),
		Details:     map[string]any{"photoCount": len(links)},
	})
	c.JSON(http.StatusOK, gin.H{
		"downloads": links,
		"expiresAt": time.Now().Add(h.cfg.DownloadTTL).UTC(),
	})
}
