// Package images delivers photo blobs behind signed URLs. The signature in the
// query string is the only credential: the route needs no session or admin
// auth, which lets the URLs be dropped straight into <img> tags and cached by
// a CDN.
package images

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aspr-photos/intake/internal/renditions"
	"github.com/aspr-photos/intake/internal/storage"
)

// Verifier checks signed URL parameters. *signedurl.Signer satisfies it.
type Verifier interface {
	VerifyQuery(photoID, variant, exp, sig string) bool
}

// Handler serves GET /api/photos/:id/image and its /image/:id alias.
type Handler struct {
	verifier Verifier
	blobs    storage.Storage
}

// NewHandler creates a new image Handler
func NewHandler(verifier Verifier, blobs storage.Storage) *Handler {
	return &Handler{verifier: verifier, blobs: blobs}
}

// ValidVariant reports whether variant may be requested through a signed URL.
func ValidVariant(variant string) bool {
	return variant == storage.VariantOriginal || variant == storage.VariantThumbnail || renditions.IsVariant(variant)
}

// Serve streams the requested image. The photo id is lowercased before the
// signature check so that links copied through case-folding clients still work.
func (h *Handler) Serve(c *gin.Context) {
	id := strings.ToLower(c.Param("id"))
	variant := c.DefaultQuery("type", storage.VariantOriginal)

	if !ValidVariant(variant) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid image type"})
		return
	}
	if !h.verifier.VerifyQuery(id, variant, c.Query("exp"), c.Query("sig")) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Invalid or expired signature"})
		return
	}

	obj, err := h.blobs.Open(c.Request.Context(), storage.BlobPath(id, variant))
	if errors.Is(err, storage.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Image not found"})
		return
	}
	if err != nil {
		slog.Error("failed to open image", "photo_id", id, "variant", variant, "error", err)
		c.Header("Cache-Control", "no-store")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to load image"})
		return
	}
	defer obj.Body.Close()

	contentType := obj.ContentType
	if contentType == "" {
		if variant == storage.VariantOriginal {
			contentType = "image/jpeg"
		} else {
			contentType = "image/webp"
		}
	}

	// Each URL is unique per signature and expiry, so the response never changes.
	c.Header("Content-Type", contentType)
	c.Header("Cache-Control", "public, max-age=3600, s-maxage=604800, immutable")
	c.Header("CDN-Cache-Control", "public, max-age=604800")
	c.Header("Vary", "Accept-Encoding")
	if obj.Size > 0 {
		c.Header("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	c.Status(http.StatusOK)

	if c.Request.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(c.Writer, obj.Body); err != nil {
		slog.Warn("image stream interrupted", "photo_id", id, "variant", variant, "error", err)
	}
}
