// Package renditions turns an uploaded photo into durable state: the original
// blob, WebP renditions for the gallery, the photo row and its EXIF metadata.
//
// Each file moves through three concurrent stages. Decoding runs alongside
// EXIF extraction, every variant is transcoded in parallel, and all blobs are
// uploaded in parallel. Only once the blobs are stored is the photo row
// written; rendition and EXIF rows are best effort after that and never undo
// the photo.
package renditions

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aspr-photos/intake/internal/apierrors"
	"github.com/aspr-photos/intake/internal/audit"
	"github.com/aspr-photos/intake/internal/db/models"
	"github.com/aspr-photos/intake/internal/db/repositories"
	"github.com/aspr-photos/intake/internal/storage"
	"github.com/aspr-photos/intake/internal/telemetry"
	"github.com/aspr-photos/intake/internal/validation"
	"github.com/aspr-photos/intake/pkg/checksum"
)

// PhotoStore is the persistence the pipeline writes through.
// *repositories.PhotoRepository satisfies it.
type PhotoStore interface {
	Create(ctx context.Context, p *models.Photo) error
	GetByID(ctx context.Context, id string) (*models.Photo, error)
	UpsertRendition(ctx context.Context, rd *models.Rendition) error
	SaveExif(ctx context.Context, e *models.ExifRecord) error
	UpdateAfterEdit(ctx context.Context, id string, u repositories.EditUpdate) (int, error)
	CreateEdit(ctx context.Context, e *models.PhotoEdit) error
}

// Auditor records audit entries. *audit.Writer satisfies it.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry)
}

// DefaultMaxFileSize bounds a single upload.
const DefaultMaxFileSize = 50 * 1024 * 1024

// Upload sources, used as the metrics label.
const (
	SourceSession = "session"
	SourceAdmin   = "admin"
)

// Options tunes a Pipeline. Zero values take defaults.
type Options struct {
	MaxFileSize      int64
	BatchConcurrency int
}

// Pipeline ingests and edits photos.
type Pipeline struct {
	store       PhotoStore
	blobs       storage.Storage
	auditor     Auditor
	maxFileSize int64
	concurrency int
	now         func() time.Time
}

// New builds a Pipeline.
func New(store PhotoStore, blobs storage.Storage, auditor Auditor, opts Options) *Pipeline {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.BatchConcurrency < 1 {
		opts.BatchConcurrency = 3
	}
	return &Pipeline{
		store:       store,
		blobs:       blobs,
		auditor:     auditor,
		maxFileSize: opts.MaxFileSize,
		concurrency: opts.BatchConcurrency,
		now:         time.Now,
	}
}

// FileInput is one uploaded file.
type FileInput struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Validate checks f against the default upload limits.
func Validate(f FileInput) error {
	return validation.ValidateImageFile(f.FileName, f.ContentType, int64(len(f.Data)), DefaultMaxFileSize)
}

// Validate checks f against the pipeline's configured limits.
func (p *Pipeline) Validate(f FileInput) error {
	return validation.ValidateImageFile(f.FileName, f.ContentType, int64(len(f.Data)), p.maxFileSize)
}

// Input is a file plus the context it was uploaded in.
type Input struct {
	File FileInput

	// SessionID is set for field uploads and empty for admin uploads.
	SessionID string
	// UploadedBy is "pin:<session id>" or the admin's identity.
	UploadedBy string
	Source     string
	IPAddress  string

	IncidentID   *string
	LocationName *string
	Notes        *string
	Latitude     *float64
	Longitude    *float64
}

// Result describes an ingested photo.
type Result struct {
	Photo      *models.Photo
	Renditions []models.Rendition
	Exif       *Exif
}

// Ingest validates, transcodes, stores and records one photo.
func (p *Pipeline) Ingest(ctx context.Context, in Input) (res *Result, err error) {
	source := in.Source
	if source == "" {
		source = SourceSession
	}
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		telemetry.PhotosIngestedTotal.WithLabelValues(source, outcome).Inc()
	}()

	if err := p.Validate(in.File); err != nil {
		return nil, err
	}

	src, meta, err := p.analyze(ctx, in.File)
	if err != nil {
		return nil, err
	}

	outputs, err := renderAll(ctx, src)
	if err != nil {
		return nil, err
	}

	photoID := uuid.New().String()
	now := p.now().UTC()
	digest := checksum.SHA256(in.File.Data)
	originalMeta := map[string]string{
		"uploadedBy": in.UploadedBy,
		"uploadTime": now.Format(time.RFC3339),
		"sha256":     digest,
	}
	if err := p.storeBlobs(ctx, photoID, in.File, originalMeta, outputs); err != nil {
		p.cleanup(photoID)
		return nil, err
	}

	bounds := src.Bounds()
	photo := &models.Photo{
		ID:           photoID,
		FileName:     in.File.FileName,
		FileSize:     int64(len(in.File.Data)),
		Width:        bounds.Dx(),
		Height:       bounds.Dy(),
		MimeType:     in.File.ContentType,
		IncidentID:   in.IncidentID,
		LocationName: in.LocationName,
		Notes:        in.Notes,
		Latitude:     in.Latitude,
		Longitude:    in.Longitude,
		UploadedBy:   in.UploadedBy,
		CreatedAt:    now,
	}
	if in.SessionID != "" {
		sid := in.SessionID
		photo.SessionID = &sid
	}
	if meta != nil {
		if photo.Latitude == nil && photo.Longitude == nil {
			photo.Latitude, photo.Longitude = meta.Latitude, meta.Longitude
		}
		photo.DateTaken = meta.DateTaken
		photo.CameraInfo = meta.CameraInfo()
	}

	if err := p.store.Create(ctx, photo); err != nil {
		p.cleanup(photoID)
		return nil, apierrors.Internal("save photo", err)
	}
	telemetry.PhotoBytesIngestedTotal.Add(float64(photo.FileSize))

	rows := p.saveRenditions(ctx, photoID, outputs)
	if meta != nil {
		if err := p.store.SaveExif(ctx, meta.Record(photoID)); err != nil {
			slog.Warn("failed to save exif", "photo_id", photoID, "error", err)
		}
	}

	details := map[string]any{
		"fileName":   photo.FileName,
		"fileSize":   photo.FileSize,
		"renditions": variantNames(outputs),
		"hasExif":    meta != nil,
		"incidentId": photo.IncidentID,
		"source":     source,
		"sha256":     digest,
	}
	if in.SessionID != "" {
		details["sessionId"] = in.SessionID
	}
	p.auditor.Record(ctx, audit.Entry{
		EntityType:  "photo",
		EntityID:    photoID,
		Action:      "photo.uploaded",
		PerformedBy: in.UploadedBy,
		IPAddress:   in.IPAddress,
		Details:     details,
	})

	return &Result{Photo: photo, Renditions: rows, Exif: meta}, nil
}

// analyze decodes the image and extracts its EXIF concurrently.
func (p *Pipeline) analyze(ctx context.Context, f FileInput) (image.Image, *Exif, error) {
	var (
		src  image.Image
		meta *Exif
	)
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		img, err := decode(f.Data)
		if err != nil {
			return apierrors.Validationf("Unsupported or corrupt image: %s", f.FileName)
		}
		src = img
		return nil
	})
	g.Go(func() error {
		meta = ExtractExif(f.Data)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return src, meta, nil
}

// renderAll produces every variant of src in parallel, in Variants order.
func renderAll(ctx context.Context, src image.Image) ([]*Output, error) {
	outputs := make([]*Output, len(Variants))
	g, gctx := errgroup.WithContext(ctx)
	for i, v := range Variants {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := Render(src, v)
			if err != nil {
				return apierrors.Internal("render "+v.Name, err)
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}

// storeBlobs uploads the original, the legacy thumbnail and every rendition.
func (p *Pipeline) storeBlobs(ctx context.Context, photoID string, f FileInput, originalMeta map[string]string, outputs []*Output) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.upload(gctx, storage.OriginalPath(photoID), f.Data, f.ContentType, originalMeta)
	})
	p.uploadRenditions(gctx, g, photoID, outputs, nil)
	return g.Wait()
}

// uploadRenditions schedules the rendition blobs and the legacy thumbnail on g.
func (p *Pipeline) uploadRenditions(ctx context.Context, g *errgroup.Group, photoID string, outputs []*Output, meta map[string]string) {
	for _, out := range outputs {
		g.Go(func() error {
			return p.upload(ctx, storage.RenditionPath(photoID, out.Variant), out.Data, webpContentType, meta)
		})
		if out.Variant == VariantThumbMedium {
			g.Go(func() error {
				return p.upload(ctx, storage.ThumbnailPath(photoID), out.Data, webpContentType, meta)
			})
		}
	}
}

func (p *Pipeline) upload(ctx context.Context, path string, data []byte, contentType string, meta map[string]string) error {
	if err := p.blobs.Upload(ctx, path, data, contentType, meta); err != nil {
		return apierrors.Storage("upload "+path, err)
	}
	return nil
}

// saveRenditions upserts a row per output. Failures are logged only.
func (p *Pipeline) saveRenditions(ctx context.Context, photoID string, outputs []*Output) []models.Rendition {
	rows := make([]models.Rendition, 0, len(outputs))
	for _, out := range outputs {
		rd := models.Rendition{
			PhotoID:     photoID,
			VariantType: out.Variant,
			BlobPath:    storage.RenditionPath(photoID, out.Variant),
			Width:       out.Width,
			Height:      out.Height,
			FileSize:    int64(len(out.Data)),
			MimeType:    webpContentType,
		}
		if err := p.store.UpsertRendition(ctx, &rd); err != nil {
			slog.Warn("failed to save rendition", "photo_id", photoID, "variant", out.Variant, "error", err)
			continue
		}
		rows = append(rows, rd)
	}
	return rows
}

// cleanup removes blobs left behind by an ingest that failed before the photo
// row was written.
func (p *Pipeline) cleanup(photoID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, prefix := range storage.PhotoPrefixes(photoID) {
		if _, err := p.blobs.DeleteByPrefix(ctx, prefix); err != nil {
			slog.Warn("failed to clean up blobs", "photo_id", photoID, "prefix", prefix, "error", err)
		}
	}
}

func variantNames(outputs []*Output) []string {
	names := make([]string, len(outputs))
	for i, out := range outputs {
		names[i] = out.Variant
	}
	return names
}

// FormatSize renders a byte count the way upload responses report it.
func FormatSize(n int64) string {
	return fmt.Sprintf("%.2f MB", float64(n)/1024/1024)
}
