package renditions

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/aspr-photos/intake/internal/apierrors"
	"github.com/aspr-photos/intake/internal/audit"
	"github.com/aspr-photos/intake/internal/db/models"
	"github.com/aspr-photos/intake/internal/db/repositories"
	"github.com/aspr-photos/intake/internal/storage"
	"github.com/aspr-photos/intake/pkg/checksum"
)

// EditInput replaces a photo's pixels with an edited image.
type EditInput struct {
	PhotoID    string
	Image      FileInput
	EditType   string
	EditParams json.RawMessage
	// ExpectedVersion, when set, rejects the edit if the photo changed since
	// the editor loaded it.
	ExpectedVersion *int
	EditedBy        string
	IPAddress       string
}

// RenditionSize reports a regenerated rendition.
type RenditionSize struct {
	Variant string `json:"variant"`
	Size    int    `json:"size"`
}

// EditResult is returned by Edit.
type EditResult struct {
	Width      int             `json:"width"`
	Height     int             `json:"height"`
	Version    int             `json:"version"`
	Renditions []RenditionSize `json:"renditions"`
}

// Edit stores the edited image, replaces the original, regenerates every
// rendition and records the edit in the photo's history.
func (p *Pipeline) Edit(ctx context.Context, in EditInput) (*EditResult, error) {
	if err := p.Validate(in.Image); err != nil {
		return nil, err
	}
	if in.EditType == "" {
		in.EditType = "edit"
	}
	if len(in.EditParams) == 0 {
		in.EditParams = json.RawMessage("{}")
	}
	if !json.Valid(in.EditParams) {
		return nil, apierrors.Validation("editParams must be valid JSON")
	}

	photo, err := p.store.GetByID(ctx, in.PhotoID)
	if err != nil {
		return nil, apierrors.Internal("load photo", err)
	}
	if photo == nil {
		return nil, apierrors.NotFound("Photo not found")
	}
	if in.ExpectedVersion != nil && *in.ExpectedVersion != photo.Version {
		return nil, versionConflict()
	}

	src, err := decode(in.Image.Data)
	if err != nil {
		return nil, apierrors.Validationf("Unsupported or corrupt image: %s", in.Image.FileName)
	}

	var (
		edited  []byte
		outputs []*Output
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data, err := encodeWebP(src, editedQuality)
		if err != nil {
			return apierrors.Internal("encode edited image", err)
		}
		edited = data
		return nil
	})
	g.Go(func() error {
		out, err := renderAll(gctx, src)
		outputs = out
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	editedPath := storage.EditedPath(in.PhotoID, p.now().UnixMilli())
	digest := checksum.SHA256(in.Image.Data)
	meta := map[string]string{"editedBy": in.EditedBy, "editType": in.EditType, "sha256": digest}

	// The version is claimed before any blob is touched so an editor who
	// loses the race never overwrites the winner's original or renditions.
	bounds := src.Bounds()
	version, err := p.store.UpdateAfterEdit(ctx, in.PhotoID, repositories.EditUpdate{
		Width:           bounds.Dx(),
		Height:          bounds.Dy(),
		FileSize:        int64(len(in.Image.Data)),
		MimeType:        in.Image.ContentType,
		UpdatedBy:       in.EditedBy,
		ExpectedVersion: in.ExpectedVersion,
	})
	switch {
	case errors.Is(err, repositories.ErrVersionConflict):
		return nil, versionConflict()
	case errors.Is(err, repositories.ErrPhotoNotFound):
		return nil, apierrors.NotFound("Photo not found")
	case err != nil:
		return nil, apierrors.Internal("update photo after edit", err)
	}

	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.upload(gctx, editedPath, edited, webpContentType, meta)
	})
	g.Go(func() error {
		return p.upload(gctx, storage.OriginalPath(in.PhotoID), in.Image.Data, in.Image.ContentType, meta)
	})
	p.uploadRenditions(gctx, g, in.PhotoID, outputs, nil)
	if err := g.Wait(); err != nil {
		slog.Error("edit blobs incomplete after version claim", "photo_id", in.PhotoID, "version", version, "error", err)
		return nil, err
	}

	p.saveRenditions(ctx, in.PhotoID, outputs)
	if err := p.store.CreateEdit(ctx, &models.PhotoEdit{
		PhotoID:        in.PhotoID,
		EditType:       in.EditType,
		EditParams:     in.EditParams,
		EditedBlobPath: &editedPath,
		EditedBy:       in.EditedBy,
	}); err != nil {
		slog.Warn("failed to record photo edit", "photo_id", in.PhotoID, "error", err)
	}

	sizes := make([]RenditionSize, len(outputs))
	for i, out := range outputs {
		sizes[i] = RenditionSize{Variant: out.Variant, Size: len(out.Data)}
	}

	p.auditor.Record(ctx, audit.Entry{
		EntityType:  "photo",
		EntityID:    in.PhotoID,
		Action:      "photo.edited",
		PerformedBy: in.EditedBy,
		IPAddress:   in.IPAddress,
		Details: map[string]any{
			"editType":          in.EditType,
			"editParams":        in.EditParams,
			"newWidth":          bounds.Dx(),
			"newHeight":         bounds.Dy(),
			"renditionsUpdated": variantNames(outputs),
			"version":           version,
			"sha256":            digest,
		},
	})

	return &EditResult{
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		Version:    version,
		Renditions: sizes,
	}, nil
}

// ParseVersion reads an expected version from a form field or an If-Match
// header value. Empty means no expectation.
func ParseVersion(raw string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		raw = raw[1 : len(raw)-1]
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return nil, apierrors.Validation("version must be a positive integer")
	}
	return &v, nil
}

func versionConflict() error {
	return apierrors.Conflict("Photo was modified by another editor; reload and try again")
}
