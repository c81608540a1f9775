package storage

import (
	"context"
	"fmt"
)

// Image types served besides the generated renditions.
const (
	VariantOriginal  = "original"
	VariantThumbnail = "thumbnail"
)

// OriginalPath is where the uploaded (or most recently edited) bytes live.
func OriginalPath(photoID string) string {
	return photoID + "/original"
}

// ThumbnailPath is the legacy thumbnail, a copy of the thumb_md rendition kept
// for older gallery clients.
func ThumbnailPath(photoID string) string {
	return photoID + "/thumbnail"
}

// RenditionPath is the WebP rendition for variant.
func RenditionPath(photoID, variant string) string {
	return fmt.Sprintf("renditions/%s/%s.webp", photoID, variant)
}

// BlobPath maps an image type from a signed URL to the blob that holds it.
func BlobPath(photoID, variant string) string {
	switch variant {
	case VariantOriginal:
		return OriginalPath(photoID)
	case VariantThumbnail:
		return ThumbnailPath(photoID)
	default:
		return RenditionPath(photoID, variant)
	}
}

// EditedPath is the archived copy of one admin edit.
func EditedPath(photoID string, unixMillis int64) string {
	return fmt.Sprintf("renditions/%s/edited_%d.webp", photoID, unixMillis)
}

// PhotoPrefixes lists every prefix that holds blobs for photoID.
func PhotoPrefixes(photoID string) []string {
	return []string{photoID + "/", "renditions/" + photoID + "/"}
}

// DeletePhotoBlobs removes every blob stored for photoID and returns how many
// went. It keeps going after a failed prefix and returns the first error.
func DeletePhotoBlobs(ctx context.Context, s Storage, photoID string) (int, error) {
	var (
		total    int
		firstErr error
	)
	for _, prefix := range PhotoPrefixes(photoID) {
		n, err := s.DeleteByPrefix(ctx, prefix)
		total += n
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("delete blobs under %s: %w", prefix, err)
		}
	}
	return total, firstErr
}
