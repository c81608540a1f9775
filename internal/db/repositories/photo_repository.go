// photo_repository.go implements PhotoRepository: photo rows and the records that
// hang off them (renditions, EXIF, edit history), plus the bulk operations and
// dashboard statistics used by the admin API.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/aspr-photos/intake/internal/db/models"
)

// ErrVersionConflict is returned by UpdateAfterEdit when the caller's expected
// version no longer matches the stored one.
var ErrVersionConflict = errors.New("photo was modified by another request")

// ErrPhotoNotFound is returned by updates that target a missing photo.
var ErrPhotoNotFound = errors.New("photo not found")

// PhotoRepository handles photo database operations
type PhotoRepository struct {
	db *sqlx.DB
}

// NewPhotoRepository creates a new PhotoRepository
func NewPhotoRepository(db *sqlx.DB) *PhotoRepository {
	return &PhotoRepository{db: db}
}

const photoColumns = `id, session_id, file_name, file_size, width, height, mime_type, status, storage_tier,
	incident_id, latitude, longitude, location_name, notes, date_taken, camera_info, uploaded_by,
	created_at, updated_at, updated_by, version`

// Create inserts the photo row. Status, tier and version default when unset.
func (r *PhotoRepository) Create(ctx context.Context, p *models.Photo) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = models.PhotoStatusActive
	}
	if p.StorageTier == "" {
		p.StorageTier = "hot"
	}
	if p.Version == 0 {
		p.Version = 1
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO photos (
			id, session_id, file_name, file_size, width, height, mime_type, status, storage_tier,
			incident_id, latitude, longitude, location_name, notes, date_taken, camera_info,
			uploaded_by, created_at, version
		) VALUES (
			:id, :session_id, :file_name, :file_size, :width, :height, :mime_type, :status, :storage_tier,
			:incident_id, :latitude, :longitude, :location_name, :notes, :date_taken, :camera_info,
			:uploaded_by, :created_at, :version
		)`
	_, err := r.db.NamedExecContext(ctx, query, p)
	return err
}

// GetByID returns the photo, or nil when it does not exist.
func (r *PhotoRepository) GetByID(ctx context.Context, id string) (*models.Photo, error) {
	var p models.Photo
	err := r.db.GetContext(ctx, &p, `SELECT `+photoColumns+` FROM photos WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListBySession returns a session's photos, newest first.
func (r *PhotoRepository) ListBySession(ctx context.Context, sessionID string) ([]models.Photo, error) {
	photos := []models.Photo{}
	query := `SELECT ` + photoColumns + ` FROM photos WHERE session_id = $1 ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &photos, query, sessionID); err != nil {
		return nil, err
	}
	return photos, nil
}

// GetMany returns the listed photos that exist, in request order.
func (r *PhotoRepository) GetMany(ctx context.Context, ids []string) ([]models.Photo, error) {
	photos := []models.Photo{}
	query := `SELECT ` + photoColumns + ` FROM photos WHERE id = ANY($1::uuid[]) ORDER BY array_position($1::uuid[], id)`
	if err := r.db.SelectContext(ctx, &photos, query, pq.Array(ids)); err != nil {
		return nil, err
	}
	return photos, nil
}

// Delete removes one photo; dependent rows cascade. Reports whether it existed.
func (r *PhotoRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM photos WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteMany removes the listed photos and returns how many rows went.
func (r *PhotoRepository) DeleteMany(ctx context.Context, ids []string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM photos WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UpdateStatus sets the review status on the listed photos.
func (r *PhotoRepository) UpdateStatus(ctx context.Context, ids []string, status, updatedBy string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE photos
		SET status = $2, updated_at = NOW(), updated_by = $3, version = version + 1
		WHERE id = ANY($1)`, pq.Array(ids), status, updatedBy)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ExistingIDs filters ids down to those that have a photo row.
func (r *PhotoRepository) ExistingIDs(ctx context.Context, ids []string) ([]string, error) {
	found := []string{}
	if err := r.db.SelectContext(ctx, &found, `SELECT id FROM photos WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return nil, err
	}
	return found, nil
}

// EditUpdate carries the photo fields rewritten by an edit.
type EditUpdate struct {
	Width     int
	Height    int
	FileSize  int64
	MimeType  string
	UpdatedBy string
	// ExpectedVersion, when set, makes the update conditional on the stored version.
	ExpectedVersion *int
}

// UpdateAfterEdit applies an edit's new dimensions and returns the new version.
// It fails with ErrVersionConflict when ExpectedVersion is stale and
// ErrPhotoNotFound when the photo is gone.
func (r *PhotoRepository) UpdateAfterEdit(ctx context.Context, id string, u EditUpdate) (int, error) {
	var expected sql.NullInt64
	if u.ExpectedVersion != nil {
		expected = sql.NullInt64{Int64: int64(*u.ExpectedVersion), Valid: true}
	}

	var version int
	err := r.db.QueryRowxContext(ctx, `
		UPDATE photos
		SET width = $2, height = $3, file_size = $4, mime_type = $5,
		    updated_at = NOW(), updated_by = $6, version = version + 1
		WHERE id = $1 AND ($7::int IS NULL OR version = $7)
		RETURNING version`,
		id, u.Width, u.Height, u.FileSize, u.MimeType, u.UpdatedBy, expected,
	).Scan(&version)
	if err == nil {
		return version, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM photos WHERE id = $1)`, id); err != nil {
		return 0, err
	}
	if !exists {
		return 0, ErrPhotoNotFound
	}
	return 0, ErrVersionConflict
}

// Renditions

// UpsertRendition writes the (photo_id, variant_type) row, replacing any
// previous rendition of the same variant in place.
func (r *PhotoRepository) UpsertRendition(ctx context.Context, rd *models.Rendition) error {
	if rd.ID == "" {
		rd.ID = uuid.New().String()
	}
	query := `
		INSERT INTO photo_renditions (id, photo_id, variant_type, blob_path, width, height, file_size, mime_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (photo_id, variant_type) DO UPDATE SET
			blob_path = EXCLUDED.blob_path,
			width = EXCLUDED.width,
			height = EXCLUDED.height,
			file_size = EXCLUDED.file_size,
			mime_type = EXCLUDED.mime_type,
			created_at = NOW()`
	_, err := r.db.ExecContext(ctx, query,
		rd.ID, rd.PhotoID, rd.VariantType, rd.BlobPath, rd.Width, rd.Height, rd.FileSize, rd.MimeType)
	return err
}

// ListRenditions returns a photo's renditions ordered by variant.
func (r *PhotoRepository) ListRenditions(ctx context.Context, photoID string) ([]models.Rendition, error) {
	renditions := []models.Rendition{}
	query := `
		SELECT id, photo_id, variant_type, blob_path, width, height, file_size, mime_type, created_at
		FROM photo_renditions WHERE photo_id = $1 ORDER BY variant_type`
	if err := r.db.SelectContext(ctx, &renditions, query, photoID); err != nil {
		return nil, err
	}
	return renditions, nil
}

// EXIF

// SaveExif stores the EXIF record for a photo, replacing an existing one.
func (r *PhotoRepository) SaveExif(ctx context.Context, e *models.ExifRecord) error {
	if len(e.RawJSON) == 0 {
		e.RawJSON = []byte("{}")
	}
	query := `
		INSERT INTO photo_exif (
			photo_id, camera_make, camera_model, lens_model, focal_length, aperture, shutter_speed,
			iso_speed, flash_used, orientation, gps_altitude, date_taken_exif, software, raw_json
		) VALUES (
			:photo_id, :camera_make, :camera_model, :lens_model, :focal_length, :aperture, :shutter_speed,
			:iso_speed, :flash_used, :orientation, :gps_altitude, :date_taken_exif, :software, :raw_json
		)
		ON CONFLICT (photo_id) DO UPDATE SET
			camera_make = EXCLUDED.camera_make,
			camera_model = EXCLUDED.camera_model,
			lens_model = EXCLUDED.lens_model,
			focal_length = EXCLUDED.focal_length,
			aperture = EXCLUDED.aperture,
			shutter_speed = EXCLUDED.shutter_speed,
			iso_speed = EXCLUDED.iso_speed,
			flash_used = EXCLUDED.flash_used,
			orientation = EXCLUDED.orientation,
			gps_altitude = EXCLUDED.gps_altitude,
			date_taken_exif = EXCLUDED.date_taken_exif,
			software = EXCLUDED.software,
			raw_json = EXCLUDED.raw_json`
	_, err := r.db.NamedExecContext(ctx, query, e)
	return err
}

// GetExif returns the EXIF record, or nil when none was extracted.
func (r *PhotoRepository) GetExif(ctx context.Context, photoID string) (*models.ExifRecord, error) {
	var e models.ExifRecord
	err := r.db.GetContext(ctx, &e, `
		SELECT photo_id, camera_make, camera_model, lens_model, focal_length, aperture, shutter_speed,
		       iso_speed, flash_used, orientation, gps_altitude, date_taken_exif, software,
		       COALESCE(raw_json, '{}'::jsonb) AS raw_json
		FROM photo_exif WHERE photo_id = $1`, photoID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Edit history

// CreateEdit appends an edit history record.
func (r *PhotoRepository) CreateEdit(ctx context.Context, e *models.PhotoEdit) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	params := e.EditParams
	if len(params) == 0 {
		params = []byte("{}")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO photo_edits (id, photo_id, edit_type, edit_params, edited_blob_path, edited_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.PhotoID, e.EditType, []byte(params), e.EditedBlobPath, e.EditedBy, e.CreatedAt)
	return err
}

// ListEdits returns a photo's edit history, newest first.
func (r *PhotoRepository) ListEdits(ctx context.Context, photoID string) ([]models.PhotoEdit, error) {
	edits := []models.PhotoEdit{}
	query := `
		SELECT id, photo_id, edit_type, COALESCE(edit_params, '{}'::jsonb) AS edit_params,
		       edited_blob_path, edited_by, created_at
		FROM photo_edits WHERE photo_id = $1 ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &edits, query, photoID); err != nil {
		return nil, err
	}
	return edits, nil
}

// Stats

// Stats gathers the dashboard summary.
func (r *PhotoRepository) Stats(ctx context.Context) (*models.PhotoStats, error) {
	stats := &models.PhotoStats{ByStatus: map[string]int64{}}

	var totals struct {
		Count int64 `db:"count"`
		Size  int64 `db:"size"`
		Today int64 `db:"today"`
	}
	if err := r.db.GetContext(ctx, &totals, `
		SELECT COUNT(*) AS count,
		       COALESCE(SUM(file_size), 0) AS size,
		       COUNT(*) FILTER (WHERE created_at >= date_trunc('day', NOW())) AS today
		FROM photos`); err != nil {
		return nil, err
	}
	stats.TotalPhotos = totals.Count
	stats.TotalSize = totals.Size
	stats.UploadsToday = totals.Today

	var byStatus []struct {
		Status string `db:"status"`
		Count  int64  `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &byStatus,
		`SELECT status, COUNT(*) AS count FROM photos GROUP BY status`); err != nil {
		return nil, err
	}
	for _, s := range byStatus {
		stats.ByStatus[s.Status] = s.Count
	}

	if err := r.db.GetContext(ctx, &stats.ActiveSessions,
		`SELECT COUNT(*) FROM upload_sessions WHERE is_active = true AND expires_at > NOW()`); err != nil {
		return nil, err
	}

	stats.Incidents = []models.IncidentStats{}
	if err := r.db.SelectContext(ctx, &stats.Incidents, `
		SELECT COALESCE(incident_id, 'unassigned') AS incident_id,
		       COUNT(*) AS photo_count,
		       COALESCE(SUM(file_size), 0) AS total_size
		FROM photos
		GROUP BY COALESCE(incident_id, 'unassigned')
		ORDER BY photo_count DESC`); err != nil {
		return nil, err
	}

	stats.TopTeams = []models.TeamStats{}
	if err := r.db.SelectContext(ctx, &stats.TopTeams, `
		SELECT s.team_name, COUNT(p.id) AS photo_count
		FROM photos p
		JOIN upload_sessions s ON s.id = p.session_id
		GROUP BY s.team_name
		ORDER BY photo_count DESC
		LIMIT 10`); err != nil {
		return nil, err
	}

	return stats, nil
}
