// tag_repository.go implements TagRepository, covering the tag catalogue and
// tag assignment to photos.
package repositories

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/aspr-photos/intake/internal/db/models"
)

// ErrDuplicateTag is returned when (name, category) already exists.
var ErrDuplicateTag = errors.New("tag already exists in this category")

// TagRepository handles tag database operations
type TagRepository struct {
	db *sqlx.DB
}

// NewTagRepository creates a new TagRepository
func NewTagRepository(db *sqlx.DB) *TagRepository {
	return &TagRepository{db: db}
}

// TagFilters narrows List. Empty fields do not filter.
type TagFilters struct {
	Query    string
	Category string
}

// List returns tags with their usage counts, ordered by category then name.
func (r *TagRepository) List(ctx context.Context, f TagFilters) ([]models.TagWithUsage, error) {
	var (
		conds []string
		args  []interface{}
	)
	if q := strings.TrimSpace(f.Query); q != "" {
		args = append(args, "%"+q+"%")
		conds = append(conds, "t.name ILIKE ?")
	}
	if f.Category != "" {
		args = append(args, f.Category)
		conds = append(conds, "t.category = ?")
	}

	query := `
		SELECT t.id, t.name, t.category, t.color, t.created_at, COUNT(pt.photo_id) AS usage_count
		FROM tags t
		LEFT JOIN photo_tags pt ON pt.tag_id = t.id`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += `
		GROUP BY t.id
		ORDER BY t.category, t.name`

	tags := []models.TagWithUsage{}
	if err := r.db.SelectContext(ctx, &tags, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return tags, nil
}

// GetByID returns the tag, or nil when it does not exist.
func (r *TagRepository) GetByID(ctx context.Context, id string) (*models.Tag, error) {
	var tags []models.Tag
	if err := r.db.SelectContext(ctx, &tags,
		`SELECT id, name, category, color, created_at FROM tags WHERE id = $1`, id); err != nil {
		return nil, err
	}
	if len(tags) == 0 {
		return nil, nil
	}
	return &tags[0], nil
}

// Create inserts a tag and fails with ErrDuplicateTag on a (name, category) clash.
func (r *TagRepository) Create(ctx context.Context, t *models.Tag) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Category == "" {
		t.Category = models.DefaultTagCategory
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tags (id, name, category, color, created_at) VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.Name, t.Category, t.Color, t.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicateTag
	}
	return err
}

// AddToPhotos attaches a tag to every listed photo that exists, skipping photos
// that already carry it. Returns the number of new assignments.
func (r *TagRepository) AddToPhotos(ctx context.Context, tagID string, photoIDs []string, addedBy string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO photo_tags (photo_id, tag_id, added_by)
		SELECT p.id, $2, $3 FROM photos p WHERE p.id = ANY($1)
		ON CONFLICT (photo_id, tag_id) DO NOTHING`,
		pq.Array(photoIDs), tagID, addedBy)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RemoveFromPhotos detaches a tag from the listed photos.
func (r *TagRepository) RemoveFromPhotos(ctx context.Context, tagID string, photoIDs []string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM photo_tags WHERE tag_id = $1 AND photo_id = ANY($2)`, tagID, pq.Array(photoIDs))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListForPhoto returns the tags attached to one photo.
func (r *TagRepository) ListForPhoto(ctx context.Context, photoID string) ([]models.PhotoTag, error) {
	tags := []models.PhotoTag{}
	err := r.db.SelectContext(ctx, &tags, `
		SELECT t.id, t.name, t.category, t.color, t.created_at, pt.added_by, pt.added_at
		FROM photo_tags pt
		JOIN tags t ON t.id = pt.tag_id
		WHERE pt.photo_id = $1
		ORDER BY t.category, t.name`, photoID)
	if err != nil {
		return nil, err
	}
	return tags, nil
}
