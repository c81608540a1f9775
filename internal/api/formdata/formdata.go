// Package formdata reads the multipart photo forms shared by the field and admin
// upload routes.
package formdata

import (
	"io"
	"mime/multipart"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/aspr-photos/intake/internal/apierrors"
	"github.com/aspr-photos/intake/internal/renditions"
	"github.com/aspr-photos/intake/internal/validation"
)

// MaxLocationNameLength bounds the free-text location field.
const MaxLocationNameLength = 255

// Metadata is the optional descriptive fields sent alongside a photo.
type Metadata struct {
	IncidentID   *string
	LocationName *string
	Notes        *string
	Latitude     *float64
	Longitude    *float64
}

// Apply copies m onto in.
func (m Metadata) Apply(in *renditions.Input) {
	in.IncidentID = m.IncidentID
	in.LocationName = m.LocationName
	in.Notes = m.Notes
	in.Latitude = m.Latitude
	in.Longitude = m.Longitude
}

// ReadMetadata parses and validates the optional metadata fields. Nothing is
// written anywhere before this returns nil.
func ReadMetadata(c *gin.Context) (Metadata, error) {
	var m Metadata

	m.Notes = optionalString(c, "notes")
	if m.Notes != nil {
		if err := validation.ValidateNotes(*m.Notes); err != nil {
			return m, err
		}
	}

	m.IncidentID = optionalString(c, "incidentId")
	if m.IncidentID != nil {
		if err := validation.ValidateIncidentID(*m.IncidentID); err != nil {
			return m, err
		}
	}

	m.LocationName = optionalString(c, "locationName")
	if m.LocationName != nil && utf8.RuneCountInString(*m.LocationName) > MaxLocationNameLength {
		return m, apierrors.Validationf("Location name must be under %d characters", MaxLocationNameLength)
	}

	var err error
	if m.Latitude, err = optionalFloat(c, "latitude", "Latitude"); err != nil {
		return m, err
	}
	if m.Longitude, err = optionalFloat(c, "longitude", "Longitude"); err != nil {
		return m, err
	}
	if err := validation.ValidateCoordinates(m.Latitude, m.Longitude); err != nil {
		return m, err
	}
	return m, nil
}

func optionalString(c *gin.Context, key string) *string {
	v := strings.TrimSpace(c.PostForm(key))
	if v == "" {
		return nil
	}
	return &v
}

func optionalFloat(c *gin.Context, key, label string) (*float64, error) {
	raw := strings.TrimSpace(c.PostForm(key))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, apierrors.Validationf("%s must be a number", label)
	}
	return &v, nil
}

// ReadFile loads an uploaded part into memory. At most maxSize+1 bytes are
// read so that the pipeline's size check still sees an oversized file.
func ReadFile(fh *multipart.FileHeader, maxSize int64) (renditions.FileInput, error) {
	in := renditions.FileInput{
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
	}
	f, err := fh.Open()
	if err != nil {
		return in, apierrors.Internal("open uploaded file", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxSize+1))
	if err != nil {
		return in, apierrors.Internal("read uploaded file", err)
	}
	in.Data = data
	return in, nil
}
