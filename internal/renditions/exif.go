package renditions

import (
	"bytes"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"

	"github.com/aspr-photos/intake/internal/db/models"
	"github.com/aspr-photos/intake/internal/validation"
)

// Exif is the camera metadata kept from an upload.
type Exif struct {
	Make         *string    `json:"make,omitempty"`
	Model        *string    `json:"model,omitempty"`
	LensModel    *string    `json:"lensModel,omitempty"`
	FocalLength  *float64   `json:"focalLength,omitempty"`
	Aperture     *float64   `json:"aperture,omitempty"`
	ShutterSpeed *string    `json:"shutterSpeed,omitempty"`
	ISO          *int       `json:"iso,omitempty"`
	FlashUsed    *bool      `json:"flashUsed,omitempty"`
	Orientation  *int       `json:"orientation,omitempty"`
	GPSAltitude  *float64   `json:"gpsAltitude,omitempty"`
	DateTaken    *time.Time `json:"dateTaken,omitempty"`
	Software     *string    `json:"software,omitempty"`
	Latitude     *float64   `json:"latitude,omitempty"`
	Longitude    *float64   `json:"longitude,omitempty"`
}

const exifTimeLayout = "2006:01:02 15:04:05"

// ExtractExif reads EXIF from a JPEG or TIFF payload. It returns nil when the
// data carries no readable EXIF block; extraction never fails an upload.
func ExtractExif(data []byte) *Exif {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}

	e := &Exif{
		Make:         stringTag(x, exif.Make),
		Model:        stringTag(x, exif.Model),
		LensModel:    stringTag(x, exif.LensModel),
		FocalLength:  ratTag(x, exif.FocalLength),
		Aperture:     ratTag(x, exif.FNumber),
		ShutterSpeed: shutterSpeed(ratTag(x, exif.ExposureTime)),
		ISO:          intTag(x, exif.ISOSpeedRatings),
		Orientation:  intTag(x, exif.Orientation),
		GPSAltitude:  ratTag(x, exif.GPSAltitude),
		Software:     stringTag(x, exif.Software),
		DateTaken:    dateTag(x, exif.DateTimeOriginal),
	}
	if e.DateTaken == nil {
		e.DateTaken = dateTag(x, exif.DateTimeDigitized)
	}
	if flash := intTag(x, exif.Flash); flash != nil {
		used := *flash > 0
		e.FlashUsed = &used
	}
	if lat, lng, err := x.LatLong(); err == nil {
		e.Latitude, e.Longitude = gpsFix(lat, lng)
	}
	return e
}

// gpsFix keeps an EXIF position only when it is a finite, in-range
// coordinate. goexif divides GPS rationals without checking the denominator,
// so corrupt tags decode to NaN, ±Inf or values like 200°.
func gpsFix(lat, lng float64) (*float64, *float64) {
	if err := validation.ValidateCoordinates(&lat, &lng); err != nil {
		slog.Debug("ignoring invalid EXIF GPS position", "lat", lat, "lng", lng)
		return nil, nil
	}
	return &lat, &lng
}

func stringTag(x *exif.Exif, name exif.FieldName) *string {
	tag, err := x.Get(name)
	if err != nil || tag.Format() != tiff.StringVal {
		return nil
	}
	s, err := tag.StringVal()
	if err != nil {
		return nil
	}
	s = strings.TrimSpace(strings.TrimRight(s, "\x00"))
	if s == "" {
		return nil
	}
	return &s
}

func intTag(x *exif.Exif, name exif.FieldName) *int {
	tag, err := x.Get(name)
	if err != nil || tag.Format() != tiff.IntVal {
		return nil
	}
	v, err := tag.Int(0)
	if err != nil {
		return nil
	}
	return &v
}

func ratTag(x *exif.Exif, name exif.FieldName) *float64 {
	tag, err := x.Get(name)
	if err != nil || tag.Format() != tiff.RatVal {
		return nil
	}
	num, den, err := tag.Rat2(0)
	if err != nil || den == 0 {
		return nil
	}
	v := float64(num) / float64(den)
	return &v
}

func dateTag(x *exif.Exif, name exif.FieldName) *time.Time {
	s := stringTag(x, name)
	if s == nil {
		return nil
	}
	t, err := time.ParseInLocation(exifTimeLayout, *s, time.UTC)
	if err != nil {
		return nil
	}
	return &t
}

// shutterSpeed renders sub-second exposures as a reciprocal ("1/250").
func shutterSpeed(exposure *float64) *string {
	if exposure == nil || *exposure <= 0 {
		return nil
	}
	var s string
	if *exposure < 1 {
		s = "1/" + strconv.Itoa(int(math.Round(1 / *exposure)))
	} else {
		s = formatNumber(*exposure)
	}
	return &s
}

// CameraInfo summarises the body and exposure, e.g.
// "Canon EOS R5 • 35mm • f/1.8 • ISO 100". It is nil when nothing is known.
func (e *Exif) CameraInfo() *string {
	if e == nil {
		return nil
	}

	var parts []string
	switch {
	case e.Make != nil && e.Model != nil:
		if strings.HasPrefix(*e.Model, *e.Make) {
			parts = append(parts, *e.Model)
		} else {
			parts = append(parts, *e.Make+" "+*e.Model)
		}
	case e.Model != nil:
		parts = append(parts, *e.Model)
	}
	if e.FocalLength != nil {
		parts = append(parts, formatNumber(*e.FocalLength)+"mm")
	}
	if e.Aperture != nil {
		parts = append(parts, "f/"+formatNumber(*e.Aperture))
	}
	if e.ISO != nil {
		parts = append(parts, "ISO "+strconv.Itoa(*e.ISO))
	}

	if len(parts) == 0 {
		return nil
	}
	s := strings.Join(parts, " • ")
	return &s
}

// Record converts e into the photo_exif row for photoID.
func (e *Exif) Record(photoID string) *models.ExifRecord {
	raw, err := json.Marshal(e)
	if err != nil {
		slog.Warn("failed to encode exif", "photo_id", photoID, "error", err)
		raw = []byte("{}")
	}
	return &models.ExifRecord{
		PhotoID:       photoID,
		CameraMake:    e.Make,
		CameraModel:   e.Model,
		LensModel:     e.LensModel,
		FocalLength:   e.FocalLength,
		Aperture:      e.Aperture,
		ShutterSpeed:  e.ShutterSpeed,
		ISOSpeed:      e.ISO,
		FlashUsed:     e.FlashUsed,
		Orientation:   e.Orientation,
		GPSAltitude:   e.GPSAltitude,
		DateTakenExif: e.DateTaken,
		Software:      e.Software,
		RawJSON:       raw,
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
