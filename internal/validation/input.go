// input.go validates field-team and admin input before any mutating side effect runs:
// PINs, team names, coordinates, free text, incident identifiers and uploaded files.
package validation

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/aspr-photos/intake/internal/apierrors"
)

const (
	MaxTeamNameLength   = 255
	MaxNotesLength      = 1000
	MaxIncidentIDLength = 50
	MaxFileNameLength   = 255
	MaxTagNameLength    = 100
	DefaultTeamName     = "Anonymous"
)

// AllowedImageTypes lists the accepted upload content types.
var AllowedImageTypes = []string{"image/jpeg", "image/png", "image/webp"}

var (
	pinPattern        = regexp.MustCompile(`^\d{6}$`)
	teamNamePattern   = regexp.MustCompile(`^[a-zA-Z0-9\s\-_]+$`)
	incidentIDPattern = regexp.MustCompile(`^[a-zA-Z0-9\-_]+$`)
)

// ValidatePIN checks that pin is exactly six ASCII digits.
func ValidatePIN(pin string) error {
	if pin == "" {
		return apierrors.Validation("PIN is required")
	}
	if !pinPattern.MatchString(pin) {
		return apierrors.Validation("PIN must be exactly 6 digits")
	}
	return nil
}

// NormalizeTeamName trims name, substitutes the default for an empty value and
// validates the result against the team name allow-list.
func NormalizeTeamName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultTeamName, nil
	}
	if utf8.RuneCountInString(name) > MaxTeamNameLength {
		return "", apierrors.Validation("Team name too long")
	}
	if !teamNamePattern.MatchString(name) {
		return "", apierrors.Validation("Team name contains invalid characters")
	}
	return name, nil
}

// ValidateCoordinates checks optional latitude/longitude bounds. A nil pointer
// means the value was not supplied.
func ValidateCoordinates(lat, lng *float64) error {
	if lat != nil && !inRange(*lat, 90) {
		return apierrors.Validation("Latitude must be between -90 and 90")
	}
	if lng != nil && !inRange(*lng, 180) {
		return apierrors.Validation("Longitude must be between -180 and 180")
	}
	return nil
}

// inRange is false for NaN, which fails every comparison.
func inRange(v, limit float64) bool {
	return v >= -limit && v <= limit
}

// ValidateNotes bounds optional free-text notes.
func ValidateNotes(notes string) error {
	if utf8.RuneCountInString(notes) > MaxNotesLength {
		return apierrors.Validationf("Notes must be under %d characters", MaxNotesLength)
	}
	return nil
}

// ValidateIncidentID checks an optional incident identifier such as HU-2024-001.
func ValidateIncidentID(id string) error {
	if id == "" {
		return nil
	}
	if len(id) > MaxIncidentIDLength {
		return apierrors.Validationf("Incident ID must be under %d characters", MaxIncidentIDLength)
	}
	if !incidentIDPattern.MatchString(id) {
		return apierrors.Validation("Incident ID contains invalid characters")
	}
	return nil
}

// ValidateFileName rejects empty or oversized names and names carrying control characters.
func ValidateFileName(name string) error {
	if strings.TrimSpace(name) == "" {
		return apierrors.Validation("Filename is required")
	}
	if utf8.RuneCountInString(name) > MaxFileNameLength {
		return apierrors.Validation("Filename too long")
	}
	if strings.IndexFunc(name, unicode.IsControl) >= 0 {
		return apierrors.Validation("Filename contains invalid characters")
	}
	return nil
}

// ValidateImageFile checks the declared content type, size bounds and file name of an upload.
func ValidateImageFile(name, contentType string, size, maxSize int64) error {
	if err := ValidateFileName(name); err != nil {
		return err
	}
	if size <= 0 {
		return apierrors.Validationf("Empty file: %s", name)
	}
	if size > maxSize {
		return apierrors.Validationf("File too large: %s (max %dMB)", name, maxSize/(1024*1024))
	}
	if !IsAllowedImageType(contentType) {
		return apierrors.Validationf("Invalid file type: %s (JPEG, PNG, WebP only)", name)
	}
	return nil
}

// IsAllowedImageType reports whether contentType is an accepted upload type.
func IsAllowedImageType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	for _, allowed := range AllowedImageTypes {
		if ct == allowed {
			return true
		}
	}
	return false
}

// ValidateTagName bounds admin-defined tag names.
func ValidateTagName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxTagNameLength {
		return apierrors.Validationf("Tag name is required (max %d chars)", MaxTagNameLength)
	}
	return nil
}
