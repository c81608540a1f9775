// Package models - photo.go defines the photo record and the records that hang
// off it: renditions, EXIF metadata and edit history. All of them are removed
// with the photo by ON DELETE CASCADE.
package models

import (
	"encoding/json"
	"time"
)

// Photo review states.
const (
	PhotoStatusActive   = "active"
	PhotoStatusReviewed = "reviewed"
	PhotoStatusFlagged  = "flagged"
	PhotoStatusArchived = "archived"
)

// ValidPhotoStatus reports whether s is one of the photo review states.
func ValidPhotoStatus(s string) bool {
	switch s {
	case PhotoStatusActive, PhotoStatusReviewed, PhotoStatusFlagged, PhotoStatusArchived:
		return true
	}
	return false
}

// Photo is the durable record for one uploaded image.
type Photo struct {
	ID           string     `db:"id" json:"id"`
	SessionID    *string    `db:"session_id" json:"sessionId,omitempty"`
	FileName     string     `db:"file_name" json:"fileName"`
	FileSize     int64      `db:"file_size" json:"fileSize"`
	Width        int        `db:"width" json:"width"`
	Height       int        `db:"height" json:"height"`
	MimeType     string     `db:"mime_type" json:"mimeType"`
	Status       string     `db:"status" json:"status"`
	StorageTier  string     `db:"storage_tier" json:"storageTier"`
	IncidentID   *string    `db:"incident_id" json:"incidentId,omitempty"`
	Latitude     *float64   `db:"latitude" json:"latitude,omitempty"`
	Longitude    *float64   `db:"longitude" json:"longitude,omitempty"`
	LocationName *string    `db:"location_name" json:"locationName,omitempty"`
	Notes        *string    `db:"notes" json:"notes,omitempty"`
	DateTaken    *time.Time `db:"date_taken" json:"dateTaken,omitempty"`
	CameraInfo   *string    `db:"camera_info" json:"cameraInfo,omitempty"`
	UploadedBy   string     `db:"uploaded_by" json:"uploadedBy"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt    *time.Time `db:"updated_at" json:"updatedAt,omitempty"`
	UpdatedBy    *string    `db:"updated_by" json:"updatedBy,omitempty"`
	Version      int        `db:"version" json:"version"`
}

// Rendition is one derived image of a photo; unique per (PhotoID, VariantType).
type Rendition struct {
	ID          string    `db:"id" json:"id"`
	PhotoID     string    `db:"photo_id" json:"photoId"`
	VariantType string    `db:"variant_type" json:"variantType"`
	BlobPath    string    `db:"blob_path" json:"blobPath"`
	Width       int       `db:"width" json:"width"`
	Height      int       `db:"height" json:"height"`
	FileSize    int64     `db:"file_size" json:"fileSize"`
	MimeType    string    `db:"mime_type" json:"mimeType"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// ExifRecord holds the camera metadata read from the original upload.
type ExifRecord struct {
	PhotoID       string          `db:"photo_id" json:"photoId"`
	CameraMake    *string         `db:"camera_make" json:"cameraMake,omitempty"`
	CameraModel   *string         `db:"camera_model" json:"cameraModel,omitempty"`
	LensModel     *string         `db:"lens_model" json:"lensModel,omitempty"`
	FocalLength   *float64        `db:"focal_length" json:"focalLength,omitempty"`
	Aperture      *float64        `db:"aperture" json:"aperture,omitempty"`
	ShutterSpeed  *string         `db:"shutter_speed" json:"shutterSpeed,omitempty"`
	ISOSpeed      *int            `db:"iso_speed" json:"isoSpeed,omitempty"`
	FlashUsed     *bool           `db:"flash_used" json:"flashUsed,omitempty"`
	Orientation   *int            `db:"orientation" json:"orientation,omitempty"`
	GPSAltitude   *float64        `db:"gps_altitude" json:"gpsAltitude,omitempty"`
	DateTakenExif *time.Time      `db:"date_taken_exif" json:"dateTakenExif,omitempty"`
	Software      *string         `db:"software" json:"software,omitempty"`
	RawJSON       json.RawMessage `db:"raw_json" json:"raw,omitempty"`
}

// PhotoEdit is one entry in a photo's edit history.
type PhotoEdit struct {
	ID             string          `db:"id" json:"id"`
	PhotoID        string          `db:"photo_id" json:"photoId"`
	EditType       string          `db:"edit_type" json:"editType"`
	EditParams     json.RawMessage `db:"edit_params" json:"editParams,omitempty"`
	EditedBlobPath *string         `db:"edited_blob_path" json:"editedBlobPath,omitempty"`
	EditedBy       string          `db:"edited_by" json:"editedBy"`
	CreatedAt      time.Time       `db:"created_at" json:"createdAt"`
}
