// Package models - tag.go defines photo tags and their assignment to photos.
package models

import "time"

// DefaultTagCategory applies when a tag is created without a category.
const DefaultTagCategory = "custom"

// Tag is unique on (Name, Category).
type Tag struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Category  string    `db:"category" json:"category"`
	Color     *string   `db:"color" json:"color,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// TagWithUsage adds the number of photos carrying the tag.
type TagWithUsage struct {
	Tag
	UsageCount int64 `db:"usage_count" json:"usageCount"`
}

// PhotoTag is a tag as attached to one photo.
type PhotoTag struct {
	Tag
	AddedBy string    `db:"added_by" json:"addedBy"`
	AddedAt time.Time `db:"added_at" json:"addedAt"`
}
