// internal/model/content.go
// Package model defines the data structures used throughout the paywall service.
// These structures represent catalog items, payment records, users and the
// request/response bodies exchanged over HTTP.
package model

import (
	"time"
)

// ContentItem is a catalog entry that may be gated at its climax timestamp.
// This corresponds to the contents table (or collection) in storage.
type ContentItem struct {
	ID                     string    `json:"id" db:"id" bson:"_id"`                                           // Unique content identifier
	Title                  string    `json:"title" db:"title" bson:"title"`                                   // Display title
	Description            string    `json:"description" db:"description" bson:"description"`                 // Long description
	VideoURL               string    `json:"videoUrl" db:"video_url" bson:"videoUrl"`                         // Absolute URL or object key in the media bucket
	Thumbnail              string    `json:"thumbnail" db:"thumbnail" bson:"thumbnail"`                       // Poster image URL
	DurationSeconds        float64   `json:"durationSeconds" db:"duration_seconds" bson:"durationSeconds"`    // Total running time
	ClimaxTimestampSeconds float64   `json:"climaxTimestampSeconds" db:"climax_seconds" bson:"climaxSeconds"` // Playback position where the gate engages
	PremiumPrice           int64     `json:"premiumPrice" db:"premium_price" bson:"premiumPrice"`             // Unlock price in whole currency units, 0 = free
	Category               string    `json:"category" db:"category" bson:"category"`                          // Catalog shelf
	Genre                  []string  `json:"genre" db:"genre" bson:"genre"`                                   // Genre tags
	IsActive               bool      `json:"isActive" db:"is_active" bson:"isActive"`                         // Hidden from listings when false
	CreatedAt              time.Time `json:"createdAt" db:"created_at" bson:"createdAt"`                      // When the item was created
	UpdatedAt              time.Time `json:"updatedAt" db:"updated_at" bson:"updatedAt"`                      // When the item last changed
}

// Free reports whether the item is never gated.
func (c ContentItem) Free() bool {
	return c.PremiumPrice == 0 || c.ClimaxTimestampSeconds >= c.DurationSeconds
}

// GatingFieldsEqual reports whether the fields that payments depend on are unchanged.
func (c ContentItem) GatingFieldsEqual(o ContentItem) bool {
	return c.PremiumPrice == o.PremiumPrice &&
		c.ClimaxTimestampSeconds == o.ClimaxTimestampSeconds &&
		c.DurationSeconds == o.DurationSeconds &&
		c.VideoURL == o.VideoURL
}

// ContentQuery filters catalog listings.
type ContentQuery struct {
	Category        string // Exact category match
	Genre           string // Item must carry this genre tag
	IncludeInactive bool   // Admin listings see everything
	Limit           int    // Maximum number of items to return
	Offset          int    // Items to skip
}

// ContentInput is the admin create/update body.
type ContentInput struct {
	ID                     string   `json:"id,omitempty" validate:"omitempty,max=64"`
	Title                  string   `json:"title" validate:"required,max=200"`
	Description            string   `json:"description" validate:"max=4000"`
	VideoURL               string   `json:"videoUrl" validate:"required"`
	Thumbnail              string   `json:"thumbnail"`
	DurationSeconds        float64  `json:"durationSeconds" validate:"gt=0"`
	ClimaxTimestampSeconds float64  `json:"climaxTimestampSeconds" validate:"gte=0"`
	PremiumPrice           int64    `json:"premiumPrice" validate:"gte=0"`
	Category               string   `json:"category" validate:"max=64"`
	Genre                  []string `json:"genre" validate:"dive,max=64"`
	IsActive               *bool    `json:"isActive,omitempty"`
}

// PlaybackInfo is returned to players before they start streaming.
type PlaybackInfo struct {
	ContentID              string    `json:"contentId"`
	PlaybackURL            string    `json:"playbackUrl"`
	ExpiresAt              time.Time `json:"expiresAt,omitempty"`
	DurationSeconds        float64   `json:"durationSeconds"`
	ClimaxTimestampSeconds float64   `json:"climaxTimestampSeconds"`
	PremiumPrice           int64     `json:"premiumPrice"`
	Unlocked               bool      `json:"unlocked"`
}
