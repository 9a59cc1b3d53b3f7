// Package models defines the domain types shared by the service layers.
package models

import (
	"time"

	"github.com/starford/backlinks/internal/pageid"
)

// PageMetadata is a lightweight representation returned by list operations.
type PageMetadata struct {
	ID        pageid.ID `json:"id"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Backlink is one entry of a rendered backlink list.
type Backlink struct {
	ID    pageid.ID `json:"id"`
	Title string    `json:"title"`
}
