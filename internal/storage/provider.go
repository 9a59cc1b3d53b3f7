// Package storage defines the page store abstraction.
package storage

import (
	"github.com/starford/backlinks/internal/models"
	"github.com/starford/backlinks/internal/pageid"
)

// Provider is the interface for raw page content operations. Ids must be
// normalised (see pageid.ID.Valid).
type Provider interface {
	// List returns metadata for every page in namespace ns and below ("" for all).
	List(ns pageid.ID) ([]models.PageMetadata, error)
	// Read returns the current content of page id.
	Read(id pageid.ID) ([]byte, error)
	// Exists reports whether page id is stored.
	Exists(id pageid.ID) bool
	// Write atomically replaces the content of page id.
	Write(id pageid.ID, content []byte) error
	// Delete removes page id.
	Delete(id pageid.ID) error
	// Move renames page oldID to newID.
	Move(oldID, newID pageid.ID) error
}
