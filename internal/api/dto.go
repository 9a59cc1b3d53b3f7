package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/backlinks/internal/models"
	"github.com/starford/backlinks/internal/pageid"
	"github.com/starford/backlinks/internal/plugin"
	"github.com/starford/backlinks/internal/wiki"
)

// SavePageRequest is the request body for creating or replacing a page.
type SavePageRequest struct {
	Content *string `json:"content" example:"====== Hello ======\nSee [[wiki:start]]" validate:"required"`
}

// Validate validates the request.
func (r SavePageRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Content, validation.NotNil),
	)
}

// RenamePageRequest is the request body for renaming a page.
type RenamePageRequest struct {
	To string `json:"to" example:"wiki:new_name" validate:"required"`
}

// Validate validates the request.
func (r RenamePageRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.To, validation.Required, validation.By(validPageID)),
	)
}

func validPageID(v any) error {
	s, _ := v.(string)
	if !pageid.ID(s).Valid() {
		return validation.NewError("validation_page_id", "must be a normalised page id")
	}
	return nil
}

// PageDetail is the full page response type (aliased from the domain layer).
type PageDetail = wiki.PageDetail

// PageListItem is a lightweight item in a list response (aliased from the domain layer).
type PageListItem = wiki.PageListItem

// PageListResponse wraps page listings.
type PageListResponse struct {
	Pages []PageListItem `json:"pages" validate:"required"`
	Total int            `json:"total" example:"42" validate:"required"`
}

// BacklinksResponse lists the pages linking to Target.
type BacklinksResponse struct {
	Target    pageid.ID         `json:"target" example:"wiki:start" validate:"required"`
	Filter    string            `json:"filter,omitempty" example:"!private"`
	Backlinks []models.Backlink `json:"backlinks" validate:"required"`
}

// RenderResponse is the rendered form of a backlinks block.
type RenderResponse = plugin.Result
