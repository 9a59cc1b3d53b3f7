package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/backlinks/internal/apperr"
	"github.com/starford/backlinks/internal/models"
	"github.com/starford/backlinks/internal/pageid"
	"github.com/starford/backlinks/internal/plugin"
	"github.com/starford/backlinks/internal/query"
	"github.com/starford/backlinks/internal/wiki"
)

// retryAfterSeconds is advertised when the index is unavailable.
const retryAfterSeconds = 1

// Service is the page service the handlers drive.
type Service interface {
	GetPage(ctx context.Context, id pageid.ID) (*wiki.PageDetail, error)
	SavePage(ctx context.Context, id pageid.ID, content []byte, ifMatch string) (*wiki.PageDetail, bool, error)
	DeletePage(ctx context.Context, id pageid.ID) error
	RenamePage(ctx context.Context, from, to pageid.ID) (*wiki.PageDetail, error)
	ListPages(ctx context.Context, ns pageid.ID) ([]wiki.PageListItem, error)
	Backlinks(ctx context.Context, r query.Request) (pageid.ID, []models.Backlink, error)
	Render(ctx context.Context, contextID pageid.ID, block string) plugin.Result
}

var _ Service = (*wiki.Service)(nil)

// Handler holds API route handlers.
type Handler struct {
	svc Service
}

// NewHandler creates a new Handler.
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// pageID extracts the page id from the URL. Encoded separators from clients
// (e.g. wiki%3Astart) are decoded. The id is returned as given; the service
// rejects ids that are not normalised.
func pageID(r *http.Request) pageid.ID {
	raw := chi.URLParam(r, "id")
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return pageid.ID(raw)
	}
	return pageid.ID(decoded)
}

// writeError maps service errors to HTTP statuses.
func writeError(w http.ResponseWriter, op string, id pageid.ID, err error) {
	switch {
	case errors.Is(err, apperr.ErrInvalidID):
		writeJSON(w, http.StatusBadRequest, errorBody(codeInvalidID, "invalid page id"))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody(codeNotFound, "not found"))
	case errors.Is(err, apperr.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody(codeConflict, "checksum mismatch"))
	case errors.Is(err, apperr.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, errorBody(codeExists, "page already exists"))
	case errors.Is(err, apperr.ErrExtraction):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody(codeUnparseable, "content could not be parsed"))
	case apperr.Retryable(err):
		slog.Warn(op+" failed", slog.String("page", id.String()), slog.String("error", err.Error()))
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
		writeJSON(w, http.StatusServiceUnavailable, errorBody(codeUnavailable, "index unavailable"))
	default:
		slog.Error(op+" failed", slog.String("page", id.String()), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody(codeInternal, "internal error"))
	}
}

// ListPages handles GET /api/pages.
//
//	@Summary		List indexed pages, optionally below a namespace
//	@Tags			pages
//	@Produce		json
//	@Param			ns	query		string	false	"Namespace"
//	@Success		200	{object}	PageListResponse
//	@Security		BearerAuth
//	@Router			/pages [get]
func (h *Handler) ListPages(w http.ResponseWriter, r *http.Request) {
	ns := pageid.Clean(r.URL.Query().Get("ns"))
	items, err := h.svc.ListPages(r.Context(), ns)
	if err != nil {
		writeError(w, "list pages", ns, err)
		return
	}
	writeJSON(w, http.StatusOK, PageListResponse{Pages: items, Total: len(items)})
}

// GetPage handles GET /api/pages/{id}.
//
//	@Summary		Get a single page with its backlinks
//	@Tags			pages
//	@Produce		json
//	@Param			id	path		string	true	"Page id"
//	@Success		200	{object}	PageDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages/{id} [get]
func (h *Handler) GetPage(w http.ResponseWriter, r *http.Request) {
	id := pageID(r)
	page, err := h.svc.GetPage(r.Context(), id)
	if err != nil {
		writeError(w, "get page", id, err)
		return
	}
	w.Header().Set("ETag", strconv.Quote(page.Checksum))
	writeJSON(w, http.StatusOK, page)
}

// SavePage handles PUT /api/pages/{id}.
//
//	@Summary		Create or replace a page with optimistic concurrency
//	@Tags			pages
//	@Accept			json
//	@Produce		json
//	@Param			id			path		string			true	"Page id"
//	@Param			If-Match	header		string			false	"SHA-256 checksum for optimistic concurrency"
//	@Param			body		body		SavePageRequest	true	"Page content"
//	@Success		200			{object}	PageDetail
//	@Success		201			{object}	PageDetail
//	@Failure		400			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Failure		422			{object}	errResponse
//	@Failure		503			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages/{id} [put]
func (h *Handler) SavePage(w http.ResponseWriter, r *http.Request) {
	id := pageID(r)

	var req SavePageRequest
	if !decodeBody(w, r, maxPageBody, &req) {
		return
	}

	page, created, err := h.svc.SavePage(r.Context(), id, []byte(*req.Content), r.Header.Get("If-Match"))
	if err != nil {
		writeError(w, "save page", id, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	w.Header().Set("ETag", strconv.Quote(page.Checksum))
	writeJSON(w, status, page)
}

// DeletePage handles DELETE /api/pages/{id}.
//
//	@Summary		Delete a page
//	@Tags			pages
//	@Param			id	path	string	true	"Page id"
//	@Success		204	"Page deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages/{id} [delete]
func (h *Handler) DeletePage(w http.ResponseWriter, r *http.Request) {
	id := pageID(r)
	if err := h.svc.DeletePage(r.Context(), id); err != nil {
		writeError(w, "delete page", id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RenamePage handles POST /api/pages/{id}/rename.
//
//	@Summary		Rename a page
//	@Tags			pages
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Page id"
//	@Param			body	body		RenamePageRequest	true	"New id"
//	@Success		200		{object}	PageDetail
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages/{id}/rename [post]
func (h *Handler) RenamePage(w http.ResponseWriter, r *http.Request) {
	id := pageID(r)

	var req RenamePageRequest
	if !decodeBody(w, r, maxRenameBody, &req) {
		return
	}

	page, err := h.svc.RenamePage(r.Context(), id, pageid.ID(req.To))
	if err != nil {
		writeError(w, "rename page", id, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Backlinks handles GET /api/backlinks/{id}.
//
//	@Summary		List pages linking to a page
//	@Tags			backlinks
//	@Produce		json
//	@Param			id		path		string	true	"Target page id, '.' or a relative reference"
//	@Param			context	query		string	false	"Page the reference is resolved from"
//	@Param			filter	query		string	false	"Namespace filter, '!' prefix excludes"
//	@Success		200		{object}	BacklinksResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/backlinks/{id} [get]
func (h *Handler) Backlinks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := query.ParseFilter(q.Get("filter"))
	req := query.Request{
		Context: pageid.Clean(q.Get("context")),
		Target:  string(pageID(r)),
		Filter:  filter,
	}

	target, backlinks, err := h.svc.Backlinks(r.Context(), req)
	if err != nil {
		writeError(w, "backlinks", pageid.ID(req.Target), err)
		return
	}
	writeJSON(w, http.StatusOK, BacklinksResponse{
		Target:    target,
		Filter:    filter.String(),
		Backlinks: backlinks,
	})
}

// Render handles GET /api/render.
//
//	@Summary		Render a backlinks block
//	@Tags			backlinks
//	@Produce		json
//	@Param			block	query		string	true	"Block, e.g. {{backlinks>.#wiki}}"
//	@Param			context	query		string	false	"Page the block appears on"
//	@Success		200		{object}	RenderResponse
//	@Security		BearerAuth
//	@Router			/render [get]
func (h *Handler) Render(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	block := q.Get("block")
	if block == "" {
		writeJSON(w, http.StatusBadRequest, errorBody(codeBadRequest, "query parameter 'block' is required"))
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Render(r.Context(), pageid.Clean(q.Get("context")), block))
}
