// Package wiki coordinates the page store, the link index and change
// notifications. It is the host side of the backlinks feature: pages are
// read and written here and every committed mutation is fed to the updater.
package wiki

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/starford/backlinks/internal/apperr"
	"github.com/starford/backlinks/internal/checksum"
	"github.com/starford/backlinks/internal/index"
	"github.com/starford/backlinks/internal/models"
	"github.com/starford/backlinks/internal/pageid"
	"github.com/starford/backlinks/internal/parser"
	"github.com/starford/backlinks/internal/plugin"
	"github.com/starford/backlinks/internal/query"
	"github.com/starford/backlinks/internal/sse"
	"github.com/starford/backlinks/internal/storage"
	"github.com/starford/backlinks/internal/updater"
)

// Notifier receives committed page changes.
type Notifier interface {
	PublishPageEvent(kind string, page sse.PageEvent, targets []pageid.ID)
}

type nopNotifier struct{}

func (nopNotifier) PublishPageEvent(string, sse.PageEvent, []pageid.ID) {}

// PageDetail is the full representation of a page.
type PageDetail struct {
	ID        pageid.ID         `json:"id"`
	Title     string            `json:"title"`
	Content   string            `json:"content"`
	Checksum  string            `json:"checksum"`
	Backlinks []models.Backlink `json:"backlinks"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// PageListItem is a lightweight item in a list response.
type PageListItem struct {
	ID        pageid.ID `json:"id"`
	Title     string    `json:"title"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Service coordinates storage and index operations.
type Service struct {
	store   storage.Provider
	db      *index.DB
	updater *updater.Updater
	queries *query.Service
	blocks  *plugin.Backlinks
	notify  Notifier
	logger  *slog.Logger

	// mu orders store writes with their index updates so the index never
	// settles on an older revision than the one on disk.
	mu sync.Mutex
}

// NewService creates a page service. notify may be nil.
func NewService(store storage.Provider, db *index.DB, notify Notifier, logger *slog.Logger) *Service {
	if notify == nil {
		notify = nopNotifier{}
	}
	s := &Service{
		store:   store,
		db:      db,
		updater: updater.New(db, logger),
		queries: query.NewService(db),
		notify:  notify,
		logger:  logger,
	}
	s.blocks = plugin.New(s.queries, s, logger)
	return s
}

// GetPage reads a page and enriches it with its backlinks.
func (s *Service) GetPage(ctx context.Context, id pageid.ID) (*PageDetail, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	data, err := s.PageContent(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.buildPageDetail(ctx, id, data)
}

// SavePage creates or replaces a page. A non-empty ifMatch must equal the
// checksum of the stored revision. Content the link extractor rejects is not
// written and yields apperr.ErrExtraction.
func (s *Service) SavePage(ctx context.Context, id pageid.ID, content []byte, ifMatch string) (*PageDetail, bool, error) {
	if err := checkID(id); err != nil {
		return nil, false, err
	}
	if _, err := parser.Parse(id, content); err != nil {
		return nil, false, fmt.Errorf("wiki: save %s: %w: %w", id, apperr.ErrExtraction, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.Read(id)
	created := errors.Is(err, fs.ErrNotExist)
	if err != nil && !created {
		return nil, false, err
	}
	if ifMatch != "" && (created || !checksum.Matches(existing, ifMatch)) {
		return nil, false, apperr.ErrConflict
	}

	if err := s.store.Write(id, content); err != nil {
		return nil, false, err
	}
	if err := s.indexPage(ctx, id, content); err != nil {
		return nil, false, err
	}
	detail, err := s.buildPageDetail(ctx, id, content)
	return detail, created, err
}

// DeletePage removes a page from storage and from every backlink list.
func (s *Service) DeletePage(ctx context.Context, id pageid.ID) error {
	if err := checkID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Delete(id); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return apperr.ErrNotFound
		}
		return err
	}
	return s.forgetPage(ctx, id)
}

// RenamePage moves a page to a new id. Content the link extractor rejects
// fails the rename before anything is touched. Otherwise the index moves the
// page's references first (one transaction), then the file is moved. The content is then
// re-indexed under the new id so relative links resolve from the new
// namespace. Links held by other pages are not rewritten.
func (s *Service) RenamePage(ctx context.Context, from, to pageid.ID) (*PageDetail, error) {
	if err := checkID(from); err != nil {
		return nil, err
	}
	if err := checkID(to); err != nil {
		return nil, err
	}
	if from == to {
		return nil, fmt.Errorf("wiki: rename %s onto itself: %w", from, apperr.ErrConflict)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := s.PageContent(ctx, from)
	if err != nil {
		return nil, err
	}
	if s.store.Exists(to) {
		return nil, fmt.Errorf("wiki: rename %s: %s %w", from, to, apperr.ErrAlreadyExists)
	}
	if _, err := parser.Parse(to, content); err != nil {
		return nil, fmt.Errorf("wiki: rename %s: %w: %w", from, apperr.ErrExtraction, err)
	}

	moved, err := s.updater.OnPageRenamed(ctx, from, to)
	if err != nil {
		return nil, err
	}
	s.queries.Invalidate(moved.Targets()...)
	if err := s.store.Move(from, to); err != nil {
		s.rollbackRename(ctx, from, to, content)
		return nil, err
	}

	resaved, err := s.updater.OnPageSaved(ctx, to, content)
	if err != nil {
		return nil, err
	}
	s.queries.Invalidate(resaved.Targets()...)

	targets := append(moved.Targets(), resaved.Targets()...)
	slices.Sort(targets)
	s.notify.PublishPageEvent(sse.PageRenamed, sse.PageEvent{ID: to, Renamed: from}, slices.Compact(targets))
	s.logger.Info("wiki: page renamed", slog.String("from", from.String()), slog.String("to", to.String()))

	return s.buildPageDetail(ctx, to, content)
}

// rollbackRename restores the index after the file move failed.
func (s *Service) rollbackRename(ctx context.Context, from, to pageid.ID, content []byte) {
	dropped, err := s.updater.OnPageDeleted(ctx, to)
	if err != nil {
		s.logger.Error("wiki: rename rollback failed", slog.String("page", to.String()), slog.String("error", err.Error()))
		return
	}
	s.queries.Invalidate(dropped.Targets()...)
	restored, err := s.updater.OnPageSaved(ctx, from, content)
	if err != nil {
		s.logger.Error("wiki: rename rollback failed", slog.String("page", from.String()), slog.String("error", err.Error()))
		return
	}
	s.queries.Invalidate(restored.Targets()...)
}

// ListPages returns the indexed pages in namespace ns and below.
func (s *Service) ListPages(ctx context.Context, ns pageid.ID) ([]PageListItem, error) {
	rows, err := s.db.Pages(ctx, ns)
	if err != nil {
		return nil, err
	}
	items := make([]PageListItem, len(rows))
	for i, r := range rows {
		items[i] = PageListItem{
			ID:        r.ID,
			Title:     r.Title,
			Checksum:  r.Checksum,
			UpdatedAt: r.UpdatedAt,
		}
	}
	return items, nil
}

// Backlinks answers a backlink query and attaches display titles.
func (s *Service) Backlinks(ctx context.Context, r query.Request) (pageid.ID, []models.Backlink, error) {
	ids, err := s.queries.Query(ctx, r)
	if err != nil {
		return "", nil, err
	}
	return query.Resolve(r), s.withTitles(ctx, ids), nil
}

// Render renders a backlinks block as seen from page contextID.
func (s *Service) Render(ctx context.Context, contextID pageid.ID, block string) plugin.Result {
	return s.blocks.Render(ctx, contextID, block)
}

// PageContent returns the raw content of a page, or apperr.ErrNotFound.
func (s *Service) PageContent(_ context.Context, id pageid.ID) ([]byte, error) {
	data, err := s.store.Read(id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("wiki: page %s: %w", id, apperr.ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}

// PageExists reports whether the page is in the store.
func (s *Service) PageExists(_ context.Context, id pageid.ID) bool {
	return s.store.Exists(id)
}

// PageTitle returns the indexed title of a page, or "" when it has none.
func (s *Service) PageTitle(ctx context.Context, id pageid.ID) string {
	title, err := s.db.Title(ctx, id)
	if err != nil {
		s.logger.Warn("wiki: title lookup failed", slog.String("page", id.String()), slog.String("error", err.Error()))
		return ""
	}
	return title
}

// IndexPage re-indexes a page changed outside the service. Content the index
// already holds (the watcher seeing the service's own write) is skipped
// without an event.
func (s *Service) IndexPage(ctx context.Context, id pageid.ID, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.db.Checksum(ctx, id)
	if err != nil {
		return err
	}
	if stored == checksum.Sum(content) {
		return nil
	}
	return s.indexPage(ctx, id, content)
}

// ForgetPage drops a page removed outside the service from the index. Pages
// the index does not know are skipped without an event.
func (s *Service) ForgetPage(ctx context.Context, id pageid.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Page(ctx, id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		return err
	}
	return s.forgetPage(ctx, id)
}

// Reindex brings the index in line with the store. With full set every page
// is re-read and re-indexed regardless of its checksum.
func (s *Service) Reindex(ctx context.Context, full bool) (index.SyncStats, error) {
	if full {
		if err := s.db.ResetChecksums(ctx); err != nil {
			return index.SyncStats{}, err
		}
	}
	return index.Sync(ctx, s.db, s.store, s, s.logger)
}

// Ready reports whether the index answers.
func (s *Service) Ready(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Service) indexPage(ctx context.Context, id pageid.ID, content []byte) error {
	ch, err := s.updater.OnPageSaved(ctx, id, content)
	if err != nil {
		return err
	}
	s.queries.Invalidate(ch.Targets()...)
	s.notify.PublishPageEvent(sse.PageSaved, sse.PageEvent{ID: id}, ch.Targets())
	return nil
}

func (s *Service) forgetPage(ctx context.Context, id pageid.ID) error {
	ch, err := s.updater.OnPageDeleted(ctx, id)
	if err != nil {
		return err
	}
	s.queries.Invalidate(ch.Targets()...)
	s.notify.PublishPageEvent(sse.PageDeleted, sse.PageEvent{ID: id}, ch.Targets())
	return nil
}

// buildPageDetail constructs a PageDetail from raw data without re-reading the file.
func (s *Service) buildPageDetail(ctx context.Context, id pageid.ID, data []byte) (*PageDetail, error) {
	res, err := parser.Parse(id, data)
	if err != nil {
		return nil, fmt.Errorf("wiki: page %s: %w: %w", id, apperr.ErrExtraction, err)
	}
	bl, err := s.db.Backlinks(ctx, id)
	if err != nil {
		return nil, err
	}
	return &PageDetail{
		ID:        id,
		Title:     res.Title,
		Content:   string(data),
		Checksum:  checksum.Sum(data),
		Backlinks: s.withTitles(ctx, bl),
		UpdatedAt: time.Now(),
	}, nil
}

func (s *Service) withTitles(ctx context.Context, ids []pageid.ID) []models.Backlink {
	out := make([]models.Backlink, len(ids))
	for i, id := range ids {
		title := s.PageTitle(ctx, id)
		if title == "" {
			title = id.String()
		}
		out[i] = models.Backlink{ID: id, Title: title}
	}
	return out
}

func checkID(id pageid.ID) error {
	if !id.Valid() {
		return fmt.Errorf("wiki: %q: %w", id, apperr.ErrInvalidID)
	}
	return nil
}
