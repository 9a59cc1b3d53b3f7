// Package updater keeps the reverse link index in step with page mutations.
//
// Every save recomputes the page's outbound links and commits the difference
// against the stored set in one index transaction. Updates to the same page
// are serialised; different pages proceed in parallel.
package updater

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/starford/backlinks/internal/apperr"
	"github.com/starford/backlinks/internal/checksum"
	"github.com/starford/backlinks/internal/index"
	"github.com/starford/backlinks/internal/pageid"
	"github.com/starford/backlinks/internal/parser"
)

// Change describes what one mutation did to the index.
type Change struct {
	// Page is the source page after the mutation.
	Page pageid.ID `json:"page"`
	// Renamed is the previous id of Page, set only for renames.
	Renamed pageid.ID `json:"renamed,omitempty"`
	// Added lists targets that gained Page as a backlink.
	Added []pageid.ID `json:"added"`
	// Removed lists targets that lost a backlink from Page (or from Renamed).
	Removed []pageid.ID `json:"removed"`
}

// Targets returns every page whose backlink set changed, sorted.
func (c Change) Targets() []pageid.ID {
	out := make([]pageid.ID, 0, len(c.Added)+len(c.Removed))
	out = append(out, c.Added...)
	out = append(out, c.Removed...)
	slices.Sort(out)
	return slices.Compact(out)
}

// Empty reports whether no backlink set changed.
func (c Change) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0
}

// Updater applies page lifecycle events to a LinkIndex.
type Updater struct {
	store  index.LinkIndex
	logger *slog.Logger
	locks  *keyedMutex
	now    func() time.Time
}

// New creates an Updater writing to store.
func New(store index.LinkIndex, logger *slog.Logger) *Updater {
	return &Updater{
		store:  store,
		logger: logger,
		locks:  newKeyedMutex(),
		now:    time.Now,
	}
}

// OnPageSaved re-extracts the links of id from content and brings the index
// in line with them. Content that cannot be parsed leaves the index untouched
// and returns an error wrapping apperr.ErrExtraction.
func (u *Updater) OnPageSaved(ctx context.Context, id pageid.ID, content []byte) (Change, error) {
	if !id.Valid() {
		return Change{}, fmt.Errorf("updater: save %q: %w", id, apperr.ErrInvalidID)
	}
	res, err := parser.Parse(id, content)
	if err != nil {
		return Change{}, fmt.Errorf("updater: save %s: %w: %w", id, apperr.ErrExtraction, err)
	}

	unlock := u.locks.Lock(id)
	defer unlock()

	old, err := u.store.Outbound(ctx, id)
	if err != nil {
		return Change{}, fmt.Errorf("updater: save %s: %w", id, err)
	}
	add, remove := diff(old, res.Links)

	row := index.PageRow{
		ID:        id,
		Title:     res.Title,
		Checksum:  checksum.Sum(content),
		UpdatedAt: u.now(),
	}
	if err := u.store.ApplyDiff(ctx, row, add, remove); err != nil {
		return Change{}, fmt.Errorf("updater: save %s: %w", id, err)
	}

	u.logger.Debug("updater: page saved",
		slog.String("page", id.String()),
		slog.Int("added", len(add)),
		slog.Int("removed", len(remove)))
	return Change{Page: id, Added: add, Removed: remove}, nil
}

// OnPageDeleted removes id as a source from every backlink set.
func (u *Updater) OnPageDeleted(ctx context.Context, id pageid.ID) (Change, error) {
	unlock := u.locks.Lock(id)
	defer unlock()

	old, err := u.store.Outbound(ctx, id)
	if err != nil {
		return Change{}, fmt.Errorf("updater: delete %s: %w", id, err)
	}
	if err := u.store.RemoveAllReferencesFrom(ctx, id); err != nil {
		return Change{}, fmt.Errorf("updater: delete %s: %w", id, err)
	}

	u.logger.Debug("updater: page deleted", slog.String("page", id.String()), slog.Int("removed", len(old)))
	return Change{Page: id, Added: []pageid.ID{}, Removed: old}, nil
}

// OnPageRenamed moves every reference made by oldID over to newID in one
// transaction. References to oldID held by other pages are left alone; they
// keep pointing at the old name until those pages are edited.
func (u *Updater) OnPageRenamed(ctx context.Context, oldID, newID pageid.ID) (Change, error) {
	if !newID.Valid() {
		return Change{}, fmt.Errorf("updater: rename to %q: %w", newID, apperr.ErrInvalidID)
	}
	if oldID == newID {
		return Change{Page: newID, Added: []pageid.ID{}, Removed: []pageid.ID{}}, nil
	}

	unlock := u.locks.Lock(oldID, newID)
	defer unlock()

	fromOld, err := u.store.Outbound(ctx, oldID)
	if err != nil {
		return Change{}, fmt.Errorf("updater: rename %s: %w", oldID, err)
	}
	fromNew, err := u.store.Outbound(ctx, newID)
	if err != nil {
		return Change{}, fmt.Errorf("updater: rename %s: %w", oldID, err)
	}
	if err := u.store.RenameSource(ctx, oldID, newID); err != nil {
		return Change{}, fmt.Errorf("updater: rename %s: %w", oldID, err)
	}

	moved := slices.DeleteFunc(slices.Clone(fromOld), func(t pageid.ID) bool { return t == newID })
	added, droppedFromNew := diff(fromNew, moved)

	removed := append(slices.Clone(fromOld), droppedFromNew...)
	slices.Sort(removed)
	removed = slices.Compact(removed)

	u.logger.Debug("updater: page renamed",
		slog.String("from", oldID.String()),
		slog.String("to", newID.String()),
		slog.Int("moved", len(moved)))
	return Change{Page: newID, Renamed: oldID, Added: added, Removed: removed}, nil
}

// diff returns the sorted targets present only in next (add) and only in prev
// (remove). Both results are non-nil.
func diff(prev, next []pageid.ID) (add, remove []pageid.ID) {
	in := func(set []pageid.ID) map[pageid.ID]struct{} {
		m := make(map[pageid.ID]struct{}, len(set))
		for _, id := range set {
			m[id] = struct{}{}
		}
		return m
	}
	prevSet, nextSet := in(prev), in(next)

	add, remove = []pageid.ID{}, []pageid.ID{}
	for id := range nextSet {
		if _, ok := prevSet[id]; !ok {
			add = append(add, id)
		}
	}
	for id := range prevSet {
		if _, ok := nextSet[id]; !ok {
			remove = append(remove, id)
		}
	}
	slices.Sort(add)
	slices.Sort(remove)
	return add, remove
}
