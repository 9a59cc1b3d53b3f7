// Package plugin renders {{backlinks>...}} blocks into display data.
package plugin

import (
	"context"
	"log/slog"

	"github.com/starford/backlinks/internal/models"
	"github.com/starford/backlinks/internal/pageid"
	"github.com/starford/backlinks/internal/query"
)

// Querier runs backlink lookups.
type Querier interface {
	Query(ctx context.Context, r query.Request) ([]pageid.ID, error)
}

// Titler looks up display titles.
type Titler interface {
	PageTitle(ctx context.Context, id pageid.ID) string
}

// Result is what a block renders to.
type Result struct {
	Target pageid.ID         `json:"target"`
	Filter string            `json:"filter,omitempty"`
	Items  []models.Backlink `json:"items"`
	// Empty asks the caller to show a "nothing found" notice.
	Empty bool `json:"empty"`
	// Degraded is set when the lookup failed and Items was left empty.
	Degraded bool `json:"degraded,omitempty"`
}

// Backlinks renders backlinks blocks.
type Backlinks struct {
	queries Querier
	titles  Titler
	logger  *slog.Logger
}

// New creates a block renderer.
func New(queries Querier, titles Titler, logger *slog.Logger) *Backlinks {
	return &Backlinks{queries: queries, titles: titles, logger: logger}
}

// Render parses block and lists the pages linking to its target as seen from
// page contextID. Lookup failures never reach the caller: they are logged and
// rendered as an empty, degraded result.
func (b *Backlinks) Render(ctx context.Context, contextID pageid.ID, block string) Result {
	target, filter := query.ParseBlock(block)
	req := query.Request{Context: contextID, Target: target, Filter: filter}
	res := Result{
		Target: query.Resolve(req),
		Filter: filter.String(),
		Items:  []models.Backlink{},
	}

	ids, err := b.queries.Query(ctx, req)
	if err != nil {
		b.logger.Warn("plugin: backlinks lookup failed",
			slog.String("context", contextID.String()),
			slog.String("block", block),
			slog.String("error", err.Error()))
		res.Empty = true
		res.Degraded = true
		return res
	}

	for _, id := range ids {
		title := b.titles.PageTitle(ctx, id)
		if title == "" {
			title = id.String()
		}
		res.Items = append(res.Items, models.Backlink{ID: id, Title: title})
	}
	res.Empty = len(res.Items) == 0
	return res
}
