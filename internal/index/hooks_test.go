package index

import (
	"context"
	"time"

	"github.com/starford/backlinks/internal/checksum"
	"github.com/starford/backlinks/internal/pageid"
	"github.com/starford/backlinks/internal/parser"
)

// linkHooks is a minimal Hooks that replaces a page's outbound set wholesale.
type linkHooks struct {
	db *DB
}

func (h linkHooks) IndexPage(ctx context.Context, id pageid.ID, content []byte) error {
	res, err := parser.Parse(id, content)
	if err != nil {
		return err
	}
	old, err := h.db.Outbound(ctx, id)
	if err != nil {
		return err
	}
	r := PageRow{ID: id, Title: res.Title, Checksum: checksum.Sum(content), UpdatedAt: time.Now()}
	return h.db.ApplyDiff(ctx, r, res.Links, old)
}

func (h linkHooks) ForgetPage(ctx context.Context, id pageid.ID) error {
	return h.db.RemoveAllReferencesFrom(ctx, id)
}
