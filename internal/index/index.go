package index

import (
	"context"

	"github.com/starford/backlinks/internal/pageid"
)

// LinkIndex is the reverse link store contract. Consumers should depend on
// this interface rather than the concrete *DB type.
//
// Backlinks is ordered by source id so repeated reads of an unchanged index
// are identical. AddReference and RemoveReference are idempotent.
type LinkIndex interface {
	Backlinks(ctx context.Context, target pageid.ID) ([]pageid.ID, error)
	Outbound(ctx context.Context, source pageid.ID) ([]pageid.ID, error)
	AddReference(ctx context.Context, source, target pageid.ID) error
	RemoveReference(ctx context.Context, source, target pageid.ID) error
	RemoveAllReferencesFrom(ctx context.Context, source pageid.ID) error
	ApplyDiff(ctx context.Context, row PageRow, add, remove []pageid.ID) error
	RenameSource(ctx context.Context, oldID, newID pageid.ID) error
	Title(ctx context.Context, id pageid.ID) (string, error)
}

// Verify *DB satisfies LinkIndex at compile time.
var _ LinkIndex = (*DB)(nil)

// Hooks receives page changes discovered by Sync and Watch.
type Hooks interface {
	IndexPage(ctx context.Context, id pageid.ID, content []byte) error
	ForgetPage(ctx context.Context, id pageid.ID) error
}
