package updater

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/starford/backlinks/internal/apperr"
	"github.com/starford/backlinks/internal/index"
	"github.com/starford/backlinks/internal/pageid"
	"github.com/starford/backlinks/internal/testutil"
)

func newUpdater(t *testing.T) (*Updater, *index.DB) {
	t.Helper()
	db := testutil.TestDB(t)
	return New(db, testutil.Logger()), db
}

func ids(s ...string) []pageid.ID {
	out := make([]pageid.ID, len(s))
	for i, v := range s {
		out[i] = pageid.ID(v)
	}
	return out
}

func backlinks(t *testing.T, db *index.DB, target pageid.ID) []pageid.ID {
	t.Helper()
	got, err := db.Backlinks(context.Background(), target)
	if err != nil {
		t.Fatalf("Backlinks(%s): %v", target, err)
	}
	return got
}

func TestOnPageSaved(t *testing.T) {
	u, db := newUpdater(t)
	ctx := context.Background()

	ch, err := u.OnPageSaved(ctx, "a", []byte("[[b]] [[c]]"))
	if err != nil {
		t.Fatalf("OnPageSaved: %v", err)
	}
	if !reflect.DeepEqual(ch.Added, ids("b", "c")) || len(ch.Removed) != 0 {
		t.Errorf("change = %+v", ch)
	}
	if got := backlinks(t, db, "b"); !reflect.DeepEqual(got, ids("a")) {
		t.Errorf("Backlinks(b) = %v", got)
	}

	ch, err = u.OnPageSaved(ctx, "a", []byte("[[c]] [[d]]"))
	if err != nil {
		t.Fatalf("OnPageSaved: %v", err)
	}
	if !reflect.DeepEqual(ch.Added, ids("d")) || !reflect.DeepEqual(ch.Removed, ids("b")) {
		t.Errorf("change = %+v", ch)
	}
	if !reflect.DeepEqual(ch.Targets(), ids("b", "d")) {
		t.Errorf("Targets = %v", ch.Targets())
	}
	if got := backlinks(t, db, "b"); len(got) != 0 {
		t.Errorf("Backlinks(b) = %v, want empty", got)
	}
}

func TestOnPageSavedIdempotent(t *testing.T) {
	u, db := newUpdater(t)
	ctx := context.Background()
	content := []byte("====== Title ======\n[[x]] [[ns:y]]")

	if _, err := u.OnPageSaved(ctx, "p", content); err != nil {
		t.Fatal(err)
	}
	ch, err := u.OnPageSaved(ctx, "p", content)
	if err != nil {
		t.Fatal(err)
	}
	if !ch.Empty() {
		t.Errorf("second save change = %+v, want empty", ch)
	}
	if got := backlinks(t, db, "x"); !reflect.DeepEqual(got, ids("p")) {
		t.Errorf("Backlinks(x) = %v", got)
	}
	title, _ := db.Title(ctx, "p")
	if title != "Title" {
		t.Errorf("title = %q", title)
	}
}

func TestSaveDeleteRoundTrip(t *testing.T) {
	u, db := newUpdater(t)
	ctx := context.Background()

	_, _ = u.OnPageSaved(ctx, "keep", []byte("[[t]]"))
	_, _ = u.OnPageSaved(ctx, "temp", []byte("[[t]] [[u]]"))

	ch, err := u.OnPageDeleted(ctx, "temp")
	if err != nil {
		t.Fatalf("OnPageDeleted: %v", err)
	}
	if !reflect.DeepEqual(ch.Removed, ids("t", "u")) {
		t.Errorf("removed = %v", ch.Removed)
	}
	if got := backlinks(t, db, "t"); !reflect.DeepEqual(got, ids("keep")) {
		t.Errorf("Backlinks(t) = %v", got)
	}
	if got := backlinks(t, db, "u"); len(got) != 0 {
		t.Errorf("Backlinks(u) = %v", got)
	}

	if _, err := u.OnPageDeleted(ctx, "never-existed"); err != nil {
		t.Errorf("delete unknown page: %v", err)
	}
}

func TestOnPageRenamed(t *testing.T) {
	u, db := newUpdater(t)
	ctx := context.Background()

	_, _ = u.OnPageSaved(ctx, "old", []byte("[[a]] [[new]]"))
	_, _ = u.OnPageSaved(ctx, "new", []byte("[[stale]]"))
	_, _ = u.OnPageSaved(ctx, "other", []byte("[[old]]"))

	ch, err := u.OnPageRenamed(ctx, "old", "new")
	if err != nil {
		t.Fatalf("OnPageRenamed: %v", err)
	}
	if ch.Page != "new" || ch.Renamed != "old" {
		t.Errorf("change = %+v", ch)
	}
	if !reflect.DeepEqual(ch.Added, ids("a")) {
		t.Errorf("added = %v", ch.Added)
	}
	if !reflect.DeepEqual(ch.Removed, ids("a", "new", "stale")) {
		t.Errorf("removed = %v", ch.Removed)
	}

	if got := backlinks(t, db, "a"); !reflect.DeepEqual(got, ids("new")) {
		t.Errorf("Backlinks(a) = %v", got)
	}
	if got := backlinks(t, db, "new"); len(got) != 0 {
		t.Errorf("Backlinks(new) = %v, want no self link", got)
	}
	if got := backlinks(t, db, "stale"); len(got) != 0 {
		t.Errorf("Backlinks(stale) = %v", got)
	}
	if got := backlinks(t, db, "old"); !reflect.DeepEqual(got, ids("other")) {
		t.Errorf("Backlinks(old) = %v, inbound links are not rewritten", got)
	}
}

func TestExtractionFailureLeavesIndex(t *testing.T) {
	u, db := newUpdater(t)
	ctx := context.Background()

	_, _ = u.OnPageSaved(ctx, "p", []byte("[[a]]"))

	_, err := u.OnPageSaved(ctx, "p", []byte("[[b]]\x00binary"))
	if !errors.Is(err, apperr.ErrExtraction) {
		t.Fatalf("err = %v, want ErrExtraction", err)
	}
	if got := backlinks(t, db, "a"); !reflect.DeepEqual(got, ids("p")) {
		t.Errorf("Backlinks(a) = %v, previous state should remain", got)
	}
	if got := backlinks(t, db, "b"); len(got) != 0 {
		t.Errorf("Backlinks(b) = %v", got)
	}
}

func TestInvalidID(t *testing.T) {
	u, _ := newUpdater(t)
	ctx := context.Background()
	if _, err := u.OnPageSaved(ctx, "Not Clean", []byte("x")); !errors.Is(err, apperr.ErrInvalidID) {
		t.Errorf("save err = %v", err)
	}
	if _, err := u.OnPageRenamed(ctx, "a", ""); !errors.Is(err, apperr.ErrInvalidID) {
		t.Errorf("rename err = %v", err)
	}
}

func TestStoreUnavailable(t *testing.T) {
	u, db := newUpdater(t)
	db.Close()

	_, err := u.OnPageSaved(context.Background(), "p", []byte("[[a]]"))
	if !apperr.Retryable(err) {
		t.Errorf("err = %v, want retryable", err)
	}
	_, err = u.OnPageDeleted(context.Background(), "p")
	if !apperr.Retryable(err) {
		t.Errorf("delete err = %v, want retryable", err)
	}
}

func TestConcurrentSavesSamePage(t *testing.T) {
	u, db := newUpdater(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			content := fmt.Sprintf("[[t%d]] [[t%d]]", i%5, (i+1)%5)
			if _, err := u.OnPageSaved(ctx, "hot", []byte(content)); err != nil {
				t.Errorf("save %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	out, _ := db.Outbound(ctx, "hot")
	if len(out) != 2 {
		t.Fatalf("Outbound = %v, want exactly one revision's links", out)
	}
	for i := 0; i < 5; i++ {
		target := pageid.ID(fmt.Sprintf("t%d", i))
		has := slices.Contains(backlinks(t, db, target), "hot")
		if has != slices.Contains(out, target) {
			t.Errorf("Backlinks(%s) disagrees with outbound set %v", target, out)
		}
	}
}

func TestConcurrentSavesDifferentPages(t *testing.T) {
	u, db := newUpdater(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			src := pageid.ID(fmt.Sprintf("p%d", i))
			if _, err := u.OnPageSaved(ctx, src, []byte("[[shared]]")); err != nil {
				t.Errorf("save %s: %v", src, err)
			}
		}(i)
	}
	wg.Wait()

	if got := backlinks(t, db, "shared"); len(got) != 10 {
		t.Errorf("Backlinks(shared) = %v, want 10 sources", got)
	}
}

// TestTransposeInvariant drives random save/delete/rename sequences and checks
// after every step that the reverse index is the exact transpose of a model
// of every page's outbound links.
func TestTransposeInvariant(t *testing.T) {
	u, db := newUpdater(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	pages := ids("a", "b", "c", "ns:d", "ns:e", "ns:sub:f")
	model := map[pageid.ID][]pageid.ID{}

	for step := 0; step < 300; step++ {
		src := pages[rng.Intn(len(pages))]
		switch op := rng.Intn(10); {
		case op < 6:
			var refs []string
			var want []pageid.ID
			for _, p := range pages {
				if rng.Intn(3) == 0 {
					refs = append(refs, "[[:"+string(p)+"]]")
					if p != src {
						want = append(want, p)
					}
				}
			}
			if _, err := u.OnPageSaved(ctx, src, []byte(strings.Join(refs, " "))); err != nil {
				t.Fatalf("step %d save: %v", step, err)
			}
			slices.Sort(want)
			model[src] = want
		case op < 8:
			if _, err := u.OnPageDeleted(ctx, src); err != nil {
				t.Fatalf("step %d delete: %v", step, err)
			}
			delete(model, src)
		default:
			dst := pages[rng.Intn(len(pages))]
			if _, err := u.OnPageRenamed(ctx, src, dst); err != nil {
				t.Fatalf("step %d rename: %v", step, err)
			}
			if src != dst {
				moved := slices.DeleteFunc(slices.Clone(model[src]), func(p pageid.ID) bool { return p == dst })
				delete(model, src)
				delete(model, dst)
				if len(moved) > 0 {
					model[dst] = moved
				}
			}
		}

		for _, target := range pages {
			want := []pageid.ID{}
			for s, links := range model {
				if slices.Contains(links, target) {
					want = append(want, s)
				}
			}
			slices.Sort(want)
			if got := backlinks(t, db, target); !reflect.DeepEqual(got, want) {
				t.Fatalf("step %d: Backlinks(%s) = %v, want %v", step, target, got, want)
			}
		}
	}
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("b", "a", "b")
	if len(k.locks) != 2 {
		t.Errorf("locks = %d, want 2", len(k.locks))
	}
	unlock()
	if len(k.locks) != 0 {
		t.Errorf("locks = %d after unlock, want 0", len(k.locks))
	}
}

func TestRenameNeverHidesSourceFromReaders(t *testing.T) {
	u, db := newUpdater(t)
	ctx := context.Background()

	if _, err := u.OnPageSaved(ctx, "a", []byte("[[b]]")); err != nil {
		t.Fatalf("OnPageSaved: %v", err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	var mu sync.Mutex
	var bad [][]pageid.ID
	reads := 0

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				got, err := db.Backlinks(ctx, "b")
				mu.Lock()
				reads++
				if err != nil || len(got) != 1 || (got[0] != "a" && got[0] != "a2") {
					bad = append(bad, got)
				}
				mu.Unlock()
			}
		}()
	}

	from, to := pageid.ID("a"), pageid.ID("a2")
	for i := 0; i < 200; i++ {
		if _, err := u.OnPageRenamed(ctx, from, to); err != nil {
			t.Fatalf("OnPageRenamed(%s, %s): %v", from, to, err)
		}
		from, to = to, from
	}
	close(stop)
	wg.Wait()

	if len(bad) > 0 {
		t.Errorf("%d of %d reads saw an inconsistent set, first %v", len(bad), reads, bad[0])
	}
	if got := backlinks(t, db, "b"); !reflect.DeepEqual(got, ids(string(from))) {
		t.Errorf("Backlinks(b) = %v, want [%s]", got, from)
	}
}
