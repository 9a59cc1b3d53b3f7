package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/backlinks/internal/apperr"
	"github.com/starford/backlinks/internal/pageid"
)

// PageRow represents a row in the pages table: the revision of a page whose
// links are currently indexed.
type PageRow struct {
	ID        pageid.ID
	Title     string
	Checksum  string
	UpdatedAt time.Time
}

// Backlinks returns every source page that references target, ordered by id.
// The result is never nil on success.
func (db *DB) Backlinks(ctx context.Context, target pageid.ID) ([]pageid.ID, error) {
	ids, err := db.queryIDs(ctx, `SELECT source FROM links WHERE target = ? ORDER BY source`, target)
	if err != nil {
		return nil, unavailable("backlinks", err)
	}
	return ids, nil
}

// Outbound returns the indexed link targets of source, ordered by id.
func (db *DB) Outbound(ctx context.Context, source pageid.ID) ([]pageid.ID, error) {
	ids, err := db.queryIDs(ctx, `SELECT target FROM links WHERE source = ? ORDER BY target`, source)
	if err != nil {
		return nil, unavailable("outbound", err)
	}
	return ids, nil
}

// AddReference records that source links to target. Adding an existing pair
// is a no-op.
func (db *DB) AddReference(ctx context.Context, source, target pageid.ID) error {
	_, err := db.conn.ExecContext(ctx, `INSERT OR IGNORE INTO links (source, target) VALUES (?, ?)`, source, target)
	if err != nil {
		return unavailable("add reference", err)
	}
	return nil
}

// RemoveReference forgets that source links to target. Removing an absent
// pair is a no-op.
func (db *DB) RemoveReference(ctx context.Context, source, target pageid.ID) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM links WHERE source = ? AND target = ?`, source, target)
	if err != nil {
		return unavailable("remove reference", err)
	}
	return nil
}

// RemoveAllReferencesFrom drops source from every target's backlink set and
// forgets its page row.
func (db *DB) RemoveAllReferencesFrom(ctx context.Context, source pageid.ID) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.ExecContext(ctx, `DELETE FROM links WHERE source = ?`, source); err != nil {
		return unavailable("delete links", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pages WHERE id = ?`, source); err != nil {
		return unavailable("delete page", err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

// ApplyDiff upserts the page row and applies one page's link changes in a
// single transaction.
func (db *DB) ApplyDiff(ctx context.Context, row PageRow, add, remove []pageid.ID) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pages (id, title, checksum, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title      = excluded.title,
			checksum   = excluded.checksum,
			updated_at = excluded.updated_at
	`, row.ID, row.Title, row.Checksum, row.UpdatedAt)
	if err != nil {
		return unavailable("upsert page", err)
	}

	if len(remove) > 0 {
		stmt, err := tx.PrepareContext(ctx, `DELETE FROM links WHERE source = ? AND target = ?`)
		if err != nil {
			return unavailable("prepare link delete", err)
		}
		defer stmt.Close()
		for _, target := range remove {
			if _, err := stmt.ExecContext(ctx, row.ID, target); err != nil {
				return unavailable("delete link", err)
			}
		}
	}

	if len(add) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO links (source, target) VALUES (?, ?)`)
		if err != nil {
			return unavailable("prepare link insert", err)
		}
		defer stmt.Close()
		for _, target := range add {
			if _, err := stmt.ExecContext(ctx, row.ID, target); err != nil {
				return unavailable("insert link", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

// RenameSource replaces oldID with newID as the source of every reference and
// moves the page row, in one transaction. Whatever newID referenced before is
// dropped, as is a reference from oldID to newID (it would become a self link).
func (db *DB) RenameSource(ctx context.Context, oldID, newID pageid.ID) error {
	if oldID == newID {
		return nil
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	steps := []struct {
		op   string
		sql  string
		args []any
	}{
		{"clear destination links", `DELETE FROM links WHERE source = ?`, []any{newID}},
		{"drop self link", `DELETE FROM links WHERE source = ? AND target = ?`, []any{oldID, newID}},
		{"move links", `UPDATE links SET source = ? WHERE source = ?`, []any{newID, oldID}},
		{"clear destination page", `DELETE FROM pages WHERE id = ?`, []any{newID}},
		{"move page", `UPDATE pages SET id = ? WHERE id = ?`, []any{newID, oldID}},
	}
	for _, s := range steps {
		if _, err := tx.ExecContext(ctx, s.sql, s.args...); err != nil {
			return unavailable(s.op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

// Page returns the indexed row for id, or apperr.ErrNotFound.
func (db *DB) Page(ctx context.Context, id pageid.ID) (*PageRow, error) {
	var r PageRow
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, title, checksum, updated_at FROM pages WHERE id = ?`, id,
	).Scan(&r.ID, &r.Title, &r.Checksum, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: page %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("page", err)
	}
	return &r, nil
}

// Title returns the indexed display title of id, or "" if the page has none
// or is not indexed.
func (db *DB) Title(ctx context.Context, id pageid.ID) (string, error) {
	var title string
	err := db.conn.QueryRowContext(ctx, `SELECT title FROM pages WHERE id = ?`, id).Scan(&title)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", unavailable("title", err)
	}
	return title, nil
}

// Pages lists indexed pages in namespace ns and below, ordered by id.
// An empty ns lists everything.
func (db *DB) Pages(ctx context.Context, ns pageid.ID) ([]PageRow, error) {
	q := `SELECT id, title, checksum, updated_at FROM pages ORDER BY id`
	var args []any
	if ns != "" {
		q = `SELECT id, title, checksum, updated_at FROM pages WHERE id LIKE ? ESCAPE '\' ORDER BY id`
		args = append(args, escapeLike(string(ns))+":%")
	}
	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, unavailable("pages", err)
	}
	defer rows.Close()

	out := []PageRow{}
	for rows.Next() {
		var r PageRow
		if err := rows.Scan(&r.ID, &r.Title, &r.Checksum, &r.UpdatedAt); err != nil {
			return nil, unavailable("pages", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("pages", err)
	}
	return out, nil
}

// Checksum returns the stored checksum for a page, or "" if it is not indexed.
func (db *DB) Checksum(ctx context.Context, id pageid.ID) (string, error) {
	var cs string
	err := db.conn.QueryRowContext(ctx, `SELECT checksum FROM pages WHERE id = ?`, id).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", unavailable("checksum", err)
	}
	return cs, nil
}

// AllChecksums returns the stored checksum of every indexed page.
func (db *DB) AllChecksums(ctx context.Context) (map[pageid.ID]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, checksum FROM pages`)
	if err != nil {
		return nil, unavailable("all checksums", err)
	}
	defer rows.Close()

	out := make(map[pageid.ID]string)
	for rows.Next() {
		var id pageid.ID
		var cs string
		if err := rows.Scan(&id, &cs); err != nil {
			return nil, unavailable("all checksums", err)
		}
		out[id] = cs
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("all checksums", err)
	}
	return out, nil
}

// ResetChecksums blanks every stored checksum so the next Sync re-reads
// every page.
func (db *DB) ResetChecksums(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, `UPDATE pages SET checksum = ''`); err != nil {
		return unavailable("reset checksums", err)
	}
	return nil
}

func (db *DB) queryIDs(ctx context.Context, query string, arg pageid.ID) ([]pageid.ID, error) {
	rows, err := db.conn.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []pageid.ID{}
	for rows.Next() {
		var id pageid.ID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := make([]rune, 0, len(s))
	for _, c := range s {
		if c == '%' || c == '_' || c == '\\' {
			r = append(r, '\\')
		}
		r = append(r, c)
	}
	return string(r)
}
