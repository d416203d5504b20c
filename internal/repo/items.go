package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"planline/internal/domain"
	"planline/internal/hierarchy"
)

const itemColumns = `id,project_id,section_id,type,title,description,start_date,end_date,status,parent_item_id,item_depth,metadata_json,created_at,updated_at`

// depthChunk keeps each CASE update well under SQLite's variable limit.
const depthChunk = 300

var _ hierarchy.Repository = Repo{}
var _ hierarchy.Transactor = Repo{}

type ItemFilters struct {
	ProjectID string
	SectionID string
	ParentID  string
	Type      domain.ItemType
	Status    domain.ItemStatus
	Limit     int
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (domain.Item, error) {
	var it domain.Item
	var description, start, end, parentID, metadata sql.NullString
	err := row.Scan(&it.ID, &it.ProjectID, &it.SectionID, &it.Type, &it.Title, &description, &start, &end,
		&it.Status, &parentID, &it.ItemDepth, &metadata, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	it.Description = description.String
	if parentID.Valid && parentID.String != "" {
		p := parentID.String
		it.ParentItemID = &p
	}
	if it.StartDate, err = parseDate(start); err != nil {
		return it, fmt.Errorf("item %s start_date: %w", it.ID, err)
	}
	if it.EndDate, err = parseDate(end); err != nil {
		return it, fmt.Errorf("item %s end_date: %w", it.ID, err)
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &it.Metadata); err != nil {
			return it, fmt.Errorf("item %s metadata: %w", it.ID, err)
		}
	}
	return it, nil
}

func scanItems(rows *sql.Rows) ([]domain.Item, error) {
	defer rows.Close()
	var res []domain.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

func parseDate(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func (r Repo) now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func (r Repo) InsertItem(ctx context.Context, it domain.Item) error {
	var metadata any
	if len(it.Metadata) > 0 {
		data, err := json.Marshal(it.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		metadata = string(data)
	}
	_, err := r.q().ExecContext(ctx, `INSERT INTO items(`+itemColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		it.ID, it.ProjectID, it.SectionID, it.Type, it.Title, nullable(it.Description),
		formatDate(it.StartDate), formatDate(it.EndDate), it.Status, nullableStringPtr(it.ParentItemID), it.ItemDepth,
		metadata, it.CreatedAt, it.UpdatedAt)
	return err
}

func (r Repo) GetItem(ctx context.Context, id string) (domain.Item, error) {
	return scanItem(r.q().QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id=?`, id))
}

func (r Repo) GetItemsByIDs(ctx context.Context, ids []string) ([]domain.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	seen := map[string]bool{}
	var args []any
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")
	rows, err := r.q().QueryContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id IN (`+placeholders+`) ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	return scanItems(rows)
}

func (r Repo) GetChildrenOf(ctx context.Context, parentID string) ([]domain.Item, error) {
	rows, err := r.q().QueryContext(ctx, `SELECT `+itemColumns+` FROM items WHERE parent_item_id=? ORDER BY created_at, id`, parentID)
	if err != nil {
		return nil, err
	}
	return scanItems(rows)
}

func (r Repo) ListItems(ctx context.Context, f ItemFilters) ([]domain.Item, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.SectionID != "" {
		clauses = append(clauses, "section_id=?")
		args = append(args, f.SectionID)
	}
	if f.ParentID != "" {
		clauses = append(clauses, "parent_item_id=?")
		args = append(args, f.ParentID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + itemColumns + ` FROM items`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY section_id, item_depth, created_at, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanItems(rows)
}

func (r Repo) UpdateItemParentAndDepth(ctx context.Context, id string, parentID *string, depth int) (domain.Item, error) {
	res, err := r.q().ExecContext(ctx, `UPDATE items SET parent_item_id=?, item_depth=?, updated_at=? WHERE id=?`,
		nullableStringPtr(parentID), depth, r.now(), id)
	if err != nil {
		return domain.Item{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Item{}, ErrNotFound
	}
	return r.GetItem(ctx, id)
}

// BulkUpdateDepths writes all depths atomically, chunked into CASE updates.
func (r Repo) BulkUpdateDepths(ctx context.Context, updates []domain.DepthUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return r.WithinTx(ctx, func(ctx context.Context, hr hierarchy.Repository) error {
		tr := hr.(Repo)
		now := r.now()
		for start := 0; start < len(updates); start += depthChunk {
			end := start + depthChunk
			if end > len(updates) {
				end = len(updates)
			}
			if err := tr.updateDepthChunk(ctx, updates[start:end], now); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r Repo) updateDepthChunk(ctx context.Context, chunk []domain.DepthUpdate, now string) error {
	var b strings.Builder
	args := make([]any, 0, len(chunk)*3+1)
	b.WriteString(`UPDATE items SET item_depth = CASE id`)
	for _, u := range chunk {
		b.WriteString(` WHEN ? THEN ?`)
		args = append(args, u.ID, u.Depth)
	}
	b.WriteString(` END, updated_at=? WHERE id IN (`)
	args = append(args, now)
	for i, u := range chunk {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("?")
		args = append(args, u.ID)
	}
	b.WriteString(")")
	res, err := r.q().ExecContext(ctx, b.String(), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); int(n) != len(chunk) {
		return fmt.Errorf("updated %d of %d depths: %w", n, len(chunk), ErrNotFound)
	}
	return nil
}

func (r Repo) SectionOf(ctx context.Context, id string) (string, error) {
	var section string
	err := r.q().QueryRowContext(ctx, `SELECT section_id FROM items WHERE id=?`, id).Scan(&section)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return section, err
}

// MaxItemDepth returns the deepest stored item_depth in a project, 0 when
// the project has no items.
func (r Repo) MaxItemDepth(ctx context.Context, projectID string) (int, error) {
	var depth int
	err := r.q().QueryRowContext(ctx, `SELECT COALESCE(MAX(item_depth), 0) FROM items WHERE project_id=?`, projectID).Scan(&depth)
	return depth, err
}

// ListRootItems treats an item whose parent row is gone as a root.
func (r Repo) ListRootItems(ctx context.Context, f domain.TreeFilter) ([]domain.Item, error) {
	if f.ItemID != "" {
		it, err := r.GetItem(ctx, f.ItemID)
		if err != nil {
			return nil, err
		}
		return []domain.Item{it}, nil
	}
	clauses := []string{`(i.parent_item_id IS NULL OR NOT EXISTS (SELECT 1 FROM items p WHERE p.id = i.parent_item_id))`}
	var args []any
	switch {
	case f.SectionID != "":
		clauses = append(clauses, "i.section_id=?")
		args = append(args, f.SectionID)
	case f.ProjectID != "":
		clauses = append(clauses, "i.project_id=?")
		args = append(args, f.ProjectID)
	}
	cols := "i." + strings.ReplaceAll(itemColumns, ",", ",i.")
	rows, err := r.q().QueryContext(ctx, `SELECT `+cols+` FROM items i WHERE `+strings.Join(clauses, " AND ")+` ORDER BY i.created_at, i.id`, args...)
	if err != nil {
		return nil, err
	}
	return scanItems(rows)
}

func (r Repo) DeleteItem(ctx context.Context, id string) error {
	res, err := r.q().ExecContext(ctx, `DELETE FROM items WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
