package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"planline/internal/config"
	"planline/internal/domain"
	"planline/internal/hierarchy"
)

// ErrNotFound aliases the domain sentinel so callers can match either.
var ErrNotFound = domain.ErrNotFound

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repo is the SQLite store. A Repo returned by WithTx runs every statement
// on that transaction.
type Repo struct {
	DB *sql.DB
	tx *sql.Tx
}

func New(db *sql.DB) Repo {
	return Repo{DB: db}
}

func (r Repo) WithTx(tx *sql.Tx) Repo {
	return Repo{DB: r.DB, tx: tx}
}

// Tx returns the bound transaction, or nil.
func (r Repo) Tx() *sql.Tx {
	return r.tx
}

func (r Repo) q() querier {
	if r.tx != nil {
		return r.tx
	}
	return r.DB
}

// WithinTx runs fn on a transaction-bound Repo. An already bound Repo runs
// fn directly so the caller's transaction stays the unit of work.
func (r Repo) WithinTx(ctx context.Context, fn func(ctx context.Context, r hierarchy.Repository) error) error {
	if r.tx != nil {
		return fn(ctx, r)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(ctx, r.WithTx(tx)); err != nil {
		return err
	}
	return tx.Commit()
}

func scanProject(row interface{ Scan(...any) error }) (domain.Project, error) {
	var p domain.Project
	var desc sql.NullString
	err := row.Scan(&p.ID, &p.Status, &desc, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if desc.Valid {
		p.Description = desc.String
	}
	return p, err
}

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	_, err := r.q().ExecContext(ctx, `INSERT INTO projects(id,status,description,created_at) VALUES (?,?,?,?)`,
		p.ID, p.Status, nullable(p.Description), p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.q().QueryRowContext(ctx, `SELECT id,status,description,created_at FROM projects WHERE id=?`, id))
}

// SingleProject returns the only project in the workspace.
func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	projects, err := r.ListProjects(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	if len(projects) == 0 {
		return domain.Project{}, ErrNotFound
	}
	if len(projects) > 1 {
		return domain.Project{}, fmt.Errorf("multiple projects exist; specify --project")
	}
	return projects[0], nil
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.q().QueryContext(ctx, `SELECT id,status,description,created_at FROM projects ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpsertProjectConfig(ctx context.Context, projectID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Project.ID = projectID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.q().ExecContext(ctx, `INSERT INTO project_configs(project_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(project_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, projectID, string(payload), now, now)
	return err
}

func (r Repo) GetProjectConfig(ctx context.Context, projectID string) (*config.Config, error) {
	var payload string
	err := r.q().QueryRowContext(ctx, `SELECT config_json FROM project_configs WHERE project_id=?`, projectID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, fmt.Errorf("decode config of %s: %w", projectID, err)
	}
	if cfg.Project.ID == "" {
		cfg.Project.ID = projectID
	}
	return &cfg, cfg.Validate()
}

func (r Repo) InsertSection(ctx context.Context, s domain.Section) error {
	_, err := r.q().ExecContext(ctx, `INSERT INTO sections(id,project_id,name,position,created_at) VALUES (?,?,?,?,?)`,
		s.ID, s.ProjectID, s.Name, s.Position, s.CreatedAt)
	return err
}

func (r Repo) GetSection(ctx context.Context, id string) (domain.Section, error) {
	var s domain.Section
	err := r.q().QueryRowContext(ctx, `SELECT id,project_id,name,position,created_at FROM sections WHERE id=?`, id).
		Scan(&s.ID, &s.ProjectID, &s.Name, &s.Position, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) ListSections(ctx context.Context, projectID string) ([]domain.Section, error) {
	rows, err := r.q().QueryContext(ctx, `SELECT id,project_id,name,position,created_at FROM sections WHERE project_id=? ORDER BY position, created_at, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Section
	for rows.Next() {
		var s domain.Section
		if err := rows.Scan(&s.ID, &s.ProjectID, &s.Name, &s.Position, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// NextSectionPosition returns one past the highest position in the project.
func (r Repo) NextSectionPosition(ctx context.Context, projectID string) (int, error) {
	var pos int
	err := r.q().QueryRowContext(ctx, `SELECT COALESCE(MAX(position)+1,0) FROM sections WHERE project_id=?`, projectID).Scan(&pos)
	return pos, err
}

type EventFilters struct {
	ProjectID  string
	Type       string
	EntityKind string
	EntityID   string
	Limit      int
	// Before returns events with ids below it, newest first.
	Before int64
}

func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Before > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Before)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT id,ts,type,project_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`,
		strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with ids greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, projectID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"id>?"}
	args := []any{cursor}
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,project_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE %s ORDER BY id ASC LIMIT ?`,
		strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var projectID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &projectID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		e.ProjectID = projectID.String
		e.EntityID = entityID.String
		e.Payload = payload.String
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
