package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"planline/internal/config"
	"planline/internal/domain"
	"planline/internal/events"
	"planline/internal/metrics"
	"planline/internal/repo"
)

// ErrInvalid marks caller mistakes that are not hierarchy rule violations.
var ErrInvalid = errors.New("invalid input")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Engine is the application service. It owns transactions, serializes
// mutations per section, and records events and metrics around the
// hierarchy package.
type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Metrics *metrics.Metrics
	Now     func() time.Time

	locks *sectionLocks
}

func New(db *sql.DB, cfg *config.Config) Engine {
	e := Engine{
		DB:     db,
		Repo:   repo.New(db),
		Config: cfg,
		Now:    time.Now,
		locks:  newSectionLocks(),
	}
	e.Events = events.Writer{Now: e.now}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func actorOrDefault(actorID string) string {
	if actorID == "" {
		return "local-user"
	}
	return actorID
}

// InitProject creates a project and stores cfg (or the defaults) as its config.
func (e Engine) InitProject(ctx context.Context, projectID, description, actorID string) (domain.Project, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return domain.Project{}, invalidf("project id is required")
	}
	cfg := e.Config
	if cfg == nil {
		cfg = config.Default(projectID)
	}
	copied := *cfg

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	r := e.Repo.WithTx(tx)

	p := domain.Project{
		ID:          projectID,
		Status:      "active",
		Description: description,
		CreatedAt:   e.timestamp(),
	}
	if err := r.InsertProject(ctx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := r.UpsertProjectConfig(ctx, p.ID, &copied); err != nil {
		return domain.Project{}, fmt.Errorf("insert project config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.ProjectCreated, p.ID, events.KindProject, p.ID, actorOrDefault(actorID), events.EventPayload{"status": p.Status}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (e Engine) GetProject(ctx context.Context, projectID string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return p, fmt.Errorf("project %s: %w", projectID, err)
	}
	return p, nil
}

// UpdateProjectConfig replaces a project's stored config. The new policy
// applies to later mutations only; existing trees are not re-validated
// against its type rules. hierarchy.max_depth may not drop below the
// deepest stored item, since the read traversals are bounded by it.
func (e Engine) UpdateProjectConfig(ctx context.Context, projectID string, cfg *config.Config, actorID string) error {
	if cfg == nil {
		return invalidf("config is required")
	}
	cfg.Project.ID = projectID
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	r := e.Repo.WithTx(tx)
	if _, err := r.GetProject(ctx, projectID); err != nil {
		return fmt.Errorf("project %s: %w", projectID, err)
	}
	deepest, err := r.MaxItemDepth(ctx, projectID)
	if err != nil {
		return fmt.Errorf("load deepest item of %s: %w", projectID, err)
	}
	if deepest > cfg.Hierarchy.MaxDepth {
		return invalidf("hierarchy.max_depth %d is below the deepest stored item (depth %d)", cfg.Hierarchy.MaxDepth, deepest)
	}
	if err := r.UpsertProjectConfig(ctx, projectID, cfg); err != nil {
		return fmt.Errorf("update project config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.ConfigUpdated, projectID, events.KindProject, projectID, actorOrDefault(actorID), events.EventPayload{"max_depth": cfg.Hierarchy.MaxDepth}); err != nil {
		return err
	}
	return tx.Commit()
}

// ProjectConfig returns the stored config, falling back to the engine's.
func (e Engine) ProjectConfig(ctx context.Context, projectID string) (*config.Config, error) {
	return e.configFor(ctx, e.Repo, projectID)
}

func (e Engine) configFor(ctx context.Context, r repo.Repo, projectID string) (*config.Config, error) {
	cfg, err := r.GetProjectConfig(ctx, projectID)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("load config of %s: %w", projectID, err)
	}
	if e.Config != nil {
		return e.Config, nil
	}
	return config.Default(projectID), nil
}

type SectionCreateOptions struct {
	ID        string
	ProjectID string
	Name      string
	ActorID   string
}

func (e Engine) CreateSection(ctx context.Context, opts SectionCreateOptions) (domain.Section, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Section{}, invalidf("section name is required")
	}
	if opts.ProjectID == "" {
		return domain.Section{}, invalidf("project is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Section{}, err
	}
	defer tx.Rollback()
	r := e.Repo.WithTx(tx)
	if _, err := r.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Section{}, fmt.Errorf("project %s: %w", opts.ProjectID, err)
	}
	pos, err := r.NextSectionPosition(ctx, opts.ProjectID)
	if err != nil {
		return domain.Section{}, err
	}
	now := e.timestamp()
	id := opts.ID
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.ProjectID+"|section|"+opts.Name+"|"+now)).String()
	}
	s := domain.Section{ID: id, ProjectID: opts.ProjectID, Name: opts.Name, Position: pos, CreatedAt: now}
	if err := r.InsertSection(ctx, s); err != nil {
		return domain.Section{}, fmt.Errorf("insert section: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.SectionCreated, s.ProjectID, events.KindSection, s.ID, actorOrDefault(opts.ActorID), events.EventPayload{"name": s.Name, "position": s.Position}); err != nil {
		return domain.Section{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Section{}, err
	}
	return s, nil
}

func (e Engine) ListSections(ctx context.Context, projectID string) ([]domain.Section, error) {
	return e.Repo.ListSections(ctx, projectID)
}

func (e Engine) LatestEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	return e.Repo.LatestEvents(ctx, f)
}
