package app

import (
	"context"
	"errors"
	"fmt"

	"planline/internal/config"
	"planline/internal/engine"
	"planline/internal/repo"
)

// ResolveProjectAndConfig picks the active project and makes sure it and its
// config exist, seeding defaults when missing. An explicit override wins,
// then the single project in the database, then the workspace planline.yml.
func ResolveProjectAndConfig(ctx context.Context, workspace, projectOverride, actorID string, eng engine.Engine) (string, *config.Config, error) {
	fileCfg, err := config.LoadOptional(workspace)
	if err != nil {
		return "", nil, fmt.Errorf("load %s: %w", config.Path(workspace), err)
	}
	projectID := projectOverride
	if projectID == "" {
		p, err := eng.Repo.SingleProject(ctx)
		switch {
		case err == nil:
			projectID = p.ID
		case errors.Is(err, repo.ErrNotFound) && fileCfg != nil:
			projectID = fileCfg.Project.ID
		case errors.Is(err, repo.ErrNotFound):
			return "", nil, fmt.Errorf("project not specified; use --project or pl project create")
		default:
			return "", nil, err
		}
	}

	seed := config.Default(projectID)
	if fileCfg != nil && fileCfg.Project.ID == projectID {
		seed = fileCfg
	}
	if _, err := eng.Repo.GetProject(ctx, projectID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		eng.Config = seed
		if _, err := eng.InitProject(ctx, projectID, "", actorID); err != nil {
			return "", nil, fmt.Errorf("create project %s: %w", projectID, err)
		}
	}
	cfg, err := eng.Repo.GetProjectConfig(ctx, projectID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := eng.Repo.UpsertProjectConfig(ctx, projectID, seed); err != nil {
			return "", nil, fmt.Errorf("seed project config: %w", err)
		}
		cfg = seed
	}
	cfg.Project.ID = projectID
	return projectID, cfg, nil
}
