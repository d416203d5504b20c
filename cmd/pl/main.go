package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"planline/internal/app"
	"planline/internal/config"
	"planline/internal/db"
	"planline/internal/domain"
	"planline/internal/engine"
	"planline/internal/logging"
	"planline/internal/metrics"
	"planline/internal/migrate"
	"planline/internal/repo"
	"planline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "Planline CLI",
	Long: `Planline keeps roadmap items in per-section trees.
- Workspace: the .planline directory holding the SQLite database.
- Project: owns sections and the hierarchy policy (max depth, composition rules, date envelope).
- Section: a lane of a roadmap; parent and child must share one.
- Item: a task, milestone, goal, ... New items are roots; place them with 'pl item attach'.
- Event log: every mutation is recorded, view with 'pl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.Setup(os.Stderr, viper.GetString("log-level"), true); err != nil {
			return err
		}
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PLANLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides the single project / planline.yml)")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	for _, name := range []string{"workspace", "json", "actor-id", "project", "log-level", "jwt-secret"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(sectionCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(treeCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectListCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var id, desc, file string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default(id)
			if file != "" {
				loaded, err := config.FromFile(file)
				if err != nil {
					return err
				}
				loaded.Project.ID = id
				cfg = loaded
			}
			return withRepo(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				e.Config = cfg
				p, err := e.InitProject(ctx, id, desc, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&file, "config", "", "seed the project config from a YAML file")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.GetProject(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projects, err := e.Repo.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(projects)
				}
				tw := newTable(table.Row{"ID", "Status", "Description", "Created"})
				for _, p := range projects {
					tw.AppendRow(table.Row{p.ID, p.Status, p.Description, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect project config",
		Long:  "Config is stored in the DB per project: default item status and the hierarchy policy (max_depth, traversal_margin, composition rules with per-pair envelope exemptions). Import from planline.yml to change it.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default planline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(projectID)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "project-id", "", "project id")
	_ = cmd.MarkFlagRequired("project-id")
	return cmd
}

func configShowCmd() *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the active project config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if asYAML {
					data, err := config.ToYAML(e.Config)
					if err != nil {
						return err
					}
					_, err = os.Stdout.Write(data)
					return err
				}
				return printJSONOrTable(e.Config)
			})
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print as YAML")
	return cmd
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import project config from YAML into the DB",
		Long:  "The new policy applies to later mutations; existing trees are not re-validated.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID := e.Config.Project.ID
				if cfg.Project.ID != "" && cfg.Project.ID != projectID {
					return fmt.Errorf("config is for project %q, active project is %q", cfg.Project.ID, projectID)
				}
				cfg.Project.ID = projectID
				if err := e.UpdateProjectConfig(ctx, projectID, cfg, viper.GetString("actor-id")); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configValidateCmd() *cobra.Command {
	var filePath string
	var workspaceFile bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the stored config, or a YAML file with --file / --workspace-file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			switch {
			case filePath != "":
				_, err = config.FromFile(filePath)
			case workspaceFile:
				_, err = config.Load(viper.GetString("workspace"))
			default:
				err = withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
					return e.Config.Validate()
				})
			}
			if viper.GetBool("json") {
				out := map[string]any{"ok": err == nil}
				if err != nil {
					out["error"] = err.Error()
				}
				return printJSON(out)
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "YAML file to validate instead of the stored config")
	cmd.Flags().BoolVar(&workspaceFile, "workspace-file", false, "validate planline.yml in the workspace")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show workspace, schema and project status",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			return withRepo(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				version, err := migrate.Version(ctx, e.DB)
				if err != nil {
					return err
				}
				projects, err := e.Repo.ListProjects(ctx)
				if err != nil {
					return err
				}
				fileCfg, err := config.LoadOptional(workspace)
				if err != nil {
					return err
				}
				configFile := ""
				if fileCfg != nil {
					configFile = config.Path(workspace)
				}
				status := map[string]any{
					"database":       db.Path(workspace),
					"schema_version": version,
					"projects":       len(projects),
					"config_file":    configFile,
				}
				if viper.GetBool("json") {
					return printJSON(status)
				}
				tw := newTable(table.Row{"Key", "Value"})
				for _, k := range []string{"database", "schema_version", "projects", "config_file"} {
					tw.AppendRow(table.Row{k, status[k]})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f.ProjectID = e.Config.Project.ID
				f.Limit = n
				evts, err := e.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := newTable(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, ev := range evts {
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind + ":" + ev.EntityID, ev.ActorID, ev.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind (project, section, item)")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func authCmd() *cobra.Command {
	a := &cobra.Command{Use: "auth", Short: "API credentials"}
	a.AddCommand(authTokenCmd())
	return a
}

func authTokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for --actor-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("--jwt-secret or PLANLINE_JWT_SECRET is required")
			}
			actorID := viper.GetString("actor-id")
			token, err := server.SignToken(secret, actorID, ttl, time.Now())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"actor_id": actorID, "token": token})
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for no expiry)")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var legacyActor bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			authCfg := server.AuthConfig{
				JWTSecret:              viper.GetString("jwt-secret"),
				AllowLegacyActorHeader: legacyActor,
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader {
				return fmt.Errorf("PLANLINE_JWT_SECRET is required for bearer auth (or pass --allow-actor-header)")
			}
			conn, err := openDB()
			if err != nil {
				return err
			}
			defer conn.Close()
			e := engine.New(conn, nil)
			e.Metrics = metrics.New()
			if project := viper.GetString("project"); project != "" {
				_, cfg, err := app.ResolveProjectAndConfig(cmd.Context(), viper.GetString("workspace"), project, viper.GetString("actor-id"), e)
				if err != nil {
					return err
				}
				e.Config = cfg
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(ctx)
			}()
			logging.Component("cli").Info().Str("addr", addr).Str("base_path", basePath).Msg("serving planline api")
			fmt.Printf("Serving Planline API on http://%s%s (OpenAPI at %s/openapi.json, metrics at /metrics)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&legacyActor, "allow-actor-header", false, "accept X-Actor-Id without a token")
	return cmd
}

// --- helpers ---

func openDB() (*sql.DB, error) {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// withEngine runs fn against the active project, creating it from
// planline.yml or defaults when it does not exist yet.
func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withRepo(ctx, func(ctx context.Context, e engine.Engine) error {
		_, cfg, err := app.ResolveProjectAndConfig(ctx, viper.GetString("workspace"), viper.GetString("project"), viper.GetString("actor-id"), e)
		if err != nil {
			return err
		}
		e.Config = cfg
		return fn(ctx, e)
	})
}

// withRepo runs fn without resolving a project.
func withRepo(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	conn, err := openDB()
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, engine.New(conn, nil))
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printItems(items []domain.Item) error {
	if viper.GetBool("json") {
		if items == nil {
			items = []domain.Item{}
		}
		return printJSON(items)
	}
	tw := newTable(table.Row{"ID", "Type", "Title", "Status", "Parent", "Depth", "Start", "End"})
	for _, it := range items {
		tw.AppendRow(table.Row{it.ID, it.Type, it.Title, it.Status, derefString(it.ParentItemID), it.ItemDepth, formatDate(it.StartDate), formatDate(it.EndDate)})
	}
	tw.Render()
	return nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.DateOnly)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
