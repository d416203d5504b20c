package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"planline/internal/domain"
	"planline/internal/engine"
	"planline/internal/repo"
)

func sectionCmd() *cobra.Command {
	s := &cobra.Command{Use: "section", Short: "Manage sections"}
	s.AddCommand(sectionCreateCmd())
	s.AddCommand(sectionListCmd())
	return s
}

func sectionCreateCmd() *cobra.Command {
	var opts engine.SectionCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create section",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ProjectID = e.Config.Project.ID
				opts.ActorID = viper.GetString("actor-id")
				s, err := e.CreateSection(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "section id (generated when empty)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "section name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func sectionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sections",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sections, err := e.ListSections(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sections)
				}
				tw := newTable(table.Row{"ID", "Name", "Position"})
				for _, s := range sections {
					tw.AppendRow(table.Row{s.ID, s.Name, s.Position})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func itemCmd() *cobra.Command {
	it := &cobra.Command{Use: "item", Short: "Manage roadmap items"}
	it.AddCommand(itemCreateCmd())
	it.AddCommand(itemGetCmd())
	it.AddCommand(itemListCmd())
	it.AddCommand(itemDeleteCmd())
	it.AddCommand(itemAttachCmd())
	it.AddCommand(itemDetachCmd())
	it.AddCommand(itemMoveCmd())
	it.AddCommand(itemPathCmd())
	it.AddCommand(itemRootCmd())
	it.AddCommand(itemChildrenCmd())
	it.AddCommand(itemDescendantsCmd())
	return it
}

func itemCreateCmd() *cobra.Command {
	var opts engine.ItemCreateOptions
	var itemType, status, start, end string
	var meta []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a root item",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if opts.StartDate, err = parseDateFlag("start", start); err != nil {
				return err
			}
			if opts.EndDate, err = parseDateFlag("end", end); err != nil {
				return err
			}
			if len(meta) > 0 {
				opts.Metadata = map[string]string{}
				for _, kv := range meta {
					k, v, ok := strings.Cut(kv, "=")
					if !ok {
						return fmt.Errorf("--meta %q: expected key=value", kv)
					}
					opts.Metadata[k] = v
				}
			}
			opts.Type = domain.ItemType(itemType)
			opts.Status = domain.ItemStatus(status)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ProjectID = e.Config.Project.ID
				opts.ActorID = viper.GetString("actor-id")
				it, err := e.CreateItem(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "item id (generated when empty)")
	cmd.Flags().StringVar(&opts.SectionID, "section", "", "section id")
	cmd.Flags().StringVar(&itemType, "type", string(domain.ItemTypeTask), "item type")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "status (project default when empty)")
	cmd.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "end date (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "metadata key=value (repeatable)")
	_ = cmd.MarkFlagRequired("section")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func itemGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.GetItem(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
}

func itemListCmd() *cobra.Command {
	var f repo.ItemFilters
	var itemType, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f.ProjectID = e.Config.Project.ID
				f.Type = domain.ItemType(itemType)
				f.Status = domain.ItemStatus(status)
				items, err := e.ListItems(ctx, f)
				if err != nil {
					return err
				}
				return printItems(items)
			})
		},
	}
	cmd.Flags().StringVar(&f.SectionID, "section", "", "section filter")
	cmd.Flags().StringVar(&f.ParentID, "parent", "", "parent item filter")
	cmd.Flags().StringVar(&itemType, "type", "", "type filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 200, "max items")
	return cmd
}

func itemDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an item; its children become roots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteItem(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"deleted": args[0]})
			})
		},
	}
}

func itemAttachCmd() *cobra.Command {
	var parent string
	cmd := &cobra.Command{
		Use:   "attach <id>",
		Short: "Attach a root item under --parent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printMutation(e.AttachChildItem(ctx, engine.AttachInput{
					ChildItemID:  args[0],
					ParentItemID: parent,
					ActorID:      viper.GetString("actor-id"),
				}))
			})
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "parent item id")
	_ = cmd.MarkFlagRequired("parent")
	return cmd
}

func itemDetachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detach <id>",
		Short: "Detach an item from its parent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printMutation(e.DetachChildItem(ctx, engine.DetachInput{
					ChildItemID: args[0],
					ActorID:     viper.GetString("actor-id"),
				}))
			})
		},
	}
}

func itemMoveCmd() *cobra.Command {
	var parent string
	cmd := &cobra.Command{
		Use:   "move <id>",
		Short: "Move an item under --parent, or to the root when --parent is empty",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printMutation(e.MoveItemToNewParent(ctx, engine.MoveInput{
					ItemID:      args[0],
					NewParentID: optionalString(parent),
					ActorID:     viper.GetString("actor-id"),
				}))
			})
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "new parent item id")
	return cmd
}

func itemPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path <id>",
		Short: "Show the ancestor chain, root first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				path, err := e.GetItemPath(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(path)
				}
				titles := make([]string, 0, len(path))
				for _, p := range path {
					titles = append(titles, p.Title)
				}
				fmt.Println(strings.Join(titles, " > "))
				return nil
			})
		},
	}
}

func itemRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "root <id>",
		Short: "Show the topmost ancestor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				root, err := e.GetRoot(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(root)
			})
		},
	}
}

func itemChildrenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "children <id>",
		Short: "List direct children",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.GetChildren(ctx, args[0])
				if err != nil {
					return err
				}
				return printItems(items)
			})
		},
	}
}

func itemDescendantsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "descendants <id>",
		Short: "List all descendants, breadth first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.GetAllDescendants(ctx, args[0])
				if err != nil {
					return err
				}
				return printItems(items)
			})
		},
	}
}

func treeCmd() *cobra.Command {
	var f domain.TreeFilter
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Show the roadmap tree of the project, a section or an item",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.ItemID == "" && f.SectionID == "" {
					f.ProjectID = e.Config.Project.ID
				}
				forest, err := e.GetRoadmapItemTree(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					if forest == nil {
						forest = []*domain.TreeNode{}
					}
					return printJSON(forest)
				}
				for i, n := range forest {
					printItemTree(n, "", i == len(forest)-1)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.SectionID, "section", "", "section id")
	cmd.Flags().StringVar(&f.ItemID, "item", "", "subtree root item id")
	cmd.Flags().BoolVar(&f.IncludeArchived, "include-archived", false, "include archived subtrees")
	return cmd
}

// printMutation turns a failed MutationResult into the command's error.
func printMutation(res engine.MutationResult) error {
	if viper.GetBool("json") {
		if err := printJSON(res); err != nil {
			return err
		}
		return res.Err()
	}
	if err := res.Err(); err != nil {
		return err
	}
	it := res.Item
	fmt.Printf("%s %q parent=%s depth=%d", it.ID, it.Title, orDash(derefString(it.ParentItemID)), it.ItemDepth)
	if res.Repaired > 0 {
		fmt.Printf(" repaired=%d", res.Repaired)
	}
	fmt.Println()
	return nil
}

func printItemTree(n *domain.TreeNode, prefix string, last bool) {
	connector := "├── "
	newPrefix := prefix + "│   "
	if last {
		connector = "└── "
		newPrefix = prefix + "    "
	}
	fmt.Printf("%s%s%s [%s, %s] %s\n", prefix, connector, n.Item.Title, n.Item.Type, n.Item.Status, n.Item.ID)
	for i, c := range n.Children {
		printItemTree(c, newPrefix, i == len(n.Children)-1)
	}
}

func parseDateFlag(name, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("--%s %q: expected YYYY-MM-DD or RFC3339", name, raw)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
