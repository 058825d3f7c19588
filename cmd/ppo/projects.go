package main

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"projectops/internal/app"
	"projectops/internal/domain"
	"projectops/internal/engine"
	"projectops/internal/engine/auth"
	"projectops/internal/repo"
)

func projectCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "project", Short: "Manage projects"}
	cmd.AddCommand(projectListCmd())
	cmd.AddCommand(projectShowCmd())
	cmd.AddCommand(projectCreateCmd())
	cmd.AddCommand(projectUpdateCmd())
	cmd.AddCommand(projectCloseCmd())
	cmd.AddCommand(projectDeleteCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "clients",
		Short: "List distinct clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, _ auth.Principal) error {
				clients, err := a.Engine.ProjectClients(ctx)
				if err != nil {
					return err
				}
				return printJSON(clients)
			})
		},
	})
	return cmd
}

type projectFlags struct {
	name, client, start, estimatedEnd string
	status, budget                    string
	country, category, description    string
	leaderID                          int64
}

func (f *projectFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "project name")
	cmd.Flags().StringVar(&f.client, "client", "", "client")
	cmd.Flags().StringVar(&f.start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.estimatedEnd, "estimated-end", "", "estimated end date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.status, "status", "", "status: Draft, Active or Paused")
	cmd.Flags().StringVar(&f.budget, "budget", "", "estimated budget")
	cmd.Flags().StringVar(&f.country, "country", "", "country")
	cmd.Flags().StringVar(&f.category, "category", "", "category")
	cmd.Flags().StringVar(&f.description, "description", "", "description")
	cmd.Flags().Int64Var(&f.leaderID, "leader-id", 0, "leader person id")
}

func (f *projectFlags) apply(cmd *cobra.Command, in *engine.ProjectInput) error {
	changed := cmd.Flags().Changed
	if changed("name") {
		in.Name = f.name
	}
	if changed("start") {
		in.StartDate = f.start
	}
	if changed("estimated-end") {
		in.EstimatedEndDate = f.estimatedEnd
	}
	if changed("status") {
		in.Status = f.status
	}
	if changed("budget") {
		b, err := parseRequiredMoney("budget", f.budget)
		if err != nil {
			return err
		}
		in.Budget = b
	}
	if changed("client") {
		in.Client = optionalString(f.client)
	}
	if changed("country") {
		in.Country = optionalString(f.country)
	}
	if changed("category") {
		in.Category = optionalString(f.category)
	}
	if changed("description") {
		in.Description = optionalString(f.description)
	}
	if changed("leader-id") {
		in.LeaderID = optionalID(f.leaderID)
	}
	return nil
}

func projectListCmd() *cobra.Command {
	var f repo.ProjectFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, _ auth.Principal) error {
				items, err := a.Engine.ListProjects(ctx, f)
				if err != nil {
					return err
				}
				return render(items, table.Row{"ID", "Name", "Client", "Status", "Start", "Est. end", "Budget", "Real cost"}, func() []table.Row {
					rows := make([]table.Row, 0, len(items))
					for _, p := range items {
						rows = append(rows, table.Row{p.ID, p.Name, deref(p.Client), p.Status, p.StartDate, p.EstimatedEndDate, p.Budget.StringFixed(2), money(p.RealCost)})
					}
					return rows
				})
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "filter by status")
	cmd.Flags().StringVar(&f.Client, "client", "", "filter by client")
	cmd.Flags().StringVar(&f.Search, "search", "", "search name")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, _ auth.Principal) error {
				p, err := a.Engine.GetProject(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
}

func projectCreateCmd() *cobra.Command {
	var f projectFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			var in engine.ProjectInput
			if err := f.apply(cmd, &in); err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, actor auth.Principal) error {
				p, err := a.Engine.CreateProject(ctx, actor, in)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	f.bind(cmd)
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("estimated-end")
	_ = cmd.MarkFlagRequired("budget")
	return cmd
}

func projectInputOf(p domain.Project) engine.ProjectInput {
	return engine.ProjectInput{
		Name:             p.Name,
		Client:           p.Client,
		LeaderID:         p.LeaderID,
		StartDate:        p.StartDate,
		EstimatedEndDate: p.EstimatedEndDate,
		Status:           p.Status,
		Budget:           p.Budget,
		Country:          p.Country,
		Category:         p.Category,
		Description:      p.Description,
	}
}

func projectUpdateCmd() *cobra.Command {
	var f projectFlags
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a project; unset flags keep their value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, actor auth.Principal) error {
				cur, err := a.Engine.GetProject(ctx, id)
				if err != nil {
					return err
				}
				in := projectInputOf(cur)
				if err := f.apply(cmd, &in); err != nil {
					return err
				}
				p, err := a.Engine.UpdateProject(ctx, actor, id, in)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func projectCloseCmd() *cobra.Command {
	var realCost, endDate string
	cmd := &cobra.Command{
		Use:   "close <id>",
		Short: "Close a project recording its real cost",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			cost, err := parseRequiredMoney("real-cost", realCost)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, actor auth.Principal) error {
				end := endDate
				if end == "" {
					end = a.Engine.Now().Format(domain.DateLayout)
				}
				p, err := a.Engine.CloseProject(ctx, actor, id, cost, end)
				if err != nil {
					return err
				}
				dev := engine.Deviation(p.RealCost, p.Budget)
				fmt.Fprintf(os.Stderr, "deviation %+.1f%%\n", dev*100)
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&realCost, "real-cost", "", "real cost")
	cmd.Flags().StringVar(&endDate, "end-date", "", "end date (defaults to today)")
	_ = cmd.MarkFlagRequired("real-cost")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a project with its sprints, assignments and documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, actor auth.Principal) error {
				if err := a.Engine.DeleteProject(ctx, actor, id); err != nil {
					return err
				}
				fmt.Printf("project %d deleted\n", id)
				return nil
			})
		},
	}
}

func sprintCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "sprint", Short: "Manage sprints"}
	cmd.AddCommand(sprintListCmd())
	cmd.AddCommand(sprintCreateCmd())
	cmd.AddCommand(sprintUpdateCmd())
	cmd.AddCommand(sprintCloseCmd())
	cmd.AddCommand(sprintDeleteCmd())
	return cmd
}

func sprintListCmd() *cobra.Command {
	var f repo.SprintFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sprints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, _ auth.Principal) error {
				items, err := a.Engine.ListSprints(ctx, f)
				if err != nil {
					return err
				}
				return render(items, table.Row{"ID", "Project", "Name", "Start", "End", "Status", "Estimated", "Real"}, func() []table.Row {
					rows := make([]table.Row, 0, len(items))
					for _, s := range items {
						rows = append(rows, table.Row{s.ID, s.ProjectName, s.Name, s.StartDate, s.EndDate, s.Status, s.EstimatedCost.StringFixed(2), money(s.RealCost)})
					}
					return rows
				})
			})
		},
	}
	cmd.Flags().Int64Var(&f.ProjectID, "project-id", 0, "filter by project")
	cmd.Flags().StringVar(&f.Status, "status", "", "filter by status")
	cmd.Flags().StringVar(&f.Search, "search", "", "search name")
	return cmd
}

type sprintFlags struct {
	projectID                      int64
	name, start, end, cost, status string
	activities                     string
}

func (f *sprintFlags) bind(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&f.projectID, "project-id", 0, "owning project")
	cmd.Flags().StringVar(&f.name, "name", "", "sprint name")
	cmd.Flags().StringVar(&f.start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.end, "end", "", "end date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.cost, "estimated-cost", "", "estimated cost")
	cmd.Flags().StringVar(&f.status, "status", "", "status: Planned or InProgress")
	cmd.Flags().StringVar(&f.activities, "activities", "", "activities")
}

func (f *sprintFlags) apply(cmd *cobra.Command, in *engine.SprintInput) error {
	changed := cmd.Flags().Changed
	if changed("project-id") {
		in.ProjectID = f.projectID
	}
	if changed("name") {
		in.Name = f.name
	}
	if changed("start") {
		in.StartDate = f.start
	}
	if changed("end") {
		in.EndDate = f.end
	}
	if changed("status") {
		in.Status = f.status
	}
	if changed("activities") {
		in.Activities = optionalString(f.activities)
	}
	if changed("estimated-cost") {
		c, err := parseRequiredMoney("estimated-cost", f.cost)
		if err != nil {
			return err
		}
		in.EstimatedCost = c
	}
	return nil
}

func sprintCreateCmd() *cobra.Command {
	var f sprintFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a sprint in a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			var in engine.SprintInput
			if err := f.apply(cmd, &in); err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, actor auth.Principal) error {
				s, err := a.Engine.CreateSprint(ctx, actor, in)
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	f.bind(cmd)
	_ = cmd.MarkFlagRequired("project-id")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func sprintUpdateCmd() *cobra.Command {
	var f sprintFlags
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a sprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, actor auth.Principal) error {
				cur, err := a.Engine.GetSprint(ctx, id)
				if err != nil {
					return err
				}
				in := engine.SprintInput{
					ProjectID:     cur.ProjectID,
					Name:          cur.Name,
					StartDate:     cur.StartDate,
					EndDate:       cur.EndDate,
					EstimatedCost: cur.EstimatedCost,
					Status:        cur.Status,
					Activities:    cur.Activities,
				}
				if err := f.apply(cmd, &in); err != nil {
					return err
				}
				s, err := a.Engine.UpdateSprint(ctx, actor, id, in)
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func sprintCloseCmd() *cobra.Command {
	var realCost string
	cmd := &cobra.Command{
		Use:   "close <id>",
		Short: "Close a sprint recording its real cost",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			cost, err := parseRequiredMoney("real-cost", realCost)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, actor auth.Principal) error {
				s, err := a.Engine.CloseSprint(ctx, actor, id, cost)
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	cmd.Flags().StringVar(&realCost, "real-cost", "", "real cost")
	_ = cmd.MarkFlagRequired("real-cost")
	return cmd
}

func sprintDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a sprint and its assignments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, actor auth.Principal) error {
				if err := a.Engine.DeleteSprint(ctx, actor, id); err != nil {
					return err
				}
				fmt.Printf("sprint %d deleted\n", id)
				return nil
			})
		},
	}
}

func documentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "document", Short: "Manage project documents"}
	cmd.AddCommand(documentListCmd())
	cmd.AddCommand(documentUploadCmd())
	cmd.AddCommand(documentDownloadCmd())
	cmd.AddCommand(documentDeleteCmd())
	return cmd
}

func documentListCmd() *cobra.Command {
	var f repo.DocumentFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, _ auth.Principal) error {
				items, err := a.Engine.ListDocuments(ctx, f)
				if err != nil {
					return err
				}
				return render(items, table.Row{"ID", "Project", "File", "Size", "Amount", "Tax", "Date", "Uploaded"}, func() []table.Row {
					rows := make([]table.Row, 0, len(items))
					for _, d := range items {
						size := "-"
						if d.SizeBytes != nil {
							size = humanize.Bytes(uint64(*d.SizeBytes))
						}
						rows = append(rows, table.Row{d.ID, d.ProjectID, d.FileName, size, money(d.Amount), money(d.Tax), deref(d.DocumentDate), d.UploadedAt})
					}
					return rows
				})
			})
		},
	}
	cmd.Flags().Int64Var(&f.ProjectID, "project-id", 0, "filter by project")
	cmd.Flags().StringVar(&f.Search, "search", "", "search file name or description")
	return cmd
}

func documentUploadCmd() *cobra.Command {
	var projectID int64
	var file, name, description, mimeType, amount, tax, date string
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload a file to a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := parseMoney("amount", amount)
			if err != nil {
				return err
			}
			tx, err := parseMoney("tax", tax)
			if err != nil {
				return err
			}
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()
			st, err := f.Stat()
			if err != nil {
				return err
			}
			if name == "" {
				name = filepath.Base(file)
			}
			if mimeType == "" {
				mimeType = mime.TypeByExtension(filepath.Ext(name))
			}
			in := engine.DocumentInput{
				ProjectID:    projectID,
				FileName:     name,
				Description:  optionalString(description),
				MimeType:     optionalString(mimeType),
				Amount:       amt,
				Tax:          tx,
				DocumentDate: optionalString(date),
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, actor auth.Principal) error {
				d, err := a.Engine.UploadDocument(ctx, actor, in, f, st.Size())
				if err != nil {
					return err
				}
				return printJSON(d)
			})
		},
	}
	cmd.Flags().Int64Var(&projectID, "project-id", 0, "owning project")
	cmd.Flags().StringVar(&file, "file", "", "path of the file to upload")
	cmd.Flags().StringVar(&name, "name", "", "stored file name (defaults to the base name)")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&mimeType, "mime", "", "content type (guessed from the extension)")
	cmd.Flags().StringVar(&amount, "amount", "", "invoice amount")
	cmd.Flags().StringVar(&tax, "tax", "", "invoice tax")
	cmd.Flags().StringVar(&date, "date", "", "document date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("project-id")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func documentDownloadCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "download <id>",
		Short: "Write a document's content to a file or stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, _ auth.Principal) error {
				d, rc, err := a.Engine.OpenDocument(ctx, id)
				if err != nil {
					return err
				}
				defer rc.Close()
				var w io.Writer = os.Stdout
				if out != "" {
					f, err := os.Create(out)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				n, err := io.Copy(w, rc)
				if err != nil {
					return err
				}
				if out != "" {
					fmt.Fprintf(os.Stderr, "%s: %s written to %s\n", d.FileName, humanize.Bytes(uint64(n)), out)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output path (stdout when empty)")
	return cmd
}

func documentDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a document and its stored file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, actor auth.Principal) error {
				if err := a.Engine.DeleteDocument(ctx, actor, id); err != nil {
					return err
				}
				fmt.Printf("document %d deleted\n", id)
				return nil
			})
		},
	}
}
