package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"projectops/internal/app"
	"projectops/internal/domain"
	"projectops/internal/engine"
	"projectops/internal/engine/auth"
	"projectops/internal/params"
	"projectops/internal/repo"
)

func assignmentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "assignment", Aliases: []string{"assign"}, Short: "Book people onto projects"}
	cmd.AddCommand(assignmentListCmd())
	cmd.AddCommand(assignmentCreateCmd())
	cmd.AddCommand(assignmentUpdateCmd())
	cmd.AddCommand(assignmentEndCmd())
	cmd.AddCommand(assignmentDeleteCmd())
	cmd.AddCommand(workloadCmd())
	return cmd
}

type assignmentFlags struct {
	personID, projectID, sprintID, profileID int64
	hours                                    float64
	rate, start, end                         string
}

func (f *assignmentFlags) bind(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&f.personID, "person-id", 0, "person")
	cmd.Flags().Int64Var(&f.projectID, "project-id", 0, "project")
	cmd.Flags().Int64Var(&f.sprintID, "sprint-id", 0, "sprint of the project (0 clears)")
	cmd.Flags().Int64Var(&f.profileID, "profile-id", 0, "billing profile (0 clears)")
	cmd.Flags().Float64Var(&f.hours, "hours", 0, "dedication hours")
	cmd.Flags().StringVar(&f.rate, "rate", "", "hourly rate override")
	cmd.Flags().StringVar(&f.start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.end, "end", "", "end date (YYYY-MM-DD, empty clears)")
}

func (f *assignmentFlags) apply(cmd *cobra.Command, in *engine.AssignmentInput) error {
	changed := cmd.Flags().Changed
	if changed("person-id") {
		in.PersonID = f.personID
	}
	if changed("project-id") {
		in.ProjectID = f.projectID
	}
	if changed("sprint-id") {
		in.SprintID = optionalID(f.sprintID)
	}
	if changed("profile-id") {
		in.ProfileID = optionalID(f.profileID)
	}
	if changed("hours") {
		in.DedicationHours = f.hours
	}
	if changed("rate") {
		r, err := parseMoney("rate", f.rate)
		if err != nil {
			return err
		}
		in.Rate = r
	}
	if changed("start") {
		in.StartDate = f.start
	}
	if changed("end") {
		in.EndDate = optionalString(f.end)
	}
	return nil
}

// reportResult prints the write outcome, warning on stderr when the person
// now sits on more projects than the configured threshold.
func reportResult(res engine.AssignmentResult) error {
	if res.OverProjects {
		fmt.Fprintf(os.Stderr, "warning: person %d is now on %d active projects (threshold %d)\n",
			res.Assignment.PersonID, res.ProjectCount, res.Threshold)
	}
	if wantJSON() {
		return printJSON(res)
	}
	fmt.Printf("assignment %d: %.1fh on %s, person load %.1f -> %.1f of %.0f hours\n",
		res.AssignmentID, res.Assignment.DedicationHours, res.Assignment.ProjectName,
		res.CurrentHours, res.TotalHours, engine.MaxActiveHours)
	return nil
}

func assignmentCreateCmd() *cobra.Command {
	var f assignmentFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an assignment",
		RunE: func(cmd *cobra.Command, args []string) error {
			var in engine.AssignmentInput
			if err := f.apply(cmd, &in); err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, actor auth.Principal) error {
				if in.StartDate == "" {
					in.StartDate = a.Engine.Now().Format(domain.DateLayout)
				}
				res, err := a.Engine.CreateAssignment(ctx, actor, in)
				if err != nil {
					return err
				}
				return reportResult(res)
			})
		},
	}
	f.bind(cmd)
	_ = cmd.MarkFlagRequired("person-id")
	_ = cmd.MarkFlagRequired("project-id")
	_ = cmd.MarkFlagRequired("hours")
	return cmd
}

func assignmentUpdateCmd() *cobra.Command {
	var f assignmentFlags
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update an assignment; unset flags keep their value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, actor auth.Principal) error {
				cur, err := a.Engine.GetAssignment(ctx, id)
				if err != nil {
					return err
				}
				in := engine.AssignmentInput{
					PersonID:        cur.PersonID,
					ProjectID:       cur.ProjectID,
					SprintID:        cur.SprintID,
					ProfileID:       cur.ProfileID,
					DedicationHours: cur.DedicationHours,
					Rate:            cur.Rate,
					StartDate:       cur.StartDate,
					EndDate:         cur.EndDate,
				}
				if err := f.apply(cmd, &in); err != nil {
					return err
				}
				res, err := a.Engine.UpdateAssignment(ctx, actor, id, in)
				if err != nil {
					return err
				}
				return reportResult(res)
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func assignmentEndCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "end <id>",
		Short: "Set an assignment's end date (today by default)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, actor auth.Principal) error {
				end := date
				if end == "" {
					end = a.Engine.Now().Format(domain.DateLayout)
				}
				asg, err := a.Engine.EndAssignment(ctx, actor, id, end)
				if err != nil {
					return err
				}
				return printJSON(asg)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "end date (YYYY-MM-DD)")
	return cmd
}

func assignmentDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, actor auth.Principal) error {
				if err := a.Engine.DeleteAssignment(ctx, actor, id); err != nil {
					return err
				}
				fmt.Printf("assignment %d deleted\n", id)
				return nil
			})
		},
	}
}

func assignmentListCmd() *cobra.Command {
	var q engine.AssignmentQuery
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, _ auth.Principal) error {
				items, err := a.Engine.ListAssignments(ctx, q)
				if err != nil {
					return err
				}
				return render(items, table.Row{"ID", "Person", "Project", "Sprint", "Profile", "Hours", "Rate", "Start", "End"}, func() []table.Row {
					rows := make([]table.Row, 0, len(items))
					for _, x := range items {
						rows = append(rows, table.Row{x.ID, x.PersonName, x.ProjectName, deref(x.SprintName), deref(x.ProfileName),
							x.DedicationHours, money(x.Rate), x.StartDate, deref(x.EndDate)})
					}
					return rows
				})
			})
		},
	}
	cmd.Flags().Int64Var(&q.PersonID, "person-id", 0, "filter by person")
	cmd.Flags().Int64Var(&q.ProjectID, "project-id", 0, "filter by project")
	cmd.Flags().Int64Var(&q.SprintID, "sprint-id", 0, "filter by sprint")
	cmd.Flags().BoolVar(&q.ActiveOnly, "active", false, "only rows still counting toward workload")
	cmd.Flags().BoolVar(&q.EndedOnly, "ended", false, "only rows that ended before today")
	return cmd
}

func workloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workload <person-id>",
		Short: "Show a person's active hours and project count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, _ auth.Principal) error {
				w, err := a.Engine.Workload(ctx, id)
				if err != nil {
					return err
				}
				threshold := a.Engine.Params.Int(ctx, nil, params.OverloadProjectsThreshold, params.DefaultOverloadProjectsThreshold)
				if w.ProjectCount > threshold {
					fmt.Fprintf(os.Stderr, "warning: over_projects (%d active projects, threshold %d)\n", w.ProjectCount, threshold)
				}
				out := struct {
					domain.Workload
					LimitHours     float64 `json:"limit_hours"`
					RemainingHours float64 `json:"remaining_hours"`
					Threshold      int     `json:"threshold"`
				}{w, engine.MaxActiveHours, engine.MaxActiveHours - w.TotalHours, threshold}
				return render(out, table.Row{"Person", "Active hours", "Remaining", "Projects", "Threshold"}, func() []table.Row {
					return []table.Row{{w.PersonID, w.TotalHours, out.RemainingHours, w.ProjectCount, threshold}}
				})
			})
		},
	}
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "report", Short: "Portfolio reports"}
	cmd.AddCommand(&cobra.Command{
		Use:   "portfolio",
		Short: "Portfolio totals and average cost deviation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, _ auth.Principal) error {
				p, err := a.Engine.PortfolioOverview(ctx)
				if err != nil {
					return err
				}
				return render(p, table.Row{"Projects", "Active", "Closed", "Estimated", "Real", "Avg deviation", "Band"}, func() []table.Row {
					return []table.Row{{p.Projects, p.ActiveProjects, p.ClosedProjects, p.EstimatedTotal.StringFixed(2),
						p.RealTotal.StringFixed(2), fmt.Sprintf("%+.1f%%", p.AverageDeviation*100), p.Band}}
				})
			})
		},
	})
	cmd.AddCommand(costsCmd())
	cmd.AddCommand(topWorkloadCmd())
	return cmd
}

func costsCmd() *cobra.Command {
	var f repo.ProjectFilter
	cmd := &cobra.Command{
		Use:   "costs",
		Short: "Estimated against real cost per project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, _ auth.Principal) error {
				rows, err := a.Engine.CostTable(ctx, f)
				if err != nil {
					return err
				}
				return render(rows, table.Row{"ID", "Project", "Status", "Estimated", "Real", "Deviation", "Band"}, func() []table.Row {
					out := make([]table.Row, 0, len(rows))
					for _, r := range rows {
						out = append(out, table.Row{r.ProjectID, r.Name, r.Status, r.Estimated.StringFixed(2), money(r.Real),
							fmt.Sprintf("%+.1f%%", r.Deviation*100), r.Band})
					}
					return out
				})
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "filter by status")
	cmd.Flags().StringVar(&f.Client, "client", "", "filter by client")
	return cmd
}

func topWorkloadCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "top",
		Short: "People with the most active hours",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, _ auth.Principal) error {
				rows, err := a.Engine.TopWorkload(ctx, n)
				if err != nil {
					return err
				}
				return render(rows, table.Row{"Person", "Name", "Active hours", "Projects"}, func() []table.Row {
					out := make([]table.Row, 0, len(rows))
					for _, r := range rows {
						out = append(out, table.Row{r.PersonID, r.PersonName, r.TotalHours, r.ProjectCount})
					}
					return out
				})
			})
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 10, "number of rows")
	return cmd
}
