package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"projectops/internal/app"
	"projectops/internal/domain"
	"projectops/internal/engine"
	"projectops/internal/engine/auth"
	"projectops/internal/repo"
)

func personCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "person", Short: "Manage persons"}
	cmd.AddCommand(personListCmd())
	cmd.AddCommand(personShowCmd())
	cmd.AddCommand(personCreateCmd())
	cmd.AddCommand(personUpdateCmd())
	cmd.AddCommand(personActiveCmd("activate", true))
	cmd.AddCommand(personActiveCmd("deactivate", false))
	cmd.AddCommand(personDeleteCmd())
	cmd.AddCommand(leaderListCmd())
	return cmd
}

type personFlags struct {
	name, role, hourlyCost           string
	docType, docNumber, phone, email string
	country, seniority, validFrom    string
	leaderID                         int64
}

func (f *personFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "full name")
	cmd.Flags().StringVar(&f.role, "role", "", "role from the role catalog")
	cmd.Flags().StringVar(&f.hourlyCost, "hourly-cost", "", "hourly cost")
	cmd.Flags().StringVar(&f.docType, "doc-type", "", "identity document type")
	cmd.Flags().StringVar(&f.docNumber, "doc-number", "", "identity document number")
	cmd.Flags().StringVar(&f.phone, "phone", "", "phone")
	cmd.Flags().StringVar(&f.email, "email", "", "email")
	cmd.Flags().StringVar(&f.country, "country", "", "country")
	cmd.Flags().StringVar(&f.seniority, "seniority", "", "seniority")
	cmd.Flags().StringVar(&f.validFrom, "valid-from", "", "valid from (YYYY-MM-DD)")
	cmd.Flags().Int64Var(&f.leaderID, "leader-id", 0, "leader person id")
}

// apply copies the flags the user set onto in.
func (f *personFlags) apply(cmd *cobra.Command, in *engine.PersonInput) error {
	changed := cmd.Flags().Changed
	if changed("name") {
		in.Name = f.name
	}
	if changed("role") {
		in.Role = f.role
	}
	if changed("hourly-cost") {
		v, err := parseMoney("hourly-cost", f.hourlyCost)
		if err != nil {
			return err
		}
		in.HourlyCost = v
	}
	set := func(flag string, dst **string, v string) {
		if changed(flag) {
			*dst = optionalString(v)
		}
	}
	set("doc-type", &in.DocumentType, f.docType)
	set("doc-number", &in.DocumentNumber, f.docNumber)
	set("phone", &in.Phone, f.phone)
	set("email", &in.Email, f.email)
	set("country", &in.Country, f.country)
	set("seniority", &in.Seniority, f.seniority)
	set("valid-from", &in.ValidFrom, f.validFrom)
	if changed("leader-id") {
		in.LeaderID = optionalID(f.leaderID)
	}
	return nil
}

func personInputOf(p domain.Person) engine.PersonInput {
	active := p.Active
	return engine.PersonInput{
		Name:           p.Name,
		Role:           p.Role,
		HourlyCost:     p.HourlyCost,
		DocumentType:   p.DocumentType,
		DocumentNumber: p.DocumentNumber,
		Phone:          p.Phone,
		Email:          p.Email,
		Country:        p.Country,
		Seniority:      p.Seniority,
		LeaderID:       p.LeaderID,
		ValidFrom:      p.ValidFrom,
		Active:         &active,
	}
}

func renderPersons(items []domain.Person) error {
	return render(items, table.Row{"ID", "Name", "Role", "Hourly cost", "Leader", "Active"}, func() []table.Row {
		rows := make([]table.Row, 0, len(items))
		for _, p := range items {
			rows = append(rows, table.Row{p.ID, p.Name, p.Role, money(p.HourlyCost), deref(p.LeaderName), yesNo(p.Active)})
		}
		return rows
	})
}

func personListCmd() *cobra.Command {
	var role, search, active string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persons",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := repo.PersonFilter{Role: role, Search: search}
			switch active {
			case "":
			case "true", "false":
				v := active == "true"
				f.Active = &v
			default:
				return fmt.Errorf("--active must be true or false")
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, _ auth.Principal) error {
				items, err := a.Engine.ListPersons(ctx, f)
				if err != nil {
					return err
				}
				return renderPersons(items)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "filter by role")
	cmd.Flags().StringVar(&search, "search", "", "search name or email")
	cmd.Flags().StringVar(&active, "active", "", "filter by active (true|false)")
	return cmd
}

func leaderListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leaders",
		Short: "List active persons eligible as leaders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, _ auth.Principal) error {
				items, err := a.Engine.ListLeaders(ctx)
				if err != nil {
					return err
				}
				return renderPersons(items)
			})
		},
	}
}

func personShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a person with current workload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, _ auth.Principal) error {
				p, err := a.Engine.GetPerson(ctx, id)
				if err != nil {
					return err
				}
				w, err := a.Engine.Workload(ctx, id)
				if err != nil {
					return err
				}
				out := struct {
					domain.Person
					Workload domain.Workload `json:"workload"`
				}{p, w}
				return render(out, table.Row{"Field", "Value"}, func() []table.Row {
					return []table.Row{
						{"ID", p.ID},
						{"Name", p.Name},
						{"Role", p.Role},
						{"Hourly cost", money(p.HourlyCost)},
						{"Email", deref(p.Email)},
						{"Leader", deref(p.LeaderName)},
						{"Active", yesNo(p.Active)},
						{"Active hours", fmt.Sprintf("%.1f / %.0f", w.TotalHours, engine.MaxActiveHours)},
						{"Active projects", w.ProjectCount},
					}
				})
			})
		},
	}
}

func personCreateCmd() *cobra.Command {
	var f personFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a person",
		RunE: func(cmd *cobra.Command, args []string) error {
			var in engine.PersonInput
			if err := f.apply(cmd, &in); err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, actor auth.Principal) error {
				p, err := a.Engine.CreatePerson(ctx, actor, in)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	f.bind(cmd)
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func personUpdateCmd() *cobra.Command {
	var f personFlags
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a person; unset flags keep their value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, actor auth.Principal) error {
				cur, err := a.Engine.GetPerson(ctx, id)
				if err != nil {
					return err
				}
				in := personInputOf(cur)
				if err := f.apply(cmd, &in); err != nil {
					return err
				}
				p, err := a.Engine.UpdatePerson(ctx, actor, id, in)
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

func personActiveCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: fmt.Sprintf("Mark a person %s", map[bool]string{true: "active", false: "inactive"}[active]),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, actor auth.Principal) error {
				if err := a.Engine.SetPersonActive(ctx, actor, id, active); err != nil {
					return err
				}
				fmt.Printf("person %d %sd\n", id, use)
				return nil
			})
		},
	}
}

func personDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a person with no assignments, users or led entities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, actor auth.Principal) error {
				if err := a.Engine.DeletePerson(ctx, actor, id); err != nil {
					return err
				}
				fmt.Printf("person %d deleted\n", id)
				return nil
			})
		},
	}
}

func profileCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "profile", Short: "Manage billing profiles"}
	cmd.AddCommand(profileListCmd())
	cmd.AddCommand(profileCreateCmd())
	cmd.AddCommand(profileUpdateCmd())
	cmd.AddCommand(profileActiveCmd("activate", true))
	cmd.AddCommand(profileActiveCmd("deactivate", false))
	cmd.AddCommand(profileDeleteCmd())
	return cmd
}

func profileListCmd() *cobra.Command {
	var search string
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, _ auth.Principal) error {
				f := repo.ProfileFilter{Search: search}
				if activeOnly {
					f.Active = &activeOnly
				}
				items, err := a.Engine.ListProfiles(ctx, f)
				if err != nil {
					return err
				}
				return render(items, table.Row{"ID", "Name", "Hourly rate", "Valid from", "Active"}, func() []table.Row {
					rows := make([]table.Row, 0, len(items))
					for _, p := range items {
						rows = append(rows, table.Row{p.ID, p.Name, money(p.HourlyRate), deref(p.ValidFrom), yesNo(p.Active)})
					}
					return rows
				})
			})
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "search name")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active profiles")
	return cmd
}

func profileCreateCmd() *cobra.Command {
	var name, rate, validFrom string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			hourly, err := parseMoney("rate", rate)
			if err != nil {
				return err
			}
			in := engine.ProfileInput{Name: name, HourlyRate: hourly, ValidFrom: optionalString(validFrom)}
			return withApp(cmd, func(ctx context.Context, a *app.App, actor auth.Principal) error {
				p, err := a.Engine.CreateProfile(ctx, actor, in)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "profile name")
	cmd.Flags().StringVar(&rate, "rate", "", "hourly rate")
	cmd.Flags().StringVar(&validFrom, "valid-from", "", "valid from (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func profileUpdateCmd() *cobra.Command {
	var name, rate, validFrom string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, actor auth.Principal) error {
				cur, err := a.Engine.GetProfile(ctx, id)
				if err != nil {
					return err
				}
				active := cur.Active
				in := engine.ProfileInput{Name: cur.Name, HourlyRate: cur.HourlyRate, ValidFrom: cur.ValidFrom, Active: &active}
				if cmd.Flags().Changed("name") {
					in.Name = name
				}
				if cmd.Flags().Changed("rate") {
					if in.HourlyRate, err = parseMoney("rate", rate); err != nil {
						return err
					}
				}
				if cmd.Flags().Changed("valid-from") {
					in.ValidFrom = optionalString(validFrom)
				}
				p, err := a.Engine.UpdateProfile(ctx, actor, id, in)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "profile name")
	cmd.Flags().StringVar(&rate, "rate", "", "hourly rate")
	cmd.Flags().StringVar(&validFrom, "valid-from", "", "valid from (YYYY-MM-DD)")
	return cmd
}

func profileActiveCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: "Toggle whether a profile can be picked for new assignments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, actor auth.Principal) error {
				if err := a.Engine.SetProfileActive(ctx, actor, id, active); err != nil {
					return err
				}
				fmt.Printf("profile %d %sd\n", id, use)
				return nil
			})
		},
	}
}

func profileDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a profile no assignment references",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, actor auth.Principal) error {
				if err := a.Engine.DeleteProfile(ctx, actor, id); err != nil {
					return err
				}
				fmt.Printf("profile %d deleted\n", id)
				return nil
			})
		},
	}
}

func roleCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "role", Short: "Manage the person role catalog"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, _ auth.Principal) error {
				items, err := a.Engine.ListRoles(ctx, repo.RoleFilter{})
				if err != nil {
					return err
				}
				return render(items, table.Row{"ID", "Name", "Active"}, func() []table.Row {
					rows := make([]table.Row, 0, len(items))
					for _, r := range items {
						rows = append(rows, table.Row{r.ID, r.Name, yesNo(r.Active)})
					}
					return rows
				})
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Add a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, actor auth.Principal) error {
				r, err := a.Engine.CreateRole(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSON(r)
			})
		},
	})
	cmd.AddCommand(roleUpdateCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a role no person uses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, actor auth.Principal) error {
				if err := a.Engine.DeleteRole(ctx, actor, id); err != nil {
					return err
				}
				fmt.Printf("role %d deleted\n", id)
				return nil
			})
		},
	})
	return cmd
}

func roleUpdateCmd() *cobra.Command {
	var name string
	var active bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Rename or (de)activate a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, actor auth.Principal) error {
				cur, err := a.Engine.Repo.GetRole(ctx, nil, id)
				if err != nil {
					return err
				}
				newName, newActive := cur.Name, cur.Active
				if cmd.Flags().Changed("name") {
					newName = name
				}
				if cmd.Flags().Changed("active") {
					newActive = active
				}
				r, err := a.Engine.UpdateRole(ctx, actor, id, newName, newActive)
				if err != nil {
					return err
				}
				return printJSON(r)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().BoolVar(&active, "active", true, "whether the role can be picked")
	return cmd
}
