package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"projectops/internal/app"
	"projectops/internal/config"
	"projectops/internal/domain"
	"projectops/internal/engine"
	"projectops/internal/engine/auth"
	"projectops/internal/migrate"
	"projectops/internal/repo"
	"projectops/internal/server"
)

func userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage API users"}
	cmd.AddCommand(userListCmd())
	cmd.AddCommand(userCreateCmd())
	cmd.AddCommand(userUpdateCmd())
	cmd.AddCommand(userResetPasswordCmd())
	cmd.AddCommand(userDeleteCmd())
	cmd.AddCommand(userLoginCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "logout",
		Short: "Record a logout for --actor-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, actor auth.Principal) error {
				if actor.UserID == 0 {
					return fmt.Errorf("--actor-id is required")
				}
				return a.Engine.Logout(ctx, actor)
			})
		},
	})
	return cmd
}

// password reads the flag value, falling back to PROJECTOPS_PASSWORD so the
// secret stays out of shell history.
func password(flag string) string {
	if flag != "" {
		return flag
	}
	return viper.GetString("password")
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, _ auth.Principal) error {
				items, err := a.Engine.ListUsers(ctx)
				if err != nil {
					return err
				}
				return render(items, table.Row{"ID", "Email", "Role", "Person", "Active", "Last login"}, func() []table.Row {
					rows := make([]table.Row, 0, len(items))
					for _, u := range items {
						rows = append(rows, table.Row{u.ID, u.Email, u.Role, deref(u.PersonName), yesNo(u.Active), deref(u.LastLoginAt)})
					}
					return rows
				})
			})
		},
	}
}

func userCreateCmd() *cobra.Command {
	var email, pw, role string
	var personID int64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := engine.UserInput{Email: email, Password: password(pw), Role: role, PersonID: optionalID(personID)}
			return withApp(cmd, func(ctx context.Context, a *app.App, actor auth.Principal) error {
				u, err := a.Engine.CreateUser(ctx, actor, in)
				if err != nil {
					return err
				}
				return printJSON(u)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "login email")
	cmd.Flags().StringVar(&pw, "password", "", "password (or PROJECTOPS_PASSWORD)")
	cmd.Flags().StringVar(&role, "role", domain.UserRoleViewer, "admin or viewer")
	cmd.Flags().Int64Var(&personID, "person-id", 0, "linked person")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func userUpdateCmd() *cobra.Command {
	var email, role string
	var personID int64
	var active bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a user's email, role, person or active flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, actor auth.Principal) error {
				cur, err := a.Engine.GetUser(ctx, id)
				if err != nil {
					return err
				}
				isActive := cur.Active
				in := engine.UserInput{Email: cur.Email, Role: cur.Role, PersonID: cur.PersonID, Active: &isActive}
				if cmd.Flags().Changed("email") {
					in.Email = email
				}
				if cmd.Flags().Changed("role") {
					in.Role = role
				}
				if cmd.Flags().Changed("person-id") {
					in.PersonID = optionalID(personID)
				}
				if cmd.Flags().Changed("active") {
					in.Active = &active
				}
				u, err := a.Engine.UpdateUser(ctx, actor, id, in)
				if err != nil {
					return err
				}
				return printJSON(u)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "login email")
	cmd.Flags().StringVar(&role, "role", "", "admin or viewer")
	cmd.Flags().Int64Var(&personID, "person-id", 0, "linked person (0 clears)")
	cmd.Flags().BoolVar(&active, "active", true, "whether the user can sign in")
	return cmd
}

func userResetPasswordCmd() *cobra.Command {
	var pw string
	cmd := &cobra.Command{
		Use:   "reset-password <id>",
		Short: "Replace a user's password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, actor auth.Principal) error {
				if err := a.Engine.ResetPassword(ctx, actor, id, password(pw)); err != nil {
					return err
				}
				fmt.Printf("password reset for user %d\n", id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&pw, "password", "", "new password (or PROJECTOPS_PASSWORD)")
	return cmd
}

func userDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, actor auth.Principal) error {
				if err := a.Engine.DeleteUser(ctx, actor, id); err != nil {
					return err
				}
				fmt.Printf("user %d deleted\n", id)
				return nil
			})
		},
	}
}

func userLoginCmd() *cobra.Command {
	var email, pw string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Check credentials and print a bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, _ auth.Principal) error {
				p, err := a.Engine.Authenticate(ctx, email, password(pw))
				if err != nil {
					return err
				}
				token, err := a.Engine.IssueToken(p)
				if err != nil {
					return err
				}
				if wantJSON() {
					return printJSON(map[string]any{
						"token":      token,
						"user_id":    p.UserID,
						"role":       p.Role,
						"expires_in": int(a.Engine.Tokens.TTL / time.Second),
					})
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "login email")
	cmd.Flags().StringVar(&pw, "password", "", "password (or PROJECTOPS_PASSWORD)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func paramCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "param", Short: "Manage runtime parameters"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List parameters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, _ auth.Principal) error {
				items, err := a.Engine.ListParameters(ctx)
				if err != nil {
					return err
				}
				return render(items, table.Row{"Key", "Value", "Updated"}, func() []table.Row {
					rows := make([]table.Row, 0, len(items))
					for _, p := range items {
						rows = append(rows, table.Row{p.Key, p.Value, p.UpdatedAt})
					}
					return rows
				})
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a numeric parameter",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, actor auth.Principal) error {
				p, err := a.Engine.SetParameter(ctx, actor, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	})
	cmd.AddCommand(paramImportCmd())
	return cmd
}

func paramImportCmd() *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Copy parameters from projectops.yml into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, actor auth.Principal) error {
				n, err := a.Engine.ImportParameters(ctx, actor, a.Config.Parameters, overwrite)
				if err != nil {
					return err
				}
				fmt.Printf("%d parameters written\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace values already stored")
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, _ auth.Principal) error {
				items, err := a.Engine.ListEvents(ctx, f)
				if err != nil {
					return err
				}
				return render(items, table.Row{"ID", "When", "Actor", "Kind", "Entity", "Entity ID", "Detail"}, func() []table.Row {
					rows := make([]table.Row, 0, len(items))
					for _, e := range items {
						rows = append(rows, table.Row{e.ID, e.TS, deref(e.ActorID), e.Kind, e.EntityType, e.EntityID, deref(e.DetailJSON)})
					}
					return rows
				})
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.EntityType, "entity", "", "filter by entity type (persons, projects, assignments, ...)")
	cmd.Flags().StringVar(&f.Kind, "kind", "", "filter by kind (create, update, delete, login, logout)")
	cmd.Flags().Int64Var(&f.EntityID, "entity-id", 0, "filter by entity id")
	cmd.Flags().Int64Var(&f.BeforeID, "before", 0, "only events older than this id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the read-only HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, _ auth.Principal) error {
				addr = firstSet(addr, a.Config.API.Addr, "127.0.0.1:8080")
				basePath = firstSet(basePath, a.Config.API.BasePath, "/api")
				if a.Engine.Tokens.Secret == "" {
					a.Logger.WithField("env", a.Config.API.JWTSecretEnv).Warn("jwt secret not set, bearer tokens disabled")
				}
				scfg := server.Config{Engine: a.Engine, BasePath: basePath, Logger: logrus.NewEntry(a.Logger)}
				if a.Config.API.Metrics {
					scfg.Metrics = a.Metrics
				}
				handler, err := server.New(scfg)
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(sctx)
				}()
				a.Logger.WithFields(logrus.Fields{"addr": addr, "base_path": basePath}).Info("serving ProjectOps API")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config api.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config api.base_path)")
	return cmd
}

func firstSet(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "migrate", Short: "Database schema"}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return openApp(cmd, true, func(ctx context.Context, a *app.App, _ auth.Principal) error {
				if err := migrate.Migrate(a.DB); err != nil {
					return err
				}
				st, err := migrate.CurrentStatus(a.DB)
				if err != nil {
					return err
				}
				fmt.Printf("schema at version %d\n", st.Current)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return openApp(cmd, true, func(ctx context.Context, a *app.App, _ auth.Principal) error {
				st, err := migrate.CurrentStatus(a.DB)
				if err != nil {
					return err
				}
				return render(st, table.Row{"Current", "Latest", "Pending", "Dirty"}, func() []table.Row {
					return []table.Row{{st.Current, st.Latest, yesNo(st.Pending), yesNo(st.Dirty)}}
				})
			})
		},
	})
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default projectops.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Parse and validate projectops.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			fmt.Printf("config ok: %d parameters, %d roles, storage %s\n", len(cfg.Parameters), len(cfg.Roles), firstSet(cfg.Storage.Kind, "fs"))
			return nil
		},
	})
	return cmd
}
