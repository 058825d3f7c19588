package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"projectops/internal/app"
	"projectops/internal/db"
	"projectops/internal/engine"
	"projectops/internal/engine/auth"
)

var rootCmd = &cobra.Command{
	Use:   "ppo",
	Short: "ProjectOps back office CLI",
	Long: `ProjectOps keeps the roster of people, the project portfolio and the hours
each person is assigned to each project.

- Persons carry a role from the role catalog, an hourly cost and an optional leader.
- Projects move from Draft to Active (or Paused) to Closed; closing records the real cost.
- Sprints split a project; deleting one removes its assignments.
- Assignments book dedication hours. A person never goes past 500 active hours;
  crossing the OVERLOAD_PROJECTS_THRESHOLD parameter only warns.
- Every change lands in the event log, view it with 'ppo log tail'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
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
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PROJECTOPS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Int64("actor-id", 0, "user id recorded as the actor of changes")
	rootCmd.PersistentFlags().String("log-level", "", "log level (overrides config)")
	rootCmd.PersistentFlags().String("log-format", "", "log format: text or json (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func registerCommands() {
	rootCmd.AddCommand(personCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(sprintCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(roleCmd())
	rootCmd.AddCommand(assignmentCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(documentCmd())
	rootCmd.AddCommand(paramCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
}

type appFunc func(ctx context.Context, a *app.App, actor auth.Principal) error

// withApp opens the workspace, seeds catalogs and resolves --actor-id.
func withApp(cmd *cobra.Command, fn appFunc) error {
	return openApp(cmd, false, fn)
}

func openApp(cmd *cobra.Command, skipMigrate bool, fn appFunc) error {
	ctx := cmd.Context()
	a, err := app.Open(ctx, app.Options{
		Workspace:   viper.GetString("workspace"),
		LogLevel:    viper.GetString("log-level"),
		LogFormat:   viper.GetString("log-format"),
		SkipMigrate: skipMigrate,
	})
	if err != nil {
		return err
	}
	defer a.Close()
	if !skipMigrate {
		if err := a.Seed(ctx); err != nil {
			return err
		}
	}
	actor, err := resolveActor(ctx, a.Engine, viper.GetInt64("actor-id"))
	if err != nil {
		return err
	}
	return fn(ctx, a, actor)
}

func resolveActor(ctx context.Context, e engine.Engine, id int64) (auth.Principal, error) {
	if id <= 0 {
		return auth.Principal{Source: "cli"}, nil
	}
	u, err := e.GetUser(ctx, id)
	if err != nil {
		return auth.Principal{}, fmt.Errorf("actor %d: %w", id, err)
	}
	if !u.Active {
		return auth.Principal{}, fmt.Errorf("actor %d is inactive", id)
	}
	return auth.PrincipalFromUser(u, "cli"), nil
}

func wantJSON() bool {
	if viper.GetBool("json") {
		return true
	}
	fd := os.Stdout.Fd()
	return !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
}

// render prints v as JSON when requested or when stdout is not a terminal,
// otherwise as a table built from header and rows.
func render(v any, header table.Row, rows func() []table.Row) error {
	if wantJSON() || header == nil {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(header)
	tw.AppendRows(rows())
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalID(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}

// parseMoney reads an optional amount; empty means unset.
func parseMoney(field, s string) (decimal.NullDecimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("%s: %q is not a number", field, s)
	}
	return decimal.NewNullDecimal(d), nil
}

func parseRequiredMoney(field, s string) (decimal.Decimal, error) {
	nd, err := parseMoney(field, s)
	if err != nil {
		return decimal.Zero, err
	}
	if !nd.Valid {
		return decimal.Zero, fmt.Errorf("%s is required", field)
	}
	return nd.Decimal, nil
}

func money(nd decimal.NullDecimal) string {
	if !nd.Valid {
		return "-"
	}
	return nd.Decimal.StringFixed(2)
}

func deref[T any](p *T) any {
	if p == nil {
		return "-"
	}
	return *p
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
