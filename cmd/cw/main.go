package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"campusworks/internal/app"
	"campusworks/internal/config"
	"campusworks/internal/domain"
	"campusworks/internal/engine"
	"campusworks/internal/repo"
	"campusworks/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cw",
	Short: "Campusworks CLI",
	Long: `Campusworks runs the engagement lifecycle between businesses and student teams.
- Project: posted by a business as a draft, reviewed, then opened to applications.
- Applications: teams apply to live projects; the business ranks them and selects one.
- Milestones: the selected team works through an ordered plan, one milestone at a time.
- Review gates: each milestone (and the final delivery) passes a checklist plus reviewer consent.
- Escrow: the budget is held and released tranche by tranche as milestones are approved.
- Event log: every transition is recorded, view with 'cw log tail'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if code, ok := domain.CodeOf(err); ok {
			fmt.Fprintf(os.Stderr, "error [%s]: %v\n", code, err)
		} else {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/campusworks.yml)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(applicationCmd())
	rootCmd.AddCommand(gateCmd())
	rootCmd.AddCommand(milestoneCmd())
	rootCmd.AddCommand(teamCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Post and move projects through their lifecycle"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(stateCmd("submit", "Submit a draft for review", func(ctx context.Context, s *app.Session, id string) (domain.ProjectState, error) {
		return s.Engine.SubmitForReview(ctx, id, s.ActorID)
	}))
	prj.AddCommand(stateCmd("approve", "Approve a project and open it to applications", func(ctx context.Context, s *app.Session, id string) (domain.ProjectState, error) {
		return s.Engine.Approve(ctx, id, s.ActorID)
	}))
	prj.AddCommand(projectSelectCmd())
	prj.AddCommand(stateCmd("approve-final", "Approve final delivery and complete the project", func(ctx context.Context, s *app.Session, id string) (domain.ProjectState, error) {
		return s.Engine.ApproveFinal(ctx, id, s.ActorID)
	}))
	prj.AddCommand(projectCancelCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var (
		opts       engine.CreateProjectOptions
		budget     string
		milestones []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Post a project as a draft",
		Long: `Post a project. The milestone plan comes from --milestone flags ("Title:25" or "25"),
else from the named --schedule, else from the configured default schedule.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(strings.TrimSpace(budget))
			if err != nil {
				return fmt.Errorf("--budget %q is not a decimal amount", budget)
			}
			plan, err := parseMilestones(milestones)
			if err != nil {
				return err
			}
			opts.Budget = amount
			opts.Plan = plan
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				opts.ActorID = s.ActorID
				state, err := s.Engine.CreateProject(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(state, func() { renderState(state) })
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "project id (generated when empty)")
	cmd.Flags().StringVar(&opts.BusinessID, "business-id", "", "owning business (defaults to --actor-id)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&budget, "budget", "", "total budget held in escrow, e.g. 1500.00")
	cmd.Flags().StringVar(&opts.TimelineEstimate, "timeline", "", "timeline estimate, e.g. \"6 weeks\"")
	cmd.Flags().StringSliceVar(&opts.RequiredSkills, "skill", nil, "required skill (repeatable)")
	cmd.Flags().IntVar(&opts.TeamSize.Min, "team-min", 0, "minimum team size")
	cmd.Flags().IntVar(&opts.TeamSize.Max, "team-max", 0, "maximum team size")
	cmd.Flags().StringVar(&opts.Schedule, "schedule", "", "named release schedule from config")
	cmd.Flags().StringArrayVar(&milestones, "milestone", nil, "milestone as Title:percentage (repeatable, in order)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("budget")
	return cmd
}

func projectListCmd() *cobra.Command {
	var f repo.ProjectFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				items, err := s.Engine.ListProjects(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(items, func() { renderProjects(items) })
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.BusinessID, "business-id", "", "business filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max projects")
	return cmd
}

func projectShowCmd() *cobra.Command {
	var rank string
	cmd := &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show the full project snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				state, err := s.Engine.GetProjectState(ctx, args[0], rank)
				if err != nil {
					return err
				}
				return printJSONOrTable(state, func() { renderState(state) })
			})
		},
	}
	cmd.Flags().StringVar(&rank, "rank", "", "rank applications by rating, past_projects, reliability or submitted_at")
	return cmd
}

func projectSelectCmd() *cobra.Command {
	var teamID string
	cmd := &cobra.Command{
		Use:   "select <project-id>",
		Short: "Select a team and start the first milestone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runState(cmd.Context(), func(ctx context.Context, s *app.Session) (domain.ProjectState, error) {
				return s.Engine.SelectTeam(ctx, args[0], teamID, s.ActorID)
			})
		},
	}
	cmd.Flags().StringVar(&teamID, "team", "", "team id")
	_ = cmd.MarkFlagRequired("team")
	return cmd
}

func projectCancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <project-id>",
		Short: "Cancel a project; held funds become refundable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runState(cmd.Context(), func(ctx context.Context, s *app.Session) (domain.ProjectState, error) {
				return s.Engine.Cancel(ctx, args[0], reason, s.ActorID)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	return cmd
}

func applicationCmd() *cobra.Command {
	a := &cobra.Command{Use: "application", Aliases: []string{"app"}, Short: "Apply to projects and rank applications"}

	var teamID, pitch string
	submit := &cobra.Command{
		Use:   "submit <project-id>",
		Short: "Apply to a live project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runState(cmd.Context(), func(ctx context.Context, s *app.Session) (domain.ProjectState, error) {
				return s.Engine.SubmitApplication(ctx, args[0], teamID, pitch, s.ActorID)
			})
		},
	}
	submit.Flags().StringVar(&teamID, "team", "", "applying team id")
	submit.Flags().StringVar(&pitch, "pitch", "", "short pitch")
	_ = submit.MarkFlagRequired("team")

	var rank string
	list := &cobra.Command{
		Use:   "list <project-id>",
		Short: "List applications in rank order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				items, err := s.Engine.ListApplications(ctx, args[0], rank)
				if err != nil {
					return err
				}
				return printJSONOrTable(items, func() { renderApplications(items) })
			})
		},
	}
	list.Flags().StringVar(&rank, "rank", "", "rating, past_projects, reliability or submitted_at")

	a.AddCommand(submit, list)
	return a
}

func gateCmd() *cobra.Command {
	g := &cobra.Command{
		Use:   "gate",
		Short: "Work the active review gate",
		Long:  "A gate passes once every checklist item is checked and the reviewer has consented. Change requests are advisory.",
	}

	var uncheck bool
	check := &cobra.Command{
		Use:   "check <project-id> <item-id>",
		Short: "Check a checklist item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runState(cmd.Context(), func(ctx context.Context, s *app.Session) (domain.ProjectState, error) {
				return s.Engine.CheckGateItem(ctx, args[0], args[1], !uncheck, s.ActorID)
			})
		},
	}
	check.Flags().BoolVar(&uncheck, "uncheck", false, "clear the item instead")

	var revoke bool
	consent := &cobra.Command{
		Use:   "consent <project-id>",
		Short: "Give reviewer consent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runState(cmd.Context(), func(ctx context.Context, s *app.Session) (domain.ProjectState, error) {
				return s.Engine.GiveConsent(ctx, args[0], !revoke, s.ActorID)
			})
		},
	}
	consent.Flags().BoolVar(&revoke, "revoke", false, "withdraw consent")

	var note string
	changes := &cobra.Command{
		Use:   "changes <project-id>",
		Short: "Request changes within the revision window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runState(cmd.Context(), func(ctx context.Context, s *app.Session) (domain.ProjectState, error) {
				return s.Engine.RequestChanges(ctx, args[0], note, s.ActorID)
			})
		},
	}
	changes.Flags().StringVar(&note, "note", "", "what needs to change")
	_ = changes.MarkFlagRequired("note")

	g.AddCommand(check, consent, changes, stateCmd("pass", "Pass the active gate", func(ctx context.Context, s *app.Session, id string) (domain.ProjectState, error) {
		return s.Engine.PassGate(ctx, id, s.ActorID)
	}))
	return g
}

func milestoneCmd() *cobra.Command {
	m := &cobra.Command{Use: "milestone", Short: "Approve milestones and release escrow"}
	m.AddCommand(stateCmd("approve", "Approve the current milestone and release its tranche", func(ctx context.Context, s *app.Session, id string) (domain.ProjectState, error) {
		return s.Engine.ApproveMilestone(ctx, id, s.ActorID)
	}))
	return m
}

func teamCmd() *cobra.Command {
	t := &cobra.Command{Use: "team", Short: "Register teams and their ranking metadata"}

	var team domain.Team
	register := &cobra.Command{
		Use:   "register",
		Short: "Create or update a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				saved, err := s.Engine.RegisterTeam(ctx, team, s.ActorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(saved, func() { renderTeams([]domain.Team{saved}) })
			})
		},
	}
	register.Flags().StringVar(&team.ID, "id", "", "team id")
	register.Flags().StringVar(&team.Name, "name", "", "display name")
	register.Flags().Float64Var(&team.Rating, "rating", 0, "rating 0..5")
	register.Flags().IntVar(&team.PastProjects, "past-projects", 0, "completed projects")
	register.Flags().Float64Var(&team.Reliability, "reliability", 0, "reliability 0..1")
	_ = register.MarkFlagRequired("id")
	_ = register.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List teams",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				items, err := s.Engine.ListTeams(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items, func() { renderTeams(items) })
			})
		},
	}

	t.AddCommand(register, list)
	return t
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	var f repo.EventFilters
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				events, err := s.Engine.ListEvents(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(events, func() { renderEvents(events) })
			})
		},
	}
	tail.Flags().IntVarP(&f.Limit, "n", "n", 20, "number of events")
	tail.Flags().StringVar(&f.ProjectID, "project", "", "project filter")
	tail.Flags().StringVar(&f.Type, "type", "", "event type filter")
	tail.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind filter")
	l.AddCommand(tail)
	return l
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect campusworks.yml",
		Long:  "Config holds the release schedules, escrow scale, revision window, gate checklists and webhooks.",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	}

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": errString(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default campusworks.yml",
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

	cfg.AddCommand(show, validate, initCmd)
	return cfg
}

func tokenCmd() *cobra.Command {
	t := &cobra.Command{Use: "token", Short: "Mint API tokens"}
	var (
		ttl   time.Duration
		roles []string
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign a bearer token for --actor-id with CW_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := server.IssueToken(viper.GetString("jwt-secret"), viper.GetString("actor-id"), roles, ttl, time.Now())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"token": token})
			}
			fmt.Println(token)
			return nil
		},
	}
	issue.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	issue.Flags().StringSliceVar(&roles, "role", nil, "role claim (repeatable)")
	t.AddCommand(issue)
	return t
}

func serveCmd() *cobra.Command {
	var (
		addr, basePath    string
		devLogin, devAuth bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			authCfg := server.AuthConfig{
				JWTSecret:              viper.GetString("jwt-secret"),
				AllowLegacyActorHeader: devAuth,
				DevLogin:               devLogin,
			}
			if authCfg.JWTSecret == "" && !devAuth {
				return fmt.Errorf("CW_JWT_SECRET is required for bearer auth")
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				authCfg.Logger = s.Log
				handler, err := server.New(server.Config{Engine: s.Engine, BasePath: basePath, Auth: authCfg, Logger: s.Log})
				if err != nil {
					return err
				}
				server.StartWebhooks(ctx, s.Engine, s.Log)
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				s.Log.Info("serving", "addr", "http://"+addr+basePath, "openapi", basePath+"/openapi.json", "docs", "/docs", "metrics", "/metrics")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable POST /auth/dev/login (development only)")
	cmd.Flags().BoolVar(&devAuth, "allow-actor-header", false, "accept unauthenticated X-Actor-Id (development only)")
	return cmd
}

// --- helpers ---

// stateCmd builds a "<verb> <project-id>" command running one lifecycle step.
func stateCmd(use, short string, run func(context.Context, *app.Session, string) (domain.ProjectState, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <project-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runState(cmd.Context(), func(ctx context.Context, s *app.Session) (domain.ProjectState, error) {
				return run(ctx, s, args[0])
			})
		},
	}
}

func runState(ctx context.Context, fn func(context.Context, *app.Session) (domain.ProjectState, error)) error {
	return withSession(ctx, func(ctx context.Context, s *app.Session) error {
		state, err := fn(ctx, s)
		if err != nil {
			return err
		}
		return printJSONOrTable(state, func() { renderState(state) })
	})
}

func withSession(ctx context.Context, fn func(context.Context, *app.Session) error) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	s, err := app.Open(ctx, app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
		ActorID:    viper.GetString("actor-id"),
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

func newLogger() (*log.Logger, error) {
	return app.NewLogger(os.Stderr, viper.GetString("log-level"))
}

func loadConfig() (*config.Config, error) {
	if path := viper.GetString("config"); path != "" {
		return config.FromFile(path)
	}
	return config.Load(viper.GetString("workspace"))
}

// parseMilestones reads "Title:25" or "25" entries.
func parseMilestones(specs []string) ([]domain.MilestoneDefinition, error) {
	var plan []domain.MilestoneDefinition
	for _, spec := range specs {
		title, pctText := "", spec
		if i := strings.LastIndex(spec, ":"); i >= 0 {
			title, pctText = spec[:i], spec[i+1:]
		}
		pct, err := strconv.Atoi(strings.TrimSpace(pctText))
		if err != nil {
			return nil, fmt.Errorf("--milestone %q: percentage must be an integer", spec)
		}
		plan = append(plan, domain.MilestoneDefinition{Title: strings.TrimSpace(title), ReleasePercentage: pct})
	}
	return plan, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
