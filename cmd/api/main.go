package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"salescrm/api/internal/app"
	"salescrm/api/internal/blob"
	"salescrm/api/internal/client"
	"salescrm/api/internal/config"
	"salescrm/api/internal/email"
	"salescrm/api/internal/export"
	"salescrm/api/internal/gitrepo"
	"salescrm/api/internal/logging"
	"salescrm/api/internal/search"
	"salescrm/api/internal/session"
	"salescrm/api/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "crm-api",
		Short:         "Sales CRM API server and maintenance commands",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API (default)",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context())
			},
		},
		newMigrateCmd(),
		&cobra.Command{
			Use:   "reindex",
			Short: "Push every searchable record into Meilisearch",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runReindex(cmd.Context())
			},
		},
		newImportCmd(),
		newReportCmd(),
	)
	return root
}

// runtime holds the process-wide collaborators shared by every subcommand.
type runtime struct {
	cfg     config.Config
	logger  *zap.Logger
	db      *sql.DB
	store   *store.PostgresStore
	search  *search.Service
	closers []func()
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	_ = rt.logger.Sync()
}

// connect loads config and opens the database without touching the schema.
func connect(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	rt := &runtime{cfg: cfg, logger: logger}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	rt.db = db
	rt.closers = append(rt.closers, func() { _ = db.Close() })
	return rt, nil
}

func setup(ctx context.Context) (*runtime, error) {
	rt, err := connect(ctx)
	if err != nil {
		return nil, err
	}
	if err := store.ApplyMigrations(ctx, rt.db, rt.cfg.MigrationsDir, rt.logger); err != nil {
		rt.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	rt.store = store.NewPostgresStore(rt.db)

	var meili *search.Meili
	if strings.TrimSpace(rt.cfg.MeiliURL) != "" {
		meili = search.NewMeili(rt.cfg.MeiliURL, rt.cfg.MeiliMasterKey, rt.logger)
	}
	rt.search = search.NewService(meili, search.NewPgFTS(rt.db), rt.logger)
	rt.closers = append(rt.closers, rt.search.Close)
	return rt, nil
}

// service builds the full application service on top of the runtime.
func (rt *runtime) service(ctx context.Context) (*app.Service, error) {
	cfg := rt.cfg
	deps := app.Deps{
		Store:    rt.store,
		Search:   rt.search,
		Exporter: export.NewService(),
		Logger:   rt.logger,
		Mailer: email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}),
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		rt.logger.Info("using redis for session storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		rt.closers = append(rt.closers, func() { _ = redisStore.Close() })
		deps.Sessions = redisStore
	} else {
		rt.logger.Info("using postgres for session storage")
	}

	if strings.TrimSpace(cfg.QuoteReposDir) != "" {
		if err := os.MkdirAll(cfg.QuoteReposDir, 0o755); err != nil {
			return nil, fmt.Errorf("create quote repos dir: %w", err)
		}
		deps.History = gitrepo.New(cfg.QuoteReposDir)
	}

	archive, err := blob.New(blob.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("object storage: %w", err)
	}
	if archive.Enabled() {
		bucketCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := archive.EnsureBucket(bucketCtx)
		cancel()
		if err != nil {
			// Exports still download without the archive copy.
			rt.logger.Warn("object storage unavailable, exports will not be archived", zap.Error(err))
			archive = &blob.Store{}
		}
	}
	deps.Archive = archive

	return app.New(cfg, deps), nil
}

func newMigrateCmd() *cobra.Command {
	up := func(cmd *cobra.Command, _ []string) error {
		rt, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()
		applied, err := store.NewMigrator(rt.db, rt.cfg.MigrationsDir, rt.logger).Up(cmd.Context())
		if err != nil {
			return err
		}
		rt.logger.Info("migrations applied", zap.Int("count", applied), zap.String("dir", rt.cfg.MigrationsDir))
		return nil
	}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE:  up,
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Revert the newest applied migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			reverted, err := store.NewMigrator(rt.db, rt.cfg.MigrationsDir, rt.logger).Down(cmd.Context(), steps)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d migration(s) reverted\n", reverted)
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to revert")

	status := &cobra.Command{
		Use:   "status",
		Short: "List migrations and when each was applied",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			states, err := store.NewMigrator(rt.db, rt.cfg.MigrationsDir, rt.logger).Status(cmd.Context())
			if err != nil {
				return err
			}
			for _, state := range states {
				applied := "pending"
				if state.AppliedAt != nil {
					applied = state.AppliedAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%04d  %-24s %s\n", state.Number, state.Name, applied)
			}
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{Use: "up", Short: "Apply pending migrations", RunE: up}, down, status)
	return cmd
}

func runReindex(ctx context.Context) error {
	rt, err := setup(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	if strings.TrimSpace(rt.cfg.MeiliURL) == "" {
		return fmt.Errorf("reindex needs MEILI_URL")
	}
	rt.search.ReindexAllFromPG(ctx)
	return nil
}

func newImportCmd() *cobra.Command {
	var emailAddr, password string
	cmd := &cobra.Command{
		Use:       "import contacts|companies FILE",
		Short:     "Import contacts or companies from a CSV or XLS file",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"contacts", "companies"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, path := args[0], args[1]
			if kind != "contacts" && kind != "companies" {
				return fmt.Errorf("unknown import kind %q", kind)
			}
			ctx := cmd.Context()
			rt, err := setup(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()
			svc, err := rt.service(ctx)
			if err != nil {
				return err
			}
			if emailAddr == "" {
				emailAddr, password = rt.cfg.AdminEmail, rt.cfg.AdminPassword
			}
			actor, err := svc.SignIn(ctx, emailAddr, password)
			if err != nil {
				return fmt.Errorf("sign in as %s: %w", emailAddr, err)
			}

			file, err := os.Open(path)
			if err != nil {
				return err
			}
			defer file.Close()

			importFn := svc.ImportContacts
			if kind == "companies" {
				importFn = svc.ImportCompanies
			}
			result, err := importFn(ctx, actor, file, path)
			if err != nil {
				return err
			}
			for _, rowErr := range result.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "row %d: %s\n", rowErr.Row, rowErr.Message)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d created, %d skipped\n", kind, result.Created, result.Skipped)
			rt.search.Wait()
			return nil
		},
	}
	cmd.Flags().StringVar(&emailAddr, "email", "", "user to import as (defaults to the configured admin)")
	cmd.Flags().StringVar(&password, "password", "", "password for --email")
	return cmd
}

func newReportCmd() *cobra.Command {
	var (
		server string
		token  string
		months int
		out    string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Download the dashboard from a running server as an xlsx workbook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if token == "" {
				token = os.Getenv("CRM_TOKEN")
			}
			api := client.New(server, token)
			dashboard, err := api.Dashboard(cmd.Context(), months)
			if err != nil {
				return err
			}
			result, err := export.ReportWorkbook(dashboard)
			if err != nil {
				return err
			}
			if out == "" {
				out = result.Filename
			}
			if err := os.WriteFile(out, result.Data, 0o644); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "CRM API base URL")
	cmd.Flags().StringVar(&token, "token", "", "bearer token (defaults to $CRM_TOKEN)")
	cmd.Flags().IntVar(&months, "months", 0, "months of revenue history")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output path (defaults to the generated file name)")
	return cmd
}
