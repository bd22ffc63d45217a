package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medibill/medibill/internal/config"
	"github.com/medibill/medibill/internal/domain/account"
	"github.com/medibill/medibill/internal/domain/billing"
	"github.com/medibill/medibill/internal/domain/coverage"
	"github.com/medibill/medibill/internal/platform/auth"
	"github.com/medibill/medibill/internal/platform/db"
	"github.com/medibill/medibill/internal/platform/httpjson"
	"github.com/medibill/medibill/internal/platform/middleware"
	"github.com/medibill/medibill/internal/platform/sandbox"
	"github.com/medibill/medibill/internal/platform/telemetry"
	"github.com/medibill/medibill/pkg/dateutil"
	"github.com/medibill/medibill/pkg/money"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "medibill-server",
		Short:         "Family medical bill splitting API server",
		SilenceUsage:  true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(seedCmd())
	root.AddCommand(calculateCmd())
	return root
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// app holds the wired repositories and services shared by every command.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	pool     *pgxpool.Pool
	metrics  *telemetry.Metrics
	accounts *account.Service
	coverage *coverage.Service
	billing  *billing.Service
	seeder   *sandbox.Seeder
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	pool, err := db.NewPool(ctx, db.PoolConfig{
		DatabaseURL: cfg.DatabaseURL,
		MaxConns:    cfg.DBMaxConns,
		MinConns:    cfg.DBMinConns,
		Retries:     cfg.DBConnectRetries,
	}, logger)
	if err != nil {
		return nil, err
	}
	tx := db.NewTransactor(pool)

	accountRepo := account.NewAccountRepoPG(pool)
	memberRepo := account.NewMemberRepoPG(pool)
	policyRepo := coverage.NewPolicyRepoPG(pool)
	ruleRepo := coverage.NewRuleRepoPG(pool)
	networkRepo := coverage.NewNetworkRepoPG(pool)

	accountSvc := account.NewService(accountRepo, memberRepo)
	coverageSvc := coverage.NewService(memberRepo, policyRepo, ruleRepo, networkRepo, tx, logger)

	splitter := billing.NewSplitter(coverageSvc.Calculator(), billing.Attribution(cfg.SplitInsuranceAttribution))
	billingSvc := billing.NewService(billing.Repositories{
		Bills:         billing.NewBillRepoPG(pool),
		LineItems:     billing.NewLineItemRepoPG(pool),
		Shares:        billing.NewShareRepoPG(pool),
		Payments:      billing.NewPaymentRepoPG(pool),
		Disputes:      billing.NewDisputeRepoPG(pool),
		Accumulations: billing.NewAccumulationRepoPG(pool),
	}, accountRepo, memberRepo, policyRepo, splitter, tx, logger)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		pool:     pool,
		accounts: accountSvc,
		coverage: coverageSvc,
		billing:  billingSvc,
		seeder:   sandbox.NewSeeder(accountSvc, coverageSvc, billingSvc, tx, logger),
	}
	if cfg.MetricsEnabled {
		a.metrics = telemetry.NewMetrics()
		coverageSvc.SetMetrics(a.metrics)
		billingSvc.SetMetrics(a.metrics)
	}
	return a, nil
}

func (a *app) Close() {
	a.pool.Close()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// -- serve --

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer a.Close()
	logger.Info().Msg("connected to database")

	e := newServer(a, db.NewMigrator(a.pool, cfg.MigrationsDir, ""))

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server failed")
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func newServer(a *app, migrator *db.Migrator) *echo.Echo {
	cfg := a.cfg
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = httpjson.Serializer{}

	// Global middleware
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	if a.metrics != nil {
		e.Use(a.metrics.Middleware())
	}
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}

	// Health and metrics stay outside auth.
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(a.pool, migrator))
	if a.metrics != nil {
		e.GET("/metrics", a.metrics.Handler())
	}

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	}
	var authMW echo.MiddlewareFunc
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware(jwtCfg)
	} else {
		authMW = auth.JWTMiddleware(jwtCfg)
	}
	api := e.Group("/api/v1", authMW)

	account.NewHandler(a.accounts).RegisterRoutes(api)
	coverage.NewHandler(a.coverage).RegisterRoutes(api)
	billing.NewHandler(a.billing).RegisterRoutes(api)
	if !cfg.IsProduction() {
		sandbox.NewSeedHandler(a.seeder).RegisterRoutes(api)
	}
	return e
}

// -- migrate --

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}
	cmd.PersistentFlags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.PersistentFlags().String("schema", "public", "Target schema for migrations")

	withMigrator := func(cmd *cobra.Command, fn func(ctx context.Context, m *db.Migrator) error) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			dir = cfg.MigrationsDir
		}
		schema, _ := cmd.Flags().GetString("schema")

		ctx := context.Background()
		pool, err := db.NewPool(ctx, db.PoolConfig{
			DatabaseURL: cfg.DatabaseURL,
			MaxConns:    cfg.DBMaxConns,
			MinConns:    cfg.DBMinConns,
			Retries:     cfg.DBConnectRetries,
		}, newLogger(cfg))
		if err != nil {
			return err
		}
		defer pool.Close()
		return fn(ctx, db.NewMigrator(pool, dir, schema))
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Revert the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				v, err := m.Down(ctx)
				if err != nil {
					return fmt.Errorf("revert failed: %w", err)
				}
				if v == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Nothing to revert.")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reverted migration %d.\n", v)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(cmd, statuses)
				return nil
			})
		},
	})
	return cmd
}

func printStatus(cmd *cobra.Command, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format(time.RFC3339)
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
	fmt.Fprintf(out, "\n%d pending\n", db.Pending(statuses))
}

// -- seed --

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a JSON fixture or generate synthetic families",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			count, _ := cmd.Flags().GetInt("generate")
			seed, _ := cmd.Flags().GetInt64("seed")

			var fixture *sandbox.Fixture
			switch {
			case file != "" && count > 0:
				return fmt.Errorf("--file and --generate are mutually exclusive")
			case file != "":
				f, err := sandbox.ReadFile(file)
				if err != nil {
					return err
				}
				fixture = f
			case count > 0:
				sc := sandbox.DefaultSeedConfig()
				sc.AccountCount = count
				sc.Seed = seed
				fixture = sandbox.NewDataGenerator(seed).Generate(sc)
			default:
				return fmt.Errorf("one of --file or --generate is required")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			a, err := newApp(ctx, cfg, newLogger(cfg))
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.seeder.Load(ctx, fixture)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().String("file", "", "Path to a JSON fixture")
	cmd.Flags().Int("generate", 0, "Number of synthetic accounts to generate")
	cmd.Flags().Int64("seed", 0, "Random seed for generated data")
	return cmd
}

// -- calculate --

func calculateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calculate",
		Short: "Adjudicate one claim against a member's policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			claim, err := claimFromFlags(cmd)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			a, err := newApp(ctx, cfg, newLogger(cfg))
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.coverage.CalculateCoverage(ctx, claim)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().String("member", "", "Member ID")
	cmd.Flags().String("service", "", "Service type, e.g. OFFICE_VISIT")
	cmd.Flags().String("category", "", "Optional service category")
	cmd.Flags().String("provider", "", "Provider identifier")
	cmd.Flags().String("date", "", "Service date (YYYY-MM-DD), defaults to today")
	cmd.Flags().String("amount", "", "Billed amount")
	return cmd
}

func claimFromFlags(cmd *cobra.Command) (coverage.Claim, error) {
	var claim coverage.Claim
	member, _ := cmd.Flags().GetString("member")
	id, err := uuid.Parse(member)
	if err != nil {
		return claim, fmt.Errorf("invalid --member: %w", err)
	}
	claim.MemberID = id
	claim.ServiceType, _ = cmd.Flags().GetString("service")
	category, _ := cmd.Flags().GetString("category")
	claim.Category = coverage.Category(strings.ToUpper(category))
	claim.ProviderID, _ = cmd.Flags().GetString("provider")

	date, _ := cmd.Flags().GetString("date")
	if date == "" {
		claim.ServiceDate = dateutil.Day(time.Now())
	} else if claim.ServiceDate, err = dateutil.Parse(date); err != nil {
		return claim, fmt.Errorf("invalid --date: %w", err)
	}

	amount, _ := cmd.Flags().GetString("amount")
	if claim.BilledAmount, err = money.Parse(amount); err != nil {
		return claim, fmt.Errorf("invalid --amount: %w", err)
	}
	return claim, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
