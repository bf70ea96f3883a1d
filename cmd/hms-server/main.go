package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/invoice"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/internal/platform/telemetry"
	"github.com/hms/hms/internal/platform/websocket"
	"github.com/hms/hms/internal/session"
	"github.com/hms/hms/internal/source/pgsource"
	"github.com/hms/hms/internal/source/rest"
	"github.com/hms/hms/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "hms-server",
		Short:         "Hospital billing and invoice API server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(invoiceCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	var w io.Writer = os.Stdout
	if cfg.IsDev() {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("service", "hms").Logger()
}

// bootstrap loads and validates config for commands that need a source.
func bootstrap() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger := newLogger(cfg)
	if err := cfg.ValidateSource(); err != nil {
		return nil, logger, err
	}
	return cfg, logger, nil
}

// sourceDeps is what openSource built, so the caller can close it.
type sourceDeps struct {
	source  billing.Source
	pool    *pgxpool.Pool
	session *session.Session
}

func (d *sourceDeps) Close() {
	if d.session != nil {
		d.session.Clear()
	}
	if d.pool != nil {
		d.pool.Close()
	}
}

func openSource(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*sourceDeps, error) {
	switch cfg.Source {
	case config.SourceREST:
		sess := session.New(logger.With().Str("component", "session").Logger())
		if cfg.RecordsAPIToken != "" {
			if err := sess.Init(cfg.RecordsAPIToken); err != nil {
				return nil, fmt.Errorf("init records session: %w", err)
			}
		}
		client := rest.New(cfg.RecordsAPIURL, sess, cfg.RecordsAPITimeout,
			logger.With().Str("component", "records_api").Logger())
		return &sourceDeps{source: client, session: sess}, nil

	case config.SourcePostgres:
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		}, logger)
		if err != nil {
			return nil, err
		}
		store := pgsource.New(pool, logger.With().Str("component", "pgsource").Logger())
		return &sourceDeps{source: store, pool: pool}, nil
	}
	return nil, fmt.Errorf("unknown source %q", cfg.Source)
}

func newLedger(cfg *config.Config, src billing.Source, logger zerolog.Logger) *billing.Ledger {
	ledger := billing.NewLedger(src, logger.With().Str("component", "ledger").Logger(), cfg.PageSize)
	ledger.RefreshInterval = cfg.LedgerRefreshInterval
	return ledger
}

// newRenderer fails when the configured title or currency symbol cannot be
// drawn with the invoice font.
func newRenderer(cfg *config.Config) (*invoice.Renderer, error) {
	if err := invoice.CheckText(cfg.InvoiceTitle, cfg.CurrencySymbol); err != nil {
		return nil, fmt.Errorf("invoice settings: %w", err)
	}
	return invoice.NewRenderer(cfg.InvoiceTitle, cfg.CurrencySymbol), nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the billing API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	renderer, err := newRenderer(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	for _, w := range cfg.Warnings() {
		logger.Warn().Msg(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := openSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	hub := websocket.NewHub(logger.With().Str("component", "websocket").Logger())
	ledger := newLedger(cfg, deps.source, logger)
	metrics := telemetry.New()
	metrics.Stale = func() bool { return ledger.Snapshot().Stale }
	metrics.Pool = deps.pool
	ledger.SetNotifier(billing.Notifiers{hub, metrics})

	// A failed first load leaves the ledger empty and stale; the dashboard
	// can still retry through POST /bills/refresh.
	if err := ledger.Refresh(ctx); err != nil {
		logger.Warn().Err(err).Msg("initial ledger load failed")
	}
	go ledger.Start(ctx)

	var pinger db.Pinger
	if deps.pool != nil {
		pinger = deps.pool
	}
	e := newServer(cfg, logger, serverDeps{
		ledger:   ledger,
		renderer: renderer,
		session:  deps.session,
		hub:      hub,
		metrics:  metrics,
		pinger:   pinger,
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("source", cfg.Source).Str("auth_mode", cfg.ResolvedAuthMode()).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

type serverDeps struct {
	ledger   *billing.Ledger
	renderer billing.InvoiceRenderer
	session  *session.Session
	hub      *websocket.Hub
	metrics  *telemetry.Metrics
	pinger   db.Pinger
}

func newServer(cfg *config.Config, logger zerolog.Logger, d serverDeps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	if d.metrics == nil {
		d.metrics = telemetry.New()
	}

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(d.metrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders:  []string{"Authorization", "Content-Type", middleware.RequestIDHeader, auth.DevRoleHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader, "Content-Disposition"},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	// inside the timeout goroutine so handler panics are caught
	e.Use(middleware.Recovery(logger))

	if cfg.ResolvedAuthMode() == config.AuthModeDevelopment {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.GET("/health", healthHandler(d.ledger))
	e.GET("/health/db", db.HealthHandler(d.pinger))
	e.GET("/metrics", d.metrics.Handler())
	websocket.NewHandler(d.hub, cfg.CORSOrigins).RegisterRoutes(e)

	api := e.Group("/api/v1", middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))
	billing.NewHandler(d.ledger, d.renderer).RegisterRoutes(api)
	identity.NewHandler(d.ledger, cfg.PageSize).RegisterRoutes(api)
	if d.session != nil {
		d.session.RegisterRoutes(api)
	}

	return e
}

func healthHandler(ledger *billing.Ledger) echo.HandlerFunc {
	return func(c echo.Context) error {
		snap := ledger.Snapshot()
		body := map[string]interface{}{
			"status":         "ok",
			"ledger_version": snap.Version,
			"stale":          snap.Stale,
			"bills":          len(snap.Bills),
		}
		if !snap.FetchedAt.IsZero() {
			body["fetched_at"] = snap.FetchedAt
		}
		return c.JSON(http.StatusOK, body)
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the postgres bill store schema",
	}

	openMigrator := func(cmd *cobra.Command) (*db.Migrator, func(), error) {
		dir, _ := cmd.Flags().GetString("dir")
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, err
		}
		if cfg.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("DATABASE_URL is required")
		}
		pool, err := db.NewPool(cmd.Context(), db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: 2}, newLogger(cfg))
		if err != nil {
			return nil, nil, err
		}
		m := db.NewMigrator(pool, migrations.FS)
		if dir != "" {
			m = db.NewMigrator(pool, os.DirFS(dir))
		}
		return m, pool.Close, nil
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closeFn, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			count, err := m.Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s).\n", count)
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closeFn, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := m.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	}

	for _, c := range []*cobra.Command{upCmd, statusCmd} {
		c.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
		cmd.AddCommand(c)
	}
	return cmd
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-8s %-32s %-8s %s\n", "VERSION", "NAME", "STATUS", "APPLIED")
	for _, s := range statuses {
		state, applied := "pending", ""
		if s.Applied {
			state = "applied"
			if s.AppliedAt != nil {
				applied = humanize.Time(*s.AppliedAt)
			}
		}
		fmt.Fprintf(w, "%-8d %-32s %-8s %s\n", s.Version, s.Name, state, applied)
	}
}

// loadLedger opens the configured source and loads one snapshot.
func loadLedger(ctx context.Context) (*config.Config, *billing.Ledger, func(), error) {
	cfg, logger, err := bootstrap()
	if err != nil {
		return nil, nil, nil, err
	}
	deps, err := openSource(ctx, cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	ledger := newLedger(cfg, deps.source, logger)
	if err := ledger.Refresh(ctx); err != nil {
		deps.Close()
		return nil, nil, nil, err
	}
	return cfg, ledger, deps.Close, nil
}

func invoiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoice",
		Short: "Render a bill's invoice PDF to a directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			billID, _ := cmd.Flags().GetString("bill")
			out, _ := cmd.Flags().GetString("out")

			cfg, ledger, closeFn, err := loadLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			renderer, err := newRenderer(cfg)
			if err != nil {
				return err
			}
			path, err := writeInvoice(ledger, renderer, billID, out)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().String("bill", "", "Bill id")
	cmd.Flags().String("out", ".", "Output directory")
	cmd.MarkFlagRequired("bill")
	return cmd
}

func writeInvoice(ledger *billing.Ledger, renderer *invoice.Renderer, billID, dir string) (string, error) {
	b, err := ledger.Get(billID)
	if err != nil {
		return "", err
	}
	doc, err := renderer.Render(b, ledger)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	path := filepath.Join(dir, doc.Filename())
	if err := os.WriteFile(path, doc.PDF, 0o644); err != nil {
		return "", fmt.Errorf("write invoice: %w", err)
	}
	return path, nil
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print collected and outstanding totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, ledger, closeFn, err := loadLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			printSummary(cmd.OutOrStdout(), ledger.Summary(), cfg.CurrencySymbol)
			return nil
		},
	}
}

func printSummary(w io.Writer, s billing.Summary, symbol string) {
	fmt.Fprintf(w, "Bills:        %s\n", humanize.Comma(int64(s.Count)))
	fmt.Fprintf(w, "Paid bills:   %s\n", humanize.Comma(int64(s.PaidCount)))
	fmt.Fprintf(w, "Collected:    %s\n", s.Collected.Format(symbol))
	fmt.Fprintf(w, "Outstanding:  %s\n", s.Outstanding.Format(symbol))
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a staff access token signed with AUTH_SIGNING_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("sub")
			roles, _ := cmd.Flags().GetStringSlice("roles")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.AuthSigningKey == "" {
				return fmt.Errorf("AUTH_SIGNING_KEY is required")
			}
			tok, err := auth.IssueToken([]byte(cfg.AuthSigningKey), auth.TokenRequest{
				Subject:  subject,
				Roles:    normalizeRoles(roles),
				Issuer:   cfg.AuthIssuer,
				Audience: cfg.AuthAudience,
				TTL:      ttl,
			}, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().String("sub", "", "Staff member id")
	cmd.Flags().StringSlice("roles", []string{auth.RoleReception}, "Comma-separated roles")
	cmd.Flags().Duration("ttl", 8*time.Hour, "Token lifetime")
	cmd.MarkFlagRequired("sub")
	return cmd
}

func normalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
			out = append(out, r)
		}
	}
	return out
}
