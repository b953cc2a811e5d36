package main

import (
	"context"
	"database/sql"
	"flag"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-router"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/schema"

	auth "github.com/goliatone/go-project-auth"
	"github.com/goliatone/go-project-auth/activitymap"
	"github.com/goliatone/go-project-auth/config"
	"github.com/goliatone/go-project-auth/metrics"
	repo "github.com/goliatone/go-project-auth/repository"
)

var (
	version = "dev"
	commit  = "none"
)

type App struct {
	config   *config.Config
	db       *bun.DB
	redis    *redis.Client
	repo     auth.RepositoryManager
	tokens   *auth.TokenService
	sessions *auth.SessionManager
	resolver *auth.Resolver
	metrics  *metrics.Recorder
	activity auth.FanoutActivitySink
	srv      router.Server[*fiber.App]
	logger   *glog.BaseLogger
	closers  []func()
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func main() {
	configPath := flag.String("config", os.Getenv("AUTH_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	app := &App{
		config: cfg,
		logger: newLogger(cfg.Logging),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := WithPersistence(ctx, app); err != nil {
		panic(err)
	}

	if err := WithActivity(app); err != nil {
		panic(err)
	}

	if err := WithSessions(app); err != nil {
		panic(err)
	}

	if err := WithHTTPServer(app); err != nil {
		panic(err)
	}

	go PurgeExpiredTokens(ctx, app)

	if cfg.Metrics.Enabled {
		go ServeMetrics(app)
	}

	app.GetLogger("app").Info("auth server listening on %s (version %s)", cfg.Server.Addr(), version)
	app.srv.Serve(cfg.Server.Addr())

	sig := WaitExitSignal()
	app.GetLogger("app").Info("received %s, shutting down", sig)

	cancel()
	for i := len(app.closers) - 1; i >= 0; i-- {
		app.closers[i]()
	}
}

// newLogger returns a pretty trace logger for local debugging and the
// default structured logger otherwise
func newLogger(cfg config.LoggingConfig) *glog.BaseLogger {
	if cfg.Level == "trace" || cfg.Level == "debug" {
		return glog.NewLogger(
			glog.WithLoggerTypePretty(),
			glog.WithLevel(glog.Trace),
			glog.WithName("auth"),
			glog.WithAddSource(false),
			glog.WithRichErrorHandler(errors.ToSlogAttributes),
		)
	}
	return glog.NewLogger(
		glog.WithName("auth"),
		glog.WithAddSource(true),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)
}

func WithPersistence(ctx context.Context, app *App) error {
	cfg := app.config.Database
	lgr := app.GetLogger("persistence")

	var (
		sqldb   *sql.DB
		dialect schema.Dialect
		err     error
	)
	switch cfg.Driver {
	case "postgres":
		sqldb, err = sql.Open("pgx", cfg.DSN)
		dialect = pgdialect.New()
	default:
		sqldb, err = sql.Open(sqliteshim.ShimName, cfg.DSN)
		dialect = sqlitedialect.New()
	}
	if err != nil {
		return err
	}
	if cfg.Driver != "postgres" {
		sqldb.SetMaxOpenConns(1)
	}

	persistence.RegisterModel((*auth.User)(nil))
	persistence.RegisterModel((*auth.Membership)(nil))
	persistence.RegisterModel((*auth.IssuedToken)(nil))

	client, err := persistence.New(cfg, sqldb, dialect)
	if err != nil {
		return err
	}
	client.SetLogger(lgr)

	migrationsFS, err := fs.Sub(auth.GetMigrationsFS(), "data/sql/migrations")
	if err != nil {
		return err
	}
	client.RegisterDialectMigrations(
		migrationsFS,
		persistence.WithDialectSourceLabel("data/sql/migrations"),
		persistence.WithValidationTargets("postgres", "sqlite"),
	)
	if err := client.ValidateDialects(ctx); err != nil {
		return err
	}
	if err := client.Migrate(ctx); err != nil {
		return err
	}
	if report := client.Report(); report != nil && !report.IsZero() {
		lgr.Info("migrations applied for %s: %s", cfg.Driver, report.String())
	}

	db := client.DB()
	app.db = db
	app.closers = append(app.closers, func() { _ = db.Close() })

	opts := repo.ManagerOptions{
		LedgerDriver:  app.config.Ledger.Driver,
		KeyPrefix:     app.config.Redis.KeyPrefix,
		HashidUserIDs: app.config.Auth.HashidUserIDs,
	}

	if app.config.Ledger.Driver == repo.LedgerDriverRedis {
		rcfg := app.config.Redis
		client, err := repo.NewRedisClient(ctx, rcfg.Addr, rcfg.Password, rcfg.DB)
		if err != nil {
			return err
		}
		app.redis = client
		app.closers = append(app.closers, func() { _ = client.Close() })
		opts.Redis = client
		lgr.Info("token ledger backed by redis at %s", rcfg.Addr)
	}

	manager, err := repo.NewRepositoryManager(db, opts)
	if err != nil {
		return err
	}
	app.repo = manager

	return nil
}

func WithActivity(app *App) error {
	if app.config.Metrics.Enabled {
		app.metrics = metrics.New(nil)
		app.metrics.SetBuildInfo(version, commit)
		app.activity = append(app.activity, app.metrics)
	}

	mcfg := app.config.MQTT
	if !mcfg.Enabled {
		return nil
	}

	client, err := activitymap.Connect(activitymap.ClientConfig{
		Broker:   mcfg.Broker,
		ClientID: mcfg.ClientID,
		Username: mcfg.Username,
		Password: mcfg.Password,
	})
	if err != nil {
		return err
	}
	app.closers = append(app.closers, func() { client.Disconnect(250) })

	app.activity = append(app.activity, activitymap.NewMQTTSink(client,
		activitymap.WithTopicPrefix(mcfg.TopicPrefix),
		activitymap.WithQoS(mcfg.QoS),
		activitymap.WithNormalizeOptions(activitymap.WithRedactedKeys("email")),
	))
	app.GetLogger("activity").Info("publishing activity to %s under %s", mcfg.Broker, mcfg.TopicPrefix)

	return nil
}

func WithSessions(app *App) error {
	acfg := &app.config.Auth

	tokens, err := auth.NewTokenServiceFromConfig(acfg,
		auth.WithTokenLogger(app.GetLogger("tokens")),
	)
	if err != nil {
		return err
	}
	app.tokens = tokens

	mailer, err := newMailer(app.config.Mail)
	if err != nil {
		return err
	}

	app.sessions = auth.NewSessionManager(app.repo, tokens).
		WithSettings(auth.SessionSettingsFromConfig(acfg)).
		WithMailer(mailer).
		WithActivitySink(app.activity).
		WithLoginThrottle(auth.NewLoginThrottle(acfg.GetLoginRateLimit(), acfg.GetLoginBurst())).
		WithLogger(app.GetLogger("sessions"))

	app.resolver = auth.NewResolver(app.repo.Memberships()).
		WithLogger(app.GetLogger("resolver"))
	if app.metrics != nil {
		app.resolver.WithDecisionObserver(app.metrics)
	}

	return nil
}

func newMailer(cfg config.MailConfig) (auth.Mailer, error) {
	if cfg.Provider == "http" {
		return auth.NewHTTPMailer(cfg.APIURL, cfg.APIKey, cfg.From,
			auth.WithMailerTimeout(cfg.Timeout),
		)
	}
	return auth.NewConsoleMailer(os.Stdout), nil
}

func WithHTTPServer(app *App) error {
	scfg := app.config.Server

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:  true,
			StrictRouting: false,
			ReadTimeout:   scfg.ReadTimeout,
			WriteTimeout:  scfg.WriteTimeout,
		}))
	})

	srv.Router().WithLogger(app.GetLogger("router"))

	srv.Router().Get("/health", func(ctx router.Context) error {
		return ctx.JSON(router.StatusOK, map[string]any{
			"status":  "ok",
			"version": version,
		})
	})

	auth.RegisterAuthRoutes(srv.Router(),
		auth.WithSessionManager(app.sessions),
		auth.WithTokenService(app.tokens),
		auth.WithResolver(app.resolver),
		auth.WithCookieSettings(auth.CookieSettingsFromConfig(&app.config.Auth)),
		auth.WithControllerContextKey(app.config.Auth.GetContextKey()),
		auth.WithControllerLogger(app.GetLogger("auth")),
		auth.WithControllerDebug(app.config.Logging.Level == "trace"),
	)

	app.srv = srv
	return nil
}

// ServeMetrics runs the prometheus endpoint on its own listener
func ServeMetrics(app *App) {
	mcfg := app.config.Metrics
	lgr := app.GetLogger("metrics")

	mux := http.NewServeMux()
	mux.Handle(mcfg.Path, app.metrics.Handler())

	server := &http.Server{
		Addr:              mcfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lgr.Info("metrics listening on %s%s", mcfg.Addr, mcfg.Path)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		lgr.Error("metrics server stopped: %v", err)
	}
}

// PurgeExpiredTokens removes dead ledger rows on every tick until ctx is done
func PurgeExpiredTokens(ctx context.Context, app *App) {
	interval := app.config.Auth.PurgeInterval
	if interval <= 0 {
		return
	}

	lgr := app.GetLogger("purge")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := app.sessions.PurgeExpiredTokens(ctx)
			if err != nil {
				lgr.Error("purge failed: %v", err)
				continue
			}
			if app.metrics != nil {
				app.metrics.ObservePurge(n)
			}
			if n > 0 {
				lgr.Debug("purged %d expired tokens", n)
			}
		}
	}
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
