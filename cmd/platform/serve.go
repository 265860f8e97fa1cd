package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fincasdesk/platform/internal/ai"
	caseapi "github.com/fincasdesk/platform/internal/case/api"
	"github.com/fincasdesk/platform/internal/case/domain"
	caseinfra "github.com/fincasdesk/platform/internal/case/infrastructure"
	"github.com/fincasdesk/platform/internal/directory"
	"github.com/fincasdesk/platform/internal/extractor"
	"github.com/fincasdesk/platform/internal/intake"
	"github.com/fincasdesk/platform/internal/lifecycle"
	"github.com/fincasdesk/platform/internal/notification"
	"github.com/fincasdesk/platform/internal/resolver"
	"github.com/fincasdesk/platform/internal/shared/auth"
	"github.com/fincasdesk/platform/internal/shared/config"
	"github.com/fincasdesk/platform/internal/shared/database"
	"github.com/fincasdesk/platform/internal/shared/events"
	"github.com/fincasdesk/platform/internal/shared/logger"
	"github.com/fincasdesk/platform/internal/shared/metrics"
	secmiddleware "github.com/fincasdesk/platform/internal/shared/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the intake webhooks and the admin API",
	RunE:  runServe,
}

// App holds all application dependencies
type App struct {
	Config *config.Config
	Log    *slog.Logger
	DB     *database.DB
	Bus    events.EventBus
	Redis  *redis.Client
	AI     *ai.Client

	cases     domain.Repository
	messages  domain.MessageRepository
	directory *directory.Service
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.Init(cfg.Log)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := &App{Config: cfg, Log: log}
	if err := app.initStorage(ctx); err != nil {
		return err
	}
	defer app.close()
	app.initBus(ctx)
	app.initRedis(ctx)

	router := app.router()
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := lifecycle.NewMetricsProjector(app.Bus, log).Start(gctx); err != nil {
			log.Warn("metrics projector not started", logger.Err(err))
		}
		return nil
	})

	g.Go(func() error {
		log.Info("server listening", "addr", srv.Addr, "env", cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

// initStorage connects to Postgres and runs migrations, or wires the
// in-memory repositories when database.in_memory is set
func (a *App) initStorage(ctx context.Context) error {
	if a.Config.Database.InMemory {
		repo := caseinfra.NewMemoryRepository()
		a.cases, a.messages = repo, repo
		a.directory = directory.NewService(directory.NewMemoryRepository(), a.Log)
		a.Log.Warn("running with in-memory storage, data is lost on restart")
		return nil
	}

	db, err := database.New(ctx, a.Config.Database)
	if err != nil {
		return err
	}
	a.DB = db
	if err := database.Migrate(ctx, db.Pool, a.Log); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	repo := caseinfra.NewPostgresRepository(db.Pool, a.Log)
	a.cases, a.messages = repo, repo
	a.directory = directory.NewService(directory.NewPostgresRepository(db.Pool, a.Log), a.Log)
	return nil
}

// initBus connects to KurrentDB when enabled. Case events still flow
// through the in-process bus when it is unreachable.
func (a *App) initBus(ctx context.Context) {
	bus, kind, err := events.NewEventBus(ctx, a.Config.KurrentDB, a.Log)
	if err != nil {
		a.Log.Warn("KurrentDB not available, using in-process bus", logger.Err(err))
		bus, kind = events.NewMemoryBus(a.Log), "memory"
	}
	a.Bus = bus
	a.Log.Info("event bus ready", "kind", kind)
}

// initRedis enables cross-instance message claims when redis.addr is set
func (a *App) initRedis(ctx context.Context) {
	if a.Config.Redis.Addr == "" {
		return
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		a.Log.Warn("redis not available, message claims disabled", logger.Err(err))
		client.Close()
		return
	}
	a.Redis = client
}

func (a *App) close() {
	if a.Bus != nil {
		a.Bus.Close()
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

func (a *App) dispatcher() *notification.Dispatcher {
	cfg := a.Config
	d := notification.NewDispatcher(notification.DispatcherConfig{
		Attempts:        cfg.Intake.DeliveryAttempts,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MessageIDDomain: cfg.SMTP.MessageIDDomain,
	}, a.Log)

	if cfg.SMTP.Host != "" {
		d.Register(notification.ChannelEmail, notification.NewSMTPSender(cfg.SMTP))
	} else {
		a.Log.Warn("smtp.host not set, outbound mail goes to the log")
		d.Register(notification.ChannelEmail, notification.NewConsoleSender(notification.ChannelEmail, a.Log))
	}
	if cfg.Chat.GatewayURL != "" {
		d.Register(notification.ChannelChat, notification.NewChatSender(cfg.Chat))
	} else {
		a.Log.Warn("chat.gateway_url not set, outbound chat goes to the log")
		d.Register(notification.ChannelChat, notification.NewConsoleSender(notification.ChannelChat, a.Log))
	}
	return d
}

func (a *App) router() chi.Router {
	cfg := a.Config
	log := a.Log

	a.AI = ai.NewClient(cfg.AI, log)
	var completer ai.Completer
	if a.AI.Enabled() {
		completer = a.AI
		log.Info("ai analysis enabled", "model", a.AI.Model())
	} else {
		log.Warn("ai analysis disabled, using keyword classifier")
	}
	ext := extractor.New(completer, nil, log)

	lc := lifecycle.NewService(a.cases, a.messages, ext, a.directory, a.dispatcher(), a.Bus,
		lifecycle.Config{FromAddress: cfg.SMTP.FromAddress, ChatFrom: cfg.Chat.From}, log)
	res := resolver.New(a.cases, a.messages, ext, resolver.NewConfig(cfg.Intake, cfg.SMTP), log)

	var deduper intake.Deduper = intake.NoopDeduper{}
	if a.Redis != nil {
		deduper = intake.NewRedisDeduper(a.Redis, cfg.Redis.DedupeTTL)
	}
	pipeline := intake.NewPipeline(a.cases, a.messages, res, ext, lc, a.directory, deduper,
		intake.SelfLoopFilter{FromAddress: cfg.SMTP.FromAddress, MessageIDDomain: cfg.SMTP.MessageIDDomain}, log)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(secmiddleware.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(metrics.Middleware)
	r.Use(secmiddleware.CORS(secmiddleware.DefaultCORSConfig()))

	// Health checks (unauthenticated)
	r.Get("/health", healthHandler)
	r.Get("/ready", a.readyHandler)
	r.Handle("/metrics", metrics.Handler())

	// Channel webhooks
	r.Mount("/intake", intake.NewHandler(pipeline, cfg.Intake).Routes())

	// Admin API
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Server.IsProduction() {
			r.Use(auth.Middleware(cfg.Auth))
			r.Use(auth.RequireRoles(auth.RoleAdmin, auth.RoleOperator))
		}
		r.Mount("/cases", caseapi.NewHandler(a.cases, a.messages, lc).Routes())
		r.Mount("/directory", directory.NewHandler(a.directory).Routes())
		r.Mount("/ai", ai.NewHandler(a.AI).Routes())
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

func (a *App) readyHandler(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{
		"server": "ready",
	}

	if a.DB != nil {
		if err := a.DB.Health(r.Context()); err != nil {
			checks["database"] = "not ready: " + err.Error()
		} else {
			checks["database"] = "ready"
		}
	} else {
		checks["database"] = "not configured"
	}

	if err := a.Bus.Health(); err != nil {
		checks["event_bus"] = "not ready: " + err.Error()
	} else {
		checks["event_bus"] = "ready"
	}

	if a.Redis != nil {
		if err := a.Redis.Ping(r.Context()).Err(); err != nil {
			checks["redis"] = "not ready: " + err.Error()
		} else {
			checks["redis"] = "ready"
		}
	} else {
		checks["redis"] = "not configured"
	}

	allReady := true
	for _, status := range checks {
		if status != "ready" && status != "not configured" {
			allReady = false
			break
		}
	}

	status := http.StatusOK
	if !allReady {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
		"checks": checks,
	})
}
