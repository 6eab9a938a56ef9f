// Package main - точка входа для HTTP API трекера решений о продлении.
//
// Сервис объединяет записи студентов из Notion с данными Google Sheets,
// кэширует их, пересчитывает прошедшие месяцы обучения и хранит решения
// коучей по циклам продления.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coachlab/extension-tracker/config"

	// Application layer
	"github.com/coachlab/extension-tracker/internal/application/command"
	"github.com/coachlab/extension-tracker/internal/application/query"
	"github.com/coachlab/extension-tracker/internal/application/refresh"

	// Domain
	"github.com/coachlab/extension-tracker/internal/domain/decision"
	"github.com/coachlab/extension-tracker/internal/domain/milestone"

	// Infrastructure layer
	"github.com/coachlab/extension-tracker/internal/infrastructure/cache"
	"github.com/coachlab/extension-tracker/internal/infrastructure/external/notion"
	"github.com/coachlab/extension-tracker/internal/infrastructure/external/sheets"
	"github.com/coachlab/extension-tracker/internal/infrastructure/persistence/postgres"
	"github.com/coachlab/extension-tracker/internal/infrastructure/persistence/redis"
	"github.com/coachlab/extension-tracker/internal/infrastructure/persistence/sqlite"
	"github.com/coachlab/extension-tracker/internal/infrastructure/scheduler"
	"github.com/coachlab/extension-tracker/internal/infrastructure/scheduler/jobs"

	// Interface layer
	httpserver "github.com/coachlab/extension-tracker/internal/interface/http"
	"github.com/coachlab/extension-tracker/internal/interface/http/handlers"

	// Packages
	"github.com/coachlab/extension-tracker/pkg/logger"
	"github.com/coachlab/extension-tracker/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	appLogger := setupLogger(cfg)
	log := appLogger.Slog()

	log.Info("starting extension tracker",
		"version", cfg.App.Version,
		"environment", string(cfg.App.Environment),
		"decision_store", cfg.Database.Store,
		"cache_backend", cfg.Cache.Backend,
	)

	health := handlers.NewCompositeHealthChecker(cfg.App.Version)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ХРАНИЛИЩЕ РЕШЕНИЙ (PostgreSQL или SQLite) И МИГРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	decisions, closeStore, err := openDecisionStore(ctx, cfg, log, health)
	if err != nil {
		return err
	}
	defer closeStore()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. КЭШ ИСТОЧНИКОВ (in-memory или Redis)
	// ─────────────────────────────────────────────────────────────────────────
	store, closeCache, err := openCache(ctx, cfg, log, health)
	if err != nil {
		return err
	}
	defer closeCache()

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ВНЕШНИЕ КЛИЕНТЫ (Notion, Google Sheets)
	// ─────────────────────────────────────────────────────────────────────────
	notionConfig := notion.DefaultClientConfig(cfg.Notion.APIKey, cfg.Notion.DatabaseID)
	notionConfig.BaseURL = cfg.Notion.BaseURL
	notionConfig.Version = cfg.Notion.Version
	notionConfig.Timeout = cfg.Notion.Timeout
	notionConfig.Properties = cfg.Sources.Notion.Properties
	notionConfig.StatusLabels = cfg.Sources.Notion.Labels()
	notionConfig.Logger = log
	notionClient := notion.NewClient(notionConfig)

	sheetsConfig := sheets.DefaultClientConfig(cfg.Sheets.SpreadsheetID, cfg.Sheets.APIKey)
	sheetsConfig.BaseURL = cfg.Sheets.BaseURL
	sheetsConfig.Timeout = cfg.Sheets.Timeout
	sheetsConfig.Layout = cfg.Sources.Sheets
	sheetsConfig.Logger = log
	sheetsClient := sheets.NewClient(sheetsConfig)

	// Источники не блокируют readiness: при открытом breaker сервис отдаёт кэш.
	health.AddOptionalCheck("notion", handlers.NewAvailabilityCheck(notionClient))
	health.AddOptionalCheck("sheets", handlers.NewAvailabilityCheck(sheetsClient))

	// ─────────────────────────────────────────────────────────────────────────
	// 6. APPLICATION LAYER (Refresh, Queries, Commands)
	// ─────────────────────────────────────────────────────────────────────────
	orchestrator := refresh.NewOrchestrator(
		notionClient,
		sheetsClient,
		sheetsClient,
		store,
		refresh.WithLogger(log),
	)

	calendar := milestone.NewCalendar(milestone.WithLogger(log))

	aggregator := query.NewAggregator(
		notionClient,
		orchestrator,
		calendar,
		query.WithSuspensionAdjustment(cfg.Features.Check(config.FeatureSuspensionAdjustment)),
		query.WithAggregatorLogger(log),
	)

	dashboard := query.NewDashboardHandler(aggregator, decisions)
	decisionQueries := query.NewDecisionsHandler(decisions)
	upsert := command.NewUpsertDecisionHandler(decisions, command.NewValidator(), log)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ПЛАНИРОВЩИК (ежедневное обновление кэша)
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:   log,
		Timezone: time.UTC,
	})

	if cfg.Scheduler.Enabled {
		daily, err := scheduler.NewDailySchedule(cfg.Scheduler.RefreshHour, cfg.Scheduler.RefreshMinute, time.UTC)
		if err != nil {
			return fmt.Errorf("invalid refresh schedule: %w", err)
		}

		jobConfig := jobs.DefaultRefreshSourcesConfig()
		jobConfig.Enabled = cfg.Features.Check(config.FeatureScheduledRefresh)

		if err := sched.Register(jobs.NewRefreshSourcesJob(orchestrator, log, jobConfig), daily); err != nil {
			return fmt.Errorf("failed to register refresh job: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	httpConfig := httpserver.FromAppConfig(cfg.HTTP, cfg.App.Version)
	httpServer := httpserver.NewServer(httpConfig, httpserver.Dependencies{
		Students:  aggregator,
		Decisions: decisionQueries,
		Upsert:    upsert,
		Dashboard: dashboard,
		Cache:     orchestrator,
		Jobs:      sched,
		Features:  cfg.Features,
		Health:    health,
		Logger:    appLogger,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 9. ЗАПУСК СЕРВИСОВ
	// ─────────────────────────────────────────────────────────────────────────
	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()

	if cfg.Features.IsEnabled(config.FeatureStartupPreload) {
		go func() {
			summary := orchestrator.Preload(runCtx)
			log.Info("startup preload finished",
				"success", summary.Success,
				"students", summary.StudentsCount,
				"form_updates", summary.FormUpdatesCount,
				"suspensions", summary.SuspensionsCount,
				"duration", summary.Duration,
			)
		}()
	}

	if err := sched.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 10. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("extension tracker is running", "http_address", httpConfig.Address())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		log.Error("service error", "error", err)
		return err
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	var shutdownErr error

	// 1. Перестаём принимать запросы
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", "error", err)
		shutdownErr = err
	}

	// 2. Останавливаем планировщик и фоновый preload
	stopRun()
	if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
		log.Error("failed to stop scheduler", "error", err)
		shutdownErr = err
	}

	// 3. Кэш и хранилище закроются через defer

	if shutdownErr != nil {
		log.Warn("shutdown completed with errors")
	} else {
		log.Info("shutdown completed successfully")
	}

	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRING HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// openDecisionStore подключает выбранное хранилище решений, применяет миграции
// и регистрирует обязательную проверку здоровья.
func openDecisionStore(
	ctx context.Context,
	cfg *config.Config,
	log *slog.Logger,
	health *handlers.CompositeHealthChecker,
) (decision.Repository, func(), error) {
	switch cfg.Database.Store {
	case config.DecisionStoreSQLite:
		db, err := sqlite.Open(ctx, cfg.Database.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		if err := sqlite.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("sqlite decision store ready", "path", cfg.Database.SQLitePath)

		health.AddCheck("database", sqlPing(db))
		return sqlite.NewDecisionRepository(db, timeutil.SystemClock), func() { _ = db.Close() }, nil

	default:
		dbConfig := postgres.DefaultConfig()
		dbConfig.URL = cfg.Database.URL
		if cfg.Database.MaxConns > 0 {
			dbConfig.MaxConns = cfg.Database.MaxConns
		}
		if cfg.Database.MinConns > 0 {
			dbConfig.MinConns = cfg.Database.MinConns
		}
		if cfg.Database.ConnMaxLifetime > 0 {
			dbConfig.MaxConnLifetime = cfg.Database.ConnMaxLifetime
		}
		if cfg.Database.ConnMaxIdleTime > 0 {
			dbConfig.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
		}

		conn, err := postgres.NewConnection(ctx, dbConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		applied, err := postgres.NewMigrator(conn).Migrate(ctx)
		if err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("postgres decision store ready", "migrations_applied", applied)

		health.AddCheck("database", handlers.NewPingCheck(conn))
		return postgres.NewDecisionRepository(conn), conn.Close, nil
	}
}

// openCache создаёт хранилище кэша. Redis используется только при
// CACHE_BACKEND=redis; иначе кэш живёт в памяти процесса.
func openCache(
	ctx context.Context,
	cfg *config.Config,
	log *slog.Logger,
	health *handlers.CompositeHealthChecker,
) (cache.Store, func(), error) {
	if cfg.Cache.Backend != config.CacheBackendRedis {
		return cache.NewMemoryStore(cache.WithDefaultTTL(cfg.Cache.TTL)), func() {}, nil
	}

	redisConfig := redis.DefaultConfig()
	redisConfig.URL = cfg.Redis.URL
	redisConfig.Host = cfg.Redis.Host
	redisConfig.Port = cfg.Redis.Port
	redisConfig.Password = cfg.Redis.Password
	redisConfig.DB = cfg.Redis.DB
	redisConfig.PoolSize = cfg.Redis.PoolSize
	redisConfig.MinIdleConns = cfg.Redis.MinIdleConns
	redisConfig.DialTimeout = cfg.Redis.DialTimeout
	redisConfig.ReadTimeout = cfg.Redis.ReadTimeout
	redisConfig.WriteTimeout = cfg.Redis.WriteTimeout

	client, err := redis.NewCache(redisConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping failed: %w", err)
	}
	log.Info("redis cache connected", "address", redisConfig.Addr())

	health.AddCheck("redis", handlers.NewPingCheck(client))

	store := redis.NewStore(client, redis.StoreConfig{
		KeyPrefix:  cfg.Cache.KeyPrefix,
		DefaultTTL: cfg.Cache.TTL,
		Logger:     log,
	})
	return store, func() { _ = client.Close() }, nil
}

func sqlPing(db *sql.DB) handlers.HealthCheckFunc {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger настраивает логгер: JSON в production, текст в остальных окружениях.
func setupLogger(cfg *config.Config) *logger.Logger {
	format := logger.FormatText
	if cfg.IsProduction() {
		// JSON формат для агрегаторов логов
		format = logger.FormatJSON
	}

	l := logger.New(logger.Options{
		Output: os.Stdout,
		Level:  logger.ParseLevel(cfg.App.LogLevel),
		Format: format,
	})
	slog.SetDefault(l.Slog())

	return l
}
