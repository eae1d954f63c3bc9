package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	goredis "github.com/redis/go-redis/v9"

	"github.com/jhoicas/comprobantes-sri/internal/application/billing"
	"github.com/jhoicas/comprobantes-sri/internal/application/usecase"
	"github.com/jhoicas/comprobantes-sri/internal/infrastructure/metrics"
	"github.com/jhoicas/comprobantes-sri/internal/infrastructure/postgres"
	infraredis "github.com/jhoicas/comprobantes-sri/internal/infrastructure/redis"
	infrasri "github.com/jhoicas/comprobantes-sri/internal/infrastructure/sri"
	"github.com/jhoicas/comprobantes-sri/internal/infrastructure/sri/signer"
	httpRouter "github.com/jhoicas/comprobantes-sri/internal/interfaces/http"
	"github.com/jhoicas/comprobantes-sri/pkg/config"
	"github.com/jhoicas/comprobantes-sri/pkg/jwt"
	"github.com/jhoicas/comprobantes-sri/pkg/logger"
	"github.com/jhoicas/comprobantes-sri/pkg/sri"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: cfg.App.LogLevel,
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Str("sri", cfg.SRI.AppEnv).
		Str("signer", cfg.Signer.Mode).
		Msg("iniciando aplicación")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DB.AutoMigrate {
		if err := migrateUp(cfg.DB, log); err != nil {
			log.Fatal().Err(err).Msg("migraciones")
		}
	}

	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a PostgreSQL")
	}
	defer pool.Close()

	companyRepo := postgres.NewCompanyRepository(pool)
	pointRepo := postgres.NewEmissionPointRepository(pool)
	estabRepo := postgres.NewEstablishmentRepository(pool)
	comprobanteRepo := postgres.NewComprobanteRepository(pool)
	txRunner := postgres.NewTxRunner(pool)

	recorder := metrics.NewRecorder()

	// Redis: canal del firmador y lock distribuido del secuencial.
	var rdb *goredis.Client
	if cfg.Signer.Mode == "redis" {
		rdb, err = infraredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("conexión a Redis")
		}
		defer rdb.Close()
	}

	var signingSvc billing.SigningService
	if rdb != nil {
		signingSvc = infraredis.NewSigningClient(rdb, cfg.Signer.Queue, cfg.Signer.Timeout, log)
	} else {
		store, err := signer.NewCertStore(cfg.Signer.CertDir)
		if err != nil {
			log.Fatal().Err(err).Msg("almacén de certificados")
		}
		signingSvc = signer.NewLocalService(store, signer.NewXAdESSigner())
	}

	var locker billing.Locker = billing.NewKeyedMutex()
	if rdb != nil {
		// El lock cubre firma, recepción y commit del secuencial.
		ttl := cfg.Signer.Timeout + 2*cfg.SRI.Timeout + 30*time.Second
		locker = infraredis.NewLocker(rdb, ttl)
	}

	var base sri.Authority
	if cfg.SRI.AppEnv == "dev" {
		log.Warn().Msg("SRI simulado en memoria (SRI_APP_ENV=dev)")
		base = infrasri.NewDevAuthority()
	} else {
		base = infrasri.NewSOAPClient(cfg.SRI.Timeout, map[sri.Environment]infrasri.Endpoints{
			sri.EnvironmentTest: {
				Reception:     cfg.SRI.ReceptionURLTest,
				Authorization: cfg.SRI.AuthorizationURLTest,
			},
			sri.EnvironmentProduction: {
				Reception:     cfg.SRI.ReceptionURLProduction,
				Authorization: cfg.SRI.AuthorizationURLProduction,
			},
		})
	}
	authority := infrasri.NewResilientAuthority(base, infrasri.ResilientConfig{
		RateLimit: cfg.SRI.RateLimit,
		RateBurst: cfg.SRI.RateBurst,
		Breaker: infrasri.BreakerConfig{
			FailureThreshold: cfg.SRI.BreakerFailureThreshold,
			SuccessThreshold: cfg.SRI.BreakerSuccessThreshold,
			OpenTimeout:      cfg.SRI.BreakerOpenTimeout,
		},
		OnStateChange: func(s infrasri.BreakerState) { recorder.SetBreakerState(int(s)) },
	}, log)

	lifecycle := billing.NewLifecycle(billing.Dependencies{
		Comprobantes: comprobanteRepo,
		Companies:    companyRepo,
		Points:       pointRepo,
		TxRunner:     txRunner,
		Renderer:     infrasri.NewXMLBuilder(),
		Signer:       signingSvc,
		Authority:    authority,
		Locker:       locker,
		Metrics:      recorder,
		Logger:       log,
	}, billing.LifecycleConfig{
		OwnerID:           cfg.Signer.OwnerID,
		EmissionType:      sri.EmissionType(cfg.SRI.EmissionType),
		AnnulmentWindow:   cfg.Scheduler.AnnulmentWindow,
		AnnulmentThrottle: cfg.Scheduler.AnnulmentThrottle,
	})

	if cfg.Scheduler.Enabled {
		billing.NewPoller(lifecycle, comprobanteRepo, authority, billing.PollerConfig{
			Interval:          cfg.Scheduler.Interval,
			BatchSize:         cfg.Scheduler.BatchSize,
			Concurrency:       cfg.Scheduler.Concurrency,
			AnnulmentWindow:   cfg.Scheduler.AnnulmentWindow,
			AnnulmentThrottle: cfg.Scheduler.AnnulmentThrottle,
		}, log).Start(ctx)
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: cfg.SRI.Timeout*2 + cfg.Signer.Timeout,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	// Swagger UI en local: http://localhost:<port>/docs
	if _, err := os.Stat("./docs/swagger.json"); err == nil {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/",
			FilePath: "./docs/swagger.json",
			Path:     "docs",
			Title:    "Comprobantes SRI API",
		}))
	}

	tokens, err := jwt.NewIssuer(cfg.JWT.Secret, cfg.JWT.Issuer, time.Duration(cfg.JWT.Expiration)*time.Minute)
	if err != nil {
		log.Fatal().Err(err).Msg("configuración JWT")
	}

	deps := httpRouter.RouterDeps{
		CompanyUC: usecase.NewCompanyUseCase(companyRepo, estabRepo),
		Drafts:    billing.NewDraftUseCase(comprobanteRepo, pointRepo),
		Lifecycle: lifecycle,
		Tokens:    tokens,
		Tenants:   companyRepo,
		Health: func() fiber.Map {
			return fiber.Map{"service": cfg.App.Name, "sri_breaker": authority.State().String()}
		},
	}
	if cfg.Metrics.Enabled {
		deps.Metrics = recorder.Handler()
		deps.MetricsPath = cfg.Metrics.Path
	}
	httpRouter.Router(app, deps)

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}

	log.Info().Msg("aplicación detenida")
}

func migrateUp(cfg config.DBConfig, log *logger.Logger) error {
	m, err := postgres.NewMigrator(cfg.ConnectionString(), log)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Up()
}
