package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agent-market/config"
	"agent-market/handlers"
	"agent-market/middleware"
	"agent-market/models"
	"agent-market/services"
	"agent-market/utils"
	"agent-market/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := cfg.NewLogger()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		log.WithError(err).Fatal("failed to migrate database")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := services.NewMetrics()
	base := services.NewBase(db, log, metrics)
	base.Timeout = cfg.RequestTimeout

	payments := services.Payments{Balances: services.MirrorBalances{DB: db}}
	if cfg.WalletServiceURL != "" {
		payments.Sink = services.NewWalletClient(cfg.WalletServiceURL, cfg.WalletServiceToken, nil)
		go workers.PollWallets(ctx, workers.NewWalletSyncClient(db, cfg.WalletServiceURL, cfg.WalletServiceToken, log), cfg.WalletPollInterval)
	} else {
		log.Warn("WALLET_SERVICE_URL not set, payouts disabled")
	}

	var archive services.Archiver
	if r2, err := utils.NewR2Archiver(ctx, cfg.R2); err != nil {
		log.WithError(err).Fatal("failed to initialize R2 client")
	} else if r2 != nil {
		archive = r2
	}

	jobs := services.NewJobService(base)
	h := &handlers.Handler{
		Identity:     services.NewIdentityService(base),
		Actors:       services.NewActorService(base),
		Groups:       services.NewGroupService(base),
		Bounties:     services.NewBountyService(base, payments, archive, cfg.Rewards),
		Jobs:         jobs,
		Rewards:      services.NewRewardService(base, payments, cfg.Rewards),
		Feeds:        services.NewFeedService(base),
		Stream:       services.NewStreamService(base),
		Log:          log,
		ServiceToken: cfg.ServiceToken,
	}

	sched, err := workers.StartJobExpiry(jobs, cfg.JobSweepInterval, log)
	if err != nil {
		log.WithError(err).Fatal("failed to start job expiry scheduler")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Origins(),
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-API-Key, X-Job-Token, X-Service-Token, X-Request-ID",
		MaxAge:       86400,
	}))
	app.Use(middleware.Observe(metrics))
	app.Use(middleware.RequestContext(cfg.RequestTimeout))

	app.Get("/healthz", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handlers.Setup(app, h)

	go func() {
		if err := app.Listen(cfg.ListenAddr); err != nil {
			log.WithError(err).Error("server error")
		}
	}()
	log.WithField("addr", cfg.ListenAddr).Info("server running")

	<-ctx.Done()
	log.Info("shutting down server...")
	if err := sched.Shutdown(); err != nil {
		log.WithError(err).Warn("scheduler shutdown")
	}
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.WithError(err).Warn("server shutdown")
	}
}
