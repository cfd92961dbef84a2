package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"workshop-service/config"
	"workshop-service/internal/api"
	"workshop-service/internal/broker"
	"workshop-service/internal/gateway"
	"workshop-service/internal/notify"
	"workshop-service/internal/redisclient"
	"workshop-service/internal/service"
	"workshop-service/internal/store"
	"workshop-service/internal/util"
	"workshop-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting workshop service")

	tp, err := util.InitTracer(cfg.Observ.JaegerEndpoint, cfg.Server.Env)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	if err := db.SetWorkshopTimezone(cfg.Scheduler.WorkshopTimezone); err != nil {
		logger.Fatal("Invalid workshop timezone", zap.Error(err))
	}
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	defer producer.Close()
	logger.Info("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	tapClient := gateway.NewClient(cfg.Payment.TapBaseURL, cfg.Payment.TapSecretKey, cfg.Payment.GatewayTimeout)

	paymentLog := service.NewPaymentLogger(db)
	seats := service.NewSeatAccountant(db, db, redisClient)
	cleanup := service.NewRegistrationCleanup(db, cfg.Payment.ProcessingGrace)
	reconciler := service.NewPaymentReconciler(db, db, seats, paymentLog, eventPublisher)
	verifier := service.NewPaymentVerifier(tapClient, reconciler, seats, paymentLog, service.RetryPolicy{
		MaxAttempts: cfg.Payment.VerifyMaxAttempts,
		Delay:       cfg.Payment.VerifyDelay,
	})
	registrationService := service.NewRegistrationService(
		db, db, tapClient, cleanup, seats, paymentLog, eventPublisher, redisClient,
		service.RegistrationOptions{
			Currency:         cfg.Payment.Currency,
			CallbackURL:      cfg.Payment.CallbackURL,
			WebhookURL:       cfg.Payment.WebhookURL,
			PhoneCountryCode: cfg.Payment.PhoneCountryCode,
			LockTTL:          cfg.Payment.SubmissionLockTTL,
		},
	)
	seatCloser := service.NewSeatCloser(db, seats, eventPublisher, service.DefaultCloseWindow)
	adminService := service.NewAdminService(cleanup, seats)

	ctx := context.Background()
	if err := seats.SyncSeatsToCache(ctx); err != nil {
		logger.Warn("Failed to sync seats to Redis", zap.Error(err))
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	mailer := notify.NewMailer(notify.MailerConfig{
		Provider:    cfg.Mail.Provider,
		FromAddress: cfg.Mail.FromAddress,
		FromName:    cfg.Mail.FromName,
		SES: notify.SESConfig{
			Region:          cfg.Mail.AWSRegion,
			AccessKeyID:     cfg.Mail.AWSAccessKeyID,
			SecretAccessKey: cfg.Mail.AWSSecretAccessKey,
		},
	})
	sender := worker.NewConfirmationSender(db, mailer, cfg.Payment.Currency)

	eventConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Kafka.ConsumerGroup)
	confirmationWorker := worker.NewConfirmationWorker(eventConsumer, sender)
	go func() {
		if err := confirmationWorker.Start(workerCtx); err != nil {
			logger.Error("Confirmation worker error", zap.Error(err))
		}
	}()

	closerJob, err := worker.NewSeatCloserJob(seatCloser, cfg.Scheduler.SeatCloserSchedule)
	if err != nil {
		logger.Fatal("Failed to schedule seat closer", zap.Error(err))
	}
	closerJob.Start()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Dependencies{
		Registrations: registrationService,
		Verifier:      verifier,
		Reconciler:    reconciler,
		Signatures:    tapClient,
		Seats:         seats,
		Admin:         adminService,
		Closer:        seatCloser,
		PaymentLogs:   db,
		Readiness: map[string]api.ReadinessCheck{
			"postgres": func(context.Context) error { return db.Ping() },
			"redis":    func(ctx context.Context) error { return redisClient.GetClient().Ping(ctx).Err() },
		},
	}, cfg.Auth.JWTSecret)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	<-closerJob.Stop().Done()
	workerCancel()
	confirmationWorker.Stop()

	logger.Info("Server exited")
}
