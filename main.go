package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lenmanean/logbloga/cache"
	apperrors "github.com/lenmanean/logbloga/common/errors"
	"github.com/lenmanean/logbloga/common/logger"
	"github.com/lenmanean/logbloga/common/middleware"
	"github.com/lenmanean/logbloga/config"
	"github.com/lenmanean/logbloga/consumer"
	"github.com/lenmanean/logbloga/controllers"
	"github.com/lenmanean/logbloga/database"
	"github.com/lenmanean/logbloga/kafka"
	"github.com/lenmanean/logbloga/models"
	aws_pkg "github.com/lenmanean/logbloga/pkg/aws"
	"github.com/lenmanean/logbloga/repository"
	"github.com/lenmanean/logbloga/routes"
	"github.com/lenmanean/logbloga/sender"
	"github.com/lenmanean/logbloga/services"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const serviceName = "logbloga-storefront"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	ctx := context.Background()
	awsCfg, awsErr := aws_pkg.LoadAWSConfig(ctx)

	var cwWriter io.Writer
	if cfg.CloudWatchLogsEnabled && awsErr == nil {
		if w, err := aws_pkg.NewCloudWatchLogsClient(ctx, awsCfg, serviceName); err == nil {
			cwWriter = w
		}
	}
	log, err := logger.New(cfg.Environment, cwWriter)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	if awsErr != nil {
		log.Fatal("AWS config load failed", zap.Error(awsErr))
	}

	// Database
	db, err := database.ConnectPostgres(ctx, cfg.PostgresDSN(), database.DefaultPool, log, models.All()...)
	if err != nil {
		log.Fatal("DB connection failed", zap.Error(err))
	}

	// Cache (Redis when configured, in-process otherwise)
	var productCache cache.Cache = cache.NewMemoryCache()
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Warn("Redis unavailable, using in-memory cache (non-fatal)", zap.Error(err))
		} else {
			productCache = cache.NewRedisCache(redisClient)
		}
	}

	// CloudWatch metrics (disabled unless CLOUDWATCH_ENABLED=true)
	metricsClient := aws_pkg.NewMetricsClient(awsCfg)

	// Order event fan-out
	var publishers services.MultiPublisher
	var producer *kafka.OrderEventProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = kafka.NewOrderEventProducer(cfg.KafkaBrokers, cfg.KafkaOrderTopic, log)
		publishers = append(publishers, producer)
	}
	if cfg.OrderEventsSNSTopicARN != "" {
		publishers = append(publishers, services.NewSNSEventPublisher(aws_pkg.NewSNSClient(awsCfg), cfg.OrderEventsSNSTopicARN))
	}
	var publisher services.EventPublisher
	if len(publishers) > 0 {
		publisher = publishers
	}

	// Email sender
	var emailSender sender.EmailSender
	switch cfg.EmailProvider {
	case "api":
		emailSender, err = sender.NewAPISender(cfg.EmailAPIURL, cfg.EmailAPIKey, cfg.EmailFrom)
	default:
		emailSender, err = sender.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.EmailFrom)
	}
	if err != nil {
		log.Fatal("Failed to init email sender", zap.Error(err))
	}

	// Dependency injection
	orderRepo := repository.NewGormOrderRepository(db)
	productRepo := repository.NewCachedProductRepository(repository.NewGormProductRepository(db), productCache, cfg.CacheTTL, log)
	licenseRepo := repository.NewGormLicenseRepository(db)
	notificationRepo := repository.NewGormNotificationRepository(db)
	couponRepo := repository.NewGormCouponRepository(db)
	eventRepo := repository.NewGormWebhookEventRepository(db)
	failureRepo := repository.NewGormSideEffectRepository(db)
	downloadLogRepo := repository.NewGormDownloadLogRepository(db)

	stripeService := services.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookSecret)

	notificationService, err := services.NewNotificationService(notificationRepo, emailSender, cfg.AppBaseURL, log)
	if err != nil {
		log.Fatal("Failed to initialize notification service", zap.Error(err))
	}
	licenseService := services.NewLicenseService(licenseRepo, orderRepo, productRepo, log)
	couponService := services.NewCouponService(couponRepo, services.CouponConfig{
		Percent:  cfg.BonusCouponPercent,
		Validity: cfg.BonusCouponValidity,
	}, log)
	orderService := services.NewOrderService(orderRepo, productRepo, couponRepo, stripeService, metricsClient, services.OrderConfig{
		AppBaseURL:     cfg.AppBaseURL,
		DownloadKeyTTL: cfg.DownloadKeyTTL,
	}, log)
	downloadService := services.NewDownloadService(orderRepo, productRepo, downloadLogRepo,
		aws_pkg.NewS3Presigner(awsCfg, cfg.DownloadsBucket), metricsClient, cfg.DownloadURLTTL, log)

	processor := services.NewWebhookProcessor(services.WebhookDependencies{
		Orders:        orderRepo,
		Events:        eventRepo,
		Failures:      failureRepo,
		Licenses:      licenseService,
		Notifications: notificationService,
		Coupons:       couponService,
		Publisher:     publisher,
		Metrics:       metricsClient,
	}, services.WebhookProcessorConfig{
		NotifyOnCancelRefund: cfg.NotifyOnCancelRefund,
		AppBaseURL:           cfg.AppBaseURL,
	}, log)

	health := map[string]controllers.Pinger{
		"postgres": func(ctx context.Context) error { return database.Ping(ctx, db) },
	}
	if redisClient != nil {
		health["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	// Long-lived goroutines stop when rootCtx is cancelled
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.SecurityHeaders())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSAllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Stripe-Signature"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(middleware.MetricsMiddleware(metricsClient, serviceName))
	r.Use(apperrors.ErrorMiddleware())

	routes.RegisterRoutes(r, routes.Controllers{
		Webhook:      controllers.NewWebhookController(stripeService, processor, log),
		Orders:       controllers.NewOrderController(orderService),
		Library:      controllers.NewLibraryController(licenseService),
		Downloads:    controllers.NewDownloadController(downloadService),
		Notification: controllers.NewNotificationController(notificationService),
		Coupons:      controllers.NewCouponController(couponService),
		Admin:        controllers.NewAdminController(orderService, failureRepo, log),
		Health:       controllers.NewHealthController(health, log),
	},
		middleware.NewAuthenticator(cfg.JWTSecret),
		middleware.NewRateLimiter(rootCtx, rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst, 10*time.Minute),
	)

	// Start SQS consumer for EventBridge-delivered Stripe events
	consumerDone := make(chan struct{})
	if cfg.StripeEventsQueueURL != "" {
		eventConsumer := consumer.NewStripeEventConsumer(aws_pkg.NewSQSConsumer(awsCfg, cfg.StripeEventsQueueURL, log), processor, log)
		go func() {
			defer close(consumerDone)
			eventConsumer.Start(rootCtx)
		}()
	} else {
		close(consumerDone)
	}

	// HTTP server
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info("Storefront service started", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Initiating graceful shutdown...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", zap.Error(err))
	}

	rootCancel()
	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		log.Warn("consumer did not stop before shutdown deadline")
	}

	if producer != nil {
		producer.Close()
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Error("Redis close error", zap.Error(err))
		}
	}
	if err := database.Close(db); err != nil {
		log.Error("Database close error", zap.Error(err))
	}

	log.Info("Storefront service stopped gracefully")
}
