package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"nft-upgrade-system/handlers"
	"nft-upgrade-system/middleware"
	"nft-upgrade-system/models"
	"nft-upgrade-system/services"
	"nft-upgrade-system/utils"
	"nft-upgrade-system/workers"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		ReadTimeout: 0, // SSE connections stay open indefinitely
	})

	// 🔐 GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Service-Token, X-User-ID, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.UpgradeRequest{},
		&models.UpgradeStatusHistory{},
		&models.UserNFT{},
		&models.BadgeType{},
		&models.UserBadge{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}
	redisOptions, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Fatal("invalid REDIS_URL:", err)
	}
	redisClient := redis.NewClient(redisOptions)
	redisOpt := asynq.RedisClientOpt{
		Addr:     redisOptions.Addr,
		Password: redisOptions.Password,
		DB:       redisOptions.DB,
	}

	walletServiceURL := os.Getenv("WALLET_SERVICE_URL")
	if walletServiceURL == "" {
		log.Fatal("WALLET_SERVICE_URL environment variable not set")
	}
	serviceToken := os.Getenv("UPGRADE_SERVICE_TOKEN")
	if serviceToken == "" {
		log.Fatal("UPGRADE_SERVICE_TOKEN environment variable not set")
	}
	authServiceURL := os.Getenv("AUTH_SERVICE_URL")
	if authServiceURL == "" {
		log.Fatal("AUTH_SERVICE_URL environment variable not set")
	}
	badgeServiceURL := os.Getenv("BADGE_SERVICE_URL")
	if badgeServiceURL == "" {
		log.Fatal("BADGE_SERVICE_URL environment variable not set")
	}

	kafkaBrokers := strings.Split(os.Getenv("KAFKA_BROKERS"), ",")
	if kafkaBrokers[0] == "" {
		kafkaBrokers = []string{"localhost:9092"}
	}
	kafkaTopic := os.Getenv("KAFKA_UPGRADE_TOPIC")
	if kafkaTopic == "" {
		kafkaTopic = "nft-upgrade-events"
	}

	sseManager := services.NewSSEConnectionManager(services.DefaultSSEManagerConfig())
	eventStream := services.NewKafkaEventStream(kafkaBrokers, kafkaTopic)
	ledgerClient := services.NewWalletLedgerClient(walletServiceURL, serviceToken)
	badgeService := services.NewBadgeService(db)
	nftService := services.NewUserNFTService(db)
	repo := services.NewGormUpgradeRepository(db)
	authClient := services.NewAuthServiceClient(authServiceURL, serviceToken)

	manager := services.NewConcurrentUpgradeManager(redisClient, db, redisOpt)
	upgradeService := services.NewNFTUpgradeService(
		sseManager,
		eventStream,
		ledgerClient,
		badgeService,
		nftService,
		repo,
		manager,
		services.DefaultUpgradeServiceConfig(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	upgradeWorker := workers.NewUpgradeWorker(redisOpt, upgradeService, manager, 10)
	if err := upgradeWorker.Start(); err != nil {
		log.Fatal("failed to start upgrade worker:", err)
	}

	nftSyncClient := workers.NewNFTSyncClient(db)
	go workers.PollNFTs(ctx, nftSyncClient, 10*time.Second)

	badgeSyncWorker := workers.NewBadgeSyncWorker(db, badgeServiceURL, "/api/v1/public/badges", serviceToken)
	badgeSyncWorker.Start(ctx)

	scheduler := services.NewMaintenanceScheduler(upgradeService, manager, sseManager)
	if err := scheduler.Start(ctx); err != nil {
		log.Fatal("failed to start maintenance scheduler:", err)
	}

	handlers.SetupUpgradeRoutes(app, manager, upgradeService, sseManager, authClient)

	port := os.Getenv("PORT")
	if port == "" {
		port = "5300"
	}
	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", port)
	log.Println("✅ Upgrade queue worker running")
	log.Println("✅ NFT mirror polling running (every 10s)")
	log.Println("✅ Badge Sync Worker running")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")

	upgradeWorker.Shutdown()
	scheduler.Shutdown()
	sseManager.Shutdown()
	if err := manager.Shutdown(); err != nil {
		log.Printf("Failed to close queue client: %v", err)
	}
	if err := eventStream.Close(); err != nil {
		log.Printf("Failed to close event stream: %v", err)
	}
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
