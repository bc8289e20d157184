package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"realm-sim-server/handlers"
	"realm-sim-server/middleware"
	"realm-sim-server/models"
	"realm-sim-server/services"
	"realm-sim-server/utils"
	"realm-sim-server/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
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
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Realm{},
		&models.Kingdom{},
		&models.City{},
		&models.Resource{},
		&models.CityResource{},
		&models.Building{},
		&models.CityBuilding{},
		&models.Governor{},
		&models.CityGovernor{},
		&models.MarketOrder{},
		&models.Trade{},
		&models.PriceHistory{},
		&models.Route{},
		&models.RouteShipment{},
		&models.PublicWork{},
		&models.PveNode{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	cfg := services.LoadSimConfig()
	locks := services.NewEntityLocks()

	marketService := services.NewMarketService(db, cfg)
	routeService := services.NewRouteService(db, cfg, locks)
	worksService := services.NewPublicWorksService(db, cfg, locks)

	cityService := services.NewCityService(db, cfg, locks)
	cityService.Market = marketService
	cityService.Routes = routeService
	cityService.Works = worksService

	orchestrator := services.NewOrchestrator(db, cfg, locks, cityService, marketService, routeService)
	orchestrator.StartTickScheduler()
	defer orchestrator.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	archive := utils.R2Configured()
	if archive {
		if err := utils.InitR2(); err != nil {
			log.Fatal("failed to initialize R2 client:", err)
		}
	} else {
		log.Println("⚠️  R2 not configured — market history archives disabled")
	}
	historyClient := workers.NewHistoryClient(db, archive)
	go workers.PollHistory(ctx, historyClient, cfg.ReconcilePeriod)

	handlers.SetupSimRoutes(app, cityService, marketService)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Printf("✅ Tick orchestrator running (cycle every %s)", cfg.TickPeriod)
	log.Println("✅ Market history aggregation running")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = app.ShutdownWithContext(shutdownCtx)
}
