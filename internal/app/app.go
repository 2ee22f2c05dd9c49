package app

import (
	"context"

	"rectrade-backend/internal/audit"
	"rectrade-backend/internal/config"
	"rectrade-backend/internal/database"
	"rectrade-backend/internal/escrow"
	"rectrade-backend/internal/health"
	"rectrade-backend/internal/ledger"
	"rectrade-backend/internal/matching"
	"rectrade-backend/internal/middleware"
	"rectrade-backend/internal/notary"
	"rectrade-backend/internal/orderbook"
	"rectrade-backend/internal/pkg/keylock"
	"rectrade-backend/internal/settlement"
	"rectrade-backend/internal/trading"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// App bundles the wired engine and its surrounding processes.
type App struct {
	Fiber  *fiber.App
	DB     *gorm.DB
	Rdb    *redis.Client
	Engine *matching.Engine
	Worker *notary.Worker
}

// New builds the app from config: opens Postgres and Redis, migrates, wires
// ledger → escrow → matching → settlement → notary, rebuilds the book from
// open orders, and registers routes.
func New(cfg *config.Config) (*App, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	return Build(cfg, db, rdb)
}

// Build wires the app onto existing DB and Redis handles (tests inject
// sqlite and miniredis here).
func Build(cfg *config.Config, db *gorm.DB, rdb *redis.Client) (*App, error) {
	if err := database.AutoMigrate(db); err != nil {
		return nil, err
	}
	if err := database.EnsurePlatformAccount(db, cfg.PlatformAccountID); err != nil {
		return nil, err
	}

	recorder := &audit.GormRecorder{DB: db}
	store := ledger.NewStore(db, keylock.NewRegistry(), recorder)
	esc := escrow.NewManager(cfg.BuyerFeeBps, cfg.NotarizationFeeFils)

	queue := notary.NewQueue(rdb)
	processor := settlement.NewProcessor(store, esc, recorder, queue, settlement.Config{
		BuyerFeeBps:         cfg.BuyerFeeBps,
		SellerFeeBps:        cfg.SellerFeeBps,
		NotarizationFeeFils: cfg.NotarizationFeeFils,
		PlatformAccountID:   cfg.PlatformAccountID,
		MaxRetries:          cfg.SettlementMaxRetries,
	})
	engine := matching.NewEngine(db, orderbook.New(), store, esc, processor)
	if _, err := engine.LoadOpenOrders(context.Background()); err != nil {
		return nil, err
	}

	gateway := notary.NewHTTPGateway(cfg.NotaryURL, cfg.NotaryAPIKey)
	worker := notary.NewWorker(db, queue, gateway, recorder, cfg.NotaryMaxAttempts)

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          middleware.ErrorHandler,
	})
	app.Use(middleware.CORS(cfg.CORSAllowedSuffix))
	app.Use(middleware.Tracing())
	app.Use(middleware.RouteLogger())

	healthHandlers := &health.Handlers{Rdb: rdb, DB: dbPinger(db)}
	app.Get("/health/json", healthHandlers.JSON)

	svc := &trading.Service{DB: db, Engine: engine, Store: store}
	handlers := &trading.Handlers{Service: svc}

	api := app.Group("/api/v1", middleware.RequireAccount())
	api.Post("/orders", handlers.SubmitOrder)
	api.Delete("/orders/:id", handlers.CancelOrder)
	api.Get("/orders/:id", handlers.GetOrder)
	api.Get("/orderbook", handlers.GetOrderBook)
	api.Get("/transactions/:id", handlers.GetTransaction)
	api.Get("/accounts/balances", handlers.GetAccountBalances)

	return &App{Fiber: app, DB: db, Rdb: rdb, Engine: engine, Worker: worker}, nil
}

func dbPinger(db *gorm.DB) health.DBPinger {
	sqlDB, err := db.DB()
	if err != nil {
		return nil
	}
	return sqlDB
}
