package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/sovra/wallet-ledger/internal/config"
	"github.com/sovra/wallet-ledger/internal/events"
	"github.com/sovra/wallet-ledger/internal/funding"
	"github.com/sovra/wallet-ledger/internal/invoice"
	"github.com/sovra/wallet-ledger/internal/ledger"
	"github.com/sovra/wallet-ledger/internal/middleware"
	"github.com/sovra/wallet-ledger/internal/node"
	"github.com/sovra/wallet-ledger/internal/pricing"
	"github.com/sovra/wallet-ledger/internal/settlement"
	"github.com/sovra/wallet-ledger/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	NATS   *nats.Conn
	Logger *slog.Logger
	// Processor overrides the payment processor connector; nil approves everything.
	Processor funding.Processor
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though config also checks.
	if !d.Cfg.IsDevelopment() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "UTC",
	}))
	app.Use(middleware.Audit(d.Logger))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	// Health
	RegisterHealthRoutes(app, d)

	// Backends
	var (
		ledgerBackend  ledger.Ledger
		settlementRepo settlement.Repository
		nodeRepo       node.Repository
		invoiceRepo    invoice.Repository
	)
	if d.DB != nil {
		ledgerBackend = ledger.NewPostgresLedger(d.DB)
		settlementRepo = settlement.NewPostgresRepository(d.DB)
		nodeRepo = node.NewPostgresRepository(d.DB)
		invoiceRepo = invoice.NewPostgresRepository(d.DB)
	} else {
		d.Logger.Warn("no database configured, using in-memory storage")
		ledgerBackend = ledger.NewInMemory()
		settlementRepo = settlement.NewMemoryRepository()
		nodeRepo = node.NewMemoryRepository()
		invoiceRepo = invoice.NewMemoryRepository()
	}

	table, err := pricing.Load(d.Cfg.FeePartyA, d.Cfg.FeePartyB, d.Cfg.PricingFile)
	if err != nil {
		return fmt.Errorf("load pricing: %w", err)
	}

	publisher := newPublisher(d)

	// Services and handlers
	engine := settlement.NewEngine(settlementRepo, ledgerBackend, table, settlement.Options{
		Compensate: d.Cfg.SettlementCompensate,
		Publisher:  publisher,
		Logger:     d.Logger,
	})
	nodeSvc := node.NewService(nodeRepo, ledgerBackend, d.Logger)
	generator := invoice.NewGenerator(invoiceRepo, nodeSvc, engine, invoice.Options{
		DueDays:   d.Cfg.InvoiceDueDays,
		Publisher: publisher,
		Logger:    d.Logger,
	})

	var rates funding.RateOracle
	rates, err = funding.NewStaticRateOracle(d.Cfg.FiatRates)
	if err != nil {
		return fmt.Errorf("build rate oracle: %w", err)
	}
	if d.Cache != nil {
		rates = funding.NewCachedRateOracle(rates, d.Cache, d.Cfg.RateCacheTTL, d.Logger)
	}
	fundingSvc, err := funding.NewService(ledgerBackend, d.Processor, rates, publisher, d.Logger)
	if err != nil {
		return err
	}

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterWalletRoutes(api, wallet.NewHandler(wallet.NewService(ledgerBackend)))
	RegisterFundingRoutes(api, funding.NewHandler(fundingSvc),
		middleware.RateLimit(d.Cache, "purchase", d.Cfg.RateLimitPerMinute),
		middleware.RateLimit(d.Cache, "withdraw", d.Cfg.RateLimitPerMinute),
	)
	RegisterNodeRoutes(api, node.NewHandler(nodeSvc))
	RegisterSettlementRoutes(api, settlement.NewHandler(engine))
	RegisterInvoiceRoutes(api, invoice.NewHandler(generator))

	return nil
}

// newPublisher fans events out to the log and, when connected, to NATS.
func newPublisher(d Deps) events.Publisher {
	pubs := events.Multi{events.NewLogPublisher(d.Logger)}
	if d.NATS != nil {
		pubs = append(pubs, events.NewNATSPublisher(d.NATS, d.Cfg.NATSPrefix))
	}
	return pubs
}
