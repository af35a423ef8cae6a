package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joshua-takyi/fieldbook/internal/clock"
	"github.com/joshua-takyi/fieldbook/internal/config"
	"github.com/joshua-takyi/fieldbook/internal/connect"
	"github.com/joshua-takyi/fieldbook/internal/helpers"
	"github.com/joshua-takyi/fieldbook/internal/middleware"
	"github.com/joshua-takyi/fieldbook/internal/models"
	"github.com/joshua-takyi/fieldbook/internal/notify"
	"github.com/joshua-takyi/fieldbook/internal/payment"
	"github.com/joshua-takyi/fieldbook/internal/services"
)

const notifyTimeout = 5 * time.Second

// Container holds all application dependencies
type Container struct {
	Config *config.Config
	Logger *slog.Logger
	Clock  clock.Clock

	Store   models.Store
	Catalog models.CatalogRepo
	// Roles is nil when no profile store is configured; tokens then carry the role.
	Roles   models.RoleLookup
	Tokens  middleware.TokenValidator
	Gateway *payment.VNPay

	BookingService *services.BookingService
	PaymentService *services.PaymentService
	CheckinService *services.CheckinService
	ReportService  *services.ReportService
	Sweeper        *services.Sweeper

	closers []func(context.Context) error
}

// NewContainer connects the configured backends and wires the services.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger, Clock: clock.Real{}}
	if err := c.build(ctx); err != nil {
		_ = c.Close(context.Background())
		return nil, err
	}
	return c, nil
}

func (c *Container) build(ctx context.Context) error {
	cfg, logger := c.Config, c.Logger

	var supa *models.SupabaseRepo
	if cfg.SupabaseURL != "" && cfg.SupabaseAnonKey != "" {
		client, err := connect.InitSupabase(cfg.SupabaseURL, cfg.SupabaseAnonKey)
		if err != nil {
			return err
		}
		supa = models.SupabaseNewRepo(client, cfg.SupabaseURL, cfg.SupabaseAnonKey)
		c.Roles = supa
		logger.Info("Connected to Supabase successfully")
	}

	if err := c.openStore(ctx); err != nil {
		return err
	}

	switch cfg.CatalogDriver {
	case config.CatalogSupabase:
		if supa == nil {
			return errors.New("supabase catalog selected but Supabase is not configured")
		}
		c.Catalog = supa
	case config.CatalogStatic:
		catalog, err := models.LoadStaticCatalog(cfg.CatalogFile)
		if err != nil {
			return err
		}
		c.Catalog = catalog
	}

	var sink notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.AMQPURL != "" {
		pub, err := notify.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, func(context.Context) error { return pub.Close() })
		sink = pub
		logger.Info("Publishing notifications", "exchange", cfg.AMQPExchange)
	}
	notifier := notify.NewAsync(sink, logger, notifyTimeout)
	c.closers = append(c.closers, notifier.Wait)

	signer, err := helpers.NewTicketSigner(cfg.TicketSecret)
	if err != nil {
		return err
	}

	c.Gateway = payment.NewVNPay(payment.Config{
		TmnCode:    cfg.VNPTmnCode,
		HashSecret: cfg.VNPHashSecret,
		PayURL:     cfg.VNPURL,
		ReturnURL:  cfg.VNPReturnURL,
		Location:   cfg.Location(),
	})
	if !cfg.PaymentConfigured() {
		logger.Warn("Payment gateway is not configured; redirects will fail")
	}

	c.CheckinService = services.NewCheckinService(c.Store, signer, c.Clock, logger)
	c.BookingService = services.NewBookingService(c.Store, c.Catalog, c.Clock, notifier, logger, c.CheckinService)
	c.PaymentService = services.NewPaymentService(c.Store, c.Catalog, c.Gateway, c.CheckinService, c.Clock, notifier, logger)
	c.ReportService = services.NewReportService(c.Store, cfg.Location())
	c.Sweeper = services.NewSweeper(c.Store, c.Catalog, c.Clock, notifier, logger,
		services.WithInterval(cfg.SweepInterval),
		services.WithLocation(cfg.Location()),
		services.WithPaymentWindow(cfg.PaymentWindow),
	)
	return nil
}

func (c *Container) openStore(ctx context.Context) error {
	cfg := c.Config
	switch cfg.StoreDriver {
	case config.StoreMongo:
		client, err := connect.MongoDBConnect(ctx, cfg.MongoDBURI, cfg.MongoDBPassword)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, func(context.Context) error { return connect.MongoDBDisconnect(client) })
		c.Store = models.MongodbNewRepo(client, cfg.MongoDBDatabase)
		c.Logger.Info("Connected to MongoDB successfully", "database", cfg.MongoDBDatabase)
	case config.StorePostgres:
		pool, err := connect.PostgresConnect(ctx, cfg.DatabaseURL, c.Logger)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, func(context.Context) error { pool.Close(); return nil })
		c.Store = models.PostgresNewRepo(pool)
		c.Logger.Info("Connected to Postgres successfully")
	case config.StoreMemory:
		c.Store = models.NewMemoryRepo()
		c.Logger.Warn("Using in-memory store; reservations are lost on restart")
	default:
		return fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
	return nil
}

// WithTokenValidator connects the identity provider's key source. Only the HTTP
// server needs it.
func (c *Container) WithTokenValidator() error {
	v, err := helpers.NewTokenValidator(c.Config.JWKSURL, c.Config.JWTSecret)
	if err != nil {
		return err
	}
	c.Tokens = v
	c.closers = append(c.closers, func(context.Context) error { v.Close(); return nil })
	return nil
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
