package factory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kkkkikiki/leadpool/internal/config"
	"github.com/kkkkikiki/leadpool/internal/database"
	"github.com/kkkkikiki/leadpool/internal/export"
	"github.com/kkkkikiki/leadpool/internal/repository"
	"github.com/kkkkikiki/leadpool/internal/service"
)

// Factory owns the store and the services built on it
type Factory struct {
	config *config.Config
	logger *zap.Logger

	db    *database.DB
	store repository.Store

	allocator  *service.Allocator
	reconciler *service.Reconciler
	marks      *service.MarkManager

	closeOnce sync.Once
}

// New opens the configured store and builds every service
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Factory, error) {
	f := &Factory{config: cfg, logger: logger}

	switch cfg.Store.Driver {
	case "postgres":
		db, err := database.NewDB(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		f.db = db
		f.store = repository.NewPostgresStore(db.Postgres)
	case "file":
		store, err := repository.NewFileStore(cfg.Store.Dir, logger)
		if err != nil {
			return nil, err
		}
		f.store = store
	case "memory":
		f.store = repository.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	sink, err := export.NewSink(ctx, cfg.Export)
	if err != nil {
		f.Close()
		return nil, err
	}

	limits := service.Limits{
		MaxTimes:  cfg.Redemption.MaxTimes,
		Cooldown:  cfg.Redemption.Cooldown,
		BatchSize: cfg.Redemption.BatchSize,
	}
	f.allocator = service.NewAllocator(f.store, limits, logger.Named("allocator"))
	f.reconciler = service.NewReconciler(f.store, logger.Named("reconciler"))
	f.marks = service.NewMarkManager(f.store, sink, cfg.App.GetLocation(), logger.Named("marks"))

	logger.Info("Factory initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("export_sink", cfg.Export.Sink),
		zap.Int("max_times", limits.MaxTimes),
		zap.Duration("cooldown", limits.Cooldown),
		zap.Int("batch_size", limits.BatchSize),
	)
	return f, nil
}

// Config returns the loaded configuration
func (f *Factory) Config() *config.Config { return f.config }

// Store returns the persistence adapter
func (f *Factory) Store() repository.Store { return f.store }

// Allocator returns the batch allocator
func (f *Factory) Allocator() *service.Allocator { return f.allocator }

// Reconciler returns the upload reconciler
func (f *Factory) Reconciler() *service.Reconciler { return f.reconciler }

// Marks returns the mark/blacklist manager
func (f *Factory) Marks() *service.MarkManager { return f.marks }

// Close releases the store and database connections
func (f *Factory) Close() {
	f.closeOnce.Do(func() {
		if f.store != nil {
			if err := f.store.Close(); err != nil {
				f.logger.Error("Error closing store", zap.Error(err))
			}
		}
		if f.db != nil {
			if err := f.db.Close(); err != nil {
				f.logger.Error("Error closing database connections", zap.Error(err))
			}
		}
	})
}
