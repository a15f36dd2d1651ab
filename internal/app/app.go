package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"weatherwatch/internal/aggregation"
	"weatherwatch/internal/alerting"
	"weatherwatch/internal/config"
	"weatherwatch/internal/fetcher"
	"weatherwatch/internal/logging"
	"weatherwatch/internal/scheduler"
	"weatherwatch/internal/service"
	"weatherwatch/internal/storage"
)

// backend is the full persistence surface used by the commands.
type backend interface {
	storage.ReadingStore
	storage.SummaryStore
	storage.AlertStore
	storage.SchemaEnsurer
}

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives command output such as tables.
	Out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logging.Component(logger, "app"),
		Out:    os.Stdout,
	}
}

func (a *App) newSource() fetcher.ReadingSource {
	src := a.Config.Source
	return fetcher.NewOpenWeather(fetcher.OpenWeatherOptions{
		BaseURL:            src.BaseURL,
		APIKey:             src.APIKey,
		Timeout:            src.RequestTimeout,
		UserAgent:          src.UserAgent,
		BreakerMaxFailures: src.BreakerMaxFailures,
		BreakerOpenTimeout: src.BreakerOpenTimeout,
	}, a.Logger)
}

// newNotifier builds the fan-out notifier for the configured channels. The
// returned closer releases channel resources and is never nil.
func (a *App) newNotifier(ctx context.Context) (alerting.Notifier, func(), error) {
	cfg := a.Config.Alerting
	var notifiers alerting.MultiNotifier
	closer := func() {}

	if cfg.ChannelEnabled("log") {
		notifiers = append(notifiers, alerting.NewLogNotifier(a.Logger))
	}
	if cfg.ChannelEnabled("telegram") {
		notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, 10*time.Second, a.Logger))
	}
	if cfg.ChannelEnabled("redis") {
		client, err := alerting.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, closer, err
		}
		closer = func() { _ = client.Close() }
		notifiers = append(notifiers, alerting.NewRedisNotifier(client, cfg.Redis.Channel, a.Logger))
	}

	if len(notifiers) == 0 {
		return nil, closer, nil
	}
	return notifiers, closer, nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// openBackend opens the Postgres store, or an in-memory one when no DSN is
// configured and allowMemory is set.
func (a *App) openBackend(ctx context.Context, allowMemory bool) (backend, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		if !allowMemory {
			return nil, nil, errors.New("database.dsn not configured")
		}
		a.Logger.Warn().Msg("database.dsn not configured; readings are kept in memory only")
		return storage.NewMemoryStore(), func() {}, nil
	}
	if err := store.EnsureSchema(ctx); err != nil {
		closeStore()
		return nil, nil, err
	}
	return store, closeStore, nil
}

func (a *App) newAggregator(store backend) (*aggregation.Aggregator, error) {
	zone, err := a.Config.Aggregation.Zone()
	if err != nil {
		return nil, fmt.Errorf("aggregation.timezone: %w", err)
	}
	return aggregation.New(store, store, zone, a.Logger), nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	if err := a.Config.RequireSource(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openBackend(ctx, true)
	if err != nil {
		return err
	}
	defer closeStore()

	agg, err := a.newAggregator(store)
	if err != nil {
		return err
	}

	notifier, closeNotifier, err := a.newNotifier(ctx)
	if err != nil {
		return err
	}
	defer closeNotifier()

	sched := scheduler.New(scheduler.Options{
		Interval:      a.Config.Scheduler.Interval,
		AlignToBucket: a.Config.Scheduler.AlignToBucket,
		StartupDelay:  a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	svc := service.New(a.Config, sched, a.newSource(), store, store, agg, notifier, a.Logger)

	a.Logger.Info().
		Strs("locations", a.Config.Locations).
		Dur("interval", a.Config.Scheduler.Interval).
		Float64("threshold_c", a.Config.Alerting.ThresholdC).
		Int("consecutive_required", a.Config.Alerting.ConsecutiveRequired).
		Msg("starting monitoring service")
	if len(a.Config.Locations) == 0 {
		a.Logger.Warn().Msg("no locations configured; cycles will only aggregate")
	}

	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// Aggregate recomputes every daily summary once from the stored raw log.
func (a *App) Aggregate(ctx context.Context) error {
	store, closeStore, err := a.openBackend(ctx, false)
	if err != nil {
		return err
	}
	defer closeStore()

	agg, err := a.newAggregator(store)
	if err != nil {
		return err
	}
	if err := agg.RecomputeAll(ctx); err != nil {
		return err
	}
	a.Logger.Info().Msg("daily summaries recomputed")
	return nil
}

// ExportOptions hold parameters for exporting daily summaries.
type ExportOptions struct {
	Location  string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Table    string
	Location string
	Date     *time.Time
	Limit    int
}
