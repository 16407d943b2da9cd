package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/roach88/civicroute/internal/api"
	"github.com/roach88/civicroute/internal/config"
	"github.com/roach88/civicroute/internal/engine"
	"github.com/roach88/civicroute/internal/ledger"
	"github.com/roach88/civicroute/internal/metrics"
	"github.com/roach88/civicroute/internal/mongostore"
	"github.com/roach88/civicroute/internal/notify"
	"github.com/roach88/civicroute/internal/store"
)

// App is everything serve runs, wired from a Config.
type App struct {
	Config     *config.Config
	Ledger     ledger.Ledger
	Controller *engine.Controller
	Dispatcher *notify.Dispatcher
	Handler    http.Handler

	closers []func() error
}

// BuildApp opens the configured ledger and sinks and wires the controller
// and HTTP handler. The caller must Close the App.
func BuildApp(ctx context.Context, cfg *config.Config, log *slog.Logger, zlog *zap.Logger) (*App, error) {
	app := &App{Config: cfg}

	l, ping, err := app.openLedger(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Ledger = l

	sink, err := app.openSinks(ctx, log)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Dispatcher = notify.NewDispatcher(sink, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.New(reg)

	app.Controller = engine.New(l, app.Dispatcher,
		engine.WithOfferWindow(cfg.OfferWindow),
		engine.WithCompletionWindow(cfg.CompletionWindow),
		engine.WithRetryDelay(cfg.RetryDelay),
		engine.WithMetricsHook(prom),
		engine.WithLogger(log),
	)

	h := api.NewHandler(app.Controller, nil, zlog)
	health := api.NewHealthHandler(ping, cfg.Environment, string(cfg.Store), zlog)
	app.Handler = api.NewRouter(h, health, prom.Handler(), cfg.CORSOrigins, zlog)
	return app, nil
}

// Close stops timers and releases every connection, in reverse order of
// opening. The dispatcher is closed but not drained; serve drains it first.
func (a *App) Close() error {
	if a.Controller != nil {
		a.Controller.Close()
	}
	if a.Dispatcher != nil {
		a.Dispatcher.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) openLedger(ctx context.Context) (ledger.Ledger, api.PingFunc, error) {
	cfg := a.Config
	switch cfg.Store {
	case config.StoreMemory:
		return ledger.NewMemory(), nil, nil

	case config.StoreSQLite, config.StorePostgres:
		st, err := store.Open(cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s ledger: %w", cfg.Store, err)
		}
		a.closers = append(a.closers, st.Close)
		return st, st.DB().PingContext, nil

	case config.StoreMongo:
		st, client, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, fmt.Errorf("open mongo ledger: %w", err)
		}
		a.closers = append(a.closers, func() error { return client.Disconnect(context.Background()) })
		ping := func(ctx context.Context) error { return client.Ping(ctx, readpref.Primary()) }
		return st, ping, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
}

// openSinks always logs notifications and adds NATS and Redis when
// configured.
func (a *App) openSinks(ctx context.Context, log *slog.Logger) (notify.Sink, error) {
	cfg := a.Config
	sinks := notify.Multi{notify.LogSink{Log: log}}

	if cfg.NATSURL != "" {
		conn, err := notify.DialNATS(cfg.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		a.closers = append(a.closers, func() error { return conn.Drain() })
		sinks = append(sinks, notify.NewNATSSink(conn, cfg.NATSSubject))
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		sinks = append(sinks, notify.NewRedisSink(client, cfg.RedisInboxSize))
	}
	return sinks, nil
}
