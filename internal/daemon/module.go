package daemon

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/matheus3301/relay/internal/api"
	"github.com/matheus3301/relay/internal/auth"
	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/config"
	"github.com/matheus3301/relay/internal/conversation"
	"github.com/matheus3301/relay/internal/gateway"
	"github.com/matheus3301/relay/internal/groups"
	"github.com/matheus3301/relay/internal/httpapi"
	"github.com/matheus3301/relay/internal/instance"
	"github.com/matheus3301/relay/internal/lifecycle"
	"github.com/matheus3301/relay/internal/lock"
	"github.com/matheus3301/relay/internal/logging"
	"github.com/matheus3301/relay/internal/notify"
	"github.com/matheus3301/relay/internal/presence"
	"github.com/matheus3301/relay/internal/room"
	"github.com/matheus3301/relay/internal/store"
)

// Params holds the resolved instance configuration passed to the fx module.
type Params struct {
	Instance   string
	Config     *config.Config
	SocketPath string // optional override for testing; empty = use default
	Quiet      bool   // log to file only
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Options(
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		fx.Module("daemon",
			fx.Supply(p),
			fx.Provide(
				provideLogger,
				provideConfig,
				provideBus,
				provideLock,
				provideStore,
				provideTracker,
				provideRouter,
				provideTransport,
				provideDispatcher,
				provideEngine,
				provideAggregator,
				provideGroups,
				provideJWT,
				provideGateway,
				provideHTTPAPI,
				provideAdminService,
				NewHTTPServer,
				NewServer,
			),
			fx.Invoke(registerLifecycle),
		),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(instance.LogPath(p.Instance), p.Instance, logging.Options{Quiet: p.Quiet})
}

func provideConfig(p Params) (*config.Config, error) {
	cfg := p.Config
	if cfg == nil {
		var err error
		if cfg, err = config.LoadOrDefault(instance.ConfigPath()); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := instance.EnsureDir(p.Instance); err != nil {
		return nil, err
	}
	logger.Info("acquiring instance lock", zap.String("instance", p.Instance))
	l, err := lock.Acquire(instance.Dir(p.Instance))
	if err != nil {
		return nil, err
	}
	logger.Info("instance lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is never opened by two
// daemons.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := instance.DBPath(p.Instance)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideTracker(b *bus.Bus) *presence.Tracker {
	return presence.NewTracker(b)
}

func provideRouter(logger *zap.Logger) *room.Router {
	return room.NewRouter(logger)
}

// provideTransport returns nil when no VAPID keys are configured, which
// disables push.
func provideTransport(cfg *config.Config, logger *zap.Logger) (notify.Transport, error) {
	if !cfg.PushEnabled() {
		logger.Info("push notifications disabled: no VAPID keys configured")
		return nil, nil
	}
	wp, err := notify.NewWebPush(notify.VAPID{
		PublicKey:  cfg.Push.VAPIDPublicKey,
		PrivateKey: cfg.Push.VAPIDPrivateKey,
		Subscriber: cfg.Push.Subscriber,
	}, cfg.Push.TTLSeconds)
	if err != nil {
		return nil, err
	}
	return wp, nil
}

func provideDispatcher(cfg *config.Config, db *store.DB, transport notify.Transport, tracker *presence.Tracker, b *bus.Bus, logger *zap.Logger) *notify.Dispatcher {
	opts := notify.DefaultOptions()
	opts.Workers = cfg.Push.Workers
	opts.QueueSize = cfg.Push.QueueSize
	opts.OnlyOffline = cfg.Push.OnlyOffline
	return notify.NewDispatcher(db, transport, tracker, b, logger.Named("push"), opts)
}

func provideEngine(cfg *config.Config, db *store.DB, router *room.Router, tracker *presence.Tracker, d *notify.Dispatcher, b *bus.Bus, logger *zap.Logger) *lifecycle.Engine {
	opts := lifecycle.DefaultOptions()
	opts.MaxLength = cfg.Messages.MaxLength
	opts.PageDefault = cfg.Messages.PageLimit
	return lifecycle.NewEngine(db, router, tracker, d, b, logger.Named("lifecycle"), opts)
}

func provideAggregator(cfg *config.Config, db *store.DB, logger *zap.Logger) *conversation.Aggregator {
	return conversation.NewAggregator(db, logger, cfg.Conversations.PreviewLimit)
}

func provideGroups(db *store.DB, engine *lifecycle.Engine, router *room.Router, logger *zap.Logger) *groups.Service {
	return groups.NewService(db, engine, router, logger.Named("groups"))
}

func provideJWT(cfg *config.Config) (*auth.JWT, error) {
	return auth.NewJWT(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL.Duration)
}

func provideGateway(cfg *config.Config, db *store.DB, router *room.Router, tracker *presence.Tracker, engine *lifecycle.Engine, jwt *auth.JWT, logger *zap.Logger) *gateway.Gateway {
	return gateway.New(db, router, tracker, engine, jwt, logger.Named("gateway"), cfg.HTTP.AllowedOrigins)
}

func provideHTTPAPI(cfg *config.Config, db *store.DB, engine *lifecycle.Engine, convs *conversation.Aggregator, gs *groups.Service, d *notify.Dispatcher, jwt *auth.JWT, gw *gateway.Gateway, logger *zap.Logger) *httpapi.API {
	vapid := ""
	if cfg.PushEnabled() {
		vapid = cfg.Push.VAPIDPublicKey
	}
	return httpapi.New(httpapi.Deps{
		DB:          db,
		Engine:      engine,
		Convs:       convs,
		Groups:      gs,
		Push:        d,
		JWT:         jwt,
		Gateway:     gw,
		VAPIDPublic: vapid,
		Logger:      logger.Named("http"),
	})
}

func provideAdminService(p Params, tracker *presence.Tracker, router *room.Router, convs *conversation.Aggregator, b *bus.Bus, logger *zap.Logger) *api.AdminService {
	return api.NewAdminService(p.Instance, tracker, router, convs, b, logger.Named("admin"))
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, httpSrv *HTTPServer, gw *gateway.Gateway, d *notify.Dispatcher, db *store.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			d.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			go func() {
				if err := httpSrv.Start(); err != nil {
					logger.Error("HTTP server error", zap.Error(err))
				}
			}()

			logger.Info("daemon started", zap.String("http", httpSrv.Addr()), zap.Bool("push", d.Enabled()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			if err := httpSrv.Stop(shutdownCtx); err != nil {
				logger.Warn("error stopping HTTP server", zap.Error(err))
			}
			// Sessions touch the store while closing, so they go before it.
			if err := gw.Shutdown(shutdownCtx); err != nil {
				logger.Warn("error closing websocket sessions", zap.Error(err))
			}
			srv.Stop(shutdownCtx)
			d.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
