package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/matheus3301/parley/internal/admin"
	"github.com/matheus3301/parley/internal/auth"
	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/call"
	"github.com/matheus3301/parley/internal/config"
	"github.com/matheus3301/parley/internal/gateway"
	"github.com/matheus3301/parley/internal/lock"
	"github.com/matheus3301/parley/internal/logging"
	"github.com/matheus3301/parley/internal/presence"
	"github.com/matheus3301/parley/internal/receipt"
	"github.com/matheus3301/parley/internal/registry"
	"github.com/matheus3301/parley/internal/router"
	"github.com/matheus3301/parley/internal/status"
	"github.com/matheus3301/parley/internal/store"
	"github.com/matheus3301/parley/internal/typing"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Params holds the command-line inputs passed to the fx module.
type Params struct {
	ConfigPath string
	SocketPath string // optional override for testing; empty = use config
	Debug      bool
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideIdentity,
			provideRegistry,
			providePresence,
			provideRouter,
			provideReceipts,
			provideTyping,
			provideCalls,
			provideGateway,
			provideListener,
			provideAdminService,
			provideAdminServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg, err := config.Load(p.ConfigPath)
	if err != nil {
		return nil, err
	}
	if p.SocketPath != "" {
		cfg.AdminSocket = p.SocketPath
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if p.Debug {
		level = zapcore.DebugLevel
	}
	return logging.New(cfg.LogFile(), level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data dir lock", zap.String("dir", cfg.DataDir))
	l, err := lock.Acquire(cfg.DataDir, cfg.ListenAddr)
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is never opened by two daemons.
func provideStore(cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := cfg.DBPath()
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

func provideIdentity(cfg *config.Config) (auth.IdentityResolver, error) {
	return auth.NewJWTResolver(auth.JWTConfig{
		Secret: []byte(cfg.JWTSecret),
		Issuer: cfg.JWTIssuer,
	})
}

func provideRegistry(b *bus.Bus, logger *zap.Logger) *registry.Registry {
	return registry.New(b, logger.Named("registry"))
}

func providePresence(reg *registry.Registry, db *store.DB, b *bus.Bus, logger *zap.Logger) *presence.Tracker {
	return presence.NewTracker(reg, db, b, logger.Named("presence"), presence.WithLastSeenStore(db))
}

func provideRouter(db *store.DB, reg *registry.Registry, b *bus.Bus, logger *zap.Logger) *router.Router {
	return router.New(db, db, reg, b, logger.Named("router"))
}

func provideReceipts(db *store.DB, reg *registry.Registry, b *bus.Bus, logger *zap.Logger) *receipt.Tracker {
	return receipt.NewTracker(db, db, reg, b, logger.Named("receipt"))
}

func provideTyping(db *store.DB, reg *registry.Registry, logger *zap.Logger) *typing.Relay {
	return typing.NewRelay(db, reg, logger.Named("typing"))
}

func provideCalls(cfg *config.Config, db *store.DB, reg *registry.Registry, b *bus.Bus, logger *zap.Logger) *call.Service {
	return call.NewService(db, reg, b, logger.Named("call"), cfg.RingTimeout.Duration)
}

type gatewayDeps struct {
	fx.In

	Config   *config.Config
	Identity auth.IdentityResolver
	Registry *registry.Registry
	Presence *presence.Tracker
	Router   *router.Router
	Receipts *receipt.Tracker
	Typing   *typing.Relay
	Calls    *call.Service
	Machine  *status.Machine
	Logger   *zap.Logger
}

func provideGateway(d gatewayDeps) *gateway.Server {
	return gateway.New(gateway.Config{
		PingInterval:  d.Config.PingInterval.Duration,
		PongWait:      d.Config.PongWait.Duration,
		WriteWait:     d.Config.WriteWait.Duration,
		SendBuffer:    d.Config.SendBuffer,
		MaxFrameBytes: d.Config.MaxFrameBytes,
	}, gateway.Services{
		Identity: d.Identity,
		Registry: d.Registry,
		Presence: d.Presence,
		Router:   d.Router,
		Receipts: d.Receipts,
		Typing:   d.Typing,
		Calls:    d.Calls,
		Status:   d.Machine,
	}, d.Logger.Named("gateway"))
}

// provideListener binds the client port at construction so a bad address
// fails startup before anything is served.
func provideListener(cfg *config.Config) (net.Listener, error) {
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}
	return ln, nil
}

func provideAdminService(reg *registry.Registry, p *presence.Tracker, calls *call.Service, db *store.DB, m *status.Machine, b *bus.Bus, logger *zap.Logger) *admin.Service {
	return admin.NewService(reg, p, calls, db, m, b, logger.Named("admin"))
}

func provideAdminServer(cfg *config.Config, svc *admin.Service, logger *zap.Logger) (*admin.Server, error) {
	return admin.NewServer(cfg.SocketPath(), svc, logger.Named("admin"))
}

type lifecycleDeps struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Config
	Lock      *lock.Lock
	Store     *store.DB
	Listener  net.Listener
	Gateway   *gateway.Server
	Admin     *admin.Server
	Machine   *status.Machine
	Logger    *zap.Logger
}

func registerLifecycle(d lifecycleDeps) {
	httpSrv := &http.Server{
		Handler:           d.Gateway.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger := d.Logger

	d.Lifecycle.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := httpSrv.Serve(d.Listener); err != nil && err != http.ErrServerClosed {
					logger.Error("http server error", zap.Error(err))
					_ = d.Machine.Transition(status.Failed)
				}
			}()

			go func() {
				if err := d.Admin.Start(); err != nil {
					logger.Error("admin server error", zap.Error(err))
				}
			}()

			logger.Info("serving clients", zap.String("addr", d.Listener.Addr().String()))
			return d.Machine.Transition(status.Serving)
		},
		OnStop: func(ctx context.Context) error {
			if err := d.Machine.Transition(status.Draining); err != nil {
				logger.Warn("drain transition", zap.Error(err))
			}

			drainCtx, cancel := context.WithTimeout(ctx, d.Config.ShutdownTimeout.Duration)
			defer cancel()
			if err := d.Gateway.Shutdown(drainCtx); err != nil {
				logger.Warn("session drain incomplete", zap.Error(err))
			}
			if err := httpSrv.Shutdown(drainCtx); err != nil {
				logger.Warn("http shutdown", zap.Error(err))
			}
			d.Admin.Stop(drainCtx)

			if err := d.Store.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			_ = d.Machine.Transition(status.Stopped)
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
