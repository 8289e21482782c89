package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yanivian/connect-app-sub000/internal/account"
	"github.com/yanivian/connect-app-sub000/internal/api"
	"github.com/yanivian/connect-app-sub000/internal/backend"
	"github.com/yanivian/connect-app-sub000/internal/bus"
	"github.com/yanivian/connect-app-sub000/internal/config"
	"github.com/yanivian/connect-app-sub000/internal/contacts"
	"github.com/yanivian/connect-app-sub000/internal/httpapi"
	"github.com/yanivian/connect-app-sub000/internal/lifecycle"
	"github.com/yanivian/connect-app-sub000/internal/lock"
	"github.com/yanivian/connect-app-sub000/internal/logging"
	"github.com/yanivian/connect-app-sub000/internal/metrics"
	"github.com/yanivian/connect-app-sub000/internal/outbox"
	"github.com/yanivian/connect-app-sub000/internal/profile"
	"github.com/yanivian/connect-app-sub000/internal/push"
	"github.com/yanivian/connect-app-sub000/internal/replay"
	"github.com/yanivian/connect-app-sub000/internal/state"
	"github.com/yanivian/connect-app-sub000/internal/store"
	"github.com/yanivian/connect-app-sub000/internal/syncer"
)

// Params holds the resolved user configuration passed to the fx module.
type Params struct {
	UserID string
	Config *config.Config
	// Dir overrides the per-user directory; empty = account.Dir(UserID).
	Dir string
	// SocketPath overrides the gRPC socket; empty = inside Dir.
	SocketPath string
	LogLevel   zapcore.Level
	QuietLog   bool
}

func (p Params) dir() string {
	if p.Dir != "" {
		return p.Dir
	}
	return account.Dir(p.UserID)
}

func (p Params) socketPath() string {
	if p.SocketPath != "" {
		return p.SocketPath
	}
	return account.SocketPath(p.dir())
}

func (p Params) config() *config.Config {
	if p.Config != nil {
		return p.Config
	}
	return config.Default()
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			bus.New,
			metrics.New,
			lifecycle.NewMachine,
			provideLock,
			provideStore,
			provideState,
			provideBackend,
			provideContacts,
			provideSyncer,
			providePushHandler,
			provideCache,
			provideSender,
			provideProfile,
			provideService,
			provideHTTP,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(logging.Options{
		Path:   account.LogPath(p.dir()),
		UserID: p.UserID,
		Level:  p.LogLevel,
		Quiet:  p.QuietLog,
	})
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := account.EnsureDir(p.dir()); err != nil {
		return nil, err
	}
	l, err := lock.Acquire(p.dir())
	if err != nil {
		return nil, err
	}
	logger.Info("user lock acquired", zap.String("dir", p.dir()))
	return l, nil
}

// The lock parameter orders acquisition before the database is opened.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := account.DBPath(p.dir())
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("store initialized",
		zap.String("path", dbPath),
		zap.Uint("version", result.Version),
		zap.Bool("migrated", result.Changed))
	return db, nil
}

func provideState(p Params, db *store.DB, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) (*state.Store, error) {
	st := state.NewStore(p.UserID, db, b, m, logger.Named("state"))
	if err := st.Restore(context.Background()); err != nil {
		return nil, err
	}
	return st, nil
}

func provideBackend(p Params, m *metrics.Metrics, logger *zap.Logger) *backend.Client {
	cfg := p.config()
	return backend.New(backend.Options{
		BaseURL:  cfg.BackendURL,
		Identity: backend.StaticIdentity{UserID: p.UserID, Token: cfg.IDToken},
		RPS:      cfg.RateLimit.RPS,
		Burst:    cfg.RateLimit.Burst,
		Metrics:  m,
		Logger:   logger.Named("backend"),
	})
}

// provideContacts returns nil values when no address book is configured.
func provideContacts(p Params, b *bus.Bus, logger *zap.Logger) (*contacts.Provider, *contacts.Watcher) {
	path := p.config().ContactsFile
	if path == "" {
		return nil, nil
	}
	return contacts.NewProvider(path), contacts.NewWatcher(path, b, logger.Named("contacts"))
}

func provideSyncer(client *backend.Client, st *state.Store, provider *contacts.Provider, b *bus.Bus, logger *zap.Logger) *syncer.Syncer {
	var src syncer.ContactsSource
	if provider != nil {
		src = provider
	}
	return syncer.New(client, st, src, b, logger.Named("syncer"))
}

func providePushHandler(st *state.Store, s *syncer.Syncer, logger *zap.Logger) *push.Handler {
	return push.NewHandler(st, s, logger.Named("push"))
}

func provideCache(p Params, db *store.DB, h *push.Handler, machine *lifecycle.Machine, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *replay.Cache {
	return replay.NewCache(p.UserID, db, h, machine, b, m, logger.Named("replay"))
}

func provideSender(db *store.DB, client *backend.Client, st *state.Store, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, client, st, b, m, logger.Named("outbox"))
}

func provideProfile(p Params, client *backend.Client, db *store.DB, b *bus.Bus, logger *zap.Logger) *profile.Manager {
	return profile.New(p.UserID, client, db, b, logger.Named("profile"))
}

func provideService(p Params, st *state.Store, machine *lifecycle.Machine, cache *replay.Cache, db *store.DB, s *syncer.Syncer, sender *outbox.Sender, pm *profile.Manager, b *bus.Bus, logger *zap.Logger) *api.Service {
	return api.NewService(api.Deps{
		UserID:  p.UserID,
		Store:   st,
		Machine: machine,
		Cache:   cache,
		Queue:   db,
		Syncer:  s,
		Sender:  sender,
		Profile: pm,
		Bus:     b,
		Logger:  logger.Named("api"),
	})
}

func provideHTTP(p Params, cache *replay.Cache, m *metrics.Metrics, logger *zap.Logger) *httpapi.Server {
	return httpapi.NewServer(cache, p.config().WebhookSecret, m, logger.Named("http"))
}

type lifecycleDeps struct {
	fx.In

	Params  Params
	Server  *Server
	HTTP    *httpapi.Server
	Lock    *lock.Lock
	DB      *store.DB
	Syncer  *syncer.Syncer
	Watcher *contacts.Watcher
	Cache   *replay.Cache
	Sender  *outbox.Sender
	Profile *profile.Manager
	Logger  *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleDeps) {
	ctx, cancel := context.WithCancel(context.Background())
	signedIn := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			d.Syncer.Start(ctx)
			if d.Watcher != nil {
				if err := d.Watcher.Start(ctx); err != nil {
					d.Logger.Warn("address book watch disabled", zap.Error(err))
				}
			}
			d.Cache.Start(ctx)
			d.Sender.Start(ctx)
			go func() {
				defer close(signedIn)
				cfg := d.Params.config()
				if _, err := d.Profile.SignIn(ctx, cfg.PhoneNumber, cfg.DeviceToken); err != nil {
					d.Logger.Warn("sign-in failed, using cached profile", zap.Error(err))
				}
			}()

			go func() {
				if err := d.Server.Start(); err != nil {
					d.Logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			if addr := d.Params.config().HTTPListen; addr != "" {
				go func() {
					if err := d.HTTP.ListenAndServe(ctx, addr); err != nil {
						d.Logger.Error("HTTP server error", zap.Error(err))
					}
				}()
			}
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			<-signedIn
			d.Server.Stop(stopCtx)
			d.Sender.Stop()
			d.Cache.Stop()
			if d.Watcher != nil {
				d.Watcher.Stop()
			}
			d.Syncer.Stop()
			if err := d.DB.Close(); err != nil {
				d.Logger.Warn("error closing store", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				d.Logger.Warn("error releasing lock", zap.Error(err))
			}
			d.Logger.Info("daemon stopped")
			_ = d.Logger.Sync()
			return nil
		},
	})
}
