// Package daemon composes the engine: store, backend client, codec, router,
// timelines, poll manager and outbox sender, wired through fx.
package daemon

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/veilmsg/veil/internal/backend"
	"github.com/veilmsg/veil/internal/bitcodec"
	"github.com/veilmsg/veil/internal/bus"
	"github.com/veilmsg/veil/internal/config"
	"github.com/veilmsg/veil/internal/delivery"
	"github.com/veilmsg/veil/internal/lock"
	"github.com/veilmsg/veil/internal/logging"
	"github.com/veilmsg/veil/internal/outbox"
	"github.com/veilmsg/veil/internal/poll"
	"github.com/veilmsg/veil/internal/session"
	"github.com/veilmsg/veil/internal/status"
	"github.com/veilmsg/veil/internal/store"
	"github.com/veilmsg/veil/internal/timeline"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	ProfileDir  string         // optional override for testing; empty = use default
	Config      *config.Config // optional preloaded config; nil = load from disk
}

func (p Params) dir() string {
	if p.ProfileDir != "" {
		return p.ProfileDir
	}
	return session.Dir(p.ProfileName)
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideBackend,
			provideCodec,
			provideRouter,
			provideResolver,
			provideTimelines,
			providePollManager,
			provideSender,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(filepath.Join(p.dir(), "logs", "veild.log"), p.ProfileName)
}

func provideConfig(p Params, logger *zap.Logger) *config.Config {
	if p.Config != nil {
		return p.Config
	}
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		logger.Warn("config not found, using defaults", zap.Error(err))
		cfg = config.Defaults()
	}
	if url := os.Getenv("VEIL_BACKEND_URL"); url != "" {
		cfg.BackendURL = url
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = p.ProfileName
		logger.Warn("device_id not configured, using profile name", zap.String("device_id", cfg.DeviceID))
	}
	return cfg
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(p.dir())
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := filepath.Join(p.dir(), "veil.db")
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

func provideBackend(cfg *config.Config, logger *zap.Logger) *backend.Client {
	return backend.New(cfg.BackendURL, logger)
}

func provideCodec(client *backend.Client, logger *zap.Logger) *bitcodec.Codec {
	return bitcodec.New(client, nil, logger)
}

func provideRouter(client *backend.Client, logger *zap.Logger) *delivery.Router {
	return delivery.NewRouter(client, logger)
}

func provideResolver(client *backend.Client, cfg *config.Config, logger *zap.Logger) *delivery.Resolver {
	return delivery.NewResolver(client, cfg.Region, cfg.Paths(), logger)
}

func provideTimelines(db *store.DB, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *timeline.Store {
	return timeline.New(db, b, cfg.DeviceID, logger)
}

func providePollManager(client *backend.Client, codec *bitcodec.Codec, timelines *timeline.Store, cfg *config.Config, machine *status.Machine, logger *zap.Logger) *poll.Manager {
	opts := poll.Options{
		DeviceID:  cfg.DeviceID,
		Paths:     cfg.Paths(),
		Interval:  time.Duration(cfg.PollIntervalSeconds) * time.Second,
		AutoReply: cfg.AutoReply,
	}
	return poll.NewManager(client, codec, timelines, client, machine, opts, logger)
}

func provideSender(db *store.DB, timelines *timeline.Store, codec *bitcodec.Codec, router *delivery.Router, client *backend.Client, resolver *delivery.Resolver, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, timelines, codec, router, client, resolver, client, b, cfg.DeviceID, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB, sender *outbox.Sender, manager *poll.Manager, machine *status.Machine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			sender.Start(context.Background())

			// Resume polling for every known chat so backfill and unread
			// counting survive a daemon restart.
			chats, err := db.ListChats(0, 0)
			if err != nil {
				logger.Warn("could not list chats for poll resume", zap.Error(err))
			}
			for _, c := range chats {
				manager.Start(context.Background(), c.ID)
			}

			_ = machine.Transition(status.Ready)
			logger.Info("daemon ready", zap.Int("chats", len(chats)))
			return nil
		},
		OnStop: func(_ context.Context) error {
			manager.StopAll()
			sender.Stop()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
