package app

import (
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"sesame/internal/metrics"
	"sesame/internal/services/identity"
	"sesame/internal/services/message"
	"sesame/internal/services/prekey"
	"sesame/internal/services/session"
	"sesame/internal/store"
	"sesame/internal/util/addrlock"
)

// App bundles the store and every service the CLI needs.
type App struct {
	Config   *Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Store    *store.BoltStore

	Identity *identity.Service
	PreKeys  *prekey.Service
	Builder  *session.Builder
	Cipher   *message.Cipher
}

// New opens the store under cfg and constructs the dependency graph.
func New(cfg *Config, passphrase string) (*App, error) {
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return nil, fmt.Errorf("create home: %w", err)
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	st, err := store.OpenBolt(cfg.Store.Path, passphrase)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return nil, errors.Join(err, st.Close())
	}

	builder := session.New(st, session.Options{
		Locks:   addrlock.New(),
		Limits:  cfg.Session.RecordLimits(),
		Metrics: m,
		Logger:  logger.Named("session"),
	})
	cipher := message.New(st, builder, message.Options{
		RatchetLimits: cfg.Session.RatchetLimits(),
		RecordLimits:  cfg.Session.RecordLimits(),
		Metrics:       m,
		Logger:        logger.Named("message"),
	})

	return &App{
		Config:   cfg,
		Logger:   logger,
		Registry: reg,
		Store:    st,
		Identity: identity.New(st, logger.Named("identity")),
		PreKeys:  prekey.New(st, logger.Named("prekey")),
		Builder:  builder,
		Cipher:   cipher,
	}, nil
}

// Close releases the store. Pending log entries are flushed best effort.
func (a *App) Close() error {
	_ = a.Logger.Sync()
	return a.Store.Close()
}
