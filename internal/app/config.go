package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap/zapcore"

	"sesame/internal/protocol/ratchet"
	"sesame/internal/protocol/record"
)

const (
	defaultLogLevel      = "info"
	defaultStoreFile     = "sesame.db"
	defaultMaxSessionAge = "720h"
)

// Config is the top level sesame configuration.
type Config struct {
	// Home is the directory holding the store and exported files.
	Home string

	Store   *Store
	Logging *Logging
	Session *Session
}

// Store is the key and session store configuration.
type Store struct {
	// Path is the bbolt database file. Relative paths are resolved
	// against Home.
	Path string
}

func (s *Store) fixup(home string) {
	if s.Path == "" {
		s.Path = defaultStoreFile
	}
	if !filepath.IsAbs(s.Path) {
		s.Path = filepath.Join(home, s.Path)
	}
}

// Logging is the logging configuration.
type Logging struct {
	// Level is one of debug, info, warn or error.
	Level string

	// Development switches to zap's human readable development encoder.
	Development bool
}

func (l *Logging) validate() error {
	if l.Level == "" {
		l.Level = defaultLogLevel
	}
	l.Level = strings.ToLower(l.Level)
	if _, err := zapcore.ParseLevel(l.Level); err != nil {
		return fmt.Errorf("config: Logging: Level '%v' is invalid", l.Level)
	}
	return nil
}

// Session holds the session and ratchet policy limits. Zero values take
// the defaults; a negative count disables that bound.
type Session struct {
	MaxPreviousSessions int
	MaxSessionAge       string
	MaxSkip             int
	MaxMessageKeys      int
	MaxReceivingChains  int

	maxSessionAge time.Duration
}

func (s *Session) validate() error {
	rl := ratchet.DefaultLimits()
	if s.MaxPreviousSessions == 0 {
		s.MaxPreviousSessions = record.DefaultLimits().MaxPreviousSessions
	}
	if s.MaxSkip == 0 {
		s.MaxSkip = rl.MaxSkip
	}
	if s.MaxMessageKeys == 0 {
		s.MaxMessageKeys = rl.MaxMessageKeys
	}
	if s.MaxReceivingChains == 0 {
		s.MaxReceivingChains = rl.MaxReceivingChains
	}
	if s.MaxSessionAge == "" {
		s.MaxSessionAge = defaultMaxSessionAge
	}
	d, err := time.ParseDuration(s.MaxSessionAge)
	if err != nil {
		return fmt.Errorf("config: Session: MaxSessionAge '%v' is invalid: %w", s.MaxSessionAge, err)
	}
	if d < 0 {
		return fmt.Errorf("config: Session: MaxSessionAge '%v' is negative", s.MaxSessionAge)
	}
	s.maxSessionAge = d
	return nil
}

// RatchetLimits returns the ratchet bounds.
func (s *Session) RatchetLimits() ratchet.Limits {
	return ratchet.Limits{
		MaxSkip:            s.MaxSkip,
		MaxMessageKeys:     s.MaxMessageKeys,
		MaxReceivingChains: s.MaxReceivingChains,
	}
}

// RecordLimits returns the session record bounds.
func (s *Session) RecordLimits() record.Limits {
	return record.Limits{
		MaxPreviousSessions: s.MaxPreviousSessions,
		MaxSessionAge:       s.maxSessionAge,
	}
}

// FixupAndValidate applies defaults to config entries and validates the
// configuration sections. It may be called more than once.
func (c *Config) FixupAndValidate() error {
	if c.Home == "" {
		return errors.New("config: Home is not set")
	}
	if c.Store == nil {
		c.Store = &Store{}
	}
	if c.Logging == nil {
		c.Logging = &Logging{}
	}
	if c.Session == nil {
		c.Session = &Session{}
	}

	c.Store.fixup(c.Home)
	if err := c.Logging.validate(); err != nil {
		return err
	}
	return c.Session.validate()
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config. An empty Home is filled from home.
func Load(b []byte, home string) (*Config, error) {
	cfg := new(Config)
	if err := toml.Unmarshal(b, cfg); err != nil {
		return nil, err
	}
	if cfg.Home == "" {
		cfg.Home = home
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f, home string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b, home)
}
