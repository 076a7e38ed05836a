package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil, "/var/lib/sesame")
	require.NoError(t, err)

	require.Equal(t, "/var/lib/sesame", cfg.Home)
	require.Equal(t, filepath.Join("/var/lib/sesame", "sesame.db"), cfg.Store.Path)
	require.Equal(t, "info", cfg.Logging.Level)
	require.False(t, cfg.Logging.Development)

	rl := cfg.Session.RatchetLimits()
	require.Equal(t, 2000, rl.MaxSkip)
	require.Equal(t, 2000, rl.MaxMessageKeys)
	require.Equal(t, 5, rl.MaxReceivingChains)

	sl := cfg.Session.RecordLimits()
	require.Equal(t, 40, sl.MaxPreviousSessions)
	require.Equal(t, 720*time.Hour, sl.MaxSessionAge)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "sesame.toml")
	body := `
Home = "` + dir + `"

[Store]
  Path = "keys.db"

[Logging]
  Level = "DEBUG"
  Development = true

[Session]
  MaxPreviousSessions = 3
  MaxSessionAge = "1h30m"
  MaxSkip = 100
  MaxMessageKeys = -1
`
	require.NoError(t, os.WriteFile(f, []byte(body), 0o600))

	cfg, err := LoadFile(f, "/ignored")
	require.NoError(t, err)
	require.Equal(t, dir, cfg.Home)
	require.Equal(t, filepath.Join(dir, "keys.db"), cfg.Store.Path)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.True(t, cfg.Logging.Development)

	rl := cfg.Session.RatchetLimits()
	require.Equal(t, 100, rl.MaxSkip)
	require.Equal(t, -1, rl.MaxMessageKeys)
	require.Equal(t, 5, rl.MaxReceivingChains)

	sl := cfg.Session.RecordLimits()
	require.Equal(t, 3, sl.MaxPreviousSessions)
	require.Equal(t, 90*time.Minute, sl.MaxSessionAge)

	// Fixup is idempotent.
	require.NoError(t, cfg.FixupAndValidate())
	require.Equal(t, filepath.Join(dir, "keys.db"), cfg.Store.Path)

	logger, err := NewLogger(cfg.Logging)
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestLoadInvalid(t *testing.T) {
	for name, body := range map[string]string{
		"bad level":    "[Logging]\nLevel = \"loud\"\n",
		"bad duration": "[Session]\nMaxSessionAge = \"a month\"\n",
		"negative age": "[Session]\nMaxSessionAge = \"-1h\"\n",
		"bad toml":     "[Session\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load([]byte(body), t.TempDir())
			require.Error(t, err)
		})
	}

	_, err := Load(nil, "")
	require.Error(t, err)
}

func TestNew(t *testing.T) {
	cfg, err := Load(nil, t.TempDir())
	require.NoError(t, err)

	a, err := New(cfg, "Correct-Horse-9")
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close()) }()

	_, fp, err := a.Identity.GenerateIdentity()
	require.NoError(t, err)
	require.NotEmpty(t, fp)
	_, err = a.PreKeys.GenerateSignedPreKey(1)
	require.NoError(t, err)
	_, err = a.PreKeys.LoadPreKeyBundle()
	require.NoError(t, err)
}
