// Package docxconfig resolves the engine's explicit configuration record
// from environment variables (and an optional YAML overlay), once, at the
// transport boundary. pkg/docxsession itself never calls os.Getenv: every
// constructor takes a *Config value, per Design Note 9 bullet 4 (global
// environment lookup is replaced with an explicit record passed at
// construction).
package docxconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names recognised by the core, per spec.md §6.
const (
	EnvSessionsDir         = "DOCX_SESSIONS_DIR"
	EnvCheckpointInterval  = "DOCX_CHECKPOINT_INTERVAL"
	EnvWALCompactThreshold = "DOCX_WAL_COMPACT_THRESHOLD"
	EnvAutoSave            = "DOCX_AUTO_SAVE"
	EnvLockTTLSeconds      = "DOCX_LOCK_TTL_SECONDS"
	EnvLockAcquireTimeout  = "DOCX_LOCK_ACQUIRE_TIMEOUT_SECONDS"
)

const (
	defaultCheckpointInterval  = 10
	defaultWALCompactThreshold = 50
	defaultAutoSave            = true
	defaultLockTTL             = 60 * time.Second
	defaultLockAcquireTimeout  = 5 * time.Second
)

// Config is the engine's full set of tunables, built once and handed to
// docxsession.Manager's constructor. There is no ambient lookup beyond
// this package: every field here is a constructor parameter, not a
// runtime os.Getenv call, inside the engine core.
type Config struct {
	// SessionsDir is the persistence root of one tenant: Manager keeps its
	// sessions (WAL files, checkpoints), locks, and tenant index directly
	// under it.
	SessionsDir string `json:"sessions_dir" yaml:"sessions_dir"`
	// CheckpointInterval is K: the number of successful mutations between
	// automatic checkpoints (spec.md §4.3).
	CheckpointInterval int64 `json:"checkpoint_interval" yaml:"checkpoint_interval"`
	// WALCompactThreshold feeds Manager.CompactionSuggested: a soft signal,
	// never an automatic action (spec.md §6, SPEC_FULL.md §C).
	WALCompactThreshold int64 `json:"wal_compact_threshold" yaml:"wal_compact_threshold"`
	// AutoSave controls whether a successful mutation also writes back to
	// the session's source (when one is configured).
	AutoSave bool `json:"auto_save" yaml:"auto_save"`
	// LockTTL and LockAcquireTimeout parameterise pkg/lock.Lock.
	LockTTL            time.Duration `json:"lock_ttl" yaml:"lock_ttl"`
	LockAcquireTimeout time.Duration `json:"lock_acquire_timeout" yaml:"lock_acquire_timeout"`
}

// Normalize fills any zero-valued numeric/duration field with its default,
// so a Config built by hand (tests, an overlay missing a key) behaves the
// same as one resolved from a fully-populated environment.
func (c *Config) Normalize() {
	if c == nil {
		return
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = defaultCheckpointInterval
	}
	if c.WALCompactThreshold <= 0 {
		c.WALCompactThreshold = defaultWALCompactThreshold
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaultLockTTL
	}
	if c.LockAcquireTimeout <= 0 {
		c.LockAcquireTimeout = defaultLockAcquireTimeout
	}
	c.SessionsDir = strings.TrimSpace(c.SessionsDir)
}

// Default returns a Config with every field set to its documented default,
// ignoring the environment entirely. Tests and examples that do not care
// about environment resolution use this directly.
func Default() Config {
	dir, err := defaultSessionsDir()
	if err != nil {
		dir = filepath.Join(os.TempDir(), "docx-sessions")
	}
	return Config{
		SessionsDir:         dir,
		CheckpointInterval:  defaultCheckpointInterval,
		WALCompactThreshold: defaultWALCompactThreshold,
		AutoSave:            defaultAutoSave,
		LockTTL:             defaultLockTTL,
		LockAcquireTimeout:  defaultLockAcquireTimeout,
	}
}

func defaultSessionsDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "docx-session-engine", "sessions"), nil
}

// env is the minimal os.Getenv wrapper the loader reads through, grounded
// on the pack's own EnvConfig helper (GetString/GetInt/GetBool with
// fall-through defaults on parse failure) but reduced to the handful of
// keys this engine recognises.
type env struct{}

func (env) getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (env) getInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func (env) getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func (env) getDurationSeconds(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return def
}

// FromEnviron resolves a Config from the process environment, falling
// back to Default()'s values for anything unset or unparseable. Parse
// failures are silent fallbacks rather than load errors, matching the
// pack's GetInt/GetBool helpers: a malformed env var should degrade to the
// documented default, not take the process down.
func FromEnviron() Config {
	d := Default()
	var e env
	return Config{
		SessionsDir:         e.getString(EnvSessionsDir, d.SessionsDir),
		CheckpointInterval:  e.getInt64(EnvCheckpointInterval, d.CheckpointInterval),
		WALCompactThreshold: e.getInt64(EnvWALCompactThreshold, d.WALCompactThreshold),
		AutoSave:            e.getBool(EnvAutoSave, d.AutoSave),
		LockTTL:             e.getDurationSeconds(EnvLockTTLSeconds, d.LockTTL),
		LockAcquireTimeout:  e.getDurationSeconds(EnvLockAcquireTimeout, d.LockAcquireTimeout),
	}
}

// Loader resolves and caches a Config, optionally overlaying a YAML file
// on top of the environment-derived values, the same Load/Reload/
// atomic.Pointer caching shape the teacher's project config loader uses
// for its own (unrelated) declarative config, reduced to this engine's
// handful of fields.
type Loader struct {
	overlayPath string

	mu   sync.Mutex
	last atomic.Pointer[Config]
}

// LoaderOption customises Loader construction.
type LoaderOption func(*Loader)

// WithOverlayPath points the loader at a YAML file whose keys override the
// environment-derived defaults for any field present in the file.
func WithOverlayPath(path string) LoaderOption {
	return func(l *Loader) { l.overlayPath = path }
}

// NewLoader returns a Loader. With no options it resolves purely from the
// environment.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load resolves the environment, applies the YAML overlay if one is
// configured and present, normalises, and caches the result.
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfg := FromEnviron()
	if l.overlayPath != "" {
		if err := applyYAMLOverlay(&cfg, l.overlayPath); err != nil {
			return nil, err
		}
	}
	cfg.Normalize()
	l.last.Store(&cfg)
	return &cfg, nil
}

// Reload re-resolves the configuration, keeping the last good value if
// resolution fails (an overlay file that now fails to parse, say).
func (l *Loader) Reload() (*Config, error) {
	prev, hadPrev := l.Last()
	cfg, err := l.Load()
	if err != nil {
		if hadPrev {
			return prev, fmt.Errorf("reload failed, keeping last good config: %w", err)
		}
		return nil, err
	}
	return cfg, nil
}

// Last returns the most recently loaded Config, if any.
func (l *Loader) Last() (*Config, bool) {
	cfg := l.last.Load()
	if cfg == nil {
		return nil, false
	}
	return cfg, true
}

func applyYAMLOverlay(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config overlay %s: %w", path, err)
	}
	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse config overlay %s: %w", path, err)
	}
	mergeOverlay(cfg, overlay, data)
	return nil
}

// mergeOverlay copies every overlay field the YAML document actually set
// (non-zero) onto cfg. Booleans need their own explicit-key check since
// false is indistinguishable from absent otherwise.
func mergeOverlay(cfg *Config, overlay Config, raw []byte) {
	if overlay.SessionsDir != "" {
		cfg.SessionsDir = overlay.SessionsDir
	}
	if overlay.CheckpointInterval > 0 {
		cfg.CheckpointInterval = overlay.CheckpointInterval
	}
	if overlay.WALCompactThreshold > 0 {
		cfg.WALCompactThreshold = overlay.WALCompactThreshold
	}
	if overlay.LockTTL > 0 {
		cfg.LockTTL = overlay.LockTTL
	}
	if overlay.LockAcquireTimeout > 0 {
		cfg.LockAcquireTimeout = overlay.LockAcquireTimeout
	}
	if hasYAMLKey(raw, "auto_save") {
		cfg.AutoSave = overlay.AutoSave
	}
}

func hasYAMLKey(raw []byte, key string) bool {
	var generic map[string]any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return false
	}
	_, ok := generic[key]
	return ok
}
