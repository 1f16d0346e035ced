package intercept

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedConfig is returned by LoadConfig for files that are neither
// TOML nor YAML.
var ErrUnsupportedConfig = errors.New("unsupported config format")

// Direction strategies understood by Config.
const (
	StrategyDeclared = "declared"
	StrategyPrefix   = "prefix"
	StrategyManifest = "manifest"
)

// Log formats understood by Config.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Config is the file-backed configuration of an Engine and its Loop.
type Config struct {
	// LogLevel is a zerolog level name ("debug", "info", "warn", ...).
	LogLevel string

	// LogFormat is FormatConsole or FormatJSON.
	LogFormat string

	// CallTimeout bounds how long an IO goroutine waits for the main
	// context to pick up a message. Zero waits indefinitely.
	CallTimeout time.Duration

	// QueueSize is the main loop queue capacity.
	QueueSize int

	Direction DirectionConfig
}

// DirectionConfig selects how message directions are classified.
type DirectionConfig struct {
	// Strategy is StrategyDeclared, StrategyPrefix or StrategyManifest.
	Strategy string

	// Prefix marks clientbound type names for StrategyPrefix.
	Prefix string

	// Manifest is the protocol manifest path for StrategyManifest. A
	// relative path is resolved against the config file's directory.
	Manifest string
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: FormatConsole,
		QueueSize: 1024,
		Direction: DirectionConfig{
			Strategy: StrategyDeclared,
			Prefix:   "Clientbound",
		},
	}
}

type fileConfig struct {
	LogLevel    string              `toml:"log_level" yaml:"log_level"`
	LogFormat   string              `toml:"log_format" yaml:"log_format"`
	CallTimeout string              `toml:"call_timeout" yaml:"call_timeout"`
	QueueSize   int                 `toml:"queue_size" yaml:"queue_size"`
	Direction   fileDirectionConfig `toml:"direction" yaml:"direction"`
}

type fileDirectionConfig struct {
	Strategy string `toml:"strategy" yaml:"strategy"`
	Prefix   string `toml:"prefix" yaml:"prefix"`
	Manifest string `toml:"manifest" yaml:"manifest"`
}

// LoadConfig reads a TOML (.toml) or YAML (.yaml, .yml) file. Keys absent
// from the file keep their DefaultConfig values.
//
// Example config.toml:
//
//	log_level    = "debug"
//	call_timeout = "250ms"
//
//	[direction]
//	strategy = "manifest"
//	manifest = "protocol.json"
func LoadConfig(path string) (Config, error) {
	var (
		cfg Config
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		cfg, err = loadTOML(path)
	case ".yaml", ".yml":
		cfg, err = loadYAML(path)
	default:
		return Config{}, fmt.Errorf("%w: %s", ErrUnsupportedConfig, path)
	}
	if err != nil {
		return Config{}, err
	}

	if m := cfg.Direction.Manifest; m != "" && !filepath.IsAbs(m) {
		cfg.Direction.Manifest = filepath.Join(filepath.Dir(path), m)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func loadTOML(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("log_format") {
		cfg.LogFormat = strings.TrimSpace(raw.LogFormat)
	}
	if meta.IsDefined("call_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.CallTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse call_timeout: %w", err)
		}
		cfg.CallTimeout = d
	}
	if meta.IsDefined("queue_size") {
		cfg.QueueSize = raw.QueueSize
	}
	if meta.IsDefined("direction", "strategy") {
		cfg.Direction.Strategy = strings.TrimSpace(raw.Direction.Strategy)
	}
	if meta.IsDefined("direction", "prefix") {
		cfg.Direction.Prefix = raw.Direction.Prefix
	}
	if meta.IsDefined("direction", "manifest") {
		cfg.Direction.Manifest = strings.TrimSpace(raw.Direction.Manifest)
	}
	return cfg, nil
}

func loadYAML(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	def := DefaultConfig()
	raw := fileConfig{
		LogLevel:  def.LogLevel,
		LogFormat: def.LogFormat,
		QueueSize: def.QueueSize,
		Direction: fileDirectionConfig{
			Strategy: def.Direction.Strategy,
			Prefix:   def.Direction.Prefix,
		},
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	cfg := Config{
		LogLevel:  strings.TrimSpace(raw.LogLevel),
		LogFormat: strings.TrimSpace(raw.LogFormat),
		QueueSize: raw.QueueSize,
		Direction: DirectionConfig{
			Strategy: strings.TrimSpace(raw.Direction.Strategy),
			Prefix:   raw.Direction.Prefix,
			Manifest: strings.TrimSpace(raw.Direction.Manifest),
		},
	}
	if s := strings.TrimSpace(raw.CallTimeout); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return Config{}, fmt.Errorf("parse call_timeout: %w", err)
		}
		cfg.CallTimeout = d
	}
	return cfg, nil
}

// Validate checks field values.
func (c Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	switch c.LogFormat {
	case FormatConsole, FormatJSON:
	default:
		return fmt.Errorf("log_format: unknown format %q", c.LogFormat)
	}
	if c.CallTimeout < 0 {
		return fmt.Errorf("call_timeout: must not be negative")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size: must be positive")
	}
	switch c.Direction.Strategy {
	case StrategyDeclared, StrategyPrefix:
	case StrategyManifest:
		if c.Direction.Manifest == "" {
			return fmt.Errorf("direction.manifest: required for strategy %q", StrategyManifest)
		}
	default:
		return fmt.Errorf("direction.strategy: unknown strategy %q", c.Direction.Strategy)
	}
	return nil
}

// Logger builds a zerolog logger writing to w.
func (c Config) Logger(w io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log_level: %w", err)
	}
	out := w
	if c.LogFormat != FormatJSON {
		out = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Str("component", "intercept").Logger(), nil
}

// Classifier builds the direction classifier selected by Direction.
func (c Config) Classifier() (Classifier, error) {
	switch c.Direction.Strategy {
	case StrategyDeclared, "":
		return DeclaredClassifier(), nil
	case StrategyPrefix:
		return ChainClassifier(DeclaredClassifier(), PrefixClassifier(c.Direction.Prefix)), nil
	case StrategyManifest:
		m, err := LoadManifest(c.Direction.Manifest)
		if err != nil {
			return nil, err
		}
		return ChainClassifier(DeclaredClassifier(), m), nil
	default:
		return nil, fmt.Errorf("direction.strategy: unknown strategy %q", c.Direction.Strategy)
	}
}

// Options returns the Engine options described by c, logging through log.
func (c Config) Options(log zerolog.Logger) ([]Option, error) {
	cl, err := c.Classifier()
	if err != nil {
		return nil, err
	}
	return []Option{WithLogger(log), WithClassifier(cl)}, nil
}

// LoopOptions returns the Loop options described by c, logging through log.
func (c Config) LoopOptions(log zerolog.Logger) []LoopOption {
	return []LoopOption{
		WithQueueSize(c.QueueSize),
		WithCallTimeout(c.CallTimeout),
		WithLoopLogger(log),
	}
}
