package config

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/vango-dev/treesync/internal/errors"
	"github.com/vango-dev/treesync/pkg/server"
)

const (
	// DefaultAddress is the default HTTP listen address.
	DefaultAddress = ":8080"

	// DefaultRedisPrefix is prepended to every snapshot key in Redis.
	DefaultRedisPrefix = "treesync:snapshot:"

	// Never disables session eviction when used as server.retainFor.
	Never = "never"
)

// Config is the complete treesync configuration.
type Config struct {
	Server  ServerConfig  `json:"server" yaml:"server" toml:"server"`
	Session SessionConfig `json:"session" yaml:"session" toml:"session"`
	Source  SourceConfig  `json:"source" yaml:"source" toml:"source"`
	S3      S3Config      `json:"s3" yaml:"s3" toml:"s3"`
	Redis   RedisConfig   `json:"redis" yaml:"redis" toml:"redis"`
	Log     LogConfig     `json:"log" yaml:"log" toml:"log"`

	path string
}

// ServerConfig configures the listeners and session retention.
type ServerConfig struct {
	Address    string `json:"address" yaml:"address" toml:"address"`
	TCPAddress string `json:"tcpAddress" yaml:"tcpAddress" toml:"tcpAddress"`

	// AllowedOrigins restricts WebSocket upgrades. Empty allows every
	// origin.
	AllowedOrigins []string `json:"allowedOrigins" yaml:"allowedOrigins" toml:"allowedOrigins"`

	WriteTimeout    string `json:"writeTimeout" yaml:"writeTimeout" toml:"writeTimeout"`
	PingInterval    string `json:"pingInterval" yaml:"pingInterval" toml:"pingInterval"`
	OpenTimeout     string `json:"openTimeout" yaml:"openTimeout" toml:"openTimeout"`
	ShutdownTimeout string `json:"shutdownTimeout" yaml:"shutdownTimeout" toml:"shutdownTimeout"`

	// RetainFor is how long an unwatched document stays loaded, or "never".
	RetainFor       string `json:"retainFor" yaml:"retainFor" toml:"retainFor"`
	CleanupInterval string `json:"cleanupInterval" yaml:"cleanupInterval" toml:"cleanupInterval"`
	MaxSessions     int    `json:"maxSessions" yaml:"maxSessions" toml:"maxSessions"`
}

// SessionConfig configures document sessions.
type SessionConfig struct {
	LoadTimeout string `json:"loadTimeout" yaml:"loadTimeout" toml:"loadTimeout"`
	Debounce    string `json:"debounce" yaml:"debounce" toml:"debounce"`
	MaxDelay    string `json:"maxDelay" yaml:"maxDelay" toml:"maxDelay"`
	WatchSource bool   `json:"watchSource" yaml:"watchSource" toml:"watchSource"`
}

// SourceConfig configures the file loader.
type SourceConfig struct {
	// Root confines plain paths and file:// URLs.
	Root         string `json:"root" yaml:"root" toml:"root"`
	PollInterval string `json:"pollInterval" yaml:"pollInterval" toml:"pollInterval"`
}

// S3Config configures the s3:// loader. Credentials fall back to the
// standard AWS environment variables.
type S3Config struct {
	Enabled         bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Bucket          string `json:"bucket" yaml:"bucket" toml:"bucket"`
	Region          string `json:"region" yaml:"region" toml:"region"`
	Endpoint        string `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	UsePathStyle    bool   `json:"usePathStyle" yaml:"usePathStyle" toml:"usePathStyle"`
	AccessKeyID     string `json:"accessKeyId" yaml:"accessKeyId" toml:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey" yaml:"secretAccessKey" toml:"secretAccessKey"`
	SessionToken    string `json:"sessionToken" yaml:"sessionToken" toml:"sessionToken"`
}

// RedisConfig selects the Redis snapshot store. An empty address keeps
// snapshots in memory.
type RedisConfig struct {
	Address  string `json:"address" yaml:"address" toml:"address"`
	Password string `json:"password" yaml:"password" toml:"password"`
	DB       int    `json:"db" yaml:"db" toml:"db"`
	Prefix   string `json:"prefix" yaml:"prefix" toml:"prefix"`
	TTL      string `json:"ttl" yaml:"ttl" toml:"ttl"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `json:"level" yaml:"level" toml:"level"`
	// Format is text or json.
	Format string `json:"format" yaml:"format" toml:"format"`
}

// New returns a Config with every default filled in.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         DefaultAddress,
			WriteTimeout:    "10s",
			PingInterval:    "30s",
			OpenTimeout:     "10s",
			ShutdownTimeout: "30s",
			RetainFor:       "5m",
			CleanupInterval: "30s",
		},
		Session: SessionConfig{
			LoadTimeout: "30s",
			Debounce:    "50ms",
			MaxDelay:    "500ms",
			WatchSource: true,
		},
		Source: SourceConfig{
			Root:         ".",
			PollInterval: "1s",
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Redis: RedisConfig{
			Prefix: DefaultRedisPrefix,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the file at path over the defaults and validates the result.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return New(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.New("E101").WithDetail("No file at " + path).Wrap(err)
		}
		return nil, errors.New("E102").WithLocation(path, 0, 0).Wrap(err)
	}

	cfg := New()
	if err := cfg.decode(path, data); err != nil {
		return nil, err
	}
	cfg.path = path
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(path string, data []byte) error {
	var err error
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(data, c)
		var syntax *json.SyntaxError
		if stderrors.As(err, &syntax) {
			line := 1 + bytes.Count(data[:min(int(syntax.Offset), len(data))], []byte("\n"))
			return errors.New("E102").WithLocation(path, line, 0).Wrap(err)
		}
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	case ".toml":
		_, err = toml.Decode(string(data), c)
	default:
		return errors.New("E104").WithLocation(path, 0, 0).WithDetailf("Unknown extension %q", ext)
	}
	if err != nil {
		return errors.New("E102").WithLocationFromError(path, err).Wrap(err)
	}
	return nil
}

// Path returns the file the configuration was loaded from.
func (c *Config) Path() string { return c.path }

// Dir returns the directory of the configuration file, or "" for defaults.
func (c *Config) Dir() string {
	if c.path == "" {
		return ""
	}
	return filepath.Dir(c.path)
}

// applyDefaults fills fields a file set to empty values.
func (c *Config) applyDefaults() {
	d := New()
	if c.Server.Address == "" {
		c.Server.Address = d.Server.Address
	}
	setDefault(&c.Server.WriteTimeout, d.Server.WriteTimeout)
	setDefault(&c.Server.OpenTimeout, d.Server.OpenTimeout)
	setDefault(&c.Server.ShutdownTimeout, d.Server.ShutdownTimeout)
	setDefault(&c.Server.RetainFor, d.Server.RetainFor)
	setDefault(&c.Server.CleanupInterval, d.Server.CleanupInterval)
	setDefault(&c.Session.LoadTimeout, d.Session.LoadTimeout)
	setDefault(&c.Session.Debounce, d.Session.Debounce)
	setDefault(&c.Session.MaxDelay, d.Session.MaxDelay)
	setDefault(&c.Source.Root, d.Source.Root)
	setDefault(&c.Source.PollInterval, d.Source.PollInterval)
	setDefault(&c.S3.Region, d.S3.Region)
	setDefault(&c.Redis.Prefix, d.Redis.Prefix)
	setDefault(&c.Log.Level, d.Log.Level)
	setDefault(&c.Log.Format, d.Log.Format)

	// Relative roots are relative to the configuration file.
	if dir := c.Dir(); dir != "" && !filepath.IsAbs(c.Source.Root) {
		c.Source.Root = filepath.Join(dir, c.Source.Root)
	}
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// Validate checks every value and returns the first problem as a coded
// error.
func (c *Config) Validate() error {
	if _, err := c.ServerConfig(); err != nil {
		return err
	}
	if _, err := c.PollInterval(); err != nil {
		return err
	}
	if _, err := c.RedisTTL(); err != nil {
		return err
	}
	if c.Server.MaxSessions < 0 {
		return c.invalid("server.maxSessions", "must not be negative")
	}
	if c.Redis.DB < 0 {
		return c.invalid("redis.db", "must not be negative")
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Log.Level)) {
		return c.invalid("log.level", fmt.Sprintf("unknown level %q", c.Log.Level)).
			WithSuggestion("Use debug, info, warn or error")
	}
	if !slices.Contains([]string{"text", "json"}, strings.ToLower(c.Log.Format)) {
		return c.invalid("log.format", fmt.Sprintf("unknown format %q", c.Log.Format)).
			WithSuggestion("Use text or json")
	}
	if c.S3.Enabled && c.S3.Endpoint != "" {
		if u, err := url.Parse(c.S3.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
			return c.invalid("s3.endpoint", fmt.Sprintf("%q is not an absolute URL", c.S3.Endpoint))
		}
	}
	return nil
}

func (c *Config) invalid(field, detail string) *errors.Error {
	e := errors.New("E103").WithDetail(field + ": " + detail)
	if c.path != "" {
		e.WithLocation(c.path, 0, 0)
	}
	return e
}

func (c *Config) duration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, c.invalid(field, err.Error()).
			WithSuggestion("Use a Go duration such as 10s or 1m30s").
			Wrap(err)
	}
	return d, nil
}

// ServerConfig converts the server and session sections.
func (c *Config) ServerConfig() (*server.ServerConfig, error) {
	out := server.DefaultServerConfig()
	out.Address = c.Server.Address
	out.TCPAddress = c.Server.TCPAddress
	out.Registry.MaxSessions = c.Server.MaxSessions
	out.Registry.Session.WatchSource = c.Session.WatchSource
	if len(c.Server.AllowedOrigins) > 0 {
		out.CheckOrigin = originChecker(c.Server.AllowedOrigins)
	}

	durations := []struct {
		field string
		value string
		dst   *time.Duration
	}{
		{"server.writeTimeout", c.Server.WriteTimeout, &out.WriteTimeout},
		{"server.openTimeout", c.Server.OpenTimeout, &out.OpenTimeout},
		{"server.shutdownTimeout", c.Server.ShutdownTimeout, &out.ShutdownTimeout},
		{"server.cleanupInterval", c.Server.CleanupInterval, &out.Registry.CleanupInterval},
		{"session.loadTimeout", c.Session.LoadTimeout, &out.Registry.Session.LoadTimeout},
		{"session.debounce", c.Session.Debounce, &out.Registry.Session.Debounce},
		{"session.maxDelay", c.Session.MaxDelay, &out.Registry.Session.MaxDelay},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := c.duration(d.field, d.value)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}

	// An empty ping interval disables keepalives.
	out.PingInterval = 0
	if c.Server.PingInterval != "" {
		v, err := c.duration("server.pingInterval", c.Server.PingInterval)
		if err != nil {
			return nil, err
		}
		out.PingInterval = v
	}

	switch c.Server.RetainFor {
	case "":
	case Never:
		out.Registry.RetainFor = -1
	default:
		v, err := c.duration("server.retainFor", c.Server.RetainFor)
		if err != nil {
			return nil, err
		}
		out.Registry.RetainFor = v
	}
	return out, nil
}

// PollInterval returns the source poll interval.
func (c *Config) PollInterval() (time.Duration, error) {
	d, err := c.duration("source.pollInterval", c.Source.PollInterval)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, c.invalid("source.pollInterval", "must be positive")
	}
	return d, nil
}

// RedisTTL returns the snapshot expiry. Zero keeps snapshots forever.
func (c *Config) RedisTTL() (time.Duration, error) {
	if c.Redis.TTL == "" {
		return 0, nil
	}
	return c.duration("redis.ttl", c.Redis.TTL)
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) || strings.EqualFold(a, u.Host) {
				return true
			}
		}
		return false
	}
}
