package server

import (
	"net/http"
	"time"
)

// SessionConfig holds configuration for individual sessions.
type SessionConfig struct {
	// LoadTimeout bounds a single document load or reload.
	// Default: 30 seconds.
	LoadTimeout time.Duration

	// Debounce is the quiet period a stream watcher waits for before it
	// diffs the document.
	// Default: 50 milliseconds.
	Debounce time.Duration

	// MaxDelay caps how long a stream watcher defers a batch while
	// mutations keep arriving.
	// Default: 500 milliseconds.
	MaxDelay time.Duration

	// WatchSource reloads the document when its source changes, for
	// loaders that can watch.
	// Default: true.
	WatchSource bool
}

// DefaultSessionConfig returns a SessionConfig with sensible defaults.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		LoadTimeout: 30 * time.Second,
		Debounce:    50 * time.Millisecond,
		MaxDelay:    500 * time.Millisecond,
		WatchSource: true,
	}
}

// Clone returns a copy of the SessionConfig.
func (c *SessionConfig) Clone() *SessionConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// RegistryConfig holds configuration for the session registry.
type RegistryConfig struct {
	// RetainFor is how long a session without streams is kept before it
	// is saved and evicted. A negative value keeps sessions until
	// shutdown.
	// Default: 5 minutes.
	RetainFor time.Duration

	// CleanupInterval is the period of the eviction loop.
	// Default: 30 seconds.
	CleanupInterval time.Duration

	// MaxSessions is the maximum number of live sessions. 0 means no limit.
	MaxSessions int

	// Session is the configuration given to every new session.
	// Default: DefaultSessionConfig().
	Session *SessionConfig
}

// DefaultRegistryConfig returns a RegistryConfig with sensible defaults.
func DefaultRegistryConfig() *RegistryConfig {
	return &RegistryConfig{
		RetainFor:       5 * time.Minute,
		CleanupInterval: 30 * time.Second,
		Session:         DefaultSessionConfig(),
	}
}

// Clone returns a deep copy of the RegistryConfig.
func (c *RegistryConfig) Clone() *RegistryConfig {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Session = c.Session.Clone()
	return &clone
}

// ServerConfig holds configuration for the HTTP and TCP listeners.
type ServerConfig struct {
	// Address is the HTTP listen address.
	// Default: ":8080".
	Address string

	// TCPAddress is the listen address for framed binary connections.
	// Empty disables the TCP listener.
	TCPAddress string

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// CheckOrigin is called to validate the request origin.
	// Default: allows all origins.
	CheckOrigin func(r *http.Request) bool

	// WriteTimeout bounds each WebSocket write.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// PingInterval is the WebSocket keepalive period. Zero disables pings.
	// Default: 30 seconds.
	PingInterval time.Duration

	// OpenTimeout is how long a connection without options in its URL may
	// take to send an open message.
	// Default: 10 seconds.
	OpenTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration

	// Registry configures session retention.
	// Default: DefaultRegistryConfig().
	Registry *RegistryConfig
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:         ":8080",
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		WriteTimeout:    10 * time.Second,
		PingInterval:    30 * time.Second,
		OpenTimeout:     10 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		Registry:        DefaultRegistryConfig(),
	}
}

// Clone returns a deep copy of the ServerConfig.
func (c *ServerConfig) Clone() *ServerConfig {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Registry = c.Registry.Clone()
	return &clone
}

// WithAddress returns a copy with the HTTP address set.
func (c *ServerConfig) WithAddress(addr string) *ServerConfig {
	clone := c.Clone()
	clone.Address = addr
	return clone
}

// WithTCPAddress returns a copy with the TCP address set.
func (c *ServerConfig) WithTCPAddress(addr string) *ServerConfig {
	clone := c.Clone()
	clone.TCPAddress = addr
	return clone
}

func (c *SessionConfig) withDefaults() *SessionConfig {
	d := DefaultSessionConfig()
	if c == nil {
		return d
	}
	out := c.Clone()
	if out.LoadTimeout <= 0 {
		out.LoadTimeout = d.LoadTimeout
	}
	if out.Debounce <= 0 {
		out.Debounce = d.Debounce
	}
	if out.MaxDelay <= 0 {
		out.MaxDelay = d.MaxDelay
	}
	return out
}

func (c *RegistryConfig) withDefaults() *RegistryConfig {
	d := DefaultRegistryConfig()
	if c == nil {
		return d
	}
	out := c.Clone()
	if out.RetainFor == 0 {
		out.RetainFor = d.RetainFor
	}
	if out.CleanupInterval <= 0 {
		out.CleanupInterval = d.CleanupInterval
	}
	out.Session = out.Session.withDefaults()
	return out
}

func (c *ServerConfig) withDefaults() *ServerConfig {
	d := DefaultServerConfig()
	if c == nil {
		return d
	}
	out := c.Clone()
	if out.Address == "" {
		out.Address = d.Address
	}
	if out.ReadBufferSize <= 0 {
		out.ReadBufferSize = d.ReadBufferSize
	}
	if out.WriteBufferSize <= 0 {
		out.WriteBufferSize = d.WriteBufferSize
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = d.WriteTimeout
	}
	if out.OpenTimeout <= 0 {
		out.OpenTimeout = d.OpenTimeout
	}
	if out.ShutdownTimeout <= 0 {
		out.ShutdownTimeout = d.ShutdownTimeout
	}
	out.Registry = out.Registry.withDefaults()
	return out
}
