// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config holds the sharebox configuration.
type Config struct {
	// Mode is the operating mode: strict or dev.
	Mode string `toml:"mode"`

	// ListenAddr is the address the HTTP API listens on when TLS is off.
	// Example: ":8080"
	ListenAddr string `toml:"listen_addr"`

	// TLS configuration
	TLS TLSConfig `toml:"tls"`

	// OutboundHTTP configuration for calls to the notification channel.
	OutboundHTTP OutboundHTTPConfig `toml:"outbound_http"`

	// Channel configures the push-notification channel.
	Channel ChannelConfig `toml:"channel"`

	// RPC configures the network endpoint used by the channel signer.
	RPC RPCConfig `toml:"rpc"`

	// Store configures the secondary message store.
	Store StoreConfig `toml:"store"`

	// Cache configuration (dispatch ledger).
	Cache CacheConfig `toml:"cache"`

	// Operations bounds dispatch and inbox operations.
	Operations OperationsConfig `toml:"operations"`

	// Logging configuration
	Logging LoggingConfig `toml:"logging"`

	// Metrics configuration
	Metrics MetricsConfig `toml:"metrics"`
}

// ChannelConfig holds notification-channel settings.
type ChannelConfig struct {
	// Environment is the network tier: prod, staging, dev.
	Environment string `toml:"environment"`

	// SignerSecret is the hex private key of the channel signer.
	// Prefer SHAREBOX_CHANNEL_SIGNER_SECRET over putting it in a file.
	SignerSecret string `toml:"signer_secret"`

	// BaseURL overrides the environment's REST base (self-hosted relays).
	BaseURL string `toml:"base_url"`

	// InboxFeed controls whether the channel feed is merged into inboxes.
	// Pointer for presence detection; nil = use preset default.
	InboxFeed *bool `toml:"inbox_feed"`

	// FeedLimit caps how many feed items are read per inbox request.
	FeedLimit int `toml:"feed_limit"`

	// GatewayURL, when set, adds a gateway link for CID locators.
	// Example: "https://ipfs.io"
	GatewayURL string `toml:"gateway_url"`
}

// RPCConfig holds the signer's network endpoint settings.
type RPCConfig struct {
	// Endpoint is the JSON-RPC URL used for the signer handshake.
	Endpoint string `toml:"endpoint"`

	// ChainID is the expected chain. It also qualifies bare addresses.
	ChainID int64 `toml:"chain_id"`

	// TimeoutMS bounds each RPC request.
	TimeoutMS int `toml:"timeout_ms"`
}

// StoreConfig holds message store settings.
type StoreConfig struct {
	// Driver is "memory", "sqlite" or "mirror" (sqlite plus a JSON export).
	Driver string `toml:"driver"`

	// Drivers holds per-driver configuration.
	// Example: [store.drivers.sqlite] path = "sharebox.db"
	Drivers map[string]any `toml:"drivers"`
}

// CacheConfig holds cache settings.
type CacheConfig struct {
	// Driver is the cache driver name: "memory" (default) or "redis".
	Driver string `toml:"driver"`

	// Drivers holds per-driver configuration.
	// Example: [cache.drivers.redis] address = "localhost:6379"
	Drivers map[string]any `toml:"drivers"`
}

// OperationsConfig bounds the core operations.
type OperationsConfig struct {
	// TimeoutMS bounds every dispatch and inbox operation.
	TimeoutMS int `toml:"timeout_ms"`

	// DispatchLedger records receipts by reference key so a repeated
	// registration does not notify twice. Nil = preset default.
	DispatchLedger *bool `toml:"dispatch_ledger"`

	// LedgerTTLSeconds is how long a receipt is remembered.
	LedgerTTLSeconds int `toml:"ledger_ttl_seconds"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	// Default: info in strict mode, debug in dev mode.
	Level string `toml:"level"`

	// Format is json or text.
	Format string `toml:"format"`

	// AllowSensitive permits logging of sensitive values.
	// Default: false. Use only for debugging.
	AllowSensitive bool `toml:"allow_sensitive"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	// Enabled exposes the metrics endpoint. Nil = preset default.
	Enabled *bool `toml:"enabled"`

	// Path is the metrics endpoint path. Default: "/metrics"
	Path string `toml:"path"`
}

// TLSConfig holds TLS-related settings.
type TLSConfig struct {
	// Mode is one of: off, static, selfsigned, acme
	Mode string `toml:"mode"`

	// CertFile and KeyFile for static mode
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`

	// HTTPPort for HTTP listener (used for ACME challenges and redirects)
	HTTPPort int `toml:"http_port"`

	// HTTPSPort for HTTPS listener
	HTTPSPort int `toml:"https_port"`

	// SelfSignedDir is where self-signed certs are stored
	SelfSignedDir string `toml:"self_signed_dir"`

	// ACME configuration
	ACME ACMEConfig `toml:"acme"`
}

// ACMEConfig holds ACME/Let's Encrypt settings.
type ACMEConfig struct {
	Email      string `toml:"email"`
	Domain     string `toml:"domain"`
	Directory  string `toml:"directory"`
	StorageDir string `toml:"storage_dir"`
	UseStaging bool   `toml:"use_staging"`
}

// OutboundHTTPConfig holds settings for outbound HTTP requests.
type OutboundHTTPConfig struct {
	// SSRFMode is one of: strict, off
	SSRFMode string `toml:"ssrf_mode"`

	// TimeoutMS is the overall request timeout in milliseconds
	TimeoutMS int `toml:"timeout_ms"`

	// ConnectTimeoutMS is the connection timeout in milliseconds
	ConnectTimeoutMS int `toml:"connect_timeout_ms"`

	// MaxRedirects is the maximum number of redirects to follow
	MaxRedirects int `toml:"max_redirects"`

	// MaxResponseBytes is the maximum response body size
	MaxResponseBytes int64 `toml:"max_response_bytes"`

	// InsecureSkipVerify disables TLS verification (dev-only)
	InsecureSkipVerify bool `toml:"insecure_skip_verify"`

	// TLSRootCAFile is a PEM file of root CAs for outbound TLS verification.
	TLSRootCAFile string `toml:"tls_root_ca_file"`

	// TLSRootCADir is a directory of .pem/.crt files for outbound TLS root CAs.
	TLSRootCADir string `toml:"tls_root_ca_dir"`
}

// OutboundHTTPConfigStrict returns strict outbound HTTP config for production.
func OutboundHTTPConfigStrict() OutboundHTTPConfig {
	return OutboundHTTPConfig{
		SSRFMode:           "strict",
		TimeoutMS:          10000,
		ConnectTimeoutMS:   2000,
		MaxRedirects:       1,
		MaxResponseBytes:   1048576,
		InsecureSkipVerify: false,
	}
}

// InboxFeedEnabled reports whether the channel feed is merged into inboxes.
func (c *Config) InboxFeedEnabled() bool {
	return c.Channel.InboxFeed != nil && *c.Channel.InboxFeed
}

// DispatchLedgerEnabled reports whether repeated registrations are deduplicated.
func (c *Config) DispatchLedgerEnabled() bool {
	return c.Operations.DispatchLedger != nil && *c.Operations.DispatchLedger
}

// MetricsEnabled reports whether the metrics endpoint is exposed.
func (c *Config) MetricsEnabled() bool {
	return c.Metrics.Enabled != nil && *c.Metrics.Enabled
}

// OperationTimeout returns the per-operation bound.
func (c *Config) OperationTimeout() time.Duration {
	return time.Duration(c.Operations.TimeoutMS) * time.Millisecond
}

// Redacted returns a string representation of the config with secrets redacted.
func (c *Config) Redacted() string {
	secret := "<unset>"
	if c.Channel.SignerSecret != "" {
		secret = "[REDACTED]"
	}

	var sb strings.Builder
	sb.WriteString("Config{\n")
	fmt.Fprintf(&sb, "  Mode: %q,\n", c.Mode)
	fmt.Fprintf(&sb, "  ListenAddr: %q,\n", c.ListenAddr)
	sb.WriteString("  TLS: {\n")
	fmt.Fprintf(&sb, "    Mode: %q,\n", c.TLS.Mode)
	fmt.Fprintf(&sb, "    CertFile: %q,\n", c.TLS.CertFile)
	fmt.Fprintf(&sb, "    KeyFile: %q,\n", c.TLS.KeyFile)
	fmt.Fprintf(&sb, "    HTTPPort: %d,\n", c.TLS.HTTPPort)
	fmt.Fprintf(&sb, "    HTTPSPort: %d,\n", c.TLS.HTTPSPort)
	sb.WriteString("  },\n")
	sb.WriteString("  OutboundHTTP: {\n")
	fmt.Fprintf(&sb, "    SSRFMode: %q,\n", c.OutboundHTTP.SSRFMode)
	fmt.Fprintf(&sb, "    TimeoutMS: %d,\n", c.OutboundHTTP.TimeoutMS)
	fmt.Fprintf(&sb, "    InsecureSkipVerify: %v,\n", c.OutboundHTTP.InsecureSkipVerify)
	sb.WriteString("  },\n")
	sb.WriteString("  Channel: {\n")
	fmt.Fprintf(&sb, "    Environment: %q,\n", c.Channel.Environment)
	fmt.Fprintf(&sb, "    SignerSecret: %s,\n", secret)
	fmt.Fprintf(&sb, "    BaseURL: %q,\n", c.Channel.BaseURL)
	fmt.Fprintf(&sb, "    InboxFeed: %v,\n", c.InboxFeedEnabled())
	fmt.Fprintf(&sb, "    GatewayURL: %q,\n", c.Channel.GatewayURL)
	sb.WriteString("  },\n")
	sb.WriteString("  RPC: {\n")
	fmt.Fprintf(&sb, "    Endpoint: %q,\n", c.RPC.Endpoint)
	fmt.Fprintf(&sb, "    ChainID: %d,\n", c.RPC.ChainID)
	sb.WriteString("  },\n")
	fmt.Fprintf(&sb, "  Store.Driver: %q,\n", c.Store.Driver)
	fmt.Fprintf(&sb, "  Cache.Driver: %q,\n", c.Cache.Driver)
	sb.WriteString("  Operations: {\n")
	fmt.Fprintf(&sb, "    TimeoutMS: %d,\n", c.Operations.TimeoutMS)
	fmt.Fprintf(&sb, "    DispatchLedger: %v,\n", c.DispatchLedgerEnabled())
	sb.WriteString("  },\n")
	sb.WriteString("  Logging: {\n")
	fmt.Fprintf(&sb, "    Level: %q,\n", c.Logging.Level)
	fmt.Fprintf(&sb, "    Format: %q,\n", c.Logging.Format)
	fmt.Fprintf(&sb, "    AllowSensitive: %v,\n", c.Logging.AllowSensitive)
	sb.WriteString("  },\n")
	fmt.Fprintf(&sb, "  Metrics: {Enabled: %v, Path: %q},\n", c.MetricsEnabled(), c.Metrics.Path)
	sb.WriteString("}")
	return sb.String()
}
