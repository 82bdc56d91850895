// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Mode represents the operating mode.
type Mode string

const (
	ModeStrict Mode = "strict"
	ModeDev    Mode = "dev"
)

// Environment variables recognized by Load.
const (
	EnvSignerSecret       = "SHAREBOX_CHANNEL_SIGNER_SECRET"
	EnvRPCEndpoint        = "SHAREBOX_RPC_ENDPOINT"
	EnvChannelEnvironment = "SHAREBOX_CHANNEL_ENVIRONMENT"
)

// ParseMode parses a mode string, returning an error for invalid values.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict", "":
		return ModeStrict, nil
	case "dev":
		return ModeDev, nil
	default:
		return "", fmt.Errorf("invalid mode %q: must be one of strict, dev", s)
	}
}

// LoaderOptions controls how configuration is loaded.
type LoaderOptions struct {
	// ConfigPath is the path to a TOML config file (optional).
	// If provided but file is missing or invalid, loading fails.
	ConfigPath string

	// ModeFlag is the --mode flag value (overrides config file mode).
	ModeFlag string

	// FlagOverrides are CLI flag values that override config file values.
	FlagOverrides FlagOverrides

	// Getenv reads environment overrides. Nil uses os.Getenv.
	Getenv func(string) string

	// Logger is used for warning messages (e.g., undecoded keys).
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// FlagOverrides holds CLI flag values that override config file values.
type FlagOverrides struct {
	ListenAddr         *string
	TLSMode            *string
	SSRFMode           *string
	ChannelEnvironment *string
	ChannelInboxFeed   *string // "true", "false", or "" (unset)
	RPCEndpoint        *string
	StoreDriver        *string
	CacheDriver        *string
	LoggingLevel       *string
	LoggingFormat      *string
}

// fileConfig mirrors Config but with pointer sections to detect presence.
type fileConfig struct {
	Mode       string `toml:"mode"`
	ListenAddr string `toml:"listen_addr"`

	TLS          *TLSConfig          `toml:"tls"`
	OutboundHTTP *OutboundHTTPConfig `toml:"outbound_http"`
	Channel      *ChannelConfig      `toml:"channel"`
	RPC          *RPCConfig          `toml:"rpc"`
	Store        *StoreConfig        `toml:"store"`
	Cache        *CacheConfig        `toml:"cache"`
	Operations   *OperationsConfig   `toml:"operations"`
	Logging      *LoggingConfig      `toml:"logging"`
	Metrics      *MetricsConfig      `toml:"metrics"`
}

// Load loads configuration with the following precedence:
//  1. Determine effective mode: --mode flag > mode in config file > default (strict)
//  2. Start from mode preset defaults
//  3. Overlay TOML config file values
//  4. Overlay SHAREBOX_* environment variables
//  5. Overlay CLI flags
//  6. Validate enum fields
//
// If ConfigPath is provided but the file is missing, unreadable, or invalid TOML,
// Load returns an error. Unknown TOML keys produce a warning but do not fail.
func Load(opts LoaderOptions) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	var fc fileConfig

	if opts.ConfigPath != "" {
		data, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigPath, err)
		}
		md, err := toml.Decode(string(data), &fc)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", opts.ConfigPath, err)
		}

		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keyStr := k.String()
				if keyStr == "push" || strings.HasPrefix(keyStr, "push.") {
					return nil, fmt.Errorf("config section '[push]' has been renamed to '[channel]'; please update your configuration")
				}
				keys = append(keys, keyStr)
			}
			logger.Warn("config file contains undecoded keys", "path", opts.ConfigPath, "keys", keys)
		}
	}

	modeStr := "strict"
	if fc.Mode != "" {
		modeStr = fc.Mode
	}
	if opts.ModeFlag != "" {
		modeStr = opts.ModeFlag
	}
	mode, err := ParseMode(modeStr)
	if err != nil {
		return nil, err
	}

	cfg := presetForMode(mode)

	if opts.ConfigPath != "" {
		overlayFileConfig(cfg, &fc)
	}
	overlayEnv(cfg, getenv)
	overlayFlags(cfg, opts.FlagOverrides)

	if err := validateEnums(cfg); err != nil {
		return nil, err
	}
	if err := validateURLs(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func ptrBool(b bool) *bool { return &b }

func presetForMode(mode Mode) *Config {
	if mode == ModeDev {
		return DevConfig()
	}
	return StrictConfig()
}

// StrictConfig returns production-safe strict defaults.
func StrictConfig() *Config {
	return &Config{
		Mode:       string(ModeStrict),
		ListenAddr: ":8443",
		TLS: TLSConfig{
			Mode:          "selfsigned",
			HTTPPort:      8080,
			HTTPSPort:     8443,
			SelfSignedDir: ".sharebox/certs",
			ACME: ACMEConfig{
				Directory:  "https://acme-v02.api.letsencrypt.org/directory",
				StorageDir: ".sharebox/acme",
			},
		},
		OutboundHTTP: OutboundHTTPConfigStrict(),
		Channel: ChannelConfig{
			Environment: "prod",
			InboxFeed:   ptrBool(true),
			FeedLimit:   30,
		},
		RPC: RPCConfig{
			ChainID:   1,
			TimeoutMS: 5000,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Drivers: map[string]any{
				"sqlite": map[string]any{"path": ".sharebox/sharebox.db"},
			},
		},
		Cache: CacheConfig{
			Driver: "memory",
		},
		Operations: OperationsConfig{
			TimeoutMS:        15000,
			DispatchLedger:   ptrBool(true),
			LedgerTTLSeconds: 86400,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: ptrBool(true),
			Path:    "/metrics",
		},
	}
}

// DevConfig returns development mode defaults.
func DevConfig() *Config {
	cfg := StrictConfig()
	cfg.Mode = string(ModeDev)
	cfg.ListenAddr = ":8080"
	cfg.TLS.Mode = "off"
	cfg.TLS.ACME.Directory = "https://acme-staging-v02.api.letsencrypt.org/directory"
	cfg.TLS.ACME.UseStaging = true
	cfg.OutboundHTTP.SSRFMode = "off"
	cfg.OutboundHTTP.MaxRedirects = 3
	cfg.Channel.Environment = "staging"
	cfg.RPC.ChainID = 11155111
	cfg.Store.Driver = "memory"
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "text"
	return cfg
}

// overlayFileConfig applies TOML file values onto cfg.
func overlayFileConfig(cfg *Config, fc *fileConfig) {
	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}

	if fc.TLS != nil {
		if fc.TLS.Mode != "" {
			cfg.TLS.Mode = fc.TLS.Mode
		}
		if fc.TLS.CertFile != "" {
			cfg.TLS.CertFile = fc.TLS.CertFile
		}
		if fc.TLS.KeyFile != "" {
			cfg.TLS.KeyFile = fc.TLS.KeyFile
		}
		if fc.TLS.HTTPPort != 0 {
			cfg.TLS.HTTPPort = fc.TLS.HTTPPort
		}
		if fc.TLS.HTTPSPort != 0 {
			cfg.TLS.HTTPSPort = fc.TLS.HTTPSPort
		}
		if fc.TLS.SelfSignedDir != "" {
			cfg.TLS.SelfSignedDir = fc.TLS.SelfSignedDir
		}
		if fc.TLS.ACME.Email != "" {
			cfg.TLS.ACME.Email = fc.TLS.ACME.Email
		}
		if fc.TLS.ACME.Domain != "" {
			cfg.TLS.ACME.Domain = fc.TLS.ACME.Domain
		}
		if fc.TLS.ACME.Directory != "" {
			cfg.TLS.ACME.Directory = fc.TLS.ACME.Directory
		}
		if fc.TLS.ACME.StorageDir != "" {
			cfg.TLS.ACME.StorageDir = fc.TLS.ACME.StorageDir
		}
		cfg.TLS.ACME.UseStaging = fc.TLS.ACME.UseStaging
	}

	if fc.OutboundHTTP != nil {
		if fc.OutboundHTTP.SSRFMode != "" {
			cfg.OutboundHTTP.SSRFMode = fc.OutboundHTTP.SSRFMode
		}
		if fc.OutboundHTTP.TimeoutMS != 0 {
			cfg.OutboundHTTP.TimeoutMS = fc.OutboundHTTP.TimeoutMS
		}
		if fc.OutboundHTTP.ConnectTimeoutMS != 0 {
			cfg.OutboundHTTP.ConnectTimeoutMS = fc.OutboundHTTP.ConnectTimeoutMS
		}
		if fc.OutboundHTTP.MaxRedirects != 0 {
			cfg.OutboundHTTP.MaxRedirects = fc.OutboundHTTP.MaxRedirects
		}
		if fc.OutboundHTTP.MaxResponseBytes != 0 {
			cfg.OutboundHTTP.MaxResponseBytes = fc.OutboundHTTP.MaxResponseBytes
		}
		if fc.OutboundHTTP.TLSRootCAFile != "" {
			cfg.OutboundHTTP.TLSRootCAFile = fc.OutboundHTTP.TLSRootCAFile
		}
		if fc.OutboundHTTP.TLSRootCADir != "" {
			cfg.OutboundHTTP.TLSRootCADir = fc.OutboundHTTP.TLSRootCADir
		}
		cfg.OutboundHTTP.InsecureSkipVerify = fc.OutboundHTTP.InsecureSkipVerify
	}

	if fc.Channel != nil {
		if fc.Channel.Environment != "" {
			cfg.Channel.Environment = fc.Channel.Environment
		}
		if fc.Channel.SignerSecret != "" {
			cfg.Channel.SignerSecret = fc.Channel.SignerSecret
		}
		if fc.Channel.BaseURL != "" {
			cfg.Channel.BaseURL = fc.Channel.BaseURL
		}
		if fc.Channel.InboxFeed != nil {
			cfg.Channel.InboxFeed = fc.Channel.InboxFeed
		}
		if fc.Channel.FeedLimit != 0 {
			cfg.Channel.FeedLimit = fc.Channel.FeedLimit
		}
		if fc.Channel.GatewayURL != "" {
			cfg.Channel.GatewayURL = fc.Channel.GatewayURL
		}
	}

	if fc.RPC != nil {
		if fc.RPC.Endpoint != "" {
			cfg.RPC.Endpoint = fc.RPC.Endpoint
		}
		if fc.RPC.ChainID != 0 {
			cfg.RPC.ChainID = fc.RPC.ChainID
		}
		if fc.RPC.TimeoutMS != 0 {
			cfg.RPC.TimeoutMS = fc.RPC.TimeoutMS
		}
	}

	if fc.Store != nil {
		if fc.Store.Driver != "" {
			cfg.Store.Driver = fc.Store.Driver
		}
		if len(fc.Store.Drivers) > 0 {
			cfg.Store.Drivers = fc.Store.Drivers
		}
	}

	if fc.Cache != nil {
		if fc.Cache.Driver != "" {
			cfg.Cache.Driver = fc.Cache.Driver
		}
		if len(fc.Cache.Drivers) > 0 {
			cfg.Cache.Drivers = fc.Cache.Drivers
		}
	}

	if fc.Operations != nil {
		if fc.Operations.TimeoutMS != 0 {
			cfg.Operations.TimeoutMS = fc.Operations.TimeoutMS
		}
		if fc.Operations.DispatchLedger != nil {
			cfg.Operations.DispatchLedger = fc.Operations.DispatchLedger
		}
		if fc.Operations.LedgerTTLSeconds != 0 {
			cfg.Operations.LedgerTTLSeconds = fc.Operations.LedgerTTLSeconds
		}
	}

	if fc.Logging != nil {
		if fc.Logging.Level != "" {
			cfg.Logging.Level = fc.Logging.Level
		}
		if fc.Logging.Format != "" {
			cfg.Logging.Format = fc.Logging.Format
		}
		cfg.Logging.AllowSensitive = fc.Logging.AllowSensitive
	}

	if fc.Metrics != nil {
		if fc.Metrics.Enabled != nil {
			cfg.Metrics.Enabled = fc.Metrics.Enabled
		}
		if fc.Metrics.Path != "" {
			cfg.Metrics.Path = fc.Metrics.Path
		}
	}
}

// overlayEnv applies the SHAREBOX_* variables. Empty values are ignored.
func overlayEnv(cfg *Config, getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvSignerSecret)); v != "" {
		cfg.Channel.SignerSecret = v
	}
	if v := strings.TrimSpace(getenv(EnvRPCEndpoint)); v != "" {
		cfg.RPC.Endpoint = v
	}
	if v := strings.TrimSpace(getenv(EnvChannelEnvironment)); v != "" {
		cfg.Channel.Environment = v
	}
}

// overlayFlags applies CLI flag values onto cfg.
func overlayFlags(cfg *Config, f FlagOverrides) {
	set := func(p *string) bool { return p != nil && *p != "" }

	if set(f.ListenAddr) {
		cfg.ListenAddr = *f.ListenAddr
	}
	if set(f.TLSMode) {
		cfg.TLS.Mode = *f.TLSMode
	}
	if set(f.SSRFMode) {
		cfg.OutboundHTTP.SSRFMode = *f.SSRFMode
	}
	if set(f.ChannelEnvironment) {
		cfg.Channel.Environment = *f.ChannelEnvironment
	}
	if set(f.ChannelInboxFeed) {
		if b, err := strconv.ParseBool(*f.ChannelInboxFeed); err == nil {
			cfg.Channel.InboxFeed = &b
		}
	}
	if set(f.RPCEndpoint) {
		cfg.RPC.Endpoint = *f.RPCEndpoint
	}
	if set(f.StoreDriver) {
		cfg.Store.Driver = *f.StoreDriver
	}
	if set(f.CacheDriver) {
		cfg.Cache.Driver = *f.CacheDriver
	}
	if set(f.LoggingLevel) {
		cfg.Logging.Level = *f.LoggingLevel
	}
	if set(f.LoggingFormat) {
		cfg.Logging.Format = *f.LoggingFormat
	}
}

func oneOf(field, value string, valid ...string) error {
	for _, v := range valid {
		if value == v {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q: must be one of %s", field, value, strings.Join(valid, ", "))
}

// validateEnums validates enum-like config fields and returns an error for invalid values.
func validateEnums(cfg *Config) error {
	checks := []error{
		oneOf("tls.mode", cfg.TLS.Mode, "off", "static", "selfsigned", "acme"),
		oneOf("outbound_http.ssrf_mode", cfg.OutboundHTTP.SSRFMode, "strict", "off"),
		oneOf("channel.environment", strings.ToLower(cfg.Channel.Environment), "prod", "staging", "dev"),
		oneOf("store.driver", cfg.Store.Driver, "memory", "sqlite", "mirror"),
		oneOf("logging.level", cfg.Logging.Level, "trace", "debug", "info", "warn", "error"),
		oneOf("logging.format", cfg.Logging.Format, "json", "text"),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}

	// cache.driver (empty defaults to memory)
	switch cfg.Cache.Driver {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("invalid cache.driver %q: must be one of memory or redis", cfg.Cache.Driver)
	}

	if cfg.TLS.Mode == "static" && (cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "") {
		return fmt.Errorf("tls.cert_file and tls.key_file are required when tls.mode is static")
	}
	if cfg.TLS.Mode == "acme" && cfg.TLS.ACME.Domain == "" {
		return fmt.Errorf("tls.acme.domain is required when tls.mode is acme")
	}

	if cfg.RPC.ChainID <= 0 {
		return fmt.Errorf("invalid rpc.chain_id %d: must be positive", cfg.RPC.ChainID)
	}
	if cfg.Operations.TimeoutMS <= 0 {
		return fmt.Errorf("invalid operations.timeout_ms %d: must be positive", cfg.Operations.TimeoutMS)
	}
	if cfg.Channel.FeedLimit <= 0 {
		return fmt.Errorf("invalid channel.feed_limit %d: must be positive", cfg.Channel.FeedLimit)
	}
	if cfg.Metrics.Path != "" && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("invalid metrics.path %q: must start with /", cfg.Metrics.Path)
	}

	return nil
}

// validateURLs checks optional URL settings are absolute http(s) URLs.
func validateURLs(cfg *Config) error {
	fields := []struct {
		name, value string
	}{
		{"channel.base_url", cfg.Channel.BaseURL},
		{"channel.gateway_url", cfg.Channel.GatewayURL},
		{"rpc.endpoint", cfg.RPC.Endpoint},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		u, err := url.Parse(f.value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", f.name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("invalid %s %q: scheme must be http or https", f.name, f.value)
		}
		if u.Host == "" {
			return fmt.Errorf("invalid %s %q: must include a host", f.name, f.value)
		}
		if u.User != nil && f.name != "rpc.endpoint" {
			return fmt.Errorf("invalid %s %q: must not include userinfo", f.name, f.value)
		}
	}
	return nil
}
