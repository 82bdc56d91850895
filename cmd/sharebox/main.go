// Package main is the entrypoint for the sharebox server and CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Monas-project/Prot-Prototype/internal/platform/config"
	"github.com/Monas-project/Prot-Prototype/internal/platform/deps"
	"github.com/Monas-project/Prot-Prototype/internal/platform/logutil"

	// Register cache and store drivers
	_ "github.com/Monas-project/Prot-Prototype/internal/components/store/loader"
	_ "github.com/Monas-project/Prot-Prototype/internal/platform/cache/loader"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath  string
	mode        string
	listen      string
	tlsMode     string
	ssrfMode    string
	channelEnv  string
	inboxFeed   string
	rpcEndpoint string
	storeDriver string
	cacheDriver string
	logLevel    string
	logFormat   string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:          "sharebox",
		Short:        "Share notifications and inboxes over a push channel",
		SilenceUsage: true,
	}

	f := root.PersistentFlags()
	f.StringVar(&g.configPath, "config", "", "Path to TOML config file (optional)")
	f.StringVar(&g.mode, "mode", "", "Operating mode: strict or dev (overrides config)")
	f.StringVar(&g.listen, "listen", "", "Listen address (overrides config)")
	f.StringVar(&g.tlsMode, "tls-mode", "", "TLS mode: off, static, selfsigned, or acme (overrides config)")
	f.StringVar(&g.ssrfMode, "ssrf-mode", "", "SSRF protection mode: strict or off (overrides config)")
	f.StringVar(&g.channelEnv, "channel-env", "", "Channel environment: prod, staging, or dev (overrides config)")
	f.StringVar(&g.inboxFeed, "inbox-feed", "", "Merge the channel feed into inboxes: true or false (overrides config)")
	f.StringVar(&g.rpcEndpoint, "rpc-endpoint", "", "Signer RPC endpoint (overrides config)")
	f.StringVar(&g.storeDriver, "store", "", "Message store driver: memory, sqlite, or mirror (overrides config)")
	f.StringVar(&g.cacheDriver, "cache", "", "Dispatch ledger cache driver: memory or redis (overrides config)")
	f.StringVar(&g.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error (overrides config)")
	f.StringVar(&g.logFormat, "log-format", "", "Log format: json or text (overrides config)")

	root.AddCommand(
		newServeCmd(g),
		newNotifyCmd(g),
		newInboxCmd(g),
		newOutboxCmd(g),
	)
	return root
}

// changed returns &v when the named flag was set, so unset flags do not
// override the config file.
func changed(cmd *cobra.Command, name string, v *string) *string {
	if cmd.Flags().Changed(name) {
		return v
	}
	return nil
}

// loadConfig applies preset, file, environment and flags in that order.
func (g *globalFlags) loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	bootstrap := logutil.New(cmd.ErrOrStderr(), "info", "json")

	cfg, err := config.Load(config.LoaderOptions{
		ConfigPath: g.configPath,
		ModeFlag:   g.mode,
		FlagOverrides: config.FlagOverrides{
			ListenAddr:         changed(cmd, "listen", &g.listen),
			TLSMode:            changed(cmd, "tls-mode", &g.tlsMode),
			SSRFMode:           changed(cmd, "ssrf-mode", &g.ssrfMode),
			ChannelEnvironment: changed(cmd, "channel-env", &g.channelEnv),
			ChannelInboxFeed:   changed(cmd, "inbox-feed", &g.inboxFeed),
			RPCEndpoint:        changed(cmd, "rpc-endpoint", &g.rpcEndpoint),
			StoreDriver:        changed(cmd, "store", &g.storeDriver),
			CacheDriver:        changed(cmd, "cache", &g.cacheDriver),
			LoggingLevel:       changed(cmd, "log-level", &g.logLevel),
			LoggingFormat:      changed(cmd, "log-format", &g.logFormat),
		},
		Logger: bootstrap,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	logger := logutil.New(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	return cfg, logger, nil
}

// newDeps loads the config and builds the dependencies. The caller must
// Close the result.
func (g *globalFlags) newDeps(ctx context.Context, cmd *cobra.Command) (*deps.Deps, *slog.Logger, error) {
	cfg, logger, err := g.loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	d, err := deps.Build(ctx, cfg, logger, deps.Options{})
	if err != nil {
		return nil, nil, fmt.Errorf("initializing: %w", err)
	}
	return d, logger, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
