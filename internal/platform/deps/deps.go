// Package deps builds the shared dependencies of the sharebox commands from
// a loaded configuration: message store, dispatch ledger, channel client,
// notifier and registration service.
package deps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Monas-project/Prot-Prototype/internal/components/address"
	"github.com/Monas-project/Prot-Prototype/internal/components/channel"
	"github.com/Monas-project/Prot-Prototype/internal/components/dispatch"
	"github.com/Monas-project/Prot-Prototype/internal/components/inbox"
	"github.com/Monas-project/Prot-Prototype/internal/components/notifier"
	"github.com/Monas-project/Prot-Prototype/internal/components/registration"
	"github.com/Monas-project/Prot-Prototype/internal/components/shares"
	"github.com/Monas-project/Prot-Prototype/internal/components/signer"
	"github.com/Monas-project/Prot-Prototype/internal/components/store"
	"github.com/Monas-project/Prot-Prototype/internal/platform/cache"
	"github.com/Monas-project/Prot-Prototype/internal/platform/clock"
	"github.com/Monas-project/Prot-Prototype/internal/platform/config"
	httpclient "github.com/Monas-project/Prot-Prototype/internal/platform/http/client"
	"github.com/Monas-project/Prot-Prototype/internal/platform/logutil"
	"github.com/Monas-project/Prot-Prototype/internal/platform/metrics"
)

// Deps holds the dependencies shared by the server and the CLI commands.
type Deps struct {
	Config *config.Config

	Store  store.Driver
	Ledger cache.Cache // nil when the dispatch ledger is disabled

	Channel    *channel.Client
	Dispatcher *dispatch.Dispatcher
	Aggregator *inbox.Aggregator

	Notifier     *notifier.Notifier
	Registration *registration.Service

	Metrics *metrics.Metrics // nil when metrics are disabled

	closers []func() error
}

// Options overrides pieces of the default wiring, mainly for tests.
type Options struct {
	// HTTPClient replaces the outbound client built from cfg.OutboundHTTP.
	HTTPClient httpclient.HTTPClient

	// Signers replaces the RPC-backed signer source.
	Signers signer.Source

	Clock clock.Clock
	IDs   clock.IDGenerator
}

// Build wires everything cfg describes. The caller must Close the result.
// Store and cache drivers must be registered (blank-import their loaders).
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*Deps, error) {
	logger = logutil.NoopIfNil(logger)
	d := &Deps{Config: cfg}

	env, err := channel.ParseEnv(cfg.Channel.Environment)
	if err != nil {
		return nil, err
	}

	st, err := store.New(cfg.Store.Driver, cfg.Store.Drivers, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Init(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("store %s: %w", st.Name(), err)
	}
	d.Store = st
	d.closers = append(d.closers, st.Close)

	if cfg.DispatchLedgerEnabled() {
		ledger, err := cache.New(cfg.Cache.Driver, cfg.Cache.Drivers)
		if err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("dispatch ledger: %w", err)
		}
		d.Ledger = ledger
		d.closers = append(d.closers, ledger.Close)
	}

	if cfg.MetricsEnabled() {
		d.Metrics = metrics.New()
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = httpclient.NewContextClient(httpclient.New(&cfg.OutboundHTTP, logger))
	}
	d.Channel = channel.NewClient(hc, channel.Options{
		BaseURL:          cfg.Channel.BaseURL,
		FeedLimit:        cfg.Channel.FeedLimit,
		MaxResponseBytes: cfg.OutboundHTTP.MaxResponseBytes,
	}, logger)

	signers := opts.Signers
	if signers == nil {
		rpcClient := &http.Client{Timeout: time.Duration(cfg.RPC.TimeoutMS) * time.Millisecond}
		signers = signer.NewProvisioner(rpcClient, cfg.RPC.ChainID, logger).
			Bind(cfg.Channel.SignerSecret, cfg.RPC.Endpoint)
	}

	codec := address.NewCodec(cfg.RPC.ChainID)
	d.Dispatcher = dispatch.New(dispatch.Options{
		Channel: dispatch.FromClient(d.Channel),
		Signers: signers,
		Env:     env,
		Codec:   codec,
		Clock:   opts.Clock,
		Logger:  logger,
	})

	var feed inbox.Feed
	if cfg.InboxFeedEnabled() {
		feed = channel.NewFeed(d.Channel, env)
	}
	d.Aggregator = inbox.New(feed, st, codec, logger)

	d.Notifier = notifier.New(notifier.Options{
		Sender:     d.Dispatcher,
		Merger:     d.Aggregator,
		Ledger:     d.Ledger,
		LedgerTTL:  time.Duration(cfg.Operations.LedgerTTLSeconds) * time.Second,
		Timeout:    cfg.OperationTimeout(),
		GatewayURL: cfg.Channel.GatewayURL,
		Metrics:    d.Metrics,
		Logger:     logger,
	})

	d.Registration = registration.New(d.Notifier, st, shares.NewMonotonicClock(opts.Clock), opts.IDs, logger)

	logger.Debug("dependencies ready",
		"store", st.Name(),
		"ledger", d.Ledger != nil,
		"inbox_feed", feed != nil,
		"channel_env", string(env),
	)
	return d, nil
}

// Close releases the store and ledger in reverse order of creation.
func (d *Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
