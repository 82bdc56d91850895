// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 Monas Authors

// Package notifier is the entry point the registration flow calls once a
// share is recorded on the ledger, and the read side that serves inboxes.
package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Monas-project/Prot-Prototype/internal/components/address"
	"github.com/Monas-project/Prot-Prototype/internal/components/dispatch"
	"github.com/Monas-project/Prot-Prototype/internal/components/inbox"
	"github.com/Monas-project/Prot-Prototype/internal/components/shareerr"
	"github.com/Monas-project/Prot-Prototype/internal/components/shares"
	"github.com/Monas-project/Prot-Prototype/internal/platform/cache"
	"github.com/Monas-project/Prot-Prototype/internal/platform/logutil"
	"github.com/Monas-project/Prot-Prototype/internal/platform/metrics"
)

// DefaultLedgerTTL is used when a ledger is configured without a TTL.
const DefaultLedgerTTL = 7 * 24 * time.Hour

const ledgerPrefix = "dispatch:"

// Sender submits one envelope to one recipient.
type Sender interface {
	Send(ctx context.Context, recipient string, env shares.Envelope) (*dispatch.Receipt, error)
}

// Merger builds a recipient's inbox.
type Merger interface {
	Merge(ctx context.Context, recipient string) (*inbox.Result, error)
}

// Options configures a Notifier. Sender is required for OnRegistered and
// Merger for Inbox.
type Options struct {
	Sender Sender
	Merger Merger

	// Ledger remembers receipts by reference key. Nil disables it.
	Ledger    cache.Cache
	LedgerTTL time.Duration

	// Timeout bounds every operation. Zero leaves the caller's deadline alone.
	Timeout time.Duration

	// GatewayURL is passed to envelope rendering.
	GatewayURL string

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Notifier dispatches share notifications and serves inboxes.
type Notifier struct {
	sender     Sender
	merger     Merger
	ledger     cache.Cache
	ledgerTTL  time.Duration
	timeout    time.Duration
	gatewayURL string
	metrics    *metrics.Metrics
	logger     *slog.Logger

	senders *keyedLock
}

// New creates a Notifier.
func New(opts Options) *Notifier {
	ttl := opts.LedgerTTL
	if ttl <= 0 {
		ttl = DefaultLedgerTTL
	}
	return &Notifier{
		sender:     opts.Sender,
		merger:     opts.Merger,
		ledger:     opts.Ledger,
		ledgerTTL:  ttl,
		timeout:    opts.Timeout,
		gatewayURL: opts.GatewayURL,
		metrics:    opts.Metrics,
		logger:     logutil.NoopIfNil(opts.Logger),
		senders:    newKeyedLock(),
	}
}

// OnRegistered notifies the recipient of r exactly once per call. Calls for
// the same sender run one at a time in arrival order; different senders run
// in parallel.
//
// A rejected dispatch is logged and returned, never retried. With a ledger
// configured, a record that was already notified returns the earlier receipt
// without sending again. Failed and cancelled sends are never recorded.
func (n *Notifier) OnRegistered(ctx context.Context, r shares.Record) (*dispatch.Receipt, error) {
	start := time.Now()
	rcpt, outcome, err := n.onRegistered(ctx, r)
	if err != nil {
		outcome = shareerr.Reason(err)
	}
	n.metrics.ObserveDispatch(outcome, time.Since(start))
	return rcpt, err
}

func (n *Notifier) onRegistered(ctx context.Context, r shares.Record) (*dispatch.Receipt, string, error) {
	if err := r.Validate(); err != nil {
		return nil, "", err
	}
	ref := r.ReferenceKey()
	logger := n.logger.With("reference", ref)

	ctx, cancel := n.bound(ctx)
	defer cancel()

	senderKey, _ := address.Normalize(r.Sender)
	unlock, err := n.senders.lock(ctx, senderKey)
	if err != nil {
		return nil, "", shareerr.Cancelled("notify: waiting for sender", err)
	}
	defer unlock()

	if prev := n.recorded(ctx, ref, logger); prev != nil {
		logger.Info("share already notified, returning earlier receipt", "receipt_id", prev.ID)
		return prev, metrics.OutcomeDuplicate, nil
	}

	env, err := n.Envelope(r)
	if err != nil {
		return nil, "", err
	}

	rcpt, err := n.sender.Send(ctx, r.Recipient, env)
	if err != nil {
		n.logFailure(logger, r, err)
		return nil, "", err
	}

	n.record(ctx, ref, rcpt, logger)
	return rcpt, metrics.OutcomeSent, nil
}

// Envelope renders the notification OnRegistered sends for r.
func (n *Notifier) Envelope(r shares.Record) (shares.Envelope, error) {
	return shares.BuildEnvelope(r, shares.EnvelopeOptions{GatewayURL: n.gatewayURL})
}

// Inbox returns the merged inbox of recipient. A partial result is returned
// as success and logged at warn level.
func (n *Notifier) Inbox(ctx context.Context, recipient string) (*inbox.Result, error) {
	ctx, cancel := n.bound(ctx)
	defer cancel()

	res, err := n.merger.Merge(ctx, recipient)
	if err != nil {
		n.metrics.ObserveInbox(shareerr.Reason(err), -1)
		if errors.Is(err, shareerr.ErrStoreUnavailable) {
			n.logger.Error("inbox unavailable", "recipient", recipient, "error", err)
		} else {
			n.logger.Debug("inbox request failed", "recipient", recipient, "error", err)
		}
		return nil, err
	}

	if res.Partial {
		n.metrics.ObserveInbox("partial", len(res.Entries))
		n.logger.Warn("inbox served without channel feed",
			"recipient", recipient, "entries", len(res.Entries), "warning", res.Warning)
		return res, nil
	}
	n.metrics.ObserveInbox("ok", len(res.Entries))
	return res, nil
}

func (n *Notifier) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if n.timeout > 0 {
		return context.WithTimeout(ctx, n.timeout)
	}
	return context.WithCancel(ctx)
}

func (n *Notifier) logFailure(logger *slog.Logger, r shares.Record, err error) {
	attrs := []any{"recipient", r.Recipient, "reason", shareerr.Reason(err), "error", err}
	switch {
	case errors.Is(err, shareerr.ErrCancelled):
		logger.Warn("share notification cancelled", attrs...)
	case errors.Is(err, shareerr.ErrDispatchRejected):
		logger.Error("share notification rejected", attrs...)
	default:
		logger.Error("share notification failed", attrs...)
	}
}

// recorded looks up an earlier receipt. Ledger failures are logged and
// treated as a miss.
func (n *Notifier) recorded(ctx context.Context, ref string, logger *slog.Logger) *dispatch.Receipt {
	if n.ledger == nil {
		return nil
	}
	data, err := n.ledger.Get(ctx, ledgerPrefix+ref)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			logger.Warn("dispatch ledger lookup failed", "error", err)
		}
		return nil
	}
	var rcpt dispatch.Receipt
	if err := json.Unmarshal(data, &rcpt); err != nil || rcpt.ID == "" {
		logger.Warn("discarding unreadable dispatch ledger entry", "error", err)
		return nil
	}
	return &rcpt
}

func (n *Notifier) record(ctx context.Context, ref string, rcpt *dispatch.Receipt, logger *slog.Logger) {
	if n.ledger == nil {
		return
	}
	data, err := json.Marshal(rcpt)
	if err != nil {
		logger.Warn("failed to encode receipt for dispatch ledger", "error", err)
		return
	}
	// The send already happened; a late cancellation must not lose the record.
	ctx = context.WithoutCancel(ctx)
	added, err := n.ledger.Add(ctx, ledgerPrefix+ref, data, n.ledgerTTL)
	if err != nil {
		logger.Warn("failed to record receipt in dispatch ledger", "error", fmt.Errorf("ledger: %w", err))
		return
	}
	if !added {
		logger.Debug("dispatch ledger already holds a receipt for this share")
	}
}
