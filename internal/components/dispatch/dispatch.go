// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 Monas Authors

// Package dispatch submits one share notification to one recipient over the
// notification channel.
//
// A Send is at-most-once: it never retries. Each call acquires its own signer
// and channel session and releases both before returning.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Monas-project/Prot-Prototype/internal/components/address"
	"github.com/Monas-project/Prot-Prototype/internal/components/channel"
	"github.com/Monas-project/Prot-Prototype/internal/components/shareerr"
	"github.com/Monas-project/Prot-Prototype/internal/components/shares"
	"github.com/Monas-project/Prot-Prototype/internal/components/signer"
	"github.com/Monas-project/Prot-Prototype/internal/platform/clock"
	"github.com/Monas-project/Prot-Prototype/internal/platform/logutil"
)

var (
	// ErrEmptyEnvelope is returned, wrapped in shareerr.ErrDispatchRejected,
	// when the envelope has no title or body.
	ErrEmptyEnvelope = errors.New("envelope title and body are required")

	// ErrRecipientMismatch is returned, wrapped in shareerr.ErrDispatchRejected,
	// when the envelope is addressed to someone other than the recipient.
	ErrRecipientMismatch = errors.New("envelope addressed to a different recipient")
)

// Receipt acknowledges a notification the channel accepted.
type Receipt struct {
	ID        string    `json:"id"`
	Recipient string    `json:"recipient"`
	SentAt    time.Time `json:"sentAt"`
}

// Session is a channel session able to submit notifications.
type Session interface {
	Send(ctx context.Context, recipients []string, n channel.Notification) (channel.Receipt, error)
	Close()
}

// Opener opens channel sessions.
type Opener interface {
	Open(ctx context.Context, s channel.Signer, env channel.Env) (Session, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, s channel.Signer, env channel.Env) (Session, error)

func (f OpenerFunc) Open(ctx context.Context, s channel.Signer, env channel.Env) (Session, error) {
	return f(ctx, s, env)
}

// FromClient opens sessions through a channel client.
func FromClient(c *channel.Client) Opener {
	return OpenerFunc(func(ctx context.Context, s channel.Signer, env channel.Env) (Session, error) {
		sess, err := c.Initialize(ctx, s, env)
		if err != nil {
			return nil, err
		}
		return sess, nil
	})
}

// Dispatcher sends share notifications.
type Dispatcher struct {
	channel Opener
	signers signer.Source
	env     channel.Env
	codec   *address.Codec
	clock   clock.Clock
	logger  *slog.Logger
}

// Options configures a Dispatcher. Channel and Signers are required.
type Options struct {
	Channel Opener
	Signers signer.Source
	Env     channel.Env

	// Codec qualifies bare recipient addresses. Defaults to no default chain,
	// in which case recipients must already be channel addresses.
	Codec *address.Codec

	Clock  clock.Clock
	Logger *slog.Logger
}

// New creates a Dispatcher.
func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		channel: opts.Channel,
		signers: opts.Signers,
		env:     opts.Env,
		codec:   opts.Codec,
		clock:   opts.Clock,
		logger:  logutil.NoopIfNil(opts.Logger),
	}
	if d.codec == nil {
		d.codec = address.NewCodec(0)
	}
	if d.clock == nil {
		d.clock = clock.Real{}
	}
	return d
}

// Send submits env to recipient and returns the channel's acknowledgment.
//
// Errors: shareerr.ErrInvalidAddressFormat for a bad recipient,
// shareerr.ErrSignerUnavailable from signer acquisition,
// shareerr.ErrDispatchRejected when the channel refuses or cannot be reached,
// shareerr.ErrCancelled when ctx ends first. A call that returns an error
// must not be treated as delivered.
func (d *Dispatcher) Send(ctx context.Context, recipient string, env shares.Envelope) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, shareerr.Cancelled("dispatch", err)
	}

	to, err := d.codec.ToChannelAddress(recipient)
	if err != nil {
		return nil, err
	}
	if env.Empty() {
		return nil, fmt.Errorf("%w: %w", shareerr.ErrDispatchRejected, ErrEmptyEnvelope)
	}
	if env.Recipient != "" && !address.Equal(env.Recipient, to) {
		return nil, fmt.Errorf("%w: %w", shareerr.ErrDispatchRejected, ErrRecipientMismatch)
	}

	s, err := d.signers.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, shareerr.ErrCancelled) {
			return nil, shareerr.Cancelled("dispatch", ctx.Err())
		}
		return nil, err
	}
	defer s.Close()

	sess, err := d.channel.Open(ctx, s, d.env)
	if err != nil {
		return nil, d.classify(ctx, "open channel session", err)
	}
	defer sess.Close()

	ack, err := sess.Send(ctx, []string{to}, channel.Notification{Title: env.Title, Body: env.Body})
	if err != nil {
		return nil, d.classify(ctx, "submit notification", err)
	}

	rcpt := &Receipt{ID: ack.ID, Recipient: to, SentAt: d.clock.Now()}
	d.logger.Info("share notification dispatched",
		"recipient", to, "receipt_id", rcpt.ID, "env", string(d.env))
	return rcpt, nil
}

// classify maps a channel failure onto the error taxonomy. Cancellation wins
// over everything so a cancelled send never reads as rejected.
func (d *Dispatcher) classify(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return shareerr.Cancelled("dispatch: "+op, ctx.Err())
	}
	if shareerr.IsContextError(err) {
		return shareerr.Cancelled("dispatch: "+op, err)
	}
	if errors.Is(err, channel.ErrUnsupportedChain) {
		return fmt.Errorf("%w: %s: %w", shareerr.ErrSignerUnavailable, op, err)
	}
	return fmt.Errorf("%w: %s: %w", shareerr.ErrDispatchRejected, op, err)
}
