// Package registration turns a ledger registration into a stored message
// and a channel notification. The store write comes first so a failed
// notification never loses the share.
package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Monas-project/Prot-Prototype/internal/components/address"
	"github.com/Monas-project/Prot-Prototype/internal/components/dispatch"
	"github.com/Monas-project/Prot-Prototype/internal/components/shareerr"
	"github.com/Monas-project/Prot-Prototype/internal/components/shares"
	"github.com/Monas-project/Prot-Prototype/internal/components/store"
	"github.com/Monas-project/Prot-Prototype/internal/platform/clock"
	"github.com/Monas-project/Prot-Prototype/internal/platform/logutil"
)

// Notifier renders and sends the notification for a record.
type Notifier interface {
	Envelope(r shares.Record) (shares.Envelope, error)
	OnRegistered(ctx context.Context, r shares.Record) (*dispatch.Receipt, error)
}

// Input is what the registrar hands over; CreatedAt is assigned here.
type Input struct {
	FileHash    string `json:"fileHash"`
	FileLocator string `json:"fileLocator"`
	Sender      string `json:"sender"`
	Recipient   string `json:"recipient"`
}

// Result describes a registration. Recorded is true once the message is in
// the store, even if the notification then failed.
type Result struct {
	Record    shares.Record     `json:"record"`
	MessageID string            `json:"messageId,omitempty"`
	Recorded  bool              `json:"recorded"`
	Receipt   *dispatch.Receipt `json:"receipt,omitempty"`
}

// Service records and notifies.
type Service struct {
	notifier Notifier
	store    store.Store
	stamps   *shares.MonotonicClock
	ids      clock.IDGenerator
	logger   *slog.Logger
}

// New creates a Service. A nil stamps or ids falls back to the real clock
// and UUIDv7 identifiers.
func New(n Notifier, st store.Store, stamps *shares.MonotonicClock, ids clock.IDGenerator, logger *slog.Logger) *Service {
	if stamps == nil {
		stamps = shares.NewMonotonicClock(nil)
	}
	if ids == nil {
		ids = clock.UUIDv7{}
	}
	return &Service{notifier: n, store: st, stamps: stamps, ids: ids, logger: logutil.NoopIfNil(logger)}
}

// Register validates in, stores the message and notifies the recipient.
// The returned Result is non-nil whenever the message was stored.
func (s *Service) Register(ctx context.Context, in Input) (*Result, error) {
	rec := shares.Record{
		FileHash:    in.FileHash,
		FileLocator: in.FileLocator,
		Sender:      in.Sender,
		Recipient:   in.Recipient,
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	rec.CreatedAt = s.stamps.Stamp(rec.Sender)

	env, err := s.notifier.Envelope(rec)
	if err != nil {
		return nil, err
	}

	// Content matches the channel body so the inbox collapses both copies.
	msg := &store.Message{
		ID:        s.ids.New(),
		Sender:    rec.Sender,
		Receiver:  rec.Recipient,
		Content:   env.Body,
		FileHash:  rec.FileHash,
		Timestamp: rec.CreatedAt,
	}
	if err := s.store.Create(ctx, msg); err != nil {
		return nil, storeError(ctx, "registration: store message", err)
	}
	res := &Result{Record: rec, MessageID: msg.ID, Recorded: true}
	logger := s.logger.With("reference", rec.ReferenceKey(), "message_id", msg.ID)
	logger.Debug("share message stored")

	rcpt, err := s.notifier.OnRegistered(ctx, rec)
	if err != nil {
		return res, err
	}
	res.Receipt = rcpt
	logger.Info("share registered", "receipt_id", rcpt.ID)
	return res, nil
}

// Outbox lists the messages sent by addr, most recent first.
func (s *Service) Outbox(ctx context.Context, addr string) ([]store.Message, error) {
	bare, err := address.Normalize(addr)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.BySender(ctx, bare)
	if err != nil {
		return nil, storeError(ctx, "outbox", err)
	}
	out := make([]store.Message, len(msgs))
	for i, m := range msgs {
		out[len(msgs)-1-i] = m
	}
	return out, nil
}

// storeError classifies a store failure. Invalid messages keep their own
// error; everything else makes the store unavailable.
func storeError(ctx context.Context, op string, err error) error {
	switch {
	case ctx.Err() != nil:
		return shareerr.Cancelled(op, ctx.Err())
	case errors.Is(err, store.ErrInvalid), errors.Is(err, shareerr.ErrInvalidAddressFormat):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, shareerr.ErrStoreUnavailable, err)
	}
}
