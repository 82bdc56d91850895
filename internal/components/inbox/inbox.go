// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 Monas Authors

// Package inbox merges a recipient's notification-channel feed with the
// message store into one de-duplicated, deterministically ordered list.
//
// The store is the system of record: its failure fails the merge, and when
// both sources report the same logical message the store's copy is kept.
// The channel is optional and its failure only marks the result partial.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/Monas-project/Prot-Prototype/internal/components/address"
	"github.com/Monas-project/Prot-Prototype/internal/components/channel"
	"github.com/Monas-project/Prot-Prototype/internal/components/shareerr"
	"github.com/Monas-project/Prot-Prototype/internal/components/shares"
	"github.com/Monas-project/Prot-Prototype/internal/components/store"
	"github.com/Monas-project/Prot-Prototype/internal/platform/logutil"
)

// Feed lists a recipient's channel feed.
type Feed interface {
	List(ctx context.Context, recipient string, folder channel.Folder) ([]channel.Entry, error)
}

// Store reads the messages addressed to a recipient.
type Store interface {
	ByReceiver(ctx context.Context, addr string) ([]store.Message, error)
}

// Result is the outcome of a merge.
type Result struct {
	Entries []Entry `json:"entries"`

	// Partial is set when the channel feed could not be read.
	Partial  bool     `json:"partial"`
	Warnings []string `json:"warnings,omitempty"`

	// Warning wraps shareerr.ErrPartialSource when Partial is set.
	Warning error `json:"-"`
}

// Aggregator merges the two sources. It holds no mutable state and is safe
// for concurrent use.
type Aggregator struct {
	feed   Feed
	store  Store
	codec  *address.Codec
	logger *slog.Logger
}

// New creates an Aggregator. feed may be nil to read the store alone.
// codec qualifies bare recipients for the channel.
func New(feed Feed, st Store, codec *address.Codec, logger *slog.Logger) *Aggregator {
	if codec == nil {
		codec = address.NewCodec(0)
	}
	return &Aggregator{feed: feed, store: st, codec: codec, logger: logutil.NoopIfNil(logger)}
}

// Merge returns recipient's inbox, most recent first. Calling it twice with
// no writes in between yields identical results.
func (a *Aggregator) Merge(ctx context.Context, recipient string) (*Result, error) {
	bare, err := address.Normalize(recipient)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, shareerr.Cancelled("inbox", err)
	}

	res := &Result{}

	var feed []channel.Entry
	if a.feed != nil {
		feed, err = a.listFeed(ctx, recipient)
		if err != nil {
			if ctx.Err() != nil {
				return nil, shareerr.Cancelled("inbox: channel feed", ctx.Err())
			}
			res.Partial = true
			res.Warning = fmt.Errorf("%w: channel feed: %w", shareerr.ErrPartialSource, err)
			res.Warnings = append(res.Warnings, res.Warning.Error())
			feed = nil
		}
	}

	msgs, err := a.store.ByReceiver(ctx, bare)
	if err != nil {
		if ctx.Err() != nil {
			return nil, shareerr.Cancelled("inbox: store", ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", shareerr.ErrStoreUnavailable, err)
	}

	res.Entries = merge(bare, fromStore(msgs), fromChannel(bare, feed))
	return res, nil
}

func (a *Aggregator) listFeed(ctx context.Context, recipient string) ([]channel.Entry, error) {
	to, err := a.codec.ToChannelAddress(recipient)
	if err != nil {
		return nil, err
	}
	return a.feed.List(ctx, to, channel.FolderInbox)
}

func fromStore(msgs []store.Message) []Entry {
	out := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Entry{
			ID:              m.ID,
			Sender:          m.Sender,
			Recipient:       m.Receiver,
			Content:         m.Content,
			SourceTimestamp: m.Timestamp.UTC(),
			Source:          SourceStore,
		})
	}
	return out
}

// fromChannel projects feed items addressed to the bare recipient. The
// logical sender of a share notification is the From line of its body; the
// channel identity that delivered it is only a fallback.
func fromChannel(recipient string, feed []channel.Entry) []Entry {
	out := make([]Entry, 0, len(feed))
	for _, f := range feed {
		sender := f.Sender
		if fields, ok := shares.ParseEnvelopeBody(f.Body); ok {
			sender = fields.Sender
		}
		out = append(out, Entry{
			ID:              f.ID,
			Sender:          sender,
			Recipient:       recipient,
			Content:         f.Body,
			SourceTimestamp: f.Timestamp.UTC(),
			Source:          SourceChannel,
		})
	}
	return out
}

type identity struct {
	sender, recipient, digest string
}

// identityKey compares identities by bare lower-case form. Values that do
// not parse as addresses are compared after stripping any prefix.
func identityKey(s string) string {
	if n, err := address.Normalize(s); err == nil {
		return n
	}
	return strings.ToLower(address.Strip(s))
}

// merge dedupes by (sender, recipient, digest) and sorts. Within one source
// the most recent copy of a message is kept; across sources the store wins.
func merge(recipientKey string, stored, delivered []Entry) []Entry {
	kept := make(map[identity]Entry)
	order := make([]identity, 0, len(stored)+len(delivered))

	add := func(e Entry, replace func(old, new Entry) bool) {
		e.Digest = Digest(e.Content)
		id := identity{sender: identityKey(e.Sender), recipient: recipientKey, digest: e.Digest}
		old, ok := kept[id]
		if !ok {
			kept[id] = e
			order = append(order, id)
			return
		}
		if replace(old, e) {
			kept[id] = e
		}
	}

	newer := func(old, e Entry) bool {
		if old.Source != e.Source {
			return e.Source == SourceStore
		}
		if !e.SourceTimestamp.Equal(old.SourceTimestamp) {
			return e.SourceTimestamp.After(old.SourceTimestamp)
		}
		return e.ID < old.ID
	}

	for _, e := range stored {
		add(e, newer)
	}
	for _, e := range delivered {
		add(e, newer)
	}

	out := make([]Entry, 0, len(kept))
	for _, id := range order {
		out = append(out, kept[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// less orders by timestamp descending, then sender, digest, source and ID.
func less(a, b Entry) bool {
	if !a.SourceTimestamp.Equal(b.SourceTimestamp) {
		return a.SourceTimestamp.After(b.SourceTimestamp)
	}
	if sa, sb := identityKey(a.Sender), identityKey(b.Sender); sa != sb {
		return sa < sb
	}
	if a.Digest != b.Digest {
		return a.Digest < b.Digest
	}
	if a.Source.rank() != b.Source.rank() {
		return a.Source.rank() < b.Source.rank()
	}
	return a.ID < b.ID
}

// IsPartial reports whether err marks a degraded but usable inbox.
func IsPartial(err error) bool {
	return errors.Is(err, shareerr.ErrPartialSource)
}
