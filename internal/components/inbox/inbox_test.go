package inbox

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Monas-project/Prot-Prototype/internal/components/address"
	"github.com/Monas-project/Prot-Prototype/internal/components/channel"
	"github.com/Monas-project/Prot-Prototype/internal/components/shareerr"
	"github.com/Monas-project/Prot-Prototype/internal/components/shares"
	"github.com/Monas-project/Prot-Prototype/internal/components/store"
)

const (
	alice = "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	bob   = "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"
	carol = "0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC"

	channelSender = "eip155:11155111:0x9999999999999999999999999999999999999999"
)

var (
	t1 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	t2 = t1.Add(time.Hour)
)

type fakeFeed struct {
	entries []channel.Entry
	err     error
	calls   atomic.Int32
	lastTo  string
}

func (f *fakeFeed) List(_ context.Context, to string, folder channel.Folder) ([]channel.Entry, error) {
	f.calls.Add(1)
	f.lastTo = to
	if folder != channel.FolderInbox {
		return nil, errors.New("unexpected folder")
	}
	return f.entries, f.err
}

type fakeStore struct {
	msgs  []store.Message
	err   error
	calls atomic.Int32
}

func (s *fakeStore) ByReceiver(_ context.Context, addr string) ([]store.Message, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	var out []store.Message
	for _, m := range s.msgs {
		if address.Equal(m.Receiver, addr) {
			out = append(out, m)
		}
	}
	return out, nil
}

func envelopeBody(t *testing.T, hash, locator string) string {
	t.Helper()
	env, err := shares.BuildEnvelope(shares.Record{
		FileHash:    hash,
		FileLocator: locator,
		Sender:      "eip155:11155111:" + alice,
		Recipient:   "eip155:11155111:" + bob,
	}, shares.EnvelopeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	return env.Body
}

func newAggregator(feed Feed, st Store) *Aggregator {
	return New(feed, st, address.NewCodec(11155111), nil)
}

func TestMerge_DedupeStoreWins(t *testing.T) {
	body := envelopeBody(t, "h1", "cid1")
	st := &fakeStore{msgs: []store.Message{
		{ID: "s1", Sender: "eip155:11155111:" + alice, Receiver: bob, Content: body, Timestamp: t1},
	}}
	feed := &fakeFeed{entries: []channel.Entry{
		// Same message seen on the channel, later, with CRLF line endings.
		{ID: "c1", Sender: channelSender, Body: crlf(body) + "  \r\n", Timestamp: t2},
	}}

	res, err := newAggregator(feed, st).Merge(context.Background(), bob)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if len(res.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d: %+v", len(res.Entries), res.Entries)
	}
	got := res.Entries[0]
	if got.Source != SourceStore || got.ID != "s1" || !got.SourceTimestamp.Equal(t1) {
		t.Errorf("expected store entry to win, got %+v", got)
	}
	if res.Partial {
		t.Error("result should not be partial")
	}
	if feed.lastTo != "eip155:11155111:"+bob {
		t.Errorf("feed queried for %q, want the channel address", feed.lastTo)
	}
}

func crlf(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, '\r')
		}
		out = append(out, s[i])
	}
	return string(out)
}

func TestMerge_DistinctSendersNotDeduped(t *testing.T) {
	st := &fakeStore{msgs: []store.Message{
		{ID: "s1", Sender: alice, Receiver: bob, Content: "same text", Timestamp: t1},
		{ID: "s2", Sender: carol, Receiver: bob, Content: "same text", Timestamp: t1},
	}}
	res, err := newAggregator(nil, st).Merge(context.Background(), bob)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(res.Entries))
	}
	// Equal timestamps break ties by sender.
	if res.Entries[0].ID != "s1" || res.Entries[1].ID != "s2" {
		t.Errorf("tie-break order = %s, %s", res.Entries[0].ID, res.Entries[1].ID)
	}
}

func TestMerge_ChannelOnlyEntries(t *testing.T) {
	feed := &fakeFeed{entries: []channel.Entry{
		{ID: "c1", Sender: channelSender, Body: envelopeBody(t, "h2", "cid2"), Timestamp: t2},
		{ID: "c2", Sender: channelSender, Body: "plain alert", Timestamp: t1},
	}}
	res, err := newAggregator(feed, &fakeStore{}).Merge(context.Background(), bob)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(res.Entries))
	}
	if res.Entries[0].Sender != "eip155:11155111:"+alice {
		t.Errorf("share notification sender = %q, want the From line", res.Entries[0].Sender)
	}
	if res.Entries[1].Sender != channelSender {
		t.Errorf("plain entry sender = %q, want channel sender", res.Entries[1].Sender)
	}
	for _, e := range res.Entries {
		if e.Source != SourceChannel {
			t.Errorf("entry %s source = %s", e.ID, e.Source)
		}
	}
}

func TestMerge_DuplicatesWithinSourceKeepMostRecent(t *testing.T) {
	feed := &fakeFeed{entries: []channel.Entry{
		{ID: "c1", Sender: channelSender, Body: "ping", Timestamp: t1},
		{ID: "c2", Sender: channelSender, Body: "ping", Timestamp: t2},
	}}
	res, err := newAggregator(feed, &fakeStore{}).Merge(context.Background(), bob)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entries) != 1 || res.Entries[0].ID != "c2" {
		t.Errorf("expected only c2, got %+v", res.Entries)
	}
}

func TestMerge_Idempotent(t *testing.T) {
	st := &fakeStore{msgs: []store.Message{
		{ID: "s1", Sender: alice, Receiver: bob, Content: "a", Timestamp: t1},
		{ID: "s2", Sender: carol, Receiver: bob, Content: "b", Timestamp: t2},
		{ID: "s3", Sender: alice, Receiver: bob, Content: "c", Timestamp: t2},
		{ID: "s4", Sender: alice, Receiver: bob, Content: "d", Timestamp: t2},
	}}
	feed := &fakeFeed{entries: []channel.Entry{
		{ID: "c1", Sender: channelSender, Body: "e", Timestamp: t2},
		{ID: "c2", Sender: channelSender, Body: "a", Timestamp: t1},
	}}
	agg := newAggregator(feed, st)

	first, err := agg.Merge(context.Background(), bob)
	if err != nil {
		t.Fatal(err)
	}
	second, err := agg.Merge(context.Background(), "eip155:1:"+bob)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("merge is not idempotent:\n%+v\n%+v", first.Entries, second.Entries)
	}

	// Reordering the inputs must not change the output.
	st.msgs[0], st.msgs[3] = st.msgs[3], st.msgs[0]
	feed.entries[0], feed.entries[1] = feed.entries[1], feed.entries[0]
	third, err := agg.Merge(context.Background(), bob)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, third) {
		t.Errorf("merge depends on input order:\n%+v\n%+v", first.Entries, third.Entries)
	}
}

func TestMerge_ChannelFailureIsPartial(t *testing.T) {
	st := &fakeStore{msgs: []store.Message{
		{ID: "s1", Sender: alice, Receiver: bob, Content: "a", Timestamp: t1},
	}}
	feed := &fakeFeed{err: channel.ErrUnreachable}

	res, err := newAggregator(feed, st).Merge(context.Background(), bob)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if !res.Partial {
		t.Error("expected partial result")
	}
	if !IsPartial(res.Warning) || !errors.Is(res.Warning, channel.ErrUnreachable) {
		t.Errorf("warning = %v", res.Warning)
	}
	if len(res.Warnings) != 1 {
		t.Errorf("warnings = %v", res.Warnings)
	}

	storeOnly, err := newAggregator(nil, st).Merge(context.Background(), bob)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(res.Entries, storeOnly.Entries) {
		t.Error("partial result must equal the store-only projection")
	}
}

func TestMerge_StoreFailureIsFatal(t *testing.T) {
	feed := &fakeFeed{entries: []channel.Entry{
		{ID: "c1", Sender: channelSender, Body: "a", Timestamp: t1},
	}}
	st := &fakeStore{err: errors.New("database is locked")}

	res, err := newAggregator(feed, st).Merge(context.Background(), bob)
	if !errors.Is(err, shareerr.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if res != nil {
		t.Error("no entries may be returned when the store fails")
	}
}

func TestMerge_NilFeedIsNotPartial(t *testing.T) {
	res, err := newAggregator(nil, &fakeStore{}).Merge(context.Background(), bob)
	if err != nil {
		t.Fatal(err)
	}
	if res.Partial || res.Entries == nil || len(res.Entries) != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestMerge_InvalidAddress(t *testing.T) {
	feed, st := &fakeFeed{}, &fakeStore{}
	_, err := newAggregator(feed, st).Merge(context.Background(), "0xnothex")
	if !errors.Is(err, shareerr.ErrInvalidAddressFormat) {
		t.Fatalf("expected ErrInvalidAddressFormat, got %v", err)
	}
	if feed.calls.Load() != 0 || st.calls.Load() != 0 {
		t.Error("no source may be read for an invalid address")
	}
}

func TestMerge_BareRecipientWithoutChainIsPartial(t *testing.T) {
	feed := &fakeFeed{}
	res, err := New(feed, &fakeStore{}, nil, nil).Merge(context.Background(), bob)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Partial || !errors.Is(res.Warning, shareerr.ErrInvalidAddressFormat) {
		t.Errorf("expected partial with address warning, got %+v", res)
	}
	if feed.calls.Load() != 0 {
		t.Error("feed must not be queried without a channel address")
	}
}

func TestMerge_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newAggregator(&fakeFeed{}, &fakeStore{}).Merge(ctx, bob)
	if !errors.Is(err, shareerr.ErrCancelled) {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
}

type cancellingFeed struct{ cancel context.CancelFunc }

func (f cancellingFeed) List(ctx context.Context, _ string, _ channel.Folder) ([]channel.Entry, error) {
	f.cancel()
	return nil, ctx.Err()
}

func TestMerge_CancelledDuringFeedIsNotPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	st := &fakeStore{}
	_, err := newAggregator(cancellingFeed{cancel}, st).Merge(ctx, bob)
	if !errors.Is(err, shareerr.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if st.calls.Load() != 0 {
		t.Error("store must not be read after cancellation")
	}
}

func TestMerge_ScenarioPartialStoreOnly(t *testing.T) {
	st := &fakeStore{msgs: []store.Message{
		{ID: "s1", Sender: alice, Receiver: bob, Content: "shared h1 at cid1", Timestamp: t1},
	}}
	res, err := newAggregator(&fakeFeed{err: channel.ErrRejected}, st).Merge(context.Background(), bob)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entries) != 1 || res.Entries[0].Content != "shared h1 at cid1" {
		t.Fatalf("entries = %+v", res.Entries)
	}
	if !res.Partial {
		t.Error("expected partial flag")
	}
}

func TestMerge_ScenarioOrdering(t *testing.T) {
	st := &fakeStore{msgs: []store.Message{
		{ID: "first", Sender: alice, Receiver: bob, Content: envelopeBody(t, "h1", "cid1"), Timestamp: t1},
		{ID: "second", Sender: alice, Receiver: bob, Content: envelopeBody(t, "h2", "cid2"), Timestamp: t2},
	}}
	res, err := newAggregator(nil, st).Merge(context.Background(), bob)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entries) != 2 || res.Entries[0].ID != "second" || res.Entries[1].ID != "first" {
		t.Errorf("expected T2 entry first, got %+v", res.Entries)
	}
}

func TestNormalizeContent(t *testing.T) {
	tests := []struct{ in, want string }{
		{"a\r\nb", "a\nb"},
		{"a  \nb\t", "a\nb"},
		{"\n\n  a\n\n", "a"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeContent(tt.in); got != tt.want {
			t.Errorf("NormalizeContent(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDigest(t *testing.T) {
	if Digest("a\r\nb  ") != Digest("a\nb") {
		t.Error("digest must ignore line endings and trailing space")
	}
	if Digest("a") == Digest("b") {
		t.Error("distinct content must digest differently")
	}
	// sha2-256 multihashes start with "Qm" in base58.
	if d := Digest("x"); len(d) != 46 || d[:2] != "Qm" {
		t.Errorf("unexpected digest shape %q", d)
	}
}

func TestMerge_TieBreakOrder(t *testing.T) {
	// Inputs are deliberately out of order. carol is stored with the chain
	// prefix and alice without, so ordering must use the bare address.
	st := &fakeStore{msgs: []store.Message{
		{ID: "carol", Sender: "eip155:11155111:" + carol, Receiver: bob, Content: "note", Timestamp: t1},
		{ID: "alice-x", Sender: alice, Receiver: bob, Content: "x", Timestamp: t1},
		{ID: "alice-y", Sender: alice, Receiver: bob, Content: "y", Timestamp: t1},
	}}
	res, err := newAggregator(nil, st).Merge(context.Background(), bob)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(res.Entries))
	}

	first, second := "alice-x", "alice-y"
	if Digest("y") < Digest("x") {
		first, second = second, first
	}
	want := []string{first, second, "carol"}
	var got []string
	for _, e := range res.Entries {
		got = append(got, e.ID)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
	if res.Entries[0].Digest > res.Entries[1].Digest {
		t.Errorf("same-sender entries not in digest order: %s > %s", res.Entries[0].Digest, res.Entries[1].Digest)
	}
}
