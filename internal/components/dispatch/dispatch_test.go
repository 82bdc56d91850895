package dispatch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Monas-project/Prot-Prototype/internal/components/address"
	"github.com/Monas-project/Prot-Prototype/internal/components/channel"
	"github.com/Monas-project/Prot-Prototype/internal/components/shareerr"
	"github.com/Monas-project/Prot-Prototype/internal/components/shares"
	"github.com/Monas-project/Prot-Prototype/internal/components/signer"
	"github.com/Monas-project/Prot-Prototype/internal/platform/config"
	"github.com/Monas-project/Prot-Prototype/internal/platform/http/client"
	"github.com/Monas-project/Prot-Prototype/internal/testutil"
)

const (
	testSecret = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	recipient  = "eip155:11155111:0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"
)

var envelope = shares.Envelope{Title: "A file has been shared with you", Body: "h1 cid1", Recipient: recipient}

type fakeSource struct {
	err     error
	mu      sync.Mutex
	issued  []*signer.Signer
	chainID int64
}

func (f *fakeSource) Acquire(context.Context) (*signer.Signer, error) {
	if f.err != nil {
		return nil, f.err
	}
	key, _ := crypto.HexToECDSA(testSecret)
	chainID := f.chainID
	if chainID == 0 {
		chainID = 11155111
	}
	s := signer.NewOffline(key, chainID)
	f.mu.Lock()
	f.issued = append(f.issued, s)
	f.mu.Unlock()
	return s, nil
}

type fakeSession struct {
	err    error
	id     string
	sent   [][]string
	notifs []channel.Notification
	closed bool
}

func (s *fakeSession) Send(_ context.Context, rs []string, n channel.Notification) (channel.Receipt, error) {
	s.sent = append(s.sent, rs)
	s.notifs = append(s.notifs, n)
	if s.err != nil {
		return channel.Receipt{}, s.err
	}
	return channel.Receipt{ID: s.id}, nil
}

func (s *fakeSession) Close() { s.closed = true }

func opener(sess *fakeSession, openErr error) Opener {
	return OpenerFunc(func(context.Context, channel.Signer, channel.Env) (Session, error) {
		if openErr != nil {
			return nil, openErr
		}
		return sess, nil
	})
}

func newDispatcher(o Opener, src signer.Source) *Dispatcher {
	return New(Options{
		Channel: o,
		Signers: src,
		Env:     channel.EnvStaging,
		Codec:   address.NewCodec(11155111),
		Clock:   testutil.FixedClock(),
	})
}

func TestSend(t *testing.T) {
	sess := &fakeSession{id: "receipt-1"}
	d := newDispatcher(opener(sess, nil), &fakeSource{})

	rcpt, err := d.Send(context.Background(), recipient, envelope)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if rcpt.ID != "receipt-1" || rcpt.Recipient != recipient {
		t.Errorf("receipt = %+v", rcpt)
	}
	if !rcpt.SentAt.Equal(testutil.FixedClock().Now()) {
		t.Errorf("SentAt = %v", rcpt.SentAt)
	}
	if len(sess.sent) != 1 || len(sess.sent[0]) != 1 || sess.sent[0][0] != recipient {
		t.Errorf("expected one targeted submission, got %v", sess.sent)
	}
	if sess.notifs[0].Body != "h1 cid1" {
		t.Errorf("body = %q", sess.notifs[0].Body)
	}
	if !sess.closed {
		t.Error("session not released")
	}
}

func TestSend_QualifiesBareRecipient(t *testing.T) {
	sess := &fakeSession{id: "r"}
	d := newDispatcher(opener(sess, nil), &fakeSource{})

	bare := "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	rcpt, err := d.Send(context.Background(), bare, shares.Envelope{Title: "t", Body: "b"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if rcpt.Recipient != "eip155:11155111:"+bare {
		t.Errorf("recipient = %q", rcpt.Recipient)
	}
}

func TestSend_Preconditions(t *testing.T) {
	tests := []struct {
		name      string
		recipient string
		env       shares.Envelope
		want      error
	}{
		{"bad address", "0x1234", envelope, shareerr.ErrInvalidAddressFormat},
		{"empty body", recipient, shares.Envelope{Title: "t", Body: "  "}, ErrEmptyEnvelope},
		{"empty title", recipient, shares.Envelope{Body: "b"}, ErrEmptyEnvelope},
		{"other recipient", recipient, shares.Envelope{Title: "t", Body: "b",
			Recipient: "0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC"}, ErrRecipientMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := &fakeSession{}
			src := &fakeSource{}
			_, err := newDispatcher(opener(sess, nil), src).Send(context.Background(), tt.recipient, tt.env)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if len(src.issued) != 0 || len(sess.sent) != 0 {
				t.Error("no signer or submission expected when preconditions fail")
			}
		})
	}

	_, err := newDispatcher(opener(&fakeSession{}, nil), &fakeSource{}).
		Send(context.Background(), recipient, shares.Envelope{})
	if !errors.Is(err, shareerr.ErrDispatchRejected) {
		t.Errorf("empty envelope should be a dispatch rejection, got %v", err)
	}
}

func TestSend_SignerUnavailable(t *testing.T) {
	cause := errors.Join(shareerr.ErrSignerUnavailable, signer.ErrEndpointUnreachable)
	sess := &fakeSession{}
	_, err := newDispatcher(opener(sess, nil), &fakeSource{err: cause}).Send(context.Background(), recipient, envelope)
	if !errors.Is(err, shareerr.ErrSignerUnavailable) {
		t.Fatalf("expected ErrSignerUnavailable, got %v", err)
	}
	if errors.Is(err, shareerr.ErrDispatchRejected) {
		t.Error("signer failure must stay distinct from rejection")
	}
	if len(sess.sent) != 0 {
		t.Error("nothing may be sent without a signer")
	}
}

func TestSend_Rejected(t *testing.T) {
	sess := &fakeSession{err: channel.ErrRejected}
	src := &fakeSource{}
	_, err := newDispatcher(opener(sess, nil), src).Send(context.Background(), recipient, envelope)
	if !errors.Is(err, shareerr.ErrDispatchRejected) {
		t.Fatalf("expected ErrDispatchRejected, got %v", err)
	}
	if len(sess.sent) != 1 {
		t.Errorf("expected exactly one attempt, got %d", len(sess.sent))
	}
	if !sess.closed {
		t.Error("session not released on error")
	}
}

func TestSend_UnsupportedChain(t *testing.T) {
	_, err := newDispatcher(opener(nil, channel.ErrUnsupportedChain), &fakeSource{}).
		Send(context.Background(), recipient, envelope)
	if !errors.Is(err, shareerr.ErrSignerUnavailable) {
		t.Errorf("expected ErrSignerUnavailable, got %v", err)
	}
}

func TestSend_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sess := &fakeSession{}
	d := newDispatcher(OpenerFunc(func(context.Context, channel.Signer, channel.Env) (Session, error) {
		return sess, nil
	}), &fakeSource{})

	cancel()
	_, err := d.Send(ctx, recipient, envelope)
	if !errors.Is(err, shareerr.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if len(sess.sent) != 0 {
		t.Error("a cancelled call must not submit")
	}
}

func TestSend_CancelledInFlight(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sess := &cancellingSession{cancel: cancel}
	d := newDispatcher(OpenerFunc(func(context.Context, channel.Signer, channel.Env) (Session, error) {
		return sess, nil
	}), &fakeSource{})

	_, err := d.Send(ctx, recipient, envelope)
	if !errors.Is(err, shareerr.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if errors.Is(err, shareerr.ErrDispatchRejected) {
		t.Error("cancellation must not read as rejection")
	}
}

type cancellingSession struct{ cancel context.CancelFunc }

func (s *cancellingSession) Send(ctx context.Context, _ []string, _ channel.Notification) (channel.Receipt, error) {
	s.cancel()
	return channel.Receipt{}, errors.Join(channel.ErrUnreachable, ctx.Err())
}

func (s *cancellingSession) Close() {}

func TestSend_ThroughChannelClient(t *testing.T) {
	var posts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/v1/payloads/") {
			posts++
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"payload_id": 7}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	hc := client.NewContextClient(client.New(&config.OutboundHTTPConfig{
		SSRFMode:         "off",
		TimeoutMS:        5000,
		ConnectTimeoutMS: 2000,
		MaxRedirects:     1,
		MaxResponseBytes: 1048576,
	}, nil))
	c := channel.NewClient(hc, channel.Options{BaseURL: server.URL}, nil)

	rcpt, err := newDispatcher(FromClient(c), &fakeSource{}).Send(context.Background(), recipient, envelope)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if rcpt.ID != "7" {
		t.Errorf("receipt ID = %q", rcpt.ID)
	}
	if posts != 1 {
		t.Errorf("expected one POST, got %d", posts)
	}
}
