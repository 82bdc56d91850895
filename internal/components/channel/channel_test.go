package channel

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Monas-project/Prot-Prototype/internal/components/signer"
	"github.com/Monas-project/Prot-Prototype/internal/platform/config"
	"github.com/Monas-project/Prot-Prototype/internal/platform/http/client"
)

const (
	testSecret = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	recipient  = "eip155:11155111:0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"
)

func testSigner(t *testing.T, chainID int64) *signer.Signer {
	t.Helper()
	key, err := crypto.HexToECDSA(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	return signer.NewOffline(key, chainID)
}

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	cfg := &config.OutboundHTTPConfig{
		SSRFMode:         "off",
		TimeoutMS:        5000,
		ConnectTimeoutMS: 2000,
		MaxRedirects:     1,
		MaxResponseBytes: 1048576,
	}
	hc := client.NewContextClient(client.New(cfg, nil))
	return NewClient(hc, Options{BaseURL: baseURL}, nil)
}

func TestParseEnv(t *testing.T) {
	for _, in := range []string{"prod", "STAGING", " dev "} {
		e, err := ParseEnv(in)
		if err != nil {
			t.Errorf("ParseEnv(%q) error = %v", in, err)
			continue
		}
		if !strings.HasPrefix(e.BaseURL(), "https://") {
			t.Errorf("BaseURL(%s) = %q", e, e.BaseURL())
		}
	}
	if _, err := ParseEnv("mainnet"); !errors.Is(err, ErrUnknownEnvironment) {
		t.Errorf("expected ErrUnknownEnvironment, got %v", err)
	}
}

func TestSession_Send(t *testing.T) {
	s := testSigner(t, 11155111)

	var got sendRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/payloads/" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"payload-42"}`))
	}))
	defer server.Close()

	sess, err := testClient(t, server.URL).Initialize(context.Background(), s, EnvStaging)
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer sess.Close()

	rcpt, err := sess.Send(context.Background(), []string{recipient}, Notification{Title: "T", Body: "h1 cid1"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if rcpt.ID != "payload-42" {
		t.Errorf("receipt ID = %q", rcpt.ID)
	}

	if got.Recipient != recipient {
		t.Errorf("recipient = %q", got.Recipient)
	}
	if got.Sender != s.Account() {
		t.Errorf("sender = %q, want %q", got.Sender, s.Account())
	}
	if got.Source != "ETH_TEST_SEPOLIA" {
		t.Errorf("source = %q", got.Source)
	}
	if !strings.HasPrefix(got.Identity, "2+") {
		t.Fatalf("identity = %q", got.Identity)
	}

	var ident identityPayload
	if err := json.Unmarshal([]byte(strings.TrimPrefix(got.Identity, "2+")), &ident); err != nil {
		t.Fatalf("identity is not JSON: %v", err)
	}
	if ident.Data.Type != "3" {
		t.Errorf("payload type = %q, want targeted (3)", ident.Data.Type)
	}
	if ident.Notification.Body != "h1 cid1" || ident.Data.Amsg != "h1 cid1" {
		t.Errorf("body not carried: %+v", ident)
	}

	if !strings.HasPrefix(got.VerificationProof, "eip191:0x") {
		t.Fatalf("proof = %q", got.VerificationProof)
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(got.VerificationProof, "eip191:0x"))
	if err != nil {
		t.Fatalf("proof not hex: %v", err)
	}
	sig[crypto.RecoveryIDOffset] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(got.Identity)), sig)
	if err != nil {
		t.Fatalf("SigToPub() error = %v", err)
	}
	if crypto.PubkeyToAddress(*pub).Hex() != s.Address() {
		t.Error("proof was not signed by the channel signer")
	}
}

func TestSession_Send_FallbackReceiptID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sess, err := testClient(t, server.URL).Initialize(context.Background(), testSigner(t, 11155111), EnvStaging)
	if err != nil {
		t.Fatal(err)
	}
	rcpt, err := sess.Send(context.Background(), []string{recipient}, Notification{Title: "T", Body: "B"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !strings.HasPrefix(rcpt.ID, "0x") || len(rcpt.ID) != 66 {
		t.Errorf("fallback receipt ID = %q", rcpt.ID)
	}
}

func TestSession_Send_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"recipient not subscribed"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	sess, err := testClient(t, server.URL).Initialize(context.Background(), testSigner(t, 11155111), EnvStaging)
	if err != nil {
		t.Fatal(err)
	}
	_, err = sess.Send(context.Background(), []string{recipient}, Notification{Title: "T", Body: "B"})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if !strings.Contains(err.Error(), "not subscribed") {
		t.Errorf("error should carry the channel's reason: %v", err)
	}
}

func TestSession_Send_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	sess, err := testClient(t, url).Initialize(context.Background(), testSigner(t, 11155111), EnvStaging)
	if err != nil {
		t.Fatal(err)
	}
	_, err = sess.Send(context.Background(), []string{recipient}, Notification{Title: "T", Body: "B"})
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("expected ErrUnreachable, got %v", err)
	}
}

func TestSession_Send_Audience(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	sess, err := testClient(t, server.URL).Initialize(context.Background(), testSigner(t, 11155111), EnvStaging)
	if err != nil {
		t.Fatal(err)
	}

	for _, rs := range [][]string{nil, {recipient, recipient}} {
		if _, err := sess.Send(context.Background(), rs, Notification{Title: "T", Body: "B"}); !errors.Is(err, ErrAudience) {
			t.Errorf("recipients %v: expected ErrAudience, got %v", rs, err)
		}
	}
	if calls.Load() != 0 {
		t.Error("no request may be made for a broadcast-shaped send")
	}
}

func TestSession_ReadOnlyAndClosed(t *testing.T) {
	c := testClient(t, "https://channel.invalid")

	ro, err := c.Initialize(context.Background(), nil, EnvStaging)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ro.Send(context.Background(), []string{recipient}, Notification{Title: "T", Body: "B"}); !errors.Is(err, ErrNoSigner) {
		t.Errorf("expected ErrNoSigner, got %v", err)
	}

	ro.Close()
	if _, err := ro.List(context.Background(), recipient, FolderInbox); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
}

func TestClient_Initialize_UnsupportedChain(t *testing.T) {
	c := testClient(t, "https://channel.invalid")
	if _, err := c.Initialize(context.Background(), testSigner(t, 999999), EnvStaging); !errors.Is(err, ErrUnsupportedChain) {
		t.Errorf("expected ErrUnsupportedChain, got %v", err)
	}
}

func TestSession_List(t *testing.T) {
	var gotPath, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"feeds": [
				{"payload_id": 101, "sender": "eip155:11155111:0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC",
				 "epoch": "2025-03-01T09:00:00.000Z",
				 "payload": {"data": {"amsg": "body one", "asub": "subject one"},
				             "notification": {"title": "title one", "body": "ignored"}}},
				{"payload_id": 102, "sender": "eip155:11155111:0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC",
				 "epoch": "not-a-time", "payload": {"data": {"amsg": "bad"}}},
				{"payload_id": 103, "sender": "eip155:11155111:0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC",
				 "epoch": "2025-03-01T08:00:00Z",
				 "payload": {"data": {}, "notification": {"title": "t3", "body": "body three"}}}
			],
			"itemcount": 3
		}`))
	}))
	defer server.Close()

	sess, err := testClient(t, server.URL).Initialize(context.Background(), nil, EnvStaging)
	if err != nil {
		t.Fatal(err)
	}

	entries, err := sess.List(context.Background(), recipient, FolderInbox)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if !strings.HasSuffix(gotPath, "/v1/users/"+recipient+"/feeds") {
		t.Errorf("path = %q", gotPath)
	}
	if !strings.Contains(gotQuery, "spam=false") {
		t.Errorf("query = %q", gotQuery)
	}

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries (bad epoch skipped), got %d", len(entries))
	}
	if entries[0].ID != "101" || entries[0].Body != "body one" || entries[0].Title != "title one" {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if !entries[0].Timestamp.Equal(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("entry 0 timestamp = %v", entries[0].Timestamp)
	}
	if entries[1].Body != "body three" {
		t.Errorf("entry 1 body = %q", entries[1].Body)
	}
}

func TestSession_List_Malformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer server.Close()

	sess, _ := testClient(t, server.URL).Initialize(context.Background(), nil, EnvStaging)
	if _, err := sess.List(context.Background(), recipient, FolderInbox); !errors.Is(err, ErrRejected) {
		t.Errorf("expected ErrRejected, got %v", err)
	}
}

func TestSession_List_RequiresChannelAddress(t *testing.T) {
	sess, _ := testClient(t, "https://channel.invalid").Initialize(context.Background(), nil, EnvStaging)
	if _, err := sess.List(context.Background(), "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB", FolderInbox); err == nil {
		t.Error("expected error for bare address")
	}
}

func TestFeed_List(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodGet {
			t.Errorf("method = %s", r.Method)
		}
		if !strings.Contains(r.URL.Path, "/v1/users/") || !strings.HasSuffix(r.URL.Path, "/feeds") {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"feeds": [
			{"payload_id": 7, "sender": "eip155:11155111:0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC",
			 "epoch": "2025-03-01T09:00:00Z", "payload": {"data": {"amsg": "hello"}}}
		], "itemcount": 1}`))
	}))
	defer server.Close()

	feed := NewFeed(testClient(t, server.URL), EnvStaging)
	for i := 0; i < 2; i++ {
		entries, err := feed.List(context.Background(), recipient, FolderInbox)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(entries) != 1 || entries[0].ID != "7" || entries[0].Body != "hello" {
			t.Errorf("entries = %+v", entries)
		}
	}
	if calls.Load() != 2 {
		t.Errorf("expected one request per call, got %d", calls.Load())
	}
}

func TestFeed_List_ChannelFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	feed := NewFeed(testClient(t, server.URL), EnvStaging)
	if _, err := feed.List(context.Background(), recipient, FolderInbox); !errors.Is(err, ErrRejected) {
		t.Errorf("expected ErrRejected, got %v", err)
	}
}

func TestSnippet(t *testing.T) {
	if got := snippet([]byte("  short body \n")); got != "short body" {
		t.Errorf("snippet() = %q", got)
	}

	// 199 ASCII bytes then a 3-byte rune straddling the limit.
	body := strings.Repeat("a", 199) + "€" + strings.Repeat("b", 50)
	got := snippet([]byte(body))
	if !utf8.ValidString(got) {
		t.Fatalf("snippet() produced invalid UTF-8: %q", got)
	}
	if want := strings.Repeat("a", 199) + "..."; got != want {
		t.Errorf("snippet() = %q, want %q", got, want)
	}
}
