package channel

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/sha3"

	"github.com/Monas-project/Prot-Prototype/internal/components/address"
	"github.com/Monas-project/Prot-Prototype/internal/platform/http/client"
	"github.com/Monas-project/Prot-Prototype/internal/platform/logutil"
)

// ErrNoSigner is returned when a read-only session is asked to send.
var ErrNoSigner = errors.New("channel session has no signer")

// payloadTypeTargeted addresses a single subscriber.
const payloadTypeTargeted = 3

// Options tunes the client.
type Options struct {
	// BaseURL overrides the environment's REST base (self-hosted or tests).
	BaseURL string

	// FeedLimit caps the number of feed items fetched per List. Default 30.
	FeedLimit int

	// MaxResponseBytes bounds every response body. Default 1 MiB.
	MaxResponseBytes int64
}

// Client talks to the channel REST API.
type Client struct {
	http   client.HTTPClient
	opts   Options
	logger *slog.Logger
}

// NewClient creates a channel client over hc.
func NewClient(hc client.HTTPClient, opts Options, logger *slog.Logger) *Client {
	if opts.FeedLimit <= 0 {
		opts.FeedLimit = 30
	}
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = 1 << 20
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Client{http: hc, opts: opts, logger: logutil.NoopIfNil(logger)}
}

// Initialize opens a session under s for env. A nil signer yields a
// read-only session that can List but not Send. No network I/O happens here.
func (c *Client) Initialize(ctx context.Context, s Signer, env Env) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base := c.opts.BaseURL
	if base == "" {
		base = env.BaseURL()
	}
	if base == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEnvironment, env)
	}

	sess := &Session{client: c, base: base, env: env}
	if s == nil {
		return sess, nil
	}

	acct, err := address.ParseChannel(s.Account())
	if err != nil {
		return nil, fmt.Errorf("signer account: %w", err)
	}
	source, ok := chainSources[acct.ChainID]
	if !ok {
		return nil, fmt.Errorf("%w: chain %d", ErrUnsupportedChain, acct.ChainID)
	}
	sess.signer = s
	sess.account = s.Account()
	sess.source = source
	return sess, nil
}

// Session is one authenticated use of the channel. Close it when done.
type Session struct {
	client  *Client
	base    string
	env     Env
	signer  Signer
	account string
	source  string
	closed  atomic.Bool
}

// Close ends the session. Later calls fail with ErrSessionClosed.
func (s *Session) Close() {
	s.closed.Store(true)
}

type payloadData struct {
	Acta  string `json:"acta"`
	Aimg  string `json:"aimg"`
	Amsg  string `json:"amsg"`
	Asub  string `json:"asub"`
	Type  string `json:"type"`
	Etime *int64 `json:"etime"`
}

type identityPayload struct {
	Notification Notification `json:"notification"`
	Data         payloadData  `json:"data"`
	Recipients   string       `json:"recipients"`
}

type sendRequest struct {
	VerificationProof string `json:"verificationProof"`
	Identity          string `json:"identity"`
	Sender            string `json:"sender"`
	Source            string `json:"source"`
	Recipient         string `json:"recipient"`
}

// Send submits n to exactly one recipient as a targeted notification.
func (s *Session) Send(ctx context.Context, recipients []string, n Notification) (Receipt, error) {
	if s.closed.Load() {
		return Receipt{}, ErrSessionClosed
	}
	if s.signer == nil {
		return Receipt{}, ErrNoSigner
	}
	if len(recipients) != 1 {
		return Receipt{}, fmt.Errorf("%w: got %d", ErrAudience, len(recipients))
	}
	if _, err := address.ParseChannel(recipients[0]); err != nil {
		return Receipt{}, fmt.Errorf("recipient: %w", err)
	}
	recipient := recipients[0]

	identity, err := json.Marshal(identityPayload{
		Notification: n,
		Data: payloadData{
			Amsg: n.Body,
			Asub: n.Title,
			Type: strconv.Itoa(payloadTypeTargeted),
		},
		Recipients: recipient,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to encode payload: %w", err)
	}
	identityStr := "2+" + string(identity)

	sig, err := s.signer.SignText([]byte(identityStr))
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to sign payload: %w", err)
	}
	proof := "eip191:0x" + hex.EncodeToString(sig)

	body, err := json.Marshal(sendRequest{
		VerificationProof: proof,
		Identity:          identityStr,
		Sender:            s.account,
		Source:            s.source,
		Recipient:         recipient,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/v1/payloads/", bytes.NewReader(body))
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	respBody, status, err := s.client.do(ctx, req, true)
	if err != nil {
		return Receipt{}, err
	}
	if status < 200 || status >= 300 {
		return Receipt{}, fmt.Errorf("%w: status %d: %s", ErrRejected, status, snippet(respBody))
	}

	id := receiptID(respBody)
	if id == "" {
		id = fallbackReceiptID(proof)
	}
	s.client.logger.Debug("channel notification accepted",
		"recipient", recipient, "receipt_id", id, "env", string(s.env))
	return Receipt{ID: id}, nil
}

type feedsResponse struct {
	Feeds []struct {
		PayloadID json.Number `json:"payload_id"`
		Sender    string      `json:"sender"`
		Epoch     string      `json:"epoch"`
		Payload   struct {
			Data struct {
				Amsg string `json:"amsg"`
				Asub string `json:"asub"`
			} `json:"data"`
			Notification Notification `json:"notification"`
		} `json:"payload"`
	} `json:"feeds"`
	ItemCount int `json:"itemcount"`
}

// List returns the feed of addr in folder, most recent first as the
// channel reports it.
func (s *Session) List(ctx context.Context, addr string, folder Folder) ([]Entry, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	if _, err := address.ParseChannel(addr); err != nil {
		return nil, fmt.Errorf("address: %w", err)
	}

	q := url.Values{}
	q.Set("page", "1")
	q.Set("limit", strconv.Itoa(s.client.opts.FeedLimit))
	q.Set("spam", strconv.FormatBool(folder == FolderSpam))
	u := s.base + "/v1/users/" + url.PathEscape(addr) + "/feeds?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	respBody, status, err := s.client.do(ctx, req, false)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrRejected, status, snippet(respBody))
	}

	var fr feedsResponse
	dec := json.NewDecoder(bytes.NewReader(respBody))
	dec.UseNumber()
	if err := dec.Decode(&fr); err != nil {
		return nil, fmt.Errorf("%w: malformed feed: %v", ErrRejected, err)
	}

	entries := make([]Entry, 0, len(fr.Feeds))
	for _, f := range fr.Feeds {
		ts, err := time.Parse(time.RFC3339Nano, f.Epoch)
		if err != nil {
			s.client.logger.Debug("skipping feed item with bad epoch", "payload_id", f.PayloadID.String(), "epoch", f.Epoch)
			continue
		}
		title := f.Payload.Notification.Title
		if title == "" {
			title = f.Payload.Data.Asub
		}
		body := f.Payload.Data.Amsg
		if body == "" {
			body = f.Payload.Notification.Body
		}
		entries = append(entries, Entry{
			ID:        f.PayloadID.String(),
			Sender:    f.Sender,
			Title:     title,
			Body:      body,
			Timestamp: ts.UTC(),
		})
	}
	return entries, nil
}

// do runs req and reads a bounded body. Signed payloads never follow
// redirects. Transport failures wrap ErrUnreachable; the context error stays
// reachable through the chain.
func (c *Client) do(ctx context.Context, req *http.Request, signed bool) ([]byte, int, error) {
	var resp *http.Response
	var err error
	if signed {
		resp, err = c.http.DoSigned(ctx, req)
	} else {
		resp, err = c.http.Do(ctx, req)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxResponseBytes+1))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: reading response: %w", ErrUnreachable, err)
	}
	if int64(len(body)) > c.opts.MaxResponseBytes {
		return nil, resp.StatusCode, fmt.Errorf("%w: %w", ErrRejected, client.ErrResponseTooLarge)
	}
	return body, resp.StatusCode, nil
}

func receiptID(body []byte) string {
	var r map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&r); err != nil {
		return ""
	}
	for _, k := range []string{"id", "payload_id"} {
		switch v := r[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

// fallbackReceiptID derives a stable ID from the verification proof when the
// channel acknowledges without returning one.
func fallbackReceiptID(proof string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(proof))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// snippet trims a response body for error messages, cutting on a rune
// boundary.
func snippet(b []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(b))
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
