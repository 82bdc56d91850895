// Package client provides the outbound HTTP client used to reach the
// notification channel, with SSRF protections and bounded redirects.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Monas-project/Prot-Prototype/internal/platform/config"
	"github.com/Monas-project/Prot-Prototype/internal/platform/logutil"
)

var (
	ErrSSRFBlocked         = errors.New("request blocked by SSRF protection")
	ErrTooManyRedirects    = errors.New("too many redirects")
	ErrResponseTooLarge    = errors.New("response body too large")
	ErrInvalidURL          = errors.New("invalid URL")
	ErrRedirectBlocked     = errors.New("redirect blocked by policy")
	ErrSignedNoRedirect    = errors.New("signed requests cannot follow redirects")
	ErrRedirectNotSameHost = errors.New("redirect to different host blocked")
	ErrRedirectDowngrade   = errors.New("redirect from https to http blocked")
	ErrHostUnresolvable    = errors.New("host could not be resolved")
)

// HTTPClient is the context-first interface consumers depend on.
// Implemented by ContextClient.
type HTTPClient interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
	// DoSigned is for requests carrying a signed payload; redirects are refused.
	DoSigned(ctx context.Context, req *http.Request) (*http.Response, error)
}

// RequestOptions controls per-request behavior.
type RequestOptions struct {
	// IsSigned marks a request whose body carries a signature over its
	// destination. It must not follow redirects.
	IsSigned bool
}

// Resolver abstracts DNS resolution for testing.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Client is a safe HTTP client with SSRF protections and bounded behavior.
type Client struct {
	cfg        *config.OutboundHTTPConfig
	httpClient *http.Client
	resolver   Resolver // nil uses net.DefaultResolver
	logger     *slog.Logger
}

// New creates a safe HTTP client. Proxy environment variables are ignored.
// A nil cfg uses the strict defaults.
func New(cfg *config.OutboundHTTPConfig, logger *slog.Logger) *Client {
	if cfg == nil {
		strict := config.OutboundHTTPConfigStrict()
		cfg = &strict
	}
	logger = logutil.NoopIfNil(logger)

	c := &Client{cfg: cfg, logger: logger}

	dialer := &net.Dialer{
		Timeout: time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond,
	}

	tlsCfg := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if pool, err := LoadRootCAs(cfg.TLSRootCAFile, cfg.TLSRootCADir); err != nil {
		logger.Warn("outbound root CAs not loaded, using system pool", "error", err)
	} else if pool != nil {
		tlsCfg.RootCAs = pool
	}

	transport := &http.Transport{
		Proxy: nil,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			// Re-check at dial time so DNS rebinding cannot slip past the pre-flight.
			if cfg.SSRFMode == "strict" {
				if err := c.checkSSRF(ctx, addr); err != nil {
					return nil, err
				}
			}
			return dialer.DialContext(ctx, network, addr)
		},
		TLSClientConfig: tlsCfg,
		MaxIdleConns:    10,
		IdleConnTimeout: 30 * time.Second,
	}

	c.httpClient = &http.Client{
		Transport: transport,
		Timeout:   time.Duration(cfg.TimeoutMS) * time.Millisecond,
		// Redirects are followed manually under policy.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return c
}

// LoadRootCAs merges the system pool with PEM roots from file and dir.
// Both empty returns (nil, nil) so callers keep the system defaults.
func LoadRootCAs(file, dir string) (*x509.CertPool, error) {
	if file == "" && dir == "" {
		return nil, nil
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}

	var paths []string
	if file != "" {
		paths = append(paths, file)
	}
	if dir != "" {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("read root CA dir: %w", err)
		}
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if !e.IsDir() && (ext == ".pem" || ext == ".crt") {
				paths = append(paths, filepath.Join(dir, e.Name()))
			}
		}
	}

	for _, p := range paths {
		pem, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read root CA %s: %w", p, err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", p)
		}
	}
	return pool, nil
}

// SetResolver sets a custom DNS resolver (for testing).
func (c *Client) SetResolver(r Resolver) {
	c.resolver = r
}

func (c *Client) getResolver() Resolver {
	if c.resolver != nil {
		return c.resolver
	}
	return net.DefaultResolver
}

// checkSSRF validates a host:port from the dialer.
func (c *Client) checkSSRF(ctx context.Context, addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return c.checkSSRFHost(ctx, host)
}

// checkSSRFHost rejects loopback, private, link-local and similar targets.
// Unresolvable hosts fail closed.
func (c *Client) checkSSRFHost(ctx context.Context, host string) error {
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}

	lowerHost := strings.ToLower(host)
	if lowerHost == "localhost" || lowerHost == "localhost.localdomain" {
		return fmt.Errorf("%w: localhost is blocked", ErrSSRFBlocked)
	}

	if ip := net.ParseIP(host); ip != nil {
		if !isAllowedIP(ip) {
			return fmt.Errorf("%w: IP %s is blocked", ErrSSRFBlocked, ip)
		}
		return nil
	}

	ipAddrs, err := c.getResolver().LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrHostUnresolvable, host, err)
	}
	for _, ipAddr := range ipAddrs {
		if !isAllowedIP(ipAddr.IP) {
			return fmt.Errorf("%w: %s resolves to blocked IP %s", ErrSSRFBlocked, host, ipAddr.IP)
		}
	}
	return nil
}

// isAllowedIP reports whether ip is a public unicast address.
func isAllowedIP(ip net.IP) bool {
	return !(ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified() ||
		ip.IsMulticast())
}

// Get performs an unsigned GET request.
func (c *Client) Get(ctx context.Context, urlStr string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	return c.DoWithOptions(req, RequestOptions{})
}

// Do performs an unsigned request; it may follow one same-host redirect.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.DoWithOptions(req, RequestOptions{})
}

// DoSigned performs a signed request. Any 3xx response is an error.
func (c *Client) DoSigned(req *http.Request) (*http.Response, error) {
	return c.DoWithOptions(req, RequestOptions{IsSigned: true})
}

// DoWithOptions performs an HTTP request with explicit options.
func (c *Client) DoWithOptions(req *http.Request, opts RequestOptions) (*http.Response, error) {
	if err := c.preflight(req.Context(), req.URL); err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if !isRedirect(resp.StatusCode) {
		return resp, nil
	}
	if opts.IsSigned {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: received %d", ErrSignedNoRedirect, resp.StatusCode)
	}
	return c.follow(req, resp)
}

// preflight runs the SSRF host check in strict mode.
func (c *Client) preflight(ctx context.Context, u *url.URL) error {
	if c.cfg.SSRFMode != "strict" {
		return nil
	}
	return c.checkSSRFHost(ctx, u.Hostname())
}

// follow walks same-host redirects up to the configured limit. Each hop is
// re-checked; https never downgrades and only safe headers are carried.
func (c *Client) follow(req *http.Request, resp *http.Response) (*http.Response, error) {
	limit := c.cfg.MaxRedirects
	if limit <= 0 {
		limit = 1
	}
	ctx := req.Context()

	for hop := 0; ; hop++ {
		resp.Body.Close()
		if hop >= limit {
			return nil, fmt.Errorf("%w: exceeded limit of %d", ErrTooManyRedirects, limit)
		}

		next, err := redirectTarget(req.URL, resp.Header.Get("Location"))
		if err != nil {
			return nil, err
		}
		if err := c.preflight(ctx, next); err != nil {
			return nil, err
		}

		nextReq, err := http.NewRequestWithContext(ctx, req.Method, next.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedirectBlocked, err)
		}
		copyRedirectHeaders(req, nextReq)
		c.logger.Debug("following redirect", "from", req.URL.String(), "to", next.String())

		resp, err = c.httpClient.Do(nextReq)
		if err != nil {
			return nil, err
		}
		if !isRedirect(resp.StatusCode) {
			return resp, nil
		}
		req = nextReq
	}
}

// redirectTarget resolves location against from and applies the redirect policy.
func redirectTarget(from *url.URL, location string) (*url.URL, error) {
	if location == "" {
		return nil, fmt.Errorf("%w: no Location header", ErrRedirectBlocked)
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid Location: %v", ErrRedirectBlocked, err)
	}
	u = from.ResolveReference(u)

	if from.Scheme == "https" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %s -> %s", ErrRedirectDowngrade, from.Scheme, u.Scheme)
	}
	if !isSameHost(from, u) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrRedirectNotSameHost, from.Host, u.Host)
	}
	return u, nil
}

// isSameHost compares hostname and effective port (scheme default when absent).
func isSameHost(a, b *url.URL) bool {
	if !strings.EqualFold(a.Hostname(), b.Hostname()) {
		return false
	}
	return effectivePort(a) == effectivePort(b)
}

func effectivePort(u *url.URL) string {
	if port := u.Port(); port != "" {
		return port
	}
	return defaultPort(u.Scheme)
}

func defaultPort(scheme string) string {
	switch strings.ToLower(scheme) {
	case "http":
		return "80"
	case "https":
		return "443"
	default:
		return ""
	}
}

// copyRedirectHeaders keeps User-Agent and Accept; credentials are dropped.
func copyRedirectHeaders(src, dst *http.Request) {
	if ua := src.Header.Get("User-Agent"); ua != "" {
		dst.Header.Set("User-Agent", ua)
	}
	if accept := src.Header.Get("Accept"); accept != "" {
		dst.Header.Set("Accept", accept)
	}
}

func isRedirect(code int) bool {
	return code == http.StatusMovedPermanently ||
		code == http.StatusFound ||
		code == http.StatusSeeOther ||
		code == http.StatusTemporaryRedirect ||
		code == http.StatusPermanentRedirect
}

// IsSSRFError returns true if the error is an SSRF blocking error.
func IsSSRFError(err error) bool {
	return errors.Is(err, ErrSSRFBlocked) || errors.Is(err, ErrHostUnresolvable)
}

// IsRedirectError returns true if the error is a redirect-related error.
func IsRedirectError(err error) bool {
	return errors.Is(err, ErrRedirectBlocked) ||
		errors.Is(err, ErrSignedNoRedirect) ||
		errors.Is(err, ErrRedirectNotSameHost) ||
		errors.Is(err, ErrRedirectDowngrade) ||
		errors.Is(err, ErrTooManyRedirects)
}

// ContextClient adapts Client to HTTPClient.
type ContextClient struct {
	client *Client
}

// NewContextClient creates a ContextClient adapter.
func NewContextClient(c *Client) *ContextClient {
	return &ContextClient{client: c}
}

// Do performs an HTTP request, using the provided context.
func (c *ContextClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return c.client.Do(req.WithContext(ctx))
}

// DoSigned performs a signed HTTP request that rejects redirects.
func (c *ContextClient) DoSigned(ctx context.Context, req *http.Request) (*http.Response, error) {
	return c.client.DoSigned(req.WithContext(ctx))
}
