package client_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Monas-project/Prot-Prototype/internal/platform/config"
	httpclient "github.com/Monas-project/Prot-Prototype/internal/platform/http/client"
)

func outbound(mode string, redirects int) *config.OutboundHTTPConfig {
	return &config.OutboundHTTPConfig{
		SSRFMode:         mode,
		TimeoutMS:        2000,
		ConnectTimeoutMS: 500,
		MaxRedirects:     redirects,
		MaxResponseBytes: 1 << 20,
	}
}

// staticResolver answers every lookup with the same addresses.
type staticResolver []string

func (r staticResolver) LookupIPAddr(_ context.Context, _ string) ([]net.IPAddr, error) {
	out := make([]net.IPAddr, 0, len(r))
	for _, s := range r {
		out = append(out, net.IPAddr{IP: net.ParseIP(s)})
	}
	return out, nil
}

type failingResolver struct{}

func (failingResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

func TestStrictMode_BlocksInternalTargets(t *testing.T) {
	c := httpclient.New(outbound("strict", 1), nil)

	for _, target := range []string{
		"http://localhost/apis/v1/users",
		"http://127.0.0.1:8080/apis",
		"http://[::1]/apis",
		"http://10.0.0.7/apis",
		"http://172.16.4.2/apis",
		"http://192.168.1.1/apis",
		"http://169.254.169.254/latest/meta-data",
		"http://[fd00::1]/apis",
		"http://0.0.0.0/apis",
	} {
		t.Run(target, func(t *testing.T) {
			_, err := c.Get(context.Background(), target)
			if !httpclient.IsSSRFError(err) {
				t.Errorf("expected SSRF error, got %v", err)
			}
		})
	}
}

func TestStrictMode_ChecksResolvedAddresses(t *testing.T) {
	c := httpclient.New(outbound("strict", 1), nil)

	c.SetResolver(staticResolver{"203.0.113.9", "10.1.2.3"})
	_, err := c.Get(context.Background(), "https://backend.example/apis")
	if !errors.Is(err, httpclient.ErrSSRFBlocked) {
		t.Errorf("expected ErrSSRFBlocked for a private answer, got %v", err)
	}

	c.SetResolver(failingResolver{})
	_, err = c.Get(context.Background(), "https://backend.example/apis")
	if !errors.Is(err, httpclient.ErrHostUnresolvable) {
		t.Errorf("expected ErrHostUnresolvable, got %v", err)
	}
}

func TestOffMode_ReachesLoopback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	resp, err := httpclient.New(outbound("off", 1), nil).Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestOffMode_IgnoresProxyEnvironment(t *testing.T) {
	t.Setenv("HTTP_PROXY", "http://127.0.0.1:1")
	t.Setenv("http_proxy", "http://127.0.0.1:1")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := httpclient.New(outbound("off", 1), nil).Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("request went through the proxy: %v", err)
	}
	resp.Body.Close()
}

func redirectingServer(t *testing.T, location func(base string) string) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/final":
			w.Header().Set("X-Seen-Auth", r.Header.Get("Authorization"))
			w.Header().Set("X-Seen-Agent", r.Header.Get("User-Agent"))
			w.WriteHeader(http.StatusOK)
		default:
			if loc := location(srv.URL); loc != "" {
				w.Header().Set("Location", loc)
			}
			w.WriteHeader(http.StatusFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRedirects(t *testing.T) {
	tests := []struct {
		name      string
		location  func(base string) string
		redirects int
		wantErr   error
	}{
		{"same host followed", func(base string) string { return base + "/final" }, 1, nil},
		{"loop exceeds limit", func(base string) string { return base + "/again" }, 2, httpclient.ErrTooManyRedirects},
		{"other host refused", func(string) string { return "http://push.invalid/final" }, 1, httpclient.ErrRedirectNotSameHost},
		{"missing location", func(string) string { return "" }, 1, httpclient.ErrRedirectBlocked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := redirectingServer(t, tt.location)
			req, _ := http.NewRequest(http.MethodGet, srv.URL+"/start", nil)
			req.Header.Set("Authorization", "Bearer secret")
			req.Header.Set("User-Agent", "sharebox-test")

			resp, err := httpclient.New(outbound("off", tt.redirects), nil).Do(req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				if !httpclient.IsRedirectError(err) {
					t.Errorf("IsRedirectError(%v) = false", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Do() error = %v", err)
			}
			resp.Body.Close()
			if resp.Header.Get("X-Seen-Auth") != "" {
				t.Error("Authorization leaked across the redirect")
			}
			if resp.Header.Get("X-Seen-Agent") != "sharebox-test" {
				t.Error("User-Agent not carried across the redirect")
			}
		})
	}
}

func TestContextClient_SignedRequestsRefuseRedirects(t *testing.T) {
	srv := redirectingServer(t, func(base string) string { return base + "/final" })
	cc := httpclient.NewContextClient(httpclient.New(outbound("off", 3), nil))

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/apis/v1/payloads", strings.NewReader("{}"))
	_, err := cc.DoSigned(context.Background(), req)
	if !errors.Is(err, httpclient.ErrSignedNoRedirect) {
		t.Errorf("expected ErrSignedNoRedirect, got %v", err)
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/apis/v1/users", nil)
	resp, err := cc.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("unsigned Do() error = %v", err)
	}
	resp.Body.Close()
}

func TestContextClient_UsesCallerContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := httpclient.NewContextClient(httpclient.New(outbound("off", 1), nil)).Do(ctx, req)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestLoadRootCAs_Errors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.pem")
	if err := os.WriteFile(bad, []byte("not a certificate"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := httpclient.LoadRootCAs(bad, ""); err == nil {
		t.Error("expected error for a file without certificates")
	}
	if _, err := httpclient.LoadRootCAs("", filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for a missing directory")
	}
}

func TestNew_BadRootCAFileFallsBack(t *testing.T) {
	cfg := outbound("off", 1)
	cfg.TLSRootCAFile = filepath.Join(t.TempDir(), "missing.pem")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	resp, err := httpclient.New(cfg, nil).Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()
}
