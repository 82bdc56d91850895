// Package server provides HTTP server wiring and lifecycle management.
package server

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Monas-project/Prot-Prototype/internal/platform/config"
	"github.com/Monas-project/Prot-Prototype/internal/platform/deps"
	"github.com/Monas-project/Prot-Prototype/internal/platform/logutil"

	tlspkg "github.com/Monas-project/Prot-Prototype/internal/platform/http/tls"
)

var ErrMissingDeps = errors.New("server: dependencies not built")

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg        *config.Config
	deps       *deps.Deps
	httpServer *http.Server
	logger     *slog.Logger

	// challengeServer is the HTTP listener for ACME HTTP-01 challenges and
	// HTTPS redirects. Nil except in ACME mode.
	challengeServer *http.Server

	// RootCAPool reaches the ACME directory. Nil uses the system pool.
	RootCAPool *x509.CertPool
}

// New creates a new Server serving the components in d.
func New(cfg *config.Config, d *deps.Deps, logger *slog.Logger) (*Server, error) {
	if d == nil || d.Registration == nil || d.Notifier == nil {
		return nil, ErrMissingDeps
	}

	s := &Server{
		cfg:    cfg,
		deps:   d,
		logger: logutil.NoopIfNil(logger),
	}

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.setupRoutes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the application router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// SetRootCAPool sets the root CA pool for ACME directory communication.
// Call before Start().
func (s *Server) SetRootCAPool(pool *x509.CertPool) {
	s.RootCAPool = pool
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting server", "addr", s.cfg.ListenAddr, "tls_mode", s.cfg.TLS.Mode)

	switch s.cfg.TLS.Mode {
	case "off":
		return s.httpServer.ListenAndServe()
	case "static", "selfsigned":
		tlsConfig, err := tlspkg.NewManager(&s.cfg.TLS, s.logger).Config(s.hostname())
		if err != nil {
			return fmt.Errorf("configuring TLS: %w", err)
		}
		if tlsConfig == nil {
			return fmt.Errorf("no TLS config for mode %s", s.cfg.TLS.Mode)
		}
		s.httpServer.TLSConfig = tlsConfig
		return s.httpServer.ListenAndServeTLS("", "")
	case "acme":
		return s.startACME()
	default:
		return fmt.Errorf("%w: %s", tlspkg.ErrInvalidTLSMode, s.cfg.TLS.Mode)
	}
}

// hostname names the self-signed certificate.
func (s *Server) hostname() string {
	if s.cfg.TLS.ACME.Domain != "" {
		return s.cfg.TLS.ACME.Domain
	}
	return "localhost"
}

// startACME serves HTTP-01 challenges and HTTPS redirects on tls.http_port
// and the API on tls.https_port. The port in listen_addr is ignored. When
// either listener fails the other is shut down.
func (s *Server) startACME() error {
	if s.cfg.TLS.HTTPPort == 0 {
		return errors.New("tls.http_port must be set for ACME mode")
	}
	if s.cfg.TLS.HTTPSPort == 0 {
		return errors.New("tls.https_port must be set for ACME mode")
	}
	host, _, err := net.SplitHostPort(s.cfg.ListenAddr)
	if err != nil {
		host = s.cfg.ListenAddr
	}

	acme := tlspkg.NewACME(&s.cfg.TLS.ACME, s.logger, s.RootCAPool)

	mux := http.NewServeMux()
	mux.Handle("/.well-known/acme-challenge/", acme.ChallengeHandler())
	mux.Handle("/", newHTTPSRedirectHandler(s.cfg.TLS.HTTPSPort))
	s.challengeServer = &http.Server{
		Addr:         net.JoinHostPort(host, strconv.Itoa(s.cfg.TLS.HTTPPort)),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	challengeLn, err := net.Listen("tcp", s.challengeServer.Addr)
	if err != nil {
		return fmt.Errorf("challenge listener on %s: %w", s.challengeServer.Addr, err)
	}

	g, gctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return ignoreClosed(s.challengeServer.Serve(challengeLn)) })

	// The challenge listener must be up before Init asks for a certificate.
	if err := acme.Init(context.Background()); err != nil {
		s.closeAll()
		_ = g.Wait()
		return fmt.Errorf("ACME initialization: %w", err)
	}

	s.httpServer.Addr = net.JoinHostPort(host, strconv.Itoa(s.cfg.TLS.HTTPSPort))
	s.httpServer.TLSConfig = acme.TLSConfig()
	httpsLn, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.closeAll()
		_ = g.Wait()
		return fmt.Errorf("https listener on %s: %w", s.httpServer.Addr, err)
	}
	g.Go(func() error { return ignoreClosed(s.httpServer.ServeTLS(httpsLn, "", "")) })

	s.logger.Info("serving with ACME",
		"http_addr", s.challengeServer.Addr,
		"https_addr", s.httpServer.Addr,
		"domain", s.cfg.TLS.ACME.Domain,
	)

	go func() {
		<-gctx.Done()
		s.closeAll()
	}()
	if err := g.Wait(); err != nil {
		return err
	}
	return http.ErrServerClosed
}

// closeAll stops both ACME-mode listeners.
func (s *Server) closeAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, srv := range []*http.Server{s.challengeServer, s.httpServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			_ = srv.Close()
		}
	}
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// newHTTPSRedirectHandler answers every request with a 308 to the same URL
// over HTTPS on httpsPort.
func newHTTPSRedirectHandler(httpsPort int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		switch {
		case httpsPort != 443:
			host = net.JoinHostPort(host, strconv.Itoa(httpsPort))
		case strings.Contains(host, ":"):
			host = "[" + host + "]"
		}
		http.Redirect(w, r, "https://"+host+r.URL.RequestURI(), http.StatusPermanentRedirect)
	})
}

// Shutdown stops the listeners, challenge server first. The caller owns the
// deps and closes them afterwards.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var challengeErr error
	if s.challengeServer != nil {
		challengeErr = s.challengeServer.Shutdown(ctx)
	}
	return errors.Join(challengeErr, s.httpServer.Shutdown(ctx))
}
