package tls

import (
	"context"
	"crypto"
	cryptotls "crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"

	"github.com/Monas-project/Prot-Prototype/internal/platform/config"
	"github.com/Monas-project/Prot-Prototype/internal/platform/logutil"
)

const (
	letsEncryptStaging    = "https://acme-staging-v02.api.letsencrypt.org/directory"
	letsEncryptProduction = "https://acme-v02.api.letsencrypt.org/directory"

	challengePrefix = "/.well-known/acme-challenge/"

	// challengeTTL bounds how long a presented token is served if lego never
	// cleans it up.
	challengeTTL = 10 * time.Minute
)

// Files kept under the ACME storage dir.
const (
	accountFile = "account.json"
	accountKey  = "account.key"
	certFile    = "cert.pem"
	keyFile     = "key.pem"
)

// account is the lego registration user, persisted between runs.
type account struct {
	Email        string                 `json:"email"`
	Registration *registration.Resource `json:"registration"`
	key          crypto.PrivateKey
}

func (a *account) GetEmail() string                        { return a.Email }
func (a *account) GetRegistration() *registration.Resource { return a.Registration }
func (a *account) GetPrivateKey() crypto.PrivateKey        { return a.key }

type tokenEntry struct {
	keyAuth string
	expires time.Time
}

// HTTP01Provider answers HTTP-01 challenges from memory. The server owns
// the listener; lego never binds a port of its own.
type HTTP01Provider struct {
	tokens sync.Map // token -> tokenEntry
	now    func() time.Time
}

func (p *HTTP01Provider) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

// Present implements lego's challenge.Provider.
func (p *HTTP01Provider) Present(_, token, keyAuth string) error {
	p.tokens.Store(token, tokenEntry{keyAuth: keyAuth, expires: p.clock().Add(challengeTTL)})
	return nil
}

// CleanUp implements lego's challenge.Provider.
func (p *HTTP01Provider) CleanUp(_, token, _ string) error {
	p.tokens.Delete(token)
	return nil
}

func (p *HTTP01Provider) lookup(token string) (string, bool) {
	v, ok := p.tokens.Load(token)
	if !ok {
		return "", false
	}
	e := v.(tokenEntry)
	if p.clock().After(e.expires) {
		p.tokens.Delete(token)
		return "", false
	}
	return e.keyAuth, true
}

// ACME obtains and serves a certificate for the configured domain.
type ACME struct {
	cfg      *config.ACMEConfig
	logger   *slog.Logger
	rootCAs  *x509.CertPool
	provider *HTTP01Provider

	mu   sync.RWMutex
	cert *cryptotls.Certificate
}

// NewACME creates an ACME manager. rootCAs reaches the ACME directory; nil
// uses the system pool.
func NewACME(cfg *config.ACMEConfig, logger *slog.Logger, rootCAs *x509.CertPool) *ACME {
	return &ACME{
		cfg:      cfg,
		logger:   logutil.NoopIfNil(logger),
		rootCAs:  rootCAs,
		provider: &HTTP01Provider{},
	}
}

// Init loads a stored certificate, or registers and obtains one. The
// challenge handler must already be reachable when Init contacts the CA.
func (a *ACME) Init(ctx context.Context) error {
	if a.cfg.Domain == "" {
		return errors.New("ACME domain is required")
	}
	if a.cfg.Email == "" {
		return errors.New("ACME email is required")
	}
	if err := os.MkdirAll(a.cfg.StorageDir, 0o700); err != nil {
		return fmt.Errorf("failed to create ACME storage dir: %w", err)
	}

	if cert, err := cryptotls.LoadX509KeyPair(a.path(certFile), a.path(keyFile)); err == nil {
		a.setCert(&cert)
		a.logger.Info("loaded existing ACME certificate", "domain", a.cfg.Domain)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	a.logger.Info("no stored certificate, contacting ACME server", "domain", a.cfg.Domain)
	acct, err := a.loadAccount()
	if err != nil {
		return err
	}

	lc := lego.NewConfig(acct)
	lc.CADirURL = a.directory()
	lc.Certificate.KeyType = certcrypto.EC256
	if a.rootCAs != nil {
		lc.HTTPClient = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &cryptotls.Config{RootCAs: a.rootCAs, MinVersion: cryptotls.VersionTLS12},
			},
		}
	}

	client, err := lego.NewClient(lc)
	if err != nil {
		return fmt.Errorf("failed to create ACME client: %w", err)
	}
	if err := client.Challenge.SetHTTP01Provider(a.provider); err != nil {
		return fmt.Errorf("failed to set HTTP-01 provider: %w", err)
	}

	if acct.Registration == nil {
		reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			return fmt.Errorf("failed to register ACME account: %w", err)
		}
		acct.Registration = reg
		if err := a.saveAccount(acct); err != nil {
			a.logger.Warn("failed to persist ACME account", "error", err)
		}
	}

	res, err := client.Certificate.Obtain(certificate.ObtainRequest{
		Domains: []string{a.cfg.Domain},
		Bundle:  true,
	})
	if err != nil {
		return fmt.Errorf("failed to obtain certificate: %w", err)
	}
	cert, err := cryptotls.X509KeyPair(res.Certificate, res.PrivateKey)
	if err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}
	if err := os.WriteFile(a.path(certFile), res.Certificate, 0o644); err != nil {
		return fmt.Errorf("failed to save certificate: %w", err)
	}
	if err := os.WriteFile(a.path(keyFile), res.PrivateKey, 0o600); err != nil {
		return fmt.Errorf("failed to save key: %w", err)
	}
	a.setCert(&cert)

	a.logger.Info("obtained ACME certificate", "domain", a.cfg.Domain, "cert_file", a.path(certFile))
	return nil
}

// TLSConfig serves the current certificate.
func (a *ACME) TLSConfig() *cryptotls.Config {
	return &cryptotls.Config{
		GetCertificate: func(*cryptotls.ClientHelloInfo) (*cryptotls.Certificate, error) {
			a.mu.RLock()
			defer a.mu.RUnlock()
			if a.cert == nil {
				return nil, errors.New("no certificate available")
			}
			return a.cert, nil
		},
		MinVersion: cryptotls.VersionTLS12,
	}
}

// ChallengeHandler answers /.well-known/acme-challenge/{token}.
func (a *ACME) ChallengeHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.URL.Path, challengePrefix)
		if !ok || token == "" || strings.Contains(token, "/") {
			http.NotFound(w, r)
			return
		}
		keyAuth, found := a.provider.lookup(token)
		if !found {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(keyAuth))
	})
}

func (a *ACME) setCert(c *cryptotls.Certificate) {
	a.mu.Lock()
	a.cert = c
	a.mu.Unlock()
}

func (a *ACME) path(name string) string {
	return filepath.Join(a.cfg.StorageDir, name)
}

func (a *ACME) directory() string {
	switch {
	case a.cfg.Directory != "":
		return a.cfg.Directory
	case a.cfg.UseStaging:
		return letsEncryptStaging
	default:
		return letsEncryptProduction
	}
}

// loadAccount returns the stored account, or a fresh unregistered one when
// nothing usable is stored.
func (a *ACME) loadAccount() (*account, error) {
	data, errData := os.ReadFile(a.path(accountFile))
	keyPEM, errKey := os.ReadFile(a.path(accountKey))
	if errData == nil && errKey == nil {
		acct := &account{}
		if err := json.Unmarshal(data, acct); err == nil {
			if key, err := certcrypto.ParsePEMPrivateKey(keyPEM); err == nil {
				acct.key = key
				return acct, nil
			}
		}
		a.logger.Warn("stored ACME account unreadable, registering a new one")
	}

	key, err := certcrypto.GeneratePrivateKey(certcrypto.EC256)
	if err != nil {
		return nil, fmt.Errorf("failed to generate account key: %w", err)
	}
	return &account{Email: a.cfg.Email, key: key}, nil
}

func (a *ACME) saveAccount(acct *account) error {
	data, err := json.MarshalIndent(acct, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(a.path(accountFile), data, 0o600); err != nil {
		return err
	}
	return os.WriteFile(a.path(accountKey), certcrypto.PEMEncode(acct.key), 0o600)
}
