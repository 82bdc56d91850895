// Package tls builds the listener TLS configuration for the HTTP API:
// operator-supplied certificates, a persisted self-signed pair, or an ACME
// certificate obtained through lego (see acme.go).
package tls

import (
	"crypto"
	"crypto/rand"
	cryptotls "crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"

	"github.com/Monas-project/Prot-Prototype/internal/platform/config"
	"github.com/Monas-project/Prot-Prototype/internal/platform/logutil"
)

var (
	ErrInvalidTLSMode = errors.New("invalid TLS mode")
	ErrMissingCert    = errors.New("missing certificate or key file")

	// ErrACMEMode is returned by Manager.Config for mode acme, which is
	// served by ACME instead.
	ErrACMEMode = errors.New("tls.mode=acme is served by the ACME manager")
)

const (
	selfSignedCert     = "server.crt"
	selfSignedKey      = "server.key"
	defaultCertDir     = ".sharebox/certs"
	selfSignedLifetime = 365 * 24 * time.Hour
)

// Manager resolves the listener TLS configuration for the non-ACME modes.
type Manager struct {
	cfg    *config.TLSConfig
	logger *slog.Logger
}

// NewManager creates a Manager.
func NewManager(cfg *config.TLSConfig, logger *slog.Logger) *Manager {
	return &Manager{cfg: cfg, logger: logutil.NoopIfNil(logger)}
}

// Config returns the TLS config for the configured mode, or nil for "off".
// hostname names the self-signed certificate's subject.
func (m *Manager) Config(hostname string) (*cryptotls.Config, error) {
	switch m.cfg.Mode {
	case "off":
		return nil, nil
	case "static":
		if m.cfg.CertFile == "" || m.cfg.KeyFile == "" {
			return nil, ErrMissingCert
		}
		cert, err := cryptotls.LoadX509KeyPair(m.cfg.CertFile, m.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load certificate: %w", err)
		}
		m.logger.Info("loaded static TLS certificate", "cert_file", m.cfg.CertFile)
		return serverConfig(cert), nil
	case "selfsigned":
		cert, err := m.selfSigned(hostname)
		if err != nil {
			return nil, err
		}
		return serverConfig(cert), nil
	case "acme":
		return nil, ErrACMEMode
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidTLSMode, m.cfg.Mode)
	}
}

func serverConfig(cert cryptotls.Certificate) *cryptotls.Config {
	return &cryptotls.Config{
		Certificates: []cryptotls.Certificate{cert},
		MinVersion:   cryptotls.VersionTLS12,
	}
}

// selfSigned reuses the pair in the self-signed dir, generating one first
// when none loads.
func (m *Manager) selfSigned(hostname string) (cryptotls.Certificate, error) {
	dir := m.cfg.SelfSignedDir
	if dir == "" {
		dir = defaultCertDir
	}
	certFile := filepath.Join(dir, selfSignedCert)
	keyFile := filepath.Join(dir, selfSignedKey)

	if cert, err := cryptotls.LoadX509KeyPair(certFile, keyFile); err == nil {
		m.logger.Info("loaded existing self-signed certificate", "cert_file", certFile)
		return cert, nil
	}

	certPEM, keyPEM, notAfter, err := generateSelfSigned(hostname)
	if err != nil {
		return cryptotls.Certificate{}, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return cryptotls.Certificate{}, fmt.Errorf("failed to create cert directory: %w", err)
	}
	if err := os.WriteFile(certFile, certPEM, 0o644); err != nil {
		return cryptotls.Certificate{}, fmt.Errorf("failed to write certificate: %w", err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		return cryptotls.Certificate{}, fmt.Errorf("failed to write key: %w", err)
	}

	m.logger.Info("generated self-signed certificate",
		"hostname", hostname, "cert_file", certFile, "expires", notAfter)
	return cryptotls.X509KeyPair(certPEM, keyPEM)
}

// generateSelfSigned returns a PEM certificate and key valid for hostname
// and the loopback names.
func generateSelfSigned(hostname string) (certPEM, keyPEM []byte, notAfter time.Time, err error) {
	key, err := certcrypto.GeneratePrivateKey(certcrypto.EC256)
	if err != nil {
		return nil, nil, time.Time{}, fmt.Errorf("failed to generate key: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, nil, time.Time{}, errors.New("generated key cannot sign")
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, time.Time{}, fmt.Errorf("failed to generate serial: %w", err)
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"sharebox"}, CommonName: hostname},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(selfSignedLifetime),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	if ip := net.ParseIP(hostname); ip != nil {
		tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
	} else if hostname != "" && hostname != "localhost" {
		tmpl.DNSNames = append(tmpl.DNSNames, hostname)
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, signer.Public(), signer)
	if err != nil {
		return nil, nil, time.Time{}, fmt.Errorf("failed to create certificate: %w", err)
	}
	return certcrypto.PEMEncode(certcrypto.DERCertificateBytes(der)), certcrypto.PEMEncode(key), tmpl.NotAfter, nil
}
