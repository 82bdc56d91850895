// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 Monas Authors

// Package signer derives the channel-scoped signing identity used to
// authenticate notification-channel operations.
//
// A Signer can only produce EIP-191 personal-sign signatures over channel
// payloads. It has no transaction-signing surface and must never be used as
// ledger-write authority.
package signer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/Monas-project/Prot-Prototype/internal/components/address"
	"github.com/Monas-project/Prot-Prototype/internal/components/shareerr"
	"github.com/Monas-project/Prot-Prototype/internal/platform/logutil"
)

// Detail errors. Each is returned wrapped together with shareerr.ErrSignerUnavailable
// so callers can tell a connection failure from a protocol failure.
var (
	ErrInvalidSecret       = errors.New("signer secret is missing or malformed")
	ErrEndpointUnreachable = errors.New("rpc endpoint unreachable")
	ErrHandshakeFailed     = errors.New("rpc handshake failed")
	ErrChainMismatch       = errors.New("rpc endpoint serves a different chain")
)

// Signer is a connected, channel-scoped signing identity.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID int64

	closeOnce sync.Once
	client    *ethclient.Client // nil for offline signers
}

// NewOffline builds a signer that is not backed by an RPC connection.
// Used where the chain is known without a handshake, for example in tests.
func NewOffline(key *ecdsa.PrivateKey, chainID int64) *Signer {
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
	}
}

// Address returns the EIP-55 checksummed address.
func (s *Signer) Address() string {
	return s.address.Hex()
}

// ChainID returns the chain confirmed during the handshake.
func (s *Signer) ChainID() int64 {
	return s.chainID
}

// Account returns the CAIP-10 channel identity of the signer.
func (s *Signer) Account() string {
	// The address is always well formed here, so the error is impossible.
	a, _ := address.ToChannelAddress(s.chainID, s.address.Hex())
	return a
}

// SignText signs data with the EIP-191 personal-message prefix.
// The recovery byte is shifted to 27/28 as wallets do.
func (s *Signer) SignText(data []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(data), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign payload: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// Close releases the RPC connection. Safe to call more than once.
func (s *Signer) Close() {
	s.closeOnce.Do(func() {
		if s.client != nil {
			s.client.Close()
		}
	})
}

// Source acquires a signer for one operation. The caller must Close it.
type Source interface {
	Acquire(ctx context.Context) (*Signer, error)
}

// Provisioner connects signers to an RPC endpoint.
// It holds no signer state; every Get opens its own connection.
type Provisioner struct {
	httpClient      *http.Client
	expectedChainID int64
	logger          *slog.Logger
}

// NewProvisioner creates a provisioner. httpClient may be nil to use the
// RPC library's default transport. expectedChainID of zero accepts any chain.
func NewProvisioner(httpClient *http.Client, expectedChainID int64, logger *slog.Logger) *Provisioner {
	return &Provisioner{
		httpClient:      httpClient,
		expectedChainID: expectedChainID,
		logger:          logutil.NoopIfNil(logger),
	}
}

// Get builds a signer from secret and completes the network handshake
// against rpcEndpoint before returning it. A signer that failed to connect
// is never returned.
func (p *Provisioner) Get(ctx context.Context, secret, rpcEndpoint string) (*Signer, error) {
	key, err := parseSecret(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shareerr.ErrSignerUnavailable, err)
	}
	if strings.TrimSpace(rpcEndpoint) == "" {
		return nil, fmt.Errorf("%w: %w: no rpc endpoint configured", shareerr.ErrSignerUnavailable, ErrEndpointUnreachable)
	}

	var opts []rpc.ClientOption
	if p.httpClient != nil {
		opts = append(opts, rpc.WithHTTPClient(p.httpClient))
	}
	rc, err := rpc.DialOptions(ctx, rpcEndpoint, opts...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, shareerr.Cancelled("signer dial", ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w: %v", shareerr.ErrSignerUnavailable, ErrEndpointUnreachable, err)
	}
	client := ethclient.NewClient(rc)

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		if ctx.Err() != nil {
			return nil, shareerr.Cancelled("signer handshake", ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", shareerr.ErrSignerUnavailable, classifyHandshake(err))
	}
	if !chainID.IsInt64() || chainID.Int64() <= 0 {
		client.Close()
		return nil, fmt.Errorf("%w: %w: chain id %s out of range", shareerr.ErrSignerUnavailable, ErrHandshakeFailed, chainID)
	}
	if p.expectedChainID != 0 && chainID.Int64() != p.expectedChainID {
		client.Close()
		return nil, fmt.Errorf("%w: %w: want %d, endpoint reports %d",
			shareerr.ErrSignerUnavailable, ErrChainMismatch, p.expectedChainID, chainID.Int64())
	}

	s := NewOffline(key, chainID.Int64())
	s.client = client

	p.logger.Debug("channel signer connected", "account", s.Account())
	return s, nil
}

// Bind fixes the secret and endpoint, returning a Source that provisions a
// fresh signer on each Acquire.
func (p *Provisioner) Bind(secret, rpcEndpoint string) *Bound {
	return &Bound{provisioner: p, secret: secret, endpoint: rpcEndpoint}
}

// Bound is a Provisioner with its configuration applied.
type Bound struct {
	provisioner *Provisioner
	secret      string
	endpoint    string
}

// Acquire implements Source.
func (b *Bound) Acquire(ctx context.Context) (*Signer, error) {
	return b.provisioner.Get(ctx, b.secret, b.endpoint)
}

// parseSecret accepts a hex secp256k1 private key with or without 0x.
func parseSecret(secret string) (*ecdsa.PrivateKey, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrInvalidSecret
	}
	secret = strings.TrimPrefix(strings.TrimPrefix(secret, "0x"), "0X")
	key, err := crypto.HexToECDSA(secret)
	if err != nil {
		// The library error may echo the input; do not wrap it.
		return nil, ErrInvalidSecret
	}
	return key, nil
}

// classifyHandshake separates protocol failures (the endpoint answered, but
// not with a usable chain id) from connection failures.
func classifyHandshake(err error) error {
	var rpcErr rpc.Error
	var httpErr rpc.HTTPError
	if errors.As(err, &rpcErr) || errors.As(err, &httpErr) {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	return fmt.Errorf("%w: %v", ErrEndpointUnreachable, err)
}
