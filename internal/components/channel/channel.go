// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 Monas Authors

// Package channel is a client for the decentralized push-notification
// network used to tell a recipient that a file was shared with them.
//
// The channel is treated as a capability set: Initialize a Session under a
// signer, then Send targeted notifications or List a user's feed. Delivery is
// at-most-once and best-effort ordered; nothing here assumes more.
package channel

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrRejected means the channel answered but refused the request.
	ErrRejected = errors.New("channel rejected request")

	// ErrUnreachable means the channel could not be contacted.
	ErrUnreachable = errors.New("channel unreachable")

	// ErrUnknownEnvironment is returned for an unrecognized network tier.
	ErrUnknownEnvironment = errors.New("unknown channel environment")

	// ErrUnsupportedChain is returned when the signer's chain has no
	// channel source mapping.
	ErrUnsupportedChain = errors.New("unsupported channel chain")

	// ErrAudience is returned unless exactly one recipient is given.
	ErrAudience = errors.New("notification must target exactly one recipient")

	// ErrSessionClosed is returned when a closed session is used.
	ErrSessionClosed = errors.New("channel session closed")
)

// Env is the network tier the channel connects to.
type Env string

const (
	EnvProd    Env = "prod"
	EnvStaging Env = "staging"
	EnvDev     Env = "dev"
)

var envBaseURLs = map[Env]string{
	EnvProd:    "https://backend.epns.io/apis",
	EnvStaging: "https://backend-staging.epns.io/apis",
	EnvDev:     "https://backend-dev.epns.io/apis",
}

// ValidEnvs lists accepted environment names.
var ValidEnvs = []string{string(EnvProd), string(EnvStaging), string(EnvDev)}

// ParseEnv accepts prod, staging or dev (case-insensitive).
func ParseEnv(s string) (Env, error) {
	e := Env(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := envBaseURLs[e]; !ok {
		return "", fmt.Errorf("%w: %q (valid: %s)", ErrUnknownEnvironment, s, strings.Join(ValidEnvs, ", "))
	}
	return e, nil
}

// BaseURL returns the REST base for the environment.
func (e Env) BaseURL() string {
	return envBaseURLs[e]
}

// chainSources maps chain IDs to the channel's source identifiers.
var chainSources = map[int64]string{
	1:        "ETH_MAINNET",
	11155111: "ETH_TEST_SEPOLIA",
	137:      "POLYGON_MAINNET",
	80002:    "POLYGON_TEST_AMOY",
	56:       "BSC_MAINNET",
	97:       "BSC_TESTNET",
	10:       "OPTIMISM_MAINNET",
	11155420: "OPTIMISM_TESTNET",
	42161:    "ARBITRUM_ONE",
	421614:   "ARBITRUM_TESTNET",
}

// Signer authenticates channel operations. Account is the signer's
// chain-qualified identity; SignText produces an EIP-191 signature.
type Signer interface {
	Account() string
	SignText(data []byte) ([]byte, error)
}

// Notification is the visible part of a message.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Receipt acknowledges an accepted submission.
type Receipt struct {
	ID string
}

// Folder selects a feed view.
type Folder string

const (
	FolderInbox Folder = "INBOX"
	FolderSpam  Folder = "SPAM"
)

// Entry is one raw item from a user's feed.
type Entry struct {
	ID        string
	Sender    string // channel identity that sent it
	Title     string
	Body      string
	Timestamp time.Time
}
