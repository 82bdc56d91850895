// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 Monas Authors

// Package shares holds the share record produced by a ledger registration
// and the notification envelope derived from it.
package shares

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Monas-project/Prot-Prototype/internal/components/address"
	"github.com/Monas-project/Prot-Prototype/internal/platform/clock"
)

// ErrInvalidRecord is returned when a record is missing required fields.
var ErrInvalidRecord = errors.New("invalid share record")

// referenceNamespace seeds reference-key derivation.
var referenceNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:sharebox:share-reference"))

// Record is one registered share. The identifying fields never change after
// creation; a new registration produces a new record.
type Record struct {
	FileHash    string    `json:"fileHash"`
	FileLocator string    `json:"fileLocator"`
	Sender      string    `json:"sender"`
	Recipient   string    `json:"recipient"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Validate checks the record carries a hash, a locator and two well-formed
// identities. Identity errors wrap shareerr.ErrInvalidAddressFormat.
func (r Record) Validate() error {
	if strings.TrimSpace(r.FileHash) == "" {
		return fmt.Errorf("%w: fileHash is required", ErrInvalidRecord)
	}
	if _, err := ParseLocator(r.FileLocator); err != nil {
		return err
	}
	if _, err := address.Parse(r.Sender); err != nil {
		return fmt.Errorf("sender: %w", err)
	}
	if _, err := address.Parse(r.Recipient); err != nil {
		return fmt.Errorf("recipient: %w", err)
	}
	return nil
}

// ReferenceKey is a short key derived from the identifying fields. Equal
// records always yield the same key; identities are compared by their bare
// lower-case form so checksum casing and chain prefixes do not matter.
func (r Record) ReferenceKey() string {
	name := strings.Join([]string{
		strings.TrimSpace(r.FileHash),
		strings.TrimSpace(r.FileLocator),
		strings.ToLower(address.Strip(r.Sender)),
		strings.ToLower(address.Strip(r.Recipient)),
	}, "\n")
	id := uuid.NewSHA1(referenceNamespace, []byte(name))
	return strings.ReplaceAll(id.String(), "-", "")[:12]
}

// MonotonicClock stamps records so CreatedAt strictly increases per sender,
// even when the underlying clock stalls or steps backwards.
type MonotonicClock struct {
	clock clock.Clock

	mu   sync.Mutex
	last map[string]time.Time
}

// NewMonotonicClock wraps c. A nil c uses the real clock.
func NewMonotonicClock(c clock.Clock) *MonotonicClock {
	if c == nil {
		c = clock.Real{}
	}
	return &MonotonicClock{clock: c, last: make(map[string]time.Time)}
}

// Stamp returns the creation time for the next record from sender.
func (m *MonotonicClock) Stamp(sender string) time.Time {
	key := strings.ToLower(address.Strip(sender))
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.last[key]; ok && !now.After(prev) {
		now = prev.Add(time.Microsecond)
	}
	m.last[key] = now
	return now
}
