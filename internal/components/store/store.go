// Package store is the secondary message store: the system of record for
// share messages, read by the inbox and written by the registration surface.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Monas-project/Prot-Prototype/internal/components/address"
)

// Common errors for store operations.
var (
	ErrAlreadyExists = errors.New("already exists")
	ErrClosed        = errors.New("store closed")
	ErrInvalid       = errors.New("invalid message")
)

// Message is one stored share message.
// SenderKey and ReceiverKey hold the bare lower-case addresses used for lookup.
type Message struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	Sender      string    `json:"sender"`
	Receiver    string    `json:"receiver"`
	SenderKey   string    `json:"-" gorm:"index"`
	ReceiverKey string    `json:"-" gorm:"index"`
	Content     string    `json:"content"`
	FileHash    string    `json:"fileHash,omitempty"`
	Timestamp   time.Time `json:"timestamp" gorm:"index"`
}

// TableName pins the table name.
func (Message) TableName() string { return "messages" }

// Prepare validates m and fills in the lookup keys.
func (m *Message) Prepare() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalid)
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("%w: content is required", ErrInvalid)
	}
	if m.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrInvalid)
	}
	sk, err := address.Normalize(m.Sender)
	if err != nil {
		return fmt.Errorf("sender: %w", err)
	}
	rk, err := address.Normalize(m.Receiver)
	if err != nil {
		return fmt.Errorf("receiver: %w", err)
	}
	m.SenderKey, m.ReceiverKey = sk, rk
	m.Timestamp = m.Timestamp.UTC()
	return nil
}

// Store reads and writes messages. Implementations must be safe for
// concurrent use. Lookups accept bare or chain-qualified addresses and
// return messages oldest first.
type Store interface {
	ByReceiver(ctx context.Context, addr string) ([]Message, error)
	BySender(ctx context.Context, addr string) ([]Message, error)
	Create(ctx context.Context, m *Message) error
}

// Driver is a Store backend with a lifecycle.
type Driver interface {
	Store

	// Init prepares the backend (open files, migrate tables).
	Init(ctx context.Context) error

	// Close releases resources held by the driver.
	Close() error

	// Name returns the driver name.
	Name() string
}

// LookupKey normalizes addr for a lookup.
func LookupKey(addr string) (string, error) {
	return address.Normalize(addr)
}
