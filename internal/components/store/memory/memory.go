// Package memory is an in-process message store. Contents are lost on exit.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/Monas-project/Prot-Prototype/internal/components/store"
)

func init() {
	store.Register("memory", func(map[string]any, *slog.Logger) (store.Driver, error) {
		return New(), nil
	})
}

// Driver keeps messages in memory.
type Driver struct {
	mu       sync.RWMutex
	messages map[string]store.Message
	closed   bool
}

// New creates an empty store.
func New() *Driver {
	return &Driver{messages: make(map[string]store.Message)}
}

func (d *Driver) Name() string                 { return "memory" }
func (d *Driver) Init(ctx context.Context) error { return nil }

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Create stores a copy of m.
func (d *Driver) Create(ctx context.Context, m *store.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.Prepare(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return store.ErrClosed
	}
	if _, ok := d.messages[m.ID]; ok {
		return store.ErrAlreadyExists
	}
	d.messages[m.ID] = *m
	return nil
}

func (d *Driver) ByReceiver(ctx context.Context, addr string) ([]store.Message, error) {
	return d.list(ctx, addr, func(m store.Message) string { return m.ReceiverKey })
}

func (d *Driver) BySender(ctx context.Context, addr string) ([]store.Message, error) {
	return d.list(ctx, addr, func(m store.Message) string { return m.SenderKey })
}

func (d *Driver) list(ctx context.Context, addr string, key func(store.Message) string) ([]store.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k, err := store.LookupKey(addr)
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, store.ErrClosed
	}

	out := []store.Message{}
	for _, m := range d.messages {
		if key(m) == k {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

var _ store.Driver = (*Driver)(nil)
