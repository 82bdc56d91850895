// Package storetest runs the same behavioural checks against every store driver.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Monas-project/Prot-Prototype/internal/components/shareerr"
	"github.com/Monas-project/Prot-Prototype/internal/components/store"
)

const (
	Alice = "eip155:11155111:0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	Bob   = "eip155:11155111:0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"
	Carol = "0xcccccccccccccccccccccccccccccccccccccccc"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// TestMessage builds a message from Alice to Bob at t0 plus offset.
func TestMessage(id string, offset time.Duration) *store.Message {
	return &store.Message{
		ID:        id,
		Sender:    Alice,
		Receiver:  Bob,
		Content:   "h1 cid1 " + id,
		FileHash:  "h1",
		Timestamp: t0.Add(offset),
	}
}

// RunDriverTests exercises d, which must be initialized and empty.
func RunDriverTests(t *testing.T, d store.Driver) {
	t.Helper()
	ctx := context.Background()

	t.Run("Empty", func(t *testing.T) {
		got, err := d.ByReceiver(ctx, Bob)
		if err != nil {
			t.Fatalf("ByReceiver() error = %v", err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("expected empty non-nil slice, got %#v", got)
		}
	})

	t.Run("CreateAndList", func(t *testing.T) {
		for _, m := range []*store.Message{
			TestMessage("m2", 2*time.Minute),
			TestMessage("m1", time.Minute),
			{ID: "m3", Sender: Carol, Receiver: Bob, Content: "hello", Timestamp: t0},
			{ID: "m4", Sender: Bob, Receiver: Alice, Content: "reply", Timestamp: t0},
		} {
			if err := d.Create(ctx, m); err != nil {
				t.Fatalf("Create(%s) error = %v", m.ID, err)
			}
		}

		got, err := d.ByReceiver(ctx, "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
		if err != nil {
			t.Fatalf("ByReceiver() error = %v", err)
		}
		wantIDs := []string{"m3", "m1", "m2"}
		if len(got) != len(wantIDs) {
			t.Fatalf("ByReceiver() returned %d messages, want %d", len(got), len(wantIDs))
		}
		for i, id := range wantIDs {
			if got[i].ID != id {
				t.Errorf("ByReceiver()[%d] = %s, want %s", i, got[i].ID, id)
			}
		}
		if got[1].Sender != Alice || got[1].Content != "h1 cid1 m1" || !got[1].Timestamp.Equal(t0.Add(time.Minute)) {
			t.Errorf("message not round-tripped: %+v", got[1])
		}

		sent, err := d.BySender(ctx, Alice)
		if err != nil {
			t.Fatalf("BySender() error = %v", err)
		}
		if len(sent) != 2 {
			t.Errorf("BySender() returned %d messages, want 2", len(sent))
		}
	})

	t.Run("Duplicate", func(t *testing.T) {
		err := d.Create(ctx, TestMessage("m1", 0))
		if !errors.Is(err, store.ErrAlreadyExists) {
			t.Errorf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		err := d.Create(ctx, &store.Message{ID: "x", Sender: "nobody", Receiver: Bob, Content: "c", Timestamp: t0})
		if !errors.Is(err, shareerr.ErrInvalidAddressFormat) {
			t.Errorf("expected ErrInvalidAddressFormat, got %v", err)
		}
		err = d.Create(ctx, &store.Message{ID: "y", Sender: Alice, Receiver: Bob, Timestamp: t0})
		if !errors.Is(err, store.ErrInvalid) {
			t.Errorf("expected ErrInvalid for empty content, got %v", err)
		}
		if _, err := d.ByReceiver(ctx, "bob"); !errors.Is(err, shareerr.ErrInvalidAddressFormat) {
			t.Errorf("expected ErrInvalidAddressFormat from lookup, got %v", err)
		}
	})
}
