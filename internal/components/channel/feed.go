package channel

import (
	"context"
)

// Feed lists a user's channel feed, opening a fresh session per call.
// Feeds are public on the channel, so listing needs no signer.
type Feed struct {
	client *Client
	env    Env
}

// NewFeed creates a feed over c for env.
func NewFeed(c *Client, env Env) *Feed {
	return &Feed{client: c, env: env}
}

// List returns the entries in recipient's folder through a read-only
// session that is closed before returning.
func (f *Feed) List(ctx context.Context, recipient string, folder Folder) ([]Entry, error) {
	sess, err := f.client.Initialize(ctx, nil, f.env)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	return sess.List(ctx, recipient, folder)
}
