package shares

import (
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
)

// Locator is a content-addressed file locator. When the raw string decodes
// as a CID it is kept alongside its canonical form; anything else is opaque.
type Locator struct {
	Raw string
	CID cid.Cid
}

// IsCID reports whether the locator decoded as a CID.
func (l Locator) IsCID() bool {
	return l.CID.Defined()
}

// Canonical returns the canonical CID string, or the raw value.
func (l Locator) Canonical() string {
	if l.IsCID() {
		return l.CID.String()
	}
	return l.Raw
}

// ParseLocator classifies s. Only an empty locator is an error.
func ParseLocator(s string) (Locator, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Locator{}, fmt.Errorf("%w: fileLocator is required", ErrInvalidRecord)
	}
	if strings.ContainsAny(s, "\r\n") {
		return Locator{}, fmt.Errorf("%w: fileLocator must be a single line", ErrInvalidRecord)
	}
	c, err := cid.Decode(s)
	if err != nil {
		return Locator{Raw: s}, nil
	}
	return Locator{Raw: s, CID: c}, nil
}
