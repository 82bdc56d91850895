// Package address normalizes identities between the chain-qualified
// notification-channel format (CAIP-10, "eip155:<chainId>:<address>") and the
// bare ledger address format ("0x" followed by 40 hex digits).
// Comparison is case-insensitive after stripping any channel prefix.
package address

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Monas-project/Prot-Prototype/internal/components/shareerr"
)

// Namespace is the CAIP-2 namespace for EVM chains.
const Namespace = "eip155"

// Address is a parsed identity. ChainID is zero when the input was bare.
type Address struct {
	ChainID int64
	Raw     string // as given, without prefix
}

// Bare returns the lower-cased ledger address.
func (a Address) Bare() string {
	return strings.ToLower(a.Raw)
}

// Qualified reports whether the address carried a chain prefix.
func (a Address) Qualified() bool {
	return a.ChainID != 0
}

// Channel returns the chain-qualified form. For a bare address the
// fallback chain ID is used.
func (a Address) Channel(fallbackChainID int64) string {
	id := a.ChainID
	if id == 0 {
		id = fallbackChainID
	}
	return format(id, a.Raw)
}

func format(chainID int64, raw string) string {
	return Namespace + ":" + strconv.FormatInt(chainID, 10) + ":" + raw
}

// ToChannelAddress produces "eip155:<chainId>:<rawAddress>".
// The raw address is kept as given (checksum casing survives).
func ToChannelAddress(chainID int64, rawAddress string) (string, error) {
	if chainID <= 0 {
		return "", fmt.Errorf("%w: chain id must be positive, got %d", shareerr.ErrInvalidAddressFormat, chainID)
	}
	if err := validateRaw(rawAddress); err != nil {
		return "", err
	}
	return format(chainID, rawAddress), nil
}

// Parse accepts a bare or chain-qualified address.
func Parse(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Address{}, fmt.Errorf("%w: empty address", shareerr.ErrInvalidAddressFormat)
	}

	if !strings.Contains(s, ":") {
		if err := validateRaw(s); err != nil {
			return Address{}, err
		}
		return Address{Raw: s}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Address{}, fmt.Errorf("%w: expected %s:<chainId>:<address>, got %q", shareerr.ErrInvalidAddressFormat, Namespace, s)
	}
	if !strings.EqualFold(parts[0], Namespace) {
		return Address{}, fmt.Errorf("%w: unsupported namespace %q", shareerr.ErrInvalidAddressFormat, parts[0])
	}
	chainID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || chainID <= 0 {
		return Address{}, fmt.Errorf("%w: invalid chain id %q", shareerr.ErrInvalidAddressFormat, parts[1])
	}
	if err := validateRaw(parts[2]); err != nil {
		return Address{}, err
	}
	return Address{ChainID: chainID, Raw: parts[2]}, nil
}

// ParseChannel accepts only chain-qualified addresses.
func ParseChannel(s string) (Address, error) {
	a, err := Parse(s)
	if err != nil {
		return Address{}, err
	}
	if !a.Qualified() {
		return Address{}, fmt.Errorf("%w: %q is not a channel address", shareerr.ErrInvalidAddressFormat, s)
	}
	return a, nil
}

// Normalize returns the bare lower-cased address for s.
func Normalize(s string) (string, error) {
	a, err := Parse(s)
	if err != nil {
		return "", err
	}
	return a.Bare(), nil
}

// Strip removes any channel prefix without validating the remainder.
func Strip(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, ":"); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Equal compares two identities case-insensitively after stripping any
// channel prefix. The chain ID is not part of the identity.
func Equal(a, b string) bool {
	return strings.EqualFold(Strip(a), Strip(b))
}

// validateRaw checks the fixed-length hexadecimal shape. common.IsHexAddress
// also accepts a missing 0x prefix, which the channel format never does.
func validateRaw(raw string) error {
	if len(raw) != 2+2*common.AddressLength || !(strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X")) {
		return fmt.Errorf("%w: %q is not a 0x-prefixed 20-byte hex address", shareerr.ErrInvalidAddressFormat, raw)
	}
	if !common.IsHexAddress(raw) {
		return fmt.Errorf("%w: %q contains non-hex characters", shareerr.ErrInvalidAddressFormat, raw)
	}
	return nil
}

// Codec binds the helpers to a default chain, so bare addresses can be
// qualified for the channel.
type Codec struct {
	ChainID int64
}

// NewCodec creates a codec for the given default chain.
func NewCodec(chainID int64) *Codec {
	return &Codec{ChainID: chainID}
}

// ToChannelAddress qualifies any bare or qualified address. A qualified
// input keeps its own chain ID.
func (c *Codec) ToChannelAddress(s string) (string, error) {
	a, err := Parse(s)
	if err != nil {
		return "", err
	}
	if !a.Qualified() && c.ChainID <= 0 {
		return "", fmt.Errorf("%w: no chain id to qualify %q", shareerr.ErrInvalidAddressFormat, s)
	}
	return a.Channel(c.ChainID), nil
}

// Normalize returns the bare lower-cased form.
func (c *Codec) Normalize(s string) (string, error) {
	return Normalize(s)
}

// Equal compares two identities.
func (c *Codec) Equal(a, b string) bool {
	return Equal(a, b)
}
