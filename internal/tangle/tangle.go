// Package tangle validates the IOTA Tangle identifiers handled by the
// market: bech32 wallet addresses and payment message ids.
//
// Message ids are opaque to the market. Their solidity is decided by an
// external explorer and only recorded here.
package tangle

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// Human-readable parts accepted for addresses (mainnet and testnet of the
// IOTA and Shimmer networks).
const (
	HRPIota        = "iota"
	HRPIotaTest    = "atoi"
	HRPShimmer     = "smr"
	HRPShimmerTest = "rms"
)

var validHRPs = map[string]bool{
	HRPIota:        true,
	HRPIotaTest:    true,
	HRPShimmer:     true,
	HRPShimmerTest: true,
}

// Address kinds, encoded in the first payload byte.
const (
	KindEd25519 byte = 0
	KindAlias   byte = 8
	KindNFT     byte = 16
)

// MaxMessageIDLen bounds the length of a payment reference.
const MaxMessageIDLen = 128

var (
	ErrInvalidAddress   = errors.New("tangle: invalid address")
	ErrInvalidMessageID = errors.New("tangle: invalid message id")
)

// Address is a decoded IOTA address.
type Address struct {
	Bech32 string `json:"bech32"`
	HRP    string `json:"hrp"`
	Kind   byte   `json:"kind"`
	Hash   []byte `json:"-"`
}

// ParseAddress decodes and validates a bech32 IOTA address.
// Format: {hrp}1{data}{checksum}, payload = kind byte + 32 byte hash.
func ParseAddress(s string) (*Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	hrp, data, err := bech32.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAddress, s, err)
	}
	if !validHRPs[hrp] {
		return nil, fmt.Errorf("%w: unknown network prefix %q", ErrInvalidAddress, hrp)
	}
	payload, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAddress, s, err)
	}
	if len(payload) != 33 {
		return nil, fmt.Errorf("%w: payload length %d", ErrInvalidAddress, len(payload))
	}
	switch payload[0] {
	case KindEd25519, KindAlias, KindNFT:
	default:
		return nil, fmt.Errorf("%w: unknown address kind %d", ErrInvalidAddress, payload[0])
	}
	return &Address{
		Bech32: strings.ToLower(s),
		HRP:    hrp,
		Kind:   payload[0],
		Hash:   payload[1:],
	}, nil
}

// ParseMessageID normalizes a payment reference: trimmed, non-empty,
// bounded and free of whitespace.
func ParseMessageID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidMessageID)
	}
	if len(s) > MaxMessageIDLen {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidMessageID, MaxMessageIDLen)
	}
	if strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return "", fmt.Errorf("%w: contains whitespace", ErrInvalidMessageID)
	}
	return s, nil
}
