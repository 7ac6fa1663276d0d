package tangle

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// encode builds a bech32 address from a kind byte and a 32 byte hash.
func encode(t *testing.T, hrp string, kind byte, fill byte) string {
	t.Helper()
	payload := append([]byte{kind}, bytes.Repeat([]byte{fill}, 32)...)
	conv, err := bech32.ConvertBits(payload, 8, 5, true)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	s, err := bech32.Encode(hrp, conv)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return s
}

func TestParseAddress_Valid(t *testing.T) {
	for _, hrp := range []string{HRPIota, HRPIotaTest, HRPShimmer, HRPShimmerTest} {
		s := encode(t, hrp, KindEd25519, 0xab)
		a, err := ParseAddress(s)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", hrp, err)
		}
		if a.HRP != hrp {
			t.Errorf("expected hrp=%s, got %s", hrp, a.HRP)
		}
		if a.Kind != KindEd25519 {
			t.Errorf("expected ed25519 kind, got %d", a.Kind)
		}
		if !bytes.Equal(a.Hash, bytes.Repeat([]byte{0xab}, 32)) {
			t.Errorf("hash mismatch: %x", a.Hash)
		}
	}
}

func TestParseAddress_AliasAndNFT(t *testing.T) {
	for _, kind := range []byte{KindAlias, KindNFT} {
		if _, err := ParseAddress(encode(t, HRPIota, kind, 1)); err != nil {
			t.Errorf("kind %d: unexpected error: %v", kind, err)
		}
	}
}

func TestParseAddress_Invalid(t *testing.T) {
	good := encode(t, HRPIota, KindEd25519, 7)
	tests := []string{
		"",
		"   ",
		"not-an-address",
		good[:len(good)-1] + flip(good[len(good)-1]), // checksum
		encode(t, "bc", KindEd25519, 7),             // foreign network
		encode(t, HRPIota, 3, 7),                    // unknown kind
	}
	for _, s := range tests {
		_, err := ParseAddress(s)
		if !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("expected ErrInvalidAddress for %q, got %v", s, err)
		}
	}
}

func TestParseAddress_ShortPayload(t *testing.T) {
	conv, _ := bech32.ConvertBits([]byte{0, 1, 2, 3}, 8, 5, true)
	s, _ := bech32.Encode(HRPIota, conv)
	if _, err := ParseAddress(s); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestParseMessageID(t *testing.T) {
	id, err := ParseMessageID("  abc123 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "abc123" {
		t.Errorf("expected trimmed id, got %q", id)
	}

	bad := []string{"", "  ", "abc 123", "a\tb", strings.Repeat("f", MaxMessageIDLen+1)}
	for _, s := range bad {
		if _, err := ParseMessageID(s); !errors.Is(err, ErrInvalidMessageID) {
			t.Errorf("expected ErrInvalidMessageID for %q, got %v", s, err)
		}
	}
}

func flip(c byte) string {
	if c == 'q' {
		return "p"
	}
	return "q"
}
