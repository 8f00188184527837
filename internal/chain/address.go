package chain

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Keccak256 hashes the concatenation of data with legacy Keccak-256.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// ChecksumAddress renders a 20-byte address in EIP-55 mixed case.
func ChecksumAddress(addr []byte) string {
	lower := hex.EncodeToString(addr)
	hash := hex.EncodeToString(Keccak256([]byte(lower)))

	out := make([]byte, 0, 2+len(lower))
	out = append(out, '0', 'x')
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if c >= 'a' && c <= 'f' && hash[i] >= '8' {
			c -= 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

// ParseAddress decodes a 0x-prefixed 20-byte hex address.
func ParseAddress(s string) ([]byte, error) {
	b, err := decodeHex(s)
	if err != nil {
		return nil, fmt.Errorf("address %q: %w", s, err)
	}
	if len(b) != 20 {
		return nil, fmt.Errorf("address %q: want 20 bytes, got %d", s, len(b))
	}
	return b, nil
}

// AddressFromPublicKey derives the account address of an uncompressed
// secp256k1 public key (64 bytes, or 65 with the 0x04 prefix).
func AddressFromPublicKey(pub string) (string, error) {
	b, err := decodeHex(pub)
	if err != nil {
		return "", fmt.Errorf("public key: %w", err)
	}
	if len(b) == 65 && b[0] == 0x04 {
		b = b[1:]
	}
	if len(b) != 64 {
		return "", fmt.Errorf("public key: want 64 or 65 bytes uncompressed, got %d", len(b))
	}
	return ChecksumAddress(Keccak256(b)[12:]), nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

func encodeHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
