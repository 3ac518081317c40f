// Package codec converts addresses, strings and token ids into the fixed-width
// 32-byte fields the bridge contracts hash and verify, and back.
//
// Every value that ends up inside a signed or hashed payload must go through
// this package, on both the departure and the arrival side.
package codec

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
)

// Bytes32Len is the width of every canonical field.
const Bytes32Len = 32

var (
	// ErrValueTooLong is returned when the byte form of a value exceeds 32 bytes.
	ErrValueTooLong = errors.New("value does not fit in 32 bytes")
	// ErrInvalidTokenID is returned for token ids that are not unsigned 256-bit integers.
	ErrInvalidTokenID = errors.New("invalid token id")
	// ErrNotAnAddress is returned when a field carries data above the low 20 bytes.
	ErrNotAnAddress = errors.New("bytes32 value is not an address")
	// ErrInvalidUniverseID is returned for universe ids that do not encode to
	// a bytes32 field unambiguously.
	ErrInvalidUniverseID = errors.New("invalid universe id")
)

// AddressOrStringToBytes32 left-pads the underlying bytes of x to 32 bytes.
// A 0x-prefixed value is decoded as hex (addresses, hashes, hex universe ids);
// anything else is taken as its UTF-8 bytes. There is no fallback: a value
// such as "0xmoon" is an error, not the string. CheckUniverseID rejects such
// ids when the configuration is loaded.
func AddressOrStringToBytes32(x string) ([32]byte, error) {
	if has0xPrefix(x) {
		return HexToBytes32(x)
	}
	return StringToBytes32(x)
}

// HexToBytes32 decodes a 0x-prefixed hex string and left-pads it to 32 bytes.
// Odd-length input is accepted and treated as if it had a leading zero nibble.
func HexToBytes32(s string) ([32]byte, error) {
	var out [32]byte
	if !has0xPrefix(s) {
		return out, fmt.Errorf("hex value %q: missing 0x prefix", s)
	}
	digits := s[2:]
	if len(digits)%2 == 1 {
		digits = "0" + digits
	}
	raw, err := hexutil.Decode("0x" + digits)
	if err != nil {
		return out, fmt.Errorf("hex value %q: %w", s, err)
	}
	return leftPad(raw)
}

// StringToBytes32 left-pads the UTF-8 bytes of s to 32 bytes.
func StringToBytes32(s string) ([32]byte, error) {
	return leftPad([]byte(s))
}

// Bytes32ToString reverses StringToBytes32 by dropping the left padding.
// Padding is indistinguishable from leading NUL bytes, so a string that
// starts with NUL does not round-trip.
func Bytes32ToString(b [32]byte) string {
	i := 0
	for i < Bytes32Len && b[i] == 0 {
		i++
	}
	return string(b[i:])
}

// CheckUniverseID reports whether id can be put in a bytes32 field and read
// back unchanged. A 0x-prefixed id must be non-empty hex; any other id must
// not start with a NUL byte.
func CheckUniverseID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidUniverseID)
	case has0xPrefix(id):
		if len(id) == 2 {
			return fmt.Errorf("%w: %q has no hex digits", ErrInvalidUniverseID, id)
		}
		if _, err := HexToBytes32(id); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidUniverseID, err)
		}
	case id[0] == 0:
		return fmt.Errorf("%w: %q starts with a NUL byte", ErrInvalidUniverseID, id)
	default:
		if _, err := StringToBytes32(id); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidUniverseID, id, err)
		}
	}
	return nil
}

// AddressToBytes32 left-pads an address to 32 bytes.
func AddressToBytes32(addr common.Address) [32]byte {
	return common.BytesToHash(addr.Bytes())
}

// Bytes32ToAddress extracts an address from its left-padded form.
func Bytes32ToAddress(b [32]byte) (common.Address, error) {
	for _, v := range b[:Bytes32Len-common.AddressLength] {
		if v != 0 {
			return common.Address{}, ErrNotAnAddress
		}
	}
	return common.BytesToAddress(b[Bytes32Len-common.AddressLength:]), nil
}

// ParseTokenID parses a decimal or 0x-prefixed hex token id. It is the only
// place token ids coming from clients are turned into integers.
func ParseTokenID(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidTokenID)
	}
	n, ok := math.ParseBig256(s)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTokenID, s)
	}
	return n, nil
}

// NumberToBytes32 encodes an unsigned integer as its minimal big-endian bytes
// left-padded to 32 bytes.
func NumberToBytes32(n *big.Int) ([32]byte, error) {
	var out [32]byte
	if n == nil || n.Sign() < 0 {
		return out, fmt.Errorf("%w: negative or nil", ErrInvalidTokenID)
	}
	if n.BitLen() > 256 {
		return out, ErrValueTooLong
	}
	copy(out[:], math.PaddedBigBytes(n, Bytes32Len))
	return out, nil
}

// Bytes32ToNumber decodes a left-padded unsigned integer.
func Bytes32ToNumber(b [32]byte) *big.Int {
	return new(big.Int).SetBytes(b[:])
}

// TokenIDToBytes32 parses a client-supplied token id and encodes it.
func TokenIDToBytes32(s string) ([32]byte, error) {
	n, err := ParseTokenID(s)
	if err != nil {
		return [32]byte{}, err
	}
	return NumberToBytes32(n)
}

// Uint64ToBytes32 encodes block timestamps and other small counters.
func Uint64ToBytes32(v uint64) [32]byte {
	out, _ := NumberToBytes32(new(big.Int).SetUint64(v))
	return out
}

// ArrayToHex hex-encodes the bytes of every element, keeping order.
func ArrayToHex(xs []string) []string {
	out := make([]string, len(xs))
	for i, x := range xs {
		out[i] = hexutil.Encode([]byte(x))
	}
	return out
}

func leftPad(raw []byte) ([32]byte, error) {
	var out [32]byte
	if len(raw) > Bytes32Len {
		return out, fmt.Errorf("%w: %d bytes", ErrValueTooLong, len(raw))
	}
	copy(out[Bytes32Len-len(raw):], raw)
	return out, nil
}

func has0xPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}
