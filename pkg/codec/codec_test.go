package codec

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestAddressRoundTrip(t *testing.T) {
	addrs := []common.Address{
		{},
		common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		common.HexToAddress("0xffffffffffffffffffffffffffffffffffffffff"),
	}
	for _, addr := range addrs {
		b := AddressToBytes32(addr)
		got, err := Bytes32ToAddress(b)
		if err != nil {
			t.Fatalf("Bytes32ToAddress(%s) error: %v", addr.Hex(), err)
		}
		if got != addr {
			t.Errorf("round trip mismatch: got %s, want %s", got.Hex(), addr.Hex())
		}
	}
}

func TestAddressEncodingMatchesHexPath(t *testing.T) {
	addr := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

	viaHex, err := AddressOrStringToBytes32(addr.Hex())
	if err != nil {
		t.Fatalf("AddressOrStringToBytes32 error: %v", err)
	}
	viaLower, err := AddressOrStringToBytes32(strings.ToLower(addr.Hex()))
	if err != nil {
		t.Fatalf("AddressOrStringToBytes32 error: %v", err)
	}
	if viaHex != AddressToBytes32(addr) || viaLower != viaHex {
		t.Errorf("address encodings diverge: %x / %x / %x", viaHex, viaLower, AddressToBytes32(addr))
	}
}

func TestBytes32ToAddressRejectsHighBytes(t *testing.T) {
	var b [32]byte
	b[0] = 1
	if _, err := Bytes32ToAddress(b); !errors.Is(err, ErrNotAnAddress) {
		t.Errorf("expected ErrNotAnAddress, got %v", err)
	}
}

func TestStringRoundTrip(t *testing.T) {
	cases := []string{
		"",
		"Moonbeam",
		"héllo wörld",
		strings.Repeat("a", 32),
		"🌍 universe",
	}
	for _, s := range cases {
		b, err := StringToBytes32(s)
		if err != nil {
			t.Fatalf("StringToBytes32(%q) error: %v", s, err)
		}
		if got := Bytes32ToString(b); got != s {
			t.Errorf("round trip mismatch: got %q, want %q", got, s)
		}
	}
}

func TestStringTooLong(t *testing.T) {
	_, err := StringToBytes32(strings.Repeat("a", 33))
	if !errors.Is(err, ErrValueTooLong) {
		t.Errorf("expected ErrValueTooLong, got %v", err)
	}
}

func TestStringIsLeftPadded(t *testing.T) {
	b, err := StringToBytes32("ab")
	if err != nil {
		t.Fatal(err)
	}
	if b[30] != 'a' || b[31] != 'b' || b[0] != 0 {
		t.Errorf("expected left padding, got %x", b)
	}
}

func TestTokenIDRoundTrip(t *testing.T) {
	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	cases := []struct {
		in   string
		want *big.Int
	}{
		{"0", big.NewInt(0)},
		{"1", big.NewInt(1)},
		{"42", big.NewInt(42)},
		{"0x2a", big.NewInt(42)},
		{" 7 ", big.NewInt(7)},
		{maxUint256.String(), maxUint256},
	}
	for _, tc := range cases {
		b, err := TokenIDToBytes32(tc.in)
		if err != nil {
			t.Fatalf("TokenIDToBytes32(%q) error: %v", tc.in, err)
		}
		if got := Bytes32ToNumber(b); got.Cmp(tc.want) != 0 {
			t.Errorf("TokenIDToBytes32(%q) decoded to %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestTokenIDEncodingIsMinimalAndPadded(t *testing.T) {
	b, err := NumberToBytes32(big.NewInt(0x0102))
	if err != nil {
		t.Fatal(err)
	}
	want := common.LeftPadBytes([]byte{0x01, 0x02}, 32)
	if string(b[:]) != string(want) {
		t.Errorf("got %x, want %x", b, want)
	}
}

func TestParseTokenIDRejectsInvalid(t *testing.T) {
	tooBig := new(big.Int).Lsh(big.NewInt(1), 256).String()
	for _, in := range []string{"", "-1", "abc", "1.5", "0xzz", tooBig} {
		if _, err := ParseTokenID(in); !errors.Is(err, ErrInvalidTokenID) {
			t.Errorf("ParseTokenID(%q): expected ErrInvalidTokenID, got %v", in, err)
		}
	}
}

func TestNumberToBytes32RejectsNegative(t *testing.T) {
	if _, err := NumberToBytes32(big.NewInt(-1)); err == nil {
		t.Error("expected error for negative number")
	}
	if _, err := NumberToBytes32(nil); err == nil {
		t.Error("expected error for nil number")
	}
}

func TestHexToBytes32(t *testing.T) {
	b, err := HexToBytes32("0xabc")
	if err != nil {
		t.Fatal(err)
	}
	if b[30] != 0x0a || b[31] != 0xbc {
		t.Errorf("odd-length hex not left padded: %x", b)
	}
	if _, err := HexToBytes32("abc"); err == nil {
		t.Error("expected error for missing prefix")
	}
	if _, err := HexToBytes32("0x" + strings.Repeat("ff", 33)); !errors.Is(err, ErrValueTooLong) {
		t.Errorf("expected ErrValueTooLong, got %v", err)
	}
}

func TestUint64ToBytes32(t *testing.T) {
	b := Uint64ToBytes32(1700000000)
	if got := Bytes32ToNumber(b).Uint64(); got != 1700000000 {
		t.Errorf("got %d", got)
	}
}

func TestArrayToHexPreservesOrder(t *testing.T) {
	got := ArrayToHex([]string{"a", "bc", ""})
	want := []string{"0x61", "0x6263", "0x"}
	if len(got) != len(want) {
		t.Fatalf("len %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestCheckUniverseID(t *testing.T) {
	for _, id := range []string{"0x01", "0X2a", "moonbase", "ethereum-mainnet"} {
		if err := CheckUniverseID(id); err != nil {
			t.Errorf("%q: unexpected error %v", id, err)
		}
	}
	for _, id := range []string{"", "0x", "0xmoon", "\x00moon", strings.Repeat("u", 33), "0x" + strings.Repeat("ff", 33)} {
		if err := CheckUniverseID(id); !errors.Is(err, ErrInvalidUniverseID) {
			t.Errorf("%q: expected ErrInvalidUniverseID, got %v", id, err)
		}
	}
}

func TestLeadingNULDoesNotRoundTrip(t *testing.T) {
	b, err := StringToBytes32("\x00moon")
	if err != nil {
		t.Fatal(err)
	}
	if got := Bytes32ToString(b); got != "moon" {
		t.Errorf("expected leading NUL to be taken as padding, got %q", got)
	}
	if _, err := AddressOrStringToBytes32("0xmoon"); err == nil {
		t.Error("0x-prefixed values are hex only")
	}
}
