package ethereum

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidSignature is returned for signatures that are not 65 bytes or do not recover.
var ErrInvalidSignature = errors.New("invalid signature")

// Signer holds the relay key. Messages are signed with the personal_sign
// (EIP-191) prefix and a 27/28 recovery id, which is what the bridges recover.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner loads a hex encoded private key, with or without 0x prefix.
func NewSigner(hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to load private key: %w", err)
	}
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address returns the relay account.
func (s *Signer) Address() common.Address {
	return s.address
}

// PrivateKey exposes the key to the Balancer for transaction signing.
func (s *Signer) PrivateKey() *ecdsa.PrivateKey {
	return s.key
}

// SignMessage signs the prefixed hash of data.
func (s *Signer) SignMessage(data []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(data), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// HashMessage returns the EIP-191 hash of data.
func HashMessage(data []byte) common.Hash {
	return common.BytesToHash(accounts.TextHash(data))
}

// RecoverSigner returns the account that produced sig over data.
func RecoverSigner(data, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash(data), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignature reports whether sig over data was produced by expected.
func VerifySignature(data, sig []byte, expected common.Address) bool {
	addr, err := RecoverSigner(data, sig)
	if err != nil {
		return false
	}
	return addr == expected
}
