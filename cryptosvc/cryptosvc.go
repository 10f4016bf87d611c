// Package cryptosvc implements IVXP's CryptoService: EIP-191 personal_sign
// over a held secp256k1 private key, and verification of signatures
// produced by any EVM wallet.
package cryptosvc

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ivxp-protocol/ivxp-go"
)

// addressHexLen is the length of a 0x-prefixed 20-byte hex address.
const addressHexLen = 42

// Service signs and verifies EIP-191 personal messages for a single held key.
type Service struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// New parses a hex-encoded 32-byte private key ("0x" + 64 hex chars) and
// returns a Service that signs and verifies on its behalf.
func New(privateKeyHex string) (*Service, error) {
	trimmed := strings.TrimPrefix(privateKeyHex, "0x")
	if !strings.HasPrefix(privateKeyHex, "0x") || len(trimmed) != 64 {
		return nil, ivxp.New(ivxp.ErrInvalidPrivateKey, "private key must be 0x followed by 64 hex characters")
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, ivxp.Wrap(ivxp.ErrInvalidPrivateKey, "invalid private key", err)
	}
	return &Service{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the checksummed 0x address derived from the held key.
func (s *Service) Address() string {
	return s.address.Hex()
}

// Sign produces an EIP-191 personal_sign signature over message: the
// "\x19Ethereum Signed Message:\n<len>" prefix is applied before hashing,
// then the hash is signed with the held secp256k1 key. The returned
// signature is 65 bytes (r, s, v) hex-encoded with a 0x prefix, v in {27,28}.
func (s *Service) Sign(message string) (string, error) {
	if message == "" {
		return "", ivxp.New(ivxp.ErrInvalidMessage, "message must not be empty")
	}
	digest := accounts.TextHash([]byte(message))
	sig, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", ivxp.Wrap(ivxp.ErrInvalidSignature, "failed to sign message", err)
	}
	sig[64] += 27
	return "0x" + common.Bytes2Hex(sig), nil
}

// Verify reports whether sig is a valid EIP-191 personal_sign signature of
// message recoverable to expectedAddress.
func (s *Service) Verify(message, sig, expectedAddress string) (bool, error) {
	if message == "" {
		return false, ivxp.New(ivxp.ErrInvalidMessage, "message must not be empty")
	}
	if !IsValidAddress(expectedAddress) {
		return false, ivxp.New(ivxp.ErrInvalidAddress, "expected address is not a well-formed 20-byte hex address")
	}
	sigBytes, err := hexToBytes(sig)
	if err != nil {
		return false, ivxp.Wrap(ivxp.ErrInvalidSignature, "signature is not valid hex", err)
	}
	if len(sigBytes) != 65 {
		return false, ivxp.New(ivxp.ErrInvalidSignature, "signature must be 65 bytes")
	}

	// crypto.SigToPub expects v in {0,1}; personal_sign signatures carry {27,28}.
	normalized := make([]byte, 65)
	copy(normalized, sigBytes)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	digest := accounts.TextHash([]byte(message))
	pubKey, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return false, nil
	}
	recovered := crypto.PubkeyToAddress(*pubKey)
	return strings.EqualFold(recovered.Hex(), expectedAddress), nil
}

// IsValidAddress reports whether addr is a "0x" + 40 hex character string.
func IsValidAddress(addr string) bool {
	if len(addr) != addressHexLen || !strings.HasPrefix(addr, "0x") {
		return false
	}
	return common.IsHexAddress(addr)
}

// IsZeroAddress reports whether addr is the all-zero EVM address.
func IsZeroAddress(addr string) bool {
	return IsValidAddress(addr) && common.HexToAddress(addr) == common.Address{}
}

func hexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string")
	}
	return common.FromHex("0x" + s), nil
}

// PaymentMessage builds the canonical IVXP payment-signing message, exact
// byte-for-byte format:
//
//	Order: {orderId} | Payment: {txHash} | Timestamp: {ISO-8601}
func PaymentMessage(orderID, txHash, timestamp string) string {
	return fmt.Sprintf("Order: %s | Payment: %s | Timestamp: %s", orderID, txHash, timestamp)
}

// ConfirmationMessage builds the canonical IVXP confirmation-signing
// message, exact byte-for-byte format:
//
//	Confirm delivery: {orderId} | Timestamp: {ISO-8601}
func ConfirmationMessage(orderID, timestamp string) string {
	return fmt.Sprintf("Confirm delivery: %s | Timestamp: %s", orderID, timestamp)
}
