package wallet

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/mr-tron/base58"
)

var (
	ErrAddressInvalidLength   = errors.New("address of invalid length")
	ErrAddressChecksum        = errors.New("address checksum is not equal")
	ErrAddressVersion         = errors.New("address version is not supported")
	ErrPublicKeyInvalid       = errors.New("public key is not a valid ed25519 key")
	ErrSignatureInvalid       = errors.New("message signature isn't valid")
	ErrSignatureInvalidLength = errors.New("signature of invalid length")
)

// Helper provides wallet helper functionalities without knowing about wallet private and public keys.
type Helper struct{}

// NewVerifier creates new wallet Helper verifier.
func NewVerifier() Helper {
	return Helper{}
}

// AddressToPubKeyHash decodes the public key hash from the address, or returns error otherwise.
func (h Helper) AddressToPubKeyHash(address string) ([PubKeyHashLength]byte, error) {
	var pkh [PubKeyHashLength]byte
	raw, err := base58.Decode(address)
	if err != nil {
		return pkh, err
	}
	if len(raw) != 1+PubKeyHashLength+checksumLength {
		return pkh, ErrAddressInvalidLength
	}
	if raw[0] != version {
		return pkh, ErrAddressVersion
	}
	actualChecksum := raw[len(raw)-checksumLength:]
	payload := raw[:len(raw)-checksumLength]
	if !bytes.Equal(actualChecksum, checksum(payload)) {
		return pkh, ErrAddressChecksum
	}
	copy(pkh[:], payload[1:])
	return pkh, nil
}

// ValidateAddress checks if address is well formed.
func (h Helper) ValidateAddress(address string) error {
	_, err := h.AddressToPubKeyHash(address)
	return err
}

// ParsePublicKeyHex decodes hex encoded ed25519 public key, 0x prefix is allowed.
func (h Helper) ParsePublicKeyHex(s string) (ed25519.PublicKey, error) {
	raw, err := decodeHex(s)
	if err != nil {
		return nil, errors.Join(ErrPublicKeyInvalid, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, ErrPublicKeyInvalid
	}
	return ed25519.PublicKey(raw), nil
}

// PubKeyHashHex returns public key hash of the hex encoded public key.
func (h Helper) PubKeyHashHex(s string) ([PubKeyHashLength]byte, error) {
	pub, err := h.ParsePublicKeyHex(s)
	if err != nil {
		return [PubKeyHashLength]byte{}, err
	}
	return PubKeyHash(pub), nil
}

// OwnsAddress checks if hex encoded public key hashes to the public key hash bound to the address.
func (h Helper) OwnsAddress(publicKeyHex, address string) (bool, error) {
	want, err := h.AddressToPubKeyHash(address)
	if err != nil {
		return false, err
	}
	got, err := h.PubKeyHashHex(publicKeyHex)
	if err != nil {
		return false, err
	}
	return want == got, nil
}

// VerifyHex verifies that hex encoded signature is a valid ed25519 signature of the message
// under the hex encoded public key.
func (h Helper) VerifyHex(message []byte, signatureHex, publicKeyHex string) error {
	pub, err := h.ParsePublicKeyHex(publicKeyHex)
	if err != nil {
		return err
	}
	sig, err := decodeHex(signatureHex)
	if err != nil {
		return errors.Join(ErrSignatureInvalid, err)
	}
	if len(sig) != ed25519.SignatureSize {
		return ErrSignatureInvalidLength
	}
	if !ed25519.Verify(pub, message, sig) {
		return ErrSignatureInvalid
	}
	return nil
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
}
