package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"os"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

const (
	checksumLength = 4
	version        = byte(0x00)
)

// PubKeyHashLength is the length of the public key hash that binds the unlock condition of an output.
const PubKeyHashLength = blake2b.Size256

// Wallet holds public and private key of the wallet owner.
type Wallet struct {
	Private ed25519.PrivateKey `json:"private" bson:"private"`
	Public  ed25519.PublicKey  `json:"public"  bson:"public"`
}

// New tries to creates a new Wallet or returns error otherwise.
func New() (Wallet, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Wallet{}, err
	}
	return Wallet{Private: private, Public: public}, nil
}

// SaveToPem saves wallet private and public key to the PEM format file.
// Saved files are like in the example:
// - PRIVATE: "your/path/name"
// - PUBLIC: "your/path/name.pub"
func (w *Wallet) SaveToPem(filepath string) error {
	prv, err := x509.MarshalPKCS8PrivateKey(w.Private)
	if err != nil {
		return err
	}
	pub, err := x509.MarshalPKIXPublicKey(w.Public)
	if err != nil {
		return err
	}
	blockPrv := &pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: prv,
	}
	blockPub := &pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pub,
	}
	if err := os.WriteFile(filepath, pem.EncodeToMemory(blockPrv), 0600); err != nil {
		return err
	}
	if err := os.WriteFile(filepath+".pub", pem.EncodeToMemory(blockPub), 0644); err != nil {
		return err
	}
	return nil
}

// ReadFromPem creates Wallet from PEM format file.
// Uses both private and public key.
// Provide the path to a file without specifying the extension : <your/path/name".
func ReadFromPem(filepath string) (Wallet, error) {
	var w Wallet
	rawPub, err := os.ReadFile(filepath + ".pub")
	if err != nil {
		return w, err
	}
	rawPrv, err := os.ReadFile(filepath)
	if err != nil {
		return w, err
	}

	blockPub, _ := pem.Decode(rawPub)
	if blockPub == nil || blockPub.Type != "PUBLIC KEY" {
		return w, errors.New("cannot decode public key from PEM format")
	}
	pub, err := x509.ParsePKIXPublicKey(blockPub.Bytes)
	if err != nil {
		return w, err
	}
	blockPrv, _ := pem.Decode(rawPrv)
	if blockPrv == nil || blockPrv.Type != "PRIVATE KEY" {
		return w, errors.New("cannot decode private key from PEM format")
	}
	prv, err := x509.ParsePKCS8PrivateKey(blockPrv.Bytes)
	if err != nil {
		return w, err
	}
	var ok bool
	w.Public, ok = pub.(ed25519.PublicKey)
	if !ok {
		return w, errors.New("cannot cast x509 decoded parsed key to ed25519 public key")
	}
	w.Private, ok = prv.(ed25519.PrivateKey)
	if !ok {
		return w, errors.New("cannot cast x509 decoded parsed key to ed25519 private key")
	}
	return w, nil
}

// Address creates address from the public key hash that contains wallet version and checksum.
func (w *Wallet) Address() string {
	return AddressFromPubKeyHash(PubKeyHash(w.Public))
}

// PublicKeyHex returns hex encoded public key.
func (w *Wallet) PublicKeyHex() string {
	return hex.EncodeToString(w.Public)
}

// Sign signs the raw message with Ed25519 signature.
func (w *Wallet) Sign(message []byte) []byte {
	return ed25519.Sign(w.Private, message)
}

// SignHex signs the raw message and returns hex encoded signature.
func (w *Wallet) SignHex(message []byte) string {
	return hex.EncodeToString(w.Sign(message))
}

// PubKeyHash returns blake2b-256 hash of the public key.
func PubKeyHash(pub ed25519.PublicKey) [PubKeyHashLength]byte {
	return blake2b.Sum256(pub)
}

// AddressFromPubKeyHash encodes public key hash to the base58 address with version and checksum.
func AddressFromPubKeyHash(h [PubKeyHashLength]byte) string {
	vers := append([]byte{version}, h[:]...)
	full := append(vers, checksum(vers)...)
	return base58.Encode(full)
}

func checksum(payload []byte) []byte {
	firstHash := sha256.Sum256(payload)
	secondHash := sha256.Sum256(firstHash[:])

	return secondHash[:checksumLength]
}
