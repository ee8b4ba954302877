package receipt

import (
	"bytes"
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	ErrTypeInvalidHash      = "invalid-receipt-hash"
	ErrTypeInvalidSignature = "invalid-receipt-signature"
	ErrTypeSignerMismatch   = "receipt-signer-mismatch"
	ErrTypeOutputMismatch   = "receipt-output-mismatch"
	ErrTypeInvalidKey       = "invalid-private-key"
)

// Payload is a signed proof that a segmentation produced a given output.
type Payload struct {
	// The signed statement, "<segmentation id>:<output hash>".
	Receipt string `json:"receipt"`

	// The Keccak256 hash of Receipt.
	Hash hexutil.Bytes `json:"hash"`

	// The secp256k1 signature of Hash.
	Signature hexutil.Bytes `json:"signature"`

	// The address of the signing wallet.
	Address string `json:"address"`
}

// Signer signs segmentation outputs with a server wallet.
type Signer struct {
	PrivateKey *ecdsa.PrivateKey
}

// NewEphemeralSigner returns a signer backed by a freshly generated key.
func NewEphemeralSigner() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.New("generating private key failed").
			WithType(ErrTypeInvalidKey).
			Wrap(err)
	}
	return &Signer{PrivateKey: key}, nil
}

// Address returns the lowercase hex address of the signing wallet.
func (s *Signer) Address() string {
	return strings.ToLower(crypto.PubkeyToAddress(s.PrivateKey.PublicKey).Hex())
}

// Sign returns a receipt binding a segmentation id to its output.
func (s *Signer) Sign(id string, output []byte) (Payload, error) {
	receipt := Statement(id, output)
	hash := crypto.Keccak256Hash([]byte(receipt))

	sig, err := crypto.Sign(hash.Bytes(), s.PrivateKey)
	if err != nil {
		instrumentSignError(err)
		return Payload{}, errors.New("signing receipt failed").
			WithType(ErrTypeInvalidSignature).
			WithTag("id", id).
			Wrap(err)
	}

	instrumentSign()
	return Payload{
		Receipt:   receipt,
		Hash:      hash.Bytes(),
		Signature: sig,
		Address:   s.Address(),
	}, nil
}

// Statement returns the text signed for a segmentation output.
func Statement(id string, output []byte) string {
	return fmt.Sprintf("%s:%x", id, crypto.Keccak256(output))
}

// VerifyPayload checks that a payload hash matches its receipt and that the
// signature was produced by the wallet named in the payload.
func VerifyPayload(payload Payload) error {
	return instrumentReceiptVerification(func() error {
		hash := crypto.Keccak256Hash([]byte(payload.Receipt))
		if !bytes.Equal(hash.Bytes(), payload.Hash) {
			return errors.New("failed to verify receipt hash").
				WithType(ErrTypeInvalidHash)
		}

		pub, err := crypto.SigToPub(payload.Hash, payload.Signature)
		if err != nil {
			return errors.New("failed to verify signature").
				WithType(ErrTypeInvalidSignature).
				Wrap(err)
		}

		addr := strings.ToLower(crypto.PubkeyToAddress(*pub).Hex())
		if addr != strings.ToLower(payload.Address) {
			return errors.New("receipt was not signed by the given address").
				WithType(ErrTypeSignerMismatch).
				WithTag("address", payload.Address).
				WithTag("signer", addr)
		}
		return nil
	})
}

// VerifyOutput checks a payload and that it covers the given output.
func VerifyOutput(payload Payload, id string, output []byte) error {
	if err := VerifyPayload(payload); err != nil {
		return err
	}
	if payload.Receipt != Statement(id, output) {
		return errors.New("receipt does not match output").
			WithType(ErrTypeOutputMismatch).
			WithTag("id", id)
	}
	return nil
}

// LoadPrivateKey parses a hex encoded private key, read from file when a file
// name is given.
func LoadPrivateKey(privateKey, file string) (*ecdsa.PrivateKey, error) {
	if len(file) != 0 {
		privateKeyBytes, err := os.ReadFile(file)
		if err != nil {
			return nil, errors.New("error loading private key from file").
				WithType(ErrTypeInvalidKey).
				WithTag("file_name", file).
				Wrap(err)
		}
		privateKey = string(privateKeyBytes)
	}

	privateKey = strings.TrimPrefix(strings.TrimSpace(privateKey), "0x")
	if len(privateKey) == 0 {
		return nil, errors.New("private key is empty").
			WithType(ErrTypeInvalidKey)
	}

	key, err := crypto.HexToECDSA(privateKey)
	if err != nil {
		return nil, errors.New("parsing private key failed").
			WithType(ErrTypeInvalidKey).
			Wrap(err)
	}
	return key, nil
}
