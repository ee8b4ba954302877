package receipt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

func newTestSigner(t *testing.T) *Signer {
	s, err := NewEphemeralSigner()
	require.NoError(t, err)
	return s
}

func TestSignerSign(t *testing.T) {
	s := newTestSigner(t)
	output := []byte{1, 2, 3, 4}

	payload, err := s.Sign("seg-1", output)
	require.NoError(t, err)
	require.Equal(t, Statement("seg-1", output), payload.Receipt)
	require.Equal(t, s.Address(), payload.Address)
	require.Len(t, payload.Signature, 65)
	require.NoError(t, VerifyPayload(payload))
	require.NoError(t, VerifyOutput(payload, "seg-1", output))
}

func TestVerifyPayload(t *testing.T) {
	s := newTestSigner(t)

	t.Run("tampered receipt", func(t *testing.T) {
		payload, err := s.Sign("seg-1", []byte("out"))
		require.NoError(t, err)

		payload.Receipt = "seg-2" + payload.Receipt[5:]
		err = VerifyPayload(payload)
		require.Error(t, err)
		require.Equal(t, ErrTypeInvalidHash, errors.Type(err))
	})

	t.Run("junk signature", func(t *testing.T) {
		payload, err := s.Sign("seg-1", []byte("out"))
		require.NoError(t, err)

		payload.Signature = hexutil.Bytes{1, 2, 3}
		err = VerifyPayload(payload)
		require.Error(t, err)
		require.Equal(t, ErrTypeInvalidSignature, errors.Type(err))
	})

	t.Run("other signer", func(t *testing.T) {
		payload, err := s.Sign("seg-1", []byte("out"))
		require.NoError(t, err)

		payload.Address = newTestSigner(t).Address()
		err = VerifyPayload(payload)
		require.Error(t, err)
		require.Equal(t, ErrTypeSignerMismatch, errors.Type(err))
	})

	t.Run("other output", func(t *testing.T) {
		payload, err := s.Sign("seg-1", []byte("out"))
		require.NoError(t, err)

		err = VerifyOutput(payload, "seg-1", []byte("other"))
		require.Error(t, err)
		require.Equal(t, ErrTypeOutputMismatch, errors.Type(err))
	})

	t.Run("json round trip keeps the payload valid", func(t *testing.T) {
		payload, err := s.Sign("seg-1", []byte("out"))
		require.NoError(t, err)

		b, err := json.Marshal(payload)
		require.NoError(t, err)
		require.Contains(t, string(b), `"hash":"0x`)

		var decoded Payload
		require.NoError(t, json.Unmarshal(b, &decoded))
		require.NoError(t, VerifyPayload(decoded))
	})
}

func TestLoadPrivateKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hex := hexutil.Encode(crypto.FromECDSA(key))

	t.Run("from string", func(t *testing.T) {
		loaded, err := LoadPrivateKey(hex, "")
		require.NoError(t, err)
		require.True(t, key.Equal(loaded))
	})

	t.Run("from file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "key")
		require.NoError(t, os.WriteFile(file, []byte(hex+"\n"), 0600))

		loaded, err := LoadPrivateKey("", file)
		require.NoError(t, err)
		require.True(t, key.Equal(loaded))
	})

	t.Run("empty key", func(t *testing.T) {
		_, err := LoadPrivateKey("  ", "")
		require.Error(t, err)
		require.Equal(t, ErrTypeInvalidKey, errors.Type(err))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadPrivateKey("", filepath.Join(t.TempDir(), "nope"))
		require.Error(t, err)
		require.Equal(t, ErrTypeInvalidKey, errors.Type(err))
	})

	t.Run("junk key", func(t *testing.T) {
		_, err := LoadPrivateKey("0xzz", "")
		require.Error(t, err)
	})
}
