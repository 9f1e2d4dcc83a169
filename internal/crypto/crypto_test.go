package crypto

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSeedHex = "9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testSeedHex, "hunter2")
	require.NoError(t, err)
	assert.NotContains(t, string(blob), testSeedHex)

	key, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testSeedHex, hex.EncodeToString(key.Seed()))

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)
}

func TestLoadKey(t *testing.T) {
	key, err := LoadKey(KeyConfig{RawPrivateKey: testSeedHex})
	require.NoError(t, err)

	full, err := LoadKey(KeyConfig{RawPrivateKey: hex.EncodeToString(key)})
	require.NoError(t, err)
	assert.True(t, key.Equal(full), "64-byte form resolves to the same key")

	blob, err := EncryptKey(testSeedHex, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "wallet.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	fromFile, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.True(t, key.Equal(fromFile))

	_, err = LoadKey(KeyConfig{})
	assert.Error(t, err)
	_, err = LoadKey(KeyConfig{RawPrivateKey: "abcd"})
	assert.Error(t, err)
	_, err = LoadKey(KeyConfig{RawPrivateKey: "zz"})
	assert.Error(t, err)
}

func TestSignerRequestHeaders(t *testing.T) {
	key, err := LoadKey(KeyConfig{RawPrivateKey: testSeedHex})
	require.NoError(t, err)
	s, err := NewSigner(key)
	require.NoError(t, err)

	body := []byte(`{"amount":"1.5"}`)
	h := s.RequestHeadersAt("POST", "/swap", body, 1700000000)

	assert.Equal(t, "1700000000", h["X-Wallet-Timestamp"])
	assert.Equal(t, s.PublicKeyHex(), h["X-Wallet-Pubkey"])

	pub := key.Public().(ed25519.PublicKey)
	assert.True(t, Verify(pub, []byte("1700000000POST/swap"+string(body)), h["X-Wallet-Signature"]))
	assert.False(t, Verify(pub, []byte("1700000001POST/swap"+string(body)), h["X-Wallet-Signature"]))

	_, err = NewSigner(ed25519.PrivateKey("short"))
	assert.Error(t, err)
}

func TestHMACHeaders(t *testing.T) {
	auth := &HMACAuth{Key: "key-1", Secret: "s3cret"}
	h := auth.HeadersAt("POST", "/swap", `{"a":1}`, 42)

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write([]byte(`42POST/swap{"a":1}`))
	assert.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), h["X-API-Signature"])
	assert.Equal(t, "key-1", h["X-API-Key"])
	assert.Equal(t, "42", h["X-API-Timestamp"])

	keyOnly := (&HMACAuth{Key: "key-1"}).HeadersAt("POST", "/swap", "", 42)
	assert.Equal(t, map[string]string{"X-API-Key": "key-1"}, keyOnly)

	assert.False(t, strings.Contains(auth.String(), "s3cret"))
}
