package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/chainbot/internal/domain"
)

// Signer signs swap requests with the wallet's ed25519 key so a venue can
// verify the wallet authorized them.
type Signer struct {
	key ed25519.PrivateKey
	pub ed25519.PublicKey
	now func() time.Time
}

// NewSigner creates a Signer for key.
func NewSigner(key ed25519.PrivateKey) (*Signer, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("crypto/signer: key has %d bytes, want %d: %w",
			len(key), ed25519.PrivateKeySize, domain.ErrSigningFailed)
	}
	return &Signer{
		key: key,
		pub: key.Public().(ed25519.PublicKey),
		now: time.Now,
	}, nil
}

// PublicKeyHex returns the hex-encoded public key.
func (s *Signer) PublicKeyHex() string {
	return hex.EncodeToString(s.pub)
}

// Sign returns the base64 signature of message.
func (s *Signer) Sign(message []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(s.key, message))
}

// RequestHeaders signs timestamp+method+path+body and returns the headers a
// venue expects next to the request.
//
// Returned header keys:
//   - X-Wallet-Pubkey
//   - X-Wallet-Timestamp
//   - X-Wallet-Signature
func (s *Signer) RequestHeaders(method, path string, body []byte) map[string]string {
	return s.RequestHeadersAt(method, path, body, s.now().Unix())
}

// RequestHeadersAt is like RequestHeaders with a caller-supplied Unix
// timestamp.
func (s *Signer) RequestHeadersAt(method, path string, body []byte, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	msg := make([]byte, 0, len(ts)+len(method)+len(path)+len(body))
	msg = append(msg, ts...)
	msg = append(msg, method...)
	msg = append(msg, path...)
	msg = append(msg, body...)

	return map[string]string{
		"X-Wallet-Pubkey":    s.PublicKeyHex(),
		"X-Wallet-Timestamp": ts,
		"X-Wallet-Signature": s.Sign(msg),
	}
}

// Verify reports whether sig is a valid base64 signature of message by pub.
func Verify(pub ed25519.PublicKey, message []byte, sig string) bool {
	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, message, raw)
}
