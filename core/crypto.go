package core

// Crypto service: envelope signatures, pairwise DM encryption, private
// thread member-key wrapping, and IP hashing. Grounded directly on
// spec.md §4.4, which specifies the ECDH-then-AEAD construction precisely
// enough to read as an implementation note rather than a prose summary.

import (
	crand "crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
)

// SignEnvelope builds a new envelope for payload with AuthorPeerID taken
// from id, Timestamp set to now, and the given envelopeID, and signs it
// with id's signing key.
func SignEnvelope(id *Identity, envelopeID string, payload EnvelopePayload) (*Envelope, error) {
	ts := nowISO8601()
	raw, err := signingBytes(id.LocalPeerID(), ts, payload)
	if err != nil {
		return nil, E(KindInternal, "crypto.sign_envelope", err)
	}
	sig := id.Sign(raw)
	return &Envelope{
		AuthorPeerID: id.LocalPeerID(),
		Timestamp:    ts,
		EnvelopeID:   envelopeID,
		Signature:    hex.EncodeToString(sig),
		Payload:      payload,
	}, nil
}

// VerifyEnvelope checks env's signature against its stated author.
// Returns a *Error of KindUnauthorized on any verification failure,
// including a missing or malformed signature.
func VerifyEnvelope(env *Envelope) error {
	sig, err := hex.DecodeString(env.Signature)
	if err != nil {
		return E(KindUnauthorized, "crypto.verify_envelope", fmt.Errorf("malformed signature"))
	}
	raw, err := signingBytes(env.AuthorPeerID, env.Timestamp, env.Payload)
	if err != nil {
		return E(KindInternal, "crypto.verify_envelope", err)
	}
	if !Verify(env.AuthorPeerID, raw, sig) {
		return E(KindUnauthorized, "crypto.verify_envelope", fmt.Errorf("signature does not match author %s", env.AuthorPeerID))
	}
	return nil
}

// EncryptDM performs ECDH between the local key-exchange secret and the
// recipient's key-exchange public key, then encrypts body under the
// derived shared key with a fresh 24-byte nonce (XSalsa20-Poly1305 AEAD).
func EncryptDM(id *Identity, recipientKeyExchangePub [32]byte, body []byte) (ciphertext, nonce []byte, err error) {
	var shared [32]byte
	box.Precompute(&shared, &recipientKeyExchangePub, id.keyExchangePriv)

	var n [24]byte
	if _, err := crand.Read(n[:]); err != nil {
		return nil, nil, E(KindInternal, "crypto.encrypt_dm", err)
	}
	sealed := secretbox.Seal(nil, body, &n, &shared)
	return sealed, n[:], nil
}

// DecryptDM reverses EncryptDM using the sender's key-exchange public key.
// Returns a KindCryptoFailure error on any auth/decrypt failure; the
// encrypted row should be left in place by the caller so a later key
// exchange can retroactively enable decryption (spec.md §7).
func DecryptDM(id *Identity, senderKeyExchangePub [32]byte, ciphertext, nonce []byte) ([]byte, error) {
	if len(nonce) != 24 {
		return nil, E(KindCryptoFailure, "crypto.decrypt_dm", fmt.Errorf("invalid nonce length %d", len(nonce)))
	}
	var shared [32]byte
	box.Precompute(&shared, &senderKeyExchangePub, id.keyExchangePriv)
	var n [24]byte
	copy(n[:], nonce)
	out, ok := secretbox.Open(nil, ciphertext, &n, &shared)
	if !ok {
		return nil, E(KindCryptoFailure, "crypto.decrypt_dm", fmt.Errorf("authentication failed"))
	}
	return out, nil
}

// ErrMissingKeyExchangeKey is the specific CryptoFailure cause surfaced
// when a DM send target has no known key-exchange public key on file.
var ErrMissingKeyExchangeKey = fmt.Errorf("missing key-exchange public key for recipient")

// WrapThreadKey seals a per-thread symmetric secret to a single member's
// key-exchange public key, for private-keyed thread membership.
func WrapThreadKey(id *Identity, memberKeyExchangePub [32]byte, threadSecret []byte) (wrapped, nonce []byte, err error) {
	return EncryptDM(id, memberKeyExchangePub, threadSecret)
}

// UnwrapThreadKey reverses WrapThreadKey using the wrapping peer's
// key-exchange public key.
func UnwrapThreadKey(id *Identity, wrapperKeyExchangePub [32]byte, wrapped, nonce []byte) ([]byte, error) {
	return DecryptDM(id, wrapperKeyExchangePub, wrapped, nonce)
}

// HashIP produces a stable, non-reversible token for a literal IP/CIDR
// string. The store's ip_blocks table keeps literals as given; no store
// path calls HashIP.
func HashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])
}
