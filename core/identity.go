package core

// Identity owns the node's long-lived key material: an ed25519 signing
// keypair (whose public key fingerprint is the canonical peer id) and a
// Curve25519 key-exchange keypair used for pairwise DM ECDH. Grounded on
// the teacher's key-material handling in core/wallet.go (logrus-scoped
// construction, explicit error returns, never a bare panic on bad input).

import (
	"crypto/ed25519"
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mr-tron/base58"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/nacl/box"
)

// Identity is the node's durable cryptographic identity.
type Identity struct {
	SigningPub  ed25519.PublicKey
	signingPriv ed25519.PrivateKey

	KeyExchangePub  *[32]byte
	keyExchangePriv *[32]byte

	logger *logrus.Logger
}

// friendcodePayload is the triple a friendcode round-trips losslessly.
type friendcodePayload struct {
	PeerID         string   `json:"p"`
	KeyExchangePub string   `json:"k"`
	AddressHints   []string `json:"a"`
}

// LoadOrCreateIdentity reads keys from dir/keys/{signing,keyexchange}, or
// generates and persists them (mode 0600) on first run.
func LoadOrCreateIdentity(dir string, lg *logrus.Logger) (*Identity, error) {
	if lg == nil {
		lg = logrus.New()
	}
	signingPath := filepath.Join(dir, "keys", "signing")
	kxPath := filepath.Join(dir, "keys", "keyexchange")

	if _, err := os.Stat(signingPath); err == nil {
		return loadIdentity(signingPath, kxPath, lg)
	} else if !os.IsNotExist(err) {
		return nil, E(KindStoreFailure, "identity.load", err)
	}

	if err := os.MkdirAll(filepath.Join(dir, "keys"), 0o700); err != nil {
		return nil, E(KindStoreFailure, "identity.mkdir", err)
	}

	pub, priv, err := ed25519.GenerateKey(crand.Reader)
	if err != nil {
		return nil, E(KindInternal, "identity.generate_signing", err)
	}
	kxPub, kxPriv, err := box.GenerateKey(crand.Reader)
	if err != nil {
		return nil, E(KindInternal, "identity.generate_keyexchange", err)
	}

	if err := os.WriteFile(signingPath, priv, 0o600); err != nil {
		return nil, E(KindStoreFailure, "identity.write_signing", err)
	}
	kxFile := append(append([]byte{}, kxPub[:]...), kxPriv[:]...)
	if err := os.WriteFile(kxPath, kxFile, 0o600); err != nil {
		return nil, E(KindStoreFailure, "identity.write_keyexchange", err)
	}

	lg.Infof("identity: generated new keypair, peer id %s", fingerprint(pub))
	return &Identity{
		SigningPub:      pub,
		signingPriv:     priv,
		KeyExchangePub:  kxPub,
		keyExchangePriv: kxPriv,
		logger:          lg,
	}, nil
}

func loadIdentity(signingPath, kxPath string, lg *logrus.Logger) (*Identity, error) {
	privBytes, err := os.ReadFile(signingPath)
	if err != nil {
		return nil, E(KindStoreFailure, "identity.read_signing", err)
	}
	if len(privBytes) != ed25519.PrivateKeySize {
		return nil, E(KindStoreFailure, "identity.read_signing", fmt.Errorf("corrupt signing key: %d bytes", len(privBytes)))
	}
	priv := ed25519.PrivateKey(privBytes)
	pub := priv.Public().(ed25519.PublicKey)

	kxBytes, err := os.ReadFile(kxPath)
	if err != nil {
		return nil, E(KindStoreFailure, "identity.read_keyexchange", err)
	}
	if len(kxBytes) != 64 {
		return nil, E(KindStoreFailure, "identity.read_keyexchange", fmt.Errorf("corrupt keyexchange key: %d bytes", len(kxBytes)))
	}
	var kxPub, kxPriv [32]byte
	copy(kxPub[:], kxBytes[:32])
	copy(kxPriv[:], kxBytes[32:])

	lg.Infof("identity: loaded keypair, peer id %s", fingerprint(pub))
	return &Identity{
		SigningPub:      pub,
		signingPriv:     priv,
		KeyExchangePub:  &kxPub,
		keyExchangePriv: &kxPriv,
		logger:          lg,
	}, nil
}

// LocalPeerID returns the stable opaque peer id: the hex fingerprint of
// the signing public key.
func (id *Identity) LocalPeerID() string { return fingerprint(id.SigningPub) }

func fingerprint(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub)
}

// Sign signs bytes with the identity's signing key.
func (id *Identity) Sign(data []byte) []byte {
	return ed25519.Sign(id.signingPriv, data)
}

// Verify checks a signature against a known peer id's signing public key.
func Verify(peerID string, data, sig []byte) bool {
	pub, err := hex.DecodeString(peerID)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), data, sig)
}

// Friendcode encodes {peer_id, key_exchange_pub, address_hints} into a
// compact, URL-safe, copy-pastable string. It must round-trip losslessly
// (spec.md §4.1), address hints preserved as a set.
func (id *Identity) Friendcode(addressHints []string) (string, error) {
	payload := friendcodePayload{
		PeerID:         id.LocalPeerID(),
		KeyExchangePub: hex.EncodeToString(id.KeyExchangePub[:]),
		AddressHints:   addressHints,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", E(KindInternal, "friendcode.encode", err)
	}
	return "oweave1" + base58.Encode(raw), nil
}

// DecodedFriendcode is the result of decoding a friendcode string.
type DecodedFriendcode struct {
	PeerID         string
	KeyExchangePub [32]byte
	AddressHints   []string
}

// DecodeFriendcode reverses Friendcode. BadInput if the string is
// malformed or truncated.
func DecodeFriendcode(code string) (*DecodedFriendcode, error) {
	const prefix = "oweave1"
	if len(code) <= len(prefix) || code[:len(prefix)] != prefix {
		return nil, E(KindBadInput, "friendcode.decode", fmt.Errorf("missing prefix"))
	}
	raw, err := base58.Decode(code[len(prefix):])
	if err != nil {
		return nil, E(KindBadInput, "friendcode.decode", err)
	}
	var payload friendcodePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, E(KindBadInput, "friendcode.decode", err)
	}
	kxBytes, err := hex.DecodeString(payload.KeyExchangePub)
	if err != nil || len(kxBytes) != 32 {
		return nil, E(KindBadInput, "friendcode.decode", fmt.Errorf("invalid key-exchange public key"))
	}
	var kxPub [32]byte
	copy(kxPub[:], kxBytes)
	return &DecodedFriendcode{
		PeerID:         payload.PeerID,
		KeyExchangePub: kxPub,
		AddressHints:   payload.AddressHints,
	}, nil
}
