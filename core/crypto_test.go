package core

import (
	"bytes"
	"testing"
)

func TestEncryptDecryptDMRoundTrip(t *testing.T) {
	alice, err := LoadOrCreateIdentity(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("alice identity: %v", err)
	}
	bob, err := LoadOrCreateIdentity(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("bob identity: %v", err)
	}

	body := []byte("meet at the usual place")
	cipherText, nonce, err := EncryptDM(alice, *bob.KeyExchangePub, body)
	if err != nil {
		t.Fatalf("EncryptDM: %v", err)
	}
	if bytes.Equal(cipherText, body) {
		t.Fatalf("ciphertext must not equal plaintext")
	}

	plain, err := DecryptDM(bob, *alice.KeyExchangePub, cipherText, nonce)
	if err != nil {
		t.Fatalf("DecryptDM: %v", err)
	}
	if !bytes.Equal(plain, body) {
		t.Fatalf("decrypted body mismatch: got %q want %q", plain, body)
	}
}

func TestDecryptDMFailsForWrongKey(t *testing.T) {
	alice, _ := LoadOrCreateIdentity(t.TempDir(), nil)
	bob, _ := LoadOrCreateIdentity(t.TempDir(), nil)
	mallory, _ := LoadOrCreateIdentity(t.TempDir(), nil)

	cipherText, nonce, err := EncryptDM(alice, *bob.KeyExchangePub, []byte("secret"))
	if err != nil {
		t.Fatalf("EncryptDM: %v", err)
	}
	if _, err := DecryptDM(mallory, *alice.KeyExchangePub, cipherText, nonce); err == nil {
		t.Fatalf("expected decryption to fail for the wrong recipient")
	}
	if KindOf(func() error {
		_, err := DecryptDM(mallory, *alice.KeyExchangePub, cipherText, nonce)
		return err
	}()) != KindCryptoFailure {
		t.Fatalf("expected KindCryptoFailure")
	}
}

func TestSignEnvelopeVerifies(t *testing.T) {
	id, _ := LoadOrCreateIdentity(t.TempDir(), nil)
	env, err := SignEnvelope(id, "env-1", EnvelopePayload{
		Kind: KindPostUpdate,
		PostUpdate: &PostUpdate{
			ID:       "post-1",
			ThreadID: "thread-1",
			Body:     "hi",
		},
	})
	if err != nil {
		t.Fatalf("SignEnvelope: %v", err)
	}
	if err := VerifyEnvelope(env); err != nil {
		t.Fatalf("VerifyEnvelope: %v", err)
	}
}

func TestVerifyEnvelopeRejectsTamperedBody(t *testing.T) {
	id, _ := LoadOrCreateIdentity(t.TempDir(), nil)
	env, err := SignEnvelope(id, "env-1", EnvelopePayload{
		Kind:       KindPostUpdate,
		PostUpdate: &PostUpdate{ID: "post-1", ThreadID: "thread-1", Body: "hi"},
	})
	if err != nil {
		t.Fatalf("SignEnvelope: %v", err)
	}
	env.Payload.PostUpdate.Body = "tampered"
	if err := VerifyEnvelope(env); err == nil {
		t.Fatalf("expected verification failure after tampering")
	}
}

func TestHashIPIsStableAndOneWay(t *testing.T) {
	a := HashIP("203.0.113.5")
	b := HashIP("203.0.113.5")
	if a != b {
		t.Fatalf("HashIP must be deterministic")
	}
	if a == "203.0.113.5" {
		t.Fatalf("HashIP must not return the raw input")
	}
}

func TestWrapUnwrapThreadKey(t *testing.T) {
	owner, _ := LoadOrCreateIdentity(t.TempDir(), nil)
	member, _ := LoadOrCreateIdentity(t.TempDir(), nil)
	secret := []byte("thread-symmetric-secret")

	wrapped, nonce, err := WrapThreadKey(owner, *member.KeyExchangePub, secret)
	if err != nil {
		t.Fatalf("WrapThreadKey: %v", err)
	}
	unwrapped, err := UnwrapThreadKey(member, *owner.KeyExchangePub, wrapped, nonce)
	if err != nil {
		t.Fatalf("UnwrapThreadKey: %v", err)
	}
	if !bytes.Equal(unwrapped, secret) {
		t.Fatalf("unwrapped secret mismatch")
	}
}
