package core

import (
	"path/filepath"
	"testing"
)

func TestFriendcodeRoundTrip(t *testing.T) {
	id, err := LoadOrCreateIdentity(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity: %v", err)
	}
	code, err := id.Friendcode([]string{"/ip4/127.0.0.1/tcp/4001"})
	if err != nil {
		t.Fatalf("Friendcode: %v", err)
	}
	decoded, err := DecodeFriendcode(code)
	if err != nil {
		t.Fatalf("DecodeFriendcode: %v", err)
	}
	if decoded.PeerID != id.LocalPeerID() {
		t.Fatalf("peer id mismatch: got %s want %s", decoded.PeerID, id.LocalPeerID())
	}
	if decoded.KeyExchangePub != *id.KeyExchangePub {
		t.Fatalf("key exchange pub mismatch")
	}
	if len(decoded.AddressHints) != 1 || decoded.AddressHints[0] != "/ip4/127.0.0.1/tcp/4001" {
		t.Fatalf("address hints not preserved: %v", decoded.AddressHints)
	}
}

func TestDecodeFriendcodeRejectsBadPrefix(t *testing.T) {
	if _, err := DecodeFriendcode("not-a-friendcode"); err == nil {
		t.Fatalf("expected error for malformed friendcode")
	}
}

func TestIdentityPersistsAcrossReload(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "node")
	id1, err := LoadOrCreateIdentity(dir, nil)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	id2, err := LoadOrCreateIdentity(dir, nil)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if id1.LocalPeerID() != id2.LocalPeerID() {
		t.Fatalf("identity not persisted: %s != %s", id1.LocalPeerID(), id2.LocalPeerID())
	}
}

func TestSignAndVerify(t *testing.T) {
	id, err := LoadOrCreateIdentity(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity: %v", err)
	}
	data := []byte("hello")
	sig := id.Sign(data)
	if !Verify(id.LocalPeerID(), data, sig) {
		t.Fatalf("expected signature to verify")
	}
	if Verify(id.LocalPeerID(), []byte("tampered"), sig) {
		t.Fatalf("expected signature to fail on tampered data")
	}
}
