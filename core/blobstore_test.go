package core

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBlobStorePutGetRoundTrip(t *testing.T) {
	bs, err := OpenBlobStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("OpenBlobStore: %v", err)
	}
	data := []byte("the quick brown fox")
	id, err := bs.Put(data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !bs.Has(id) {
		t.Fatalf("expected blob to be present after Put")
	}
	got, err := bs.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("round-tripped data mismatch")
	}
}

func TestBlobStoreHashIsDeterministic(t *testing.T) {
	data := []byte("deterministic content")
	if HashBytes(data) != HashBytes(data) {
		t.Fatalf("HashBytes must be deterministic")
	}
	if HashBytes(data) == HashBytes([]byte("different content")) {
		t.Fatalf("HashBytes collided for different inputs")
	}
}

func TestBlobStorePutIsIdempotent(t *testing.T) {
	bs, err := OpenBlobStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("OpenBlobStore: %v", err)
	}
	data := []byte("same content twice")
	id1, err := bs.Put(data)
	if err != nil {
		t.Fatalf("first Put: %v", err)
	}
	id2, err := bs.Put(data)
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected identical content to produce the same blob id")
	}
}

func TestBlobStorePutStream(t *testing.T) {
	bs, err := OpenBlobStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("OpenBlobStore: %v", err)
	}
	data := []byte(strings.Repeat("x", 4096))
	id, n, err := bs.PutStream(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("PutStream: %v", err)
	}
	if n != int64(len(data)) {
		t.Fatalf("expected %d bytes written, got %d", len(data), n)
	}
	if id != HashBytes(data) {
		t.Fatalf("streamed blob id mismatch")
	}
}

func TestBlobStoreGetMissingReturnsErrBlobNotFound(t *testing.T) {
	bs, err := OpenBlobStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("OpenBlobStore: %v", err)
	}
	if _, err := bs.Get("0000000000000000000000000000000000000000000000000000000000000000"); !errors.Is(err, ErrBlobNotFound) {
		t.Fatalf("expected ErrBlobNotFound for missing blob, got %v", err)
	}
}

func TestBlobStoreExportWritesFileAtDestination(t *testing.T) {
	bs, err := OpenBlobStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("OpenBlobStore: %v", err)
	}
	data := []byte("export me")
	id, err := bs.Put(data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	dest := filepath.Join(t.TempDir(), "nested", "out.bin")
	if err := bs.Export(id, dest); err != nil {
		t.Fatalf("Export: %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile exported destination: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("exported content mismatch")
	}
}

func TestBlobStoreExportMissingReturnsErrBlobNotFound(t *testing.T) {
	bs, err := OpenBlobStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("OpenBlobStore: %v", err)
	}
	dest := filepath.Join(t.TempDir(), "out.bin")
	if err := bs.Export("0000000000000000000000000000000000000000000000000000000000000000", dest); !errors.Is(err, ErrBlobNotFound) {
		t.Fatalf("expected ErrBlobNotFound exporting a missing blob, got %v", err)
	}
	if _, err := os.Stat(dest); err == nil {
		t.Fatalf("expected no file to be created for a failed export")
	}
}

func TestBlobStoreVerifyDetectsCorruption(t *testing.T) {
	bs, err := OpenBlobStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("OpenBlobStore: %v", err)
	}
	id, err := bs.Put([]byte("intact content"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := bs.Verify(id); err != nil {
		t.Fatalf("Verify on intact blob: %v", err)
	}
	if err := os.WriteFile(bs.pathFor(id), []byte("tampered content"), 0o644); err != nil {
		t.Fatalf("overwrite blob file: %v", err)
	}
	if err := bs.Verify(id); KindOf(err) != KindCryptoFailure {
		t.Fatalf("expected a CryptoFailure from Verify on a corrupted blob, got %v", err)
	}
}
