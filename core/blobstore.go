package core

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"lukechampine.com/blake3"
)

// ErrBlobNotFound is returned when a blob id has no backing file.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore is a content-addressed store for thread snapshots and file
// attachments. Blobs are identified by the hex-encoded BLAKE3 hash of
// their contents and laid out two levels deep to keep any one directory
// small (spec.md §4.3).
type BlobStore struct {
	dir    string
	mu     sync.Mutex
	logger *logrus.Logger
}

// OpenBlobStore creates dir if needed and returns a store rooted there.
func OpenBlobStore(dir string, lg *logrus.Logger) (*BlobStore, error) {
	if lg == nil {
		lg = logrus.New()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, E(KindStoreFailure, "blobstore.open", err)
	}
	lg.WithField("dir", dir).Info("blobstore: ready")
	return &BlobStore{dir: dir, logger: lg}, nil
}

func (b *BlobStore) pathFor(blobID string) string {
	if len(blobID) < 4 {
		return filepath.Join(b.dir, blobID)
	}
	return filepath.Join(b.dir, blobID[:2], blobID[2:4], blobID)
}

// HashBytes returns the hex-encoded BLAKE3 digest of data without storing it.
func HashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return fmt.Sprintf("%x", sum[:])
}

// Put writes data to the store keyed by its BLAKE3 hash, returning the
// blob id. Writes a temp file and renames into place so a reader never
// observes a partial blob (spec.md §4.3 invariant).
func (b *BlobStore) Put(data []byte) (string, error) {
	blobID := HashBytes(data)

	b.mu.Lock()
	defer b.mu.Unlock()

	dest := b.pathFor(blobID)
	if _, err := os.Stat(dest); err == nil {
		return blobID, nil // already present, content-addressed so no rewrite needed
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", E(KindStoreFailure, "blobstore.put", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-blob-*")
	if err != nil {
		return "", E(KindStoreFailure, "blobstore.put", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", E(KindStoreFailure, "blobstore.put", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", E(KindStoreFailure, "blobstore.put", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return "", E(KindStoreFailure, "blobstore.put", err)
	}
	b.logger.WithFields(logrus.Fields{"blob_id": blobID, "bytes": len(data)}).Debug("blobstore: stored")
	return blobID, nil
}

// PutStream copies r into the store, returning the blob id computed over
// the streamed bytes. Used for blob transfer reassembly where the whole
// file is not held in memory at once.
func (b *BlobStore) PutStream(r io.Reader) (string, int64, error) {
	tmp, err := os.CreateTemp(b.dir, ".tmp-stream-*")
	if err != nil {
		return "", 0, E(KindStoreFailure, "blobstore.put_stream", err)
	}
	tmpName := tmp.Name()
	hasher := blake3.New(32, nil)
	n, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	tmp.Close()
	if err != nil {
		os.Remove(tmpName)
		return "", 0, E(KindStoreFailure, "blobstore.put_stream", err)
	}
	blobID := fmt.Sprintf("%x", hasher.Sum(nil))

	b.mu.Lock()
	defer b.mu.Unlock()

	dest := b.pathFor(blobID)
	if _, err := os.Stat(dest); err == nil {
		os.Remove(tmpName)
		return blobID, n, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		os.Remove(tmpName)
		return "", 0, E(KindStoreFailure, "blobstore.put_stream", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return "", 0, E(KindStoreFailure, "blobstore.put_stream", err)
	}
	return blobID, n, nil
}

// Has reports whether blobID is present locally.
func (b *BlobStore) Has(blobID string) bool {
	_, err := os.Stat(b.pathFor(blobID))
	return err == nil
}

// Get reads an entire blob into memory. Callers fetching large file
// attachments should prefer Reader.
func (b *BlobStore) Get(blobID string) ([]byte, error) {
	data, err := os.ReadFile(b.pathFor(blobID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, E(KindNotFound, "blobstore.get", ErrBlobNotFound)
	}
	if err != nil {
		return nil, E(KindStoreFailure, "blobstore.get", err)
	}
	return data, nil
}

// Reader opens a blob for streaming; callers must Close it.
func (b *BlobStore) Reader(blobID string) (io.ReadCloser, error) {
	f, err := os.Open(b.pathFor(blobID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, E(KindNotFound, "blobstore.reader", ErrBlobNotFound)
	}
	if err != nil {
		return nil, E(KindStoreFailure, "blobstore.reader", err)
	}
	return f, nil
}

// Size reports a blob's byte length without reading it into memory.
func (b *BlobStore) Size(blobID string) (int64, error) {
	fi, err := os.Stat(b.pathFor(blobID))
	if errors.Is(err, os.ErrNotExist) {
		return 0, E(KindNotFound, "blobstore.size", ErrBlobNotFound)
	}
	if err != nil {
		return 0, E(KindStoreFailure, "blobstore.size", err)
	}
	return fi.Size(), nil
}

// Export streams a blob out to destPath without buffering it into memory,
// writing through a temp file in the same directory then renaming into
// place so a reader never observes a partially written destination.
func (b *BlobStore) Export(blobID, destPath string) error {
	r, err := b.Reader(blobID)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return E(KindStoreFailure, "blobstore.export", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".export-*.tmp")
	if err != nil {
		return E(KindStoreFailure, "blobstore.export", err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return E(KindStoreFailure, "blobstore.export", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return E(KindStoreFailure, "blobstore.export", err)
	}
	if err := os.Rename(tmpName, destPath); err != nil {
		os.Remove(tmpName)
		return E(KindStoreFailure, "blobstore.export", err)
	}
	return nil
}

// Verify rehashes the on-disk blob and confirms it matches blobID,
// guarding against bitrot or a corrupted transfer (spec.md §4.4 edge case).
func (b *BlobStore) Verify(blobID string) error {
	r, err := b.Reader(blobID)
	if err != nil {
		return err
	}
	defer r.Close()
	hasher := blake3.New(32, nil)
	if _, err := io.Copy(hasher, r); err != nil {
		return E(KindStoreFailure, "blobstore.verify", err)
	}
	got := fmt.Sprintf("%x", hasher.Sum(nil))
	if got != blobID {
		return E(KindCryptoFailure, "blobstore.verify", fmt.Errorf("hash mismatch: want %s got %s", blobID, got))
	}
	return nil
}
