package core

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/sirupsen/logrus"
)

// BlobProtocolID is the dedicated libp2p stream protocol for pull-based
// large-object transfer (spec.md §4.3), kept off the gossip topics so a
// multi-megabyte snapshot never competes with small control-plane
// envelopes for pubsub bandwidth.
const BlobProtocolID = protocol.ID("/orbweaver/blob/1.0.0")

const blobStreamTimeout = 2 * time.Minute

// BlobTransfer serves and requests blobs over BlobProtocolID.
type BlobTransfer struct {
	host  host.Host
	blobs *BlobStore

	logger *logrus.Logger
}

// NewBlobTransfer registers the stream handler on h and returns a
// transfer client bound to store.
func NewBlobTransfer(h host.Host, store *BlobStore, lg *logrus.Logger) *BlobTransfer {
	bt := &BlobTransfer{host: h, blobs: store, logger: lg}
	h.SetStreamHandler(BlobProtocolID, bt.handleStream)
	return bt
}

// handleStream reads a requested hash, then streams the blob back (or a
// single zero byte followed by stream close if absent).
func (bt *BlobTransfer) handleStream(s network.Stream) {
	defer s.Close()
	s.SetDeadline(time.Now().Add(blobStreamTimeout))

	r := bufio.NewReader(s)
	hash, err := readLengthPrefixed(r)
	if err != nil {
		bt.logger.WithError(err).Debug("blobtransfer: bad request frame")
		return
	}
	blobID := string(hash)

	reader, err := bt.blobs.Reader(blobID)
	if err != nil {
		s.Write([]byte{0}) // not-found marker
		return
	}
	defer reader.Close()

	s.Write([]byte{1}) // found marker
	if _, err := io.Copy(s, reader); err != nil {
		bt.logger.WithError(err).WithField("blob_id", blobID).Debug("blobtransfer: serve copy failed")
	}
}

// Fetch pulls blobID from peerID (resolved via peerAddr, a multiaddr
// string including the /p2p/<id> suffix), streaming straight to the blob
// store's temp-file-then-rename path without buffering the whole object
// in memory (spec.md §4.3 streaming invariant).
func (bt *BlobTransfer) Fetch(ctx context.Context, peerAddr, blobID string) error {
	info, err := peer.AddrInfoFromString(peerAddr)
	if err != nil {
		return E(KindBadInput, "blobtransfer.fetch", fmt.Errorf("parse ticket address: %w", err))
	}

	if err := bt.host.Connect(ctx, *info); err != nil {
		return E(KindTransientNetwork, "blobtransfer.fetch", err)
	}

	streamCtx, cancel := context.WithTimeout(ctx, blobStreamTimeout)
	defer cancel()
	s, err := bt.host.NewStream(streamCtx, info.ID, BlobProtocolID)
	if err != nil {
		return E(KindTransientNetwork, "blobtransfer.fetch", err)
	}
	defer s.Close()

	if err := writeLengthPrefixed(s, []byte(blobID)); err != nil {
		return E(KindTransientNetwork, "blobtransfer.fetch", err)
	}

	r := bufio.NewReader(s)
	marker, err := r.ReadByte()
	if err != nil {
		return E(KindTransientNetwork, "blobtransfer.fetch", err)
	}
	if marker == 0 {
		return E(KindNotFound, "blobtransfer.fetch", ErrBlobNotFound)
	}

	gotID, _, err := bt.blobs.PutStream(r)
	if err != nil {
		return err
	}
	if gotID != blobID {
		return E(KindCryptoFailure, "blobtransfer.fetch", fmt.Errorf("rehash mismatch: want %s got %s", blobID, gotID))
	}
	return nil
}

func writeLengthPrefixed(w io.Writer, data []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readLengthPrefixed(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	const maxFrame = 1 << 16
	if n > maxFrame {
		return nil, fmt.Errorf("frame too large: %d bytes", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
