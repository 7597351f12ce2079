package core

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Ingest is the single consumer of the gossip fabric's inbound channel.
// It applies envelopes one at a time (spec.md §4.7); the one exception is
// a ticket-based file fetch, which runs in its own goroutine and updates
// the file row when it finishes. No locking is needed beyond what the
// store itself already does.
type Ingest struct {
	store    *Store
	blobs    *BlobStore
	fabric   *Fabric
	transfer *BlobTransfer
	identity *Identity
	logger   *logrus.Logger

	knownPeerIP    func(peerID string) (string, bool)
	decryptPreview func(d *DirectMessageWire) ([]byte, bool)
}

// NewIngest wires the ingest pipeline over an already-open store, blob
// store, gossip fabric, blob transfer client, and the local identity
// (needed to sign direct FileChunk responses and decrypt DM previews).
func NewIngest(store *Store, blobs *BlobStore, fabric *Fabric, transfer *BlobTransfer, id *Identity, lg *logrus.Logger) *Ingest {
	return &Ingest{store: store, blobs: blobs, fabric: fabric, transfer: transfer, identity: id, logger: lg}
}

// SetPeerIPLookup installs a callback used to resolve a peer id's last
// recorded IP for the IP-block check (step 3). Optional: if unset, that
// check is skipped.
func (ig *Ingest) SetPeerIPLookup(fn func(peerID string) (string, bool)) {
	ig.knownPeerIP = fn
}

// SetDecryptPreview installs the DM decryption callback used to populate
// conversation-rollup previews. Optional: if unset, previews stay
// "[encrypted]".
func (ig *Ingest) SetDecryptPreview(fn func(d *DirectMessageWire) ([]byte, bool)) {
	ig.decryptPreview = fn
}

// Run drains the fabric's ingest channel until ctx is cancelled.
func (ig *Ingest) Run(ctx context.Context) {
	ch := ig.fabric.Ingest()
	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-ch:
			if !ok {
				return
			}
			ig.handle(ctx, in)
		}
	}
}

func (ig *Ingest) handle(ctx context.Context, in InboundEnvelope) {
	env := in.Envelope

	// Step 1: verify signature.
	if err := VerifyEnvelope(&env); err != nil {
		ig.logger.WithError(err).WithField("author", env.AuthorPeerID).Debug("ingest: signature verification failed, dropped")
		return
	}

	// Step 2: blocklist / auto-blocklist check.
	blocked, err := ig.store.IsBlocked(ctx, env.AuthorPeerID)
	if err == nil && !blocked {
		blocked, err = ig.store.IsAutoBlocked(ctx, env.AuthorPeerID)
	}
	if err != nil {
		ig.logger.WithError(err).Warn("ingest: blocklist check failed")
	}
	if blocked {
		ig.dropBlocked(ctx, env)
		return
	}

	// Step 3: IP block check.
	if ig.knownPeerIP != nil {
		if ip, ok := ig.knownPeerIP(env.AuthorPeerID); ok {
			hit, err := ig.store.CheckIPBlocked(ctx, ip)
			if err != nil {
				ig.logger.WithError(err).Warn("ingest: ip block check failed")
			} else if hit {
				ig.logger.WithField("peer", env.AuthorPeerID).Debug("ingest: dropped, ip blocked")
				return
			}
		}
	}

	// Step 4/5: dispatch + induced outbound events.
	switch env.Payload.Kind {
	case KindThreadAnnouncement:
		ig.applyThreadAnnouncement(ctx, env.Payload.ThreadAnnouncement)
	case KindPostUpdate:
		ig.applyPostUpdate(ctx, env.Payload.PostUpdate)
	case KindFileAvailable:
		ig.applyFileAvailable(ctx, in.DeliveredFrom, env.Payload.FileAvailable)
	case KindFileRequest:
		ig.applyFileRequest(ctx, env.AuthorPeerID, env.Payload.FileRequest)
	case KindFileChunk:
		ig.applyFileChunk(ctx, env.Payload.FileChunk)
	case KindProfileUpdate:
		ig.applyProfileUpdate(ctx, env.AuthorPeerID, env.Timestamp, env.Payload.ProfileUpdate)
	case KindReactionUpdate:
		ig.applyReactionUpdate(ctx, env.Payload.ReactionUpdate)
	case KindDirectMessage:
		ig.applyDirectMessage(ctx, env.Payload.DirectMessage)
	default:
		ig.logger.WithField("kind", env.Payload.Kind).Debug("ingest: unknown payload kind, dropped")
	}
}

// dropBlocked records a redacted placeholder when the envelope carries a
// post (so the thread graph doesn't develop a hole), otherwise just drops.
func (ig *Ingest) dropBlocked(ctx context.Context, env Envelope) {
	if env.Payload.Kind != KindPostUpdate || env.Payload.PostUpdate == nil {
		return
	}
	p := env.Payload.PostUpdate
	childIDs, _ := ig.store.ChildIDsOf(ctx, p.ID)
	if err := ig.store.InsertRedactedPlaceholder(ctx, p.ID, p.ThreadID, p.AuthorPeerID, p.ParentPostIDs, childIDs, "author blocked", nowISO8601()); err != nil {
		ig.logger.WithError(err).Warn("ingest: redacted placeholder insert failed")
	}
}

func (ig *Ingest) applyThreadAnnouncement(ctx context.Context, a *ThreadAnnouncement) {
	if a == nil {
		return
	}
	t, err := ig.store.GetThread(ctx, a.ThreadID)
	if err != nil {
		ig.logger.WithError(err).Warn("ingest: thread lookup failed")
		return
	}
	if t == nil {
		t = &Thread{
			ID:            a.ThreadID,
			Title:         a.Title,
			CreatorPeerID: a.CreatorPeerID,
			CreatedAt:     a.CreatedAt,
			Visibility:    Visibility(a.Visibility),
			ThreadHash:    a.ThreadHash,
		}
		if err := ig.store.UpsertThread(ctx, *t); err != nil {
			ig.logger.WithError(err).Warn("ingest: thread upsert failed")
			return
		}
	}
	if err := ig.store.SetThreadTicket(ctx, a.ThreadID, a.Ticket); err != nil {
		ig.logger.WithError(err).Warn("ingest: thread ticket upsert failed")
	}
	if err := ig.fabric.JoinTopic(threadTopic(a.ThreadID)); err != nil {
		ig.logger.WithError(err).Debug("ingest: subscribe to thread topic failed")
	}
	// The snapshot blob is not pulled here; only the ticket is recorded, and
	// no setting changes that.
}

func (ig *Ingest) applyPostUpdate(ctx context.Context, p *PostUpdate) {
	if p == nil {
		return
	}
	t, err := ig.store.GetThread(ctx, p.ThreadID)
	if err != nil {
		ig.logger.WithError(err).Warn("ingest: thread lookup failed")
		return
	}
	if t == nil {
		ig.logger.WithField("thread", p.ThreadID).Debug("ingest: post update for unknown thread, dropped")
		return
	}
	post := Post{
		ID:            p.ID,
		ThreadID:      p.ThreadID,
		AuthorPeerID:  p.AuthorPeerID,
		Body:          p.Body,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
		ParentPostIDs: p.ParentPostIDs,
		Metadata:      p.Metadata,
	}
	if err := ig.store.UpsertPost(ctx, post); err != nil {
		ig.logger.WithError(err).Warn("ingest: post upsert failed")
		return
	}
	if p.ThreadHash != "" {
		if err := ig.store.SetThreadHash(ctx, p.ThreadID, p.ThreadHash); err != nil {
			ig.logger.WithError(err).Warn("ingest: thread hash update failed")
		}
	}
}

func (ig *Ingest) applyFileAvailable(ctx context.Context, deliveredFrom string, a *FileAvailable) {
	if a == nil {
		return
	}
	post, err := ig.store.GetPost(ctx, a.PostID)
	if err != nil {
		ig.logger.WithError(err).Warn("ingest: post lookup failed")
		return
	}
	if post == nil {
		ig.logger.WithField("post", a.PostID).Debug("ingest: file announcement for unknown post, dropped")
		return
	}

	f := File{
		ID:           a.FileID,
		PostID:       a.PostID,
		Path:         fmt.Sprintf("files/downloads/%s", a.FileID),
		OriginalName: a.OriginalName,
		Mime:         a.Mime,
		SizeBytes:    a.SizeBytes,
		Checksum:     a.Checksum,
		BlobID:       a.BlobID,
		Ticket:       a.Ticket,
		Status:       DownloadAbsent,
	}
	needsFetch := true
	if existing, _ := ig.store.GetFile(ctx, a.FileID); existing != nil {
		if existing.Status == DownloadAvailable && existing.Checksum == a.Checksum && existing.SizeBytes == a.SizeBytes {
			needsFetch = false
			f.Status = existing.Status
		}
	}
	if err := ig.store.UpsertFile(ctx, f); err != nil {
		ig.logger.WithError(err).Warn("ingest: file upsert failed")
		return
	}
	if !needsFetch {
		return
	}

	if a.Ticket != "" && ig.transfer != nil {
		go ig.fetchFile(a.FileID, a.ThreadID, deliveredFrom, a.Ticket, a.BlobID)
		return
	}
	// No ticket (or no transfer client) to pull from directly: fall back to
	// the gossip request/response path immediately.
	ig.requestFileFallback(a.FileID, a.ThreadID, deliveredFrom)
}

func (ig *Ingest) fetchFile(fileID, threadID, deliveredFrom, ticket, blobID string) {
	ctx := context.Background()
	ticketInfo, err := ParseTicket(ticket)
	if err != nil {
		ig.logger.WithError(err).WithField("file", fileID).Debug("ingest: bad ticket, falling back to gossip request")
		ig.requestFileFallback(fileID, threadID, deliveredFrom)
		return
	}
	if err := ig.transfer.Fetch(ctx, ticketInfo.PeerAddr, blobID); err != nil {
		ig.logger.WithError(err).WithField("file", fileID).Warn("ingest: blob fetch failed, falling back to gossip request")
		if err := ig.store.SetFileStatus(ctx, fileID, DownloadFailed, "", "", 0); err != nil {
			ig.logger.WithError(err).Warn("ingest: file status update failed")
		}
		ig.requestFileFallback(fileID, threadID, deliveredFrom)
		return
	}
	size, _ := ig.blobs.Size(blobID)
	if err := ig.store.SetFileStatus(ctx, fileID, DownloadAvailable, blobID, blobID, size); err != nil {
		ig.logger.WithError(err).Warn("ingest: file status update failed")
	}
}

// requestFileFallback asks for a missing file two ways at once: a direct
// FileRequest to whoever delivered the announcement, plus a broadcast on
// the thread's topic (or the global topic, absent a thread) in case that
// peer doesn't have the blob either. Mirrors the original's
// NetworkEvent::Direct + NetworkEvent::Broadcast double dispatch.
func (ig *Ingest) requestFileFallback(fileID, threadID, deliveredFrom string) {
	if ig.identity == nil || ig.fabric == nil {
		return
	}
	env, err := SignEnvelope(ig.identity, uuid.NewString(), EnvelopePayload{
		Kind:        KindFileRequest,
		FileRequest: &FileRequest{FileID: fileID},
	})
	if err != nil {
		ig.logger.WithError(err).Warn("ingest: signing file request failed")
		return
	}
	if deliveredFrom != "" {
		if err := ig.fabric.Publish(peerTopic(deliveredFrom), env); err != nil {
			ig.logger.WithError(err).Debug("ingest: direct file request publish failed")
		}
	}
	broadcastTopic := globalTopic
	if threadID != "" {
		broadcastTopic = threadTopic(threadID)
	}
	if err := ig.fabric.Publish(broadcastTopic, env); err != nil {
		ig.logger.WithError(err).Debug("ingest: broadcast file request publish failed")
	}
}

func (ig *Ingest) applyFileRequest(ctx context.Context, requesterPeerID string, r *FileRequest) {
	if r == nil || ig.identity == nil {
		return
	}
	f, err := ig.store.GetFile(ctx, r.FileID)
	if err != nil || f == nil || f.Status != DownloadAvailable {
		return
	}
	reader, err := ig.blobs.Reader(f.BlobID)
	if err != nil {
		return
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		ig.logger.WithError(err).Warn("ingest: reading file for chunk response failed")
		return
	}
	// Direct response (spec.md §4.7 FileRequest), delivered on the
	// requester's peer topic.
	chunkEnv, err := SignEnvelope(ig.identity, uuid.NewString(), EnvelopePayload{
		Kind:      KindFileChunk,
		FileChunk: &FileChunk{FileID: r.FileID, Data: data},
	})
	if err != nil {
		ig.logger.WithError(err).Warn("ingest: signing file chunk response failed")
		return
	}
	if err := ig.fabric.Publish(peerTopic(requesterPeerID), chunkEnv); err != nil {
		ig.logger.WithError(err).Debug("ingest: file chunk publish failed")
	}
}

func (ig *Ingest) applyFileChunk(ctx context.Context, c *FileChunk) {
	if c == nil {
		return
	}
	existing, err := ig.store.GetFile(ctx, c.FileID)
	if err != nil || existing == nil {
		ig.logger.WithField("file", c.FileID).Debug("ingest: file chunk with no prior announcement, discarded")
		return
	}
	blobID, err := ig.blobs.Put(c.Data)
	if err != nil {
		ig.logger.WithError(err).Warn("ingest: storing file chunk blob failed")
		return
	}
	if err := ig.store.SetFileStatus(ctx, c.FileID, DownloadAvailable, blobID, blobID, int64(len(c.Data))); err != nil {
		ig.logger.WithError(err).Warn("ingest: file status update failed")
	}
}

func (ig *Ingest) applyProfileUpdate(ctx context.Context, authorPeerID, timestamp string, p *ProfileUpdate) {
	if p == nil {
		return
	}
	if err := ig.store.UpsertPeerProfile(ctx, authorPeerID, *p, timestamp); err != nil {
		ig.logger.WithError(err).Warn("ingest: profile upsert failed")
	}
}

func (ig *Ingest) applyReactionUpdate(ctx context.Context, r *ReactionUpdate) {
	if r == nil {
		return
	}
	if err := ig.store.AddReaction(ctx, Reaction{
		PostID:        r.PostID,
		ReactorPeerID: r.ReactorPeerID,
		Emoji:         r.Emoji,
		Signature:     r.Signature,
		CreatedAt:     r.CreatedAt,
	}); err != nil {
		ig.logger.WithError(err).Warn("ingest: reaction upsert failed")
	}
}

func (ig *Ingest) applyDirectMessage(ctx context.Context, d *DirectMessageWire) {
	if d == nil {
		return
	}
	if err := ig.store.InsertDirectMessage(ctx, DirectMessage{
		ID:             d.MessageID,
		ConversationID: d.ConversationID,
		FromPeerID:     d.FromPeerID,
		ToPeerID:       d.ToPeerID,
		CipherText:     d.CipherText,
		Nonce:          d.Nonce,
		CreatedAt:      d.CreatedAt,
	}); err != nil {
		ig.logger.WithError(err).Warn("ingest: dm insert failed")
		return
	}

	preview := "[encrypted]"
	if ig.decryptPreview != nil {
		if body, ok := ig.decryptPreview(d); ok {
			preview = previewOf(body)
		}
	}
	if err := ig.store.UpsertConversation(ctx, Conversation{
		ID:            d.ConversationID,
		OtherPeerID:   d.FromPeerID,
		LastMessageAt: d.CreatedAt,
		Preview:       preview,
	}, true); err != nil {
		ig.logger.WithError(err).Warn("ingest: conversation rollup update failed")
	}
}

func previewOf(body []byte) string {
	const maxPreview = 120
	s := string(body)
	if len(s) > maxPreview {
		return s[:maxPreview]
	}
	return s
}
