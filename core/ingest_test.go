package core

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
)

func newTestIngest(t *testing.T, s *Store) *Ingest {
	t.Helper()
	lg := logrus.New()
	lg.SetLevel(logrus.PanicLevel)
	return NewIngest(s, nil, nil, nil, nil, lg)
}

func TestDropBlockedInsertsRedactedPlaceholder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ig := newTestIngest(t, s)
	if err := s.UpsertThread(ctx, Thread{ID: "t1", Title: "welcome", CreatorPeerID: "peer-a", CreatedAt: "2026-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("UpsertThread: %v", err)
	}

	env := Envelope{
		AuthorPeerID: "peer-blocked",
		Payload: EnvelopePayload{
			Kind: KindPostUpdate,
			PostUpdate: &PostUpdate{
				ID: "p-blocked", ThreadID: "t1", AuthorPeerID: "peer-blocked",
				Body: "spam", CreatedAt: "2026-01-01T00:00:01Z",
			},
		},
	}
	ig.dropBlocked(ctx, env)

	post, err := s.GetPost(ctx, "p-blocked")
	if err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	if post == nil {
		t.Fatalf("expected a redacted placeholder to preserve the graph position")
	}
}

func TestDropBlockedIgnoresNonPostPayloads(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ig := newTestIngest(t, s)

	env := Envelope{
		AuthorPeerID: "peer-blocked",
		Payload:      EnvelopePayload{Kind: KindReactionUpdate, ReactionUpdate: &ReactionUpdate{PostID: "p1"}},
	}
	// Should not panic or attempt any store write for a non-post payload.
	ig.dropBlocked(ctx, env)
}

func TestApplyPostUpdateDropsForUnknownThread(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ig := newTestIngest(t, s)

	ig.applyPostUpdate(ctx, &PostUpdate{ID: "p1", ThreadID: "no-such-thread", AuthorPeerID: "peer-a", Body: "hi", CreatedAt: "2026-01-01T00:00:00Z"})

	post, err := s.GetPost(ctx, "p1")
	if err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	if post != nil {
		t.Fatalf("expected post update for an unknown thread to be a no-op")
	}
}

func TestApplyPostUpdateInsertsForKnownThread(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ig := newTestIngest(t, s)
	if err := s.UpsertThread(ctx, Thread{ID: "t1", Title: "welcome", CreatorPeerID: "peer-a", CreatedAt: "2026-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("UpsertThread: %v", err)
	}

	ig.applyPostUpdate(ctx, &PostUpdate{ID: "p1", ThreadID: "t1", AuthorPeerID: "peer-a", Body: "hi", CreatedAt: "2026-01-01T00:00:00Z", ThreadHash: "abc123"})

	post, err := s.GetPost(ctx, "p1")
	if err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	if post == nil || post.Body != "hi" {
		t.Fatalf("expected post to be upserted, got %+v", post)
	}
	thread, err := s.GetThread(ctx, "t1")
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if thread.ThreadHash != "abc123" {
		t.Fatalf("expected thread hash to be updated, got %q", thread.ThreadHash)
	}
}

func TestApplyFileChunkWithoutPriorAnnouncementIsDiscarded(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ig := newTestIngest(t, s)

	ig.applyFileChunk(ctx, &FileChunk{FileID: "f1", Data: []byte("payload")})

	f, err := s.GetFile(ctx, "f1")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if f != nil {
		t.Fatalf("expected a chunk with no prior announcement to be discarded")
	}
}

func TestApplyFileChunkAfterAnnouncementStoresBlob(t *testing.T) {
	s := openTestStore(t)
	dir := t.TempDir()
	blobs, err := OpenBlobStore(dir, nil)
	if err != nil {
		t.Fatalf("OpenBlobStore: %v", err)
	}
	ig := NewIngest(s, blobs, nil, nil, nil, quietLogger())
	ctx := context.Background()

	if err := s.UpsertThread(ctx, Thread{ID: "t1", Title: "welcome", CreatorPeerID: "peer-a", CreatedAt: "2026-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("UpsertThread: %v", err)
	}
	if err := s.CreatePost(ctx, Post{ID: "p1", ThreadID: "t1", AuthorPeerID: "peer-a", Body: "hi", CreatedAt: "2026-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	if err := s.UpsertFile(ctx, File{ID: "f1", PostID: "p1", OriginalName: "a.txt", Status: DownloadAbsent}); err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}

	ig.applyFileChunk(ctx, &FileChunk{FileID: "f1", Data: []byte("payload")})

	f, err := s.GetFile(ctx, "f1")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if f == nil || f.Status != DownloadAvailable {
		t.Fatalf("expected file to become available, got %+v", f)
	}
	if f.SizeBytes != int64(len("payload")) {
		t.Fatalf("expected size to match chunk length, got %d", f.SizeBytes)
	}
}

func TestApplyFileAvailableWithoutTicketFallsBackSafely(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ig := newTestIngest(t, s)
	if err := s.UpsertThread(ctx, Thread{ID: "t1", Title: "welcome", CreatorPeerID: "peer-a", CreatedAt: "2026-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("UpsertThread: %v", err)
	}
	if err := s.CreatePost(ctx, Post{ID: "p1", ThreadID: "t1", AuthorPeerID: "peer-a", Body: "hi", CreatedAt: "2026-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("CreatePost: %v", err)
	}

	// No ticket and no fabric/identity wired: the gossip-request fallback
	// must no-op rather than panic, and the file row must still be recorded
	// as absent so a later announcement can still trigger a fetch.
	ig.applyFileAvailable(ctx, "peer-deliverer", &FileAvailable{
		FileID: "f1", PostID: "p1", ThreadID: "t1", OriginalName: "a.txt",
	})

	f, err := s.GetFile(ctx, "f1")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if f == nil || f.Status != DownloadAbsent {
		t.Fatalf("expected file to be recorded as absent pending fetch, got %+v", f)
	}
}

func TestApplyFileAvailableForUnknownPostIsDropped(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ig := newTestIngest(t, s)

	ig.applyFileAvailable(ctx, "peer-deliverer", &FileAvailable{FileID: "f1", PostID: "no-such-post", ThreadID: "t1"})

	f, err := s.GetFile(ctx, "f1")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if f != nil {
		t.Fatalf("expected a file announcement for an unknown post to be dropped")
	}
}

func TestRequestFileFallbackNoopsWithoutFabricOrIdentity(t *testing.T) {
	s := openTestStore(t)
	ig := newTestIngest(t, s)
	// identity and fabric are both nil in newTestIngest; this must return
	// quietly instead of dereferencing either.
	ig.requestFileFallback("f1", "t1", "peer-deliverer")
}

func TestApplyReactionUpdateInsertsReaction(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ig := newTestIngest(t, s)
	if err := s.UpsertThread(ctx, Thread{ID: "t1", Title: "welcome", CreatorPeerID: "peer-a", CreatedAt: "2026-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("UpsertThread: %v", err)
	}
	if err := s.CreatePost(ctx, Post{ID: "p1", ThreadID: "t1", AuthorPeerID: "peer-a", Body: "hi", CreatedAt: "2026-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("CreatePost: %v", err)
	}

	ig.applyReactionUpdate(ctx, &ReactionUpdate{PostID: "p1", ReactorPeerID: "peer-b", Emoji: "+1", Signature: "sig", CreatedAt: "2026-01-01T00:00:01Z"})

	// AddReaction is idempotent, so applying the same update twice leaves one row.
	ig.applyReactionUpdate(ctx, &ReactionUpdate{PostID: "p1", ReactorPeerID: "peer-b", Emoji: "+1", Signature: "sig", CreatedAt: "2026-01-01T00:00:01Z"})

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reactions WHERE post_id = ?`, "p1").Scan(&n); err != nil {
		t.Fatalf("count reactions: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly one reaction row, got %d", n)
	}
}

func TestApplyDirectMessageUpdatesConversationRollup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ig := newTestIngest(t, s)
	seedPeer(t, s, ctx, "peer-a")
	seedPeer(t, s, ctx, "peer-b")

	ig.applyDirectMessage(ctx, &DirectMessageWire{
		MessageID: "m1", ConversationID: "c1", FromPeerID: "peer-a", ToPeerID: "peer-b",
		CipherText: []byte("ct"), Nonce: []byte("n"), CreatedAt: "2026-01-01T00:00:00Z",
	})

	msgs, err := s.ListConversationMessages(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("ListConversationMessages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected the direct message to be stored, got %+v", msgs)
	}
	convs, err := s.ListConversations(ctx)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(convs) != 1 || convs[0].UnreadCount != 1 || convs[0].Preview != "[encrypted]" {
		t.Fatalf("expected an unread conversation with the default preview, got %+v", convs)
	}
}

func TestApplyDirectMessageUsesDecryptPreviewWhenAvailable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ig := newTestIngest(t, s)
	seedPeer(t, s, ctx, "peer-a")
	seedPeer(t, s, ctx, "peer-b")
	ig.SetDecryptPreview(func(d *DirectMessageWire) ([]byte, bool) {
		return []byte("hello there"), true
	})

	ig.applyDirectMessage(ctx, &DirectMessageWire{
		MessageID: "m1", ConversationID: "c1", FromPeerID: "peer-a", ToPeerID: "peer-b",
		CipherText: []byte("ct"), Nonce: []byte("n"), CreatedAt: "2026-01-01T00:00:00Z",
	})

	convs, err := s.ListConversations(ctx)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if convs[0].Preview != "hello there" {
		t.Fatalf("expected decrypted preview, got %q", convs[0].Preview)
	}
}

func quietLogger() *logrus.Logger {
	lg := logrus.New()
	lg.SetLevel(logrus.PanicLevel)
	return lg
}
