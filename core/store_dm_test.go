package core

import (
	"context"
	"testing"
)

func seedPeer(t *testing.T, s *Store, ctx context.Context, id string) {
	t.Helper()
	if err := s.SetTrustState(ctx, id, TrustUnknown); err != nil {
		t.Fatalf("seedPeer %s: %v", id, err)
	}
}

func TestInsertDirectMessageAndMarkRead(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedPeer(t, s, ctx, "peer-a")
	seedPeer(t, s, ctx, "peer-b")

	msg := DirectMessage{
		ID:             "m1",
		ConversationID: "c1",
		FromPeerID:     "peer-a",
		ToPeerID:       "peer-b",
		CipherText:     []byte("ct"),
		Nonce:          []byte("n"),
		CreatedAt:      "2026-01-01T00:00:00Z",
	}
	if err := s.InsertDirectMessage(ctx, msg); err != nil {
		t.Fatalf("InsertDirectMessage: %v", err)
	}
	// duplicate insert must be a no-op, not an error.
	if err := s.InsertDirectMessage(ctx, msg); err != nil {
		t.Fatalf("duplicate InsertDirectMessage: %v", err)
	}

	msgs, err := s.ListConversationMessages(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("ListConversationMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Fatalf("expected one message, got %+v", msgs)
	}
	if msgs[0].ReadAt != "" {
		t.Fatalf("expected unread message to have empty ReadAt")
	}

	if err := s.MarkMessageRead(ctx, "m1", "2026-01-01T00:01:00Z"); err != nil {
		t.Fatalf("MarkMessageRead: %v", err)
	}
	msgs, err = s.ListConversationMessages(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("ListConversationMessages after read: %v", err)
	}
	if msgs[0].ReadAt != "2026-01-01T00:01:00Z" {
		t.Fatalf("expected ReadAt to be set, got %q", msgs[0].ReadAt)
	}

	// marking an already-read message again must not clobber the timestamp.
	if err := s.MarkMessageRead(ctx, "m1", "2026-01-01T00:02:00Z"); err != nil {
		t.Fatalf("second MarkMessageRead: %v", err)
	}
	msgs, _ = s.ListConversationMessages(ctx, "c1", 10)
	if msgs[0].ReadAt != "2026-01-01T00:01:00Z" {
		t.Fatalf("expected ReadAt to stay at first value, got %q", msgs[0].ReadAt)
	}
}

func TestListConversationMessagesOrdersNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedPeer(t, s, ctx, "peer-a")
	seedPeer(t, s, ctx, "peer-b")

	for i, id := range []string{"m1", "m2", "m3"} {
		m := DirectMessage{
			ID:             id,
			ConversationID: "c1",
			FromPeerID:     "peer-a",
			ToPeerID:       "peer-b",
			CipherText:     []byte("ct"),
			Nonce:          []byte("n"),
			CreatedAt:      []string{"2026-01-01T00:00:00Z", "2026-01-01T00:00:01Z", "2026-01-01T00:00:02Z"}[i],
		}
		if err := s.InsertDirectMessage(ctx, m); err != nil {
			t.Fatalf("InsertDirectMessage %s: %v", id, err)
		}
	}
	msgs, err := s.ListConversationMessages(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("ListConversationMessages: %v", err)
	}
	if len(msgs) != 3 || msgs[0].ID != "m3" || msgs[2].ID != "m1" {
		t.Fatalf("expected newest-first order, got %+v", msgs)
	}
}

func TestCountUnread(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedPeer(t, s, ctx, "peer-a")
	seedPeer(t, s, ctx, "peer-b")

	unread, err := s.CountUnread(ctx, "peer-b")
	if err != nil {
		t.Fatalf("CountUnread: %v", err)
	}
	if unread != 0 {
		t.Fatalf("expected zero unread initially, got %d", unread)
	}

	if err := s.InsertDirectMessage(ctx, DirectMessage{
		ID: "m1", ConversationID: "c1", FromPeerID: "peer-a", ToPeerID: "peer-b",
		CipherText: []byte("ct"), Nonce: []byte("n"), CreatedAt: "2026-01-01T00:00:00Z",
	}); err != nil {
		t.Fatalf("InsertDirectMessage: %v", err)
	}
	if err := s.InsertDirectMessage(ctx, DirectMessage{
		ID: "m2", ConversationID: "c1", FromPeerID: "peer-a", ToPeerID: "peer-b",
		CipherText: []byte("ct"), Nonce: []byte("n"), CreatedAt: "2026-01-01T00:00:01Z",
	}); err != nil {
		t.Fatalf("InsertDirectMessage: %v", err)
	}
	unread, err = s.CountUnread(ctx, "peer-b")
	if err != nil {
		t.Fatalf("CountUnread after inserts: %v", err)
	}
	if unread != 2 {
		t.Fatalf("expected 2 unread, got %d", unread)
	}

	if err := s.MarkMessageRead(ctx, "m1", "2026-01-01T00:02:00Z"); err != nil {
		t.Fatalf("MarkMessageRead: %v", err)
	}
	unread, err = s.CountUnread(ctx, "peer-b")
	if err != nil {
		t.Fatalf("CountUnread after read: %v", err)
	}
	if unread != 1 {
		t.Fatalf("expected 1 unread after marking one read, got %d", unread)
	}
}

func TestUpsertConversationIncrementsUnread(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedPeer(t, s, ctx, "peer-b")

	c := Conversation{ID: "c1", OtherPeerID: "peer-b", LastMessageAt: "2026-01-01T00:00:00Z", Preview: "hi"}
	if err := s.UpsertConversation(ctx, c, true); err != nil {
		t.Fatalf("UpsertConversation first: %v", err)
	}
	convs, err := s.ListConversations(ctx)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(convs) != 1 || convs[0].UnreadCount != 1 {
		t.Fatalf("expected unread_count=1 after first increment, got %+v", convs)
	}

	c.LastMessageAt = "2026-01-01T00:00:01Z"
	c.Preview = "hi again"
	if err := s.UpsertConversation(ctx, c, true); err != nil {
		t.Fatalf("UpsertConversation second: %v", err)
	}
	convs, err = s.ListConversations(ctx)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if convs[0].UnreadCount != 2 {
		t.Fatalf("expected unread_count=2 after second increment, got %+v", convs)
	}
	if convs[0].Preview != "hi again" {
		t.Fatalf("expected preview to update to latest message, got %q", convs[0].Preview)
	}
}

func TestUpsertConversationWithoutIncrementLeavesUnreadAlone(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedPeer(t, s, ctx, "peer-b")

	c := Conversation{ID: "c1", OtherPeerID: "peer-b", LastMessageAt: "2026-01-01T00:00:00Z", Preview: "hi"}
	if err := s.UpsertConversation(ctx, c, true); err != nil {
		t.Fatalf("UpsertConversation increment: %v", err)
	}
	if err := s.UpsertConversation(ctx, c, false); err != nil {
		t.Fatalf("UpsertConversation non-increment: %v", err)
	}
	convs, err := s.ListConversations(ctx)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if convs[0].UnreadCount != 1 {
		t.Fatalf("expected non-incrementing upsert to leave unread_count unchanged, got %+v", convs)
	}
}

func TestMarkConversationReadZeroesUnread(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedPeer(t, s, ctx, "peer-b")

	c := Conversation{ID: "c1", OtherPeerID: "peer-b", LastMessageAt: "2026-01-01T00:00:00Z", Preview: "hi"}
	if err := s.UpsertConversation(ctx, c, true); err != nil {
		t.Fatalf("UpsertConversation: %v", err)
	}
	if err := s.UpsertConversation(ctx, c, true); err != nil {
		t.Fatalf("UpsertConversation second: %v", err)
	}
	if err := s.MarkConversationRead(ctx, "c1"); err != nil {
		t.Fatalf("MarkConversationRead: %v", err)
	}
	convs, err := s.ListConversations(ctx)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if convs[0].UnreadCount != 0 {
		t.Fatalf("expected unread_count=0 after MarkConversationRead, got %+v", convs)
	}
}

func TestListConversationsOrdersByLastMessage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedPeer(t, s, ctx, "peer-b")
	seedPeer(t, s, ctx, "peer-c")

	if err := s.UpsertConversation(ctx, Conversation{ID: "c-old", OtherPeerID: "peer-b", LastMessageAt: "2026-01-01T00:00:00Z", Preview: "old"}, false); err != nil {
		t.Fatalf("UpsertConversation c-old: %v", err)
	}
	if err := s.UpsertConversation(ctx, Conversation{ID: "c-new", OtherPeerID: "peer-c", LastMessageAt: "2026-01-02T00:00:00Z", Preview: "new"}, false); err != nil {
		t.Fatalf("UpsertConversation c-new: %v", err)
	}
	convs, err := s.ListConversations(ctx)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(convs) != 2 || convs[0].ID != "c-new" || convs[1].ID != "c-old" {
		t.Fatalf("expected newest conversation first, got %+v", convs)
	}
}

func TestThreadMemberKeyRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.UpsertThread(ctx, Thread{ID: "t1", Title: "private", CreatorPeerID: "peer-a", CreatedAt: "2026-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("UpsertThread: %v", err)
	}
	seedPeer(t, s, ctx, "peer-b")

	k := ThreadMemberKey{ThreadID: "t1", MemberPeerID: "peer-b", WrappedKey: []byte("wrapped"), Nonce: []byte("nonce")}
	if err := s.AddThreadMemberKey(ctx, k); err != nil {
		t.Fatalf("AddThreadMemberKey: %v", err)
	}
	got, err := s.GetThreadMemberKey(ctx, "t1", "peer-b")
	if err != nil {
		t.Fatalf("GetThreadMemberKey: %v", err)
	}
	if got == nil {
		t.Fatalf("expected a stored key")
	}
	if string(got.WrappedKey) != "wrapped" || string(got.Nonce) != "nonce" {
		t.Fatalf("round-trip mismatch: %+v", got)
	}

	// re-adding for the same (thread, member) pair replaces, not duplicates.
	k.WrappedKey = []byte("wrapped2")
	if err := s.AddThreadMemberKey(ctx, k); err != nil {
		t.Fatalf("AddThreadMemberKey replace: %v", err)
	}
	got, err = s.GetThreadMemberKey(ctx, "t1", "peer-b")
	if err != nil {
		t.Fatalf("GetThreadMemberKey after replace: %v", err)
	}
	if string(got.WrappedKey) != "wrapped2" {
		t.Fatalf("expected replaced key, got %q", got.WrappedKey)
	}
}

func TestGetThreadMemberKeyMissingReturnsNil(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.UpsertThread(ctx, Thread{ID: "t1", Title: "private", CreatorPeerID: "peer-a", CreatedAt: "2026-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("UpsertThread: %v", err)
	}
	got, err := s.GetThreadMemberKey(ctx, "t1", "peer-nobody")
	if err != nil {
		t.Fatalf("GetThreadMemberKey: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for unknown member, got %+v", got)
	}
}
