package core

import (
	"context"
	"database/sql"
)

// InsertDirectMessage stores an encrypted DM row.
func (s *Store) InsertDirectMessage(ctx context.Context, m DirectMessage) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO direct_messages (id, conversation_id, from_peer_id, to_peer_id, encrypted_body, nonce, created_at, read_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			m.ID, m.ConversationID, m.FromPeerID, m.ToPeerID, m.CipherText, m.Nonce, m.CreatedAt, nullIfEmpty(m.ReadAt))
		if err != nil {
			return E(KindStoreFailure, "store.insert_direct_message", err)
		}
		return nil
	})
}

// MarkMessageRead sets a message's read_at timestamp.
func (s *Store) MarkMessageRead(ctx context.Context, messageID, readAt string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE direct_messages SET read_at = ? WHERE id = ? AND read_at IS NULL`, readAt, messageID)
		if err != nil {
			return E(KindStoreFailure, "store.mark_message_read", err)
		}
		return nil
	})
}

// ListConversationMessages returns up to limit messages for a conversation,
// newest first.
func (s *Store) ListConversationMessages(ctx context.Context, conversationID string, limit int) ([]DirectMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, from_peer_id, to_peer_id, encrypted_body, nonce, created_at, read_at
		FROM direct_messages WHERE conversation_id = ? ORDER BY created_at DESC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, E(KindStoreFailure, "store.list_conversation_messages", err)
	}
	defer rows.Close()
	var out []DirectMessage
	for rows.Next() {
		var m DirectMessage
		var readAt sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.FromPeerID, &m.ToPeerID, &m.CipherText, &m.Nonce, &m.CreatedAt, &readAt); err != nil {
			return nil, E(KindStoreFailure, "store.list_conversation_messages.scan", err)
		}
		m.ReadAt = readAt.String
		out = append(out, m)
	}
	return out, nil
}

// CountUnread returns the total unread DM count across all conversations.
func (s *Store) CountUnread(ctx context.Context, localPeerID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM direct_messages WHERE to_peer_id = ? AND read_at IS NULL`, localPeerID).Scan(&n)
	if err != nil {
		return 0, E(KindStoreFailure, "store.count_unread", err)
	}
	return n, nil
}

// UpsertConversation updates the derived rollup for a conversation.
func (s *Store) UpsertConversation(ctx context.Context, c Conversation, incrementUnread bool) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if incrementUnread {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO conversations (id, peer_id, last_message_at, last_message_preview, unread_count)
				VALUES (?, ?, ?, ?, 1)
				ON CONFLICT(id) DO UPDATE SET
					last_message_at = excluded.last_message_at,
					last_message_preview = excluded.last_message_preview,
					unread_count = conversations.unread_count + 1`,
				c.ID, c.OtherPeerID, c.LastMessageAt, c.Preview)
			if err != nil {
				return E(KindStoreFailure, "store.upsert_conversation", err)
			}
			return nil
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (id, peer_id, last_message_at, last_message_preview, unread_count)
			VALUES (?, ?, ?, ?, 0)
			ON CONFLICT(id) DO UPDATE SET
				last_message_at = excluded.last_message_at,
				last_message_preview = excluded.last_message_preview`,
			c.ID, c.OtherPeerID, c.LastMessageAt, c.Preview)
		if err != nil {
			return E(KindStoreFailure, "store.upsert_conversation", err)
		}
		return nil
	})
}

// MarkConversationRead stamps read_at on a conversation's unread messages
// and zeroes its unread counter.
func (s *Store) MarkConversationRead(ctx context.Context, conversationID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE direct_messages SET read_at = ? WHERE conversation_id = ? AND read_at IS NULL`,
			nowISO8601(), conversationID); err != nil {
			return E(KindStoreFailure, "store.mark_conversation_read.messages", err)
		}
		_, err := tx.ExecContext(ctx, `UPDATE conversations SET unread_count = 0 WHERE id = ?`, conversationID)
		if err != nil {
			return E(KindStoreFailure, "store.mark_conversation_read", err)
		}
		return nil
	})
}

// ListConversations returns all conversation rollups, most recent first.
func (s *Store) ListConversations(ctx context.Context) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, peer_id, COALESCE(last_message_at, ''), COALESCE(last_message_preview, ''), unread_count
		FROM conversations ORDER BY last_message_at DESC`)
	if err != nil {
		return nil, E(KindStoreFailure, "store.list_conversations", err)
	}
	defer rows.Close()
	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.OtherPeerID, &c.LastMessageAt, &c.Preview, &c.UnreadCount); err != nil {
			return nil, E(KindStoreFailure, "store.list_conversations.scan", err)
		}
		out = append(out, c)
	}
	return out, nil
}

// --- Thread member keys (private-keyed threads) ---

// AddThreadMemberKey stores a wrapped-key row for a member. There is one
// row per (thread, member) pair: adding a key for a member that already has
// one overwrites that row, and the earlier wrapped key is not kept.
func (s *Store) AddThreadMemberKey(ctx context.Context, k ThreadMemberKey) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO thread_member_keys (thread_id, member_peer_id, wrapped_key_ciphertext, wrapped_key_nonce)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(thread_id, member_peer_id) DO UPDATE SET
				wrapped_key_ciphertext = excluded.wrapped_key_ciphertext,
				wrapped_key_nonce = excluded.wrapped_key_nonce`,
			k.ThreadID, k.MemberPeerID, k.WrappedKey, k.Nonce)
		if err != nil {
			return E(KindStoreFailure, "store.add_thread_member_key", err)
		}
		return nil
	})
}

// GetThreadMemberKey returns a member's wrapped key for a thread, or
// (nil, nil) if the peer is not a member.
func (s *Store) GetThreadMemberKey(ctx context.Context, threadID, memberPeerID string) (*ThreadMemberKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT thread_id, member_peer_id, wrapped_key_ciphertext, wrapped_key_nonce
		FROM thread_member_keys WHERE thread_id = ? AND member_peer_id = ?`, threadID, memberPeerID)
	var k ThreadMemberKey
	err := row.Scan(&k.ThreadID, &k.MemberPeerID, &k.WrappedKey, &k.Nonce)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, E(KindStoreFailure, "store.get_thread_member_key", err)
	}
	return &k, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
