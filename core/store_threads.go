package core

import (
	"context"
	"database/sql"
	"encoding/json"
)

// UpsertThread creates or updates a thread row, stubbing the creator as
// a peer row first (same idiom as CreatePost's author stub) so the
// foreign key on creator_peer_id is always satisfiable.
func (s *Store) UpsertThread(ctx context.Context, t Thread) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if t.CreatorPeerID != "" {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO peers (id, trust_state) VALUES (?, 'unknown')
				ON CONFLICT(id) DO NOTHING`, t.CreatorPeerID); err != nil {
				return E(KindStoreFailure, "store.upsert_thread.stub_peer", err)
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO threads (id, title, creator_peer_id, created_at, pinned, ignored, rebroadcast, deleted, visibility, thread_secret, thread_hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title,
				pinned = excluded.pinned,
				ignored = excluded.ignored,
				rebroadcast = excluded.rebroadcast,
				visibility = excluded.visibility,
				thread_hash = excluded.thread_hash`,
			t.ID, t.Title, t.CreatorPeerID, t.CreatedAt, boolToInt(t.Pinned), boolToInt(t.Ignored),
			boolToInt(t.Rebroadcast), boolToInt(t.Deleted), string(t.Visibility), t.ThreadSecret, t.ThreadHash)
		if err != nil {
			return E(KindStoreFailure, "store.upsert_thread", err)
		}
		return nil
	})
}

// GetThread returns a thread by id, or (nil, nil) if absent.
func (s *Store) GetThread(ctx context.Context, id string) (*Thread, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, creator_peer_id, created_at, pinned, ignored, rebroadcast, deleted, visibility, thread_secret, thread_hash
		FROM threads WHERE id = ?`, id)
	var t Thread
	var pinned, ignored, rebroadcast, deleted int
	var visibility string
	var secret sql.NullString
	var creator sql.NullString
	var hash sql.NullString
	err := row.Scan(&t.ID, &t.Title, &creator, &t.CreatedAt, &pinned, &ignored, &rebroadcast, &deleted, &visibility, &secret, &hash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, E(KindStoreFailure, "store.get_thread", err)
	}
	t.CreatorPeerID = creator.String
	t.Pinned, t.Ignored, t.Rebroadcast, t.Deleted = pinned != 0, ignored != 0, rebroadcast != 0, deleted != 0
	t.Visibility = Visibility(visibility)
	t.ThreadHash = hash.String
	if secret.Valid {
		t.ThreadSecret = []byte(secret.String)
	}
	return &t, nil
}

// SetThreadHash updates a thread's cached content hash. Publish calls it
// with a locally recomputed hash; ingest calls it with the hash carried by
// an inbound PostUpdate, stored as-is (see DESIGN.md Open Question 2).
func (s *Store) SetThreadHash(ctx context.Context, threadID, hash string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE threads SET thread_hash = ? WHERE id = ?`, hash, threadID)
		if err != nil {
			return E(KindStoreFailure, "store.set_thread_hash", err)
		}
		return nil
	})
}

// DeleteThread hard-deletes a thread and cascades to posts, links, files,
// reactions, and tickets in one transaction (spec.md §3 Lifecycle).
// Returns the file paths that were referenced, for best-effort unlinking
// by the caller after commit.
func (s *Store) DeleteThread(ctx context.Context, threadID string) ([]string, error) {
	var paths []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT path FROM files WHERE post_id IN (SELECT id FROM posts WHERE thread_id = ?)`, threadID)
		if err != nil {
			return E(KindStoreFailure, "store.delete_thread.collect_files", err)
		}
		for rows.Next() {
			var p string
			if err := rows.Scan(&p); err != nil {
				rows.Close()
				return E(KindStoreFailure, "store.delete_thread.scan_files", err)
			}
			paths = append(paths, p)
		}
		rows.Close()
		if _, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, threadID); err != nil {
			return E(KindStoreFailure, "store.delete_thread", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// CreatePost inserts a post, ensures its author exists as a peer stub,
// and filters parent links against thread membership. Requires an
// existing thread row (spec.md §4.2 write-path invariant); returns
// KindNotFound otherwise.
func (s *Store) CreatePost(ctx context.Context, p Post) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM threads WHERE id = ?`, p.ThreadID).Scan(&exists); err == sql.ErrNoRows {
			return E(KindNotFound, "store.create_post", errThreadNotFound)
		} else if err != nil {
			return E(KindStoreFailure, "store.create_post", err)
		}

		if p.AuthorPeerID != "" {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO peers (id, trust_state) VALUES (?, 'unknown')
				ON CONFLICT(id) DO NOTHING`, p.AuthorPeerID); err != nil {
				return E(KindStoreFailure, "store.create_post.stub_peer", err)
			}
		}

		if err := upsertPostTx(ctx, tx, p); err != nil {
			return err
		}
		return addParentLinksTx(ctx, tx, p.ID, p.ThreadID, p.ParentPostIDs)
	})
}

// UpsertPost is CreatePost's ingest-path counterpart: same upsert +
// filtered parent-link logic, but the thread-existence check is the
// caller's responsibility (ingest drops the whole envelope on an unknown
// thread rather than returning an error — see core/ingest.go).
func (s *Store) UpsertPost(ctx context.Context, p Post) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := upsertPostTx(ctx, tx, p); err != nil {
			return err
		}
		return addParentLinksTx(ctx, tx, p.ID, p.ThreadID, p.ParentPostIDs)
	})
}

func upsertPostTx(ctx context.Context, tx *sql.Tx, p Post) error {
	var meta interface{}
	if len(p.Metadata) > 0 {
		meta = []byte(p.Metadata)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO posts (id, thread_id, author_peer_id, body, created_at, updated_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			body = excluded.body,
			updated_at = excluded.updated_at,
			metadata = excluded.metadata`,
		p.ID, p.ThreadID, p.AuthorPeerID, p.Body, p.CreatedAt, p.UpdatedAt, meta)
	if err != nil {
		return E(KindStoreFailure, "store.upsert_post", err)
	}
	return nil
}

// addParentLinksTx inserts parent→child edges, filtered against thread
// membership: a parent id that is not in the thread at all is skipped so
// the post becomes a root within this thread (spec.md §4.2 write-path
// invariant); redacted placeholders count as known for this purpose.
func addParentLinksTx(ctx context.Context, tx *sql.Tx, postID, threadID string, parentIDs []string) error {
	for _, parentID := range parentIDs {
		var known int
		err := tx.QueryRowContext(ctx, `
			SELECT 1 FROM posts WHERE id = ? AND thread_id = ?
			UNION
			SELECT 1 FROM redacted_posts WHERE id = ? AND thread_id = ?`,
			parentID, threadID, parentID, threadID).Scan(&known)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return E(KindStoreFailure, "store.add_parent_links.lookup", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO post_relationships (parent_id, child_id) VALUES (?, ?)
			ON CONFLICT(parent_id, child_id) DO NOTHING`, parentID, postID); err != nil {
			return E(KindStoreFailure, "store.add_parent_links.insert", err)
		}
	}
	return nil
}

// GetPost returns a post by id, or (nil, nil) if absent.
func (s *Store) GetPost(ctx context.Context, id string) (*Post, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, author_peer_id, body, created_at, updated_at, metadata, redacted, redacted_reason
		FROM posts WHERE id = ?`, id)
	var p Post
	var updatedAt, author, reason sql.NullString
	var meta []byte
	var redacted int
	err := row.Scan(&p.ID, &p.ThreadID, &author, &p.Body, &p.CreatedAt, &updatedAt, &meta, &redacted, &reason)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, E(KindStoreFailure, "store.get_post", err)
	}
	p.AuthorPeerID = author.String
	p.UpdatedAt = updatedAt.String
	p.Metadata = meta
	p.Redacted = redacted != 0
	p.RedactedReason = reason.String
	p.ParentPostIDs, err = s.parentIDsOf(ctx, id)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) parentIDsOf(ctx context.Context, postID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT parent_id FROM post_relationships WHERE child_id = ?`, postID)
	if err != nil {
		return nil, E(KindStoreFailure, "store.parent_ids_of", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, E(KindStoreFailure, "store.parent_ids_of.scan", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ChildIDsOf returns known child post ids for a given post, used when
// preserving a redacted placeholder's topology.
func (s *Store) ChildIDsOf(ctx context.Context, postID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT child_id FROM post_relationships WHERE parent_id = ?`, postID)
	if err != nil {
		return nil, E(KindStoreFailure, "store.child_ids_of", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, E(KindStoreFailure, "store.child_ids_of.scan", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ListPostsByThread returns all posts in a thread, oldest first.
func (s *Store) ListPostsByThread(ctx context.Context, threadID string) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, author_peer_id, body, created_at, updated_at, metadata, redacted, redacted_reason
		FROM posts WHERE thread_id = ? ORDER BY created_at ASC`, threadID)
	if err != nil {
		return nil, E(KindStoreFailure, "store.list_posts_by_thread", err)
	}
	defer rows.Close()
	var out []Post
	for rows.Next() {
		var p Post
		var updatedAt, author, reason sql.NullString
		var meta []byte
		var redacted int
		if err := rows.Scan(&p.ID, &p.ThreadID, &author, &p.Body, &p.CreatedAt, &updatedAt, &meta, &redacted, &reason); err != nil {
			return nil, E(KindStoreFailure, "store.list_posts_by_thread.scan", err)
		}
		p.AuthorPeerID = author.String
		p.UpdatedAt = updatedAt.String
		p.Metadata = meta
		p.Redacted = redacted != 0
		p.RedactedReason = reason.String
		parents, err := s.parentIDsOf(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		p.ParentPostIDs = parents
		out = append(out, p)
	}
	return out, nil
}

// ListRecentPosts returns the most recent posts across all threads,
// newest first, joined with the author's display name — the agent
// boundary service's read surface (spec.md §4.10/§6).
func (s *Store) ListRecentPosts(ctx context.Context, limit int) ([]PostView, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT posts.id, posts.thread_id, posts.author_peer_id, posts.body, posts.created_at,
			posts.updated_at, posts.metadata, posts.redacted, posts.redacted_reason,
			COALESCE(peers.display_name, '')
		FROM posts
		LEFT JOIN peers ON peers.id = posts.author_peer_id
		ORDER BY posts.created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, E(KindStoreFailure, "store.list_recent_posts", err)
	}
	defer rows.Close()
	var out []PostView
	for rows.Next() {
		var v PostView
		var updatedAt, author, reason sql.NullString
		var meta []byte
		var redacted int
		if err := rows.Scan(&v.ID, &v.ThreadID, &author, &v.Body, &v.CreatedAt, &updatedAt, &meta, &redacted, &reason, &v.AuthorDisplayName); err != nil {
			return nil, E(KindStoreFailure, "store.list_recent_posts.scan", err)
		}
		v.AuthorPeerID = author.String
		v.UpdatedAt = updatedAt.String
		v.Metadata = meta
		v.Redacted = redacted != 0
		v.RedactedReason = reason.String
		out = append(out, v)
	}
	return out, nil
}

// InsertRedactedPlaceholder preserves a blocked author's post topology
// (spec.md §3 Redacted Post Placeholder).
func (s *Store) InsertRedactedPlaceholder(ctx context.Context, postID, threadID, authorPeerID string, parentIDs, childIDs []string, reason, discoveredAt string) error {
	parents, err := json.Marshal(parentIDs)
	if err != nil {
		return E(KindInternal, "store.insert_redacted", err)
	}
	children, err := json.Marshal(childIDs)
	if err != nil {
		return E(KindInternal, "store.insert_redacted", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO redacted_posts (id, thread_id, author_peer_id, parent_post_ids, known_child_ids, redaction_reason, discovered_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET redaction_reason = excluded.redaction_reason`,
			postID, threadID, authorPeerID, string(parents), string(children), reason, discoveredAt)
		if err != nil {
			return E(KindStoreFailure, "store.insert_redacted", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO peers (id, trust_state) VALUES (?, 'unknown')
			ON CONFLICT(id) DO NOTHING`, authorPeerID); err != nil {
			return E(KindStoreFailure, "store.insert_redacted.stub_peer", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO posts (id, thread_id, author_peer_id, body, created_at, redacted, redacted_reason)
			VALUES (?, ?, ?, '', ?, 1, ?)
			ON CONFLICT(id) DO UPDATE SET redacted = 1, redacted_reason = excluded.redacted_reason`,
			postID, threadID, authorPeerID, discoveredAt, reason); err != nil {
			return E(KindStoreFailure, "store.insert_redacted.post", err)
		}
		return addParentLinksTx(ctx, tx, postID, threadID, parentIDs)
	})
}

// AddReaction upserts a signed reaction; idempotent on the composite key
// (post_id, reactor_peer_id, emoji) per spec.md §3.
func (s *Store) AddReaction(ctx context.Context, r Reaction) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO peers (id, trust_state) VALUES (?, 'unknown')
			ON CONFLICT(id) DO NOTHING`, r.ReactorPeerID); err != nil {
			return E(KindStoreFailure, "store.add_reaction.stub_peer", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reactions (post_id, reactor_peer_id, emoji, signature, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(post_id, reactor_peer_id, emoji) DO NOTHING`,
			r.PostID, r.ReactorPeerID, r.Emoji, r.Signature, r.CreatedAt)
		if err != nil {
			return E(KindStoreFailure, "store.add_reaction", err)
		}
		return nil
	})
}

// SetThreadTicket overwrites the thread's latest known snapshot ticket.
func (s *Store) SetThreadTicket(ctx context.Context, threadID, ticket string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO thread_tickets (thread_id, ticket) VALUES (?, ?)
			ON CONFLICT(thread_id) DO UPDATE SET ticket = excluded.ticket`, threadID, ticket)
		if err != nil {
			return E(KindStoreFailure, "store.set_thread_ticket", err)
		}
		return nil
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
