package core

import (
	"context"
	"database/sql"
	"net"
	"strings"
)

// UpsertPeerProfile applies an inbound ProfileUpdate. The envelope
// timestamp is compared against last_seen so only fresher updates from
// the peer's own authority overwrite the cached copy (spec.md §3 Peer
// invariant).
func (s *Store) UpsertPeerProfile(ctx context.Context, peerID string, update ProfileUpdate, envelopeTimestamp string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var lastSeen sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT last_seen FROM peers WHERE id = ?`, peerID).Scan(&lastSeen)
		if err != nil && err != sql.ErrNoRows {
			return E(KindStoreFailure, "store.upsert_peer_profile", err)
		}
		if err == nil && lastSeen.Valid && lastSeen.String > envelopeTimestamp {
			return nil // stale update, ignored
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO peers (id, display_name, username, bio, avatar_file_id, last_seen, trust_state)
			VALUES (?, ?, ?, ?, ?, ?, 'unknown')
			ON CONFLICT(id) DO UPDATE SET
				display_name = excluded.display_name,
				username = excluded.username,
				bio = excluded.bio,
				avatar_file_id = excluded.avatar_file_id,
				last_seen = excluded.last_seen`,
			peerID, update.DisplayName, update.Username, update.Bio, update.AvatarFileID, envelopeTimestamp)
		if err != nil {
			return E(KindStoreFailure, "store.upsert_peer_profile", err)
		}
		return nil
	})
}

// GetPeer returns a peer by id, or (nil, nil) if absent.
func (s *Store) GetPeer(ctx context.Context, id string) (*Peer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, alias, friendcode, addr, key_exchange_pub, display_name, username, bio, avatar_file_id, trust_state, last_seen
		FROM peers WHERE id = ?`, id)
	var p Peer
	var alias, friendcode, addr, kx, display, username, bio, avatar, lastSeen sql.NullString
	var trust string
	err := row.Scan(&p.ID, &alias, &friendcode, &addr, &kx, &display, &username, &bio, &avatar, &trust, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, E(KindStoreFailure, "store.get_peer", err)
	}
	p.Alias, p.Friendcode, p.Addr, p.KeyExchangePub = alias.String, friendcode.String, addr.String, kx.String
	p.DisplayName, p.Username, p.Bio, p.AvatarFileID = display.String, username.String, bio.String, avatar.String
	p.TrustState = TrustState(trust)
	p.LastSeen = lastSeen.String
	return &p, nil
}

// UpsertPeerAddress records a peer's dial address and key-exchange public
// key, e.g. from a decoded friendcode or a live connection.
func (s *Store) UpsertPeerAddress(ctx context.Context, peerID, addr, keyExchangePubHex string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO peers (id, addr, key_exchange_pub, trust_state) VALUES (?, ?, ?, 'unknown')
			ON CONFLICT(id) DO UPDATE SET addr = excluded.addr, key_exchange_pub = excluded.key_exchange_pub`,
			peerID, addr, keyExchangePubHex)
		if err != nil {
			return E(KindStoreFailure, "store.upsert_peer_address", err)
		}
		return nil
	})
}

// SetTrustState updates a peer's local trust classification.
func (s *Store) SetTrustState(ctx context.Context, peerID string, state TrustState) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO peers (id, trust_state) VALUES (?, ?)
			ON CONFLICT(id) DO UPDATE SET trust_state = excluded.trust_state`, peerID, string(state))
		if err != nil {
			return E(KindStoreFailure, "store.set_trust_state", err)
		}
		return nil
	})
}

// --- Blocklist (local) ---

// BlockPeer records a local block. Subsequent PostUpdates from this
// author materialize as redacted placeholders only (spec.md §8).
func (s *Store) BlockPeer(ctx context.Context, b BlockedPeer) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO blocked_peers (peer_id, reason, blocked_at) VALUES (?, ?, ?)
			ON CONFLICT(peer_id) DO UPDATE SET reason = excluded.reason`, b.PeerID, b.Reason, b.CreatedAt)
		if err != nil {
			return E(KindStoreFailure, "store.block_peer", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO peers (id, trust_state) VALUES (?, 'blocked')
			ON CONFLICT(id) DO UPDATE SET trust_state = 'blocked'`, b.PeerID)
		if err != nil {
			return E(KindStoreFailure, "store.block_peer.trust", err)
		}
		return nil
	})
}

// IsBlocked reports whether peerID is locally blocked (directly, not via
// a blocklist subscription — see IsAutoBlocked for that).
func (s *Store) IsBlocked(ctx context.Context, peerID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM blocked_peers WHERE peer_id = ?`, peerID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, E(KindStoreFailure, "store.is_blocked", err)
	}
	return true, nil
}

// UpsertBlocklistSubscription creates or updates a followed blocklist.
func (s *Store) UpsertBlocklistSubscription(ctx context.Context, b BlocklistSubscription) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO blocklist_subscriptions (id, maintainer_peer_id, name, description, auto_apply, last_synced_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				description = excluded.description,
				auto_apply = excluded.auto_apply,
				last_synced_at = excluded.last_synced_at`,
			b.ID, b.MaintainerID, b.Name, b.Description, boolToInt(b.AutoApply), b.LastSyncedAt)
		if err != nil {
			return E(KindStoreFailure, "store.upsert_blocklist_subscription", err)
		}
		return nil
	})
}

// AddBlocklistEntry attaches a peer to a maintainer's blocklist. The
// caller must have already verified the entry's envelope was signed by
// the subscription's maintainer (spec.md §3 Blocklist Subscription
// invariant) before calling this.
func (s *Store) AddBlocklistEntry(ctx context.Context, e BlocklistEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO blocklist_entries (blocklist_id, peer_id, reason, added_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(blocklist_id, peer_id) DO NOTHING`, e.BlocklistID, e.PeerID, e.Reason, e.AddedAt)
		if err != nil {
			return E(KindStoreFailure, "store.add_blocklist_entry", err)
		}
		return nil
	})
}

// IsAutoBlocked reports whether peerID appears in any auto-apply
// blocklist subscription.
func (s *Store) IsAutoBlocked(ctx context.Context, peerID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM blocklist_entries e
		JOIN blocklist_subscriptions s ON s.id = e.blocklist_id
		WHERE e.peer_id = ? AND s.auto_apply = 1
		LIMIT 1`, peerID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, E(KindStoreFailure, "store.is_auto_blocked", err)
	}
	return true, nil
}

// --- IP blocks ---

// AddIPBlock inserts a new exact or CIDR-range denylist entry.
func (s *Store) AddIPBlock(ctx context.Context, b IPBlock) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO ip_blocks (literal, block_type, blocked_at, reason, active, hit_count)
			VALUES (?, ?, ?, ?, ?, 0)`, b.Literal, string(b.Type), b.BlockedAt, b.Reason, boolToInt(b.Active))
		if err != nil {
			return E(KindStoreFailure, "store.add_ip_block", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return E(KindStoreFailure, "store.add_ip_block.last_id", err)
		}
		return nil
	})
	return id, err
}

// CheckIPBlocked reports whether ip matches any active exact or CIDR
// block, incrementing that entry's hit counter on a match (spec.md §4.7
// step 3).
func (s *Store) CheckIPBlocked(ctx context.Context, ip string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, literal, block_type FROM ip_blocks WHERE active = 1`)
	if err != nil {
		return false, E(KindStoreFailure, "store.check_ip_blocked", err)
	}
	parsedIP := net.ParseIP(ip)
	type candidate struct {
		id      int64
		literal string
		typ     string
	}
	var matches []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.literal, &c.typ); err != nil {
			rows.Close()
			return false, E(KindStoreFailure, "store.check_ip_blocked.scan", err)
		}
		hit := false
		if c.typ == string(BlockExact) {
			hit = strings.EqualFold(c.literal, ip)
		} else if parsedIP != nil {
			if _, cidr, err := net.ParseCIDR(c.literal); err == nil {
				hit = cidr.Contains(parsedIP)
			}
		}
		if hit {
			matches = append(matches, c)
		}
	}
	rows.Close()
	if len(matches) == 0 {
		return false, nil
	}
	for _, m := range matches {
		if err := s.withTx(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `UPDATE ip_blocks SET hit_count = hit_count + 1 WHERE id = ?`, m.id)
			return err
		}); err != nil {
			return true, E(KindStoreFailure, "store.check_ip_blocked.increment", err)
		}
	}
	return true, nil
}
