package core

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrMissingRecipientKey is returned by Send when the recipient's
// key-exchange public key is not yet known locally (spec.md §4.9: "must
// be present; otherwise fail with a specific error asking the user to
// exchange a full friendcode"). It wraps ErrMissingKeyExchangeKey.
var ErrMissingRecipientKey = fmt.Errorf("%w; exchange a full friendcode first", ErrMissingKeyExchangeKey)

// DM implements the direct-message service (spec.md §4.9).
type DM struct {
	store    *Store
	fabric   *Fabric
	identity *Identity
	logger   *logrus.Logger
}

// NewDM wires the DM service.
func NewDM(store *Store, fabric *Fabric, id *Identity, lg *logrus.Logger) *DM {
	return &DM{store: store, fabric: fabric, identity: id, logger: lg}
}

// deriveConversationID hashes "dm-v1" plus the sorted peer-id pair, so
// either side of a conversation computes the same id (grounded on
// original_source/graphchan_backend/src/dms.rs).
func deriveConversationID(peerA, peerB string) string {
	pair := []string{peerA, peerB}
	sort.Strings(pair)
	data := append([]byte("dm-v1\x00"), []byte(pair[0]+"\x00"+pair[1])...)
	return HashBytes(data)
}

// Send encrypts body for recipient, persists it, updates the conversation
// rollup, and broadcasts the ciphertext envelope on peer-{local}.
func (d *DM) Send(ctx context.Context, recipientPeerID string, body []byte) (DirectMessage, error) {
	recipient, err := d.store.GetPeer(ctx, recipientPeerID)
	if err != nil {
		return DirectMessage{}, err
	}
	if recipient == nil || recipient.KeyExchangePub == "" {
		return DirectMessage{}, E(KindCryptoFailure, "dm.send", ErrMissingRecipientKey)
	}
	var recipientKX [32]byte
	kxBytes, err := hex.DecodeString(recipient.KeyExchangePub)
	if err != nil || len(kxBytes) != 32 {
		return DirectMessage{}, E(KindCryptoFailure, "dm.send", ErrMissingRecipientKey)
	}
	copy(recipientKX[:], kxBytes)

	cipherText, nonce, err := EncryptDM(d.identity, recipientKX, body)
	if err != nil {
		return DirectMessage{}, err
	}

	localPeerID := d.identity.LocalPeerID()
	msg := DirectMessage{
		ID:             uuid.NewString(),
		ConversationID: deriveConversationID(localPeerID, recipientPeerID),
		FromPeerID:     localPeerID,
		ToPeerID:       recipientPeerID,
		CipherText:     cipherText,
		Nonce:          nonce,
		CreatedAt:      nowISO8601(),
	}
	if err := d.store.InsertDirectMessage(ctx, msg); err != nil {
		return DirectMessage{}, err
	}
	if err := d.store.UpsertConversation(ctx, Conversation{
		ID:            msg.ConversationID,
		OtherPeerID:   recipientPeerID,
		LastMessageAt: msg.CreatedAt,
		Preview:       previewOf(body),
	}, false); err != nil {
		d.logger.WithError(err).Warn("dm.send: conversation rollup update failed")
	}

	env, err := SignEnvelope(d.identity, uuid.NewString(), EnvelopePayload{
		Kind: KindDirectMessage,
		DirectMessage: &DirectMessageWire{
			MessageID:      msg.ID,
			ConversationID: msg.ConversationID,
			FromPeerID:     msg.FromPeerID,
			ToPeerID:       msg.ToPeerID,
			CipherText:     msg.CipherText,
			Nonce:          msg.Nonce,
			CreatedAt:      msg.CreatedAt,
		},
	})
	if err != nil {
		return DirectMessage{}, err
	}
	if err := d.fabric.Publish(peerTopic(localPeerID), env); err != nil {
		d.logger.WithError(err).Warn("dm.send: broadcast failed")
	}
	return msg, nil
}

// decryptBody decrypts a DirectMessage record against the sender's
// key-exchange public key. Used both for the ingest preview hook and for
// GetMessages' on-demand decryption.
func (d *DM) decryptBody(ctx context.Context, m DirectMessage) ([]byte, error) {
	otherPeerID := m.FromPeerID
	if otherPeerID == d.identity.LocalPeerID() {
		otherPeerID = m.ToPeerID
	}
	peer, err := d.store.GetPeer(ctx, otherPeerID)
	if err != nil {
		return nil, err
	}
	if peer == nil || peer.KeyExchangePub == "" {
		return nil, E(KindBadInput, "dm.decrypt", ErrMissingRecipientKey)
	}
	kxBytes, err := hex.DecodeString(peer.KeyExchangePub)
	if err != nil || len(kxBytes) != 32 {
		return nil, E(KindBadInput, "dm.decrypt", ErrMissingRecipientKey)
	}
	var kx [32]byte
	copy(kx[:], kxBytes)
	return DecryptDM(d.identity, kx, m.CipherText, m.Nonce)
}

// DecryptPreviewHook returns a callback suitable for Ingest.SetDecryptPreview.
func (d *DM) DecryptPreviewHook() func(w *DirectMessageWire) ([]byte, bool) {
	return func(w *DirectMessageWire) ([]byte, bool) {
		body, err := d.decryptBody(context.Background(), DirectMessage{
			FromPeerID: w.FromPeerID,
			ToPeerID:   w.ToPeerID,
			CipherText: w.CipherText,
			Nonce:      w.Nonce,
		})
		if err != nil {
			return nil, false
		}
		return body, true
	}
}

// ListConversations returns all conversation rollups, most recent first.
func (d *DM) ListConversations(ctx context.Context) ([]Conversation, error) {
	return d.store.ListConversations(ctx)
}

// DecryptedMessage is a DM with its plaintext body resolved, or a warning
// in place of the body if decryption failed (spec.md §4.9 "skips
// undecryptable rows with a warning").
type DecryptedMessage struct {
	DirectMessage
	Body    []byte
	Warning string
}

// GetMessages returns up to limit messages for a conversation, decrypting
// each on demand.
func (d *DM) GetMessages(ctx context.Context, conversationID string, limit int) ([]DecryptedMessage, error) {
	rows, err := d.store.ListConversationMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]DecryptedMessage, 0, len(rows))
	for _, m := range rows {
		dm := DecryptedMessage{DirectMessage: m}
		body, err := d.decryptBody(ctx, m)
		if err != nil {
			dm.Warning = "could not decrypt message"
			d.logger.WithError(err).WithField("message", m.ID).Warn("dm.get_messages: decrypt failed")
		} else {
			dm.Body = body
		}
		out = append(out, dm)
	}
	return out, nil
}

// MarkRead marks a conversation's messages as read and zeroes its unread
// counter.
func (d *DM) MarkRead(ctx context.Context, conversationID string) error {
	return d.store.MarkConversationRead(ctx, conversationID)
}
