package core

import (
	"encoding/json"
	"time"
)

// PayloadKind is the closed tagged-union discriminant carried by every
// Envelope. Unknown kinds are logged and dropped at ingest, never stored
// for later replay (see DESIGN.md Open Question 1).
type PayloadKind string

const (
	KindThreadAnnouncement PayloadKind = "thread_announcement"
	KindPostUpdate         PayloadKind = "post_update"
	KindFileAvailable      PayloadKind = "file_available"
	KindFileRequest        PayloadKind = "file_request"
	KindFileChunk          PayloadKind = "file_chunk"
	KindProfileUpdate      PayloadKind = "profile_update"
	KindReactionUpdate     PayloadKind = "reaction_update"
	KindDirectMessage      PayloadKind = "direct_message"
)

// Envelope is the signed, typed unit of gossip exchange (spec.md §6).
type Envelope struct {
	AuthorPeerID string          `json:"author_peer_id"`
	Timestamp    string          `json:"timestamp"`
	EnvelopeID   string          `json:"envelope_id"`
	Signature    string          `json:"signature"`
	Payload      EnvelopePayload `json:"payload"`
}

// EnvelopePayload carries the discriminant and the kind-specific fields.
// Exactly one of the Xxx pointer fields is non-nil, selected by Kind.
type EnvelopePayload struct {
	Kind PayloadKind `json:"kind"`

	ThreadAnnouncement *ThreadAnnouncement `json:"thread_announcement,omitempty"`
	PostUpdate         *PostUpdate         `json:"post_update,omitempty"`
	FileAvailable      *FileAvailable      `json:"file_available,omitempty"`
	FileRequest        *FileRequest        `json:"file_request,omitempty"`
	FileChunk          *FileChunk          `json:"file_chunk,omitempty"`
	ProfileUpdate      *ProfileUpdate      `json:"profile_update,omitempty"`
	ReactionUpdate     *ReactionUpdate     `json:"reaction_update,omitempty"`
	DirectMessage      *DirectMessageWire  `json:"direct_message,omitempty"`
}

// signingBytes returns the canonical bytes the signature covers: payload,
// author, and timestamp, in a stable field order. Re-marshaling the
// envelope after signing (rather than re-deriving these bytes) would risk
// map-key reordering bugs, so signing always happens over this exact shape.
func signingBytes(authorPeerID, timestamp string, payload EnvelopePayload) ([]byte, error) {
	type signed struct {
		Author    string          `json:"author_peer_id"`
		Timestamp string          `json:"timestamp"`
		Payload   EnvelopePayload `json:"payload"`
	}
	return json.Marshal(signed{Author: authorPeerID, Timestamp: timestamp, Payload: payload})
}

func nowISO8601() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// NowISO8601 exposes the envelope timestamp format for callers outside
// the package (e.g. the CLI) that need to stamp a record the same way.
func NowISO8601() string {
	return nowISO8601()
}

func encodeEnvelope(env *Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func decodeEnvelope(data []byte, env *Envelope) error {
	return json.Unmarshal(data, env)
}

// ThreadAnnouncement is the payload broadcast whenever a thread is created
// or re-announced by a hosting peer (spec.md §4.7/§4.8).
type ThreadAnnouncement struct {
	ThreadID      string   `json:"thread_id"`
	CreatorPeerID string   `json:"creator_peer_id"`
	AnnouncerID   string   `json:"announcer_peer_id"`
	Title         string   `json:"title"`
	Preview       string   `json:"preview"`
	Ticket        string   `json:"ticket"`
	PostCount     int      `json:"post_count"`
	HasImages     bool     `json:"has_images"`
	CreatedAt     string   `json:"created_at"`
	LastActivity  string   `json:"last_activity"`
	ThreadHash    string   `json:"thread_hash"`
	Visibility    string   `json:"visibility"`
	Topics        []string `json:"topics,omitempty"`
}

// PostUpdate carries a single post plus the thread's recomputed hash.
type PostUpdate struct {
	ID             string          `json:"id"`
	ThreadID       string          `json:"thread_id"`
	AuthorPeerID   string          `json:"author_peer_id"`
	Body           string          `json:"body"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at,omitempty"`
	ParentPostIDs  []string        `json:"parent_post_ids,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	ThreadHash     string          `json:"thread_hash,omitempty"`
}

// FileAvailable announces a file attached to a post, with enough
// information for a remote peer to decide whether to fetch it.
type FileAvailable struct {
	FileID       string `json:"file_id"`
	PostID       string `json:"post_id"`
	ThreadID     string `json:"thread_id"`
	OriginalName string `json:"original_name"`
	Mime         string `json:"mime"`
	SizeBytes    int64  `json:"size_bytes"`
	Checksum     string `json:"checksum"`
	BlobID       string `json:"blob_id"`
	Ticket       string `json:"ticket"`
}

// FileRequest is a direct payload asking the announcer to send a chunk.
type FileRequest struct {
	FileID string `json:"file_id"`
}

// FileChunk is a direct payload carrying the full byte content of a file.
// Despite the name this module does not fragment large files into multiple
// chunks (the blob transfer protocol in core/blobtransfer.go handles that
// streaming path); FileChunk exists for small attachments pushed inline
// over gossip, matching the original's direct-delivery fallback.
type FileChunk struct {
	FileID string `json:"file_id"`
	Data   []byte `json:"data"`
}

// ProfileUpdate carries a peer's self-asserted profile fields.
type ProfileUpdate struct {
	DisplayName string `json:"display_name,omitempty"`
	Username    string `json:"username,omitempty"`
	Bio         string `json:"bio,omitempty"`
	AvatarFileID string `json:"avatar_file_id,omitempty"`
}

// ReactionUpdate carries a single signed reaction.
type ReactionUpdate struct {
	PostID       string `json:"post_id"`
	ReactorPeerID string `json:"reactor_peer_id"`
	Emoji        string `json:"emoji"`
	Signature    string `json:"signature"`
	CreatedAt    string `json:"created_at"`
}

// DirectMessageWire is the encrypted DM payload as it travels on the wire.
type DirectMessageWire struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	FromPeerID     string `json:"from_peer_id"`
	ToPeerID       string `json:"to_peer_id"`
	CipherText     []byte `json:"ciphertext"`
	Nonce          []byte `json:"nonce"`
	CreatedAt      string `json:"created_at"`
}
