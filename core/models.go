package core

// Relational data model (spec.md §3), column shape grounded on
// original_source/graphchan_backend/src/database/mod.rs.

// TrustState classifies how the local node regards a peer.
type TrustState string

const (
	TrustUnknown TrustState = "unknown"
	TrustTrusted TrustState = "trusted"
	TrustBlocked TrustState = "blocked"
)

// Visibility classifies a thread's access model.
type Visibility string

const (
	VisibilityPublicSocial  Visibility = "public-social"
	VisibilityPrivateKeyed  Visibility = "private-keyed"
)

// DownloadStatus tracks a File's local transfer state.
type DownloadStatus string

const (
	DownloadAbsent     DownloadStatus = "absent"
	DownloadInProgress DownloadStatus = "downloading"
	DownloadAvailable  DownloadStatus = "available"
	DownloadFailed     DownloadStatus = "failed"
)

// BlockType classifies an IPBlock entry.
type BlockType string

const (
	BlockExact BlockType = "exact"
	BlockRange BlockType = "range"
)

// Peer is a node's cached view of another participant.
type Peer struct {
	ID             string
	Alias          string
	Friendcode     string
	Addr           string
	KeyExchangePub string // hex-encoded 32 bytes, empty if unknown
	DisplayName    string
	Username       string
	Bio            string
	AvatarFileID   string
	TrustState     TrustState
	LastSeen       string
}

// Thread is a discussion thread's identity record.
type Thread struct {
	ID            string
	Title         string
	CreatorPeerID string
	CreatedAt     string
	Pinned        bool
	Ignored       bool
	Rebroadcast   bool // host=true, leech=false
	Deleted       bool
	Visibility    Visibility
	ThreadSecret  []byte // present only for private-keyed threads, at rest for the creator
	ThreadHash    string
}

// Post is a single message within a thread.
type Post struct {
	ID            string
	ThreadID      string
	AuthorPeerID  string
	Body          string
	CreatedAt     string
	UpdatedAt     string
	ParentPostIDs []string
	Metadata      []byte // opaque, e.g. agent tag
	Redacted      bool
	RedactedReason string
}

// File is a single attachment bound to a post.
type File struct {
	ID           string
	PostID       string
	Path         string
	OriginalName string
	Mime         string
	SizeBytes    int64
	Checksum     string
	BlobID       string
	Ticket       string
	Status       DownloadStatus
}

// Reaction is a single signed emoji reaction on a post.
type Reaction struct {
	PostID        string
	ReactorPeerID string
	Emoji         string
	Signature     string
	CreatedAt     string
}

// BlockedPeer is a local-only blocklist entry.
type BlockedPeer struct {
	PeerID    string
	Reason    string
	CreatedAt string
}

// BlocklistSubscription is a maintainer-curated blocklist this node follows.
type BlocklistSubscription struct {
	ID            string
	MaintainerID  string
	Name          string
	Description   string
	AutoApply     bool
	LastSyncedAt  string
}

// BlocklistEntry is a single peer listed within a BlocklistSubscription.
type BlocklistEntry struct {
	BlocklistID string
	PeerID      string
	Reason      string
	AddedAt     string
}

// IPBlock is an exact-IP or CIDR-range denylist row.
type IPBlock struct {
	ID        int64
	Literal   string
	Type      BlockType
	BlockedAt string
	Reason    string
	Active    bool
	HitCount  int64
}

// DirectMessage is a single encrypted DM record.
type DirectMessage struct {
	ID             string
	ConversationID string
	FromPeerID     string
	ToPeerID       string
	CipherText     []byte
	Nonce          []byte
	CreatedAt      string
	ReadAt         string
}

// Conversation is the derived DM rollup for a peer pair.
type Conversation struct {
	ID              string
	OtherPeerID     string
	LastMessageAt   string
	Preview         string
	UnreadCount     int
}

// ThreadMemberKey wraps a private thread's symmetric secret for one member.
type ThreadMemberKey struct {
	ThreadID     string
	MemberPeerID string
	WrappedKey   []byte
	Nonce        []byte
}

// ThreadTicket is the latest known blob ticket for a thread's snapshot.
type ThreadTicket struct {
	ThreadID string
	Ticket   string
}

// PostView is a denormalized read model joining a post with its author's
// display name, used by the agent boundary and thread-rendering callers.
type PostView struct {
	Post
	AuthorDisplayName string
}
