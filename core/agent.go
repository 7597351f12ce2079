package core

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Agent is the boundary interface an external agent process consumes
// (spec.md §4.10 / SPEC_FULL.md §4.10). It exposes exactly three verbs
// and holds no reasoning loop of its own — everything it does goes
// through the same local-action path a human-driven CLI call would use.
type Agent struct {
	store    *Store
	publish  *Publish
	identity *Identity
}

// NewAgent wires the agent boundary over the store and publication
// pipeline.
func NewAgent(store *Store, publish *Publish, id *Identity) *Agent {
	return &Agent{store: store, publish: publish, identity: id}
}

// RecentPosts returns up to limit posts, newest first, denormalized with
// author display names.
func (a *Agent) RecentPosts(ctx context.Context, limit int) ([]PostView, error) {
	return a.store.ListRecentPosts(ctx, limit)
}

// CreatePost posts body into threadID on the agent's behalf, going
// through the Publication Pipeline so the result is indistinguishable on
// the wire from a human post except for the optional metadata tag
// (spec.md §4.10).
func (a *Agent) CreatePost(ctx context.Context, threadID, body string, parents []string, meta json.RawMessage) (PostView, error) {
	post := Post{
		ID:            uuid.NewString(),
		ThreadID:      threadID,
		AuthorPeerID:  a.identity.LocalPeerID(),
		Body:          body,
		ParentPostIDs: parents,
		Metadata:      meta,
	}
	created, err := a.publish.CreatePost(ctx, post)
	if err != nil {
		return PostView{}, err
	}
	return PostView{Post: created}, nil
}

// GetPeer returns a cached peer by id.
func (a *Agent) GetPeer(ctx context.Context, peerID string) (Peer, error) {
	p, err := a.store.GetPeer(ctx, peerID)
	if err != nil {
		return Peer{}, err
	}
	if p == nil {
		return Peer{}, E(KindNotFound, "agent.get_peer", errPeerNotFound)
	}
	return *p, nil
}
