package core

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Publish implements the Publication Pipeline (spec.md §4.8): turning a
// local thread-create or post-create into envelopes broadcast on the
// right topics, and a blob snapshot for new threads.
type Publish struct {
	store    *Store
	blobs    *BlobStore
	fabric   *Fabric
	identity *Identity
	opted    OptedInFlags
	logger   *logrus.Logger
}

// OptedInFlags gates whether local publications also reach the global
// topic, matching spec.md §4.8's "on global (if opted-in)" clause.
type OptedInFlags struct {
	Global bool
}

// NewPublish wires the publication pipeline.
func NewPublish(store *Store, blobs *BlobStore, fabric *Fabric, id *Identity, opted OptedInFlags, lg *logrus.Logger) *Publish {
	return &Publish{store: store, blobs: blobs, fabric: fabric, identity: id, opted: opted, logger: lg}
}

// threadSnapshot is the canonical JSON manifest stored in the blob store
// on thread creation (spec.md §4.8 "serialize the full thread + posts +
// files manifest as canonical JSON").
type threadSnapshot struct {
	Thread Thread `json:"thread"`
	Posts  []Post `json:"posts"`
	Files  []File `json:"files"`
}

// CreateThread performs a local thread-create: persists the thread and
// its opening post, snapshots it to the blob store, and broadcasts a
// ThreadAnnouncement on peer-{local}, global (if opted-in), and every
// tagged topic.
func (p *Publish) CreateThread(ctx context.Context, t Thread, openingPost Post, topics []string) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt == "" {
		t.CreatedAt = nowISO8601()
	}
	if openingPost.ID == "" {
		openingPost.ID = uuid.NewString()
	}
	openingPost.ThreadID = t.ID
	if openingPost.CreatedAt == "" {
		openingPost.CreatedAt = nowISO8601()
	}

	if err := p.store.UpsertThread(ctx, t); err != nil {
		return err
	}
	if err := p.store.CreatePost(ctx, openingPost); err != nil {
		return err
	}

	posts, err := p.store.ListPostsByThread(ctx, t.ID)
	if err != nil {
		return err
	}
	hash := computeThreadHash(posts)
	if err := p.store.SetThreadHash(ctx, t.ID, hash); err != nil {
		return err
	}

	ticket, err := p.snapshotAndTicket(ctx, t, posts)
	if err != nil {
		return err
	}
	if err := p.store.SetThreadTicket(ctx, t.ID, ticket.String()); err != nil {
		return err
	}

	announcement := &ThreadAnnouncement{
		ThreadID:      t.ID,
		CreatorPeerID: t.CreatorPeerID,
		AnnouncerID:   p.identity.LocalPeerID(),
		Title:         t.Title,
		Preview:       previewOf([]byte(openingPost.Body)),
		Ticket:        ticket.String(),
		PostCount:     len(posts),
		HasImages:     false,
		CreatedAt:     t.CreatedAt,
		LastActivity:  openingPost.CreatedAt,
		ThreadHash:    hash,
		Visibility:    string(t.Visibility),
		Topics:        topics,
	}
	return p.broadcastAnnouncement(ctx, announcement, topics)
}

func (p *Publish) broadcastAnnouncement(ctx context.Context, a *ThreadAnnouncement, topics []string) error {
	env, err := SignEnvelope(p.identity, uuid.NewString(), EnvelopePayload{
		Kind:               KindThreadAnnouncement,
		ThreadAnnouncement: a,
	})
	if err != nil {
		return err
	}

	targets := []string{peerTopic(p.identity.LocalPeerID())}
	if p.opted.Global {
		targets = append(targets, globalTopic)
	}
	for _, name := range topics {
		targets = append(targets, namedTopic(name))
	}

	var firstErr error
	for _, t := range targets {
		if err := p.fabric.Publish(t, env); err != nil {
			p.logger.WithError(err).WithField("topic", t).Warn("publish: announcement broadcast failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// CreatePost performs a local post-create: persists the post, recomputes
// the thread hash, publishes a PostUpdate on thread-{thread_id}, and
// re-announces if the thread is host (rebroadcast=true). Leech threads
// suppress the re-announcement but still publish the PostUpdate.
func (p *Publish) CreatePost(ctx context.Context, post Post) (Post, error) {
	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	if post.CreatedAt == "" {
		post.CreatedAt = nowISO8601()
	}

	if err := p.store.CreatePost(ctx, post); err != nil {
		return Post{}, err
	}

	t, err := p.store.GetThread(ctx, post.ThreadID)
	if err != nil {
		return Post{}, err
	}
	if t == nil {
		return Post{}, E(KindNotFound, "publish.create_post", errThreadNotFound)
	}

	posts, err := p.store.ListPostsByThread(ctx, post.ThreadID)
	if err != nil {
		return Post{}, err
	}
	hash := computeThreadHash(posts)
	if err := p.store.SetThreadHash(ctx, post.ThreadID, hash); err != nil {
		return Post{}, err
	}

	update := &PostUpdate{
		ID:            post.ID,
		ThreadID:      post.ThreadID,
		AuthorPeerID:  post.AuthorPeerID,
		Body:          post.Body,
		CreatedAt:     post.CreatedAt,
		ParentPostIDs: post.ParentPostIDs,
		Metadata:      post.Metadata,
		ThreadHash:    hash,
	}
	env, err := SignEnvelope(p.identity, uuid.NewString(), EnvelopePayload{Kind: KindPostUpdate, PostUpdate: update})
	if err != nil {
		return Post{}, err
	}
	if err := p.fabric.Publish(threadTopic(post.ThreadID), env); err != nil {
		p.logger.WithError(err).Warn("publish: post update broadcast failed")
	}

	if t.Rebroadcast {
		ticket, snapErr := p.snapshotAndTicket(ctx, *t, posts)
		if snapErr != nil {
			p.logger.WithError(snapErr).Warn("publish: re-announcement snapshot failed")
			return post, nil
		}
		if err := p.store.SetThreadTicket(ctx, t.ID, ticket.String()); err != nil {
			p.logger.WithError(err).Warn("publish: re-announcement ticket update failed")
		}
		announcement := &ThreadAnnouncement{
			ThreadID:      t.ID,
			CreatorPeerID: t.CreatorPeerID,
			AnnouncerID:   p.identity.LocalPeerID(),
			Title:         t.Title,
			Ticket:        ticket.String(),
			PostCount:     len(posts),
			CreatedAt:     t.CreatedAt,
			LastActivity:  post.CreatedAt,
			ThreadHash:    hash,
			Visibility:    string(t.Visibility),
		}
		if err := p.broadcastAnnouncement(ctx, announcement, nil); err != nil {
			p.logger.WithError(err).Warn("publish: re-announcement broadcast failed")
		}
	}

	return post, nil
}

// AttachFile stores data in the blob store, records a File row against
// post, and broadcasts a FileAvailable announcement on the post's thread
// topic (spec.md §4.7's FileAvailable payload).
func (p *Publish) AttachFile(ctx context.Context, postID, originalName, mime string, data []byte) (File, error) {
	post, err := p.store.GetPost(ctx, postID)
	if err != nil {
		return File{}, err
	}
	if post == nil {
		return File{}, E(KindNotFound, "publish.attach_file", errPostNotFound)
	}

	blobID, err := p.blobs.Put(data)
	if err != nil {
		return File{}, err
	}
	ticket := NewTicket(p.localAddr(), blobID)

	f := File{
		ID:           uuid.NewString(),
		PostID:       postID,
		OriginalName: originalName,
		Mime:         mime,
		SizeBytes:    int64(len(data)),
		Checksum:     blobID,
		BlobID:       blobID,
		Ticket:       ticket.String(),
		Status:       DownloadAvailable,
	}
	if err := p.store.UpsertFile(ctx, f); err != nil {
		return File{}, err
	}

	announcement := &FileAvailable{
		FileID:       f.ID,
		PostID:       postID,
		ThreadID:     post.ThreadID,
		OriginalName: originalName,
		Mime:         mime,
		SizeBytes:    f.SizeBytes,
		Checksum:     blobID,
		BlobID:       blobID,
		Ticket:       ticket.String(),
	}
	env, err := SignEnvelope(p.identity, uuid.NewString(), EnvelopePayload{Kind: KindFileAvailable, FileAvailable: announcement})
	if err != nil {
		return File{}, err
	}
	if err := p.fabric.Publish(threadTopic(post.ThreadID), env); err != nil {
		p.logger.WithError(err).Warn("publish: file announcement broadcast failed")
	}
	return f, nil
}

func (p *Publish) snapshotAndTicket(ctx context.Context, t Thread, posts []Post) (Ticket, error) {
	var files []File
	for _, post := range posts {
		fs, err := p.store.ListFilesByPost(ctx, post.ID)
		if err != nil {
			return Ticket{}, err
		}
		files = append(files, fs...)
	}
	data, err := json.Marshal(threadSnapshot{Thread: t, Posts: posts, Files: files})
	if err != nil {
		return Ticket{}, E(KindInternal, "publish.snapshot", err)
	}
	blobID, err := p.blobs.Put(data)
	if err != nil {
		return Ticket{}, err
	}
	return NewTicket(p.localAddr(), blobID), nil
}

// localAddr returns this node's own dialable multiaddr for embedding in
// tickets, read from the fabric's libp2p host on each call. It is empty
// when there is no fabric or the host has no listen address (same-process
// tests can still exercise the rest of the pipeline without a live address).
func (p *Publish) localAddr() string {
	if p.fabric == nil {
		return ""
	}
	addrs := p.fabric.Host().Addrs()
	if len(addrs) == 0 {
		return ""
	}
	return addrs[0].String() + "/p2p/" + p.fabric.LocalHostID()
}

// computeThreadHash derives a deterministic content hash over a thread's
// posts, recomputed only on local writes (see DESIGN.md Open Question 2):
// inbound PostUpdate envelopes carry their author's own recomputation,
// which ingest stores as the thread's hash without recomputing it.
func computeThreadHash(posts []Post) string {
	sorted := make([]Post, len(posts))
	copy(sorted, posts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	type hashable struct {
		ID        string `json:"id"`
		Body      string `json:"body"`
		CreatedAt string `json:"created_at"`
	}
	items := make([]hashable, len(sorted))
	for i, p := range sorted {
		items[i] = hashable{ID: p.ID, Body: p.Body, CreatedAt: p.CreatedAt}
	}
	data, _ := json.Marshal(items)
	return HashBytes(data)
}
