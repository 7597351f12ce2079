package core

import (
	"context"

	"github.com/sirupsen/logrus"
)

// NodeConfig is the subset of configuration Node needs to assemble its
// components. Callers typically populate this from pkg/config.Config.
type NodeConfig struct {
	DataDir          string
	DBPath           string
	BlobsDir         string
	ListenAddr       string
	DiscoveryTag     string
	IngestBufferSize int
	BootstrapPeers   []string
	OptedInGlobal    bool
}

// Node wires every component service into one running process: identity,
// store, blob store, gossip fabric, DHT discovery, blob transfer, ingest,
// publication pipeline, DM service, and the agent boundary. Grounded on
// the teacher's core/network.go Node, which plays the same assembling
// role for its own libp2p host and subsystem goroutines.
type Node struct {
	Identity *Identity
	Store    *Store
	Blobs    *BlobStore
	Fabric   *Fabric
	Disco    *Discovery
	Transfer *BlobTransfer
	Ingest   *Ingest
	Publish  *Publish
	DM       *DM
	Agent    *Agent

	logger *logrus.Logger
	cancel context.CancelFunc
}

// NewNode constructs every component in dependency order. Construction
// already starts the mDNS service, the DHT bootstrap goroutine and the
// blob stream handler; joining topics and the ingest loop wait for Run.
func NewNode(cfg NodeConfig, lg *logrus.Logger) (*Node, error) {
	if lg == nil {
		lg = logrus.New()
	}

	id, err := LoadOrCreateIdentity(cfg.DataDir, lg)
	if err != nil {
		return nil, err
	}

	store, err := OpenStore(cfg.DBPath, lg)
	if err != nil {
		return nil, err
	}

	blobs, err := OpenBlobStore(cfg.BlobsDir, lg)
	if err != nil {
		return nil, err
	}

	fabric, err := NewFabric(cfg.ListenAddr, cfg.DiscoveryTag, cfg.IngestBufferSize, lg)
	if err != nil {
		return nil, err
	}

	disco, err := NewDiscovery(fabric, cfg.BootstrapPeers, lg)
	if err != nil {
		return nil, err
	}

	transfer := NewBlobTransfer(fabric.Host(), blobs, lg)
	// No IP-block lookup is wired: envelopes carry only the delivering
	// peer's libp2p id, never a raw address, so that check stays off
	// until a transport exposes one.
	ingest := NewIngest(store, blobs, fabric, transfer, id, lg)

	publish := NewPublish(store, blobs, fabric, id, OptedInFlags{Global: cfg.OptedInGlobal}, lg)
	dm := NewDM(store, fabric, id, lg)
	ingest.SetDecryptPreview(dm.DecryptPreviewHook())
	agent := NewAgent(store, publish, id)

	return &Node{
		Identity: id,
		Store:    store,
		Blobs:    blobs,
		Fabric:   fabric,
		Disco:    disco,
		Transfer: transfer,
		Ingest:   ingest,
		Publish:  publish,
		DM:       dm,
		Agent:    agent,
		logger:   lg,
	}, nil
}

// Run starts the ingest loop and joins the node's own peer topic so
// ThreadAnnouncements and DMs addressed to it are received. It blocks
// until ctx is cancelled or Close is called.
func (n *Node) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	if err := n.Fabric.JoinTopic(peerTopic(n.Identity.LocalPeerID())); err != nil {
		cancel()
		return err
	}

	optedOut, err := n.optedOutOfGlobalDiscovery(ctx)
	if err != nil {
		n.logger.WithError(err).Warn("node.run: reading opt_out_global_discovery setting failed, defaulting to opted in")
	}
	if !optedOut {
		if err := n.Fabric.JoinTopic(globalTopic); err != nil {
			n.logger.WithError(err).Warn("node.run: failed to join global topic")
		}
		n.Disco.Advertise(globalTopic)
	}

	n.Ingest.Run(runCtx)
	return nil
}

// optedOutOfGlobalDiscovery reports the opt_out_global_discovery setting
// (spec.md §6 settings table), gating this node's own subscription to and
// DHT advertisement on the global topic. This is distinct from
// OptedInFlags.Global (NewNode/cfg.OptedInGlobal), which only gates
// whether this node's own announcements are broadcast outbound; a node
// can still listen on the global topic while declining to announce, or
// (via this setting) opt out of the topic entirely.
func (n *Node) optedOutOfGlobalDiscovery(ctx context.Context) (bool, error) {
	val, ok, err := n.Store.GetSetting(ctx, "opt_out_global_discovery")
	if err != nil {
		return false, err
	}
	return ok && val == "true", nil
}

// JoinThread subscribes to a thread's topic so PostUpdates for it reach
// this node's ingest loop, and advertises the node under that topic's
// DHT rendezvous so other interested peers can find it.
func (n *Node) JoinThread(threadID string) error {
	if err := n.Fabric.JoinTopic(threadTopic(threadID)); err != nil {
		return err
	}
	n.Disco.Advertise(threadTopic(threadID))
	return nil
}

// JoinTag subscribes to a named-tag topic, the cross-thread channel
// threads are announced on by subject (spec.md §4.6 "topic:{name}").
func (n *Node) JoinTag(name string) error {
	if err := n.Fabric.JoinTopic(namedTopic(name)); err != nil {
		return err
	}
	n.Disco.Advertise(namedTopic(name))
	return nil
}

// Close shuts down every component in reverse construction order.
func (n *Node) Close() error {
	if n.cancel != nil {
		n.cancel()
	}
	if err := n.Disco.Close(); err != nil {
		n.logger.WithError(err).Warn("node.close: discovery")
	}
	if err := n.Fabric.Close(); err != nil {
		n.logger.WithError(err).Warn("node.close: fabric")
	}
	return n.Store.Close()
}
