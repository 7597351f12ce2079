package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2"
	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"
)

const dedupCacheSize = 8192

// InboundEnvelope pairs a decoded Envelope with the peer id it was
// physically delivered from, which is not necessarily its author
// (forwarders are not authors, spec.md §4.6).
type InboundEnvelope struct {
	DeliveredFrom string
	Envelope      Envelope
}

// Fabric is the gossip overlay: a libp2p host, a GossipSub router, and a
// memoized map of joined topics, generalizing the teacher's
// Node.Broadcast/Node.Subscribe shape (core/network.go) across the four
// topic categories this system uses.
type Fabric struct {
	host   host.Host
	pubsub *pubsub.PubSub

	topicsMu sync.RWMutex
	topics   map[string]*pubsub.Topic
	subs     map[string]*pubsub.Subscription

	dedup *lru.Cache[string, struct{}]

	ingest chan InboundEnvelope

	ctx    context.Context
	cancel context.CancelFunc
	logger *logrus.Logger
}

// NewFabric creates a libp2p host, joins GossipSub, and wires link-local
// discovery. The returned Fabric does not yet subscribe to any topics;
// callers drive that through JoinTopic.
func NewFabric(listenAddr, discoveryTag string, ingestCap int, lg *logrus.Logger) (*Fabric, error) {
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		cancel()
		return nil, E(KindInternal, "gossip.new_fabric", fmt.Errorf("create host: %w", err))
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, E(KindInternal, "gossip.new_fabric", fmt.Errorf("create pubsub: %w", err))
	}

	dedup, err := lru.New[string, struct{}](dedupCacheSize)
	if err != nil {
		h.Close()
		cancel()
		return nil, E(KindInternal, "gossip.new_fabric", err)
	}

	f := &Fabric{
		host:   h,
		pubsub: ps,
		topics: make(map[string]*pubsub.Topic),
		subs:   make(map[string]*pubsub.Subscription),
		dedup:  dedup,
		ingest: make(chan InboundEnvelope, ingestCap),
		ctx:    ctx,
		cancel: cancel,
		logger: lg,
	}

	if _, err := mdns.NewMdnsService(h, discoveryTag, f).Start(); err != nil {
		lg.WithError(err).Warn("gossip: mdns start failed, continuing without link-local discovery")
	}

	return f, nil
}

var _ mdns.Notifee = (*Fabric)(nil)

// HandlePeerFound implements mdns.Notifee: dial newly seen peers on the
// local network (spec.md §4.5 link-local discovery).
func (f *Fabric) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == f.host.ID() {
		return
	}
	if err := f.host.Connect(f.ctx, info); err != nil {
		f.logger.WithError(err).WithField("peer", info.ID.String()).Debug("gossip: mdns dial failed")
		return
	}
	f.logger.WithField("peer", info.ID.String()).Info("gossip: connected via mdns")
}

// Host returns the underlying libp2p host, used by the blob transfer
// protocol and the DHT discovery component.
func (f *Fabric) Host() host.Host { return f.host }

// Ingest returns the channel every topic forwarder feeds. Exactly one
// consumer (the ingest pipeline) drains it.
func (f *Fabric) Ingest() <-chan InboundEnvelope { return f.ingest }

// JoinTopic joins (idempotently) and starts forwarding a topic's messages
// into the shared ingest channel. Safe to call twice for the same topic:
// the second call is a no-op (spec.md §4.6 "subscribing twice yields one
// logical membership").
func (f *Fabric) JoinTopic(name string) error {
	f.topicsMu.Lock()
	if _, ok := f.subs[name]; ok {
		f.topicsMu.Unlock()
		return nil
	}
	t, ok := f.topics[name]
	if !ok {
		var err error
		t, err = f.pubsub.Join(name)
		if err != nil {
			f.topicsMu.Unlock()
			return E(KindTransientNetwork, "gossip.join_topic", err)
		}
		f.topics[name] = t
	}
	sub, err := t.Subscribe()
	if err != nil {
		f.topicsMu.Unlock()
		return E(KindTransientNetwork, "gossip.join_topic", err)
	}
	f.subs[name] = sub
	f.topicsMu.Unlock()

	go f.forward(name, sub)
	return nil
}

func (f *Fabric) forward(topicName string, sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(f.ctx)
		if err != nil {
			if f.ctx.Err() == nil {
				f.logger.WithError(err).WithField("topic", topicName).Warn("gossip: subscription lagged or closed")
			}
			return
		}

		var env Envelope
		if err := decodeEnvelope(msg.Data, &env); err != nil {
			f.logger.WithError(err).Debug("gossip: undecodable envelope, dropped")
			continue
		}

		dedupKey := env.AuthorPeerID + "|" + env.EnvelopeID
		if _, seen := f.dedup.Get(dedupKey); seen {
			continue
		}
		f.dedup.Add(dedupKey, struct{}{})

		select {
		case f.ingest <- InboundEnvelope{DeliveredFrom: msg.GetFrom().String(), Envelope: env}:
		case <-f.ctx.Done():
			return
		}
	}
}

// Publish serializes env and publishes it on name, joining the topic
// first if not already joined (publish-only topics, e.g. a freshly
// created thread's own topic, don't need a forwarder yet — but joining
// also subscribes us, which is the desired behavior per spec.md §4.8's
// "subscribe to thread-{thread_id}" instruction).
func (f *Fabric) Publish(name string, env *Envelope) error {
	if err := f.JoinTopic(name); err != nil {
		return err
	}
	data, err := encodeEnvelope(env)
	if err != nil {
		return E(KindInternal, "gossip.publish", err)
	}
	f.topicsMu.RLock()
	t := f.topics[name]
	f.topicsMu.RUnlock()
	if err := t.Publish(f.ctx, data); err != nil {
		return E(KindTransientNetwork, "gossip.publish", err)
	}
	return nil
}

// Close tears down the host and cancels all forwarder goroutines.
func (f *Fabric) Close() error {
	f.cancel()
	return f.host.Close()
}

// LocalHostID returns the libp2p host's peer id string.
func (f *Fabric) LocalHostID() string { return f.host.ID().String() }

// Topic name helpers (spec.md §6 "Topic names").

func peerTopic(peerID string) string   { return "peer-" + peerID }
func threadTopic(threadID string) string { return "thread-" + threadID }
func namedTopic(name string) string    { return "topic:" + name }

const globalTopic = "global"
