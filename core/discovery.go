package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	"github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"
)

// DhtStatus mirrors the original implementation's connectivity state
// machine (original_source/graphchan_backend/src/network.rs), reported
// to callers so the CLI/agent can tell a cold-start "still bootstrapping"
// apart from a genuinely unreachable DHT.
type DhtStatus int32

const (
	DhtChecking DhtStatus = iota
	DhtConnected
	DhtUnreachable
)

func (s DhtStatus) String() string {
	switch s {
	case DhtConnected:
		return "connected"
	case DhtUnreachable:
		return "unreachable"
	default:
		return "checking"
	}
}

const (
	dhtBootstrapTimeout = 30 * time.Second
	discoveryWindow     = 60 * time.Second
)

// Discovery wraps a Kademlia DHT bootstrapped against the gossip fabric's
// host, advertising and resolving per-topic rendezvous windows (spec.md
// §4.5's "per-topic keypair and salt" mapped onto real provider-record
// routing instead of raw DHT key-value RPCs — see SPEC_FULL.md §4.5).
type Discovery struct {
	kad    *dht.IpfsDHT
	routed *drouting.RoutingDiscovery
	status atomic.Int32

	mu        sync.Mutex
	advertised map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	logger *logrus.Logger
}

// NewDiscovery creates and bootstraps a DHT against the fabric's host.
// Bootstrap runs under a 30-second timeout; failure marks status
// unreachable but does not prevent construction — mDNS discovery still
// works without it.
func NewDiscovery(fabric *Fabric, bootstrapPeers []string, lg *logrus.Logger) (*Discovery, error) {
	ctx, cancel := context.WithCancel(context.Background())

	kad, err := dht.New(ctx, fabric.Host(), dht.Mode(dht.ModeAuto))
	if err != nil {
		cancel()
		return nil, E(KindInternal, "discovery.new", fmt.Errorf("create kad-dht: %w", err))
	}

	d := &Discovery{
		kad:        kad,
		routed:     drouting.NewRoutingDiscovery(kad),
		advertised: make(map[string]bool),
		ctx:        ctx,
		cancel:     cancel,
		logger:     lg,
	}
	d.status.Store(int32(DhtChecking))

	go d.bootstrap(fabric, bootstrapPeers)
	return d, nil
}

func (d *Discovery) bootstrap(fabric *Fabric, bootstrapPeers []string) {
	bootCtx, cancel := context.WithTimeout(d.ctx, dhtBootstrapTimeout)
	defer cancel()

	for _, addr := range bootstrapPeers {
		if err := connectPeerAddr(bootCtx, fabric.Host(), addr); err != nil {
			d.logger.WithError(err).WithField("addr", addr).Debug("discovery: bootstrap peer dial failed")
		}
	}

	if err := d.kad.Bootstrap(bootCtx); err != nil {
		d.logger.WithError(err).Warn("discovery: dht bootstrap failed")
		d.status.Store(int32(DhtUnreachable))
		return
	}

	select {
	case <-bootCtx.Done():
		if bootCtx.Err() == context.DeadlineExceeded {
			d.status.Store(int32(DhtUnreachable))
			return
		}
	default:
	}
	d.status.Store(int32(DhtConnected))
}

// Status reports the current DHT connectivity state.
func (d *Discovery) Status() DhtStatus { return DhtStatus(d.status.Load()) }

// rendezvousFor derives this window's rendezvous namespace for a gossip
// topic name (spec.md §4.5: "deterministic function of the topic name",
// rotated every ~60s window so lookups only ever cover the current and
// previous window).
func rendezvousFor(topic string, window int64) string {
	return fmt.Sprintf("orbweaver/%s/%d", topic, window)
}

func currentWindow() int64 {
	return time.Now().Unix() / int64(discoveryWindow.Seconds())
}

// Advertise publishes this node's presence for topic under the current
// rendezvous window, re-advertising automatically as windows roll over.
// Calling it twice for the same topic is a no-op; the backing loop keeps
// the advertisement fresh on its own.
func (d *Discovery) Advertise(topic string) {
	d.mu.Lock()
	if d.advertised[topic] {
		d.mu.Unlock()
		return
	}
	d.advertised[topic] = true
	d.mu.Unlock()

	go d.advertiseLoop(topic)
}

func (d *Discovery) advertiseLoop(topic string) {
	ticker := time.NewTicker(discoveryWindow)
	defer ticker.Stop()

	dutil.Advertise(d.ctx, d.routed, rendezvousFor(topic, currentWindow()))
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			dutil.Advertise(d.ctx, d.routed, rendezvousFor(topic, currentWindow()))
		}
	}
}

// FindPeers resolves peer addresses advertised for topic in the current
// and previous rendezvous windows (spec.md §4.5 "lookups cover current
// and previous windows").
func (d *Discovery) FindPeers(ctx context.Context, topic string) ([]PeerAddrInfo, error) {
	windows := []int64{currentWindow(), currentWindow() - 1}
	var out []PeerAddrInfo
	for _, w := range windows {
		ch, err := d.routed.FindPeers(ctx, rendezvousFor(topic, w))
		if err != nil {
			continue
		}
		for info := range ch {
			if len(info.Addrs) == 0 {
				continue
			}
			out = append(out, PeerAddrInfo{ID: info.ID.String(), Addrs: addrStrings(info.Addrs)})
		}
	}
	return out, nil
}

// Close tears down the DHT and its background loops.
func (d *Discovery) Close() error {
	d.cancel()
	return d.kad.Close()
}

// PeerAddrInfo is the transport-agnostic address shape returned by
// discovery, decoupled from libp2p's own peer.AddrInfo so callers outside
// this package never need to import libp2p core types.
type PeerAddrInfo struct {
	ID    string
	Addrs []string
}

func connectPeerAddr(ctx context.Context, h host.Host, addr string) error {
	info, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func addrStrings(addrs []multiaddr.Multiaddr) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}
