// P2P header gossip over libp2p
package p2p

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/richmills3/bitcoin-sv/internal/logger"
	"github.com/richmills3/bitcoin-sv/pkg/chain"
	"github.com/richmills3/bitcoin-sv/pkg/config"
)

// HeaderAnnouncement is the wire form of a block header broadcast to peers
type HeaderAnnouncement struct {
	Hash      string `json:"hash"`
	Parent    string `json:"parent"`
	Height    int64  `json:"height"`
	Bits      uint32 `json:"bits"`
	BlockTime int64  `json:"blocktime"`
}

// Manager gossips block headers between nodes. Received announcements feed
// the chain state, which in turn drives the safe-mode monitor through its
// tip hooks.
type Manager struct {
	config     config.P2PConfig
	log        *logger.Logger
	chainState *chain.ChainState

	host  host.Host
	dht   *dht.IpfsDHT
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription

	cancel context.CancelFunc
}

// NewManager creates a P2P manager bound to the chain state
func NewManager(cfg config.P2PConfig, chainState *chain.ChainState, log *logger.Logger) *Manager {
	return &Manager{
		config:     cfg,
		log:        log,
		chainState: chainState,
	}
}

// Start brings up the libp2p host, joins the headers topic and begins
// processing announcements
func (m *Manager) Start(ctx context.Context) error {
	ctx, m.cancel = context.WithCancel(ctx)

	h, err := libp2p.New(libp2p.ListenAddrStrings(m.config.ListenAddrs...))
	if err != nil {
		return fmt.Errorf("failed to create libp2p host: %w", err)
	}
	m.host = h

	// Kademlia DHT for peer discovery
	m.dht, err = dht.New(ctx, h)
	if err != nil {
		return fmt.Errorf("failed to create DHT: %w", err)
	}
	if err := m.dht.Bootstrap(ctx); err != nil {
		return fmt.Errorf("failed to bootstrap DHT: %w", err)
	}

	m.connectBootstrapPeers(ctx)

	m.ps, err = pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return fmt.Errorf("failed to create gossipsub: %w", err)
	}

	m.topic, err = m.ps.Join(m.config.HeadersTopic)
	if err != nil {
		return fmt.Errorf("failed to join headers topic: %w", err)
	}

	m.sub, err = m.topic.Subscribe()
	if err != nil {
		return fmt.Errorf("failed to subscribe to headers topic: %w", err)
	}

	go m.receiveLoop(ctx)

	m.log.WithFields(logger.Fields{
		"peer_id": h.ID().String(),
		"topic":   m.config.HeadersTopic,
		"addrs":   m.config.ListenAddrs,
	}).Info("P2P header gossip started")

	return nil
}

// Stop shuts the manager down
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.sub != nil {
		m.sub.Cancel()
	}
	if m.topic != nil {
		m.topic.Close()
	}
	if m.host != nil {
		m.host.Close()
	}
	m.log.Info("P2P manager stopped")
}

// PeerCount returns the number of connected peers
func (m *Manager) PeerCount() int {
	if m.host == nil {
		return 0
	}
	return len(m.host.Network().Peers())
}

// Announce publishes a header to the gossip topic
func (m *Manager) Announce(ctx context.Context, idx *chain.BlockIndex) error {
	if m.topic == nil {
		return nil
	}

	ann := HeaderAnnouncement{
		Hash:      idx.Hash.String(),
		Height:    idx.Height,
		Bits:      idx.Bits,
		BlockTime: idx.BlockTime,
	}
	if idx.Parent != nil {
		ann.Parent = idx.Parent.Hash.String()
	}

	data, err := json.Marshal(ann)
	if err != nil {
		return err
	}
	return m.topic.Publish(ctx, data)
}

func (m *Manager) connectBootstrapPeers(ctx context.Context) {
	for _, addr := range m.config.BootstrapPeers {
		maddr, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			m.log.WithError(err).WithField("addr", addr).Warn("Invalid bootstrap address")
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			m.log.WithError(err).WithField("addr", addr).Warn("Invalid bootstrap peer")
			continue
		}
		if err := m.host.Connect(ctx, *info); err != nil {
			m.log.WithError(err).WithField("peer", info.ID.String()).Warn("Bootstrap connect failed")
			continue
		}
		m.log.WithField("peer", info.ID.String()).Info("Connected to bootstrap peer")
	}
}

// receiveLoop applies announced headers to the chain state
func (m *Manager) receiveLoop(ctx context.Context) {
	for {
		msg, err := m.sub.Next(ctx)
		if err != nil {
			return // subscription cancelled
		}
		if msg.ReceivedFrom == m.host.ID() {
			continue
		}

		var ann HeaderAnnouncement
		if err := json.Unmarshal(msg.Data, &ann); err != nil {
			m.log.WithError(err).Debug("Discarding malformed header announcement")
			continue
		}

		m.applyAnnouncement(&ann)
	}
}

func (m *Manager) applyAnnouncement(ann *HeaderAnnouncement) {
	hash, err := chain.ParseHash(ann.Hash)
	if err != nil {
		m.log.WithError(err).Debug("Discarding announcement with bad hash")
		return
	}
	parent, err := chain.ParseHash(ann.Parent)
	if err != nil {
		m.log.WithError(err).Debug("Discarding announcement with bad parent hash")
		return
	}

	m.chainState.Lock.Lock()
	_, err = m.chainState.AddHeader(hash, parent, ann.Bits, ann.BlockTime)
	m.chainState.Lock.Unlock()

	if err != nil {
		// Unknown parents are routine while a peer is ahead of us
		m.log.WithError(err).WithField("hash", ann.Hash).Debug("Header announcement not applied")
		return
	}

	m.log.WithFields(logger.Fields{
		"hash":   ann.Hash,
		"height": ann.Height,
	}).Debug("Header accepted from gossip")
}
