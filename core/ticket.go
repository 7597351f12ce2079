package core

import (
	"fmt"
	"strings"
)

// Ticket couples a blob hash with the peer address needed to fetch it
// (spec.md §6 "Blob ticket"), in a round-trippable string form.
type Ticket struct {
	PeerAddr string
	Hash     string
	Format   string
}

const ticketFormatRaw = "raw"

// String renders a ticket as "orbticket1:<format>:<hash>:<peer-addr>".
// The peer address is kept last since libp2p multiaddrs themselves
// contain colons.
func (t Ticket) String() string {
	return fmt.Sprintf("orbticket1:%s:%s:%s", t.Format, t.Hash, t.PeerAddr)
}

// NewTicket builds a ticket for a locally stored blob, addressed at this
// node's own libp2p multiaddr.
func NewTicket(peerAddr, hash string) Ticket {
	return Ticket{PeerAddr: peerAddr, Hash: hash, Format: ticketFormatRaw}
}

// ParseTicket parses the string form produced by Ticket.String.
func ParseTicket(s string) (Ticket, error) {
	parts := strings.SplitN(s, ":", 4)
	if len(parts) != 4 || parts[0] != "orbticket1" {
		return Ticket{}, E(KindBadInput, "ticket.parse", fmt.Errorf("malformed ticket"))
	}
	return Ticket{Format: parts[1], Hash: parts[2], PeerAddr: parts[3]}, nil
}
