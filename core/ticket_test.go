package core

import "testing"

func TestTicketRoundTrip(t *testing.T) {
	tk := NewTicket("/ip4/127.0.0.1/tcp/4001/p2p/abc123", "deadbeef")
	s := tk.String()
	parsed, err := ParseTicket(s)
	if err != nil {
		t.Fatalf("ParseTicket: %v", err)
	}
	if parsed != tk {
		t.Fatalf("round-trip mismatch: got %+v want %+v", parsed, tk)
	}
}

func TestParseTicketRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"not-a-ticket",
		"orbticket1:raw",
		"wrongprefix:raw:hash:addr",
	}
	for _, c := range cases {
		if _, err := ParseTicket(c); err == nil {
			t.Fatalf("expected error parsing %q", c)
		}
	}
}

func TestTicketPeerAddrMayContainColons(t *testing.T) {
	tk := NewTicket("/ip4/127.0.0.1/tcp/4001/p2p/abc:def", "deadbeef")
	parsed, err := ParseTicket(tk.String())
	if err != nil {
		t.Fatalf("ParseTicket: %v", err)
	}
	if parsed.PeerAddr != tk.PeerAddr {
		t.Fatalf("peer addr with embedded colon not preserved: got %q want %q", parsed.PeerAddr, tk.PeerAddr)
	}
}
