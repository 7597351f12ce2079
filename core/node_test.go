package core

import (
	"context"
	"testing"
)

func TestOptedOutOfGlobalDiscoveryDefaultsFalse(t *testing.T) {
	s := openTestStore(t)
	n := &Node{Store: s}
	out, err := n.optedOutOfGlobalDiscovery(context.Background())
	if err != nil {
		t.Fatalf("optedOutOfGlobalDiscovery: %v", err)
	}
	if out {
		t.Fatalf("expected unset opt_out_global_discovery to default to opted in")
	}
}

func TestOptedOutOfGlobalDiscoveryHonorsSetting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.SetSetting(ctx, "opt_out_global_discovery", "true"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	n := &Node{Store: s}
	out, err := n.optedOutOfGlobalDiscovery(ctx)
	if err != nil {
		t.Fatalf("optedOutOfGlobalDiscovery: %v", err)
	}
	if !out {
		t.Fatalf("expected opt_out_global_discovery=true to report opted out")
	}
}

func TestOptedOutOfGlobalDiscoveryRejectsNonTrueValues(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.SetSetting(ctx, "opt_out_global_discovery", "1"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	n := &Node{Store: s}
	out, err := n.optedOutOfGlobalDiscovery(ctx)
	if err != nil {
		t.Fatalf("optedOutOfGlobalDiscovery: %v", err)
	}
	if out {
		t.Fatalf("expected only the literal string %q to opt out, got true for %q", "true", "1")
	}
}
