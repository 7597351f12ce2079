package core

import "testing"

func TestTopicNameHelpersAreDisjointNamespaces(t *testing.T) {
	if peerTopic("x") == threadTopic("x") {
		t.Fatalf("peer and thread topics for the same id must not collide")
	}
	if peerTopic("x") == namedTopic("x") {
		t.Fatalf("peer and named topics for the same name must not collide")
	}
	if threadTopic("x") == namedTopic("x") {
		t.Fatalf("thread and named topics for the same name must not collide")
	}
	if peerTopic("x") == globalTopic || threadTopic("x") == globalTopic || namedTopic("x") == globalTopic {
		t.Fatalf("no derived topic may collide with the global topic constant")
	}
}

func TestTopicNameHelpersEmbedTheirArgument(t *testing.T) {
	if peerTopic("abc") != "peer-abc" {
		t.Fatalf("unexpected peer topic name: %q", peerTopic("abc"))
	}
	if threadTopic("abc") != "thread-abc" {
		t.Fatalf("unexpected thread topic name: %q", threadTopic("abc"))
	}
	if namedTopic("abc") != "topic:abc" {
		t.Fatalf("unexpected named topic name: %q", namedTopic("abc"))
	}
}
