package discovery

import (
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestService(t *testing.T, selfID string, cb Callbacks) *Service {
	t.Helper()
	s, err := New(selfID, "test-device", []string{"chum"}, 8765, zap.NewNop(), cb)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.conn.Close() })
	return s
}

func TestHandleAnnouncementIgnoresSelf(t *testing.T) {
	s := newTestService(t, "self-device", Callbacks{})
	data, _ := json.Marshal(Announcement{DeviceID: "self-device", Port: 8765, Capabilities: []string{"chum"}})
	s.handleAnnouncement(data, "10.0.0.1")
	if len(s.Peers()) != 0 {
		t.Fatalf("expected self-announcement to be ignored")
	}
}

func TestHandleAnnouncementDiscoversNewPeer(t *testing.T) {
	var discovered Peer
	calls := 0
	s := newTestService(t, "self-device", Callbacks{OnDiscovered: func(p Peer) {
		discovered = p
		calls++
	}})

	data, _ := json.Marshal(Announcement{DeviceID: "peer-1", Port: 9999, Capabilities: []string{"chum"}})
	s.handleAnnouncement(data, "10.0.0.2")

	if calls != 1 {
		t.Fatalf("expected OnDiscovered called once, got %d", calls)
	}
	if discovered.DeviceID != "peer-1" || discovered.Address != "10.0.0.2" {
		t.Fatalf("unexpected peer: %+v", discovered)
	}

	// A second announcement from the same peer updates LastSeen but does
	// not re-fire OnDiscovered.
	s.handleAnnouncement(data, "10.0.0.2")
	if calls != 1 {
		t.Fatalf("expected OnDiscovered not called again for known peer, got %d calls", calls)
	}
}

func TestHandleAnnouncementIgnoresMalformed(t *testing.T) {
	s := newTestService(t, "self-device", Callbacks{})
	s.handleAnnouncement([]byte("not json"), "10.0.0.2")
	if len(s.Peers()) != 0 {
		t.Fatalf("expected malformed announcement to be dropped")
	}
}

func TestEvictRemovesStalePeers(t *testing.T) {
	var lost string
	s := newTestService(t, "self-device", Callbacks{OnLost: func(id string) { lost = id }})

	data, _ := json.Marshal(Announcement{DeviceID: "peer-1", Port: 1, Capabilities: nil})
	s.handleAnnouncement(data, "10.0.0.2")

	now := time.Now()
	s.evict(now) // well within peerExpiry, nothing evicted
	if len(s.Peers()) != 1 {
		t.Fatalf("expected peer to survive a fresh eviction check")
	}

	s.evict(now.Add(peerExpiry + time.Second))
	if len(s.Peers()) != 0 {
		t.Fatalf("expected stale peer to be evicted")
	}
	if lost != "peer-1" {
		t.Fatalf("expected OnLost(peer-1), got %q", lost)
	}
}
