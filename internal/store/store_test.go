package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/TekiyoCorp/ID-sub000/internal/call"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "idcall.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func TestRegisterDeviceIsUpsert(t *testing.T) {
	s := openTestStore(t)

	first, err := s.RegisterDevice("p1", "Alice")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	second, err := s.RegisterDevice("p1", "Alice B")
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("re-register created a new device: %s vs %s", first.ID, second.ID)
	}
	device, err := s.DeviceByPeerID("p1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if device.DisplayName != "Alice B" {
		t.Fatalf("display name %q, want updated", device.DisplayName)
	}
}

func TestDeviceByPeerIDNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.DeviceByPeerID("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error %v, want ErrNotFound", err)
	}
}

func TestSaveSubscriptionReplacesPrevious(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.SaveSubscription("p1", "https://push/one", "key1", "auth1"); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if _, err := s.SaveSubscription("p1", "https://push/two", "key2", "auth2"); err != nil {
		t.Fatalf("second save: %v", err)
	}

	subs, err := s.SubscriptionsForPeer("p1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 1 || subs[0].Endpoint != "https://push/two" {
		t.Fatalf("subscriptions %+v, want only the latest", subs)
	}
}

func TestDeleteSubscription(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.SaveSubscription("p1", "https://push/one", "k", "a"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.DeleteSubscription("p1", "https://push/one"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteSubscription("p1", "https://push/one"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete error %v, want ErrNotFound", err)
	}
}

func TestRecordAndListCalls(t *testing.T) {
	s := openTestStore(t)
	base := time.Unix(1_700_000_000, 0)

	for i, phase := range []call.Phase{call.PhaseEnded, call.PhaseFailed} {
		snap := call.Snapshot{
			ID:        "s" + string(rune('1'+i)),
			Peer:      call.Peer{ID: "p2", DisplayName: "Peer"},
			Kind:      call.KindAudio,
			Direction: call.DirectionOutgoing,
			Phase:     phase,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			EndedAt:   base.Add(time.Duration(i)*time.Minute + 30*time.Second),
		}
		if _, err := s.RecordCall(snap); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	records, err := s.RecentCalls(10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	// Newest first.
	if records[0].SessionID != "s2" {
		t.Fatalf("order %s first, want s2", records[0].SessionID)
	}
	if records[1].Outcome != string(call.PhaseEnded) {
		t.Fatalf("outcome %q", records[1].Outcome)
	}
}
