package orchestrator

import (
	"sync"

	"github.com/TekiyoCorp/ID-sub000/internal/call"
)

// observerSet fans published snapshots out to subscribers. Sends never
// block the run loop: when a subscriber lags, its oldest pending
// snapshot is dropped, so the latest state always gets through.
type observerSet struct {
	mu       sync.Mutex
	subs     map[int]chan call.Snapshot
	next     int
	snapshot *call.Snapshot
}

func newObserverSet() *observerSet {
	return &observerSet{
		subs: make(map[int]chan call.Snapshot),
	}
}

func (s *observerSet) add() (<-chan call.Snapshot, func()) {
	ch := make(chan call.Snapshot, 32)
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *observerSet) publish(snap call.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot = &snap
	for _, ch := range s.subs {
		for {
			select {
			case ch <- snap:
			default:
				select {
				case <-ch:
					continue
				default:
				}
			}
			break
		}
	}
}

// clear resets the published snapshot after a terminal phase drained.
func (s *observerSet) clear() {
	s.mu.Lock()
	s.snapshot = nil
	s.mu.Unlock()
}

func (s *observerSet) last() *call.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return nil
	}
	snap := *s.snapshot
	return &snap
}
