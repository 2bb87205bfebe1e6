package ledger

import (
	"sync"

	"prop-ledger/models"
)

// Listener receives every published snapshot
type Listener func(models.LedgerSnapshot)

type subscribers struct {
	mu        sync.RWMutex
	next      int
	listeners map[int]Listener
}

func newSubscribers() *subscribers {
	return &subscribers{listeners: make(map[int]Listener)}
}

func (s *subscribers) add(l Listener) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.listeners[id] = l
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *subscribers) publish(snap models.LedgerSnapshot) {
	s.mu.RLock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.RUnlock()

	for _, l := range listeners {
		l(snap.Clone())
	}
}

func (s *subscribers) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners)
}
