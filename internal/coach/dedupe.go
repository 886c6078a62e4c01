package coach

import "container/list"

// DefaultDedupeCapacity is how many error signatures a conversation
// remembers.
const DefaultDedupeCapacity = 256

// signatureSet is a bounded set that forgets its least recently added
// entries first.
type signatureSet struct {
	capacity int
	order    *list.List
	entries  map[string]*list.Element
}

func newSignatureSet(capacity int) *signatureSet {
	if capacity <= 0 {
		capacity = DefaultDedupeCapacity
	}
	return &signatureSet{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// Add records sig and reports whether it was new.
func (s *signatureSet) Add(sig string) bool {
	if el, ok := s.entries[sig]; ok {
		s.order.MoveToFront(el)
		return false
	}
	s.entries[sig] = s.order.PushFront(sig)
	for s.order.Len() > s.capacity {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.entries, oldest.Value.(string))
	}
	return true
}

func (s *signatureSet) Len() int {
	return s.order.Len()
}
