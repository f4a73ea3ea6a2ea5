// Package keyedstore provides a dictionary for keys that have no useful
// native identity, such as endpoint values reconstructed from user input.
// Keys are canonicalized to strings through a pluggable codec and compared
// on the serialized form.
package keyedstore

import "sync"

// Codec is the bijection between keys and their canonical string form.
// Decode(Encode(k)) must produce a value equal to k.
type Codec[K any] interface {
	Encode(K) string
	Decode(string) (K, error)
}

// Op identifies the kind of mutation reported to subscribers.
type Op int

const (
	// OpSet is emitted when a key is inserted or overwritten.
	OpSet Op = iota
	// OpDelete is emitted when a key is removed, including via Clear.
	OpDelete
)

// Event describes one mutation of the store.
type Event[K any] struct {
	Op  Op
	Key K
}

// Store is a mutex-guarded dictionary keyed on the codec's serialized form.
//
// Keys returned by Keys and ForEach are reconstructed through the codec and
// are value-equal, never reference-equal, to the keys originally inserted.
// The store has no capacity bound; eviction is always caller-driven.
type Store[K, V any] struct {
	mu      sync.RWMutex
	codec   Codec[K]
	items   map[string]V
	subs    map[int]func(Event[K])
	nextSub int
}

// New creates an empty store over the given codec.
func New[K, V any](codec Codec[K]) *Store[K, V] {
	return &Store[K, V]{
		codec: codec,
		items: make(map[string]V),
		subs:  make(map[int]func(Event[K])),
	}
}

// Get returns the value for key and whether it is present.
func (s *Store[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.items[s.codec.Encode(key)]
	return v, ok
}

// Has reports whether key is present.
func (s *Store[K, V]) Has(key K) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.items[s.codec.Encode(key)]
	return ok
}

// Set inserts or replaces the value for key and notifies subscribers.
func (s *Store[K, V]) Set(key K, value V) {
	s.mu.Lock()
	s.items[s.codec.Encode(key)] = value
	subs := s.snapshotSubs()
	s.mu.Unlock()

	notify(subs, Event[K]{Op: OpSet, Key: key})
}

// Delete removes key if present, notifying subscribers. It reports whether
// an entry was removed.
func (s *Store[K, V]) Delete(key K) bool {
	encoded := s.codec.Encode(key)

	s.mu.Lock()
	_, ok := s.items[encoded]
	if ok {
		delete(s.items, encoded)
	}
	subs := s.snapshotSubs()
	s.mu.Unlock()

	if ok {
		notify(subs, Event[K]{Op: OpDelete, Key: key})
	}
	return ok
}

// Clear removes every entry, emitting one delete event per removed key.
func (s *Store[K, V]) Clear() {
	s.mu.Lock()
	removed := make([]K, 0, len(s.items))
	for encoded := range s.items {
		if key, err := s.codec.Decode(encoded); err == nil {
			removed = append(removed, key)
		}
	}
	s.items = make(map[string]V)
	subs := s.snapshotSubs()
	s.mu.Unlock()

	for _, key := range removed {
		notify(subs, Event[K]{Op: OpDelete, Key: key})
	}
}

// Len returns the number of entries.
func (s *Store[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Keys returns every key, reconstructed through the codec. Entries whose
// serialized key no longer decodes are skipped; this cannot happen when the
// codec is a true bijection.
func (s *Store[K, V]) Keys() []K {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]K, 0, len(s.items))
	for encoded := range s.items {
		if key, err := s.codec.Decode(encoded); err == nil {
			keys = append(keys, key)
		}
	}
	return keys
}

// Values returns every stored value.
func (s *Store[K, V]) Values() []V {
	s.mu.RLock()
	defer s.mu.RUnlock()

	values := make([]V, 0, len(s.items))
	for _, v := range s.items {
		values = append(values, v)
	}
	return values
}

// ForEach calls fn for every entry. Keys are reconstructed through the
// codec. The store lock is not held during fn, so fn may mutate the store.
func (s *Store[K, V]) ForEach(fn func(key K, value V)) {
	s.mu.RLock()
	type pair struct {
		key   K
		value V
	}
	pairs := make([]pair, 0, len(s.items))
	for encoded, v := range s.items {
		if key, err := s.codec.Decode(encoded); err == nil {
			pairs = append(pairs, pair{key: key, value: v})
		}
	}
	s.mu.RUnlock()

	for _, p := range pairs {
		fn(p.key, p.value)
	}
}

// Subscribe registers fn to be called after every mutation. The returned
// func removes the subscription.
func (s *Store[K, V]) Subscribe(fn func(Event[K])) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// snapshotSubs copies the subscriber list; callers must hold s.mu.
func (s *Store[K, V]) snapshotSubs() []func(Event[K]) {
	subs := make([]func(Event[K]), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	return subs
}

func notify[K any](subs []func(Event[K]), ev Event[K]) {
	for _, fn := range subs {
		fn(ev)
	}
}
