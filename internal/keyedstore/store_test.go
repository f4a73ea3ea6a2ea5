package keyedstore

import (
	"testing"

	"github.com/halodata/querygate/internal/endpoint"
)

func mustParse(t *testing.T, raw string) endpoint.Endpoint {
	t.Helper()
	ep, err := endpoint.Parse(raw)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", raw, err)
	}
	return ep
}

func TestStoreSetGet(t *testing.T) {
	store := NewEndpointStore[string]()
	ep := mustParse(t, "http://localhost:10000")

	if store.Has(ep) {
		t.Error("expected empty store")
	}

	store.Set(ep, "first")
	got, ok := store.Get(ep)
	if !ok || got != "first" {
		t.Errorf("Get = %q, %v; want first, true", got, ok)
	}

	// Distinct endpoint value with the same address must hit the same slot.
	same := mustParse(t, "http://localhost:10000")
	if got, ok := store.Get(same); !ok || got != "first" {
		t.Errorf("Get with equal key = %q, %v; want first, true", got, ok)
	}

	store.Set(ep, "second")
	if got, _ := store.Get(ep); got != "second" {
		t.Errorf("overwrite failed, got %q", got)
	}
	if store.Len() != 1 {
		t.Errorf("Len = %d, want 1", store.Len())
	}
}

func TestStoreDelete(t *testing.T) {
	store := NewEndpointStore[int]()
	ep := mustParse(t, "http://localhost:10000")

	if store.Delete(ep) {
		t.Error("Delete on absent key reported removal")
	}

	store.Set(ep, 7)
	if !store.Delete(ep) {
		t.Error("Delete on present key reported no removal")
	}
	if store.Has(ep) {
		t.Error("key still present after delete")
	}
}

func TestStoreKeysAreValueEqualNotIdentical(t *testing.T) {
	store := NewEndpointStore[string]()
	a := mustParse(t, "http://localhost:10000")
	b := mustParse(t, "https://gateway.example.com:8123")
	store.Set(a, "a")
	store.Set(b, "b")

	keys := store.Keys()
	if len(keys) != 2 {
		t.Fatalf("Keys returned %d entries, want 2", len(keys))
	}

	found := map[string]bool{}
	for _, k := range keys {
		found[k.String()] = true
	}
	if !found[a.String()] || !found[b.String()] {
		t.Errorf("Keys missing entries: %v", found)
	}
}

func TestStoreForEach(t *testing.T) {
	store := NewEndpointStore[int]()
	store.Set(mustParse(t, "http://localhost:10000"), 1)
	store.Set(mustParse(t, "http://localhost:10001"), 2)

	sum := 0
	store.ForEach(func(_ endpoint.Endpoint, v int) {
		sum += v
	})
	if sum != 3 {
		t.Errorf("ForEach visited sum %d, want 3", sum)
	}
}

func TestStoreNotifications(t *testing.T) {
	store := NewEndpointStore[string]()
	ep := mustParse(t, "http://localhost:10000")

	var events []Event[endpoint.Endpoint]
	unsubscribe := store.Subscribe(func(ev Event[endpoint.Endpoint]) {
		events = append(events, ev)
	})

	store.Set(ep, "v")
	store.Delete(ep)

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Op != OpSet || events[0].Key != ep {
		t.Errorf("first event = %+v, want set of %v", events[0], ep)
	}
	if events[1].Op != OpDelete || events[1].Key != ep {
		t.Errorf("second event = %+v, want delete of %v", events[1], ep)
	}

	unsubscribe()
	store.Set(ep, "again")
	if len(events) != 2 {
		t.Errorf("subscriber called after unsubscribe, %d events", len(events))
	}
}

func TestStoreClearEmitsDeletes(t *testing.T) {
	store := NewEndpointStore[string]()
	store.Set(mustParse(t, "http://localhost:10000"), "a")
	store.Set(mustParse(t, "http://localhost:10001"), "b")

	deletes := 0
	store.Subscribe(func(ev Event[endpoint.Endpoint]) {
		if ev.Op == OpDelete {
			deletes++
		}
	})

	store.Clear()
	if store.Len() != 0 {
		t.Errorf("Len after Clear = %d, want 0", store.Len())
	}
	if deletes != 2 {
		t.Errorf("Clear emitted %d delete events, want 2", deletes)
	}
}
