package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/halodata/querygate/internal/endpoint"
)

// fakeGateway is a minimal HTTP gateway used to exercise the adapter.
type fakeGateway struct {
	mu       sync.Mutex
	loggedIn bool
	creates  []map[string]any
	deletes  [][]string
	events   []QueryStatusEvent
}

func (g *fakeGateway) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["token"] != "secret" {
			http.Error(w, "bad token", http.StatusUnauthorized)
			return
		}
		g.mu.Lock()
		g.loggedIn = true
		g.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"session": "s-1"})
	})

	mux.HandleFunc("GET /api/features", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(FeatureFlags{Version: "1.2.3"})
	})

	mux.HandleFunc("POST /api/queries", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		g.mu.Lock()
		g.creates = append(g.creates, body)
		serial := fmt.Sprintf("q-%d", len(g.creates))
		g.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"serial": serial})
	})

	mux.HandleFunc("POST /api/queries/delete", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Serials []string `json:"serials"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		g.mu.Lock()
		g.deletes = append(g.deletes, body.Serials)
		g.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /api/queries/events", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		events := g.events
		g.mu.Unlock()

		enc := json.NewEncoder(w)
		for _, ev := range events {
			_ = enc.Encode(ev)
		}
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		// Hold the stream open briefly like a real push channel.
		select {
		case <-r.Context().Done():
		case <-time.After(200 * time.Millisecond):
		}
	})

	return mux
}

func dialFake(t *testing.T, g *fakeGateway, token string) (Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(g.handler())
	t.Cleanup(server.Close)

	ep, err := endpoint.Parse(server.URL)
	if err != nil {
		t.Fatalf("Parse server URL: %v", err)
	}

	client, err := DialHTTP(context.Background(), HTTPClientConfig{Endpoint: ep, Token: token})
	if err != nil {
		t.Fatalf("DialHTTP failed: %v", err)
	}
	return client, server
}

func TestDialHTTPLogin(t *testing.T) {
	g := &fakeGateway{}
	client, _ := dialFake(t, g, "secret")
	defer func() { _ = client.Dispose(context.Background()) }()

	g.mu.Lock()
	loggedIn := g.loggedIn
	g.mu.Unlock()
	if !loggedIn {
		t.Error("login request never reached the gateway")
	}

	features, err := client.FetchFeatures(context.Background())
	if err != nil {
		t.Fatalf("FetchFeatures failed: %v", err)
	}
	if features.Version != "1.2.3" {
		t.Errorf("features = %+v", features)
	}
}

func TestDialHTTPRejectsBadToken(t *testing.T) {
	g := &fakeGateway{}
	server := httptest.NewServer(g.handler())
	defer server.Close()

	ep, err := endpoint.Parse(server.URL)
	if err != nil {
		t.Fatalf("Parse server URL: %v", err)
	}

	if _, err := DialHTTP(context.Background(), HTTPClientConfig{Endpoint: ep, Token: "wrong"}); err == nil {
		t.Error("DialHTTP succeeded with a bad token")
	}
}

func TestCreateAndDeleteQueries(t *testing.T) {
	g := &fakeGateway{}
	client, _ := dialFake(t, g, "secret")
	defer func() { _ = client.Dispose(context.Background()) }()

	serial, err := client.CreateQuery(context.Background(), CreateQueryRequest{
		Name:              "querygate-test",
		HeapGB:            4,
		Language:          "python",
		Queue:             "TemporaryQueue",
		AutoDeleteTimeout: time.Hour,
	})
	if err != nil {
		t.Fatalf("CreateQuery failed: %v", err)
	}
	if serial != "q-1" {
		t.Errorf("serial = %q", serial)
	}

	g.mu.Lock()
	create := g.creates[0]
	g.mu.Unlock()
	if create["name"] != "querygate-test" || create["queue"] != "TemporaryQueue" {
		t.Errorf("create body = %v", create)
	}
	if create["autoDeleteMs"] != float64(time.Hour.Milliseconds()) {
		t.Errorf("autoDeleteMs = %v", create["autoDeleteMs"])
	}

	if err := client.DeleteQueries(context.Background(), "q-1", "q-2"); err != nil {
		t.Fatalf("DeleteQueries failed: %v", err)
	}
	g.mu.Lock()
	deleted := g.deletes[0]
	g.mu.Unlock()
	if len(deleted) != 2 {
		t.Errorf("deleted = %v", deleted)
	}

	// Empty batch never issues a request.
	if err := client.DeleteQueries(context.Background()); err != nil {
		t.Errorf("empty DeleteQueries failed: %v", err)
	}
}

func TestEventStreamDelivery(t *testing.T) {
	g := &fakeGateway{
		events: []QueryStatusEvent{
			{Serial: "q-1", Status: StatusInitializing},
			{Serial: "q-1", Status: StatusRunning, GrpcURL: "worker:8124"},
		},
	}
	client, _ := dialFake(t, g, "secret")
	defer func() { _ = client.Dispose(context.Background()) }()

	received := make(chan QueryStatusEvent, 8)
	unsubscribe := client.SubscribeQueryEvents(func(ev QueryStatusEvent) {
		received <- ev
	})
	defer unsubscribe()

	var got []QueryStatusEvent
	deadline := time.After(3 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-received:
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("received %d events before timeout, want 2", len(got))
		}
	}
	if got[1].Status != StatusRunning || got[1].GrpcURL != "worker:8124" {
		t.Errorf("events = %+v", got)
	}
}
