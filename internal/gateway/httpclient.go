package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/halodata/querygate/internal/config"
	"github.com/halodata/querygate/internal/endpoint"
)

// httpClient is a thin JSON-over-HTTP adapter implementing Client so the
// binary can talk to a real gateway. The paths used here are an adapter
// detail, not a supported wire contract; the rest of the package only sees
// the Client interface.
type httpClient struct {
	ep      endpoint.Endpoint
	base    string
	http    *http.Client
	session string
	logger  *slog.Logger

	mu          sync.Mutex
	subs        map[int]func(QueryStatusEvent)
	nextSub     int
	streamStop  context.CancelFunc
	streamAlive bool
	closed      bool
}

// HTTPClientConfig holds dial parameters for the HTTP adapter.
type HTTPClientConfig struct {
	Endpoint endpoint.Endpoint
	// Token authenticates the login request.
	Token string
	// OperateAs, when set, asks the gateway to act on behalf of this user.
	OperateAs string
	Timeout   time.Duration
	Logger    *slog.Logger
}

// DialHTTP logs in to the gateway and returns an authenticated client.
func DialHTTP(ctx context.Context, cfg HTTPClientConfig) (Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultRequestTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &httpClient{
		ep:     cfg.Endpoint,
		base:   cfg.Endpoint.String(),
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: cfg.Logger,
		subs:   make(map[int]func(QueryStatusEvent)),
	}

	var resp struct {
		Session string `json:"session"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"token":     cfg.Token,
		"operateAs": cfg.OperateAs,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("gateway login failed: %w", err)
	}
	if resp.Session == "" {
		return nil, fmt.Errorf("gateway login failed: no session issued by %s", c.base)
	}

	c.session = resp.Session
	c.logger.Info("Authenticated to gateway", "endpoint", c.base)
	return c, nil
}

func (c *httpClient) Endpoint() endpoint.Endpoint { return c.ep }

func (c *httpClient) FetchFeatures(ctx context.Context) (*FeatureFlags, error) {
	var features FeatureFlags
	if err := c.doJSON(ctx, http.MethodGet, "/api/features", nil, &features); err != nil {
		return nil, err
	}
	return &features, nil
}

func (c *httpClient) Constants(ctx context.Context) (*ServerConstants, error) {
	var consts ServerConstants
	if err := c.doJSON(ctx, http.MethodGet, "/api/constants", nil, &consts); err != nil {
		return nil, err
	}
	return &consts, nil
}

func (c *httpClient) CreateQuery(ctx context.Context, req CreateQueryRequest) (string, error) {
	body := map[string]any{
		"name":         req.Name,
		"heapGb":       req.HeapGB,
		"language":     req.Language,
		"queue":        req.Queue,
		"autoDeleteMs": req.AutoDeleteTimeout.Milliseconds(),
		"jvmArgs":      req.JVMArgs,
	}
	var resp struct {
		Serial string `json:"serial"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/queries", body, &resp); err != nil {
		return "", err
	}
	if resp.Serial == "" {
		return "", fmt.Errorf("gateway returned no query serial")
	}
	return resp.Serial, nil
}

func (c *httpClient) DeleteQueries(ctx context.Context, serials ...string) error {
	if len(serials) == 0 {
		return nil
	}
	return c.doJSON(ctx, http.MethodPost, "/api/queries/delete", map[string]any{
		"serials": serials,
	}, nil)
}

func (c *httpClient) RunScript(ctx context.Context, serial, script string) (string, error) {
	var resp struct {
		Output string `json:"output"`
	}
	path := "/api/queries/" + url.PathEscape(serial) + "/script"
	if err := c.doJSON(ctx, http.MethodPost, path, map[string]string{"script": script}, &resp); err != nil {
		return "", err
	}
	return resp.Output, nil
}

// SubscribeQueryEvents registers fn and lazily starts the event stream
// reader on first subscription.
func (c *httpClient) SubscribeQueryEvents(fn func(QueryStatusEvent)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn

	if !c.streamAlive && !c.closed {
		streamCtx, cancel := context.WithCancel(context.Background())
		c.streamStop = cancel
		c.streamAlive = true
		go c.streamLoop(streamCtx)
	}
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *httpClient) Dispose(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.streamStop != nil {
		c.streamStop()
	}
	c.mu.Unlock()

	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/logout", nil, nil); err != nil {
		c.logger.Warn("Gateway logout failed", "endpoint", c.base, "error", err)
	}
	return nil
}

// streamLoop reads the gateway's line-delimited JSON event stream and
// dispatches events to subscribers, reconnecting with a fixed delay until
// the client is disposed.
func (c *httpClient) streamLoop(ctx context.Context) {
	const reconnectDelay = 2 * time.Second

	for {
		if err := c.readStream(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("Query event stream interrupted",
				"endpoint", c.base,
				"error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *httpClient) readStream(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/queries/events", nil)
	if err != nil {
		return err
	}
	c.decorate(req)

	// The stream is long-lived; the per-request timeout must not apply.
	streaming := &http.Client{Transport: c.http.Transport}
	resp, err := streaming.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream returned HTTP %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev QueryStatusEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			c.logger.Warn("Malformed query event dropped", "error", err)
			continue
		}
		c.dispatch(ev)
	}
	return scanner.Err()
}

func (c *httpClient) dispatch(ev QueryStatusEvent) {
	c.mu.Lock()
	subs := make([]func(QueryStatusEvent), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

func (c *httpClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.decorate(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s returned HTTP %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *httpClient) decorate(req *http.Request) {
	req.Header.Set("X-Request-Id", uuid.NewString())
	if c.session != "" {
		req.Header.Set("Authorization", "Bearer "+c.session)
	}
}
