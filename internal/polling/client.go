package polling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Tyrowin/roomhub/internal/event"
)

// Poll intervals used by Client.
const (
	ActiveInterval   = 2 * time.Second
	InactiveInterval = 10 * time.Second
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL is the server root, e.g. http://localhost:8080.
	BaseURL string
	RoomID  int64
	Limit   int
	// Authorize decorates every request with credentials.
	Authorize        func(*http.Request)
	HTTPClient       *http.Client
	ActiveInterval   time.Duration
	InactiveInterval time.Duration
}

// Client polls a room over HTTP. It remembers the highest id it has seen,
// so every event is delivered at most once even when polls overlap with
// its own pushes.
type Client struct {
	cfg  ClientConfig
	http *http.Client

	mu     sync.Mutex
	lastID int64
	active bool

	wake chan struct{}
}

// NewClient creates a Client. It starts active.
func NewClient(cfg ClientConfig) *Client {
	if cfg.ActiveInterval <= 0 {
		cfg.ActiveInterval = ActiveInterval
	}
	if cfg.InactiveInterval <= 0 {
		cfg.InactiveInterval = InactiveInterval
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{cfg: cfg, http: hc, active: true, wake: make(chan struct{}, 1)}
}

// LastID returns the highest event id delivered so far.
func (c *Client) LastID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastID
}

// SetActive switches between the active and inactive poll interval.
// Becoming active triggers an immediate poll.
func (c *Client) SetActive(active bool) {
	c.mu.Lock()
	was := c.active
	c.active = active
	c.mu.Unlock()

	if active && !was {
		select {
		case c.wake <- struct{}{}:
		default:
		}
	}
}

func (c *Client) interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return c.cfg.ActiveInterval
	}
	return c.cfg.InactiveInterval
}

// Run polls until ctx is cancelled, handing every new event to deliver in
// id order. Poll errors go to onErr, when set, and do not stop the loop.
func (c *Client) Run(ctx context.Context, deliver func(event.Outbound), onErr func(error)) error {
	for {
		events, err := c.Poll(ctx)
		if err != nil && onErr != nil && ctx.Err() == nil {
			onErr(err)
		}
		for _, ev := range events {
			deliver(ev)
		}

		timer := time.NewTimer(c.interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-c.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Poll fetches events newer than LastID once and returns those not seen
// before.
func (c *Client) Poll(ctx context.Context) ([]event.Outbound, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(c.LastID(), 10))
	if c.cfg.RoomID > 0 {
		q.Set("room_id", strconv.FormatInt(c.cfg.RoomID, 10))
	}
	if c.cfg.Limit > 0 {
		q.Set("limit", strconv.Itoa(c.cfg.Limit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/chat?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var resp PullResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return c.accept(resp.Messages), nil
}

// accept drops events at or below the high-water mark and advances it.
func (c *Client) accept(events []event.Outbound) []event.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()

	fresh := events[:0]
	for _, ev := range events {
		if ev.ID <= c.lastID {
			continue
		}
		c.lastID = ev.ID
		fresh = append(fresh, ev)
	}
	return fresh
}

// Send pushes a chat message to the client's room and returns its id.
func (c *Client) Send(ctx context.Context, text string) (int64, error) {
	body, err := json.Marshal(PushRequest{Message: text, RoomID: c.cfg.RoomID})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp PushResponse
	if err := c.do(req, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("polling: server returned %d: %s", e.Code, e.Message)
}

func (c *Client) do(req *http.Request, dst any) error {
	if c.cfg.Authorize != nil {
		c.cfg.Authorize(req)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		var e ErrorResponse
		_ = json.NewDecoder(res.Body).Decode(&e)
		return &StatusError{Code: res.StatusCode, Message: e.Error}
	}
	if err := json.NewDecoder(res.Body).Decode(dst); err != nil {
		return fmt.Errorf("polling: decode response: %w", err)
	}
	return nil
}
