// Package supabase implements service.Service against a hosted Supabase
// project: GoTrue auth, PostgREST, Storage and the Realtime websocket.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fasthttp/websocket"
	"golang.org/x/oauth2"

	"tasksync/internal/credstore"
	"tasksync/internal/service"
)

const (
	// APITimeout is the timeout for API calls.
	APITimeout = 5 * time.Second

	// UploadTimeout is the default timeout for object uploads.
	UploadTimeout = 60 * time.Second

	// HeartbeatInterval is how often the realtime socket is pinged.
	HeartbeatInterval = 25 * time.Second

	// JoinTimeout bounds the wait for the channel join reply.
	JoinTimeout = 10 * time.Second

	// maxResponseSize caps response bodies read into memory.
	maxResponseSize = 8 << 20
)

// Options configures a Client.
type Options struct {
	// URL is the project URL, e.g. https://abc.supabase.co.
	URL string

	// AnonKey is the project's public API key.
	AnonKey string

	Schema string
	Table  string
	Bucket string

	// Sessions persists the session between runs. Defaults to memory.
	Sessions credstore.Storage

	// HTTPClient is used for every HTTP call. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Dialer opens the realtime websocket. Defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// UploadTimeout overrides the object upload timeout.
	UploadTimeout time.Duration

	// HeartbeatInterval overrides the realtime heartbeat period.
	HeartbeatInterval time.Duration

	// JoinTimeout overrides the realtime join timeout.
	JoinTimeout time.Duration

	Logger *slog.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Client implements service.Service against a hosted project.
type Client struct {
	baseURL string
	anonKey string
	opts    Options
	logger  *slog.Logger

	// httpClient carries no credentials; authedClient adds the session token.
	httpClient   *http.Client
	authedClient *http.Client

	auth     *Auth
	rest     *Rest
	storage  *Storage
	realtime *Realtime
}

// New creates a client and restores any persisted session.
func New(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, errors.New("supabase url must not be empty")
	}
	if opts.AnonKey == "" {
		return nil, errors.New("supabase anon key must not be empty")
	}
	if _, err := url.Parse(opts.URL); err != nil {
		return nil, fmt.Errorf("invalid supabase url: %w", err)
	}
	if opts.Schema == "" {
		opts.Schema = "public"
	}
	if opts.Table == "" {
		opts.Table = "tasks"
	}
	if opts.Sessions == nil {
		opts.Sessions = &credstore.Memory{}
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = UploadTimeout
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = HeartbeatInterval
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = JoinTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Client{
		baseURL:    strings.TrimRight(opts.URL, "/"),
		anonKey:    opts.AnonKey,
		opts:       opts,
		logger:     opts.Logger,
		httpClient: opts.HTTPClient,
	}

	auth, err := newAuth(c, opts.Sessions)
	if err != nil {
		return nil, err
	}
	c.auth = auth

	base := opts.HTTPClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	c.authedClient = &http.Client{
		Transport: &oauth2.Transport{Source: auth, Base: base},
		Timeout:   opts.HTTPClient.Timeout,
	}

	c.rest = &Rest{c: c, schema: opts.Schema, table: opts.Table}
	c.storage = &Storage{c: c, bucket: opts.Bucket}
	c.realtime = &Realtime{c: c, subs: make(map[*subscription]struct{})}
	return c, nil
}

// Auth implements service.Service.
func (c *Client) Auth() service.Auth { return c.auth }

// Tasks implements service.Service.
func (c *Client) Tasks() service.TaskStore { return c.rest }

// Changes implements service.Service.
func (c *Client) Changes() service.ChangeFeed { return c.realtime }

// Storage implements service.Service.
func (c *Client) Storage() service.ObjectStore { return c.storage }

// ObjectStore returns the storage client. Useful when pairing hosted storage
// with another backend.
func (c *Client) ObjectStore() *Storage { return c.storage }

// Close unsubscribes every open realtime subscription.
func (c *Client) Close() error {
	return c.realtime.closeAll()
}

// doRequest performs an HTTP request against the project and returns the
// response body. Non-2xx responses return an *APIError.
func (c *Client) doRequest(ctx context.Context, httpClient *http.Client, method, path string, query url.Values, header http.Header, body io.Reader) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range header {
		for _, v := range values {
			request.Header.Add(key, v)
		}
	}
	request.Header.Set("apikey", c.anonKey)

	response, err := httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}
	return nil, parseAPIError(response.StatusCode, responseBody)
}

// jsonBody encodes v as a request body.
func jsonBody(v any) (io.Reader, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	return bytes.NewReader(encoded), nil
}
