package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/clicker-client/internal/apperr"
	"github.com/DoyleJ11/clicker-client/internal/logging"
	"github.com/DoyleJ11/clicker-client/pkg/types"
)

// Credentials is what the client needs from the credential store.
type Credentials interface {
	Token() string
	// Renew returns a token newer than stale, refreshing if needed.
	Renew(ctx context.Context, stale string) (string, error)
	Clear(ctx context.Context) error
}

// Client is the REST client for the game backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	log        *zap.Logger

	mu         sync.RWMutex
	creds      Credentials
	onAuthLost func()
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout bounds every request. Zero disables the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
		timeout:    10 * time.Second,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("api")
	return c
}

// SetCredentials attaches the token source. Until it is set every request is anonymous.
func (c *Client) SetCredentials(creds Credentials) {
	c.mu.Lock()
	c.creds = creds
	c.mu.Unlock()
}

// OnAuthLost registers the hook run after a refresh fails and credentials are cleared.
func (c *Client) OnAuthLost(fn func()) {
	c.mu.Lock()
	c.onAuthLost = fn
	c.mu.Unlock()
}

func (c *Client) credentials() Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds
}

func (c *Client) authLost() {
	c.mu.RLock()
	fn := c.onAuthLost
	c.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

type request struct {
	op     string
	method string
	path   string
	body   any
	form   url.Values

	// token, when set, is sent as is and a 401 is final.
	token    string
	explicit bool
}

type response struct {
	status int
	body   []byte
}

// do sends req, retrying once with a renewed token after a 401.
func (c *Client) do(ctx context.Context, req request, out any) error {
	creds := c.credentials()

	token := req.token
	if !req.explicit && creds != nil {
		token = creds.Token()
	}

	resp, err := c.send(ctx, req, token)
	if err != nil {
		return err
	}

	if resp.status == http.StatusUnauthorized && !req.explicit && creds != nil {
		fresh, rerr := creds.Renew(ctx, token)
		if rerr != nil {
			c.log.Warn("session expired", zap.String("op", req.op), zap.Error(rerr))
			if cerr := creds.Clear(ctx); cerr != nil {
				c.log.Warn("clear credentials", zap.Error(cerr))
			}
			c.authLost()
			return statusError(req.op, resp)
		}
		c.log.Debug("retrying with renewed token", zap.String("op", req.op), logging.Token(fresh))
		if resp, err = c.send(ctx, req, fresh); err != nil {
			return err
		}
	}

	if resp.status >= 400 {
		return statusError(req.op, resp)
	}
	if out == nil || len(resp.body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return apperr.Parse(req.op, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, req request, token string) (response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	contentType := ""
	switch {
	case req.form != nil:
		body = strings.NewReader(req.form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case req.body != nil:
		data, err := json.Marshal(req.body)
		if err != nil {
			return response{}, fmt.Errorf("%s: marshal request: %w", req.op, err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return response{}, fmt.Errorf("%s: create request: %w", req.op, err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return response{}, apperr.Connection(req.op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, apperr.Connection(req.op, fmt.Errorf("read response: %w", err))
	}
	return response{status: resp.StatusCode, body: data}, nil
}

func statusError(op string, resp response) error {
	msg := detailOf(resp.body)
	if resp.status == http.StatusUnauthorized {
		return &apperr.Error{Kind: apperr.KindAuth, Op: op, Status: resp.status, Message: msg}
	}
	return apperr.Request(op, resp.status, msg, nil)
}

// detailOf extracts FastAPI's "detail", which is a string or a list of validation errors.
func detailOf(body []byte) string {
	var plain types.ErrorBody
	if err := json.Unmarshal(body, &plain); err == nil {
		return plain.Detail
	}
	var validation struct {
		Detail []struct {
			Msg string `json:"msg"`
		} `json:"detail"`
	}
	if err := json.Unmarshal(body, &validation); err == nil && len(validation.Detail) > 0 {
		return validation.Detail[0].Msg
	}
	return ""
}

// IsUnauthorized reports whether err came from a 401 response.
func IsUnauthorized(err error) bool {
	var e *apperr.Error
	return errors.As(err, &e) && e.Status == http.StatusUnauthorized
}
