package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"storefront/internal/domain/cart"
	"storefront/internal/domain/user"
)

// CredentialStore gives the client read access to the persisted
// credential pair and lets it rotate the access token after a renewal.
// The session manager owns everything else about the stored session.
type CredentialStore interface {
	AccessToken() string
	RefreshToken() string
	SetAccessToken(token string) error
}

// Config holds client construction parameters.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	ClientID string // stable install identifier, sent as X-Client-Id
}

// Client performs requests against the remote commerce service. It
// attaches the current access credential on every call that needs one
// and transparently recovers from an expired access token: exactly one
// renewal per original request, with concurrent renewals collapsed
// into a single in-flight attempt.
type Client struct {
	base     string
	hc       *http.Client
	creds    CredentialStore
	clientID string
	log      zerolog.Logger

	onInvalid func()

	mu       sync.Mutex
	renewing *renewal
}

// New creates a Client. creds may serve empty tokens; calls that need
// authentication will then fail with ErrUnauthenticated server-side.
func New(cfg Config, creds CredentialStore, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:     trimSlash(cfg.BaseURL),
		hc:       &http.Client{Timeout: timeout},
		creds:    creds,
		clientID: cfg.ClientID,
		log:      log,
	}
}

// OnSessionInvalid registers the hook fired after a failed renewal,
// once per failed attempt. The session manager uses it to purge the
// session and publish the navigation intent.
func (c *Client) OnSessionInvalid(fn func()) { c.onInvalid = fn }

// Login exchanges credentials for a token pair. role is optional and
// sent only when non-empty.
func (c *Client) Login(ctx context.Context, email, password, role string) (LoginResult, error) {
	var out LoginResult
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/auth/login",
		body:   loginRequest{Email: email, Password: password, Role: role},
		out:    &out,
		noAuth: true,
	})
	return out, err
}

// Register creates an account. It does not log in; the session manager
// performs the implicit login that follows.
func (c *Client) Register(ctx context.Context, reg user.Registration) error {
	return c.do(ctx, call{
		method: http.MethodPost,
		path:   "/users/register",
		body:   reg,
		noAuth: true,
	})
}

// GetUser fetches the profile for an identity, points total included.
func (c *Client) GetUser(ctx context.Context, id string) (user.User, error) {
	var out user.User
	err := c.do(ctx, call{
		method: http.MethodGet,
		path:   "/users/" + url.PathEscape(id),
		out:    &out,
	})
	return out, err
}

// GetCart fetches the authoritative cart for an identity.
func (c *Client) GetCart(ctx context.Context, userID string) (cart.Cart, error) {
	var out cart.Cart
	err := c.do(ctx, call{
		method: http.MethodGet,
		path:   "/cart/" + url.PathEscape(userID),
		out:    &out,
	})
	return out, err
}

// AddToCart asks the service to add quantity units of a product. The
// service enforces stock limits; a rejection surfaces as
// ErrInsufficientStock and nothing is assumed about the cart until the
// next GetCart.
func (c *Client) AddToCart(ctx context.Context, userID string, productID int64, quantity int) error {
	if quantity < 1 {
		return &Error{Kind: ErrValidation, Message: "quantity must be at least 1"}
	}
	q := url.Values{}
	q.Set("productId", strconv.FormatInt(productID, 10))
	q.Set("quantity", strconv.Itoa(quantity))
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/cart/" + url.PathEscape(userID) + "/add",
		query:  q,
	})
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
		apiErr.Kind = ErrInsufficientStock
	}
	return err
}

// RemoveFromCart removes the entire line for a product.
func (c *Client) RemoveFromCart(ctx context.Context, userID string, productID int64) error {
	q := url.Values{}
	q.Set("productId", strconv.FormatInt(productID, 10))
	return c.do(ctx, call{
		method: http.MethodDelete,
		path:   "/cart/" + url.PathEscape(userID) + "/remove",
		query:  q,
	})
}

// ClearCart empties the remote cart for an identity.
func (c *Client) ClearCart(ctx context.Context, userID string) error {
	return c.do(ctx, call{
		method: http.MethodDelete,
		path:   "/cart/" + url.PathEscape(userID),
	})
}

type call struct {
	method string
	path   string
	query  url.Values
	body   any
	out    any
	noAuth bool
}

// do runs a call once, and on an authentication failure performs the
// single renew-and-replay pass. A second authentication failure on the
// replay is surfaced directly, never looped.
func (c *Client) do(ctx context.Context, cl call) error {
	hadToken, err := c.doOnce(ctx, cl)
	if err == nil {
		return nil
	}
	if !hadToken || !errors.Is(err, ErrUnauthenticated) {
		return err
	}
	if renewErr := c.renew(ctx); renewErr != nil {
		// Renewal failed: the session is gone. Surface the original
		// authentication failure, not the renewal's.
		return err
	}
	_, err = c.doOnce(ctx, cl)
	if err != nil && errors.Is(err, ErrUnauthenticated) {
		// The replay was rejected with a freshly renewed credential;
		// nothing more can be done with this session.
		c.log.Warn().Msg("replay rejected after renewal, invalidating session")
		if c.onInvalid != nil {
			c.onInvalid()
		}
	}
	return err
}

func (c *Client) doOnce(ctx context.Context, cl call) (hadToken bool, err error) {
	u := c.base + cl.path
	if len(cl.query) > 0 {
		u += "?" + cl.query.Encode()
	}

	var body io.Reader
	if cl.body != nil {
		b, err := json.Marshal(cl.body)
		if err != nil {
			return false, &Error{Kind: ErrValidation, Message: err.Error()}
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, u, body)
	if err != nil {
		return false, &Error{Kind: ErrValidation, Message: err.Error()}
	}
	if cl.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.clientID != "" {
		req.Header.Set("X-Client-Id", c.clientID)
	}
	if !cl.noAuth {
		if tok := c.creds.AccessToken(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
			hadToken = true
		}
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return hadToken, &Error{Kind: ErrNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return hadToken, &Error{Kind: ErrNetwork, Message: err.Error()}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if cl.out != nil && len(raw) > 0 {
			if err := json.Unmarshal(raw, cl.out); err != nil {
				return hadToken, &Error{Kind: ErrServer, Status: resp.StatusCode, Message: "malformed response: " + err.Error()}
			}
		}
		return hadToken, nil
	}

	var er errorResponse
	_ = json.Unmarshal(raw, &er)
	return hadToken, &Error{
		Kind:    kindForStatus(resp.StatusCode),
		Status:  resp.StatusCode,
		Message: er.Error,
	}
}

type renewal struct {
	done chan struct{}
	err  error
}

// renew performs at most one in-flight renewal. Concurrent callers
// attach to the pending attempt and observe its single outcome, so a
// burst of expired requests rotates the credential once.
func (c *Client) renew(ctx context.Context) error {
	c.mu.Lock()
	if r := c.renewing; r != nil {
		c.mu.Unlock()
		select {
		case <-r.done:
			return r.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r := &renewal{done: make(chan struct{})}
	c.renewing = r
	c.mu.Unlock()

	r.err = c.refresh(ctx)

	c.mu.Lock()
	c.renewing = nil
	c.mu.Unlock()
	close(r.done)

	if r.err != nil {
		c.log.Warn().Err(r.err).Msg("credential renewal failed, invalidating session")
		if c.onInvalid != nil {
			c.onInvalid()
		}
	} else {
		c.log.Debug().Msg("access credential renewed")
	}
	return r.err
}

// refresh exchanges the renewal credential for a fresh access token
// and rotates it in the credential store.
func (c *Client) refresh(ctx context.Context) error {
	rt := c.creds.RefreshToken()
	if rt == "" {
		return &Error{Kind: ErrUnauthenticated, Message: "no renewal credential"}
	}
	var out refreshResponse
	_, err := c.doOnce(ctx, call{
		method: http.MethodPost,
		path:   "/auth/refresh",
		body:   refreshRequest{RefreshToken: rt},
		out:    &out,
		noAuth: true,
	})
	if err != nil {
		return err
	}
	if out.AccessToken == "" {
		return &Error{Kind: ErrServer, Message: "renewal returned no access token"}
	}
	return c.creds.SetAccessToken(out.AccessToken)
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
