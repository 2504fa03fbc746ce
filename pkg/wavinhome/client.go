// Package wavinhome is a client for the MyWavinHome heating portal. The
// portal has no documented API: everything here is scraped out of the HTML
// pages a browser would see, authenticated by the PHPSESSID session cookie
// the login form hands out.
package wavinhome

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL  = "https://www.mywavinhome.com"
	defaultMaxPages = 50

	// The portal serves a different (cookie-less) page to unknown agents,
	// so every request identifies as a desktop browser.
	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/140.0.0.0 Safari/537.36"

	sessionCookie  = "PHPSESSID"
	requestTimeout = 10 * time.Second
)

// Client talks to one portal account. It owns the session token and
// re-authenticates transparently (once per request) when the portal
// rejects it with a 401.
type Client struct {
	client    *http.Client
	limit     *rate.Limiter
	log       *zap.Logger
	baseURL   string
	userAgent string
	username  string
	password  string
	maxPages  int

	mu      sync.Mutex
	session string
}

type Option func(c *Client) error

func New(username, password string, opts ...Option) (*Client, error) {
	if username == "" || password == "" {
		return nil, errors.New("username and password are required")
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	c := &Client{
		log:       zap.L(),
		limit:     rate.NewLimiter(rate.Every(time.Second), 5),
		client:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport), Jar: jar},
		baseURL:   defaultBaseURL,
		userAgent: defaultUserAgent,
		username:  username,
		password:  password,
		maxPages:  defaultMaxPages,
	}

	// apply the options
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) error {
		c.log = l
		return nil
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc.Jar == nil {
			jar, err := cookiejar.New(nil)
			if err != nil {
				return err
			}
			hc.Jar = jar
		}
		c.client = hc
		return nil
	}
}

func WithBaseURL(u string) Option {
	return func(c *Client) error {
		c.baseURL = strings.TrimRight(u, "/")
		return nil
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) error {
		c.userAgent = ua
		return nil
	}
}

// WithMaxPages caps the directory pagination walk.
func WithMaxPages(n int) Option {
	return func(c *Client) error {
		if n < 1 {
			return errors.New("max pages must be positive")
		}
		c.maxPages = n
		return nil
	}
}

func WithRateLimiter(l *rate.Limiter) Option {
	return func(c *Client) error {
		c.limit = l
		return nil
	}
}

// Authenticate logs in and stores the session token for subsequent
// requests. The token comes from the PHPSESSID cookie of the login
// response, or from the cookie jar when the final response of a redirect
// chain no longer carries it.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	c.log.Debug("logging in", zap.String("username", c.username))

	form := url.Values{
		"username": {c.username},
		"password": {c.password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return "", &ConnError{Op: "login", URL: c.baseURL + "/login", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.userAgent)

	if err := c.limit.Wait(ctx); err != nil {
		return "", &ConnError{Op: "login", URL: c.baseURL + "/login", Err: err}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &ConnError{Op: "login", URL: c.baseURL + "/login", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return "", &AuthError{Reason: "invalid username or password"}
	case resp.StatusCode != http.StatusOK:
		return "", &ConnError{Op: "login", URL: c.baseURL + "/login", Status: resp.StatusCode}
	}

	token := sessionFromCookies(resp.Cookies())
	if token == "" {
		token = c.sessionFromJar()
	}
	if token == "" {
		return "", &AuthError{Reason: "no session cookie in login response"}
	}

	c.mu.Lock()
	c.session = token
	c.mu.Unlock()
	c.log.Info("authenticated", zap.String("username", c.username))

	return token, nil
}

func sessionFromCookies(cookies []*http.Cookie) string {
	for _, ck := range cookies {
		if ck.Name == sessionCookie && ck.Value != "" {
			return ck.Value
		}
	}
	return ""
}

func (c *Client) sessionFromJar() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return ""
	}
	return sessionFromCookies(c.client.Jar.Cookies(u))
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.session
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}
	return c.Authenticate(ctx)
}

// fetch issues one authenticated request and returns the response body.
// A 401 triggers exactly one re-authentication followed by one retry of
// the same request; a second 401 surfaces as an AuthError rather than
// looping. page annotates errors during pagination, zero otherwise.
func (c *Client) fetch(ctx context.Context, method, path string, form url.Values, page int) ([]byte, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	op := method + " " + path
	for attempt := 0; ; attempt++ {
		body, status, err := c.roundTrip(ctx, method, path, form, token)
		if err != nil {
			return nil, &ConnError{Op: op, Page: page, URL: c.baseURL + path, Err: err}
		}

		switch {
		case status == http.StatusUnauthorized:
			if attempt > 0 {
				return nil, &AuthError{Reason: "session rejected again after re-authentication"}
			}
			c.log.Warn("session expired, re-authenticating", zap.String("path", path))
			if token, err = c.Authenticate(ctx); err != nil {
				return nil, err
			}
			continue
		case status != http.StatusOK:
			return nil, &ConnError{Op: op, Page: page, URL: c.baseURL + path, Status: status}
		}

		return body, nil
	}
}

func (c *Client) roundTrip(ctx context.Context, method, path string, form url.Values, token string) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var payload io.Reader
	if form != nil {
		payload = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Cookie", sessionCookie+"="+token)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	if err := c.limit.Wait(ctx); err != nil {
		return nil, 0, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

// Close drops the session token and releases idle transport connections.
// The portal has no logout endpoint, so the server-side session is left to
// expire on its own.
func (c *Client) Close() {
	c.mu.Lock()
	c.session = ""
	c.mu.Unlock()
	c.client.CloseIdleConnections()
}
