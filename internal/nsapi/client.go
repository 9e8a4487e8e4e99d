// Package nsapi talks to NationStates: the public API for nation status and
// the site login form for login and restore attempts.
package nsapi

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"nsmgr/internal/constants"
	apperrors "nsmgr/internal/errors"
	"nsmgr/internal/gate"
)

// Options configures a Client.
type Options struct {
	UserAgent    string
	APIBaseURL   string
	SiteBaseURL  string
	Timeout      time.Duration
	RequestDelay time.Duration
	// Transport overrides the HTTP transport. Nil uses http.DefaultTransport.
	Transport http.RoundTripper
	Logger    *zap.Logger
}

// NationStatus is the result of a status query for an existing nation.
type NationStatus struct {
	Exists bool
	// LastActivity is the last login time, zero if the API did not report one.
	LastActivity time.Time
}

// Client is safe for concurrent use.
type Client struct {
	userAgent string
	apiURL    *url.URL
	siteURL   *url.URL
	timeout   time.Duration
	transport http.RoundTripper
	api       *http.Client
	throttle  *gate.Throttle
	logger    *zap.Logger
}

// New validates opts and returns a client. A User-Agent is mandatory.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.UserAgent) == "" {
		return nil, apperrors.NewConfigError("new_client", "a user agent is required for the NationStates API", nil)
	}
	if opts.APIBaseURL == "" {
		opts.APIBaseURL = constants.DefaultAPIBaseURL
	}
	if opts.SiteBaseURL == "" {
		opts.SiteBaseURL = constants.DefaultSiteBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = constants.DefaultHTTPTimeout
	}
	if opts.RequestDelay <= 0 {
		opts.RequestDelay = constants.DefaultAPIRequestDelay
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	apiURL, err := url.Parse(opts.APIBaseURL)
	if err != nil {
		return nil, apperrors.NewConfigError("new_client", "invalid api base url", err)
	}
	siteURL, err := url.Parse(opts.SiteBaseURL)
	if err != nil {
		return nil, apperrors.NewConfigError("new_client", "invalid site base url", err)
	}

	return &Client{
		userAgent: opts.UserAgent,
		apiURL:    apiURL,
		siteURL:   siteURL,
		timeout:   opts.Timeout,
		transport: opts.Transport,
		api:       &http.Client{Timeout: opts.Timeout, Transport: opts.Transport},
		throttle:  gate.NewThrottle(opts.RequestDelay),
		logger:    opts.Logger.Named("nsapi"),
	}, nil
}

// SetRequestDelay changes the minimum spacing of API requests.
func (c *Client) SetRequestDelay(d time.Duration) { c.throttle.SetInterval(d) }

// NormalizeName converts a display name to the API form.
func NormalizeName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

type nationXML struct {
	XMLName   xml.Name `xml:"NATION"`
	LastLogin int64    `xml:"LASTLOGIN"`
}

// QueryStatus asks the API whether name exists and when it was last active.
// A nation the API does not know yields a not found error.
func (c *Client) QueryStatus(ctx context.Context, name string) (NationStatus, error) {
	const op = "query_status"

	u := *c.apiURL
	q := u.Query()
	q.Set("nation", NormalizeName(name))
	q.Set("q", "lastlogin")
	u.RawQuery = q.Encode()

	if err := c.throttle.Take(ctx); err != nil {
		return NationStatus{}, apperrors.NewNetworkError(op, name, "request abandoned", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return NationStatus{}, apperrors.NewNetworkError(op, name, "build request", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	c.logger.Debug("api request", zap.String("nation", name), zap.String("url", u.String()))
	resp, err := c.api.Do(req)
	if err != nil {
		return NationStatus{}, apperrors.NewNetworkError(op, name, "request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return NationStatus{}, apperrors.NewNotFoundError(op, name, "nation does not exist")
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return NationStatus{}, apperrors.NewNetworkError(op, name, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	var doc nationXML
	if err := xml.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return NationStatus{}, apperrors.NewNetworkError(op, name, "malformed api response", err)
	}

	st := NationStatus{Exists: true}
	if doc.LastLogin > 0 {
		st.LastActivity = time.Unix(doc.LastLogin, 0)
	}
	return st, nil
}

// AttemptLogin submits the site login form. It succeeds when the site sets
// a session cookie.
func (c *Client) AttemptLogin(ctx context.Context, name, password string) error {
	form := url.Values{}
	form.Set("logging_in", "1")
	form.Set("nation", strings.TrimSpace(name))
	form.Set("password", password)
	return c.submit(ctx, "login", name, form)
}

// AttemptRestore submits the restore form for a nation that has ceased to
// exist. Success is detected like AttemptLogin.
func (c *Client) AttemptRestore(ctx context.Context, name, password string) error {
	trimmed := strings.TrimSpace(name)
	form := url.Values{}
	form.Set("logging_in", "1")
	form.Set("nation", trimmed)
	form.Set("restore_nation", " Restore "+trimmed+" ")
	form.Set("restore_password", password)
	return c.submit(ctx, "restore", name, form)
}

func (c *Client) submit(ctx context.Context, op, name string, form url.Values) error {
	// A fresh jar per attempt; dropping it ends the session on our side.
	jar, err := cookiejar.New(nil)
	if err != nil {
		return apperrors.NewNetworkError(op, name, "create cookie jar", err)
	}
	client := &http.Client{Timeout: c.timeout, Transport: c.transport, Jar: jar}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.siteURL.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return apperrors.NewNetworkError(op, name, "build request", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	c.logger.Debug("site request", zap.String("op", op), zap.String("nation", name))
	resp, err := client.Do(req)
	if err != nil {
		return apperrors.NewNetworkError(op, name, "request failed", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return apperrors.NewNetworkError(op, name, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}
	if len(jar.Cookies(c.siteURL)) == 0 {
		return apperrors.NewAuthError(op, name, "no session cookie was set")
	}
	return nil
}
