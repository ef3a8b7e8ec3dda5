// ABOUTME: HTTP client for the 3x-ui panel API
// ABOUTME: Cookie-session login plus inbound/client management calls

package xui

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client talks to a 3x-ui panel over its JSON API. The panel
// authenticates with a session cookie obtained from /login; the cookie
// jar carries it across calls. Not safe for concurrent use during Login.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
}

// apiResponse is the envelope every panel endpoint wraps its payload in
type apiResponse struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Obj     json.RawMessage `json:"obj"`
}

// Inbound is a panel inbound listener. Settings and StreamSettings come
// over the wire as embedded JSON strings, not objects.
type Inbound struct {
	ID             int          `json:"id"`
	Remark         string       `json:"remark"`
	Port           int          `json:"port"`
	Protocol       string       `json:"protocol"`
	Enable         bool         `json:"enable"`
	Settings       string       `json:"settings"`
	StreamSettings string       `json:"streamSettings"`
	ClientStats    []ClientStat `json:"clientStats"`
}

// InboundClient is one client entry inside an inbound's settings
type InboundClient struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Flow       string `json:"flow,omitempty"`
	TotalGB    int64  `json:"totalGB"`
	ExpiryTime int64  `json:"expiryTime"`
	Enable     bool   `json:"enable"`
	SubID      string `json:"subId,omitempty"`
}

// ClientStat is the panel's traffic accounting row for one client
type ClientStat struct {
	ID       int    `json:"id"`
	Email    string `json:"email"`
	Up       int64  `json:"up"`
	Down     int64  `json:"down"`
	Total    int64  `json:"total"`
	Enable   bool   `json:"enable"`
	ExpiryAt int64  `json:"expiryTime"`
}

// AllTime returns the client's lifetime traffic counter
func (s *ClientStat) AllTime() int64 {
	return s.Up + s.Down
}

// NewClient creates a panel client for the given base URL. Insecure
// skips TLS verification for panels running on self-signed certificates.
func NewClient(baseURL, username, password string, insecure bool) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	transport := http.DefaultTransport
	if insecure {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		http: &http.Client{
			Jar:       jar,
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}, nil
}

// Login authenticates against the panel and stores the session cookie.
// Panel sessions expire, so callers retry a failed API call once after a
// fresh Login.
func (c *Client) Login(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", c.username)
	form.Set("password", c.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("logging in to panel: %w", err)
	}
	defer resp.Body.Close()

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decoding login response: %w", err)
	}
	if !parsed.Success {
		return fmt.Errorf("panel login failed: %s", parsed.Msg)
	}
	return nil
}

// call performs one API request and unmarshals the obj payload into out.
// A session that has expired is re-established once.
func (c *Client) call(ctx context.Context, method, path string, body any, out any) error {
	err := c.do(ctx, method, path, body, out)
	if err != nil && strings.Contains(err.Error(), "login required") {
		if err := c.Login(ctx); err != nil {
			return err
		}
		return c.do(ctx, method, path, body, out)
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("calling %s: unexpected status %d", path, resp.StatusCode)
	}

	// The panel redirects unauthenticated API calls to the login page,
	// which is HTML, so a decode failure here usually means the session
	// expired.
	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("calling %s: login required: %w", path, err)
	}
	if !parsed.Success {
		return fmt.Errorf("calling %s: panel error: %s", path, parsed.Msg)
	}

	if out != nil && len(parsed.Obj) > 0 {
		if err := json.Unmarshal(parsed.Obj, out); err != nil {
			return fmt.Errorf("decoding %s response: %w", path, err)
		}
	}
	return nil
}

// Inbounds returns all inbounds configured on the panel
func (c *Client) Inbounds(ctx context.Context) ([]*Inbound, error) {
	var inbounds []*Inbound
	if err := c.call(ctx, http.MethodGet, "/panel/api/inbounds/list", nil, &inbounds); err != nil {
		return nil, err
	}
	return inbounds, nil
}

// Inbound returns one inbound by ID
func (c *Client) Inbound(ctx context.Context, id int) (*Inbound, error) {
	var inbound Inbound
	path := fmt.Sprintf("/panel/api/inbounds/get/%d", id)
	if err := c.call(ctx, http.MethodGet, path, nil, &inbound); err != nil {
		return nil, err
	}
	return &inbound, nil
}

// ClientsByInbound returns the client entries embedded in an inbound's
// settings JSON
func (c *Client) ClientsByInbound(ctx context.Context, inboundID int) ([]*InboundClient, error) {
	inbound, err := c.Inbound(ctx, inboundID)
	if err != nil {
		return nil, err
	}
	return parseClients(inbound)
}

// AllClients returns every client on the panel keyed by the inbound that
// hosts it
func (c *Client) AllClients(ctx context.Context) (map[int][]*InboundClient, error) {
	inbounds, err := c.Inbounds(ctx)
	if err != nil {
		return nil, err
	}

	all := make(map[int][]*InboundClient, len(inbounds))
	for _, inbound := range inbounds {
		clients, err := parseClients(inbound)
		if err != nil {
			return nil, fmt.Errorf("inbound %d: %w", inbound.ID, err)
		}
		all[inbound.ID] = clients
	}
	return all, nil
}

// FindClientByEmail locates a client across all inbounds. Returns the
// client and the hosting inbound, or nil when no client carries the email.
func (c *Client) FindClientByEmail(ctx context.Context, email string) (*InboundClient, *Inbound, error) {
	inbounds, err := c.Inbounds(ctx)
	if err != nil {
		return nil, nil, err
	}

	for _, inbound := range inbounds {
		clients, err := parseClients(inbound)
		if err != nil {
			return nil, nil, fmt.Errorf("inbound %d: %w", inbound.ID, err)
		}
		for _, client := range clients {
			if client.Email == email {
				return client, inbound, nil
			}
		}
	}
	return nil, nil, nil
}

// CreateClient adds a new client to an inbound. totalGB of 0 means
// unlimited; expiry of zero means no expiry.
func (c *Client) CreateClient(ctx context.Context, inboundID int, email string, totalGB int64, expiry time.Time) (*InboundClient, error) {
	client := &InboundClient{
		ID:      uuid.NewString(),
		Email:   email,
		TotalGB: totalGB * 1024 * 1024 * 1024,
		Enable:  true,
		SubID:   email,
	}
	if !expiry.IsZero() {
		client.ExpiryTime = expiry.UnixMilli()
	}

	settings, err := json.Marshal(map[string]any{"clients": []*InboundClient{client}})
	if err != nil {
		return nil, fmt.Errorf("encoding client settings: %w", err)
	}

	payload := map[string]any{
		"id":       inboundID,
		"settings": string(settings),
	}
	if err := c.call(ctx, http.MethodPost, "/panel/api/inbounds/addClient", payload, nil); err != nil {
		return nil, fmt.Errorf("creating client %s: %w", email, err)
	}
	return client, nil
}

// UpdateClientQuota rewrites a client's traffic quota in GB
func (c *Client) UpdateClientQuota(ctx context.Context, inboundID int, client *InboundClient, totalGB int64) error {
	client.TotalGB = totalGB * 1024 * 1024 * 1024

	settings, err := json.Marshal(map[string]any{"clients": []*InboundClient{client}})
	if err != nil {
		return fmt.Errorf("encoding client settings: %w", err)
	}

	payload := map[string]any{
		"id":       inboundID,
		"settings": string(settings),
	}
	path := "/panel/api/inbounds/updateClient/" + client.ID
	if err := c.call(ctx, http.MethodPost, path, payload, nil); err != nil {
		return fmt.Errorf("updating client %s: %w", client.Email, err)
	}
	return nil
}

// DeleteClient removes a client from its inbound
func (c *Client) DeleteClient(ctx context.Context, inboundID int, clientID string) error {
	path := fmt.Sprintf("/panel/api/inbounds/%d/delClient/%s", inboundID, clientID)
	if err := c.call(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("deleting client %s: %w", clientID, err)
	}
	return nil
}

// ClientStats returns the panel's traffic accounting for one email
func (c *Client) ClientStats(ctx context.Context, email string) (*ClientStat, error) {
	var stat ClientStat
	path := "/panel/api/inbounds/getClientTraffics/" + url.PathEscape(email)
	if err := c.call(ctx, http.MethodGet, path, nil, &stat); err != nil {
		return nil, err
	}
	return &stat, nil
}

// parseClients decodes the clients array embedded in an inbound's
// settings string
func parseClients(inbound *Inbound) ([]*InboundClient, error) {
	if inbound.Settings == "" {
		return nil, nil
	}

	var settings struct {
		Clients []*InboundClient `json:"clients"`
	}
	if err := json.Unmarshal([]byte(inbound.Settings), &settings); err != nil {
		return nil, fmt.Errorf("parsing inbound settings: %w", err)
	}
	return settings.Clients, nil
}
