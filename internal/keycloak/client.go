// Package keycloak is a minimal client for the Keycloak admin REST API,
// covering the calls the roster reconciliation needs: list/find/create/update
// users, trigger verification emails, and resolve group membership.
package keycloak

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// listPageSize is how many users are fetched per admin API page.
const listPageSize = 100

// Config holds the connection settings for one realm.
type Config struct {
	ServerURL    string
	Realm        string
	ClientID     string
	ClientSecret string
}

func (c Config) baseURL() string {
	return strings.TrimRight(c.ServerURL, "/")
}

// TokenURL returns the realm's client-credentials token endpoint.
func (c Config) TokenURL() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", c.baseURL(), c.Realm)
}

// CertsURL returns the realm's JWKS endpoint.
func (c Config) CertsURL() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", c.baseURL(), c.Realm)
}

// UserinfoURL returns the realm's OIDC userinfo endpoint.
func (c Config) UserinfoURL() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/userinfo", c.baseURL(), c.Realm)
}

func (c Config) adminURL(parts ...string) string {
	segments := append([]string{"admin", "realms", c.Realm}, parts...)
	return c.baseURL() + "/" + path.Join(segments...)
}

// APIError is a non-2xx response from the admin API.
type APIError struct {
	StatusCode int
	Method     string
	URL        string
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, body)
}

// Client is an authenticated admin API session for one realm. Calls are made
// sequentially over a single token-refreshing HTTP client.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
}

// NewClient authenticates against the realm token endpoint using the client
// credentials grant. The token fetch happens eagerly so that bad credentials
// fail the run before any roster work starts.
func NewClient(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}

	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL(),
	}
	if _, err := cc.Token(ctx); err != nil {
		return nil, fmt.Errorf("authenticate against realm %s: %w", cfg.Realm, err)
	}

	httpClient := cc.Client(ctx)
	httpClient.Timeout = 30 * time.Second

	log.Debug("authenticated against keycloak", "server", cfg.ServerURL, "realm", cfg.Realm)
	return &Client{cfg: cfg, http: httpClient, log: log}, nil
}

// Config returns the connection settings the client was built with.
func (c *Client) Config() Config {
	return c.cfg
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload, out any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Method:     method,
			URL:        endpoint,
			Body:       string(data),
		}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("decode response body: %w", err)
		}
	}
	return resp, nil
}

// ListUsers returns every user in the realm, fetching one page at a time.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var all []User
	for first := 0; ; first += listPageSize {
		endpoint := fmt.Sprintf("%s?first=%d&max=%d", c.cfg.adminURL("users"), first, listPageSize)
		var page []User
		if _, err := c.do(ctx, http.MethodGet, endpoint, nil, &page); err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		all = append(all, page...)
		if len(page) < listPageSize {
			return all, nil
		}
	}
}

// FindUsersByEmail returns the users whose email matches exactly.
func (c *Client) FindUsersByEmail(ctx context.Context, email string) ([]User, error) {
	endpoint := fmt.Sprintf("%s?email=%s&exact=true", c.cfg.adminURL("users"), url.QueryEscape(email))
	var users []User
	if _, err := c.do(ctx, http.MethodGet, endpoint, nil, &users); err != nil {
		return nil, fmt.Errorf("find users by email %s: %w", email, err)
	}
	return users, nil
}

// CreateUser creates the user and returns the provider-assigned id, taken
// from the Location header of the creation response.
func (c *Client) CreateUser(ctx context.Context, u User) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, c.cfg.adminURL("users"), u, nil)
	if err != nil {
		return "", fmt.Errorf("create user %s: %w", u.Username, err)
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return "", fmt.Errorf("create user %s: response carries no Location header", u.Username)
	}
	return path.Base(location), nil
}

// UpdateUser applies a partial update to the user with the given id. Only
// the fields set in u are sent.
func (c *Client) UpdateUser(ctx context.Context, id string, u User) error {
	if _, err := c.do(ctx, http.MethodPut, c.cfg.adminURL("users", id), u, nil); err != nil {
		return fmt.Errorf("update user %s: %w", id, err)
	}
	return nil
}

// SendVerifyEmail asks the provider to send a verification email to the user.
func (c *Client) SendVerifyEmail(ctx context.Context, id string) error {
	endpoint := c.cfg.adminURL("users", id, "send-verify-email")
	if _, err := c.do(ctx, http.MethodPut, endpoint, nil, nil); err != nil {
		return fmt.Errorf("send verification email to user %s: %w", id, err)
	}
	return nil
}

// ListGroups returns the realm groups matching the search term.
func (c *Client) ListGroups(ctx context.Context, search string) ([]Group, error) {
	endpoint := c.cfg.adminURL("groups")
	if search != "" {
		endpoint += "?search=" + url.QueryEscape(search)
	}
	var groups []Group
	if _, err := c.do(ctx, http.MethodGet, endpoint, nil, &groups); err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// AddUserToGroup adds the user to the group.
func (c *Client) AddUserToGroup(ctx context.Context, userID, groupID string) error {
	endpoint := c.cfg.adminURL("users", userID, "groups", groupID)
	if _, err := c.do(ctx, http.MethodPut, endpoint, nil, nil); err != nil {
		return fmt.Errorf("add user %s to group %s: %w", userID, groupID, err)
	}
	return nil
}

// Userinfo fetches the realm userinfo endpoint with the given bearer token.
// It uses a plain HTTP client because the token belongs to the end user, not
// to the admin session.
func Userinfo(ctx context.Context, cfg Config, token string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.UserinfoURL(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Method:     http.MethodGet,
			URL:        cfg.UserinfoURL(),
			Body:       string(data),
		}
	}

	var info map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	return info, nil
}
