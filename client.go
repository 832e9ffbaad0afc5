// Package gamenight keeps a client's view of the friend graph and of
// two-party message streams in sync with the gamenight backend.
//
// Reads go through a TTL cache with per-key single-flight loading, invitation
// mutations reconcile by refetching, messages are sent optimistically, and
// push events on the user's topic trigger refetches.
//
// Example:
//
//	client := gamenight.NewClient("token", gamenight.WithBaseURL("https://api.gamenight.app"))
//	session := gamenight.NewSession(client, transport)
//	session.SignIn(ctx, "user-a")
//
//	status, _ := session.Relationships().Status(ctx, "user-a", "user-b")
//	res := session.Invitations().Send(ctx, "user-a", "user-b")
//
//	stream, _ := session.Conversation(ctx, "user-b")
//	stream.Send(ctx, "gg")
package gamenight

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultBaseURL = "https://api.gamenight.app"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the HTTP RemoteStore.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// NewClient creates a client authenticating with token. Requests are traced
// through an otelhttp transport.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the bearer token.
func (c *Client) SetToken(token string) {
	c.token = token
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string { return c.baseURL }

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body any, query url.Values) (*Envelope, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, &APIError{Code: codeForStatus(resp.StatusCode), Message: http.StatusText(resp.StatusCode)}
		}
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if !env.OK {
		if env.Error == nil {
			env.Error = &APIError{Code: codeForStatus(resp.StatusCode), Message: "request failed"}
		}
		return nil, env.Error
	}
	return &env, nil
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return CodeInvalidInput
	case http.StatusUnauthorized, http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeInvalidState
	default:
		return CodeNetwork
	}
}

func decodeData[T any](env *Envelope) (T, error) {
	var result T
	if err := env.Decode(&result); err != nil {
		return result, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return result, nil
}

// ============================================================================
// RelationshipStore
// ============================================================================

func (c *Client) Friends(ctx context.Context, userID string) ([]string, error) {
	env, err := c.doRequest(ctx, http.MethodGet, "/api/users/"+url.PathEscape(userID)+"/friends", nil, nil)
	if err != nil {
		return nil, err
	}
	refs, err := decodeData[[]UserRef](env)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, string(r))
	}
	return ids, nil
}

func (c *Client) Invitations(ctx context.Context, userID string, dir Direction) ([]FriendInvitation, error) {
	q := url.Values{"direction": {string(dir)}}
	env, err := c.doRequest(ctx, http.MethodGet, "/api/users/"+url.PathEscape(userID)+"/invitations", nil, q)
	if err != nil {
		return nil, err
	}
	return decodeData[[]FriendInvitation](env)
}

func (c *Client) SendInvitation(ctx context.Context, fromUserID, toUserID string) (*FriendInvitation, error) {
	payload := map[string]string{"fromUserId": fromUserID, "toUserId": toUserID}
	env, err := c.doRequest(ctx, http.MethodPost, "/api/invitations", payload, nil)
	if err != nil {
		return nil, err
	}
	return decodeData[*FriendInvitation](env)
}

func (c *Client) RespondInvitation(ctx context.Context, invitationID string, action InvitationAction, actingUserID string) (*FriendInvitation, error) {
	payload := map[string]string{"action": string(action), "userId": actingUserID}
	env, err := c.doRequest(ctx, http.MethodPost, "/api/invitations/"+url.PathEscape(invitationID)+"/respond", payload, nil)
	if err != nil {
		return nil, err
	}
	return decodeData[*FriendInvitation](env)
}

func (c *Client) CancelInvitation(ctx context.Context, invitationID, actingUserID string) error {
	payload := map[string]string{"userId": actingUserID}
	_, err := c.doRequest(ctx, http.MethodPost, "/api/invitations/"+url.PathEscape(invitationID)+"/cancel", payload, nil)
	return err
}

func (c *Client) RemoveFriend(ctx context.Context, userID, friendID string) error {
	path := "/api/users/" + url.PathEscape(userID) + "/friends/" + url.PathEscape(friendID)
	_, err := c.doRequest(ctx, http.MethodDelete, path, nil, nil)
	return err
}

func (c *Client) Block(ctx context.Context, userID, blockedUserID string) error {
	payload := map[string]string{"userId": blockedUserID}
	_, err := c.doRequest(ctx, http.MethodPost, "/api/users/"+url.PathEscape(userID)+"/blocks", payload, nil)
	return err
}

// ============================================================================
// MessageStore
// ============================================================================

func (c *Client) Messages(ctx context.Context, conversationID string, opts PageOptions) ([]Message, error) {
	q := url.Values{}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	env, err := c.doRequest(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(conversationID)+"/messages", nil, q)
	if err != nil {
		return nil, err
	}
	return decodeData[[]Message](env)
}

func (c *Client) SendMessage(ctx context.Context, conversationID string, req SendMessageRequest) (*Message, error) {
	env, err := c.doRequest(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(conversationID)+"/messages", req, nil)
	if err != nil {
		return nil, err
	}
	return decodeData[*Message](env)
}

func (c *Client) MarkRead(ctx context.Context, conversationID, userID string) error {
	payload := map[string]string{"userId": userID}
	_, err := c.doRequest(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(conversationID)+"/read", payload, nil)
	return err
}

var _ RemoteStore = (*Client)(nil)
