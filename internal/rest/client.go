// Package rest is the HTTP client for the persisted message store: the
// conversation list, per-conversation history, message persistence, and the
// contact roster.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gigchat/gigchat/internal/chat"
)

// DefaultTimeout bounds a single API round trip.
const DefaultTimeout = 30 * time.Second

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Client talks to the marketplace REST API.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpc = hc }
}

// WithToken sets the bearer token up front.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New builds a client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken sets or replaces the bearer token, typically after login.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Account is the authenticated user as returned by register/login.
type Account struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

// Participant converts the account to a conversation participant.
func (a Account) Participant() chat.Participant {
	return chat.Participant{ID: a.ID, DisplayName: a.DisplayName, Role: a.Role}
}

// AuthResult is the response to register and login.
type AuthResult struct {
	Token string  `json:"token"`
	User  Account `json:"user"`
}

type registerRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role,omitempty"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SendMessageRequest creates a persisted message. LocalID is the
// client-generated correlation id shared with the realtime publish.
type SendMessageRequest struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
	LocalID    string `json:"localId,omitempty"`
}

// Register creates an account and returns its session token.
func (c *Client) Register(ctx context.Context, username, password, displayName, role string) (AuthResult, error) {
	var out AuthResult
	err := c.doRequest(ctx, http.MethodPost, "/api/register", registerRequest{
		Username:    username,
		Password:    password,
		DisplayName: displayName,
		Role:        role,
	}, &out)
	if err != nil {
		return AuthResult{}, err
	}
	c.token = out.Token
	return out, nil
}

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, username, password string) (AuthResult, error) {
	var out AuthResult
	err := c.doRequest(ctx, http.MethodPost, "/api/login", loginRequest{
		Username: username,
		Password: password,
	}, &out)
	if err != nil {
		return AuthResult{}, err
	}
	c.token = out.Token
	return out, nil
}

// Conversations fetches the persisted conversation list, most recent
// activity first.
func (c *Client) Conversations(ctx context.Context) ([]chat.Conversation, error) {
	var out []chat.Conversation
	if err := c.doRequest(ctx, http.MethodGet, "/api/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Messages fetches the full history of one conversation, oldest first.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	var out []chat.Message
	path := "/api/conversations/" + conversationID + "/messages"
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendMessage persists a message and returns the stored record with its
// server-issued id.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (chat.Message, error) {
	var out chat.Message
	if err := c.doRequest(ctx, http.MethodPost, "/api/messages", req, &out); err != nil {
		return chat.Message{}, err
	}
	return out, nil
}

// Contacts fetches the roster of contactable counterparts.
func (c *Client) Contacts(ctx context.Context) ([]chat.Participant, error) {
	var out []chat.Participant
	if err := c.doRequest(ctx, http.MethodGet, "/api/contacts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
