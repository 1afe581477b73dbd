// Package directory is the HTTP client for the room directory service.
package directory

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
	"time"

	"wevote/internal/api"
)

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrPlayerNotFound = errors.New("participant not in room")
	ErrNameTaken      = errors.New("name already taken in this room")
	ErrNotHost        = errors.New("only the host can do that")
	ErrLocked         = errors.New("voting is locked")
	ErrRateLimited    = errors.New("too many requests")
)

// APIError is a non-2xx response. It unwraps to one of the sentinel errors
// when the status maps to one.
type APIError struct {
	StatusCode int
	Message    string
	sentinel   error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("directory returned status %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.sentinel
}

// State is the authoritative room snapshot.
type State struct {
	Roster  []api.PlayerResult
	Locked  bool
	Average *float64
}

type Client struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		headers: make(map[string]string),
	}
}

func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

func (c *Client) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) CreateRoom(ctx context.Context, hostName string) (string, error) {
	var resp api.CreateRoomResponse
	if err := c.post(ctx, "/create-room", api.CreateRoomRequest{HostName: hostName}, &resp); err != nil {
		return "", fmt.Errorf("creating room: %w", err)
	}
	return resp.RoomID, nil
}

func (c *Client) JoinRoom(ctx context.Context, roomID, name string) error {
	if err := c.post(ctx, "/join", api.JoinRequest{RoomID: roomID, Name: name}, nil); err != nil {
		return fmt.Errorf("joining room %s: %w", roomID, err)
	}
	return nil
}

// SubmitVote sets the vote for name, or clears it when score is nil.
func (c *Client) SubmitVote(ctx context.Context, roomID, name string, score *float64) error {
	if err := c.post(ctx, "/vote", api.VoteRequest{RoomID: roomID, Name: name, Score: score}, nil); err != nil {
		return fmt.Errorf("submitting vote: %w", err)
	}
	return nil
}

func (c *Client) LockRoom(ctx context.Context, roomID, name string) error {
	if err := c.post(ctx, "/lock", api.LockRequest{RoomID: roomID, Name: name}, nil); err != nil {
		return fmt.Errorf("locking room %s: %w", roomID, err)
	}
	return nil
}

func (c *Client) RestartRoom(ctx context.Context, roomID string) error {
	if err := c.post(ctx, "/restart", api.RestartRequest{RoomID: roomID}, nil); err != nil {
		return fmt.Errorf("restarting room %s: %w", roomID, err)
	}
	return nil
}

func (c *Client) GetState(ctx context.Context, roomID string) (State, error) {
	var resp api.ResultsResponse
	endpoint := "/results?roomId=" + url.QueryEscape(roomID)
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return State{}, fmt.Errorf("fetching state for room %s: %w", roomID, err)
	}
	return State{Roster: resp.Results, Locked: resp.Locked, Average: resp.Average}, nil
}

func (c *Client) post(ctx context.Context, endpoint string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return c.do(ctx, http.MethodPost, endpoint, bytes.NewReader(data), out)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp.StatusCode, responseBody)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(responseBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	var payload api.ErrorResponse
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		e.Message = payload.Error
	}

	switch status {
	case http.StatusNotFound:
		if strings.Contains(e.Message, "player") {
			e.sentinel = ErrPlayerNotFound
		} else {
			e.sentinel = ErrRoomNotFound
		}
	case http.StatusForbidden:
		e.sentinel = ErrNotHost
	case http.StatusTooManyRequests:
		e.sentinel = ErrRateLimited
	case http.StatusConflict:
		// Join and vote both answer 409; the message tells them apart.
		if strings.Contains(e.Message, "locked") {
			e.sentinel = ErrLocked
		} else {
			e.sentinel = ErrNameTaken
		}
	}
	return e
}
