package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/repositories/models"
)

// TokenSource supplies the bearer token of the signed in user.
type TokenSource interface {
	Token() (string, error)
}

// CreateRoomResponse is the body returned by POST /rooms.
type CreateRoomResponse = Room

// JoinRoomRequest is the body of POST /rooms/join.
type JoinRoomRequest struct {
	Code string `json:"code"`
}

// JoinRoomResponse is the body returned by POST /rooms/join.
type JoinRoomResponse struct {
	RoomID string `json:"roomId"`
}

// UpdateStatusRequest is the body of PUT /rooms/{roomID}/status.
type UpdateStatusRequest struct {
	Status models.RoomStatus `json:"status"`
}

var _ RoomRegistry = &HTTP{}

// HTTP talks to the registry API server.
// The server takes the user identity from the bearer token, so the user ID
// arguments only gate whether a request is attempted at all.
type HTTP struct {
	baseURL *url.URL
	tokens  TokenSource
	client  *http.Client
}

type NewHTTPOptions struct {
	BaseURL string
	Tokens  TokenSource
	// Client defaults to http.DefaultClient.
	Client *http.Client
}

func NewHTTP(opts NewHTTPOptions) (*HTTP, error) {
	u, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse registry URL: %v", err)
	}
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{
		baseURL: u,
		tokens:  opts.Tokens,
		client:  client,
	}, nil
}

func (h *HTTP) CreateRoom(ctx context.Context, hostUserID string) (*Room, error) {
	if hostUserID == "" {
		return nil, ErrUnauthenticated
	}

	room := &Room{}
	if err := h.do(ctx, "create room", http.MethodPost, "/rooms", nil, room); err != nil {
		return nil, err
	}
	return room, nil
}

func (h *HTTP) JoinRoomByCode(ctx context.Context, code string, guestUserID string) (string, error) {
	if guestUserID == "" {
		return "", ErrUnauthenticated
	}

	resp := &JoinRoomResponse{}
	if err := h.do(ctx, "join room", http.MethodPost, "/rooms/join", &JoinRoomRequest{Code: code}, resp); err != nil {
		return "", err
	}
	return resp.RoomID, nil
}

func (h *HTTP) ReleaseGuest(ctx context.Context, roomID string, guestUserID string) error {
	if guestUserID == "" {
		return ErrUnauthenticated
	}

	path := "/rooms/" + url.PathEscape(roomID) + "/guest"
	return h.do(ctx, "release guest", http.MethodDelete, path, nil, nil)
}

func (h *HTTP) UpdateStatus(ctx context.Context, roomID string, ownerUserID string, status models.RoomStatus) error {
	if ownerUserID == "" {
		return ErrUnauthenticated
	}

	path := "/rooms/" + url.PathEscape(roomID) + "/status"
	return h.do(ctx, "update room status", http.MethodPut, path, &UpdateStatusRequest{Status: status}, nil)
}

func (h *HTTP) do(ctx context.Context, op string, method string, path string, in interface{}, out interface{}) error {
	token, err := h.tokens.Token()
	if err != nil || token == "" {
		return ErrUnauthenticated
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %v", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL.String()+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return &WriteError{Op: op, Message: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthenticated
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &WriteError{Op: op, Message: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &WriteError{Op: op, Message: fmt.Sprintf("failed to decode response: %v", err)}
	}
	return nil
}
