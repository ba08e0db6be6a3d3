// Package backend is the HTTP client for the warm-transfer backend: room and
// token issuance, call summarization and leave notification.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/warmtransfer/internal/domain"
	"github.com/ashureev/warmtransfer/internal/ports"
)

const maxErrorBody = 4 << 10

// ErrSummaryUnavailable is returned when the summarizer answered without a usable summary.
var ErrSummaryUnavailable = errors.New("summary unavailable")

// Replies the summarizer sends with HTTP 200 when it could not produce a summary.
var unavailableSummaryPrefixes = []string{
	"Error generating summary:",
	"No conversation history available",
}

// HTTPError is a non-2xx reply. Detail carries the backend's "detail" field when present.
type HTTPError struct {
	Status int
	Detail string
}

func (e *HTTPError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("backend returned %d", e.Status)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Detail)
}

// Client talks to the backend over HTTP+JSON.
type Client struct {
	baseURL   string
	http      *http.Client
	tokenSkew time.Duration
	now       func() time.Time
}

var _ ports.Backend = (*Client)(nil)

// NewClient creates a backend client. tokenSkew is the minimum remaining lifetime
// a freshly issued access token must have.
func NewClient(baseURL string, timeout, tokenSkew time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: timeout},
		tokenSkew: tokenSkew,
		now:       time.Now,
	}
}

type createRoomRequest struct {
	RoomName        string `json:"room_name"`
	ParticipantType string `json:"participant_type"`
}

type roomInfo struct {
	Name            string `json:"name"`
	NumParticipants int    `json:"num_participants"`
	MaxParticipants int    `json:"max_participants"`
}

type createRoomResponse struct {
	RoomName string    `json:"room_name"`
	Token    string    `json:"token"`
	URL      string    `json:"url"`
	RoomInfo *roomInfo `json:"room_info,omitempty"`
}

// CreateRoom asks the backend for a room access token and transport URL.
func (c *Client) CreateRoom(ctx context.Context, roomName string, role domain.Role) (ports.RoomGrant, error) {
	var resp createRoomResponse
	err := c.postJSON(ctx, "/api/rooms/create", nil, createRoomRequest{
		RoomName:        roomName,
		ParticipantType: string(role),
	}, &resp)
	if err != nil {
		return ports.RoomGrant{}, fmt.Errorf("create room: %w", err)
	}
	if resp.Token == "" || resp.URL == "" {
		return ports.RoomGrant{}, errors.New("create room: response is missing token or url")
	}

	info, err := InspectToken(resp.Token, roomName, c.now(), c.tokenSkew)
	if err != nil {
		return ports.RoomGrant{}, fmt.Errorf("create room: %w", err)
	}

	grant := ports.RoomGrant{RoomName: roomName, Token: resp.Token, URL: resp.URL}
	if resp.RoomName != "" {
		grant.RoomName = resp.RoomName
	}
	if resp.RoomInfo != nil {
		grant.MaxParticipants = resp.RoomInfo.MaxParticipants
		slog.Info("Room ready",
			"room_name", grant.RoomName,
			"participants", resp.RoomInfo.NumParticipants,
			"max_participants", resp.RoomInfo.MaxParticipants,
			"identity", info.Identity,
			"token_expires_at", info.ExpiresAt)
	}
	return grant, nil
}

type summaryRequest struct {
	RoomName            string   `json:"room_name"`
	ConversationHistory []string `json:"conversation_history"`
}

type summaryResponse struct {
	Summary string `json:"summary"`
	Status  string `json:"status,omitempty"`
}

// GenerateSummary asks the summarizer for a call summary of history.
func (c *Client) GenerateSummary(ctx context.Context, roomName string, history []string) (string, error) {
	if history == nil {
		history = []string{}
	}
	var resp summaryResponse
	if err := c.postJSON(ctx, "/api/summary/generate", nil, summaryRequest{
		RoomName:            roomName,
		ConversationHistory: history,
	}, &resp); err != nil {
		return "", fmt.Errorf("generate summary: %w", err)
	}

	summary := strings.TrimSpace(resp.Summary)
	if resp.Status != "" && resp.Status != "success" {
		return "", fmt.Errorf("%w: status %q", ErrSummaryUnavailable, resp.Status)
	}
	if summary == "" {
		return "", fmt.Errorf("%w: empty summary", ErrSummaryUnavailable)
	}
	for _, prefix := range unavailableSummaryPrefixes {
		if strings.HasPrefix(summary, prefix) {
			return "", fmt.Errorf("%w: %s", ErrSummaryUnavailable, summary)
		}
	}
	return summary, nil
}

type leaveRequest struct {
	ParticipantType string `json:"participant_type"`
}

// NotifyLeave tells the backend that role left roomName.
func (c *Client) NotifyLeave(ctx context.Context, roomName string, role domain.Role) error {
	query := url.Values{"participant_type": {string(role)}}
	path := "/api/rooms/" + url.PathEscape(roomName) + "/leave"
	if err := c.postJSON(ctx, path, query, leaveRequest{ParticipantType: string(role)}, nil); err != nil {
		return fmt.Errorf("notify leave: %w", err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, query url.Values, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return readHTTPError(res)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readHTTPError(res *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	httpErr := &HTTPError{Status: res.StatusCode, Detail: strings.TrimSpace(string(raw))}

	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && len(payload.Detail) > 0 {
		var detail string
		if err := json.Unmarshal(payload.Detail, &detail); err == nil {
			httpErr.Detail = detail
		} else {
			httpErr.Detail = string(payload.Detail)
		}
	}
	return httpErr
}
