package meeting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ignatzorin/consult-backend/internal/service"
)

// ZoomClient создаёт и удаляет встречи через Zoom REST API.
// Токен выдаётся заранее (server-to-server OAuth) и передаётся в конфигурации.
type ZoomClient struct {
	baseURL    string
	token      string
	userID     string
	httpClient *http.Client
}

func NewZoomClient(baseURL, token, userID string) *ZoomClient {
	if baseURL == "" {
		baseURL = "https://api.zoom.us/v2"
	}
	if userID == "" {
		userID = "me"
	}
	return &ZoomClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		userID:  userID,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type createMeetingRequest struct {
	Topic     string `json:"topic"`
	Type      int    `json:"type"`
	StartTime string `json:"start_time"`
	Duration  int    `json:"duration"`
	Timezone  string `json:"timezone"`
	Settings  struct {
		JoinBeforeHost bool `json:"join_before_host"`
		WaitingRoom    bool `json:"waiting_room"`
	} `json:"settings"`
}

type createMeetingResponse struct {
	ID       json.Number `json:"id"`
	JoinURL  string      `json:"join_url"`
	StartURL string      `json:"start_url"`
}

func (c *ZoomClient) CreateMeeting(ctx context.Context, req service.MeetingRequest) (*service.Meeting, error) {
	payload := createMeetingRequest{
		Topic:     req.Topic,
		Type:      2,
		StartTime: req.StartAt.UTC().Format("2006-01-02T15:04:05Z"),
		Duration:  int(req.Duration.Minutes()),
		Timezone:  req.Timezone,
	}
	payload.Settings.WaitingRoom = true

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, http.MethodPost, "/users/"+c.userID+"/meetings", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, zoomError(resp)
	}

	var created createMeetingResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("zoom: decode meeting: %w", err)
	}
	if created.ID == "" {
		return nil, fmt.Errorf("zoom: пустой id встречи")
	}

	return &service.Meeting{
		ID:      created.ID.String(),
		JoinURL: created.JoinURL,
		HostURL: created.StartURL,
	}, nil
}

// DeleteMeeting удаляет встречу. Уже удалённая встреча не считается ошибкой.
func (c *ZoomClient) DeleteMeeting(ctx context.Context, meetingID string) error {
	if _, err := strconv.ParseInt(meetingID, 10, 64); err != nil {
		return fmt.Errorf("zoom: некорректный id встречи %q", meetingID)
	}

	resp, err := c.do(ctx, http.MethodDelete, "/meetings/"+meetingID, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK, http.StatusNotFound:
		return nil
	}
	return zoomError(resp)
}

func (c *ZoomClient) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("zoom: %s %s: %w", method, path, err)
	}
	return resp, nil
}

func zoomError(resp *http.Response) error {
	var body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return fmt.Errorf("zoom: код ответа %d: %s", resp.StatusCode, body.Message)
}
