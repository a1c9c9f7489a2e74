package onesignal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/fiffu/pushpanel/config"
)

// MaxPageSize is the largest page GET /players will serve.
const MaxPageSize = 300

type Client struct {
	appID     string
	apiKey    string
	baseURL   string
	timeout   time.Duration
	transport http.RoundTripper
}

func NewClient(cfg *config.Config, transport http.RoundTripper) *Client {
	timeout := time.Duration(cfg.OneSignal.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		appID:     cfg.OneSignal.AppID,
		apiKey:    cfg.OneSignal.RESTAPIKey,
		baseURL:   strings.TrimRight(cfg.OneSignal.BaseURL, "/"),
		timeout:   timeout,
		transport: transport,
	}
}

// Notification is a push to send. Either PlayerIDs or Segments must be set.
type Notification struct {
	Title      string
	Message    string
	PlayerIDs  []string
	Segments   []string
	URL        string
	ImageURL   string
	ScheduleAt *time.Time
}

type SendResult struct {
	ID         string          `json:"id"`
	Recipients int             `json:"recipients"`
	Errors     json.RawMessage `json:"errors,omitempty"`
}

type notificationPayload struct {
	AppID            string            `json:"app_id"`
	Headings         map[string]string `json:"headings"`
	Contents         map[string]string `json:"contents"`
	IncludePlayerIDs []string          `json:"include_player_ids,omitempty"`
	IncludedSegments []string          `json:"included_segments,omitempty"`
	URL              string            `json:"url,omitempty"`
	BigPicture       string            `json:"big_picture,omitempty"`
	SendAfter        string            `json:"send_after,omitempty"`
}

// Configured reports missing credentials as a *ConfigurationError without touching the network.
func (c *Client) Configured() error {
	var missing []string
	if c.appID == "" {
		missing = append(missing, "ONESIGNAL_APP_ID")
	}
	if c.apiKey == "" {
		missing = append(missing, "ONESIGNAL_REST_API_KEY")
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	return nil
}

func (c *Client) ListPlayers(ctx context.Context, offset, limit int) (*PlayerPage, error) {
	if err := c.Configured(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}

	var page PlayerPage
	rb := c.builder("/players").
		Param("limit", strconv.Itoa(limit)).
		Param("offset", strconv.Itoa(offset)).
		ToJSON(&page)
	if err := c.fetch(ctx, http.MethodGet, "/players", rb); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) Send(ctx context.Context, n Notification) (*SendResult, error) {
	if err := c.Configured(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(n.Title) == "" || strings.TrimSpace(n.Message) == "" {
		return nil, &ValidationError{"title and message are required"}
	}
	if len(n.PlayerIDs) == 0 && len(n.Segments) == 0 {
		return nil, &ValidationError{"at least one player id or segment is required"}
	}

	payload := notificationPayload{
		AppID:            c.appID,
		Headings:         map[string]string{"en": n.Title},
		Contents:         map[string]string{"en": n.Message},
		IncludePlayerIDs: n.PlayerIDs,
		IncludedSegments: n.Segments,
		URL:              n.URL,
		BigPicture:       n.ImageURL,
	}
	if n.ScheduleAt != nil {
		payload.SendAfter = n.ScheduleAt.UTC().Format(http.TimeFormat)
	}

	var res SendResult
	rb := c.builder("/notifications").
		BodyJSON(&payload).
		ToJSON(&res)
	if err := c.fetch(ctx, http.MethodPost, "/notifications", rb); err != nil {
		return nil, err
	}

	// OneSignal answers 200 with an "errors" field and no id when nothing was sent.
	if res.ID == "" {
		return nil, &ProviderError{
			Method:     http.MethodPost,
			Endpoint:   "/notifications",
			StatusCode: http.StatusOK,
			Body:       string(res.Errors),
		}
	}
	return &res, nil
}

func (c *Client) CancelNotification(ctx context.Context, id string) error {
	if err := c.Configured(); err != nil {
		return err
	}
	if id == "" {
		return &ValidationError{"notification id is required"}
	}

	endpoint := "/notifications/" + id
	return c.fetch(ctx, http.MethodDelete, endpoint, c.builder(endpoint))
}

func (c *Client) builder(path string) *requests.Builder {
	return requests.URL(c.baseURL).
		Path(path).
		Transport(c.transport).
		Param("app_id", c.appID).
		Header("Authorization", "Basic "+c.apiKey).
		Accept("application/json")
}

func (c *Client) fetch(ctx context.Context, method, endpoint string, rb *requests.Builder) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := rb.
		Method(method).
		AddValidator(checkStatus(method, endpoint)).
		Fetch(ctx)
	if err == nil {
		return nil
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProviderError{Method: method, Endpoint: endpoint, Err: err}
}

func checkStatus(method, endpoint string) requests.ResponseHandler {
	return func(res *http.Response) error {
		if res.StatusCode >= 200 && res.StatusCode < 300 {
			return nil
		}
		body, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
		return &ProviderError{
			Method:     method,
			Endpoint:   endpoint,
			StatusCode: res.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}
}
