// Package provisioner talks to the external video-room provider (Daily REST API).
package provisioner

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

	"github.com/developers-live/live-session/internal/idgen"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// APIError is a non-2xx answer from the provider.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daily api: status %d: %s", e.StatusCode, e.Message)
}

type Options struct {
	BaseURL    string
	APIKey     string
	RoomTTL    time.Duration
	Timeout    time.Duration
	Rate       float64
	Burst      int
	HTTPClient *http.Client // optional; Timeout is ignored when set
}

// DailyClient creates and deletes Daily rooms. Calls are throttled process-wide so a burst
// of first entries cannot trip the provider's rate limit.
type DailyClient struct {
	baseURL string
	apiKey  string
	roomTTL time.Duration
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

func NewDailyClient(opts Options, log *zap.Logger) *DailyClient {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &DailyClient{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		roomTTL: opts.RoomTTL,
		http:    hc,
		limiter: rate.NewLimiter(limit, burst),
		log:     log,
	}
}

type createRoomRequest struct {
	Name       string         `json:"name"`
	Privacy    string         `json:"privacy"`
	Properties roomProperties `json:"properties"`
}

type roomProperties struct {
	Exp            int64 `json:"exp,omitempty"`
	EjectAtRoomExp bool  `json:"eject_at_room_exp,omitempty"`
}

type roomResponse struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type errorResponse struct {
	Error string `json:"error"`
	Info  string `json:"info"`
}

// Create provisions a new room and returns its access URL.
func (c *DailyClient) Create(ctx context.Context) (string, error) {
	in := createRoomRequest{
		Name:    "live-" + strings.ToLower(idgen.NewULID()),
		Privacy: "public",
	}
	if c.roomTTL > 0 {
		in.Properties = roomProperties{Exp: time.Now().Add(c.roomTTL).Unix(), EjectAtRoomExp: true}
	}

	var out roomResponse
	if err := c.do(ctx, http.MethodPost, "/rooms", in, &out); err != nil {
		return "", fmt.Errorf("create room %s: %w", in.Name, err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("create room %s: empty url in response", in.Name)
	}

	c.log.Info("Daily room created", zap.String("external_room", out.Name), zap.String("url", out.URL))
	return out.URL, nil
}

// Delete removes a room by its provider-side name. A room the provider no longer knows is
// treated as deleted, which keeps retries idempotent.
func (c *DailyClient) Delete(ctx context.Context, externalRoomID string) error {
	if strings.TrimSpace(externalRoomID) == "" {
		return fmt.Errorf("delete room: external room id required")
	}
	err := c.do(ctx, http.MethodDelete, "/rooms/"+url.PathEscape(externalRoomID), nil, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		c.log.Warn("Daily room already gone", zap.String("external_room", externalRoomID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete room %s: %w", externalRoomID, err)
	}

	c.log.Info("Daily room deleted", zap.String("external_room", externalRoomID))
	return nil
}

func (c *DailyClient) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// 1MB is far beyond any room payload
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e errorResponse
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &e) == nil && (e.Error != "" || e.Info != "") {
			msg = strings.TrimSpace(e.Error + " " + e.Info)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
