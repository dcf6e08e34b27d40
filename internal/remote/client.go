package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/eo-timeseries/internal/core/apperr"
	"github.com/mohammed-shakir/eo-timeseries/internal/core/model"
	"github.com/mohammed-shakir/eo-timeseries/internal/core/observability"
)

// SeriesRequest asks for one scalar per image of Collection, reduced over
// Geometry at Scale metres. Shape is the decoded form of Geometry and is not
// sent.
type SeriesRequest struct {
	Collection Collection      `json:"collection"`
	Geometry   json.RawMessage `json:"geometry"`
	Scale      float64         `json:"scale"`
	Reducer    string          `json:"reducer"`
	Band       string          `json:"band,omitempty"`
	Shape      orb.Geometry    `json:"-"`
}

// Sample is one [time_ms, value] pair as sent by the service.
type Sample struct {
	TimeMillis int64
	Value      *float64
}

func (s *Sample) UnmarshalJSON(b []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("sample: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("sample: want [time, value], got %d elements", len(pair))
	}
	var ms float64
	if err := json.Unmarshal(pair[0], &ms); err != nil {
		return fmt.Errorf("sample time: %w", err)
	}
	s.TimeMillis = int64(ms)
	s.Value = nil
	if v := bytes.TrimSpace(pair[1]); len(v) > 0 && !bytes.Equal(v, []byte("null")) {
		var f float64
		if err := json.Unmarshal(v, &f); err != nil {
			return fmt.Errorf("sample value: %w", err)
		}
		s.Value = &f
	}
	return nil
}

func (s Sample) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{s.TimeMillis, s.Value})
}

func (s Sample) Time() time.Time { return time.UnixMilli(s.TimeMillis).UTC() }

type MapID struct {
	MapID string `json:"mapid"`
	Token string `json:"token"`
}

// Service is the remote compute surface the rest of the code depends on.
type Service interface {
	Series(ctx context.Context, req SeriesRequest) ([]Sample, error)
	MapID(ctx context.Context, img Image, vis *model.VisParams) (MapID, error)
	PaintMapID(ctx context.Context, featureCollection string, width int, vis *model.VisParams) (MapID, error)
	Ping(ctx context.Context) error
}

type Client struct {
	logger   *slog.Logger
	client   *http.Client
	base     *url.URL
	apiKey   string
	startNow func() time.Time // for tests
}

var _ Service = (*Client)(nil)

func New(logger *slog.Logger, client *http.Client, baseURL, apiKey string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse remote url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("remote url %q must be absolute", baseURL)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		logger:   logger,
		client:   client,
		base:     u,
		apiKey:   apiKey,
		startNow: time.Now,
	}, nil
}

func (c *Client) Series(ctx context.Context, req SeriesRequest) ([]Sample, error) {
	var out struct {
		Values []Sample `json:"values"`
	}
	if err := c.post(ctx, "series", "/v1/series", req, &out); err != nil {
		return nil, err
	}
	if out.Values == nil {
		out.Values = []Sample{}
	}
	return out.Values, nil
}

func (c *Client) MapID(ctx context.Context, img Image, vis *model.VisParams) (MapID, error) {
	body := struct {
		Image     Image            `json:"image"`
		VisParams *model.VisParams `json:"vis_params,omitempty"`
	}{img, vis}
	var out MapID
	if err := c.post(ctx, "maps", "/v1/maps", body, &out); err != nil {
		return MapID{}, err
	}
	return out, checkMapID("remote.MapID", out)
}

func (c *Client) PaintMapID(ctx context.Context, featureCollection string, width int, vis *model.VisParams) (MapID, error) {
	body := struct {
		FeatureCollection string           `json:"feature_collection"`
		Width             int              `json:"width"`
		VisParams         *model.VisParams `json:"vis_params,omitempty"`
	}{featureCollection, width, vis}
	var out MapID
	if err := c.post(ctx, "paint", "/v1/maps:paint", body, &out); err != nil {
		return MapID{}, err
	}
	return out, checkMapID("remote.PaintMapID", out)
}

func (c *Client) Ping(ctx context.Context) error {
	const op = "remote.Ping"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/v1/health"), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	c.authorize(req)
	start := c.startNow()
	resp, err := c.client.Do(req)
	observability.ObserveRemote("health", err, time.Since(start).Seconds())
	if err != nil {
		return apperr.Remote(op, "remote service unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.Remote(op, "remote service unhealthy", fmt.Errorf("status %d", resp.StatusCode))
	}
	return nil
}

func checkMapID(op string, m MapID) error {
	if m.MapID == "" {
		return apperr.Remote(op, "remote service returned no map id", nil)
	}
	return nil
}

func (c *Client) endpoint(path string) string {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + path
	return u.String()
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

const msgRemoteError = "remote service error"

func (c *Client) post(ctx context.Context, op, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	start := c.startNow()
	resp, err := c.client.Do(req)
	if err != nil {
		observability.ObserveRemote(op, err, time.Since(start).Seconds())
		return apperr.Remote("remote."+op, "remote service request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	dur := time.Since(start)
	c.logger.DebugContext(ctx, "remote call done",
		"op", op,
		"status", resp.StatusCode,
		"duration", dur.String())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		msg, ok := remoteMessage(b)
		if !ok {
			c.logger.WarnContext(ctx, "remote error without envelope",
				"op", op,
				"status", resp.StatusCode,
				"body", strings.TrimSpace(string(b)))
		}
		rerr := fmt.Errorf("remote status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
		observability.ObserveRemote(op, rerr, dur.Seconds())
		return apperr.Remote("remote."+op, msg, rerr)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		derr := fmt.Errorf("decode %s response: %w", op, err)
		observability.ObserveRemote(op, derr, dur.Seconds())
		return apperr.Remote("remote."+op, "remote service sent an unreadable response", derr)
	}
	observability.ObserveRemote(op, nil, dur.Seconds())
	return nil
}

// remoteMessage extracts {"error":{"message":...}}. Any other body is not
// passed on; ok is false and the fixed message is returned.
func remoteMessage(b []byte) (string, bool) {
	var env struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(b, &env); err == nil && strings.TrimSpace(env.Error.Message) != "" {
		return env.Error.Message, true
	}
	return msgRemoteError, false
}
