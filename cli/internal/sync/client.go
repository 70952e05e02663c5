package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zhaobenny/gasometer/cli/internal/config"
	"github.com/zhaobenny/gasometer/internal/aggregate"
	"github.com/zhaobenny/gasometer/internal/model"
)

// Client talks to a gasometer server
type Client struct {
	server     string
	apiKey     string
	httpClient *http.Client
}

// Summary mirrors GET /api/stats/summary
type Summary struct {
	Today aggregate.WindowTotal `json:"today"`
	Week  aggregate.WindowTotal `json:"week"`
	Month aggregate.WindowTotal `json:"month"`
}

// APIError is a non-success response from the server
type APIError struct {
	Status  int
	Message string        `json:"error"`
	Details []model.Issue `json:"details"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if len(e.Details) > 0 {
		parts := make([]string, len(e.Details))
		for i, d := range e.Details {
			parts[i] = d.Field + ": " + d.Message
		}
		msg += " (" + strings.Join(parts, "; ") + ")"
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, msg)
}

// NewClient creates a new client
func NewClient(cfg *config.Config) *Client {
	return &Client{
		server: strings.TrimRight(cfg.Server, "/"),
		apiKey: cfg.APIKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Ingest posts one cost event
func (c *Client) Ingest(ctx context.Context, ev model.CostEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.server+"/api/ingest", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, http.StatusCreated, nil)
}

// Summary fetches today, week and month totals
func (c *Client) Summary(ctx context.Context) (Summary, error) {
	var s Summary
	err := c.get(ctx, "/api/stats/summary", nil, nil, &s)
	return s, err
}

// Daily fetches per-day per-role totals
func (c *Client) Daily(ctx context.Context, from, to *time.Time) ([]aggregate.DailyCost, error) {
	var out struct {
		Data []aggregate.DailyCost `json:"data"`
	}
	err := c.get(ctx, "/api/stats/daily", from, to, &out)
	return out.Data, err
}

// Roles fetches per-role totals
func (c *Client) Roles(ctx context.Context, from, to *time.Time) ([]aggregate.RoleCost, error) {
	var out struct {
		Data []aggregate.RoleCost `json:"data"`
	}
	err := c.get(ctx, "/api/stats/roles", from, to, &out)
	return out.Data, err
}

// Rigs fetches per-rig totals
func (c *Client) Rigs(ctx context.Context, from, to *time.Time) ([]aggregate.RigCost, error) {
	var out struct {
		Data []aggregate.RigCost `json:"data"`
	}
	err := c.get(ctx, "/api/stats/rigs", from, to, &out)
	return out.Data, err
}

func (c *Client) get(ctx context.Context, path string, from, to *time.Time, out any) error {
	q := url.Values{}
	if from != nil {
		q.Set("from", from.Format(time.RFC3339))
	}
	if to != nil {
		q.Set("to", to.Format(time.RFC3339))
	}
	u := c.server + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, http.StatusOK, out)
}

func (c *Client) do(req *http.Request, want int, out any) error {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		apiErr := &APIError{Status: resp.StatusCode}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		json.Unmarshal(body, apiErr)
		return apiErr
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
