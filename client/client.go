// Package client is the in-process consumer SDK for the board API: an
// HTTP client, a reducer-style state store, the polling synchronization
// loop with patch merge and pending-move guarding, and photo-preparation
// tokens.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"pawboard-api/domain"
)

const responseBodyMaxSize = 4 * 1024 * 1024 // 4 MiB

// Config configures a Client. Exactly one of Token (staff) or
// PublicToken (display) should be set.
type Config struct {
	BaseURL     string
	View        string
	Token       string
	PublicToken string
	HTTPClient  *http.Client
}

// APIError is a non-2xx response, carrying the server's message when the
// body had one and a per-operation fallback otherwise.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// VisitDetail is the full visit payload returned by the detail endpoint.
type VisitDetail struct {
	Visit      domain.Visit            `json:"visit"`
	History    []domain.HistoryEntry   `json:"history,omitempty"`
	Deliveries []domain.DeliveryRecord `json:"deliveries,omitempty"`
}

// MoveResult is the response to a move request. Pending is set when the
// server absorbed the request as a duplicate of an in-flight move.
type MoveResult struct {
	Visit   domain.Visit
	Pending bool
}

// Client talks to the board API.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a Client for the given configuration.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{cfg: cfg, http: httpClient}
}

func (c *Client) baseQuery() url.Values {
	q := url.Values{}
	if c.cfg.View != "" {
		q.Set("view", c.cfg.View)
	}
	if c.cfg.PublicToken != "" {
		q.Set("public_token", c.cfg.PublicToken)
	}
	return q
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, fallback string) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		reader = bytes.NewReader(data)
	}

	target := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyMaxSize))
	if err != nil {
		return nil, resp.StatusCode, err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		msg := fallback
		var er struct {
			Error string `json:"error"`
		}
		if sonic.Unmarshal(data, &er) == nil && er.Error != "" {
			msg = er.Error
		}
		return nil, resp.StatusCode, &APIError{Status: resp.StatusCode, Message: msg}
	}
	return data, resp.StatusCode, nil
}

// FetchBoard loads the board. A non-zero modifiedAfter requests an
// incremental patch instead of the full projection.
func (c *Client) FetchBoard(ctx context.Context, modifiedAfter time.Time) (domain.Board, error) {
	q := c.baseQuery()
	if !modifiedAfter.IsZero() {
		q.Set("modified_after", modifiedAfter.UTC().Format(time.RFC3339Nano))
	}
	data, _, err := c.do(ctx, http.MethodGet, "/api/board", q, nil, "failed to load board")
	if err != nil {
		return domain.Board{}, err
	}
	var b domain.Board
	if err := sonic.Unmarshal(data, &b); err != nil {
		return domain.Board{}, err
	}
	return b, nil
}

// FetchVisit loads the full visit detail.
func (c *Client) FetchVisit(ctx context.Context, id string) (VisitDetail, error) {
	data, _, err := c.do(ctx, http.MethodGet, "/api/visits/"+url.PathEscape(id), c.baseQuery(), nil, "failed to load visit")
	if err != nil {
		return VisitDetail{}, err
	}
	var detail VisitDetail
	if err := sonic.Unmarshal(data, &detail); err != nil {
		return VisitDetail{}, err
	}
	return detail, nil
}

// Move requests a stage transition.
func (c *Client) Move(ctx context.Context, visitID, toStage, comment string) (MoveResult, error) {
	body := map[string]string{"toStage": toStage}
	if comment != "" {
		body["comment"] = comment
	}
	data, status, err := c.do(ctx, http.MethodPost, "/api/visits/"+url.PathEscape(visitID)+"/move", c.baseQuery(), body, "move failed")
	if err != nil {
		return MoveResult{}, err
	}
	if status == http.StatusAccepted {
		var resp struct {
			Visit   domain.Visit `json:"visit"`
			Pending bool         `json:"pending"`
		}
		if err := sonic.Unmarshal(data, &resp); err != nil {
			return MoveResult{}, err
		}
		return MoveResult{Visit: resp.Visit, Pending: true}, nil
	}
	var visit domain.Visit
	if err := sonic.Unmarshal(data, &visit); err != nil {
		return MoveResult{}, err
	}
	return MoveResult{Visit: visit}, nil
}

// Checkout completes a visit.
func (c *Client) Checkout(ctx context.Context, visitID, comment string) (domain.Visit, error) {
	body := map[string]string{}
	if comment != "" {
		body["comment"] = comment
	}
	data, _, err := c.do(ctx, http.MethodPost, "/api/visits/"+url.PathEscape(visitID)+"/checkout", c.baseQuery(), body, "checkout failed")
	if err != nil {
		return domain.Visit{}, err
	}
	var visit domain.Visit
	if err := sonic.Unmarshal(data, &visit); err != nil {
		return domain.Visit{}, err
	}
	return visit, nil
}

// CheckIn creates a new visit at intake.
func (c *Client) CheckIn(ctx context.Context, visit domain.Visit) (domain.Visit, error) {
	body := map[string]any{
		"client":   visit.Client,
		"guardian": visit.Guardian,
	}
	if visit.CurrentStage != "" {
		body["stage"] = visit.CurrentStage
	}
	if len(visit.Services) > 0 {
		body["services"] = visit.Services
	}
	if visit.Instructions != "" {
		body["instructions"] = visit.Instructions
	}
	data, _, err := c.do(ctx, http.MethodPost, "/api/visits", c.baseQuery(), body, "check-in failed")
	if err != nil {
		return domain.Visit{}, err
	}
	var created domain.Visit
	if err := sonic.Unmarshal(data, &created); err != nil {
		return domain.Visit{}, err
	}
	return created, nil
}

// SearchIntake runs the returning-client typeahead query.
func (c *Client) SearchIntake(ctx context.Context, query string) ([]domain.IntakeMatch, error) {
	q := c.baseQuery()
	q.Set("q", query)
	data, _, err := c.do(ctx, http.MethodGet, "/api/intake-search", q, nil, "search failed")
	if err != nil {
		return nil, err
	}
	var resp struct {
		Items []domain.IntakeMatch `json:"items"`
	}
	if err := sonic.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}
