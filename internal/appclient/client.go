// Package appclient is the HTTP client for the layout API.
package appclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/g960059/layoutsync/internal/api"
	"github.com/g960059/layoutsync/internal/model"
)

type Client struct {
	baseURL      string
	client       *http.Client
	unaryTimeout time.Duration
}

const defaultUnaryTimeout = 8 * time.Second

func New(baseURL string) *Client {
	return NewWithClient(baseURL, nil)
}

func NewWithClient(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       client,
		unaryTimeout: defaultUnaryTimeout,
	}
}

func (c *Client) WithUnaryTimeout(timeout time.Duration) *Client {
	if c == nil {
		return nil
	}
	clone := *c
	clone.unaryTimeout = timeout
	return &clone
}

func (c *Client) BaseURL() string { return c.baseURL }

type RequestError struct {
	StatusCode int
	Code       string
	Message    string
	Reason     string
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	code := strings.TrimSpace(e.Code)
	message := strings.TrimSpace(e.Message)
	switch {
	case code != "" && message != "":
		return fmt.Sprintf("%s: %s", code, message)
	case code != "":
		return fmt.Sprintf("http %d: %s", e.StatusCode, code)
	case message != "":
		return fmt.Sprintf("http %d: %s", e.StatusCode, message)
	case e.StatusCode > 0:
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return "http error"
}

func (e *RequestError) Retryable() bool {
	if e == nil {
		return false
	}
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout {
		return true
	}
	return e.StatusCode >= 500
}

func (c *Client) GetLayout(ctx context.Context) (model.LayoutState, error) {
	return c.layoutCall(ctx, http.MethodGet, nil)
}

// ReplaceLayout posts the full panel set; panels missing from it are dropped server side.
func (c *Client) ReplaceLayout(ctx context.Context, panels map[string]model.PanelLayout) (model.LayoutState, error) {
	return c.layoutCall(ctx, http.MethodPost, api.LayoutPayload{Panels: nonNilPanels(panels)})
}

// PatchLayout upserts the given panels and leaves the rest untouched.
func (c *Client) PatchLayout(ctx context.Context, panels map[string]model.PanelLayout) (model.LayoutState, error) {
	return c.layoutCall(ctx, http.MethodPatch, api.LayoutPayload{Panels: nonNilPanels(panels)})
}

func (c *Client) layoutCall(ctx context.Context, method string, body any) (model.LayoutState, error) {
	var resp api.LayoutState
	if err := c.do(ctx, method, "/api/ui/layout", nil, body, &resp); err != nil {
		return model.LayoutState{}, err
	}
	return decodeLayout(resp)
}

// History returns up to limit snapshots, oldest first. A zero limit uses the server default.
func (c *Client) History(ctx context.Context, limit int) ([]model.LayoutState, error) {
	var query url.Values
	if limit > 0 {
		query = url.Values{"limit": []string{strconv.Itoa(limit)}}
	}
	var resp api.HistoryResponse
	if err := c.do(ctx, http.MethodGet, "/api/ui/layout/history", query, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]model.LayoutState, 0, len(resp.Snapshots))
	for _, s := range resp.Snapshots {
		layout, err := decodeLayout(s)
		if err != nil {
			return nil, err
		}
		out = append(out, layout)
	}
	return out, nil
}

// ClearHistory returns the baseline snapshot the server kept.
func (c *Client) ClearHistory(ctx context.Context) (model.LayoutState, error) {
	var resp api.HistoryClearResponse
	if err := c.do(ctx, http.MethodDelete, "/api/ui/layout/history", nil, nil, &resp); err != nil {
		return model.LayoutState{}, err
	}
	return decodeLayout(resp.Snapshot)
}

func (c *Client) ListPresets(ctx context.Context) ([]model.Preset, error) {
	var resp api.PresetsResponse
	if err := c.do(ctx, http.MethodGet, "/api/ui/layouts", nil, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]model.Preset, 0, len(resp.Layouts))
	for _, p := range resp.Layouts {
		preset, err := decodePreset(p)
		if err != nil {
			return nil, err
		}
		out = append(out, preset)
	}
	return out, nil
}

func (c *Client) CreatePreset(ctx context.Context, name string, snapshot model.LayoutState) (model.Preset, error) {
	req := api.PresetCreateRequest{Name: name, Snapshot: api.FromLayout(snapshot)}
	var resp api.PresetResponse
	if err := c.do(ctx, http.MethodPost, "/api/ui/layouts", nil, req, &resp); err != nil {
		return model.Preset{}, err
	}
	return decodePreset(resp.Preset)
}

func (c *Client) RenamePreset(ctx context.Context, id, name string) (model.Preset, error) {
	var resp api.PresetResponse
	if err := c.do(ctx, http.MethodPatch, presetPath(id), nil, api.PresetRenameRequest{Name: name}, &resp); err != nil {
		return model.Preset{}, err
	}
	return decodePreset(resp.Preset)
}

// DeletePreset returns the preset the server removed.
func (c *Client) DeletePreset(ctx context.Context, id string) (model.Preset, error) {
	var resp api.PresetDeleteResponse
	if err := c.do(ctx, http.MethodDelete, presetPath(id), nil, nil, &resp); err != nil {
		return model.Preset{}, err
	}
	return decodePreset(resp.Removed)
}

func presetPath(id string) string {
	return "/api/ui/layouts/" + url.PathEscape(strings.TrimSpace(id))
}

func nonNilPanels(panels map[string]model.PanelLayout) map[string]model.PanelLayout {
	if panels == nil {
		return map[string]model.PanelLayout{}
	}
	return panels
}

func decodeLayout(s api.LayoutState) (model.LayoutState, error) {
	layout, err := s.ToModel()
	if err != nil {
		return model.LayoutState{}, fmt.Errorf("decode layout: %w", err)
	}
	return layout, nil
}

func decodePreset(p api.Preset) (model.Preset, error) {
	preset, err := p.ToModel()
	if err != nil {
		return model.Preset{}, fmt.Errorf("decode preset %q: %w", p.ID, err)
	}
	return preset, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	payload, err := c.request(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) request(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	reqCtx := ctx
	if c.unaryTimeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > c.unaryTimeout {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, c.unaryTimeout)
			defer cancel()
		}
	}
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, u, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var er api.ErrorResponse
		if err := json.Unmarshal(payload, &er); err == nil && er.Error.Code != "" {
			return nil, &RequestError{
				StatusCode: resp.StatusCode,
				Code:       er.Error.Code,
				Message:    er.Error.Message,
				Reason:     er.Error.Reason,
			}
		}
		return nil, &RequestError{
			StatusCode: resp.StatusCode,
			Code:       fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message:    strings.TrimSpace(string(payload)),
		}
	}
	return payload, nil
}
