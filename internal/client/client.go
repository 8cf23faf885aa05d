// Package client talks to the catalog HTTP API and keeps a query cache of
// its answers for interactive sessions.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"machine-catalog-backend/internal/apperr"
	"machine-catalog-backend/internal/catalog"
	"machine-catalog-backend/internal/model"
	"machine-catalog-backend/internal/store"
)

// Client is a thin typed wrapper over the catalog HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New returns a Client for the API served at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ListMachines(ctx context.Context, page, pageSize int) (store.MachinePage, error) {
	q := pageQuery(page, pageSize)
	return call[store.MachinePage](ctx, c, http.MethodGet, "/api/machines?"+q, nil)
}

func (c *Client) GetMachine(ctx context.Context, id int64) (store.MachineDetail, error) {
	return call[store.MachineDetail](ctx, c, http.MethodGet, machinePath(id), nil)
}

func (c *Client) CreateMachine(ctx context.Context, in catalog.MachineInput) (catalog.Created, error) {
	return call[catalog.Created](ctx, c, http.MethodPost, "/api/machines", in)
}

func (c *Client) EditMachine(ctx context.Context, id int64, in catalog.MachineInput) (store.MachineDetail, error) {
	return call[store.MachineDetail](ctx, c, http.MethodPut, machinePath(id), in)
}

func (c *Client) UpdateMachineMeta(ctx context.Context, id int64, in catalog.MetaInput) (store.MachineDetail, error) {
	return call[store.MachineDetail](ctx, c, http.MethodPatch, machinePath(id), in)
}

func (c *Client) ReplacePlacements(ctx context.Context, id int64, in catalog.PlacementsInput) (store.MachineDetail, error) {
	return call[store.MachineDetail](ctx, c, http.MethodPut, machinePath(id)+"/placements", in)
}

func (c *Client) DeleteMachine(ctx context.Context, id int64) error {
	_, err := call[catalog.Deleted](ctx, c, http.MethodDelete, machinePath(id), nil)
	return err
}

func (c *Client) ListParts(ctx context.Context) ([]model.Part, error) {
	return call[[]model.Part](ctx, c, http.MethodGet, "/api/parts", nil)
}

func (c *Client) GetPart(ctx context.Context, id int64) (model.Part, error) {
	return call[model.Part](ctx, c, http.MethodGet, partPath(id), nil)
}

func (c *Client) CreatePart(ctx context.Context, in catalog.PartInput) (model.Part, error) {
	return call[model.Part](ctx, c, http.MethodPost, "/api/parts", in)
}

func (c *Client) UpdatePart(ctx context.Context, id int64, in catalog.PartInput) (model.Part, error) {
	return call[model.Part](ctx, c, http.MethodPut, partPath(id), in)
}

func (c *Client) DeletePart(ctx context.Context, id int64) error {
	_, err := call[catalog.Deleted](ctx, c, http.MethodDelete, partPath(id), nil)
	return err
}

// UploadImage sends an image as the multipart "file" field and returns the
// URL the server stored it under.
func (c *Client) UploadImage(ctx context.Context, filename string, data []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return "", fmt.Errorf("failed to write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart body: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/uploads", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	up, err := do[catalog.Upload](c, req)
	return up.URL, err
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func call[T any](ctx context.Context, c *Client, method, path string, in any) (T, error) {
	var zero T
	var body io.Reader
	if in != nil {
		jsonBody, err := json.Marshal(in)
		if err != nil {
			return zero, fmt.Errorf("failed to marshal request payload: %w", err)
		}
		body = bytes.NewReader(jsonBody)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return zero, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return do[T](c, req)
}

// do sends req and unwraps the result envelope. A failed envelope becomes an
// *apperr.Error whose kind follows the response status.
func do[T any](c *Client, req *http.Request) (T, error) {
	var zero T
	resp, err := c.http.Do(req)
	if err != nil {
		return zero, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, fmt.Errorf("failed to read response body: %w", err)
	}

	var res catalog.Result[T]
	if err := json.Unmarshal(raw, &res); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return zero, &apperr.Error{Kind: kindOf(resp.StatusCode), Message: http.StatusText(resp.StatusCode)}
		}
		return zero, fmt.Errorf("failed to unmarshal api response: %w", err)
	}

	if !res.Success || resp.StatusCode >= http.StatusBadRequest {
		return zero, &apperr.Error{Kind: kindOf(resp.StatusCode), Message: res.Message, Fields: res.FieldErrors}
	}
	if res.Data == nil {
		return zero, fmt.Errorf("api response carried no data")
	}
	return *res.Data, nil
}

func kindOf(status int) apperr.Kind {
	switch status {
	case http.StatusUnprocessableEntity, http.StatusBadRequest:
		return apperr.KindValidation
	case http.StatusConflict:
		return apperr.KindConflict
	case http.StatusNotFound:
		return apperr.KindNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperr.KindPermission
	default:
		return apperr.KindStorage
	}
}

func pageQuery(page, pageSize int) string {
	page, pageSize = store.ClampPage(page, pageSize)
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(pageSize))
	return q.Encode()
}

func machinePath(id int64) string { return "/api/machines/" + strconv.FormatInt(id, 10) }

func partPath(id int64) string { return "/api/parts/" + strconv.FormatInt(id, 10) }
