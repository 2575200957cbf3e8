package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/flowcanvas/internal/canvas"
	"github.com/alfredjeanlab/flowcanvas/internal/model"
	"github.com/alfredjeanlab/flowcanvas/internal/session"
)

const apiPrefix = "/api/v1"

// HTTPClient implements FlowClient using the flowcanvas HTTP/JSON REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:3000"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// --- Flows ---

func (c *HTTPClient) ListFlows(ctx context.Context, req *ListFlowsRequest) (*ListFlowsResponse, error) {
	q := url.Values{}
	if len(req.Type) > 0 {
		q.Set("type", strings.Join(req.Type, ","))
	}
	if req.Search != "" {
		q.Set("search", req.Search)
	}
	if req.Sort != "" {
		q.Set("sort", req.Sort)
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	if req.Offset > 0 {
		q.Set("offset", strconv.Itoa(req.Offset))
	}

	path := "/chatflows"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp ListFlowsResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) GetFlow(ctx context.Context, id string) (*model.Flow, error) {
	var flow model.Flow
	if err := c.doJSON(ctx, http.MethodGet, "/chatflows/"+url.PathEscape(id), nil, &flow); err != nil {
		return nil, err
	}
	return &flow, nil
}

func (c *HTTPClient) CreateFlow(ctx context.Context, req *CreateFlowRequest) (*model.Flow, error) {
	var flow model.Flow
	if err := c.doJSON(ctx, http.MethodPost, "/chatflows", req, &flow); err != nil {
		return nil, err
	}
	return &flow, nil
}

func (c *HTTPClient) UpdateFlow(ctx context.Context, id string, req *UpdateFlowRequest) (*model.Flow, error) {
	var flow model.Flow
	if err := c.doJSON(ctx, http.MethodPut, "/chatflows/"+url.PathEscape(id), req, &flow); err != nil {
		return nil, err
	}
	return &flow, nil
}

func (c *HTTPClient) DeleteFlow(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/chatflows/"+url.PathEscape(id), nil, nil)
}

func (c *HTTPClient) GetEvents(ctx context.Context, flowID string) ([]*model.Event, error) {
	var evts []*model.Event
	if err := c.doJSON(ctx, http.MethodGet, "/chatflows/"+url.PathEscape(flowID)+"/events", nil, &evts); err != nil {
		return nil, err
	}
	return evts, nil
}

func (c *HTTPClient) HasChanged(ctx context.Context, id string, since time.Time) (bool, error) {
	var resp struct {
		HasChanged bool `json:"hasChanged"`
	}
	path := "/chatflows/has-changed/" + url.PathEscape(id) + "/" + url.PathEscape(since.UTC().Format(time.RFC3339Nano))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return false, err
	}
	return resp.HasChanged, nil
}

func (c *HTTPClient) ImportFlows(ctx context.Context, flows []*CreateFlowRequest) ([]*model.Flow, error) {
	body := map[string]any{"Chatflows": flows}
	var resp struct {
		Data []*model.Flow `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/chatflows/importchatflows", body, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// --- Templates ---

func (c *HTTPClient) ListTemplates(ctx context.Context, refresh bool) ([]*model.Template, error) {
	path := "/nodes"
	if refresh {
		path += "?refresh=true"
	}
	var tpls []*model.Template
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &tpls); err != nil {
		return nil, err
	}
	return tpls, nil
}

func (c *HTTPClient) GetTemplate(ctx context.Context, name string) (*model.Template, error) {
	var tpl model.Template
	if err := c.doJSON(ctx, http.MethodGet, "/nodes/"+url.PathEscape(name), nil, &tpl); err != nil {
		return nil, err
	}
	return &tpl, nil
}

// --- Canvas sessions ---

func canvasPath(sid string, parts ...string) string {
	p := "/canvas/" + url.PathEscape(sid)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func (c *HTTPClient) Roster(ctx context.Context) ([]session.Entry, error) {
	var resp struct {
		Sessions []session.Entry `json:"sessions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/canvas", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

func (c *HTTPClient) OpenCanvas(ctx context.Context, req *OpenCanvasRequest) (*session.View, error) {
	return c.view(ctx, http.MethodPost, "/canvas", req)
}

func (c *HTTPClient) GetCanvas(ctx context.Context, sid string) (*session.View, error) {
	return c.view(ctx, http.MethodGet, canvasPath(sid), nil)
}

func (c *HTTPClient) CloseCanvas(ctx context.Context, sid string) error {
	return c.doJSON(ctx, http.MethodDelete, canvasPath(sid), nil, nil)
}

func (c *HTTPClient) AddNode(ctx context.Context, sid string, req *AddNodeRequest) (*model.Node, error) {
	var node model.Node
	if err := c.doJSON(ctx, http.MethodPost, canvasPath(sid, "nodes"), req, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

func (c *HTTPClient) DeleteNode(ctx context.Context, sid, nodeID string) ([]string, error) {
	var resp struct {
		Removed []string `json:"removed"`
	}
	if err := c.doJSON(ctx, http.MethodDelete, canvasPath(sid, "nodes", url.PathEscape(nodeID)), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Removed, nil
}

func (c *HTTPClient) DuplicateNode(ctx context.Context, sid, nodeID string) (*model.Node, error) {
	var node model.Node
	if err := c.doJSON(ctx, http.MethodPost, canvasPath(sid, "nodes", url.PathEscape(nodeID), "duplicate"), nil, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

func (c *HTTPClient) UpdateInputs(ctx context.Context, sid, nodeID string, req *UpdateInputsRequest) (*model.Node, error) {
	var node model.Node
	if err := c.doJSON(ctx, http.MethodPatch, canvasPath(sid, "nodes", url.PathEscape(nodeID), "inputs"), req, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

func (c *HTTPClient) SetStatus(ctx context.Context, sid, nodeID string, status model.NodeStatus, errMsg string) error {
	body := map[string]string{"status": string(status)}
	if errMsg != "" {
		body["error"] = errMsg
	}
	return c.doJSON(ctx, http.MethodPut, canvasPath(sid, "nodes", url.PathEscape(nodeID), "status"), body, nil)
}

// Connect reports ok=false when the server refused the connection.
func (c *HTTPClient) Connect(ctx context.Context, sid string, req *ConnectRequest) (*model.Edge, bool, error) {
	var resp struct {
		Connected bool        `json:"connected"`
		Edge      *model.Edge `json:"edge"`
	}
	if err := c.doJSON(ctx, http.MethodPost, canvasPath(sid, "edges"), req, &resp); err != nil {
		return nil, false, err
	}
	return resp.Edge, resp.Connected, nil
}

func (c *HTTPClient) DeleteEdge(ctx context.Context, sid, edgeID string) error {
	return c.doJSON(ctx, http.MethodDelete, canvasPath(sid, "edges", url.PathEscape(edgeID)), nil, nil)
}

func (c *HTTPClient) ImportCanvas(ctx context.Context, sid, text string) (*session.View, error) {
	return c.view(ctx, http.MethodPost, canvasPath(sid, "import"), map[string]string{"text": text})
}

func (c *HTTPClient) SyncCanvas(ctx context.Context, sid string) (*session.View, error) {
	return c.view(ctx, http.MethodPost, canvasPath(sid, "sync"), nil)
}

func (c *HTTPClient) RecoverCanvas(ctx context.Context, sid string) (*session.View, error) {
	return c.view(ctx, http.MethodPost, canvasPath(sid, "recover"), nil)
}

func (c *HTTPClient) SaveCanvas(ctx context.Context, sid, name string) (*model.Flow, error) {
	var body any
	if name != "" {
		body = map[string]string{"name": name}
	}
	var flow model.Flow
	if err := c.doJSON(ctx, http.MethodPost, canvasPath(sid, "save"), body, &flow); err != nil {
		return nil, err
	}
	return &flow, nil
}

func (c *HTTPClient) Integrity(ctx context.Context, sid string) ([]canvas.Issue, error) {
	var resp struct {
		Issues []canvas.Issue `json:"issues"`
	}
	if err := c.doJSON(ctx, http.MethodGet, canvasPath(sid, "integrity"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Issues, nil
}

func (c *HTTPClient) view(ctx context.Context, method, path string, body any) (*session.View, error) {
	var v session.View
	if err := c.doJSON(ctx, method, path, body, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// --- Auth ---

// Login exchanges basic-auth credentials for a token. The client uses the
// token for subsequent requests.
func (c *HTTPClient) Login(ctx context.Context, username, password string) (string, error) {
	body := map[string]string{"username": username, "password": password}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/auth/login", body, &resp); err != nil {
		return "", err
	}
	c.token = resp.Token
	return resp.Token, nil
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/ping", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// --- internal helpers ---

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded (for DELETE/204 responses).
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	// 204 No Content: success with no body.
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Message   string `json:"message"`
			RequestID string `json:"requestId"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Message != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Message, RequestID: errResp.RequestID}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
