// Package client talks to a running engine daemon over HTTP. It satisfies
// submit.Engine so plans can be run against a remote daemon.
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

	"fleur-q/internal/calc"
	"fleur-q/internal/engine"
	"fleur-q/internal/node"
	"fleur-q/internal/server"
)

// APIError is a non-2xx response. It unwraps to the matching sentinel when
// the daemon reported one.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Code {
	case server.CodeNotFound:
		return node.ErrNotFound
	case server.CodeNoOutput:
		return node.ErrNoOutput
	case server.CodePlaceholder:
		return node.ErrPlaceholder
	case server.CodeUnknownKind:
		return calc.ErrUnknownKind
	case server.CodeUnknownPort:
		return calc.ErrUnknownPort
	case server.CodeIncompleteBundle:
		return calc.ErrIncompleteBundle
	case server.CodeInvalidState:
		return engine.ErrInvalidState
	}
	if e.Status == http.StatusNotFound {
		return node.ErrNotFound
	}
	return nil
}

type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for the daemon at baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resp.StatusCode, readAPIError(resp)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func readAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}
	var eb server.ErrorBody
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
		apiErr.Code, apiErr.Message = eb.Code, eb.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

// LoadNode resolves ref on the daemon.
func (c *Client) LoadNode(ctx context.Context, ref node.Ref) (*node.Node, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	var n node.Node
	if _, err := c.do(ctx, http.MethodGet, "/nodes/"+url.PathEscape(ref.String()), nil, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// Files lists the repository files of the node behind ref.
func (c *Client) Files(ctx context.Context, ref node.Ref) ([]string, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	var names []string
	if _, err := c.do(ctx, http.MethodGet, "/nodes/"+url.PathEscape(ref.String())+"/files", nil, &names); err != nil {
		return nil, err
	}
	return names, nil
}

// File downloads one repository file of the node behind ref.
func (c *Client) File(ctx context.Context, ref node.Ref, name string) ([]byte, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	path := "/nodes/" + url.PathEscape(ref.String()) + "/files/" + url.PathEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, readAPIError(resp)
	}
	return io.ReadAll(resp.Body)
}

// Submit sends the bundle by handle and returns once the daemon has queued it.
func (c *Client) Submit(ctx context.Context, b *calc.Bundle) (node.JobHandle, error) {
	var h node.JobHandle
	if _, err := c.do(ctx, http.MethodPost, "/processes", b.Request(), &h); err != nil {
		return node.JobHandle{}, err
	}
	return h, nil
}

func (c *Client) CreateNode(ctx context.Context, n *node.Node) (*node.Node, error) {
	var created node.Node
	if _, err := c.do(ctx, http.MethodPost, "/nodes", n, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) Process(ctx context.Context, pk int64) (*node.Node, error) {
	var n node.Node
	if _, err := c.do(ctx, http.MethodGet, "/processes/"+strconv.FormatInt(pk, 10), nil, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// NextJob asks for work on behalf of agentID. It returns nil when the queue
// is empty.
func (c *Client) NextJob(ctx context.Context, agentID string) (*engine.Job, error) {
	var job engine.Job
	status, err := c.do(ctx, http.MethodGet, "/agents/"+url.PathEscape(agentID)+"/jobs/next", nil, &job)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	return &job, nil
}

func (c *Client) Complete(ctx context.Context, pk int64, res engine.Result) (*node.Node, error) {
	var n node.Node
	path := "/processes/" + strconv.FormatInt(pk, 10) + "/result"
	if _, err := c.do(ctx, http.MethodPost, path, res, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// Verify asks the daemon to check its ledger.
func (c *Client) Verify(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/ledger/verify", nil, nil)
	return err
}

func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/healthz", nil, nil)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("daemon at %s unreachable: %w", c.baseURL, err)
	}
	return err
}
