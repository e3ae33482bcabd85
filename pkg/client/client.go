// Package client talks to a running tagrunner daemon.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"

	"github.com/lumeview/tagrunner/pkg/batch"
	"github.com/lumeview/tagrunner/pkg/server"
)

var (
	ErrNotFound           = errors.New("model not found")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// Version is the CLI version reported in the User-Agent header. Set at
// build time.
var Version = "dev"

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: http.DefaultClient}
}

// Status reports whether the daemon is reachable and its self-reported
// state.
type Status struct {
	Running bool
	Info    server.StatusResponse
	Error   error
}

func (c *Client) Status(ctx context.Context) Status {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/status", nil)
	if err != nil {
		if errors.Is(err, ErrServiceUnavailable) {
			return Status{Running: false}
		}
		return Status{Running: false, Error: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Status{Running: false, Error: fmt.Errorf("unexpected status code: %d", resp.StatusCode)}
	}

	var info server.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return Status{Running: true, Error: fmt.Errorf("failed to decode status body: %w", err)}
	}
	return Status{Running: true, Info: info}
}

func (c *Client) List(ctx context.Context) ([]server.ModelInfo, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/models", nil)
	if err != nil {
		return nil, c.handleQueryError(err, "/api/models")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to list models: %s", resp.Status)
	}

	var models []server.ModelInfo
	if err := json.NewDecoder(resp.Body).Decode(&models); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response body: %w", err)
	}
	return models, nil
}

func (c *Client) Inspect(ctx context.Context, model string) (server.ModelInfo, error) {
	path := "/api/models/" + model
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return server.ModelInfo{}, c.handleQueryError(err, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound {
			return server.ModelInfo{}, errors.Wrap(ErrNotFound, model)
		}
		return server.ModelInfo{}, fmt.Errorf("failed to inspect %s: %s", model, resp.Status)
	}

	var info server.ModelInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return server.ModelInfo{}, fmt.Errorf("failed to unmarshal response body: %w", err)
	}
	return info, nil
}

// Install downloads a model on the daemon, rendering the streamed
// progress records through printer.
func (c *Client) Install(ctx context.Context, model string, printer StatusPrinter) error {
	path := "/api/models/" + model + "/install"
	resp, err := c.doRequest(ctx, http.MethodPost, path, nil)
	if err != nil {
		return c.handleQueryError(err, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusNotFound {
			return errors.Wrap(ErrNotFound, model)
		}
		return fmt.Errorf("installing %s failed with status %s: %s", model, resp.Status, string(body))
	}

	return DisplayProgress(resp.Body, printer)
}

func (c *Client) Remove(ctx context.Context, model string) error {
	path := "/api/models/" + model
	resp, err := c.doRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return c.handleQueryError(err, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errors.Wrap(ErrNotFound, model)
	}
	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("removing %s failed with status %s: %s", model, resp.Status, string(body))
	}
	return nil
}

// Batch starts a batch run and returns the raw event stream plus a
// cancel function that aborts the transport. The caller feeds the
// stream to a batch.Consumer.
func (c *Client) Batch(ctx context.Context, req batch.Request) (io.ReadCloser, func(), error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, nil, fmt.Errorf("error marshaling request: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/api/batch", bytes.NewReader(jsonData))
	if err != nil {
		return nil, nil, c.handleQueryError(err, "/api/batch")
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, nil, fmt.Errorf("batch request failed with status %s: %s", resp.Status, string(body))
	}

	cancel := func() {
		resp.Body.Close()
	}
	return resp.Body, cancel, nil
}

// doRequest is a helper that performs HTTP requests and maps 503
// responses to ErrServiceUnavailable.
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "tagrunner-cli/"+Version)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		// A local daemon that cannot be reached is simply not running.
		return nil, ErrServiceUnavailable
	}

	if resp.StatusCode == http.StatusServiceUnavailable {
		resp.Body.Close()
		return nil, ErrServiceUnavailable
	}
	return resp, nil
}

func (c *Client) handleQueryError(err error, path string) error {
	if errors.Is(err, ErrServiceUnavailable) {
		return ErrServiceUnavailable
	}
	return fmt.Errorf("error querying %s: %w", path, err)
}
