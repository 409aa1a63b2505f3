package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mo3789530/wasmatrix/internal/wire"
)

// NodeTransport is the routing service's collaborator for speaking
// NodeAgentService RPCs over the wire. Dispatch and tests both go through
// this interface rather than a concrete HTTP client, so the JSON/HTTP
// codec can be swapped without touching dispatch logic.
type NodeTransport interface {
	StartInstance(ctx context.Context, address string, req wire.StartInstanceRequest) (wire.StartInstanceResponse, error)
	StopInstance(ctx context.Context, address, instanceID string) (wire.StopInstanceResponse, error)
	QueryInstance(ctx context.Context, address, instanceID string) (wire.QueryInstanceResponse, error)
	ListInstances(ctx context.Context, address string) (wire.ListInstancesResponse, error)
}

// HTTPTransport is the default NodeTransport, a thin JSON/HTTP client
// against the routes internal/nodeagent/server registers.
type HTTPTransport struct {
	Client *http.Client
}

var _ NodeTransport = (*HTTPTransport)(nil)

// NewHTTPTransport constructs a transport with a bounded per-request
// timeout.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPTransport{Client: &http.Client{Timeout: timeout}}
}

func (t *HTTPTransport) StartInstance(ctx context.Context, address string, req wire.StartInstanceRequest) (wire.StartInstanceResponse, error) {
	var resp wire.StartInstanceResponse
	err := t.do(ctx, http.MethodPost, address+"/v1/instances", req, &resp)
	return resp, err
}

func (t *HTTPTransport) StopInstance(ctx context.Context, address, instanceID string) (wire.StopInstanceResponse, error) {
	var resp wire.StopInstanceResponse
	err := t.do(ctx, http.MethodDelete, address+"/v1/instances/"+instanceID, nil, &resp)
	return resp, err
}

func (t *HTTPTransport) QueryInstance(ctx context.Context, address, instanceID string) (wire.QueryInstanceResponse, error) {
	var resp wire.QueryInstanceResponse
	err := t.do(ctx, http.MethodGet, address+"/v1/instances/"+instanceID, nil, &resp)
	return resp, err
}

func (t *HTTPTransport) ListInstances(ctx context.Context, address string) (wire.ListInstancesResponse, error) {
	var resp wire.ListInstancesResponse
	err := t.do(ctx, http.MethodGet, address+"/v1/instances", nil, &resp)
	return resp, err
}

func (t *HTTPTransport) do(ctx context.Context, method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("routing transport: marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("routing transport: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := t.Client.Do(req)
	if err != nil {
		return fmt.Errorf("routing transport: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("routing transport: unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("routing transport: decode response: %w", err)
	}
	return nil
}
