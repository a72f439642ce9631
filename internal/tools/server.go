package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/haasonsaas/reviewd/pkg/models"
)

// healthProbeTimeout bounds hosted-tool liveness probes.
const healthProbeTimeout = 2 * time.Second

// ServerTool adapts a hosted-server analyzer process to the Tool
// interface. It posts the analysis context to the process and validates
// the returned result against the wire contract.
type ServerTool struct {
	desc    models.ToolDescriptor
	baseURL string
	client  *http.Client
}

// ServerToolOption configures a ServerTool.
type ServerToolOption func(*ServerTool)

// WithHTTPClient overrides the transport, used by tests.
func WithHTTPClient(client *http.Client) ServerToolOption {
	return func(t *ServerTool) {
		if client != nil {
			t.client = client
		}
	}
}

// NewServerTool creates a tool backed by a hosted process listening at
// baseURL. The descriptor's kind is forced to hosted_server.
func NewServerTool(desc models.ToolDescriptor, baseURL string, opts ...ServerToolOption) *ServerTool {
	desc.Kind = models.ToolHostedServer
	t := &ServerTool{
		desc:    desc,
		baseURL: baseURL,
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Descriptor implements Tool.
func (t *ServerTool) Descriptor() models.ToolDescriptor {
	return t.desc
}

// Execute implements Tool. The response body must satisfy the result
// contract; anything else surfaces as ErrMalformedOutput.
func (t *ServerTool) Execute(ctx context.Context, ac *models.AnalysisContext) (*models.ToolResult, error) {
	payload, err := json.Marshal(ac)
	if err != nil {
		return nil, fmt.Errorf("encode analysis context: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/execute", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrToolUnavailable, t.desc.ID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read tool response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d", ErrToolUnavailable, t.desc.ID, resp.StatusCode)
	}

	result, err := DecodeResult(body)
	if err != nil {
		return nil, err
	}
	if result.ToolID != t.desc.ID {
		return nil, fmt.Errorf("%w: result tool_id %q does not match %q", ErrMalformedOutput, result.ToolID, t.desc.ID)
	}
	return result, nil
}

// HealthCheck implements Tool with the 2s probe deadline.
func (t *ServerTool) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrToolUnavailable, t.desc.ID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<10))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s health returned %d", ErrToolUnavailable, t.desc.ID, resp.StatusCode)
	}
	return nil
}
