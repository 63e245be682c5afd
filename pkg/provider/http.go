package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/paddockhq/paddock/pkg/types"
)

// HTTPGateway bridges to a provisioning service over HTTP. The concrete
// cloud provider clients (DigitalOcean, AWS, ...) live behind that
// service; this gateway only normalizes its responses.
type HTTPGateway struct {
	endpoint string
	client   *http.Client
}

// NewHTTPGateway creates a gateway against the given base URL.
func NewHTTPGateway(endpoint string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPGateway{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type callRequest struct {
	Action     string `json:"action"`
	ServerID   string `json:"server_id"`
	Provider   string `json:"provider"`
	InstanceID string `json:"instance_id"`
	Region     string `json:"region"`
	SizeRaw    string `json:"size_raw,omitempty"`
}

type callResponse struct {
	Status   string `json:"status"`
	ActionID string `json:"action_id"`
	Error    string `json:"error"`
}

// Call starts an action against the server's provider instance.
func (g *HTTPGateway) Call(ctx context.Context, action string, server *types.Server) (Result, error) {
	size := server.SizeRaw
	if action == types.ActionResize && server.PendingSizeRaw != "" {
		size = server.PendingSizeRaw
	}
	req := callRequest{
		Action:     action,
		ServerID:   server.ID,
		Provider:   server.Provider,
		InstanceID: server.ProviderInstanceID,
		Region:     server.Region,
		SizeRaw:    size,
	}
	return g.post(ctx, g.endpoint+"/v1/actions", req)
}

// Status polls a previously returned action token.
func (g *HTTPGateway) Status(ctx context.Context, actionID string) (Result, error) {
	return g.post(ctx, g.endpoint+"/v1/actions/status", map[string]string{"action_id": actionID})
}

func (g *HTTPGateway) post(ctx context.Context, url string, body any) (Result, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("provider call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read provider response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed callResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Result{}, fmt.Errorf("decode provider response: %w", err)
	}
	if parsed.Error != "" {
		return Result{}, fmt.Errorf("provider error: %s", parsed.Error)
	}
	return Result{Status: parsed.Status, ActionID: parsed.ActionID}, nil
}
