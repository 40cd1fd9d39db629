package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/medport-labs/medvoice-core/internal/config"
	"github.com/medport-labs/medvoice-core/internal/identity"
	"github.com/medport-labs/medvoice-core/internal/intent"
)

// ServerError carries a failure message supplied by the actions endpoint, as
// opposed to a transport-level failure.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return e.Message }

type actionRequest struct {
	UserID  string            `json:"user_id"`
	Command string            `json:"command"`
	Parsed  map[string]string `json:"parsed"`
}

type actionResponse struct {
	Reply string `json:"reply,omitempty"`
	Error string `json:"error,omitempty"`
}

// ActionClient invokes the portal's remote action endpoint.
type ActionClient struct {
	endpoint string
	client   *http.Client
}

func NewActionClient(cfg config.ActionsConfig) *ActionClient {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ActionClient{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Invoke posts the command and parsed slots with the caller's bearer token
// and returns the server reply text. Non-2xx responses and payloads carrying
// an error field both fail; a *ServerError preserves the server's message.
func (c *ActionClient) Invoke(ctx context.Context, auth *identity.AuthContext, command intent.Command, parsed map[string]string) (string, error) {
	if parsed == nil {
		parsed = map[string]string{}
	}
	payload := actionRequest{
		UserID:  auth.UserID,
		Command: string(command),
		Parsed:  parsed,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+auth.Token)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out actionResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && out.Error != "" {
			return "", &ServerError{Message: out.Error}
		}
		return "", fmt.Errorf("actions endpoint returned status %s", resp.Status)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode actions response: %w", decodeErr)
	}
	if out.Error != "" {
		return "", &ServerError{Message: out.Error}
	}
	return out.Reply, nil
}
