package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrProviderUnavailable = errors.New("provider_unavailable")

// ErrNotFound distinguishes "resource does not exist" from transport
// failures; callers translate it into a nil domain response.
var errNotFound = errors.New("not_found")

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// httpClient is the shared transport for the collaborator services.
type httpClient struct {
	baseURL string
	client  *http.Client
}

func newHTTPClient(baseURL string, timeoutMS int) *httpClient {
	if timeoutMS <= 0 {
		timeoutMS = 5000
	}
	return &httpClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: time.Duration(timeoutMS) * time.Millisecond},
	}
}

func (c *httpClient) getJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out, "")
}

func (c *httpClient) postJSON(ctx context.Context, path string, body any, out any, idempotencyKey string) error {
	return c.doJSON(ctx, http.MethodPost, path, body, out, idempotencyKey)
}

func (c *httpClient) doJSON(
	ctx context.Context,
	method string,
	path string,
	body any,
	out any,
	idempotencyKey string,
) error {
	if c.baseURL == "" {
		return ErrProviderUnavailable
	}

	var bodyReader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil {
			message := apiErr.Message
			if message == "" {
				message = apiErr.Error
			}
			if message != "" {
				return fmt.Errorf("%w: %s (%d)", ErrProviderUnavailable, message, resp.StatusCode)
			}
		}
		return fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
