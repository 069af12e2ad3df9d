// Package trigger invokes the scan trigger service over HTTP.
package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/imroc/req/v3"

	"imagewatch/internal/ports"
)

var _ ports.Trigger = HTTPClient{}

type HTTPClient struct {
	client *req.Client
}

// NewHTTPClient returns a trigger that POSTs to {baseURL}/functions/{name}.
// Server errors and transport failures are retried.
func NewHTTPClient(baseURL, token string, retries int, timeout time.Duration) HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	commonHeaders := map[string]string{"Content-Type": "application/json"}
	if token != "" {
		commonHeaders["Authorization"] = "Bearer " + token
	}
	client := req.C().
		SetBaseURL(baseURL).
		SetCommonHeaders(commonHeaders).
		SetTimeout(timeout).
		SetCommonRetryBackoffInterval(200*time.Millisecond, 2*time.Second).
		SetCommonRetryCount(retries).
		SetCommonRetryCondition(func(resp *req.Response, err error) bool {
			return err != nil || (resp != nil && resp.StatusCode >= 500)
		})
	return HTTPClient{client: client}
}

func (c HTTPClient) Invoke(ctx context.Context, name string) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]string{}).
		Post("/functions/" + name)
	if err != nil {
		return fmt.Errorf("failed to invoke %s: %w", name, err)
	}
	if resp.IsErrorState() {
		return fmt.Errorf("error invoking %s: status %d, body %s", name, resp.StatusCode, resp.String())
	}
	return nil
}
